package graph

import (
	"context"
	"fmt"
)

// IDPair links a source identifier to a sink identifier.
type IDPair struct {
	Source string
	Sink   string
}

// IDLookup follows ID_LINK and HAS_RECORD edges from the source node with
// the given value to every reachable sink node.
func IDLookup(ctx context.Context, q Querier, sourceType, sinkType, id string) ([]IDPair, error) {
	if err := ValidLabel(sourceType); err != nil {
		return nil, err
	}
	if err := ValidLabel(sinkType); err != nil {
		return nil, err
	}
	cypher := fmt.Sprintf(
		"MATCH (source:%s)-[:ID_LINK|HAS_RECORD*]-(sink:%s) WHERE source.value = $id RETURN source.value AS source, sink.value AS sink",
		sourceType, sinkType)
	recs, err := q.Query(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	pairs := make([]IDPair, 0, len(recs))
	for _, r := range recs {
		pairs = append(pairs, IDPair{Source: fmt.Sprint(r["source"]), Sink: fmt.Sprint(r["sink"])})
	}
	return pairs, nil
}

// SinkIDs follows ID_LINK edges only and returns the sink values.
func SinkIDs(ctx context.Context, q Querier, sourceType, sinkType, id string) ([]string, error) {
	if err := ValidLabel(sourceType); err != nil {
		return nil, err
	}
	if err := ValidLabel(sinkType); err != nil {
		return nil, err
	}
	cypher := fmt.Sprintf(
		"MATCH (source:%s)-[:ID_LINK*]-(sink:%s) WHERE source.value = $id RETURN sink.value AS sink",
		sourceType, sinkType)
	return sinkValues(ctx, q, cypher, map[string]any{"id": id})
}

// CohortSinkIDs resolves a cohort node to the sink identifiers linked to
// its entries.
func CohortSinkIDs(ctx context.Context, q Querier, sourceType, sinkType, id string) ([]string, error) {
	if err := ValidLabel(sourceType); err != nil {
		return nil, err
	}
	if err := ValidLabel(sinkType); err != nil {
		return nil, err
	}
	cypher := fmt.Sprintf(
		"MATCH (source:%s)-[:COHORT_LINK*1..1]-(entry) WHERE source.value = $id MATCH (entry)-[:ID_LINK*]-(sink:%s) RETURN sink.value AS sink",
		sourceType, sinkType)
	return sinkValues(ctx, q, cypher, map[string]any{"id": id})
}

// AllSinkIDs returns the value of every node of the sink type.
func AllSinkIDs(ctx context.Context, q Querier, sinkType string) ([]string, error) {
	if err := ValidLabel(sinkType); err != nil {
		return nil, err
	}
	return sinkValues(ctx, q, fmt.Sprintf("MATCH (sink:%s) RETURN sink.value AS sink", sinkType), nil)
}

func sinkValues(ctx context.Context, q Querier, cypher string, params map[string]any) ([]string, error) {
	recs, err := q.Query(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, fmt.Sprint(r["sink"]))
	}
	return out, nil
}
