// Package graph wraps the Neo4j driver with a small query interface and
// helpers for building parameterised Cypher.
package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Record is one result row keyed by return column. Graph nodes and
// relationships are flattened to their property maps.
type Record map[string]any

// Querier runs Cypher and returns flattened records.
type Querier interface {
	Query(ctx context.Context, cypher string, params map[string]any) ([]Record, error)
}

// Conn is a Querier backed by a Neo4j driver.
type Conn struct {
	driver   neo4j.DriverWithContext
	database string
	log      *zap.Logger
}

// Options configure a connection.
type Options struct {
	URI      string
	User     string
	Password string
	Database string
}

// Connect opens a driver and verifies the server is reachable.
func Connect(ctx context.Context, opts Options, log *zap.Logger) (*Conn, error) {
	if log == nil {
		log = zap.NewNop()
	}
	driver, err := neo4j.NewDriverWithContext(opts.URI, neo4j.BasicAuth(opts.User, opts.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create the driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connecting to %s: %w", opts.URI, err)
	}
	log.Info("Connected to graph", zap.String("uri", opts.URI), zap.String("database", opts.Database))
	return &Conn{driver: driver, database: opts.Database, log: log}, nil
}

func (c *Conn) Query(ctx context.Context, cypher string, params map[string]any) ([]Record, error) {
	opts := []neo4j.ExecuteQueryConfigurationOption{}
	if c.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(c.database))
	}
	result, err := neo4j.ExecuteQuery(ctx, c.driver, cypher, params, neo4j.EagerResultTransformer, opts...)
	if err != nil {
		c.log.Warn("Query failed", zap.String("cypher", cypher), zap.Error(err))
		return nil, fmt.Errorf("query failed: %w", err)
	}
	records := make([]Record, 0, len(result.Records))
	for _, rec := range result.Records {
		row := make(Record, len(rec.Keys))
		for i, key := range rec.Keys {
			row[key] = flatten(rec.Values[i])
		}
		records = append(records, row)
	}
	return records, nil
}

// Count reports the number of nodes in the database.
func (c *Conn) Count(ctx context.Context) (int64, error) {
	recs, err := c.Query(ctx, "MATCH (n) RETURN count(n) AS n", nil)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}
	n, _ := recs[0]["n"].(int64)
	return n, nil
}

func (c *Conn) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func flatten(v any) any {
	switch t := v.(type) {
	case neo4j.Node:
		return copyProps(t.Props)
	case neo4j.Relationship:
		return copyProps(t.Props)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = flatten(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = flatten(e)
		}
		return out
	default:
		return v
	}
}

func copyProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
