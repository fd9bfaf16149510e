// Package graphtest provides an in-memory graph.Querier for tests.
package graphtest

import (
	"context"
	"strings"
	"sync"

	"mind/pkg/graph"
)

// Call is one recorded query.
type Call struct {
	Cypher string
	Params map[string]any
}

type rule struct {
	contains string
	records  []graph.Record
	err      error
}

// Fake answers queries from rules matched by substring, first match wins.
// Unmatched queries return no records.
type Fake struct {
	mu    sync.Mutex
	rules []rule
	calls []Call
}

func New() *Fake { return &Fake{} }

// On answers queries containing substr with records.
func (f *Fake) On(substr string, records ...graph.Record) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{contains: substr, records: records})
	return f
}

// OnError fails queries containing substr.
func (f *Fake) OnError(substr string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{contains: substr, err: err})
	return f
}

func (f *Fake) Query(_ context.Context, cypher string, params map[string]any) ([]graph.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Cypher: cypher, Params: params})
	for _, r := range f.rules {
		if strings.Contains(cypher, r.contains) {
			if r.err != nil {
				return nil, r.err
			}
			return r.records, nil
		}
	}
	return []graph.Record{}, nil
}

// Calls returns the recorded queries in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Matching returns the recorded queries containing substr.
func (f *Fake) Matching(substr string) []Call {
	out := []Call{}
	for _, c := range f.Calls() {
		if strings.Contains(c.Cypher, substr) {
			out = append(out, c)
		}
	}
	return out
}
