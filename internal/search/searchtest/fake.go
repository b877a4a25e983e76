// Package searchtest provides a scripted search.Searcher for tests.
package searchtest

import (
	"context"
	"strings"
	"sync"

	"github.com/jonathan/research-orchestrator/internal/search"
)

// Fake answers queries from a fixed table. Queries with no entry get
// Default, or Err if set. A query containing a key of Errors fails with
// that error.
type Fake struct {
	mu      sync.Mutex
	Results map[string][]search.Result
	Errors  map[string]error
	Default []search.Result
	Err     error
	queries []string
}

var _ search.Searcher = (*Fake)(nil)

// Search implements search.Searcher.
func (f *Fake) Search(ctx context.Context, query string, _ search.Depth) ([]search.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}
	for k, err := range f.Errors {
		if strings.Contains(query, k) {
			return nil, err
		}
	}
	for k, v := range f.Results {
		if strings.Contains(query, k) {
			return append([]search.Result(nil), v...), nil
		}
	}
	return append([]search.Result(nil), f.Default...), nil
}

// Queries returns the queries seen so far.
func (f *Fake) Queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}
