// Package search runs web searches for research tasks.
package search

import (
	"context"
	"fmt"
)

// Depth selects how much content a search returns per result.
type Depth string

const (
	// DepthBasic returns engine snippets only
	DepthBasic Depth = "basic"
	// DepthAdvanced replaces snippets with an excerpt of the fetched page
	DepthAdvanced Depth = "advanced"
)

// ParseDepth validates a depth string; empty means basic.
func ParseDepth(s string) (Depth, error) {
	switch Depth(s) {
	case "", DepthBasic:
		return DepthBasic, nil
	case DepthAdvanced:
		return DepthAdvanced, nil
	default:
		return "", fmt.Errorf("invalid search depth %q (want basic or advanced)", s)
	}
}

// Result is a single web search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher runs a web search.
type Searcher interface {
	Search(ctx context.Context, query string, depth Depth) ([]Result, error)
}
