package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jonathan/research-orchestrator/internal/fetch"
	"github.com/jonathan/research-orchestrator/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

func newTestSearcher(t *testing.T, handler http.HandlerFunc, opts ...GoogleOption) *GoogleSearcher {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	svc, err := customsearch.NewService(context.Background(),
		option.WithEndpoint(server.URL+"/"),
		option.WithHTTPClient(server.Client()),
	)
	require.NoError(t, err)
	return newGoogleSearcher(svc, "test-cx", opts...)
}

func writeItems(w http.ResponseWriter, items ...map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
}

type stubPages map[string]string

func (s stubPages) Fetch(_ context.Context, url string) (*fetch.Page, error) {
	text, ok := s[url]
	if !ok {
		return nil, errors.New("unreachable")
	}
	return &fetch.Page{URL: url, Text: text}, nil
}

func TestGoogleSearcher_Basic(t *testing.T) {
	var gotQuery, gotNum string
	s := newTestSearcher(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotNum = r.URL.Query().Get("num")
		writeItems(w,
			map[string]string{"title": "A", "link": "https://a.example/x", "snippet": " first "},
			map[string]string{"title": "A again", "link": "https://www.a.example/x/", "snippet": "dup"},
			map[string]string{"title": "B", "link": "https://b.example", "snippet": "second"},
		)
	}, WithResultsPerQuery(5))

	results, err := s.Search(context.Background(), "quantum error correction", DepthBasic)
	require.NoError(t, err)
	assert.Equal(t, "quantum error correction", gotQuery)
	assert.Equal(t, "5", gotNum)
	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].Snippet)
	assert.Equal(t, "https://b.example", results[1].URL)
}

func TestGoogleSearcher_AdvancedUsesPageText(t *testing.T) {
	pages := stubPages{"https://a.example": "A much longer page body describing logical qubit overheads in detail."}
	s := newTestSearcher(t, func(w http.ResponseWriter, _ *http.Request) {
		writeItems(w,
			map[string]string{"title": "A", "link": "https://a.example", "snippet": "short"},
			map[string]string{"title": "B", "link": "https://b.example", "snippet": "kept snippet"},
		)
	}, WithPageSource(pages))

	results, err := s.Search(context.Background(), "q", DepthAdvanced)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Contains(t, results[0].Snippet, "logical qubit overheads")
	assert.Equal(t, "kept snippet", results[1].Snippet)
}

func TestGoogleSearcher_ClientErrorIsPermanent(t *testing.T) {
	s := newTestSearcher(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"bad cx"}}`))
	})

	_, err := s.Search(context.Background(), "q", DepthBasic)
	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err))
}

func TestGoogleSearcher_EmptyQuery(t *testing.T) {
	s := newTestSearcher(t, func(w http.ResponseWriter, _ *http.Request) { writeItems(w) })
	_, err := s.Search(context.Background(), "   ", DepthBasic)
	assert.True(t, retry.IsPermanent(err))
}
