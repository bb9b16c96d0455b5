package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHTTPBackendSearch(t *testing.T) {
	var gotReq searchRequest
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/search", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"content": "Q3 revenue was $5.2M", "score": 0.92, "source_label": "financials.pdf", "source_page": 12},
				{"content": "secondary note", "score": 0.55, "source_label": "notes.pdf"},
			},
		})
	}))
	defer server.Close()

	backend, err := NewHTTPBackend(HTTPBackendConfig{
		Name:    "knowledge_graph",
		BaseURL: server.URL,
		APIKey:  "secret",
	}, zap.NewNop())
	require.NoError(t, err)

	items, err := backend.Search(context.Background(), "q3 revenue", "deal-1", 5)
	require.NoError(t, err)

	assert.Equal(t, "q3 revenue", gotReq.Query)
	assert.Equal(t, "deal-1", gotReq.ScopeID)
	assert.Equal(t, 5, gotReq.NumResults)
	assert.Equal(t, "Bearer secret", gotAuth)

	require.Len(t, items, 2)
	assert.Equal(t, "Q3 revenue was $5.2M", items[0].Content)
	assert.Equal(t, 0.92, items[0].Score)
	assert.Equal(t, "financials.pdf", items[0].SourceLabel)
	assert.Equal(t, 12, items[0].SourcePage)
	assert.Zero(t, items[1].SourcePage)
}

func TestHTTPBackendServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index rebuilding", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	backend, err := NewHTTPBackend(HTTPBackendConfig{Name: "graph", BaseURL: server.URL}, zap.NewNop())
	require.NoError(t, err)

	_, err = backend.Search(context.Background(), "q", "deal-1", 5)
	assert.Error(t, err, "non-2xx is an error for the tier above to absorb")
}

func TestHTTPBackendTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	backend, err := NewHTTPBackend(HTTPBackendConfig{
		Name:    "graph",
		BaseURL: server.URL,
		Timeout: 30 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)

	_, err = backend.Search(context.Background(), "q", "deal-1", 5)
	assert.Error(t, err)
}

func TestHTTPBackendConfigValidation(t *testing.T) {
	_, err := NewHTTPBackend(HTTPBackendConfig{Name: "graph"}, zap.NewNop())
	assert.Error(t, err, "missing base_url must fail at construction")

	_, err = NewHTTPBackend(HTTPBackendConfig{BaseURL: "http://x"}, zap.NewNop())
	assert.Error(t, err, "missing name must fail at construction")
}
