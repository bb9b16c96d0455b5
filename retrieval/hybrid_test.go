package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hoferino/manda-platform-sub000/types"
)

// stubBackend returns canned items or a canned error and records calls.
type stubBackend struct {
	name  string
	items []types.KnowledgeItem
	err   error
	calls int
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Search(ctx context.Context, query, scopeID string, numResults int) ([]types.KnowledgeItem, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.items, nil
}

func item(content, source string, score float64) types.KnowledgeItem {
	return types.KnowledgeItem{Content: content, Score: score, SourceLabel: source}
}

func newTestRetriever(t *testing.T, primary, fallback SearchBackend) *HybridRetriever {
	t.Helper()
	r, err := NewHybridRetriever(DefaultConfig(), primary, fallback, zap.NewNop())
	require.NoError(t, err)
	return r
}

func TestRetrievePrimaryHit(t *testing.T) {
	primary := &stubBackend{name: "graph", items: []types.KnowledgeItem{
		item("Q3 revenue was $5.2M", "financials.pdf", 0.92),
	}}
	fallback := &stubBackend{name: "vector"}
	r := newTestRetriever(t, primary, fallback)

	result, err := r.Retrieve(context.Background(), "q3 revenue", "deal-1", 5, Options{})
	require.NoError(t, err)
	assert.Equal(t, types.TierPrimary, result.Tier)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "Q3 revenue was $5.2M", result.Items[0].Content)
	assert.Zero(t, fallback.calls, "fallback must not be queried on a primary hit")
}

func TestRetrieveFallbackOnEmptyPrimary(t *testing.T) {
	primary := &stubBackend{name: "graph"}
	fallback := &stubBackend{name: "vector", items: []types.KnowledgeItem{
		item("chunk one", "cim.pdf", 0.8),
		item("chunk two", "cim.pdf", 0.7),
		item("chunk three", "cim.pdf", 0.6),
	}}
	r := newTestRetriever(t, primary, fallback)

	result, err := r.Retrieve(context.Background(), "anything", "deal-1", 5, Options{})
	require.NoError(t, err)
	assert.Equal(t, types.TierFallback, result.Tier)
	assert.Len(t, result.Items, 3)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestRetrieveFallbackOnPrimaryError(t *testing.T) {
	primary := &stubBackend{name: "graph", err: errors.New("graph index offline")}
	fallback := &stubBackend{name: "vector", items: []types.KnowledgeItem{
		item("chunk", "cim.pdf", 0.8),
	}}
	r := newTestRetriever(t, primary, fallback)

	result, err := r.Retrieve(context.Background(), "anything", "deal-1", 5, Options{})
	require.NoError(t, err, "primary fault degrades to fallback, not an error")
	assert.Equal(t, types.TierFallback, result.Tier)
	assert.Len(t, result.Items, 1)
}

func TestRetrieveForceFallbackOnly(t *testing.T) {
	primary := &stubBackend{name: "graph", items: []types.KnowledgeItem{
		item("graph item", "graph.pdf", 0.9),
	}}
	fallback := &stubBackend{name: "vector", items: []types.KnowledgeItem{
		item("vector item", "chunks.pdf", 0.8),
	}}
	r := newTestRetriever(t, primary, fallback)

	result, err := r.Retrieve(context.Background(), "q", "deal-1", 5, Options{ForceFallbackOnly: true})
	require.NoError(t, err)
	assert.Equal(t, types.TierFallback, result.Tier)
	assert.Zero(t, primary.calls)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "vector item", result.Items[0].Content)
}

func TestRetrieveForcePrimaryOnly(t *testing.T) {
	primary := &stubBackend{name: "graph"}
	fallback := &stubBackend{name: "vector", items: []types.KnowledgeItem{
		item("vector item", "chunks.pdf", 0.8),
	}}
	r := newTestRetriever(t, primary, fallback)

	result, err := r.Retrieve(context.Background(), "q", "deal-1", 5, Options{ForcePrimaryOnly: true})
	require.NoError(t, err)
	assert.True(t, result.Empty())
	assert.Zero(t, fallback.calls)
}

func TestRetrieveBothTiersEmpty(t *testing.T) {
	r := newTestRetriever(t, &stubBackend{name: "graph"}, &stubBackend{name: "vector"})

	result, err := r.Retrieve(context.Background(), "q", "deal-1", 5, Options{})
	require.NoError(t, err, "empty everywhere is a valid result, not an error")
	assert.True(t, result.Empty())
}

func TestRetrieveAllTiersFailed(t *testing.T) {
	primary := &stubBackend{name: "graph", err: errors.New("down")}
	fallback := &stubBackend{name: "vector", err: errors.New("also down")}
	r := newTestRetriever(t, primary, fallback)

	result, err := r.Retrieve(context.Background(), "q", "deal-1", 5, Options{})
	assert.Error(t, err)
	assert.True(t, result.Empty())
}

func TestRetrieveScoreThresholdAndOrdering(t *testing.T) {
	primary := &stubBackend{name: "graph", items: []types.KnowledgeItem{
		item("low relevance noise", "a.pdf", 0.1),
		item("mid", "b.pdf", 0.5),
		item("high", "c.pdf", 0.9),
	}}
	r := newTestRetriever(t, primary, &stubBackend{name: "vector"})

	result, err := r.Retrieve(context.Background(), "q", "deal-1", 5, Options{})
	require.NoError(t, err)
	require.Len(t, result.Items, 2, "items under the 0.3 threshold are filtered")
	assert.Equal(t, "high", result.Items[0].Content)
	assert.Equal(t, "mid", result.Items[1].Content)
}

func TestRetrieveTruncatesToNumResults(t *testing.T) {
	var items []types.KnowledgeItem
	for i := 0; i < 20; i++ {
		items = append(items, item("content", "src.pdf", 0.9))
	}
	primary := &stubBackend{name: "graph", items: items}
	r := newTestRetriever(t, primary, &stubBackend{name: "vector"})

	result, err := r.Retrieve(context.Background(), "q", "deal-1", 3, Options{})
	require.NoError(t, err)
	assert.Len(t, result.Items, 3)
}

func TestRetrieveDropsItemsWithoutProvenance(t *testing.T) {
	primary := &stubBackend{name: "graph", items: []types.KnowledgeItem{
		{Content: "orphaned fact", Score: 0.9}, // no source label
		item("cited fact", "report.pdf", 0.8),
	}}
	r := newTestRetriever(t, primary, &stubBackend{name: "vector"})

	result, err := r.Retrieve(context.Background(), "q", "deal-1", 5, Options{})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "cited fact", result.Items[0].Content)
	assert.Equal(t, "report.pdf", result.Items[0].SourceLabel)
}

func TestNewHybridRetrieverRequiresBothBackends(t *testing.T) {
	_, err := NewHybridRetriever(DefaultConfig(), nil, &stubBackend{name: "vector"}, zap.NewNop())
	assert.Error(t, err)
	_, err = NewHybridRetriever(DefaultConfig(), &stubBackend{name: "graph"}, nil, zap.NewNop())
	assert.Error(t, err)
}

// recordingSink captures tier events for assertions.
type recordingSink struct {
	retrievals []string
	fallbacks  int
}

func (s *recordingSink) RecordRetrieval(tier, status string, _ time.Duration) {
	s.retrievals = append(s.retrievals, tier+"/"+status)
}

func (s *recordingSink) RecordTierFallback() { s.fallbacks++ }

func TestRetrieveReportsToMetricsSink(t *testing.T) {
	primary := &stubBackend{name: "graph"}
	fallback := &stubBackend{name: "vector", items: []types.KnowledgeItem{
		item("ARR is $12M", "metrics.xlsx", 0.8),
	}}
	r := newTestRetriever(t, primary, fallback)
	sink := &recordingSink{}
	r.SetMetrics(sink)

	_, err := r.Retrieve(context.Background(), "arr", "deal-1", 5, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"primary/ok", "fallback/ok"}, sink.retrievals)
	assert.Equal(t, 1, sink.fallbacks)
}

func TestRetrieveReportsTierErrorToMetricsSink(t *testing.T) {
	primary := &stubBackend{name: "graph", err: errors.New("graph index offline")}
	fallback := &stubBackend{name: "vector", items: []types.KnowledgeItem{
		item("ARR is $12M", "metrics.xlsx", 0.8),
	}}
	r := newTestRetriever(t, primary, fallback)
	sink := &recordingSink{}
	r.SetMetrics(sink)

	_, err := r.Retrieve(context.Background(), "arr", "deal-1", 5, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"primary/error", "fallback/ok"}, sink.retrievals)
	assert.Equal(t, 1, sink.fallbacks)
}
