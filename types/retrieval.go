package types

// Tier identifies which retrieval path produced a result.
type Tier string

const (
	// TierPrimary is the graph-aware knowledge search, queried first.
	TierPrimary Tier = "primary"
	// TierFallback is the chunk-level vector search used when the
	// primary tier yields nothing.
	TierFallback Tier = "fallback"
)

// KnowledgeItem is a single retrieved fact or document chunk.
// SourceLabel is mandatory provenance; items without it cannot be cited
// and are dropped by the retriever.
type KnowledgeItem struct {
	Content     string  `json:"content"`
	Score       float64 `json:"score"`
	SourceLabel string  `json:"source_label"`
	SourcePage  int     `json:"source_page,omitempty"`
}

// HasPage reports whether the item carries a page-level citation.
func (k KnowledgeItem) HasPage() bool {
	return k.SourcePage > 0
}

// RetrievalResult is the fixed batch produced by a single retrieval call.
// Items are sorted descending by Score. An empty Items slice is a valid
// result, not an error.
type RetrievalResult struct {
	Items     []KnowledgeItem `json:"items"`
	Tier      Tier            `json:"tier"`
	LatencyMs int64           `json:"latency_ms"`
}

// Empty reports whether the result carries no items.
func (r RetrievalResult) Empty() bool {
	return len(r.Items) == 0
}
