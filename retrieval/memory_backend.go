package retrieval

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hoferino/manda-platform-sub000/types"
)

// MemoryBackend is an in-process search backend holding one corpus per
// scope. It serves local development (the in-process-only feature flag)
// and tests. Scoring is query-term overlap, deterministic and cheap.
type MemoryBackend struct {
	name    string
	mu      sync.RWMutex
	corpora map[string][]memoryDoc
	logger  *zap.Logger
}

type memoryDoc struct {
	content     string
	sourceLabel string
	sourcePage  int
	terms       map[string]struct{}
}

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend(name string, logger *zap.Logger) *MemoryBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if name == "" {
		name = "memory"
	}
	return &MemoryBackend{
		name:    name,
		corpora: make(map[string][]memoryDoc),
		logger:  logger.With(zap.String("component", "memory_backend")),
	}
}

// Name returns the backend name.
func (b *MemoryBackend) Name() string {
	return b.name
}

// Add indexes content under scopeID with the given provenance.
func (b *MemoryBackend) Add(scopeID, content, sourceLabel string, sourcePage int) {
	terms := make(map[string]struct{})
	for _, term := range tokenize(content) {
		terms[term] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.corpora[scopeID] = append(b.corpora[scopeID], memoryDoc{
		content:     content,
		sourceLabel: sourceLabel,
		sourcePage:  sourcePage,
		terms:       terms,
	})
}

// Search scores the scope's corpus by query-term overlap. Only the corpus
// registered under scopeID is ever consulted.
func (b *MemoryBackend) Search(ctx context.Context, query, scopeID string, numResults int) ([]types.KnowledgeItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return []types.KnowledgeItem{}, nil
	}

	b.mu.RLock()
	docs := b.corpora[scopeID]
	b.mu.RUnlock()

	items := make([]types.KnowledgeItem, 0, len(docs))
	for _, doc := range docs {
		matched := 0
		for _, term := range queryTerms {
			if _, ok := doc.terms[term]; ok {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		items = append(items, types.KnowledgeItem{
			Content:     doc.content,
			Score:       float64(matched) / float64(len(queryTerms)),
			SourceLabel: doc.sourceLabel,
			SourcePage:  doc.sourcePage,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Score > items[j].Score
	})
	if numResults > 0 && len(items) > numResults {
		items = items[:numResults]
	}
	return items, nil
}

// tokenize lowercases and splits on whitespace.
func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}
