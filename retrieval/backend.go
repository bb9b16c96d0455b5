package retrieval

import (
	"context"

	"github.com/hoferino/manda-platform-sub000/types"
)

// SearchBackend is a single retrieval tier. Implementations must scope
// every query by scopeID and never return items belonging to another
// scope, even when the underlying index is shared.
type SearchBackend interface {
	// Name identifies the backend in logs and spans.
	Name() string

	// Search returns up to numResults items for query within scopeID.
	// An empty slice is a valid answer. Transport and server faults are
	// returned as errors; the caller treats them as "no results".
	Search(ctx context.Context, query, scopeID string, numResults int) ([]types.KnowledgeItem, error)
}
