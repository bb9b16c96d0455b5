// Package retrieval implements two-tier knowledge search: a primary
// graph-aware store queried first, with automatic fallback to a
// chunk-level vector store when the primary yields nothing. Falling back
// is graceful degradation, not an error; the hook above this package only
// ever sees "result or empty".
package retrieval
