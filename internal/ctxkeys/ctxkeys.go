// Package ctxkeys carries request-scoped identifiers through context.
package ctxkeys

import "context"

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	scopeIDKey   contextKey = "scope_id"
)

// WithRequestID attaches the per-request identifier.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the per-request identifier, if set.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithScopeID attaches the tenant/deal scope.
func WithScopeID(ctx context.Context, scopeID string) context.Context {
	return context.WithValue(ctx, scopeIDKey, scopeID)
}

// ScopeID returns the tenant/deal scope, if set.
func ScopeID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(scopeIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
