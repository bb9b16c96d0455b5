package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")

	id, ok := RequestID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-1", id)
}

func TestScopeIDRoundTrip(t *testing.T) {
	ctx := WithScopeID(context.Background(), "deal-42")

	id, ok := ScopeID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "deal-42", id)
}

func TestMissingValues(t *testing.T) {
	_, ok := RequestID(context.Background())
	assert.False(t, ok)

	_, ok = ScopeID(context.Background())
	assert.False(t, ok)

	_, ok = RequestID(WithRequestID(context.Background(), ""))
	assert.False(t, ok, "empty identifiers read as absent")
}
