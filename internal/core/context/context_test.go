package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveActor(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, SystemActor, ResolveActor(ctx, ""))

	ctx = WithUser(ctx, &UserContext{UserID: "cashier-7"})
	assert.Equal(t, "cashier-7", ResolveActor(ctx, "  "))
	assert.Equal(t, "manager-1", ResolveActor(ctx, "manager-1"))
}

func TestTraceContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestID(ctx))
	assert.Nil(t, GetTrace(ctx))
	assert.Empty(t, SpanTraceID(ctx))

	ctx = WithTrace(ctx, &TraceContext{TraceID: "t-1", RequestID: "r-1"})
	assert.Equal(t, "r-1", GetRequestID(ctx))
	assert.Empty(t, GetTrace(ctx).Job)
}

func TestNewJobTrace(t *testing.T) {
	ctx := NewJobTrace(context.Background(), "drift_check")

	tc := GetTrace(ctx)
	if assert.NotNil(t, tc) {
		assert.Equal(t, "drift_check", tc.Job)
		assert.NotEmpty(t, tc.TraceID)
		assert.NotEmpty(t, tc.RequestID)
	}

	other := GetTrace(NewJobTrace(context.Background(), "drift_check"))
	assert.NotEqual(t, tc.RequestID, other.RequestID)
}
