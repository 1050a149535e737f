package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	appctx "backoffice/internal/core/context"
)

func observed() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &Logger{zap.New(core).Sugar()}, logs
}

func TestFromContext_AddsTraceJobAndUser(t *testing.T) {
	l, logs := observed()

	ctx := WithLogger(context.Background(), l)
	ctx = appctx.WithTrace(ctx, &appctx.TraceContext{TraceID: "t-1", RequestID: "r-1", Job: "drift_check"})
	ctx = appctx.WithUser(ctx, &appctx.UserContext{UserID: "chef-7"})

	Info(ctx, "stock reconciled", "item_id", "flour")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "t-1", fields["trace_id"])
	assert.Equal(t, "r-1", fields["request_id"])
	assert.Equal(t, "drift_check", fields["job"])
	assert.Equal(t, "chef-7", fields["user_id"])
	assert.Equal(t, "flour", fields["item_id"])
}

func TestFromContext_BareContext(t *testing.T) {
	l, logs := observed()
	ctx := WithLogger(context.Background(), l.WithComponent("bus"))

	Warn(ctx, "handler failed")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, map[string]any{"component": "bus"}, entry.ContextMap())
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	l, err := New(Config{Level: "loud", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)
	assert.False(t, l.Desugar().Core().Enabled(zapcore.DebugLevel))
	assert.True(t, l.Desugar().Core().Enabled(zapcore.InfoLevel))
}
