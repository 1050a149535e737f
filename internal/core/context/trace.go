package context

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// TraceContext correlates the log lines of one request, or of one run of a
// background job.
type TraceContext struct {
	TraceID   string
	RequestID string

	// Job is set for runs not started by a request (drift checks, cleanup).
	Job string
}

type traceContextKey struct{}

// WithTrace adds TraceContext to context.
func WithTrace(ctx context.Context, tc *TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, tc)
}

// GetTrace returns TraceContext from context.
func GetTrace(ctx context.Context) *TraceContext {
	if v, ok := ctx.Value(traceContextKey{}).(*TraceContext); ok {
		return v
	}
	return nil
}

// GetRequestID returns request ID from context or empty string.
func GetRequestID(ctx context.Context) string {
	if t := GetTrace(ctx); t != nil {
		return t.RequestID
	}
	return ""
}

// SpanTraceID returns the OpenTelemetry trace ID of the span in ctx, or ""
// when no tracer is recording.
func SpanTraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// NewJobTrace starts a trace for one run of a background job.
func NewJobTrace(ctx context.Context, job string) context.Context {
	traceID := SpanTraceID(ctx)
	if traceID == "" {
		traceID = uuid.NewString()
	}
	return WithTrace(ctx, &TraceContext{
		TraceID:   traceID,
		RequestID: uuid.NewString(),
		Job:       job,
	})
}
