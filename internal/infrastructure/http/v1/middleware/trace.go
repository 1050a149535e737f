package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appctx "backoffice/internal/core/context"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderTraceID   = "X-Trace-ID"
)

const (
	ctxRequestID = "request_id"
	ctxTraceID   = "trace_id"
)

// Trace propagates or generates request and trace ids. A trace id from an
// active OpenTelemetry span wins over a generated one.
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		traceID := c.GetHeader(HeaderTraceID)
		if traceID == "" {
			traceID = appctx.SpanTraceID(ctx)
		}
		if traceID == "" {
			traceID = uuid.NewString()
		}

		c.Request = c.Request.WithContext(appctx.WithTrace(ctx, &appctx.TraceContext{
			TraceID:   traceID,
			RequestID: requestID,
		}))

		c.Set(ctxTraceID, traceID)
		c.Set(ctxRequestID, requestID)
		c.Header(HeaderRequestID, requestID)
		c.Header(HeaderTraceID, traceID)

		c.Next()
	}
}
