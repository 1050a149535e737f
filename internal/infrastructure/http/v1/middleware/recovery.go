// Package middleware provides HTTP middleware components.
package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"backoffice/internal/core/apperror"
	"backoffice/pkg/logger"
)

// Recovery turns a panic into a 500 envelope. The stack trace is logged only.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error(c.Request.Context(), "panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
				)
				if c.Writer.Written() {
					c.Abort()
					return
				}
				RenderError(c, apperror.NewInternal(fmt.Errorf("panic: %v", rec)).
					WithDetail("request_id", c.GetString(ctxRequestID)))
			}
		}()
		c.Next()
	}
}
