package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"backoffice/internal/core/apperror"
	"backoffice/internal/infrastructure/http/v1/dto"
	"backoffice/pkg/logger"
)

// ErrorHandler renders errors registered with c.Error as the failure envelope.
// Internal causes are logged, never sent to the client.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		RenderError(c, c.Errors.Last().Err)
	}
}

// RenderError writes the failure envelope for err and settles any pending
// idempotency key.
func RenderError(c *gin.Context, err error) {
	ctx := c.Request.Context()

	appErr, ok := apperror.AsAppError(err)
	if !ok {
		logger.Error(ctx, "unhandled error", "error", err)
		appErr = apperror.NewInternal(err).WithDetail("request_id", c.GetString(ctxRequestID))
	} else if appErr.Err != nil {
		logger.Error(ctx, "request error", "code", appErr.Code, "cause", appErr.Err)
	}

	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	body := dto.Fail(appErr)

	settleIdempotency(c, status, body)
	c.AbortWithStatusJSON(status, body)
}
