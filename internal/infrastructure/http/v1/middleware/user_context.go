package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	appctx "backoffice/internal/core/context"
)

const (
	// HeaderUserID carries the user resolved by the upstream auth provider.
	HeaderUserID   = "X-User-ID"
	HeaderUserName = "X-User-Name"
)

// UserContext puts the upstream-authenticated user into the request context.
// Movements record it as the actor when the body names none.
func UserContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		if uid := strings.TrimSpace(c.GetHeader(HeaderUserID)); uid != "" {
			ctx := appctx.WithUser(c.Request.Context(), &appctx.UserContext{
				UserID:      uid,
				DisplayName: strings.TrimSpace(c.GetHeader(HeaderUserName)),
			})
			c.Request = c.Request.WithContext(ctx)
			c.Set("user_id", uid)
		}
		c.Next()
	}
}
