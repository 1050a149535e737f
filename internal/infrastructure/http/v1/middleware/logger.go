package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"backoffice/pkg/logger"
)

// Logger attaches log to the request context and writes one access entry per
// request. Server errors log at error level, client errors at warn, and
// successful requests to skipPaths are not logged at all.
func Logger(log *logger.Logger, skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Request = c.Request.WithContext(logger.WithLogger(c.Request.Context(), log))

		c.Next()

		status := c.Writer.Status()
		if _, ok := skip[c.Request.URL.Path]; ok && status < http.StatusBadRequest {
			return
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		kv := []any{
			"method", c.Request.Method,
			"route", route,
			"path", c.Request.URL.Path,
			"status", status,
			"bytes", c.Writer.Size(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if q := c.Request.URL.RawQuery; q != "" {
			kv = append(kv, "query", q)
		}
		if key := c.GetHeader(HeaderIdempotencyKey); key != "" {
			kv = append(kv, "idempotency_key", key, "replayed", c.Writer.Header().Get("Idempotent-Replayed") == "true")
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			kv = append(kv, "error", errs.String())
		}

		l := log.WithContext(c.Request.Context())
		switch {
		case status >= http.StatusInternalServerError:
			l.Errorw("http request", kv...)
		case status >= http.StatusBadRequest:
			l.Warnw("http request", kv...)
		default:
			l.Infow("http request", kv...)
		}
	}
}
