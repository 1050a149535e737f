package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"backoffice/internal/core/apperror"
	appctx "backoffice/internal/core/context"
	"backoffice/internal/core/idempotency"
	"backoffice/pkg/logger"
)

const HeaderIdempotencyKey = "X-Idempotency-Key"

const maxIdempotencyBodyBytes = 1 << 20 // 1 MiB

const (
	ctxIdempotencyKey   = "idempotency_key"
	ctxIdempotencyStore = "idempotency_store"
)

// Idempotency replays the stored response when a mutating request repeats
// its X-Idempotency-Key. Requests without the header pass through.
func Idempotency(store idempotency.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
		default:
			c.Next()
			return
		}

		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxIdempotencyBodyBytes+1))
		if err != nil {
			_ = c.Error(apperror.NewValidation("could not read request body"))
			c.Abort()
			return
		}
		if len(body) > maxIdempotencyBodyBytes {
			appErr := apperror.NewValidation("request body too large for idempotency")
			appErr.HTTPStatus = http.StatusRequestEntityTooLarge
			_ = c.Error(appErr.WithDetail("max_bytes", maxIdempotencyBodyBytes))
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		hash := sha256.Sum256(body)

		ctx := c.Request.Context()
		operation := c.Request.Method + " " + c.FullPath()
		replay, err := store.AcquireKey(ctx, key, appctx.GetUserID(ctx), operation, hex.EncodeToString(hash[:]))
		if err != nil {
			if !apperror.IsAppError(err) {
				err = apperror.NewUnavailable("idempotency store", err)
			}
			_ = c.Error(err)
			c.Abort()
			return
		}

		if replay != nil {
			c.Header("Idempotent-Replayed", "true")
			c.Data(replay.StatusCode, replay.ContentType, replay.Body)
			c.Abort()
			return
		}

		c.Set(ctxIdempotencyKey, key)
		c.Set(ctxIdempotencyStore, store)
		c.Next()
	}
}

func pendingKey(c *gin.Context) (string, idempotency.Store, bool) {
	key, ok := c.Get(ctxIdempotencyKey)
	if !ok {
		return "", nil, false
	}
	store, ok := c.Get(ctxIdempotencyStore)
	if !ok {
		return "", nil, false
	}
	s, ok := store.(idempotency.Store)
	return key.(string), s, ok
}

// CompleteIdempotency stores a successful response for replay.
func CompleteIdempotency(c *gin.Context, statusCode int, contentType string, response any) {
	key, store, ok := pendingKey(c)
	if !ok {
		return
	}
	if err := store.CompleteKey(c.Request.Context(), key, statusCode, contentType, response); err != nil {
		logger.Warn(c.Request.Context(), "idempotency complete failed", "key", key, "error", err)
	}
}

// settleIdempotency records a client error for replay. Server errors release
// the key so the client can retry.
func settleIdempotency(c *gin.Context, statusCode int, response any) {
	key, store, ok := pendingKey(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	var err error
	if statusCode >= http.StatusInternalServerError {
		err = store.ReleaseKey(ctx, key)
	} else {
		err = store.FailKey(ctx, key, statusCode, "application/json", response)
	}
	if err != nil {
		logger.Warn(ctx, "idempotency settle failed", "key", key, "error", err)
	}
}
