// Package handlers provides HTTP request handlers.
package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"backoffice/internal/core/apperror"
	"backoffice/internal/infrastructure/http/v1/dto"
	"backoffice/internal/infrastructure/http/v1/middleware"
)

// BaseHandler provides common handler utilities.
type BaseHandler struct{}

// NewBaseHandler creates a new base handler.
func NewBaseHandler() *BaseHandler {
	return &BaseHandler{}
}

// BindJSON binds the request body. Malformed JSON or mistyped fields fail the request.
func (h *BaseHandler) BindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		h.Error(c, apperror.NewValidation("invalid request body").WithDetail("error", err.Error()))
		return false
	}
	return true
}

// Error registers err on the gin context and aborts. middleware.ErrorHandler
// renders the response.
func (h *BaseHandler) Error(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// ParseIntQuery parses an integer query parameter. A malformed value is a
// validation error.
func (h *BaseHandler) ParseIntQuery(c *gin.Context, key string, defaultVal int) (int, bool) {
	val := strings.TrimSpace(c.Query(key))
	if val == "" {
		return defaultVal, true
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		h.Error(c, apperror.NewValidation(key+" must be an integer").WithDetail("field", key))
		return 0, false
	}
	return parsed, true
}

// ParseTimeQuery parses an RFC 3339 timestamp or a YYYY-MM-DD date. Returns
// nil when the parameter is absent.
func (h *BaseHandler) ParseTimeQuery(c *gin.Context, key string) (*time.Time, bool) {
	val := strings.TrimSpace(c.Query(key))
	if val == "" {
		return nil, true
	}
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, val); err == nil {
			t = t.UTC()
			return &t, true
		}
	}
	h.Error(c, apperror.NewValidation(key+" must be RFC 3339 or YYYY-MM-DD").WithDetail("field", key))
	return nil, false
}

// ParseBoolQuery parses a boolean query parameter.
func (h *BaseHandler) ParseBoolQuery(c *gin.Context, key string, defaultVal bool) (bool, bool) {
	val := strings.TrimSpace(c.Query(key))
	if val == "" {
		return defaultVal, true
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		h.Error(c, apperror.NewValidation(key+" must be true or false").WithDetail("field", key))
		return false, false
	}
	return b, true
}

// OK sends 200 with data in the success envelope.
func (h *BaseHandler) OK(c *gin.Context, data any, warnings ...apperror.Warning) {
	h.respond(c, http.StatusOK, dto.OK(data, warnings...))
}

// Created sends 201 with data in the success envelope.
func (h *BaseHandler) Created(c *gin.Context, data any, warnings ...apperror.Warning) {
	h.respond(c, http.StatusCreated, dto.OK(data, warnings...))
}

func (h *BaseHandler) respond(c *gin.Context, status int, body dto.Envelope) {
	middleware.CompleteIdempotency(c, status, "application/json", body)
	c.JSON(status, body)
}
