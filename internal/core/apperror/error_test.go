package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldErrors_CollectsEveryField(t *testing.T) {
	var fe FieldErrors
	require.NoError(t, fe.Err())

	fe.Add("warehouseName", "warehouse is required")
	fe.Add("quantity", "quantity must be positive")

	err := fe.Err()
	require.Error(t, err)

	appErr, ok := AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, CodeValidation, appErr.Code)
	assert.Equal(t, http.StatusBadRequest, appErr.HTTPStatus)
	assert.Equal(t, "warehouse is required; quantity must be positive", appErr.Message)
	assert.Equal(t, []string{"warehouseName", "quantity"}, fe.Fields())
	assert.Len(t, appErr.Details["fields"], 2)
}

func TestAsAppError_Wrapped(t *testing.T) {
	base := NewNoActiveWarehouse()
	wrapped := fmt.Errorf("resolve default: %w", base)

	assert.True(t, IsAppError(wrapped))
	assert.True(t, HasCode(wrapped, CodeNoActiveWarehouse))
	assert.Equal(t, http.StatusUnprocessableEntity, GetHTTPStatus(wrapped))
	assert.Equal(t, http.StatusInternalServerError, GetHTTPStatus(errors.New("boom")))
}

func TestAppError_UnwrapCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewUnavailable("database", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, "database", err.Details["component"])
}

func TestWarning_HasWarning(t *testing.T) {
	ws := []Warning{
		NewWarning(WarnProjectionStale, "stale").WithDetail("itemId", "I1"),
	}
	assert.True(t, HasWarning(ws, WarnProjectionStale))
	assert.False(t, HasWarning(ws, WarnNegativeBalance))
	assert.Equal(t, "I1", ws[0].Details["itemId"])
}
