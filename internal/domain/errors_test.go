package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIError(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		message   string
		details   string
		requestID string
		status    int
	}{
		{
			name:      "invalid query",
			code:      ErrInvalidInput,
			message:   "Invalid months parameter",
			details:   "months must be between 1 and 60",
			requestID: "req-123",
			status:    http.StatusBadRequest,
		},
		{
			name:      "bad override",
			code:      ErrValidation,
			message:   "invalid what_if: value must be finite",
			details:   "what_if",
			requestID: "req-234",
			status:    http.StatusBadRequest,
		},
		{
			name:      "database outage",
			code:      ErrDatabaseError,
			message:   "Patient data is temporarily unavailable",
			requestID: "req-456",
			status:    http.StatusServiceUnavailable,
		},
		{
			name:      "missing token",
			code:      ErrAuthentication,
			message:   "Authentication required",
			requestID: "req-789",
			status:    http.StatusUnauthorized,
		},
		{
			name:      "unknown code",
			code:      "SOMETHING_ELSE",
			message:   "Internal server error",
			requestID: "req-000",
			status:    http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewAPIError(tt.code, tt.message, tt.details, tt.requestID)

			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.details, err.Details)
			assert.Equal(t, tt.requestID, err.RequestID)
			assert.WithinDuration(t, time.Now(), err.Timestamp, time.Minute)
			assert.Equal(t, tt.code+": "+tt.message, err.Error())
			assert.Equal(t, tt.status, err.Status())
		})
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("months", "must be between 1 and 60", 61)

	assert.Equal(t, "invalid months: must be between 1 and 60", err.Error())
	assert.Equal(t, 61, err.Value)

	wrapped := fmt.Errorf("simulate p-1: %w", err)
	verr, ok := AsValidationError(wrapped)
	require.True(t, ok)
	assert.Equal(t, "months", verr.Field)

	_, ok = AsValidationError(errors.New("boom"))
	assert.False(t, ok)
}

func TestErrNotFoundWrapping(t *testing.T) {
	err := fmt.Errorf("patient profile p-1: %w", ErrNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
}
