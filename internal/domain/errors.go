package domain

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNotFound is returned by repositories when a record does not exist.
// Callers treat it as missing data, not as a failure.
var ErrNotFound = errors.New("not found")

// Error codes carried in API responses.
const (
	ErrInvalidInput   = "INVALID_INPUT"
	ErrValidation     = "VALIDATION_ERROR"
	ErrAuthentication = "AUTHENTICATION_ERROR"
	ErrDatabaseError  = "DATABASE_ERROR"
	ErrInternalServer = "INTERNAL_SERVER_ERROR"
)

// APIError is the JSON body of every failed request.
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Status returns the HTTP status for the error's code.
func (e *APIError) Status() int {
	return StatusForCode(e.Code)
}

// NewAPIError creates an APIError stamped with the current time.
func NewAPIError(code, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// StatusForCode maps an error code to its HTTP status. Unknown codes are
// internal errors.
func StatusForCode(code string) int {
	switch code {
	case ErrInvalidInput, ErrValidation:
		return http.StatusBadRequest
	case ErrAuthentication:
		return http.StatusUnauthorized
	case ErrDatabaseError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ValidationError reports a request value the engine cannot use, such as a
// non-finite what-if override or an out-of-range horizon.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError
func NewValidationError(field, message string, value any) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// AsValidationError reports whether err wraps a ValidationError.
func AsValidationError(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
