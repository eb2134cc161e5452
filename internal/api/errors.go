package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/good-yellow-bee/blazealert/internal/alerting"
	"github.com/good-yellow-bee/blazealert/internal/ingest"
	"github.com/good-yellow-bee/blazealert/internal/storage"
)

// Error represents an API error response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *Error) Error() string {
	return e.Message
}

// Common error codes
const (
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeTimeout            = "TIMEOUT"
)

// Standard errors
var (
	ErrNotFound = &Error{
		Code:    ErrCodeNotFound,
		Message: "Resource not found",
		Status:  http.StatusNotFound,
	}

	ErrMethodNotAllowed = &Error{
		Code:    ErrCodeMethodNotAllowed,
		Message: "Method not allowed",
		Status:  http.StatusMethodNotAllowed,
	}

	ErrInternalServer = &Error{
		Code:    ErrCodeInternalError,
		Message: "Internal server error",
		Status:  http.StatusInternalServerError,
	}

	ErrServiceUnavailable = &Error{
		Code:    ErrCodeServiceUnavailable,
		Message: "Store unavailable, retry later",
		Status:  http.StatusServiceUnavailable,
	}
)

// NewNotFound creates a not found error with custom message.
func NewNotFound(message string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: message,
		Status:  http.StatusNotFound,
	}
}

// FromError maps an engine, ingest or storage error onto an API error.
// Unrecognised errors become 500 without leaking their text.
func FromError(err error) *Error {
	var apiErr *Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, storage.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ingest.ErrInvalidEvent):
		return &Error{Code: ErrCodeValidationFailed, Message: err.Error(), Status: http.StatusBadRequest}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Code: ErrCodeTimeout, Message: "Request timed out", Status: http.StatusGatewayTimeout}
	case errors.Is(err, alerting.ErrStoreUnavailable):
		return ErrServiceUnavailable
	default:
		return ErrInternalServer
	}
}
