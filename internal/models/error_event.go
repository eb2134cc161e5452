package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrorType identifies the category of a recorded error.
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "404"
	ErrorTypeAuthFailure  ErrorType = "auth_error"
	ErrorTypeAPIError     ErrorType = "api_error"
	ErrorTypeUnhandled    ErrorType = "unhandled_error"
	ErrorTypeNetworkError ErrorType = "network_error"
)

// AllErrorTypes returns every supported error type.
func AllErrorTypes() []ErrorType {
	return []ErrorType{
		ErrorTypeNotFound,
		ErrorTypeAuthFailure,
		ErrorTypeAPIError,
		ErrorTypeUnhandled,
		ErrorTypeNetworkError,
	}
}

// IsValid reports whether t is a known error type.
func (t ErrorType) IsValid() bool {
	switch t {
	case ErrorTypeNotFound, ErrorTypeAuthFailure, ErrorTypeAPIError,
		ErrorTypeUnhandled, ErrorTypeNetworkError:
		return true
	}
	return false
}

// ParseErrorType converts a string to ErrorType.
func ParseErrorType(s string) (ErrorType, error) {
	t := ErrorType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("unknown error type %q", s)
	}
	return t, nil
}

// ErrorEvent is a single recorded error occurrence. Events are immutable
// once stored.
type ErrorEvent struct {
	ID         string            `json:"id"`
	OwnerID    string            `json:"owner_id"`
	Type       ErrorType         `json:"error_type"`
	Code       string            `json:"error_code,omitempty"`
	Path       string            `json:"path,omitempty"`
	Message    string            `json:"message,omitempty"`
	StackTrace string            `json:"stack_trace,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	IPAddress  string            `json:"ip_address,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewErrorEvent creates an ErrorEvent with a fresh ID and the current time.
func NewErrorEvent(ownerID string, errorType ErrorType) *ErrorEvent {
	return &ErrorEvent{
		ID:         uuid.New().String(),
		OwnerID:    ownerID,
		Type:       errorType,
		OccurredAt: time.Now().UTC(),
	}
}

// Validate checks the fields required for evaluation.
func (e *ErrorEvent) Validate() error {
	if e.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("unknown error type %q", e.Type)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}
	return nil
}
