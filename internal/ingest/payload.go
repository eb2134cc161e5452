package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// Payload is the wire form of an error event, shared by the HTTP endpoint
// and the Kafka topic.
type Payload struct {
	ID         string            `json:"id,omitempty"`
	OwnerID    string            `json:"owner_id"`
	ErrorType  string            `json:"error_type"`
	ErrorCode  string            `json:"error_code,omitempty"`
	Path       string            `json:"path,omitempty"`
	Message    string            `json:"message,omitempty"`
	StackTrace string            `json:"stack_trace,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	IPAddress  string            `json:"ip_address,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt *time.Time        `json:"occurred_at,omitempty"`
}

// Validate checks required fields.
func (p *Payload) Validate() error {
	if strings.TrimSpace(p.OwnerID) == "" {
		return fmt.Errorf("owner_id is required")
	}
	if p.ErrorType == "" {
		return fmt.Errorf("error_type is required")
	}
	if _, err := models.ParseErrorType(p.ErrorType); err != nil {
		return err
	}
	if len(p.Message) > 10000 {
		return fmt.Errorf("message must be 10000 characters or less")
	}
	return nil
}

// ToEvent converts the payload into an event.
func (p *Payload) ToEvent() (*models.ErrorEvent, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	t, _ := models.ParseErrorType(p.ErrorType)

	ev := &models.ErrorEvent{
		ID:         p.ID,
		OwnerID:    strings.TrimSpace(p.OwnerID),
		Type:       t,
		Code:       p.ErrorCode,
		Path:       p.Path,
		Message:    p.Message,
		StackTrace: p.StackTrace,
		UserAgent:  p.UserAgent,
		IPAddress:  p.IPAddress,
		Metadata:   p.Metadata,
	}
	if p.OccurredAt != nil {
		ev.OccurredAt = p.OccurredAt.UTC()
	}
	return ev, nil
}
