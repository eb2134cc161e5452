package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification is an in-app inbox entry produced by a fired rule.
// (RuleID, SourceEventID) is unique.
type Notification struct {
	ID            string     `json:"id"`
	OwnerID       string     `json:"owner_id"`
	RuleID        string     `json:"rule_id"`
	SourceEventID string     `json:"source_event_id"`
	Title         string     `json:"title"`
	Message       string     `json:"message"`
	Severity      Severity   `json:"severity"`
	CreatedAt     time.Time  `json:"created_at"`
	ReadAt        *time.Time `json:"read_at,omitempty"`
}

// NewNotification creates a Notification with a fresh ID.
func NewNotification(ownerID, ruleID, sourceEventID string) *Notification {
	return &Notification{
		ID:            uuid.New().String(),
		OwnerID:       ownerID,
		RuleID:        ruleID,
		SourceEventID: sourceEventID,
		CreatedAt:     time.Now().UTC(),
	}
}

// IsRead reports whether the notification has been acknowledged.
func (n *Notification) IsRead() bool {
	return n.ReadAt != nil
}

// Contact holds where an owner receives email alerts.
type Contact struct {
	OwnerID   string    `json:"owner_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
