// Package storage provides database storage interfaces and implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// ErrNotFound is returned by updates and deletes that match no row.
var ErrNotFound = errors.New("not found")

// Storage is the main interface for database operations.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error
	// Ping checks the connection health.
	Ping(ctx context.Context) error

	// Repository accessors
	Rules() RuleRepository
	Events() EventRepository
	Notifications() NotificationRepository
	Contacts() ContactRepository
}

// EventStorage is a store that only holds error events, such as ClickHouse.
type EventStorage interface {
	Open() error
	Close() error
	Migrate() error
	Ping(ctx context.Context) error
	Events() EventRepository
}

// RuleRepository defines operations on alert rules.
type RuleRepository interface {
	// Match returns enabled rules monitoring errorType. An empty ownerID
	// matches every owner.
	Match(ctx context.Context, errorType models.ErrorType, ownerID string) ([]*models.AlertRule, error)
	// TryMarkTriggered sets last_triggered to now only if the rule has never
	// fired or its last fire is at least cooldown before now. It reports
	// whether this caller won the update.
	TryMarkTriggered(ctx context.Context, ruleID string, now time.Time, cooldown time.Duration) (bool, error)
	// Upsert creates or updates a rule, keeping last_triggered intact.
	Upsert(ctx context.Context, rule *models.AlertRule) error
	GetByID(ctx context.Context, id string) (*models.AlertRule, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.AlertRule, error)
	List(ctx context.Context) ([]*models.AlertRule, error)
	Delete(ctx context.Context, id string) error
}

// EventRepository defines operations on the error event log.
type EventRepository interface {
	// Append stores an event. It reports false when the event ID already
	// exists, leaving the stored event untouched.
	Append(ctx context.Context, event *models.ErrorEvent) (bool, error)
	// Count returns the number of events of errorType for ownerID with
	// occurred_at in [start, end].
	Count(ctx context.Context, ownerID string, errorType models.ErrorType, start, end time.Time) (int, error)
	// DeleteBefore removes events that occurred before cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// NotificationFilter narrows inbox listings.
type NotificationFilter struct {
	UnreadOnly bool
	Limit      int
}

// NotificationRepository defines operations on the in-app inbox.
type NotificationRepository interface {
	// Insert writes a notification. It reports false when a notification for
	// the same (rule_id, source_event_id) already exists.
	Insert(ctx context.Context, n *models.Notification) (bool, error)
	ListByOwner(ctx context.Context, ownerID string, filter NotificationFilter) ([]*models.Notification, error)
	MarkRead(ctx context.Context, id string, at time.Time) error
}

// ContactRepository resolves owner email addresses.
type ContactRepository interface {
	Upsert(ctx context.Context, contact *models.Contact) error
	// OwnerEmail returns "" when the owner has no contact.
	OwnerEmail(ctx context.Context, ownerID string) (string, error)
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (f NotificationFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultListLimit
	case f.Limit > maxListLimit:
		return maxListLimit
	}
	return f.Limit
}
