package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

type sqliteNotificationRepo struct {
	db *sqlx.DB
}

type notificationRow struct {
	ID            string        `db:"id"`
	OwnerID       string        `db:"owner_id"`
	RuleID        string        `db:"rule_id"`
	SourceEventID string        `db:"source_event_id"`
	Title         string        `db:"title"`
	Message       string        `db:"message"`
	Severity      string        `db:"severity"`
	CreatedNS     int64         `db:"created_ns"`
	ReadNS        sql.NullInt64 `db:"read_ns"`
}

func (r *sqliteNotificationRepo) Insert(ctx context.Context, n *models.Notification) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (id, owner_id, rule_id, source_event_id, title,
			message, severity, created_ns, read_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rule_id, source_event_id) DO NOTHING`,
		n.ID, n.OwnerID, n.RuleID, n.SourceEventID, n.Title,
		n.Message, string(n.Severity), toNanos(n.CreatedAt), nullNanos(n.ReadAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	return rows == 1, nil
}

func (r *sqliteNotificationRepo) ListByOwner(ctx context.Context, ownerID string, filter NotificationFilter) ([]*models.Notification, error) {
	query := `SELECT id, owner_id, rule_id, source_event_id, title, message, severity, created_ns, read_ns
		FROM notifications WHERE owner_id = ?`
	if filter.UnreadOnly {
		query += ` AND read_ns IS NULL`
	}
	query += ` ORDER BY created_ns DESC LIMIT ?`

	var rows []notificationRow
	if err := r.db.SelectContext(ctx, &rows, query, ownerID, filter.limit()); err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}

	out := make([]*models.Notification, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (row *notificationRow) toModel() *models.Notification {
	return &models.Notification{
		ID:            row.ID,
		OwnerID:       row.OwnerID,
		RuleID:        row.RuleID,
		SourceEventID: row.SourceEventID,
		Title:         row.Title,
		Message:       row.Message,
		Severity:      models.Severity(row.Severity),
		CreatedAt:     fromNanos(row.CreatedNS),
		ReadAt:        timePtr(row.ReadNS),
	}
}

func (r *sqliteNotificationRepo) MarkRead(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE notifications SET read_ns = COALESCE(read_ns, ?) WHERE id = ?",
		toNanos(at), id,
	)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return nil
}

type sqliteContactRepo struct {
	db *sqlx.DB
}

func (r *sqliteContactRepo) Upsert(ctx context.Context, c *models.Contact) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO owner_contacts (owner_id, email, name, updated_ns)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			updated_ns = excluded.updated_ns`,
		c.OwnerID, c.Email, nullString(c.Name), toNanos(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}

func (r *sqliteContactRepo) OwnerEmail(ctx context.Context, ownerID string) (string, error) {
	var email string
	err := r.db.GetContext(ctx, &email, "SELECT email FROM owner_contacts WHERE owner_id = ?", ownerID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get contact: %w", err)
	}
	return email, nil
}
