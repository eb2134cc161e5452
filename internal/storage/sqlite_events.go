package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

type sqliteEventRepo struct {
	db *sqlx.DB
}

func (r *sqliteEventRepo) Append(ctx context.Context, event *models.ErrorEvent) (bool, error) {
	var metadata []byte
	if len(event.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(event.Metadata)
		if err != nil {
			return false, fmt.Errorf("marshal metadata: %w", err)
		}
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO error_events (id, owner_id, error_type, error_code, path, message,
			stack_trace, user_agent, ip_address, metadata_json, occurred_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		event.ID, event.OwnerID, string(event.Type), nullString(event.Code), nullString(event.Path),
		nullString(event.Message), nullString(event.StackTrace), nullString(event.UserAgent),
		nullString(event.IPAddress), nullString(string(metadata)), toNanos(event.OccurredAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	return rows == 1, nil
}

func (r *sqliteEventRepo) Count(ctx context.Context, ownerID string, errorType models.ErrorType, start, end time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM error_events
		WHERE owner_id = ? AND error_type = ? AND occurred_ns >= ? AND occurred_ns <= ?`,
		ownerID, string(errorType), toNanos(start), toNanos(end),
	)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

func (r *sqliteEventRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM error_events WHERE occurred_ns < ?", toNanos(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	return result.RowsAffected()
}
