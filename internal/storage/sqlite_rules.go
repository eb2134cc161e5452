package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

type sqliteRuleRepo struct {
	db *sqlx.DB
}

type ruleRow struct {
	ID              string         `db:"id"`
	OwnerID         string         `db:"owner_id"`
	Name            string         `db:"name"`
	Description     sql.NullString `db:"description"`
	MonitoredTypes  string         `db:"monitored_types"`
	ThresholdCount  int            `db:"threshold_count"`
	WindowMinutes   int            `db:"window_minutes"`
	CooldownMinutes int            `db:"cooldown_minutes"`
	Severity        string         `db:"severity"`
	Channels        string         `db:"channels"`
	Enabled         int            `db:"enabled"`
	LastTriggeredNS sql.NullInt64  `db:"last_triggered_ns"`
	CreatedNS       int64          `db:"created_ns"`
	UpdatedNS       int64          `db:"updated_ns"`
}

func (row *ruleRow) toModel() *models.AlertRule {
	return &models.AlertRule{
		ID:              row.ID,
		OwnerID:         row.OwnerID,
		Name:            row.Name,
		Description:     row.Description.String,
		MonitoredTypes:  splitList[models.ErrorType](row.MonitoredTypes),
		ThresholdCount:  row.ThresholdCount,
		WindowMinutes:   row.WindowMinutes,
		CooldownMinutes: row.CooldownMinutes,
		Severity:        models.Severity(row.Severity),
		Channels:        splitList[models.Channel](row.Channels),
		Enabled:         row.Enabled != 0,
		LastTriggeredAt: timePtr(row.LastTriggeredNS),
		CreatedAt:       fromNanos(row.CreatedNS),
		UpdatedAt:       fromNanos(row.UpdatedNS),
	}
}

const ruleColumns = `id, owner_id, name, description, monitored_types, threshold_count,
	window_minutes, cooldown_minutes, severity, channels, enabled, last_triggered_ns,
	created_ns, updated_ns`

func (r *sqliteRuleRepo) Match(ctx context.Context, errorType models.ErrorType, ownerID string) ([]*models.AlertRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_rules
		WHERE enabled = 1
			AND instr(monitored_types, ?) > 0
			AND (? = '' OR owner_id = ?)
		ORDER BY id`
	return r.selectRules(ctx, query, ","+string(errorType)+",", ownerID, ownerID)
}

func (r *sqliteRuleRepo) TryMarkTriggered(ctx context.Context, ruleID string, now time.Time, cooldown time.Duration) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE alert_rules SET last_triggered_ns = ?
		WHERE id = ? AND enabled = 1
			AND (last_triggered_ns IS NULL OR last_triggered_ns <= ?)`,
		toNanos(now), ruleID, toNanos(now.Add(-cooldown)),
	)
	if err != nil {
		return false, fmt.Errorf("mark rule triggered: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark rule triggered: %w", err)
	}
	return rows == 1, nil
}

func (r *sqliteRuleRepo) Upsert(ctx context.Context, rule *models.AlertRule) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO alert_rules (id, owner_id, name, description, monitored_types,
			threshold_count, window_minutes, cooldown_minutes, severity, channels,
			enabled, last_triggered_ns, created_ns, updated_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			name = excluded.name,
			description = excluded.description,
			monitored_types = excluded.monitored_types,
			threshold_count = excluded.threshold_count,
			window_minutes = excluded.window_minutes,
			cooldown_minutes = excluded.cooldown_minutes,
			severity = excluded.severity,
			channels = excluded.channels,
			enabled = excluded.enabled,
			updated_ns = excluded.updated_ns`,
		rule.ID, rule.OwnerID, rule.Name, nullString(rule.Description), joinList(rule.MonitoredTypes),
		rule.ThresholdCount, rule.WindowMinutes, rule.CooldownMinutes, string(rule.Severity), joinList(rule.Channels),
		boolToInt(rule.Enabled), nullNanos(rule.LastTriggeredAt), toNanos(rule.CreatedAt), toNanos(rule.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert rule: %w", err)
	}
	return nil
}

func (r *sqliteRuleRepo) GetByID(ctx context.Context, id string) (*models.AlertRule, error) {
	var row ruleRow
	err := r.db.GetContext(ctx, &row, `SELECT `+ruleColumns+` FROM alert_rules WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return row.toModel(), nil
}

func (r *sqliteRuleRepo) ListByOwner(ctx context.Context, ownerID string) ([]*models.AlertRule, error) {
	return r.selectRules(ctx, `SELECT `+ruleColumns+` FROM alert_rules WHERE owner_id = ? ORDER BY name`, ownerID)
}

func (r *sqliteRuleRepo) List(ctx context.Context) ([]*models.AlertRule, error) {
	return r.selectRules(ctx, `SELECT `+ruleColumns+` FROM alert_rules ORDER BY owner_id, name`)
}

func (r *sqliteRuleRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM alert_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *sqliteRuleRepo) selectRules(ctx context.Context, query string, args ...any) ([]*models.AlertRule, error) {
	var rows []ruleRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	rules := make([]*models.AlertRule, 0, len(rows))
	for i := range rows {
		rules = append(rules, rows[i].toModel())
	}
	return rules, nil
}
