package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// PostgresStorage implements Storage using PostgreSQL through pgxpool.
type PostgresStorage struct {
	dsn  string
	pool *pgxpool.Pool

	rules         *pgRuleRepo
	events        *pgEventRepo
	notifications *pgNotificationRepo
	contacts      *pgContactRepo
}

// NewPostgresStorage creates a new PostgreSQL storage.
func NewPostgresStorage(dsn string) *PostgresStorage {
	return &PostgresStorage{dsn: dsn}
}

// Open initializes the connection pool.
func (s *PostgresStorage) Open() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, s.dsn)
	if err != nil {
		return fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}

	s.pool = pool
	s.rules = &pgRuleRepo{pool: pool}
	s.events = &pgEventRepo{pool: pool}
	s.notifications = &pgNotificationRepo{pool: pool}
	s.contacts = &pgContactRepo{pool: pool}
	return nil
}

// Close closes the pool.
func (s *PostgresStorage) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Ping checks the connection health.
func (s *PostgresStorage) Ping(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("postgres not initialized")
	}
	return s.pool.Ping(ctx)
}

// Migrate applies pending migrations, one transaction per migration.
func (s *PostgresStorage) Migrate() error {
	ctx := context.Background()

	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	if err := s.pool.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range postgresMigrations {
		if m.Version <= currentVersion {
			continue
		}
		err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.Up); err != nil {
				return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
			}
			_, err := tx.Exec(ctx,
				"INSERT INTO schema_migrations (version, name, applied_at) VALUES ($1, $2, $3)",
				m.Version, m.Name, time.Now().UTC(),
			)
			if err != nil {
				return fmt.Errorf("record migration %d: %w", m.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Rules returns the rule repository.
func (s *PostgresStorage) Rules() RuleRepository { return s.rules }

// Events returns the event repository.
func (s *PostgresStorage) Events() EventRepository { return s.events }

// Notifications returns the notification repository.
func (s *PostgresStorage) Notifications() NotificationRepository { return s.notifications }

// Contacts returns the contact repository.
func (s *PostgresStorage) Contacts() ContactRepository { return s.contacts }

type pgRuleRepo struct {
	pool *pgxpool.Pool
}

const pgRuleColumns = `id, owner_id, name, description, monitored_types, threshold_count,
	window_minutes, cooldown_minutes, severity, channels, enabled, last_triggered_at,
	created_at, updated_at`

func (r *pgRuleRepo) Match(ctx context.Context, errorType models.ErrorType, ownerID string) ([]*models.AlertRule, error) {
	query := `SELECT ` + pgRuleColumns + ` FROM alert_rules
		WHERE enabled AND $1 = ANY(monitored_types) AND ($2 = '' OR owner_id = $2)
		ORDER BY id`
	return r.queryRules(ctx, query, string(errorType), ownerID)
}

func (r *pgRuleRepo) TryMarkTriggered(ctx context.Context, ruleID string, now time.Time, cooldown time.Duration) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE alert_rules SET last_triggered_at = $1
		WHERE id = $2 AND enabled
			AND (last_triggered_at IS NULL OR last_triggered_at <= $3)`,
		now.UTC(), ruleID, now.Add(-cooldown).UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("mark rule triggered: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgRuleRepo) Upsert(ctx context.Context, rule *models.AlertRule) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO alert_rules (`+pgRuleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			monitored_types = EXCLUDED.monitored_types,
			threshold_count = EXCLUDED.threshold_count,
			window_minutes = EXCLUDED.window_minutes,
			cooldown_minutes = EXCLUDED.cooldown_minutes,
			severity = EXCLUDED.severity,
			channels = EXCLUDED.channels,
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at`,
		rule.ID, rule.OwnerID, rule.Name, rule.Description, listToStrings(rule.MonitoredTypes),
		rule.ThresholdCount, rule.WindowMinutes, rule.CooldownMinutes, string(rule.Severity),
		listToStrings(rule.Channels), rule.Enabled, rule.LastTriggeredAt, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert rule: %w", err)
	}
	return nil
}

func (r *pgRuleRepo) GetByID(ctx context.Context, id string) (*models.AlertRule, error) {
	rules, err := r.queryRules(ctx, `SELECT `+pgRuleColumns+` FROM alert_rules WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}
	return rules[0], nil
}

func (r *pgRuleRepo) ListByOwner(ctx context.Context, ownerID string) ([]*models.AlertRule, error) {
	return r.queryRules(ctx, `SELECT `+pgRuleColumns+` FROM alert_rules WHERE owner_id = $1 ORDER BY name`, ownerID)
}

func (r *pgRuleRepo) List(ctx context.Context) ([]*models.AlertRule, error) {
	return r.queryRules(ctx, `SELECT `+pgRuleColumns+` FROM alert_rules ORDER BY owner_id, name`)
}

func (r *pgRuleRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM alert_rules WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *pgRuleRepo) queryRules(ctx context.Context, query string, args ...any) ([]*models.AlertRule, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.AlertRule
	for rows.Next() {
		rule := &models.AlertRule{}
		var types, channels []string
		var severity string
		err := rows.Scan(
			&rule.ID, &rule.OwnerID, &rule.Name, &rule.Description, &types,
			&rule.ThresholdCount, &rule.WindowMinutes, &rule.CooldownMinutes, &severity,
			&channels, &rule.Enabled, &rule.LastTriggeredAt, &rule.CreatedAt, &rule.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rule.MonitoredTypes = stringsToList[models.ErrorType](types)
		rule.Channels = stringsToList[models.Channel](channels)
		rule.Severity = models.Severity(severity)
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return rules, nil
}

type pgEventRepo struct {
	pool *pgxpool.Pool
}

func (r *pgEventRepo) Append(ctx context.Context, event *models.ErrorEvent) (bool, error) {
	var metadata []byte
	if len(event.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(event.Metadata); err != nil {
			return false, fmt.Errorf("marshal metadata: %w", err)
		}
	}

	tag, err := r.pool.Exec(ctx, `
		INSERT INTO error_events (id, owner_id, error_type, error_code, path, message,
			stack_trace, user_agent, ip_address, metadata, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		event.ID, event.OwnerID, string(event.Type), event.Code, event.Path, event.Message,
		event.StackTrace, event.UserAgent, event.IPAddress, metadata, event.OccurredAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgEventRepo) Count(ctx context.Context, ownerID string, errorType models.ErrorType, start, end time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM error_events
		WHERE owner_id = $1 AND error_type = $2 AND occurred_at >= $3 AND occurred_at <= $4`,
		ownerID, string(errorType), start.UTC(), end.UTC(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

func (r *pgEventRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, "DELETE FROM error_events WHERE occurred_at < $1", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	return tag.RowsAffected(), nil
}

type pgNotificationRepo struct {
	pool *pgxpool.Pool
}

func (r *pgNotificationRepo) Insert(ctx context.Context, n *models.Notification) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (id, owner_id, rule_id, source_event_id, title,
			message, severity, created_at, read_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (rule_id, source_event_id) DO NOTHING`,
		n.ID, n.OwnerID, n.RuleID, n.SourceEventID, n.Title,
		n.Message, string(n.Severity), n.CreatedAt.UTC(), n.ReadAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgNotificationRepo) ListByOwner(ctx context.Context, ownerID string, filter NotificationFilter) ([]*models.Notification, error) {
	query := `SELECT id, owner_id, rule_id, source_event_id, title, message, severity, created_at, read_at
		FROM notifications WHERE owner_id = $1`
	if filter.UnreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, ownerID, filter.limit())
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		n := &models.Notification{}
		var severity string
		if err := rows.Scan(&n.ID, &n.OwnerID, &n.RuleID, &n.SourceEventID, &n.Title,
			&n.Message, &severity, &n.CreatedAt, &n.ReadAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Severity = models.Severity(severity)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *pgNotificationRepo) MarkRead(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		"UPDATE notifications SET read_at = COALESCE(read_at, $1) WHERE id = $2",
		at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return nil
}

type pgContactRepo struct {
	pool *pgxpool.Pool
}

func (r *pgContactRepo) Upsert(ctx context.Context, c *models.Contact) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO owner_contacts (owner_id, email, name, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_id) DO UPDATE SET
			email = EXCLUDED.email, name = EXCLUDED.name, updated_at = EXCLUDED.updated_at`,
		c.OwnerID, c.Email, c.Name, c.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}

func (r *pgContactRepo) OwnerEmail(ctx context.Context, ownerID string) (string, error) {
	var email string
	err := r.pool.QueryRow(ctx, "SELECT email FROM owner_contacts WHERE owner_id = $1", ownerID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get contact: %w", err)
	}
	return email, nil
}
