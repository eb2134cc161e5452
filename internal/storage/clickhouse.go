package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	// Addresses are the ClickHouse server addresses (host:port).
	Addresses []string

	// Database is the ClickHouse database name.
	Database string

	// Username for authentication.
	Username string

	// Password for authentication.
	Password string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// DialTimeout is the connection timeout.
	DialTimeout time.Duration

	// Compression enables LZ4 compression.
	Compression bool

	// RetentionDays is the TTL in days for event retention.
	RetentionDays int
}

// ClickHouseStorage implements EventStorage for ClickHouse.
type ClickHouseStorage struct {
	config *ClickHouseConfig
	db     *sql.DB
	events *clickhouseEventRepo
}

// NewClickHouseStorage creates a new ClickHouse storage.
func NewClickHouseStorage(config *ClickHouseConfig) *ClickHouseStorage {
	// Apply defaults
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 5
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 5
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.RetentionDays == 0 {
		config.RetentionDays = 30
	}

	return &ClickHouseStorage{config: config}
}

// Open initializes the ClickHouse connection.
func (s *ClickHouseStorage) Open() error {
	opts := &clickhouse.Options{
		Addr: s.config.Addresses,
		Auth: clickhouse.Auth{
			Database: s.config.Database,
			Username: s.config.Username,
			Password: s.config.Password,
		},
		DialTimeout:  s.config.DialTimeout,
		MaxOpenConns: s.config.MaxOpenConns,
		MaxIdleConns: s.config.MaxIdleConns,
	}

	if s.config.Compression {
		opts.Compression = &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		}
	}

	db := clickhouse.OpenDB(opts)

	ctx, cancel := context.WithTimeout(context.Background(), s.config.DialTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping clickhouse: %w", err)
	}

	s.db = db
	s.events = &clickhouseEventRepo{db: db}
	return nil
}

// Close closes the database connection.
func (s *ClickHouseStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate creates the error_events table if it doesn't exist.
func (s *ClickHouseStorage) Migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// ReplacingMergeTree collapses redelivered events sharing an id.
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS error_events (
			id String,
			owner_id String,
			error_type LowCardinality(String),
			error_code String DEFAULT '',
			path String DEFAULT '',
			message String DEFAULT '',
			stack_trace String DEFAULT '',
			user_agent String DEFAULT '',
			ip_address String DEFAULT '',
			metadata String DEFAULT '',
			occurred_at DateTime64(3, 'UTC'),
			_date Date DEFAULT toDate(occurred_at)
		)
		ENGINE = ReplacingMergeTree()
		PARTITION BY toYYYYMM(_date)
		ORDER BY (owner_id, error_type, occurred_at, id)
		TTL _date + INTERVAL %d DAY DELETE
		SETTINGS index_granularity = 8192
	`, s.config.RetentionDays)

	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create error_events table: %w", err)
	}
	return nil
}

// Ping checks the connection health.
func (s *ClickHouseStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Events returns the event repository.
func (s *ClickHouseStorage) Events() EventRepository {
	return s.events
}

// clickhouseEventRepo implements EventRepository for ClickHouse.
type clickhouseEventRepo struct {
	db *sql.DB
}

func (r *clickhouseEventRepo) Append(ctx context.Context, event *models.ErrorEvent) (bool, error) {
	var existing uint64
	if err := r.db.QueryRowContext(ctx, "SELECT count() FROM error_events WHERE id = ?", event.ID).Scan(&existing); err != nil {
		return false, fmt.Errorf("check event: %w", err)
	}
	if existing > 0 {
		return false, nil
	}

	var metadata string
	if len(event.Metadata) > 0 {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			return false, fmt.Errorf("marshal metadata: %w", err)
		}
		metadata = string(data)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO error_events (
			id, owner_id, error_type, error_code, path, message,
			stack_trace, user_agent, ip_address, metadata, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return false, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx,
		event.ID, event.OwnerID, string(event.Type), event.Code, event.Path, event.Message,
		event.StackTrace, event.UserAgent, event.IPAddress, metadata, event.OccurredAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("exec: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// Count uses uniqExact so unmerged duplicate rows are not double counted.
func (r *clickhouseEventRepo) Count(ctx context.Context, ownerID string, errorType models.ErrorType, start, end time.Time) (int, error) {
	var count uint64
	err := r.db.QueryRowContext(ctx, `
		SELECT uniqExact(id) FROM error_events
		WHERE owner_id = ? AND error_type = ? AND occurred_at >= ? AND occurred_at <= ?`,
		ownerID, string(errorType), start.UTC(), end.UTC(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return int(count), nil
}

// DeleteBefore removes events older than the specified time.
func (r *clickhouseEventRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	var count uint64
	err := r.db.QueryRowContext(ctx, "SELECT count() FROM error_events WHERE occurred_at < ?", before.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}

	// ALTER TABLE DELETE is an asynchronous mutation in ClickHouse
	_, err = r.db.ExecContext(ctx, "ALTER TABLE error_events DELETE WHERE occurred_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}

	return int64(count), nil
}
