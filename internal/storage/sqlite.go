package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	path string
	db   *sqlx.DB

	rules         *sqliteRuleRepo
	events        *sqliteEventRepo
	notifications *sqliteNotificationRepo
	contacts      *sqliteContactRepo
}

// NewSQLiteStorage creates a new SQLite storage.
func NewSQLiteStorage(path string) *SQLiteStorage {
	return &SQLiteStorage{path: path}
}

// Open initializes the database connection.
func (s *SQLiteStorage) Open() error {
	ctx := context.Background()

	db, err := sqlx.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	s.db = db

	s.rules = &sqliteRuleRepo{db: db}
	s.events = &sqliteEventRepo{db: db}
	s.notifications = &sqliteNotificationRepo{db: db}
	s.contacts = &sqliteContactRepo{db: db}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the connection health.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// Migrate runs database migrations.
func (s *SQLiteStorage) Migrate() error {
	return runMigrations(s.db.DB, sqliteMigrations)
}

// Rules returns the rule repository.
func (s *SQLiteStorage) Rules() RuleRepository {
	return s.rules
}

// Events returns the event repository.
func (s *SQLiteStorage) Events() EventRepository {
	return s.events
}

// Notifications returns the notification repository.
func (s *SQLiteStorage) Notifications() NotificationRepository {
	return s.notifications
}

// Contacts returns the contact repository.
func (s *SQLiteStorage) Contacts() ContactRepository {
	return s.contacts
}
