// Package main provides the BlazeAlert server CLI.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/good-yellow-bee/blazealert/internal/api"
	"github.com/good-yellow-bee/blazealert/internal/ingest"
	"github.com/good-yellow-bee/blazealert/internal/logging"
	"github.com/good-yellow-bee/blazealert/internal/notifier"
	"github.com/good-yellow-bee/blazealert/internal/storage"
)

// envPrefix prefixes every environment override, e.g. BLAZEALERT_DATABASE_DSN.
const envPrefix = "BLAZEALERT"

// Config represents the server configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Events    EventsConfig    `mapstructure:"events"`
	Rules     RulesConfig     `mapstructure:"rules"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Email     EmailConfig     `mapstructure:"email"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Retention RetentionConfig `mapstructure:"retention"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Verbose   bool            `mapstructure:"-"` // set via CLI flag
}

// ServerConfig contains listener settings.
type ServerConfig struct {
	HTTPAddress       string        `mapstructure:"http_address"`    // HTTP listen address (default: :8080)
	MetricsAddress    string        `mapstructure:"metrics_address"` // Prometheus listener, empty disables
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	StreamMaxDuration time.Duration `mapstructure:"stream_max_duration"`
	QueryTimeout      time.Duration `mapstructure:"query_timeout"`
	TLS               TLSConfig     `mapstructure:"tls"`
}

// TLSConfig contains HTTPS settings.
type TLSConfig struct {
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json or console
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, postgres or memory
	Path   string `mapstructure:"path"`   // SQLite file
	DSN    string `mapstructure:"dsn"`    // PostgreSQL connection string
}

// EventsConfig selects where error events are stored and counted.
type EventsConfig struct {
	Backend    string           `mapstructure:"backend"` // database or clickhouse
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
}

// ClickHouseConfig contains ClickHouse connection settings.
type ClickHouseConfig struct {
	Addresses    []string      `mapstructure:"addresses"`
	Database     string        `mapstructure:"database"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	Compression  bool          `mapstructure:"compression"`
}

// RulesConfig points at the rules file.
type RulesConfig struct {
	File  string `mapstructure:"file"`
	Watch bool   `mapstructure:"watch"`
}

// EngineConfig tunes rule evaluation.
type EngineConfig struct {
	StoreTimeout time.Duration `mapstructure:"store_timeout"`
}

// EmailConfig contains SMTP settings. When disabled, emails are logged.
type EmailConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	From          string        `mapstructure:"from"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerMinute int           `mapstructure:"rate_per_minute"` // 0 disables limiting
}

// KafkaConfig contains the optional event consumer settings.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// RetentionConfig controls the event janitor.
type RetentionConfig struct {
	EventsDays int           `mapstructure:"events_days"` // 0 keeps events forever
	Interval   time.Duration `mapstructure:"interval"`
}

// IngestConfig contains ingest endpoint settings.
type IngestConfig struct {
	Ignore        []string `mapstructure:"ignore"` // expr-lang expressions
	RatePerSecond float64  `mapstructure:"rate_per_second"`
	Burst         int      `mapstructure:"burst"`
	MaxBodyBytes  int64    `mapstructure:"max_body_bytes"`
}

// setDefaults registers every key so environment overrides resolve even when
// the key is absent from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.metrics_address", ":9090")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.stream_max_duration", "30m")
	v.SetDefault("server.query_timeout", "10s")
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", true)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/blazealert.db")
	v.SetDefault("database.dsn", "")

	v.SetDefault("events.backend", "database")
	v.SetDefault("events.clickhouse.addresses", []string{"localhost:9000"})
	v.SetDefault("events.clickhouse.database", "blazealert")
	v.SetDefault("events.clickhouse.username", "default")
	v.SetDefault("events.clickhouse.password", "")
	v.SetDefault("events.clickhouse.max_open_conns", 10)
	v.SetDefault("events.clickhouse.dial_timeout", "10s")
	v.SetDefault("events.clickhouse.compression", true)

	v.SetDefault("rules.file", "")
	v.SetDefault("rules.watch", false)

	v.SetDefault("engine.store_timeout", "5s")

	v.SetDefault("email.enabled", false)
	v.SetDefault("email.host", "")
	v.SetDefault("email.port", 587)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.from", "")
	v.SetDefault("email.timeout", "30s")
	v.SetDefault("email.rate_per_minute", 10)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "error-events")
	v.SetDefault("kafka.group_id", "blazealert")

	v.SetDefault("retention.events_days", 30)
	v.SetDefault("retention.interval", "1h")

	v.SetDefault("ingest.ignore", []string{})
	v.SetDefault("ingest.rate_per_second", 50)
	v.SetDefault("ingest.burst", 100)
	v.SetDefault("ingest.max_body_bytes", 1<<20)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig loads configuration from .env, an optional YAML file and
// BLAZEALERT_* environment variables, in increasing precedence.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg) // defaults always decode
	return &cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.HTTPAddress == "" {
		return fmt.Errorf("server.http_address is required")
	}
	if (c.Server.TLS.CertFile == "") != (c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("server.tls.cert_file and server.tls.key_file must be set together")
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver must be sqlite, postgres or memory, got %q", c.Database.Driver)
	}

	switch c.Events.Backend {
	case "database":
	case "clickhouse":
		if len(c.Events.ClickHouse.Addresses) == 0 {
			return fmt.Errorf("events.clickhouse.addresses is required for the clickhouse backend")
		}
	default:
		return fmt.Errorf("events.backend must be database or clickhouse, got %q", c.Events.Backend)
	}

	if c.Engine.StoreTimeout < 0 {
		return fmt.Errorf("engine.store_timeout must not be negative")
	}
	if c.Retention.EventsDays < 0 {
		return fmt.Errorf("retention.events_days must not be negative")
	}

	if c.Email.Enabled {
		ec := c.EmailSettings()
		if err := ec.Validate(); err != nil {
			return fmt.Errorf("email: %w", err)
		}
	}
	if c.Kafka.Enabled {
		kc := c.KafkaSettings()
		if err := kc.Validate(); err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
	}

	return nil
}

// LoggingOptions converts the log section.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}

// APIConfig converts the server and ingest sections.
func (c *Config) APIConfig() *api.Config {
	return &api.Config{
		Address:           c.Server.HTTPAddress,
		TLSCertFile:       c.Server.TLS.CertFile,
		TLSKeyFile:        c.Server.TLS.KeyFile,
		IngestRatePerIP:   c.Ingest.RatePerSecond,
		IngestBurst:       c.Ingest.Burst,
		MaxBodyBytes:      c.Ingest.MaxBodyBytes,
		QueryTimeout:      c.Server.QueryTimeout,
		StreamMaxDuration: c.Server.StreamMaxDuration,
		ShutdownTimeout:   c.Server.ShutdownTimeout,
		Verbose:           c.Verbose,
	}
}

// EmailSettings converts the email section.
func (c *Config) EmailSettings() notifier.EmailConfig {
	return notifier.EmailConfig{
		Host:     c.Email.Host,
		Port:     c.Email.Port,
		Username: c.Email.Username,
		Password: c.Email.Password,
		From:     c.Email.From,
		Timeout:  c.Email.Timeout,
	}
}

// EmailRateLimit converts email.rate_per_minute.
func (c *Config) EmailRateLimit() notifier.RateLimitConfig {
	return notifier.RateLimitConfig{
		PerMinute: c.Email.RatePerMinute,
		Enabled:   c.Email.RatePerMinute > 0,
	}
}

// KafkaSettings converts the kafka section.
func (c *Config) KafkaSettings() ingest.KafkaConfig {
	return ingest.KafkaConfig{
		Brokers: c.Kafka.Brokers,
		Topic:   c.Kafka.Topic,
		GroupID: c.Kafka.GroupID,
	}
}

// ClickHouseSettings converts events.clickhouse.
func (c *Config) ClickHouseSettings() *storage.ClickHouseConfig {
	ch := c.Events.ClickHouse
	return &storage.ClickHouseConfig{
		Addresses:     ch.Addresses,
		Database:      ch.Database,
		Username:      ch.Username,
		Password:      ch.Password,
		MaxOpenConns:  ch.MaxOpenConns,
		DialTimeout:   ch.DialTimeout,
		Compression:   ch.Compression,
		RetentionDays: c.Retention.EventsDays,
	}
}

// RetentionPeriod returns how long events are kept, zero for forever.
func (c *Config) RetentionPeriod() time.Duration {
	return time.Duration(c.Retention.EventsDays) * 24 * time.Hour
}
