package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/blazealert/internal/alerting"
	"github.com/good-yellow-bee/blazealert/internal/api"
	"github.com/good-yellow-bee/blazealert/internal/api/health"
	"github.com/good-yellow-bee/blazealert/internal/inbox"
	"github.com/good-yellow-bee/blazealert/internal/ingest"
	"github.com/good-yellow-bee/blazealert/internal/logging"
	"github.com/good-yellow-bee/blazealert/internal/metrics"
	"github.com/good-yellow-bee/blazealert/internal/notifier"
	"github.com/good-yellow-bee/blazealert/internal/storage"
	"github.com/good-yellow-bee/blazealert/pkg/config"
)

var (
	configFile string
	httpAddr   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "blazealert-server",
	Short: "BlazeAlert Server - error alert evaluation and notification dispatch",
	Long: `BlazeAlert Server records application error events, evaluates them
against each owner's alert rules and delivers in-app and email notifications
when a rule's threshold is crossed within its window.`,
	RunE: runServer,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the server (default)",
	RunE:  runServer,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and exit",
	RunE:  runMigrate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := config.GetBuildInfo()
		fmt.Printf("blazealert-server %s\n", info.Version)
		fmt.Printf("  commit: %s\n", info.Commit)
		fmt.Printf("  built:  %s\n", info.BuildTime)
		fmt.Printf("  go:     %s %s/%s\n", info.GoVersion, info.OS, info.Arch)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().StringVarP(&httpAddr, "address", "a", "", "HTTP listen address (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd, migrateCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*Config, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if httpAddr != "" {
		cfg.Server.HTTPAddress = httpAddr
	}
	cfg.Verbose = verbose
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// openStorage opens and migrates the relational store.
func openStorage(cfg *Config) (storage.Storage, error) {
	var store storage.Storage
	switch cfg.Database.Driver {
	case "postgres":
		store = storage.NewPostgresStorage(cfg.Database.DSN)
	case "memory":
		store = storage.NewMemoryStorage()
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0750); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		store = storage.NewSQLiteStorage(cfg.Database.Path)
	}

	if err := store.Open(); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return store, nil
}

// openEventStorage opens ClickHouse when it is the configured event backend.
// It returns nil when events live in the relational store.
func openEventStorage(cfg *Config) (*storage.ClickHouseStorage, error) {
	if cfg.Events.Backend != "clickhouse" {
		return nil, nil
	}
	ch := storage.NewClickHouseStorage(cfg.ClickHouseSettings())
	if err := ch.Open(); err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := ch.Migrate(); err != nil {
		ch.Close()
		return nil, fmt.Errorf("migrate clickhouse: %w", err)
	}
	return ch, nil
}

func buildEmailSender(cfg *Config) (notifier.EmailSender, error) {
	var sender notifier.EmailSender = notifier.NewLogSender()
	if cfg.Email.Enabled {
		smtp, err := notifier.NewSMTPSender(cfg.EmailSettings())
		if err != nil {
			return nil, fmt.Errorf("create smtp sender: %w", err)
		}
		sender = smtp
	}
	return notifier.NewRateLimitedSender(sender, cfg.EmailRateLimit()), nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	closer := logging.Init(cfg.LoggingOptions())
	defer closer.Close()

	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ch, err := openEventStorage(cfg)
	if err != nil {
		return err
	}
	if ch != nil {
		ch.Close()
	}

	logger := logging.WithComponent("server")
	logger.Info().Str("driver", cfg.Database.Driver).Msg("migrations applied")
	return nil
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	closer := logging.Init(cfg.LoggingOptions())
	defer closer.Close()
	logger := logging.WithComponent("server")

	build := config.GetBuildInfo()
	metrics.SetBuildInfo(build.Version, build.Commit, build.BuildTime)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info().Str("driver", cfg.Database.Driver).Msg("database initialized")

	events := store.Events()
	ch, err := openEventStorage(cfg)
	if err != nil {
		return err
	}
	if ch != nil {
		defer ch.Close()
		events = ch.Events()
		logger.Info().Strs("addresses", cfg.Events.ClickHouse.Addresses).Msg("clickhouse event store initialized")
	}

	// Rules
	var watcher *alerting.RuleWatcher
	if cfg.Rules.File != "" {
		watcher = alerting.NewRuleWatcher(cfg.Rules.File, store.Rules())
		n, err := watcher.Reload(ctx)
		if err != nil {
			return fmt.Errorf("apply rules file: %w", err)
		}
		logger.Info().Int("rules", n).Str("path", cfg.Rules.File).Msg("rules applied")
	}

	// Dispatch
	sender, err := buildEmailSender(cfg)
	if err != nil {
		return err
	}
	dispatcher, err := notifier.NewDispatcher(store.Notifications(), store.Contacts(), sender)
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}
	if cfg.Email.Timeout > 0 {
		dispatcher.SetSendTimeout(cfg.Email.Timeout)
	}
	dispatcher.SetStoreTimeout(cfg.Engine.StoreTimeout)
	hub := inbox.NewHub()
	defer hub.Close()
	dispatcher.SetPublisher(hub)

	// Evaluation and ingest
	engine := alerting.NewEngine(store.Rules(), events, dispatcher, &alerting.EngineOptions{
		StoreTimeout: cfg.Engine.StoreTimeout,
	})
	filter, err := ingest.NewIgnoreFilter(cfg.Ingest.Ignore)
	if err != nil {
		return fmt.Errorf("ingest.ignore: %w", err)
	}
	ingestor := ingest.NewIngestor(events, engine, filter)

	// HTTP API
	apiServer, err := api.New(cfg.APIConfig(), store, ingestor, hub)
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}
	apiServer.SetEngineStats(engine.Stats)
	apiServer.RegisterHealthChecker(health.NewStoreChecker(cfg.Database.Driver, store))
	if ch != nil {
		apiServer.RegisterHealthChecker(health.NewClickHouseChecker(ch))
	}
	if watcher != nil {
		var reloadErr atomic.Value
		reloadErr.Store("")
		watcher.OnApply = func(_ int, err error) {
			msg := ""
			if err != nil {
				msg = err.Error()
			}
			reloadErr.Store(msg)
		}
		apiServer.RegisterHealthChecker(health.CheckerFunc{
			CheckName: "rules",
			Fn: func(context.Context) error {
				if msg := reloadErr.Load().(string); msg != "" {
					return fmt.Errorf("last reload failed: %s", msg)
				}
				return nil
			},
		})
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return apiServer.Run(gctx)
	})

	if cfg.Server.MetricsAddress != "" {
		ms := metrics.NewServer(cfg.Server.MetricsAddress)
		g.Go(ms.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return ms.Shutdown(shutdownCtx)
		})
	}

	if watcher != nil && cfg.Rules.Watch {
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	if cfg.Kafka.Enabled {
		consumer, err := ingest.NewKafkaConsumer(cfg.KafkaSettings(), ingestor)
		if err != nil {
			return fmt.Errorf("create kafka consumer: %w", err)
		}
		defer consumer.Close()
		g.Go(func() error {
			return consumer.Run(gctx)
		})
	}

	janitor := ingest.NewJanitor(events, cfg.RetentionPeriod(), cfg.Retention.Interval)
	g.Go(func() error {
		return janitor.Run(gctx)
	})

	logger.Info().
		Str("version", build.Version).
		Str("http", cfg.Server.HTTPAddress).
		Str("events", cfg.Events.Backend).
		Bool("email", cfg.Email.Enabled).
		Bool("kafka", cfg.Kafka.Enabled).
		Msg("blazealert-server started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run server: %w", err)
	}

	stats := engine.Stats()
	logger.Info().
		Int64("events_evaluated", stats.EventsEvaluated).
		Int64("alerts_fired", stats.AlertsFired).
		Msg("server stopped")
	return nil
}
