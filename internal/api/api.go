// Package api provides the HTTP REST API server.
package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/blazealert/internal/alerting"
	"github.com/good-yellow-bee/blazealert/internal/api/health"
	"github.com/good-yellow-bee/blazealert/internal/api/middleware"
	"github.com/good-yellow-bee/blazealert/internal/inbox"
	"github.com/good-yellow-bee/blazealert/internal/ingest"
	"github.com/good-yellow-bee/blazealert/internal/logging"
	"github.com/good-yellow-bee/blazealert/internal/storage"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address string

	// TLS is enabled when both files are set.
	TLSCertFile string
	TLSKeyFile  string

	// IngestRatePerIP limits POST /errors requests per second per client.
	IngestRatePerIP float64
	IngestBurst     int
	MaxBodyBytes    int64

	QueryTimeout      time.Duration // Timeout for storage-backed API calls
	StreamMaxDuration time.Duration // Max lifetime for notification streams
	ShutdownTimeout   time.Duration
	Verbose           bool
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.IngestRatePerIP == 0 {
		c.IngestRatePerIP = 50
	}
	if c.IngestBurst == 0 {
		c.IngestBurst = 100
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 10 * time.Second
	}
	if c.StreamMaxDuration == 0 {
		c.StreamMaxDuration = 30 * time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// TLSEnabled reports whether certificate and key are configured.
func (c *Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// Server is the HTTP API server.
type Server struct {
	config        *Config
	storage       storage.Storage
	recorder      ingest.Recorder
	hub           *inbox.Hub
	stats         func() alerting.EngineStats
	server        *http.Server
	ingestLimiter *middleware.RateLimiter
	healthHandler *health.Handler
	logger        zerolog.Logger
}

// New creates a new API server. hub may be nil, which disables the
// notification stream.
func New(cfg *Config, store storage.Storage, recorder ingest.Recorder, hub *inbox.Hub) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("recorder is required")
	}

	cfg.SetDefaults()

	s := &Server{
		config:        cfg,
		storage:       store,
		recorder:      recorder,
		hub:           hub,
		ingestLimiter: middleware.NewRateLimiter(cfg.IngestRatePerIP, cfg.IngestBurst),
		healthHandler: health.NewHandler(),
		logger:        logging.WithComponent("http"),
	}

	router := s.setupRouter()

	s.server = &http.Server{
		Addr:        cfg.Address,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No global WriteTimeout: notification streams stay open for up to
		// StreamMaxDuration.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.TLSEnabled() {
		s.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	return s, nil
}

// SetEngineStats exposes engine statistics on /api/v1/stats.
func (s *Server) SetEngineStats(fn func() alerting.EngineStats) {
	s.stats = fn
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run starts the HTTP server and blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info().Str("addr", s.config.Address).Bool("tls", s.config.TLSEnabled()).Msg("HTTP API listening")
		var err error
		if s.config.TLSEnabled() {
			err = s.server.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info().Msg("shutting down HTTP API server")
		s.ingestLimiter.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		s.ingestLimiter.Close()
		return fmt.Errorf("http server: %w", err)
	}
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// RegisterHealthChecker adds a health checker to the server.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	if s.healthHandler != nil {
		s.healthHandler.RegisterChecker(c)
	}
}
