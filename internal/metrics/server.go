package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/blazealert/internal/logging"
)

// Server serves Prometheus metrics on a dedicated port, apart from the API
// so scrapes are not subject to API rate limits.
type Server struct {
	server *http.Server
	addr   string
	log    zerolog.Logger
}

// promLogger forwards promhttp errors to zerolog.
type promLogger struct {
	log zerolog.Logger
}

func (l promLogger) Println(v ...interface{}) {
	l.log.Error().Msg(fmt.Sprint(v...))
}

// NewServer creates a new metrics server.
func NewServer(addr string) *Server {
	log := logging.WithComponent("metrics")
	return &Server{
		addr: addr,
		log:  log,
		server: &http.Server{
			Addr:              addr,
			Handler:           newMux(log),
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

func newMux(log zerolog.Logger) *http.ServeMux {
	handler := promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		ErrorLog:          promLogger{log: log},
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
		Timeout:           8 * time.Second,
	})

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.InstrumentMetricHandler(prometheus.DefaultRegisterer, handler))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><body><h1>BlazeAlert Metrics</h1><p><a href="/metrics">Metrics</a></p></body></html>`))
	})
	return mux
}

// Handler returns the metrics HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Shutdown is called. It returns nil on a clean shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.addr).Msg("metrics server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down metrics server")
	return s.server.Shutdown(ctx)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.addr
}
