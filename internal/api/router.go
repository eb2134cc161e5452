package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/blazealert/internal/api/contacts"
	"github.com/good-yellow-bee/blazealert/internal/api/events"
	"github.com/good-yellow-bee/blazealert/internal/api/middleware"
	"github.com/good-yellow-bee/blazealert/internal/api/notifications"
	"github.com/good-yellow-bee/blazealert/internal/api/rules"
	"github.com/good-yellow-bee/blazealert/pkg/config"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestLogger(s.config.Verbose))
	r.Use(middleware.PrometheusMiddleware)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		JSONError(w, r, ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		JSONError(w, r, ErrMethodNotAllowed)
	})

	eventHandler := events.NewHandler(s.recorder, s.config.MaxBodyBytes)
	notificationHandler := notifications.NewHandler(s.storage.Notifications(), s.hub, s.config.QueryTimeout, s.config.StreamMaxDuration)
	ruleHandler := rules.NewHandler(s.storage.Rules(), s.config.QueryTimeout)
	contactHandler := contacts.NewHandler(s.storage.Contacts(), s.config.QueryTimeout)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.RateLimitByIP(s.ingestLimiter)).Post("/errors", eventHandler.Create)

		r.Route("/owners/{owner}", func(r chi.Router) {
			r.Get("/notifications", notificationHandler.List)
			r.Get("/rules", ruleHandler.ListByOwner)
			r.Put("/contact", contactHandler.Put)
			r.Get("/summary", s.handleOwnerSummary)
			if s.hub != nil {
				r.Get("/stream", notificationHandler.Stream)
			}
		})

		r.Post("/notifications/{id}/read", notificationHandler.MarkRead)
		r.Get("/rules/{id}", ruleHandler.Get)
		r.Get("/stats", s.handleStats)
		r.Get("/version", s.handleVersion)
	})

	// Health checks (public, no rate limit)
	r.Get("/health", s.healthHandler.Health)
	r.Get("/health/live", s.healthHandler.Live)
	r.Get("/health/ready", s.healthHandler.Ready)

	return r
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		JSONError(w, r, NewNotFound("engine statistics not available"))
		return
	}
	OK(w, s.stats())
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	OK(w, config.GetBuildInfo())
}
