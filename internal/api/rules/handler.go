// Package rules exposes read-only views of alert rules. Rules are managed
// through the rules file.
package rules

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/blazealert/internal/logging"
	"github.com/good-yellow-bee/blazealert/internal/models"
	"github.com/good-yellow-bee/blazealert/internal/storage"
)

// Response helpers
type errorResponse struct {
	Error errorBody `json:"error"`
}
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
type dataResponse struct {
	Data any `json:"data"`
}

const (
	errCodeNotFound      = "NOT_FOUND"
	errCodeInternalError = "INTERNAL_ERROR"
)

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Code: code, Message: message}}); err != nil {
		logger := logging.WithComponent("http")
		logger.Warn().Err(err).Msg("json encode error")
	}
}

func jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(dataResponse{Data: data}); err != nil {
		logger := logging.WithComponent("http")
		logger.Warn().Err(err).Msg("json encode error")
	}
}

// RuleResponse is a rule with its derived cooldown state.
type RuleResponse struct {
	*models.AlertRule
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
}

func toResponse(r *models.AlertRule, now time.Time) RuleResponse {
	resp := RuleResponse{AlertRule: r}
	if r.LastTriggeredAt != nil {
		until := r.LastTriggeredAt.Add(r.Cooldown())
		if now.Before(until) {
			resp.CooldownUntil = &until
		}
	}
	return resp
}

// Handler handles rule endpoints.
type Handler struct {
	rules        storage.RuleRepository
	queryTimeout time.Duration
}

// NewHandler creates a new rules handler.
func NewHandler(rules storage.RuleRepository, queryTimeout time.Duration) *Handler {
	if queryTimeout <= 0 {
		queryTimeout = 10 * time.Second
	}
	return &Handler{rules: rules, queryTimeout: queryTimeout}
}

// ListByOwner returns the owner's rules.
func (h *Handler) ListByOwner(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	ctx, cancel := context.WithTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	list, err := h.rules.ListByOwner(ctx, owner)
	if err != nil {
		logger := logging.WithComponent("http")
		logger.Error().Err(err).Str("owner_id", owner).Msg("failed to list rules")
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "failed to list rules")
		return
	}

	now := time.Now().UTC()
	items := make([]RuleResponse, 0, len(list))
	for _, rule := range list {
		items = append(items, toResponse(rule, now))
	}
	jsonOK(w, map[string]any{"items": items, "count": len(items)})
}

// Get returns a single rule.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	rule, err := h.rules.GetByID(ctx, id)
	if err != nil {
		logger := logging.WithComponent("http")
		logger.Error().Err(err).Str("rule_id", id).Msg("failed to get rule")
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "failed to get rule")
		return
	}
	if rule == nil {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "rule not found")
		return
	}
	jsonOK(w, toResponse(rule, time.Now().UTC()))
}
