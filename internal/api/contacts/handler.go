// Package contacts manages where owners receive email alerts.
package contacts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/mail"
	"strings"
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
	errCodeBadRequest       = "BAD_REQUEST"
	errCodeValidationFailed = "VALIDATION_FAILED"
	errCodeInternalError    = "INTERNAL_ERROR"
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

// PutRequest sets an owner's contact.
type PutRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Validate validates the request.
func (r *PutRequest) Validate() string {
	r.Email = strings.TrimSpace(r.Email)
	if r.Email == "" {
		return "email is required"
	}
	addr, err := mail.ParseAddress(r.Email)
	if err != nil || addr.Address != r.Email {
		return "email must be a plain address"
	}
	if len(r.Name) > 200 {
		return "name must be 200 characters or less"
	}
	return ""
}

// Handler handles contact endpoints.
type Handler struct {
	contacts     storage.ContactRepository
	queryTimeout time.Duration
}

// NewHandler creates a new contacts handler.
func NewHandler(contacts storage.ContactRepository, queryTimeout time.Duration) *Handler {
	if queryTimeout <= 0 {
		queryTimeout = 10 * time.Second
	}
	return &Handler{contacts: contacts, queryTimeout: queryTimeout}
}

// Put creates or replaces the owner's contact.
func (h *Handler) Put(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	var req PutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}
	if msg := req.Validate(); msg != "" {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, msg)
		return
	}

	contact := &models.Contact{
		OwnerID:   owner,
		Email:     req.Email,
		Name:      req.Name,
		UpdatedAt: time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	if err := h.contacts.Upsert(ctx, contact); err != nil {
		logger := logging.WithComponent("http")
		logger.Error().Err(err).Str("owner_id", owner).Msg("failed to save contact")
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "failed to save contact")
		return
	}

	jsonOK(w, contact)
}
