// Package events implements the error event ingest endpoint.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/good-yellow-bee/blazealert/internal/alerting"
	"github.com/good-yellow-bee/blazealert/internal/api/middleware"
	"github.com/good-yellow-bee/blazealert/internal/ingest"
	"github.com/good-yellow-bee/blazealert/internal/logging"
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
	errCodeBadRequest         = "BAD_REQUEST"
	errCodeValidationFailed   = "VALIDATION_FAILED"
	errCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	errCodeInternalError      = "INTERNAL_ERROR"
)

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Code: code, Message: message}}); err != nil {
		logger := logging.WithComponent("http")
		logger.Warn().Err(err).Msg("json encode error")
	}
}

func jsonCreated(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(dataResponse{Data: data}); err != nil {
		logger := logging.WithComponent("http")
		logger.Warn().Err(err).Msg("json encode error")
	}
}

// OutcomeResponse summarizes alert evaluation for the recorded event.
type OutcomeResponse struct {
	Success          bool                   `json:"success"`
	ProcessedConfigs int                    `json:"processed_configs"`
	Fired            int                    `json:"fired"`
	Suppressed       int                    `json:"suppressed"`
	Failed           int                    `json:"failed"`
	DispatchFailures int                    `json:"dispatch_failures"`
	Rules            []alerting.RuleOutcome `json:"rules,omitempty"`
	Error            string                 `json:"error,omitempty"`
}

// EventResponse is returned for an accepted event.
type EventResponse struct {
	EventID   string           `json:"event_id"`
	Duplicate bool             `json:"duplicate,omitempty"`
	Ignored   bool             `json:"ignored,omitempty"`
	IgnoredBy string           `json:"ignored_by,omitempty"`
	Outcome   *OutcomeResponse `json:"outcome,omitempty"`
}

func toEventResponse(res ingest.Result) EventResponse {
	resp := EventResponse{
		EventID:   res.EventID,
		Duplicate: res.Duplicate,
		Ignored:   res.Ignored,
		IgnoredBy: res.IgnoredBy,
	}
	if o := res.Outcome; o != nil {
		resp.Outcome = &OutcomeResponse{
			Success:          o.Err == nil,
			ProcessedConfigs: o.Evaluated,
			Fired:            o.Fired,
			Suppressed:       o.Suppressed,
			Failed:           o.Failed,
			DispatchFailures: o.DispatchFailures,
			Rules:            o.Rules,
			Error:            o.Error,
		}
	}
	return resp
}

// Handler handles the ingest endpoint.
type Handler struct {
	recorder ingest.Recorder
	maxBody  int64
}

// NewHandler creates a new events handler. maxBody caps the request size.
func NewHandler(recorder ingest.Recorder, maxBody int64) *Handler {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Handler{recorder: recorder, maxBody: maxBody}
}

// Create records one error event and evaluates it against the owner's rules.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var p ingest.Payload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err := dec.Decode(&p); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	if p.IPAddress == "" {
		p.IPAddress = middleware.ClientIP(r)
	}
	if p.UserAgent == "" {
		p.UserAgent = r.UserAgent()
	}

	ev, err := p.ToEvent()
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	// Evaluation continues if the client goes away: a won cooldown must
	// still be followed by dispatch.
	res, err := h.recorder.Record(context.WithoutCancel(r.Context()), ev, ingest.SourceHTTP)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrInvalidEvent):
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		case errors.Is(err, alerting.ErrStoreUnavailable):
			jsonError(w, http.StatusServiceUnavailable, errCodeServiceUnavailable, "event store unavailable")
		default:
			logger := logging.WithComponent("http")
			logger.Error().Err(err).Str("event_id", res.EventID).Msg("failed to record event")
			jsonError(w, http.StatusInternalServerError, errCodeInternalError, "failed to record event")
		}
		return
	}

	jsonCreated(w, toEventResponse(res))
}
