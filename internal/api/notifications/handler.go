// Package notifications serves the in-app notification inbox: listing,
// acknowledgement and a live websocket stream of new notifications.
package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/good-yellow-bee/blazealert/internal/inbox"
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
	errCodeBadRequest         = "BAD_REQUEST"
	errCodeNotFound           = "NOT_FOUND"
	errCodeRateLimited        = "RATE_LIMITED"
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

func jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(dataResponse{Data: data}); err != nil {
		logger := logging.WithComponent("http")
		logger.Warn().Err(err).Msg("json encode error")
	}
}

func jsonNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// ListResponse is the inbox listing.
type ListResponse struct {
	Items []*models.Notification `json:"items"`
	Count int                    `json:"count"`
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Handler handles notification endpoints.
type Handler struct {
	notifications storage.NotificationRepository
	hub           *inbox.Hub
	queryTimeout  time.Duration
	streamMax     time.Duration
	upgrader      websocket.Upgrader
}

// NewHandler creates a new notifications handler. hub may be nil when
// streaming is disabled.
func NewHandler(notifications storage.NotificationRepository, hub *inbox.Hub, queryTimeout, streamMax time.Duration) *Handler {
	if queryTimeout <= 0 {
		queryTimeout = 10 * time.Second
	}
	if streamMax <= 0 {
		streamMax = 30 * time.Minute
	}
	return &Handler{
		notifications: notifications,
		hub:           hub,
		queryTimeout:  queryTimeout,
		streamMax:     streamMax,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// List returns an owner's notifications, newest first.
// Query parameters: unread=true, limit=N.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	var filter storage.NotificationFilter
	if v := r.URL.Query().Get("unread"); v != "" {
		unread, err := strconv.ParseBool(v)
		if err != nil {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, "unread must be a boolean")
			return
		}
		filter.UnreadOnly = unread
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	items, err := h.notifications.ListByOwner(ctx, owner, filter)
	if err != nil {
		logger := logging.WithComponent("http")
		logger.Error().Err(err).Str("owner_id", owner).Msg("failed to list notifications")
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "failed to list notifications")
		return
	}
	if items == nil {
		items = []*models.Notification{}
	}

	jsonOK(w, ListResponse{Items: items, Count: len(items)})
}

// MarkRead acknowledges a notification. Marking twice is not an error.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	if err := h.notifications.MarkRead(ctx, id, time.Now().UTC()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			jsonError(w, http.StatusNotFound, errCodeNotFound, "notification not found")
			return
		}
		logger := logging.WithComponent("http")
		logger.Error().Err(err).Str("notification_id", id).Msg("failed to mark notification read")
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "failed to mark notification read")
		return
	}

	jsonNoContent(w)
}

// Stream upgrades to a websocket and pushes each new notification for the
// owner as a JSON text frame. The server closes the stream after the
// configured maximum duration; clients reconnect.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		jsonError(w, http.StatusServiceUnavailable, errCodeServiceUnavailable, "notification stream disabled")
		return
	}
	owner := chi.URLParam(r, "owner")

	sub, err := h.hub.Subscribe(owner)
	if err != nil {
		switch {
		case errors.Is(err, inbox.ErrTooManySubscribers):
			jsonError(w, http.StatusTooManyRequests, errCodeRateLimited, "too many open streams for owner")
		default:
			jsonError(w, http.StatusServiceUnavailable, errCodeServiceUnavailable, "notification stream unavailable")
		}
		return
	}
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		return
	}
	defer conn.Close()

	logger := logging.WithComponent("http").With().Str("owner_id", owner).Logger()
	logger.Debug().Msg("notification stream opened")

	// Reader: handles pongs and notices client close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	maxTimer := time.NewTimer(h.streamMax)
	defer maxTimer.Stop()

	closeWith := func(code int, text string) {
		msg := websocket.FormatCloseMessage(code, text)
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	}

	for {
		select {
		case <-done:
			logger.Debug().Msg("notification stream closed by client")
			return
		case <-maxTimer.C:
			closeWith(websocket.CloseNormalClosure, "stream duration exceeded")
			return
		case n, ok := <-sub.C():
			if !ok {
				closeWith(websocket.CloseGoingAway, "server shutting down")
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(n); err != nil {
				logger.Debug().Err(err).Msg("notification stream write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
