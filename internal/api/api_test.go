package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/alerting"
	"github.com/good-yellow-bee/blazealert/internal/inbox"
	"github.com/good-yellow-bee/blazealert/internal/ingest"
	"github.com/good-yellow-bee/blazealert/internal/models"
	"github.com/good-yellow-bee/blazealert/internal/storage"
)

func testServer(t *testing.T, cfg *Config) (*Server, *storage.MemoryStorage) {
	t.Helper()
	store := storage.NewMemoryStorage()
	engine := alerting.NewEngine(store.Rules(), store.Events(), nil, nil)
	hub := inbox.NewHub()
	t.Cleanup(hub.Close)

	if cfg == nil {
		cfg = &Config{Address: ":0"}
	}
	srv, err := New(cfg, store, ingest.NewIngestor(store.Events(), engine, nil), hub)
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	t.Cleanup(srv.ingestLimiter.Close)
	srv.SetEngineStats(engine.Stats)
	return srv, store
}

func do(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewRequiresDependencies(t *testing.T) {
	store := storage.NewMemoryStorage()
	rec := ingest.NewIngestor(store.Events(), nil, nil)

	if _, err := New(nil, store, rec, nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := New(&Config{}, nil, rec, nil); err == nil {
		t.Error("expected error for nil storage")
	}
	if _, err := New(&Config{}, store, nil, nil); err == nil {
		t.Error("expected error for nil recorder")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()
	if cfg.Address != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.Address)
	}
	if cfg.IngestRatePerIP != 50 || cfg.IngestBurst != 100 {
		t.Errorf("unexpected ingest limits %v/%d", cfg.IngestRatePerIP, cfg.IngestBurst)
	}
	if cfg.TLSEnabled() {
		t.Error("expected TLS disabled without cert files")
	}
}

func TestRoutes(t *testing.T) {
	srv, _ := testServer(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"health", "GET", "/health", "", http.StatusOK},
		{"live", "GET", "/health/live", "", http.StatusOK},
		{"ready", "GET", "/health/ready", "", http.StatusOK},
		{"ingest", "POST", "/api/v1/errors", `{"owner_id":"o","error_type":"404"}`, http.StatusCreated},
		{"ingest invalid", "POST", "/api/v1/errors", `{"owner_id":"o","error_type":"500"}`, http.StatusBadRequest},
		{"notifications", "GET", "/api/v1/owners/o/notifications", "", http.StatusOK},
		{"rules", "GET", "/api/v1/owners/o/rules", "", http.StatusOK},
		{"contact", "PUT", "/api/v1/owners/o/contact", `{"email":"o@example.com"}`, http.StatusOK},
		{"mark read missing", "POST", "/api/v1/notifications/nope/read", "", http.StatusNotFound},
		{"rule missing", "GET", "/api/v1/rules/nope", "", http.StatusNotFound},
		{"stats", "GET", "/api/v1/stats", "", http.StatusOK},
		{"version", "GET", "/api/v1/version", "", http.StatusOK},
		{"summary", "GET", "/api/v1/owners/o/summary", "", http.StatusOK},
		{"unknown route", "GET", "/api/v1/unknown", "", http.StatusNotFound},
		{"wrong method", "DELETE", "/api/v1/errors", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(srv, tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			if rec.Header().Get("X-Request-ID") == "" {
				t.Error("expected X-Request-ID header")
			}
		})
	}
}

func TestNotFoundIsJSON(t *testing.T) {
	srv, _ := testServer(t, nil)
	rec := do(srv, "GET", "/nope", "")

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeNotFound {
		t.Errorf("expected NOT_FOUND error, got %+v", resp.Error)
	}
	if resp.RequestID == "" || resp.RequestID != rec.Header().Get("X-Request-ID") {
		t.Errorf("expected request id %q in body, got %q", rec.Header().Get("X-Request-ID"), resp.RequestID)
	}
}

func TestIngestRateLimited(t *testing.T) {
	srv, _ := testServer(t, &Config{Address: ":0", IngestRatePerIP: 0.001, IngestBurst: 2})

	body := `{"owner_id":"o","error_type":"api_error"}`
	for i := 0; i < 2; i++ {
		if rec := do(srv, "POST", "/api/v1/errors", body); rec.Code != http.StatusCreated {
			t.Fatalf("request %d: expected 201, got %d", i, rec.Code)
		}
	}
	rec := do(srv, "POST", "/api/v1/errors", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}

	// Reads are not limited.
	if rec := do(srv, "GET", "/api/v1/owners/o/rules", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200 for reads, got %d", rec.Code)
	}
}

func TestStatsReflectIngest(t *testing.T) {
	srv, _ := testServer(t, nil)
	do(srv, "POST", "/api/v1/errors", `{"owner_id":"o","error_type":"404"}`)

	rec := do(srv, "GET", "/api/v1/stats", "")
	var resp struct {
		Data alerting.EngineStats `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data.EventsEvaluated != 1 {
		t.Errorf("expected 1 evaluated event, got %d", resp.Data.EventsEvaluated)
	}
}

func TestOwnerSummary(t *testing.T) {
	srv, store := testServer(t, nil)
	ctx := context.Background()

	fired := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	for i, enabled := range []bool{true, true, false} {
		rule := models.NewAlertRule("owner-1", fmt.Sprintf("rule %d", i), models.ErrorTypeNotFound)
		rule.ID = fmt.Sprintf("r%d", i)
		rule.Enabled = enabled
		if err := store.Rules().Upsert(ctx, rule); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	if ok, err := store.Rules().TryMarkTriggered(ctx, "r1", fired, time.Hour); !ok || err != nil {
		t.Fatalf("TryMarkTriggered: %v %v", ok, err)
	}
	for _, ev := range []string{"e1", "e2"} {
		if _, err := store.Notifications().Insert(ctx, models.NewNotification("owner-1", "r0", ev)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := store.Contacts().Upsert(ctx, &models.Contact{OwnerID: "owner-1", Email: "a@example.com"}); err != nil {
		t.Fatalf("Upsert contact: %v", err)
	}

	rec := do(srv, "GET", "/api/v1/owners/owner-1/summary", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Data OwnerSummary `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := resp.Data
	if got.Rules != 3 || got.EnabledRules != 2 {
		t.Errorf("expected 3 rules with 2 enabled, got %d/%d", got.Rules, got.EnabledRules)
	}
	if got.Unread != 2 || got.UnreadTruncated {
		t.Errorf("expected 2 unread, got %d (truncated=%v)", got.Unread, got.UnreadTruncated)
	}
	if !got.EmailConfigured {
		t.Error("expected email to be configured")
	}
	if got.LastFiredAt == nil || !got.LastFiredAt.Equal(fired) {
		t.Errorf("expected last fired %v, got %v", fired, got.LastFiredAt)
	}
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", fmt.Errorf("mark read: %w", storage.ErrNotFound), http.StatusNotFound, ErrCodeNotFound},
		{"invalid event", fmt.Errorf("%w: bad type", ingest.ErrInvalidEvent), http.StatusBadRequest, ErrCodeValidationFailed},
		{"store down", fmt.Errorf("%w: locked", alerting.ErrStoreUnavailable), http.StatusServiceUnavailable, ErrCodeServiceUnavailable},
		{"timeout", fmt.Errorf("query: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, ErrCodeTimeout},
		{"api error", NewNotFound("rule missing"), http.StatusNotFound, ErrCodeNotFound},
		{"other", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromError(tt.err)
			if got.Status != tt.wantStatus || got.Code != tt.wantCode {
				t.Errorf("expected %d %s, got %d %s", tt.wantStatus, tt.wantCode, got.Status, got.Code)
			}
		})
	}

	if FromError(nil) != nil {
		t.Error("expected nil for nil error")
	}
}
