package rules

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/blazealert/internal/models"
	"github.com/good-yellow-bee/blazealert/internal/storage"
)

type failingRules struct {
	storage.RuleRepository
}

func (failingRules) ListByOwner(ctx context.Context, ownerID string) ([]*models.AlertRule, error) {
	return nil, errors.New("database is locked")
}

func router(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/owners/{owner}/rules", h.ListByOwner)
	r.Get("/rules/{id}", h.Get)
	return r
}

func TestListByOwner(t *testing.T) {
	store := storage.NewMemoryStorage()
	ctx := context.Background()
	for _, tc := range []struct{ id, owner, name string }{
		{"r1", "owner-1", "auth failures"},
		{"r2", "owner-1", "api errors"},
		{"r3", "owner-2", "404s"},
	} {
		rule := models.NewAlertRule(tc.owner, tc.name, models.ErrorTypeAPIError)
		rule.ID = tc.id
		store.Rules().Upsert(ctx, rule)
	}
	store.Rules().TryMarkTriggered(ctx, "r1", time.Now().UTC(), time.Hour)

	rec := httptest.NewRecorder()
	router(NewHandler(store.Rules(), 0)).ServeHTTP(rec, httptest.NewRequest("GET", "/owners/owner-1/rules", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Data struct {
			Items []struct {
				ID            string     `json:"id"`
				OwnerID       string     `json:"owner_id"`
				CooldownUntil *time.Time `json:"cooldown_until"`
			} `json:"items"`
			Count int `json:"count"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.Count != 2 {
		t.Fatalf("expected 2 rules, got %d", body.Data.Count)
	}
	for _, item := range body.Data.Items {
		if item.OwnerID != "owner-1" {
			t.Errorf("leaked rule for %s", item.OwnerID)
		}
		if item.ID == "r1" && item.CooldownUntil == nil {
			t.Error("expected cooldown_until for triggered rule")
		}
		if item.ID == "r2" && item.CooldownUntil != nil {
			t.Error("expected no cooldown for untriggered rule")
		}
	}
}

func TestListByOwnerStoreError(t *testing.T) {
	rec := httptest.NewRecorder()
	router(NewHandler(failingRules{}, 0)).ServeHTTP(rec, httptest.NewRequest("GET", "/owners/o/rules", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestGet(t *testing.T) {
	store := storage.NewMemoryStorage()
	rule := models.NewAlertRule("owner-1", "auth failures", models.ErrorTypeAuthFailure)
	rule.ID = "r1"
	store.Rules().Upsert(context.Background(), rule)
	h := router(NewHandler(store.Rules(), 0))

	tests := []struct {
		path string
		want int
	}{
		{"/rules/r1", http.StatusOK},
		{"/rules/missing", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest("GET", tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}
