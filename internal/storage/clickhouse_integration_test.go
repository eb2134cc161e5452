//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// Integration tests require running ClickHouse.
// Run with: go test -tags=integration ./internal/storage/...

func setupClickHouseTest(t *testing.T) (*ClickHouseStorage, func()) {
	t.Helper()

	config := &ClickHouseConfig{
		Addresses:     []string{"localhost:9000"},
		Database:      "blazealert_test",
		Username:      "default",
		Password:      "",
		MaxOpenConns:  2,
		MaxIdleConns:  2,
		DialTimeout:   5 * time.Second,
		Compression:   true,
		RetentionDays: 1,
	}

	storage := NewClickHouseStorage(config)
	if err := storage.Open(); err != nil {
		t.Skipf("ClickHouse not available: %v", err)
	}

	if err := storage.Migrate(); err != nil {
		storage.Close()
		t.Fatalf("migrate: %v", err)
	}

	cleanup := func() {
		storage.db.Exec("TRUNCATE TABLE error_events")
		storage.Close()
	}

	return storage, cleanup
}

func TestClickHouseEvents_AppendCount_Integration(t *testing.T) {
	store, cleanup := setupClickHouseTest(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 3; i++ {
		ev := models.NewErrorEvent("owner-ch", models.ErrorTypeAPIError)
		ev.OccurredAt = now.Add(time.Duration(-i) * time.Minute)
		if _, err := store.Events().Append(ctx, ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	count, err := store.Events().Count(ctx, "owner-ch", models.ErrorTypeAPIError, now.Add(-2*time.Minute), now)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Errorf("expected count 3, got %d", count)
	}
}

func TestClickHouseEvents_AppendDuplicate_Integration(t *testing.T) {
	store, cleanup := setupClickHouseTest(t)
	defer cleanup()
	ctx := context.Background()

	ev := models.NewErrorEvent("owner-ch", models.ErrorTypeNotFound)
	if created, err := store.Events().Append(ctx, ev); err != nil || !created {
		t.Fatalf("first append: created=%v err=%v", created, err)
	}
	created, err := store.Events().Append(ctx, ev)
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if created {
		t.Error("expected duplicate append to report false")
	}
}
