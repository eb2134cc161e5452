package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/good-yellow-bee/blazealert/internal/alerting"
	"github.com/good-yellow-bee/blazealert/internal/models"
	"github.com/good-yellow-bee/blazealert/internal/storage"
)

type countingEvaluator struct {
	mu     sync.Mutex
	events []string
}

func (e *countingEvaluator) Process(ctx context.Context, ev *models.ErrorEvent) alerting.Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev.ID)
	return alerting.Outcome{EventID: ev.ID}
}

type failingAppender struct{}

func (failingAppender) Append(ctx context.Context, ev *models.ErrorEvent) (bool, error) {
	return false, errors.New("database is locked")
}

func TestIngestorRecord(t *testing.T) {
	store := storage.NewMemoryStorage()
	eval := &countingEvaluator{}
	ing := NewIngestor(store.Events(), eval, nil)

	ev := &models.ErrorEvent{OwnerID: " owner-1 ", Type: models.ErrorTypeNotFound, Path: "/missing"}
	res, err := ing.Record(context.Background(), ev, SourceHTTP)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if res.EventID == "" || res.EventID != ev.ID {
		t.Errorf("expected generated event id, got %q", res.EventID)
	}
	if ev.OwnerID != "owner-1" {
		t.Errorf("expected trimmed owner, got %q", ev.OwnerID)
	}
	if ev.OccurredAt.IsZero() {
		t.Error("expected occurred_at to be filled")
	}
	if res.Outcome == nil {
		t.Fatal("expected an outcome")
	}

	n, _ := store.Events().Count(context.Background(), "owner-1", models.ErrorTypeNotFound, ev.OccurredAt, ev.OccurredAt)
	if n != 1 {
		t.Errorf("expected stored event, got count %d", n)
	}
}

func TestIngestorDuplicateStillEvaluated(t *testing.T) {
	store := storage.NewMemoryStorage()
	eval := &countingEvaluator{}
	ing := NewIngestor(store.Events(), eval, nil)

	at := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < 2; i++ {
		ev := &models.ErrorEvent{ID: "same", OwnerID: "o", Type: models.ErrorTypeAPIError, OccurredAt: at}
		res, err := ing.Record(context.Background(), ev, SourceKafka)
		if err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
		if res.Duplicate != (i == 1) {
			t.Errorf("record %d: expected duplicate=%v, got %v", i, i == 1, res.Duplicate)
		}
	}
	if len(eval.events) != 2 {
		t.Errorf("expected 2 evaluations, got %d", len(eval.events))
	}
}

func TestIngestorFutureTimestampClamped(t *testing.T) {
	store := storage.NewMemoryStorage()
	ing := NewIngestor(store.Events(), nil, nil)
	fixed := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	ing.now = func() time.Time { return fixed }

	ev := &models.ErrorEvent{OwnerID: "o", Type: models.ErrorTypeNotFound, OccurredAt: fixed.Add(time.Hour)}
	if _, err := ing.Record(context.Background(), ev, SourceHTTP); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !ev.OccurredAt.Equal(fixed) {
		t.Errorf("expected %v, got %v", fixed, ev.OccurredAt)
	}
}

func TestIngestorErrors(t *testing.T) {
	tests := []struct {
		name    string
		events  EventAppender
		event   *models.ErrorEvent
		wantErr error
	}{
		{"nil event", storage.NewMemoryStorage().Events(), nil, ErrInvalidEvent},
		{"missing owner", storage.NewMemoryStorage().Events(), &models.ErrorEvent{Type: models.ErrorTypeNotFound}, ErrInvalidEvent},
		{"bad type", storage.NewMemoryStorage().Events(), &models.ErrorEvent{OwnerID: "o", Type: "500"}, ErrInvalidEvent},
		{"store down", failingAppender{}, &models.ErrorEvent{OwnerID: "o", Type: models.ErrorTypeNotFound}, alerting.ErrStoreUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := &countingEvaluator{}
			ing := NewIngestor(tt.events, eval, nil)
			_, err := ing.Record(context.Background(), tt.event, SourceHTTP)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if len(eval.events) != 0 {
				t.Error("failed events must not be evaluated")
			}
		})
	}
}

func TestIngestorIgnoreFilter(t *testing.T) {
	store := storage.NewMemoryStorage()
	eval := &countingEvaluator{}
	filter, err := NewIgnoreFilter([]string{`path startsWith "/wp-"`})
	if err != nil {
		t.Fatalf("NewIgnoreFilter: %v", err)
	}
	ing := NewIngestor(store.Events(), eval, filter)

	res, err := ing.Record(context.Background(), &models.ErrorEvent{OwnerID: "o", Type: models.ErrorTypeNotFound, Path: "/wp-admin"}, SourceHTTP)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !res.Ignored {
		t.Error("expected event to be ignored")
	}
	if len(eval.events) != 0 {
		t.Error("ignored events must not be evaluated")
	}
	deleted, _ := store.Events().DeleteBefore(context.Background(), time.Now().Add(time.Hour))
	if deleted != 0 {
		t.Errorf("ignored events must not be stored, found %d", deleted)
	}
}

func TestIngestorEndToEnd(t *testing.T) {
	store := storage.NewMemoryStorage()
	rule := models.NewAlertRule("owner-1", "auth", models.ErrorTypeAuthFailure)
	rule.ID = "r1"
	rule.ThresholdCount = 3
	if err := store.Rules().Upsert(context.Background(), rule); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	engine := alerting.NewEngine(store.Rules(), store.Events(), nil, nil)
	ing := NewIngestor(store.Events(), engine, nil)

	fired := 0
	for i := 0; i < 5; i++ {
		res, err := ing.Record(context.Background(), &models.ErrorEvent{OwnerID: "owner-1", Type: models.ErrorTypeAuthFailure}, SourceHTTP)
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
		fired += res.Outcome.Fired
	}
	if fired != 1 {
		t.Errorf("expected 1 fire across the burst, got %d", fired)
	}
}

func TestPayloadToEvent(t *testing.T) {
	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	p := Payload{OwnerID: "o", ErrorType: "network_error", ErrorCode: "ECONNRESET", OccurredAt: &at}
	ev, err := p.ToEvent()
	if err != nil {
		t.Fatalf("ToEvent: %v", err)
	}
	if ev.Type != models.ErrorTypeNetworkError {
		t.Errorf("expected network_error, got %s", ev.Type)
	}
	if ev.OccurredAt.Location() != time.UTC || !ev.OccurredAt.Equal(at) {
		t.Errorf("expected UTC %v, got %v", at, ev.OccurredAt)
	}

	bad := []Payload{
		{ErrorType: "404"},
		{OwnerID: "o"},
		{OwnerID: "o", ErrorType: "teapot"},
	}
	for _, p := range bad {
		if _, err := p.ToEvent(); err == nil {
			t.Errorf("expected error for %+v", p)
		}
	}
}

type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	m := r.messages[0]
	r.messages = r.messages[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestKafkaConsumerRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{
		cancel: cancel,
		messages: []kafka.Message{
			{Offset: 1, Value: []byte(`{"owner_id":"o","error_type":"404","path":"/a"}`)},
			{Offset: 2, Value: []byte(`not json`)},
			{Offset: 3, Value: []byte(`{"owner_id":"o","error_type":"bogus"}`)},
			{Offset: 4, Value: []byte(`{"owner_id":"o","error_type":"api_error"}`)},
		},
	}
	store := storage.NewMemoryStorage()
	eval := &countingEvaluator{}
	c := NewKafkaConsumerWithReader(reader, NewIngestor(store.Events(), eval, nil))

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(reader.committed) != 4 {
		t.Errorf("expected all 4 messages committed, got %v", reader.committed)
	}
	if len(eval.events) != 2 {
		t.Errorf("expected 2 recorded events, got %d", len(eval.events))
	}
}

// cancellingRecorder cancels the consumer mid-record and remembers the
// context state evaluation saw.
type cancellingRecorder struct {
	cancel context.CancelFunc
	ctxErr error
	calls  int
}

func (r *cancellingRecorder) Record(ctx context.Context, ev *models.ErrorEvent, source string) (Result, error) {
	r.calls++
	r.cancel()
	r.ctxErr = ctx.Err()
	return Result{EventID: ev.ID}, nil
}

func TestKafkaConsumerShutdownMidMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{
		cancel: cancel,
		messages: []kafka.Message{
			{Offset: 7, Value: []byte(`{"owner_id":"o","error_type":"auth_error"}`)},
			{Offset: 8, Value: []byte(`{"owner_id":"o","error_type":"auth_error"}`)},
		},
	}
	rec := &cancellingRecorder{cancel: cancel}
	c := NewKafkaConsumerWithReader(reader, rec)

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.calls != 1 {
		t.Errorf("expected 1 record before stopping, got %d", rec.calls)
	}
	if rec.ctxErr != nil {
		t.Errorf("expected evaluation context to outlive shutdown, got %v", rec.ctxErr)
	}
	if len(reader.committed) != 1 || reader.committed[0] != 7 {
		t.Errorf("expected offset 7 committed, got %v", reader.committed)
	}
}

func TestKafkaRedeliveryStoresOneEvent(t *testing.T) {
	store := storage.NewMemoryStorage()
	eval := &countingEvaluator{}
	c := NewKafkaConsumerWithReader(&fakeReader{}, NewIngestor(store.Events(), eval, nil))

	msg := kafka.Message{Topic: "errors", Partition: 2, Offset: 42, Value: []byte(`{"owner_id":"o","error_type":"404"}`)}
	for i := 0; i < 2; i++ {
		if got := c.handle(context.Background(), msg); got != "ok" {
			t.Fatalf("handle %d: expected ok, got %s", i, got)
		}
	}

	now := time.Now().UTC()
	n, err := store.Events().Count(context.Background(), "o", models.ErrorTypeNotFound, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 stored event, got %d", n)
	}
	if len(eval.events) != 2 || eval.events[0] != eval.events[1] {
		t.Errorf("expected both deliveries to share an event id, got %v", eval.events)
	}

	other := msg
	other.Offset = 43
	if messageEventID(other) == messageEventID(msg) {
		t.Error("expected distinct offsets to get distinct ids")
	}
}

func TestKafkaConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     KafkaConfig
		wantErr bool
	}{
		{"empty", KafkaConfig{}, true},
		{"no topic", KafkaConfig{Brokers: []string{"localhost:9092"}}, true},
		{"no group", KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "errors"}, true},
		{"valid", KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "errors", GroupID: "blazealert"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestJanitorRunOnce(t *testing.T) {
	store := storage.NewMemoryStorage()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	for i, age := range []time.Duration{time.Hour, 40 * 24 * time.Hour, 31 * 24 * time.Hour} {
		ev := &models.ErrorEvent{ID: string(rune('a' + i)), OwnerID: "o", Type: models.ErrorTypeNotFound, OccurredAt: now.Add(-age)}
		store.Events().Append(context.Background(), ev)
	}

	j := NewJanitor(store.Events(), 30*24*time.Hour, time.Hour)
	n, err := j.RunOnce(context.Background(), now)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 purged, got %d", n)
	}
}
