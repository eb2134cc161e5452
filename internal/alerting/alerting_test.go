package alerting

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
	"github.com/good-yellow-bee/blazealert/internal/storage"
)

var baseTime = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type recordingDispatcher struct {
	mu        sync.Mutex
	decisions []Decision
	result    DispatchResult
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, rule *models.AlertRule, decision Decision) DispatchResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.decisions = append(d.decisions, decision)
	r := d.result
	if r.InApp == "" {
		r.InApp = ChannelSent
	}
	if r.Email == "" {
		r.Email = ChannelSkipped
	}
	return r
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.decisions)
}

type fixture struct {
	store      *storage.MemoryStorage
	engine     *Engine
	dispatcher *recordingDispatcher
	seq        int
}

func newFixture(t *testing.T, rules ...*models.AlertRule) *fixture {
	t.Helper()
	store := storage.NewMemoryStorage()
	for _, r := range rules {
		if err := store.Rules().Upsert(context.Background(), r); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	d := &recordingDispatcher{}
	return &fixture{
		store:      store,
		engine:     NewEngine(store.Rules(), store.Events(), d, nil),
		dispatcher: d,
	}
}

func testRule(id string) *models.AlertRule {
	r := models.NewAlertRule("owner-1", "too many 404s", models.ErrorTypeNotFound)
	r.ID = id
	return r
}

// record stores an event at the given time and evaluates it there.
func (f *fixture) record(t *testing.T, owner string, typ models.ErrorType, at time.Time) Outcome {
	t.Helper()
	f.seq++
	ev := &models.ErrorEvent{
		ID:         fmt.Sprintf("ev-%d", f.seq),
		OwnerID:    owner,
		Type:       typ,
		OccurredAt: at,
	}
	if _, err := f.store.Events().Append(context.Background(), ev); err != nil {
		t.Fatalf("Append: %v", err)
	}
	return f.engine.ProcessAt(context.Background(), ev, at)
}

// insert stores an event without evaluating it.
func (f *fixture) insert(t *testing.T, owner string, typ models.ErrorType, at time.Time) {
	t.Helper()
	f.seq++
	ev := &models.ErrorEvent{ID: fmt.Sprintf("ev-%d", f.seq), OwnerID: owner, Type: typ, OccurredAt: at}
	if _, err := f.store.Events().Append(context.Background(), ev); err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func (f *fixture) lastTriggered(t *testing.T, id string) *time.Time {
	t.Helper()
	r, err := f.store.Rules().GetByID(context.Background(), id)
	if err != nil || r == nil {
		t.Fatalf("GetByID(%s): %v", id, err)
	}
	return r.LastTriggeredAt
}

func TestRuleValidation(t *testing.T) {
	tests := []struct {
		name    string
		rule    Rule
		wantErr bool
		errMsg  string
	}{
		{
			name:    "empty name",
			rule:    Rule{},
			wantErr: true,
			errMsg:  "name is required",
		},
		{
			name:    "missing owner",
			rule:    Rule{Name: "r", Types: []string{"404"}},
			wantErr: true,
			errMsg:  "owner is required",
		},
		{
			name:    "missing types",
			rule:    Rule{Name: "r", Owner: "o"},
			wantErr: true,
			errMsg:  "at least one type",
		},
		{
			name:    "unknown type",
			rule:    Rule{Name: "r", Owner: "o", Types: []string{"500"}},
			wantErr: true,
			errMsg:  "invalid type",
		},
		{
			name:    "negative threshold",
			rule:    Rule{Name: "r", Owner: "o", Types: []string{"404"}, Threshold: -1},
			wantErr: true,
			errMsg:  "threshold must be positive",
		},
		{
			name:    "sub-minute window",
			rule:    Rule{Name: "r", Owner: "o", Types: []string{"404"}, Window: "30s"},
			wantErr: true,
			errMsg:  "invalid window",
		},
		{
			name:    "fractional window",
			rule:    Rule{Name: "r", Owner: "o", Types: []string{"404"}, Window: "90s"},
			wantErr: true,
			errMsg:  "whole number of minutes",
		},
		{
			name:    "bad cooldown",
			rule:    Rule{Name: "r", Owner: "o", Types: []string{"404"}, Cooldown: "soon"},
			wantErr: true,
			errMsg:  "invalid cooldown",
		},
		{
			name:    "unknown channel",
			rule:    Rule{Name: "r", Owner: "o", Types: []string{"404"}, Notify: []string{"pager"}},
			wantErr: true,
			errMsg:  "invalid notify channel",
		},
		{
			name:    "defaults",
			rule:    Rule{Name: "r", Owner: "o", Types: []string{"404", "auth_error"}},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("expected error containing %q, got %q", tt.errMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestRuleDefaultsAndModel(t *testing.T) {
	r := &Rule{Name: "auth spikes", Owner: "owner-1", Types: []string{"auth_error"}}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	m := r.ToModel(baseTime)
	if m.ThresholdCount != models.DefaultThresholdCount {
		t.Errorf("expected threshold %d, got %d", models.DefaultThresholdCount, m.ThresholdCount)
	}
	if m.WindowMinutes != models.DefaultWindowMinutes {
		t.Errorf("expected window %d, got %d", models.DefaultWindowMinutes, m.WindowMinutes)
	}
	if m.Cooldown() != time.Hour {
		t.Errorf("expected cooldown to default to window, got %v", m.Cooldown())
	}
	if !m.HasChannel(models.ChannelInApp) || m.HasChannel(models.ChannelEmail) {
		t.Errorf("expected in-app only, got %v", m.Channels)
	}
	if m.Severity != models.SeverityError {
		t.Errorf("expected severity error, got %s", m.Severity)
	}
	if err := m.Validate(); err != nil {
		t.Errorf("model should validate: %v", err)
	}

	again := &Rule{Name: "auth spikes", Owner: "owner-1", Types: []string{"auth_error"}}
	if err := again.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if again.ID != r.ID {
		t.Errorf("expected stable id %s, got %s", r.ID, again.ID)
	}
}

func TestLoadRulesFromBytes(t *testing.T) {
	yamlData := `
rules:
  - name: "404 burst"
    owner: "owner-1"
    types: ["404"]
    threshold: 5
    window: "10m"
    notify: ["in_app", "email"]
  - name: "auth failures"
    owner: "owner-1"
    types: ["auth_error"]
    cooldown: "30m"
    severity: critical
    enabled: false
`
	rules, err := LoadRulesFromBytes([]byte(yamlData))
	if err != nil {
		t.Fatalf("LoadRulesFromBytes: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}

	first := rules[0].ToModel(baseTime)
	if first.ThresholdCount != 5 || first.WindowMinutes != 10 {
		t.Errorf("expected threshold 5 window 10, got %d %d", first.ThresholdCount, first.WindowMinutes)
	}
	if !first.HasChannel(models.ChannelEmail) {
		t.Error("expected email channel")
	}

	second := rules[1].ToModel(baseTime)
	if second.Enabled {
		t.Error("expected second rule disabled")
	}
	if second.CooldownMinutes != 30 || second.Cooldown() != 30*time.Minute {
		t.Errorf("expected 30m cooldown, got %v", second.Cooldown())
	}
	if second.Severity != models.SeverityCritical {
		t.Errorf("expected critical, got %s", second.Severity)
	}
}

func TestLoadRulesErrors(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		errMsg string
	}{
		{"bad yaml", "rules: [", "failed to parse rules YAML"},
		{"invalid rule", "rules:\n  - name: x\n    owner: o\n    types: [\"nope\"]\n", "invalid rule at index 0"},
		{"duplicate", "rules:\n  - {name: x, owner: o, types: [\"404\"]}\n  - {name: x, owner: o, types: [\"404\"]}\n", "duplicate id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRulesFromBytes([]byte(tt.data))
			if err == nil || !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("expected error containing %q, got %v", tt.errMsg, err)
			}
		})
	}
}

func TestWindowBounds(t *testing.T) {
	r := testRule("r1")
	start, end := WindowBounds(r, baseTime)
	if !end.Equal(baseTime) {
		t.Errorf("expected end %v, got %v", baseTime, end)
	}
	if !start.Equal(baseTime.Add(-time.Hour)) {
		t.Errorf("expected start %v, got %v", baseTime.Add(-time.Hour), start)
	}
}

func TestWindowCounterInclusiveBounds(t *testing.T) {
	store := storage.NewMemoryStorage()
	ctx := context.Background()
	for i, at := range []time.Time{
		baseTime.Add(-time.Hour),                  // lower bound
		baseTime.Add(-time.Hour - time.Nanosecond), // just outside
		baseTime,                                   // upper bound
		baseTime.Add(time.Nanosecond),              // future
	} {
		ev := &models.ErrorEvent{ID: fmt.Sprintf("e%d", i), OwnerID: "o", Type: models.ErrorTypeNotFound, OccurredAt: at}
		if _, err := store.Events().Append(ctx, ev); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	c := NewWindowCounter(store.Events())
	n, err := c.Count(ctx, "o", models.ErrorTypeNotFound, baseTime.Add(-time.Hour), baseTime)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2, got %d", n)
	}

	n, _ = c.Count(ctx, "o", models.ErrorTypeNotFound, baseTime, baseTime.Add(-time.Minute))
	if n != 0 {
		t.Errorf("expected 0 for inverted bounds, got %d", n)
	}
}

func TestIsSuppressed(t *testing.T) {
	fired := baseTime
	tests := []struct {
		name string
		last *time.Time
		now  time.Time
		want bool
	}{
		{"never fired", nil, baseTime, false},
		{"same instant", &fired, baseTime, true},
		{"five minutes later", &fired, baseTime.Add(5 * time.Minute), true},
		{"just before expiry", &fired, baseTime.Add(time.Hour - time.Nanosecond), true},
		{"at expiry", &fired, baseTime.Add(time.Hour), false},
		{"after expiry", &fired, baseTime.Add(61 * time.Minute), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testRule("r1")
			r.LastTriggeredAt = tt.last
			if got := IsSuppressed(r, tt.now); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}

	r := testRule("r1")
	r.LastTriggeredAt = &fired
	if got := CooldownRemaining(r, baseTime.Add(45*time.Minute)); got != 15*time.Minute {
		t.Errorf("expected 15m remaining, got %v", got)
	}
}

func TestEngineNoFireBelowThreshold(t *testing.T) {
	f := newFixture(t, testRule("r1"))

	for i := 0; i < 9; i++ {
		out := f.record(t, "owner-1", models.ErrorTypeNotFound, baseTime.Add(time.Duration(i)*time.Minute))
		if out.Fired != 0 {
			t.Fatalf("event %d: expected no fire, got %d", i+1, out.Fired)
		}
		if out.Evaluated != 1 {
			t.Fatalf("event %d: expected 1 evaluated, got %d", i+1, out.Evaluated)
		}
		if out.Rules[0].State != StateIdle {
			t.Errorf("event %d: expected idle, got %s", i+1, out.Rules[0].State)
		}
	}
	if f.dispatcher.count() != 0 {
		t.Errorf("expected no dispatch, got %d", f.dispatcher.count())
	}
	if f.lastTriggered(t, "r1") != nil {
		t.Error("expected lastTriggeredAt to stay nil")
	}
}

func TestEngineFireAtThreshold(t *testing.T) {
	f := newFixture(t, testRule("r1"))

	for i := 0; i < 9; i++ {
		f.record(t, "owner-1", models.ErrorTypeNotFound, baseTime.Add(time.Duration(i)*time.Minute))
	}
	now := baseTime.Add(10 * time.Minute)
	out := f.record(t, "owner-1", models.ErrorTypeNotFound, now)

	if out.Fired != 1 {
		t.Fatalf("expected 1 fire, got %d", out.Fired)
	}
	ro := out.Rules[0]
	if ro.State != StateFired || ro.Decision == nil {
		t.Fatalf("expected fired decision, got %+v", ro)
	}
	if ro.Decision.MatchedCount != 10 {
		t.Errorf("expected matched count 10, got %d", ro.Decision.MatchedCount)
	}
	if ro.Decision.SourceEventID != out.EventID {
		t.Errorf("expected source event %s, got %s", out.EventID, ro.Decision.SourceEventID)
	}
	if !ro.Decision.WindowStart.Equal(now.Add(-time.Hour)) || !ro.Decision.WindowEnd.Equal(now) {
		t.Errorf("unexpected window [%v, %v]", ro.Decision.WindowStart, ro.Decision.WindowEnd)
	}

	last := f.lastTriggered(t, "r1")
	if last == nil || !last.Equal(now) {
		t.Errorf("expected lastTriggeredAt %v, got %v", now, last)
	}
	if f.dispatcher.count() != 1 {
		t.Errorf("expected 1 dispatch, got %d", f.dispatcher.count())
	}
}

func TestEngineCooldown(t *testing.T) {
	f := newFixture(t, testRule("r1"))

	for i := 0; i < 10; i++ {
		f.record(t, "owner-1", models.ErrorTypeNotFound, baseTime.Add(time.Duration(i)*time.Second))
	}
	fired := baseTime.Add(9 * time.Second)
	if f.dispatcher.count() != 1 {
		t.Fatalf("expected first fire, got %d dispatches", f.dispatcher.count())
	}

	// Still over threshold five minutes later, but on cooldown.
	out := f.record(t, "owner-1", models.ErrorTypeNotFound, fired.Add(5*time.Minute))
	if out.Fired != 0 || out.Suppressed != 1 {
		t.Fatalf("expected suppressed, got fired=%d suppressed=%d", out.Fired, out.Suppressed)
	}
	if out.Rules[0].State != StateSuppressed {
		t.Errorf("expected suppressed state, got %s", out.Rules[0].State)
	}

	// 61 minutes after the fire, with a fresh burst in the window.
	release := fired.Add(61 * time.Minute)
	for i := 0; i < 9; i++ {
		f.insert(t, "owner-1", models.ErrorTypeNotFound, release.Add(-time.Duration(9-i)*time.Second))
	}
	out = f.record(t, "owner-1", models.ErrorTypeNotFound, release)
	if out.Fired != 1 {
		t.Fatalf("expected refire after cooldown, got %+v", out)
	}
	if f.dispatcher.count() != 2 {
		t.Errorf("expected 2 dispatches, got %d", f.dispatcher.count())
	}
	last := f.lastTriggered(t, "r1")
	if last == nil || !last.Equal(release) {
		t.Errorf("expected lastTriggeredAt %v, got %v", release, last)
	}
}

func TestEngineSeparateCooldown(t *testing.T) {
	r := testRule("r1")
	r.ThresholdCount = 1
	r.WindowMinutes = 60
	r.CooldownMinutes = 5
	f := newFixture(t, r)

	f.record(t, "owner-1", models.ErrorTypeNotFound, baseTime)
	out := f.record(t, "owner-1", models.ErrorTypeNotFound, baseTime.Add(6*time.Minute))
	if out.Fired != 1 {
		t.Errorf("expected fire once 5m cooldown elapsed, got %+v", out)
	}
}

func TestEngineConcurrentRace(t *testing.T) {
	f := newFixture(t, testRule("r1"))
	ctx := context.Background()

	now := baseTime.Add(time.Minute)
	var events []*models.ErrorEvent
	for i := 0; i < 10; i++ {
		ev := &models.ErrorEvent{ID: fmt.Sprintf("burst-%d", i), OwnerID: "owner-1", Type: models.ErrorTypeNotFound, OccurredAt: now}
		if _, err := f.store.Events().Append(ctx, ev); err != nil {
			t.Fatalf("Append: %v", err)
		}
		events = append(events, ev)
	}

	var wg sync.WaitGroup
	outcomes := make([]Outcome, len(events))
	for i, ev := range events {
		wg.Add(1)
		go func(i int, ev *models.ErrorEvent) {
			defer wg.Done()
			outcomes[i] = f.engine.ProcessAt(ctx, ev, now)
		}(i, ev)
	}
	wg.Wait()

	fired, suppressed := 0, 0
	for _, out := range outcomes {
		fired += out.Fired
		suppressed += out.Suppressed
	}
	if fired != 1 {
		t.Errorf("expected exactly 1 fire, got %d", fired)
	}
	if suppressed != len(events)-1 {
		t.Errorf("expected %d suppressed, got %d", len(events)-1, suppressed)
	}
	if f.dispatcher.count() != 1 {
		t.Errorf("expected 1 dispatch, got %d", f.dispatcher.count())
	}
}

func TestEngineOwnerAndTypeScoping(t *testing.T) {
	r := testRule("r1")
	r.ThresholdCount = 1
	other := models.NewAlertRule("owner-2", "other owner", models.ErrorTypeNotFound)
	other.ID = "r2"
	other.ThresholdCount = 1
	disabled := testRule("r3")
	disabled.ThresholdCount = 1
	disabled.Enabled = false
	f := newFixture(t, r, other, disabled)

	out := f.record(t, "owner-1", models.ErrorTypeAuthFailure, baseTime)
	if out.Evaluated != 0 {
		t.Errorf("expected no rules for unmonitored type, got %d", out.Evaluated)
	}

	out = f.record(t, "owner-1", models.ErrorTypeNotFound, baseTime)
	if out.Evaluated != 1 || out.Fired != 1 {
		t.Fatalf("expected only owner-1's enabled rule, got %+v", out)
	}
	if out.Rules[0].RuleID != "r1" {
		t.Errorf("expected r1, got %s", out.Rules[0].RuleID)
	}
}

func TestEngineInvalidRuleSkipped(t *testing.T) {
	bad := testRule("bad")
	bad.ThresholdCount = 0
	good := testRule("good")
	good.ThresholdCount = 1
	f := newFixture(t, bad, good)

	out := f.record(t, "owner-1", models.ErrorTypeNotFound, baseTime)
	if out.Evaluated != 2 {
		t.Fatalf("expected 2 evaluated, got %d", out.Evaluated)
	}
	if out.Fired != 1 || out.Failed != 1 {
		t.Errorf("expected 1 fired and 1 failed, got %+v", out)
	}
	for _, ro := range out.Rules {
		switch ro.RuleID {
		case "bad":
			if ro.State != StateInvalid || !errors.Is(ro.Err, ErrInvalidRule) {
				t.Errorf("expected invalid rule outcome, got %+v", ro)
			}
		case "good":
			if ro.State != StateFired {
				t.Errorf("expected good rule fired, got %s", ro.State)
			}
		}
	}
	if f.lastTriggered(t, "bad") != nil {
		t.Error("invalid rule must not be marked triggered")
	}
	if out.Retryable() {
		t.Error("invalid rules are not retryable")
	}
	if f.engine.Stats().InvalidRules != 1 {
		t.Errorf("expected 1 invalid rule stat, got %d", f.engine.Stats().InvalidRules)
	}
}

type flakyRules struct {
	RuleStore
	failMatch bool
	failMark  string
}

func (f *flakyRules) Match(ctx context.Context, t models.ErrorType, owner string) ([]*models.AlertRule, error) {
	if f.failMatch {
		return nil, errors.New("connection refused")
	}
	return f.RuleStore.Match(ctx, t, owner)
}

func (f *flakyRules) TryMarkTriggered(ctx context.Context, id string, now time.Time, cooldown time.Duration) (bool, error) {
	if id == f.failMark {
		return false, context.DeadlineExceeded
	}
	return f.RuleStore.TryMarkTriggered(ctx, id, now, cooldown)
}

type failingCounter struct{}

func (failingCounter) Count(ctx context.Context, owner string, t models.ErrorType, start, end time.Time) (int, error) {
	return 0, errors.New("event store down")
}

func TestEngineStoreFailureIsolated(t *testing.T) {
	r1 := testRule("r1")
	r1.ThresholdCount = 1
	r2 := testRule("r2")
	r2.ThresholdCount = 1
	f := newFixture(t, r1, r2)

	rules := &flakyRules{RuleStore: f.store.Rules(), failMark: "r1"}
	f.engine = NewEngine(rules, f.store.Events(), f.dispatcher, nil)

	out := f.record(t, "owner-1", models.ErrorTypeNotFound, baseTime)
	if out.Fired != 1 || out.Failed != 1 {
		t.Fatalf("expected 1 fired and 1 failed, got %+v", out)
	}
	if !out.Retryable() {
		t.Error("expected outcome to be retryable")
	}
	if f.lastTriggered(t, "r1") != nil {
		t.Error("failed rule must be left unchanged")
	}
	if f.lastTriggered(t, "r2") == nil {
		t.Error("healthy rule should have fired")
	}
}

func TestEngineStoreUnavailable(t *testing.T) {
	r := testRule("r1")
	r.ThresholdCount = 1

	t.Run("match fails", func(t *testing.T) {
		f := newFixture(t, r)
		f.engine = NewEngine(&flakyRules{RuleStore: f.store.Rules(), failMatch: true}, f.store.Events(), f.dispatcher, nil)
		out := f.record(t, "owner-1", models.ErrorTypeNotFound, baseTime)
		if !errors.Is(out.Err, ErrStoreUnavailable) {
			t.Errorf("expected ErrStoreUnavailable, got %v", out.Err)
		}
		if !out.Retryable() {
			t.Error("expected retryable")
		}
	})

	t.Run("count fails", func(t *testing.T) {
		f := newFixture(t, r)
		f.engine = NewEngine(f.store.Rules(), failingCounter{}, f.dispatcher, nil)
		out := f.record(t, "owner-1", models.ErrorTypeNotFound, baseTime)
		if out.Failed != 1 || out.Fired != 0 {
			t.Fatalf("expected failed rule, got %+v", out)
		}
		if !errors.Is(out.Rules[0].Err, ErrStoreUnavailable) {
			t.Errorf("expected ErrStoreUnavailable, got %v", out.Rules[0].Err)
		}
		if f.dispatcher.count() != 0 {
			t.Error("expected no dispatch")
		}
	})
}

func TestEngineDispatchFailuresCounted(t *testing.T) {
	r := testRule("r1")
	r.ThresholdCount = 1
	f := newFixture(t, r)
	f.dispatcher.result = DispatchResult{
		InApp:  ChannelFailed,
		Email:  ChannelFailed,
		Errors: []error{ErrNotificationWriteFailed, ErrEmailDeliveryFailed},
	}

	out := f.record(t, "owner-1", models.ErrorTypeNotFound, baseTime)
	if out.Fired != 1 {
		t.Fatalf("dispatch failure must not undo the fire, got %+v", out)
	}
	if out.DispatchFailures != 2 {
		t.Errorf("expected 2 dispatch failures, got %d", out.DispatchFailures)
	}
	if !errors.Is(out.Rules[0].Err, ErrEmailDeliveryFailed) {
		t.Errorf("expected email failure in rule error, got %v", out.Rules[0].Err)
	}
	if f.lastTriggered(t, "r1") == nil {
		t.Error("cooldown must be set even when dispatch fails")
	}
}

func TestEngineInvalidEvent(t *testing.T) {
	f := newFixture(t, testRule("r1"))
	out := f.engine.ProcessAt(context.Background(), nil, baseTime)
	if !errors.Is(out.Err, ErrInvalidEvent) {
		t.Errorf("expected ErrInvalidEvent, got %v", out.Err)
	}
	out = f.engine.ProcessAt(context.Background(), &models.ErrorEvent{ID: "x", Type: models.ErrorTypeNotFound}, baseTime)
	if !errors.Is(out.Err, ErrInvalidEvent) {
		t.Errorf("expected ErrInvalidEvent for missing owner, got %v", out.Err)
	}
}

func TestApplyRulesKeepsLastTriggered(t *testing.T) {
	store := storage.NewMemoryStorage()
	ctx := context.Background()

	rules, err := LoadRulesFromBytes([]byte("rules:\n  - {name: a, owner: o, types: [\"404\"], threshold: 1}\n"))
	if err != nil {
		t.Fatalf("LoadRulesFromBytes: %v", err)
	}
	if _, err := ApplyRules(ctx, store.Rules(), rules); err != nil {
		t.Fatalf("ApplyRules: %v", err)
	}
	id := rules[0].ID
	if ok, err := store.Rules().TryMarkTriggered(ctx, id, baseTime, time.Hour); err != nil || !ok {
		t.Fatalf("TryMarkTriggered: %v %v", ok, err)
	}

	rules[0].Threshold = 3
	if n, err := ApplyRules(ctx, store.Rules(), rules); err != nil || n != 1 {
		t.Fatalf("ApplyRules: %d %v", n, err)
	}
	got, _ := store.Rules().GetByID(ctx, id)
	if got.ThresholdCount != 3 {
		t.Errorf("expected threshold 3, got %d", got.ThresholdCount)
	}
	if got.LastTriggeredAt == nil || !got.LastTriggeredAt.Equal(baseTime) {
		t.Errorf("expected last triggered kept, got %v", got.LastTriggeredAt)
	}
}

func TestRuleWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	store := storage.NewMemoryStorage()

	applied := make(chan int, 16)
	w := NewRuleWatcher(path, store.Rules())
	w.debounce = 20 * time.Millisecond
	w.OnApply = func(n int, err error) {
		if err == nil && n > 0 {
			applied <- n
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	content := []byte("rules:\n  - {name: a, owner: o, types: [\"404\"]}\n  - {name: b, owner: o, types: [\"api_error\"]}\n")
	deadline := time.After(5 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if err := os.WriteFile(path, content, 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		select {
		case n := <-applied:
			if n != 2 {
				t.Errorf("expected 2 rules applied, got %d", n)
			}
			all, _ := store.Rules().List(context.Background())
			if len(all) != 2 {
				t.Errorf("expected 2 stored rules, got %d", len(all))
			}
			cancel()
			if err := <-done; err != nil {
				t.Errorf("Run: %v", err)
			}
			return
		case <-ticker.C:
		case <-deadline:
			t.Fatal("timed out waiting for rules reload")
		}
	}
}
