package alerting

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/blazealert/internal/logging"
	"github.com/good-yellow-bee/blazealert/internal/metrics"
	"github.com/good-yellow-bee/blazealert/internal/models"
)

// ErrInvalidEvent is reported when the event itself cannot be evaluated.
var ErrInvalidEvent = errors.New("invalid event")

// Engine evaluates recorded error events against the owner's alert rules.
// It holds no per-rule state; cooldowns live in the rule store.
type Engine struct {
	rules      RuleStore
	matcher    *Matcher
	counter    *WindowCounter
	dispatcher Dispatcher

	storeTimeout time.Duration
	logger       zerolog.Logger

	stats *engineCounters
}

// engineCounters tracks engine statistics using atomic operations for lock-free access.
type engineCounters struct {
	eventsEvaluated  atomic.Int64
	rulesEvaluated   atomic.Int64
	alertsFired      atomic.Int64
	alertsSuppressed atomic.Int64
	invalidRules     atomic.Int64
	storeFailures    atomic.Int64
	dispatchFailures atomic.Int64
}

// EngineStats is a snapshot of engine statistics.
type EngineStats struct {
	EventsEvaluated  int64 `json:"events_evaluated"`
	RulesEvaluated   int64 `json:"rules_evaluated"`
	AlertsFired      int64 `json:"alerts_fired"`
	AlertsSuppressed int64 `json:"alerts_suppressed"`
	InvalidRules     int64 `json:"invalid_rules"`
	StoreFailures    int64 `json:"store_failures"`
	DispatchFailures int64 `json:"dispatch_failures"`
}

// EngineOptions configures the alert engine.
type EngineOptions struct {
	// StoreTimeout bounds each rule or event store call. Zero disables it.
	StoreTimeout time.Duration
}

// DefaultEngineOptions returns default engine options.
func DefaultEngineOptions() *EngineOptions {
	return &EngineOptions{
		StoreTimeout: 5 * time.Second,
	}
}

// NewEngine creates a new alert engine.
func NewEngine(rules RuleStore, events EventCounter, dispatcher Dispatcher, opts *EngineOptions) *Engine {
	if opts == nil {
		opts = DefaultEngineOptions()
	}

	return &Engine{
		rules:        rules,
		matcher:      NewMatcher(rules),
		counter:      NewWindowCounter(events),
		dispatcher:   dispatcher,
		storeTimeout: opts.StoreTimeout,
		logger:       logging.WithComponent("engine"),
		stats:        &engineCounters{},
	}
}

// Process evaluates a recorded event at the current time.
func (e *Engine) Process(ctx context.Context, ev *models.ErrorEvent) Outcome {
	return e.ProcessAt(ctx, ev, time.Now().UTC())
}

// ProcessAt evaluates a recorded event at a specific instant (useful for testing).
// The event must already be in the event store so it counts toward its own window.
// It never panics; all failures are reported in the returned Outcome.
func (e *Engine) ProcessAt(ctx context.Context, ev *models.ErrorEvent, now time.Time) (out Outcome) {
	start := time.Now()
	defer func() {
		metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("alert evaluation panicked")
			out.Err = fmt.Errorf("evaluation panicked: %v", r)
			out.Error = out.Err.Error()
		}
	}()

	if ev == nil {
		out.Err = fmt.Errorf("%w: nil event", ErrInvalidEvent)
		out.Error = out.Err.Error()
		return out
	}
	out.EventID = ev.ID
	if ev.OwnerID == "" || !ev.Type.IsValid() {
		out.Err = fmt.Errorf("%w: owner and valid type are required", ErrInvalidEvent)
		out.Error = out.Err.Error()
		return out
	}

	e.stats.eventsEvaluated.Add(1)

	mctx, cancel := e.storeContext(ctx)
	rules, err := e.matcher.Match(mctx, ev.Type, ev.OwnerID)
	cancel()
	if err != nil {
		e.stats.storeFailures.Add(1)
		e.logger.Warn().Err(err).Str("event_id", ev.ID).Msg("failed to resolve rules")
		out.Err = err
		out.Error = err.Error()
		return out
	}

	for _, rule := range rules {
		ro := e.evaluateRule(ctx, rule, ev, now)
		metrics.RulesEvaluatedTotal.WithLabelValues(string(ro.State)).Inc()
		out.add(ro)
	}

	return out
}

// evaluateRule runs one rule through idle, suppressed, fired, invalid or
// failed. A failure here never affects other rules.
func (e *Engine) evaluateRule(ctx context.Context, rule *models.AlertRule, ev *models.ErrorEvent, now time.Time) (ro RuleOutcome) {
	ro = RuleOutcome{RuleID: rule.ID, RuleName: rule.Name, State: StateIdle}
	e.stats.rulesEvaluated.Add(1)

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Str("rule_id", rule.ID).Msg("rule evaluation panicked")
			ro.Decision, ro.Dispatch = nil, nil
			ro.fail(StateFailed, fmt.Errorf("rule evaluation panicked: %v", r))
		}
	}()

	log := e.logger.With().Str("rule_id", rule.ID).Str("event_id", ev.ID).Logger()

	if err := rule.Validate(); err != nil {
		e.stats.invalidRules.Add(1)
		log.Warn().Err(err).Msg("skipping invalid rule")
		ro.fail(StateInvalid, fmt.Errorf("%w: %w", ErrInvalidRule, err))
		return ro
	}

	windowStart, windowEnd := WindowBounds(rule, now)
	cctx, cancel := e.storeContext(ctx)
	count, err := e.counter.Count(cctx, ev.OwnerID, ev.Type, windowStart, windowEnd)
	cancel()
	if err != nil {
		e.stats.storeFailures.Add(1)
		log.Warn().Err(err).Msg("failed to count window")
		ro.fail(StateFailed, err)
		return ro
	}
	ro.Count = count

	if count < rule.ThresholdCount {
		return ro
	}

	if IsSuppressed(rule, now) {
		e.stats.alertsSuppressed.Add(1)
		log.Debug().Dur("remaining", CooldownRemaining(rule, now)).Msg("rule on cooldown")
		ro.State = StateSuppressed
		return ro
	}

	tctx, cancel := e.storeContext(ctx)
	won, err := e.rules.TryMarkTriggered(tctx, rule.ID, now, rule.Cooldown())
	cancel()
	if err != nil {
		e.stats.storeFailures.Add(1)
		log.Warn().Err(err).Msg("failed to mark rule triggered")
		ro.fail(StateFailed, fmt.Errorf("%w: mark triggered: %w", ErrStoreUnavailable, err))
		return ro
	}
	if !won {
		// Another evaluation fired this rule first.
		e.stats.alertsSuppressed.Add(1)
		ro.State = StateSuppressed
		return ro
	}

	firedAt := now
	rule.LastTriggeredAt = &firedAt
	e.stats.alertsFired.Add(1)

	decision := Decision{
		RuleID:        rule.ID,
		SourceEventID: ev.ID,
		ErrorType:     ev.Type,
		MatchedCount:  count,
		WindowStart:   windowStart,
		WindowEnd:     windowEnd,
		FiredAt:       now,
	}
	ro.State = StateFired
	ro.Decision = &decision

	log.Info().
		Int("count", count).
		Int("threshold", rule.ThresholdCount).
		Str("error_type", string(ev.Type)).
		Msg("alert fired")

	if e.dispatcher != nil {
		result := e.dispatcher.Dispatch(ctx, rule, decision)
		ro.Dispatch = &result
		if n := result.Failures(); n > 0 {
			e.stats.dispatchFailures.Add(int64(n))
			if len(result.Errors) > 0 {
				ro.Err = errors.Join(result.Errors...)
				ro.Error = ro.Err.Error()
			}
		}
	}

	return ro
}

func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.storeTimeout)
}

// Stats returns a snapshot of engine statistics.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		EventsEvaluated:  e.stats.eventsEvaluated.Load(),
		RulesEvaluated:   e.stats.rulesEvaluated.Load(),
		AlertsFired:      e.stats.alertsFired.Load(),
		AlertsSuppressed: e.stats.alertsSuppressed.Load(),
		InvalidRules:     e.stats.invalidRules.Load(),
		StoreFailures:    e.stats.storeFailures.Load(),
		DispatchFailures: e.stats.dispatchFailures.Load(),
	}
}
