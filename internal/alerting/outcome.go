package alerting

import (
	"context"
	"errors"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// Failure classes reported in outcomes. Check with errors.Is.
var (
	// ErrStoreUnavailable means a rule or event store call failed or timed
	// out. The affected rule is left unchanged and the event can be retried.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidRule means a rule violates its invariants and was skipped.
	ErrInvalidRule = errors.New("invalid rule")
	// ErrNotificationWriteFailed means the in-app notification was not written.
	ErrNotificationWriteFailed = errors.New("notification write failed")
	// ErrEmailDeliveryFailed means the alert email was not delivered.
	ErrEmailDeliveryFailed = errors.New("email delivery failed")
)

// RuleState is the terminal state of one rule evaluation.
type RuleState string

const (
	StateIdle       RuleState = "idle"
	StateFired      RuleState = "fired"
	StateSuppressed RuleState = "suppressed"
	StateInvalid    RuleState = "invalid"
	StateFailed     RuleState = "failed"
)

// Decision records that a rule fired for an event.
type Decision struct {
	RuleID        string           `json:"rule_id"`
	SourceEventID string           `json:"source_event_id"`
	ErrorType     models.ErrorType `json:"error_type"`
	MatchedCount  int              `json:"matched_count"`
	WindowStart   time.Time        `json:"window_start"`
	WindowEnd     time.Time        `json:"window_end"`
	FiredAt       time.Time        `json:"fired_at"`
}

// ChannelStatus is the result of delivering through one channel.
type ChannelStatus string

const (
	ChannelSkipped   ChannelStatus = "skipped"
	ChannelSent      ChannelStatus = "sent"
	ChannelDuplicate ChannelStatus = "duplicate"
	ChannelFailed    ChannelStatus = "failed"
)

// DispatchResult reports per-channel delivery for one decision.
type DispatchResult struct {
	NotificationID string        `json:"notification_id,omitempty"`
	InApp          ChannelStatus `json:"in_app"`
	Email          ChannelStatus `json:"email"`
	Errors         []error       `json:"-"`
}

// Failures returns the number of channels that failed.
func (r DispatchResult) Failures() int {
	n := 0
	if r.InApp == ChannelFailed {
		n++
	}
	if r.Email == ChannelFailed {
		n++
	}
	return n
}

// Dispatcher delivers notifications for a fired rule. Implementations must
// not retry and must not return errors past DispatchResult.
type Dispatcher interface {
	Dispatch(ctx context.Context, rule *models.AlertRule, decision Decision) DispatchResult
}

// RuleOutcome is the result of evaluating one candidate rule.
type RuleOutcome struct {
	RuleID   string          `json:"rule_id"`
	RuleName string          `json:"rule_name"`
	State    RuleState       `json:"state"`
	Count    int             `json:"count"`
	Decision *Decision       `json:"decision,omitempty"`
	Dispatch *DispatchResult `json:"dispatch,omitempty"`
	Err      error           `json:"-"`
	Error    string          `json:"error,omitempty"`
}

func (ro *RuleOutcome) fail(state RuleState, err error) {
	ro.State = state
	ro.Err = err
	ro.Error = err.Error()
}

// Outcome summarizes the evaluation of one event.
type Outcome struct {
	EventID          string        `json:"event_id"`
	Evaluated        int           `json:"evaluated"`
	Fired            int           `json:"fired"`
	Suppressed       int           `json:"suppressed"`
	Failed           int           `json:"failed"`
	DispatchFailures int           `json:"dispatch_failures"`
	Rules            []RuleOutcome `json:"rules,omitempty"`
	Err              error         `json:"-"`
	Error            string        `json:"error,omitempty"`
}

func (o *Outcome) add(ro RuleOutcome) {
	o.Evaluated++
	switch ro.State {
	case StateFired:
		o.Fired++
		if ro.Dispatch != nil {
			o.DispatchFailures += ro.Dispatch.Failures()
		}
	case StateSuppressed:
		o.Suppressed++
	case StateInvalid, StateFailed:
		o.Failed++
	}
	o.Rules = append(o.Rules, ro)
}

// Retryable reports whether re-evaluating the event could change the
// result, because rule matching or some rule hit a store failure.
func (o *Outcome) Retryable() bool {
	if errors.Is(o.Err, ErrStoreUnavailable) {
		return true
	}
	for _, ro := range o.Rules {
		if errors.Is(ro.Err, ErrStoreUnavailable) {
			return true
		}
	}
	return false
}
