// Package ingest records incoming error events and runs alert evaluation
// for each one. HTTP and Kafka sources both go through Ingestor.Record.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/blazealert/internal/alerting"
	"github.com/good-yellow-bee/blazealert/internal/logging"
	"github.com/good-yellow-bee/blazealert/internal/metrics"
	"github.com/good-yellow-bee/blazealert/internal/models"
)

// ErrInvalidEvent is returned for events that fail validation.
var ErrInvalidEvent = errors.New("invalid error event")

// Event sources, used as metric labels.
const (
	SourceHTTP  = "http"
	SourceKafka = "kafka"
)

// EventAppender stores error events. Append reports false for a duplicate ID.
type EventAppender interface {
	Append(ctx context.Context, ev *models.ErrorEvent) (bool, error)
}

// Evaluator runs alert evaluation for a stored event.
type Evaluator interface {
	Process(ctx context.Context, ev *models.ErrorEvent) alerting.Outcome
}

// Recorder records one event. Implemented by Ingestor.
type Recorder interface {
	Record(ctx context.Context, ev *models.ErrorEvent, source string) (Result, error)
}

// Result describes what happened to one recorded event.
type Result struct {
	EventID   string            `json:"event_id"`
	Duplicate bool              `json:"duplicate,omitempty"`
	Ignored   bool              `json:"ignored,omitempty"`
	IgnoredBy string            `json:"ignored_by,omitempty"`
	Outcome   *alerting.Outcome `json:"outcome,omitempty"`
}

// Ingestor validates, filters, stores and evaluates error events.
type Ingestor struct {
	events    EventAppender
	evaluator Evaluator
	filter    *IgnoreFilter
	logger    zerolog.Logger
	now       func() time.Time
}

// NewIngestor creates a new Ingestor. filter may be nil.
func NewIngestor(events EventAppender, evaluator Evaluator, filter *IgnoreFilter) *Ingestor {
	return &Ingestor{
		events:    events,
		evaluator: evaluator,
		filter:    filter,
		logger:    logging.WithComponent("ingest"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Record stores ev and evaluates it. Missing IDs and timestamps are filled
// in; timestamps in the future are clamped to now so the event counts in its
// own window. Duplicates are evaluated again: the rule cooldown and
// notification uniqueness keep delivery to once per trigger.
func (i *Ingestor) Record(ctx context.Context, ev *models.ErrorEvent, source string) (Result, error) {
	if ev == nil {
		metrics.EventsDroppedTotal.WithLabelValues("invalid").Inc()
		return Result{}, fmt.Errorf("%w: empty event", ErrInvalidEvent)
	}

	now := i.now()
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.OccurredAt.IsZero() || ev.OccurredAt.After(now) {
		ev.OccurredAt = now
	}
	ev.OccurredAt = ev.OccurredAt.UTC()
	ev.OwnerID = strings.TrimSpace(ev.OwnerID)

	result := Result{EventID: ev.ID}

	if err := ev.Validate(); err != nil {
		metrics.EventsDroppedTotal.WithLabelValues("invalid").Inc()
		return result, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	expr, err := i.filter.Match(ev)
	if err != nil {
		i.logger.Warn().Err(err).Str("event_id", ev.ID).Msg("ignore filter failed")
	}
	if expr != "" {
		metrics.EventsDroppedTotal.WithLabelValues("filtered").Inc()
		i.logger.Debug().Str("event_id", ev.ID).Str("filter", expr).Msg("event ignored")
		result.Ignored = true
		result.IgnoredBy = expr
		return result, nil
	}

	inserted, err := i.events.Append(ctx, ev)
	if err != nil {
		metrics.EventsDroppedTotal.WithLabelValues("store_error").Inc()
		return result, fmt.Errorf("%w: append event: %w", alerting.ErrStoreUnavailable, err)
	}
	if inserted {
		metrics.EventsIngestedTotal.WithLabelValues(source, string(ev.Type)).Inc()
	} else {
		metrics.EventsDroppedTotal.WithLabelValues("duplicate").Inc()
		result.Duplicate = true
	}

	if i.evaluator != nil {
		outcome := i.evaluator.Process(ctx, ev)
		result.Outcome = &outcome
		i.logOutcome(ev, source, &outcome)
	}

	return result, nil
}

func (i *Ingestor) logOutcome(ev *models.ErrorEvent, source string, o *alerting.Outcome) {
	var e *zerolog.Event
	switch {
	case o.Err != nil || o.Failed > 0 || o.DispatchFailures > 0:
		e = i.logger.Warn()
	case o.Fired > 0:
		e = i.logger.Info()
	default:
		e = i.logger.Debug()
	}
	e.Str("event_id", ev.ID).
		Str("owner_id", ev.OwnerID).
		Str("error_type", string(ev.Type)).
		Str("source", source).
		Int("evaluated", o.Evaluated).
		Int("fired", o.Fired).
		Int("suppressed", o.Suppressed).
		Int("failed", o.Failed).
		Bool("retryable", o.Retryable()).
		Msg("event evaluated")
}
