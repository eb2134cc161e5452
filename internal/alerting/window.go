package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// EventCounter counts stored events. Bounds are inclusive.
type EventCounter interface {
	Count(ctx context.Context, ownerID string, errorType models.ErrorType, start, end time.Time) (int, error)
}

// WindowBounds returns the trailing window [now - window, now] for a rule.
func WindowBounds(rule *models.AlertRule, now time.Time) (start, end time.Time) {
	return now.Add(-rule.Window()), now
}

// WindowCounter counts events in a rule window. It always reads the
// store; nothing is cached between calls.
type WindowCounter struct {
	events EventCounter
}

// NewWindowCounter creates a new WindowCounter.
func NewWindowCounter(events EventCounter) *WindowCounter {
	return &WindowCounter{events: events}
}

// Count returns the number of ownerID events of errorType in [start, end].
func (w *WindowCounter) Count(ctx context.Context, ownerID string, errorType models.ErrorType, start, end time.Time) (int, error) {
	if end.Before(start) {
		return 0, nil
	}
	n, err := w.events.Count(ctx, ownerID, errorType, start, end)
	if err != nil {
		return 0, fmt.Errorf("%w: count events: %w", ErrStoreUnavailable, err)
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}
