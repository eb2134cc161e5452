package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/blazealert/internal/logging"
	"github.com/good-yellow-bee/blazealert/internal/metrics"
)

// EventPurger deletes events older than a cutoff.
type EventPurger interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor periodically removes old error events.
type Janitor struct {
	events    EventPurger
	retention time.Duration
	interval  time.Duration
	logger    zerolog.Logger
}

// NewJanitor creates a janitor keeping retention worth of events.
func NewJanitor(events EventPurger, retention, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{
		events:    events,
		retention: retention,
		interval:  interval,
		logger:    logging.WithComponent("janitor"),
	}
}

// RunOnce purges events older than now minus the retention period.
func (j *Janitor) RunOnce(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-j.retention)
	n, err := j.events.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	metrics.EventsPurgedTotal.Add(float64(n))
	return n, nil
}

// Run purges on every interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	if j.retention <= 0 {
		j.logger.Info().Msg("event retention disabled")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := j.RunOnce(ctx, time.Now().UTC())
			if err != nil {
				j.logger.Error().Err(err).Msg("failed to purge old events")
				continue
			}
			if n > 0 {
				j.logger.Info().Int64("deleted", n).Dur("retention", j.retention).Msg("purged old events")
			}
		}
	}
}
