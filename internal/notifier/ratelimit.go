package notifier

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when an email is dropped due to rate limiting.
var ErrRateLimited = errors.New("email rate limited")

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	PerMinute int  // Maximum emails per minute (default: 10)
	Burst     int  // Burst size (default: PerMinute)
	Enabled   bool // Whether rate limiting is enabled (default: true)
}

// DefaultRateLimitConfig returns default rate limit settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		PerMinute: 10,
		Enabled:   true,
	}
}

// RateLimitedSender drops emails over the configured rate instead of queueing
// them, so a flood of alerts never delays evaluation.
type RateLimitedSender struct {
	next    EmailSender
	limiter *rate.Limiter
	dropped atomic.Int64
}

// NewRateLimitedSender wraps next with a token bucket limiter.
func NewRateLimitedSender(next EmailSender, config RateLimitConfig) *RateLimitedSender {
	if config.PerMinute <= 0 {
		config.PerMinute = 10
	}
	if config.Burst <= 0 {
		config.Burst = config.PerMinute
	}

	limit := rate.Every(time.Minute / time.Duration(config.PerMinute))
	if !config.Enabled {
		limit = rate.Inf
	}

	return &RateLimitedSender{
		next:    next,
		limiter: rate.NewLimiter(limit, config.Burst),
	}
}

// Send forwards to the wrapped sender if a token is available.
func (s *RateLimitedSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	if !s.limiter.Allow() {
		s.dropped.Add(1)
		return ErrRateLimited
	}
	return s.next.Send(ctx, to, subject, htmlBody)
}

// Dropped returns the number of emails dropped due to rate limiting.
func (s *RateLimitedSender) Dropped() int64 {
	return s.dropped.Load()
}
