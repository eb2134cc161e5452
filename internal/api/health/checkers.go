package health

import (
	"context"
	"errors"
	"fmt"
)

// Pinger is implemented by every storage backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker reports whether a storage backend answers a ping.
type StoreChecker struct {
	name   string
	pinger Pinger
}

// NewStoreChecker creates a checker reported under name, usually the
// database driver ("sqlite", "postgres", "memory").
func NewStoreChecker(name string, p Pinger) *StoreChecker {
	return &StoreChecker{name: name, pinger: p}
}

// NewClickHouseChecker creates a checker for the ClickHouse event store.
func NewClickHouseChecker(p Pinger) *StoreChecker {
	return NewStoreChecker("clickhouse", p)
}

// Name returns the checker name.
func (c *StoreChecker) Name() string {
	return c.name
}

// Check pings the store. A ping cut short by the probe deadline is reported
// as a timeout rather than the driver's error text.
func (c *StoreChecker) Check(ctx context.Context) error {
	if c.pinger == nil {
		return fmt.Errorf("%s not configured", c.name)
	}
	err := c.pinger.Ping(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s ping timed out", c.name)
	}
	return err
}
