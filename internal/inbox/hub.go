// Package inbox fans newly written notifications out to live subscribers,
// keyed by owner.
package inbox

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/blazealert/internal/logging"
	"github.com/good-yellow-bee/blazealert/internal/metrics"
	"github.com/good-yellow-bee/blazealert/internal/models"
)

const (
	// DefaultMaxPerOwner caps concurrent streams per owner.
	DefaultMaxPerOwner = 10
	// DefaultBuffer is the per-subscriber queue length.
	DefaultBuffer = 16
)

var (
	// ErrTooManySubscribers is returned when an owner has too many streams open.
	ErrTooManySubscribers = errors.New("too many subscribers for owner")
	// ErrHubClosed is returned after Close.
	ErrHubClosed = errors.New("inbox hub closed")
)

// Subscription receives notifications for one owner.
type Subscription struct {
	owner string
	ch    chan *models.Notification
	hub   *Hub
	once  sync.Once
}

// C returns the notification channel. It is closed when the subscription
// or the hub is closed.
func (s *Subscription) C() <-chan *models.Notification {
	return s.ch
}

// Owner returns the subscribed owner.
func (s *Subscription) Owner() string {
	return s.owner
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Hub routes notifications to subscribers of the notification's owner.
// Publish never blocks; a full subscriber queue drops the notification for
// that subscriber only.
type Hub struct {
	mu          sync.Mutex
	subs        map[string]map[*Subscription]struct{}
	maxPerOwner int
	buffer      int
	closed      bool
	dropped     int64
	logger      zerolog.Logger
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		subs:        make(map[string]map[*Subscription]struct{}),
		maxPerOwner: DefaultMaxPerOwner,
		buffer:      DefaultBuffer,
		logger:      logging.WithComponent("inbox"),
	}
}

// Subscribe opens a subscription for owner.
func (h *Hub) Subscribe(owner string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	set, ok := h.subs[owner]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[owner] = set
	}
	if len(set) >= h.maxPerOwner {
		h.logger.Warn().Str("owner_id", owner).Msg("max inbox streams reached")
		return nil, ErrTooManySubscribers
	}

	sub := &Subscription{
		owner: owner,
		ch:    make(chan *models.Notification, h.buffer),
		hub:   h,
	}
	set[sub] = struct{}{}
	metrics.InboxSubscribers.Inc()
	return sub, nil
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub.once.Do(func() {
		if set, ok := h.subs[sub.owner]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subs, sub.owner)
			}
		}
		close(sub.ch)
		metrics.InboxSubscribers.Dec()
	})
}

// Publish delivers n to every subscriber of n.OwnerID.
func (h *Hub) Publish(n *models.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[n.OwnerID] {
		select {
		case sub.ch <- n:
		default:
			h.dropped++
			h.logger.Warn().Str("owner_id", n.OwnerID).Str("notification_id", n.ID).Msg("inbox subscriber queue full, dropping")
		}
	}
}

// Subscribers returns the number of open subscriptions for owner.
func (h *Hub) Subscribers(owner string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[owner])
}

// Dropped returns the number of notifications dropped for slow subscribers.
func (h *Hub) Dropped() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Close closes every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*Subscription
	for _, set := range h.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range all {
		sub.Close()
	}
}
