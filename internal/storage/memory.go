package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// MemoryStorage implements Storage in process memory. It is used by tests
// and by the server when database.driver is "memory".
type MemoryStorage struct {
	mu sync.Mutex

	rules         map[string]*models.AlertRule
	events        map[string]*models.ErrorEvent
	notifications []*models.Notification
	contacts      map[string]*models.Contact
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		rules:    make(map[string]*models.AlertRule),
		events:   make(map[string]*models.ErrorEvent),
		contacts: make(map[string]*models.Contact),
	}
}

func (s *MemoryStorage) Open() error                    { return nil }
func (s *MemoryStorage) Close() error                   { return nil }
func (s *MemoryStorage) Migrate() error                 { return nil }
func (s *MemoryStorage) Ping(ctx context.Context) error { return nil }

func (s *MemoryStorage) Rules() RuleRepository                 { return (*memoryRules)(s) }
func (s *MemoryStorage) Events() EventRepository               { return (*memoryEvents)(s) }
func (s *MemoryStorage) Notifications() NotificationRepository { return (*memoryNotifications)(s) }
func (s *MemoryStorage) Contacts() ContactRepository           { return (*memoryContacts)(s) }

func copyRule(r *models.AlertRule) *models.AlertRule {
	c := *r
	c.MonitoredTypes = append([]models.ErrorType(nil), r.MonitoredTypes...)
	c.Channels = append([]models.Channel(nil), r.Channels...)
	if r.LastTriggeredAt != nil {
		t := *r.LastTriggeredAt
		c.LastTriggeredAt = &t
	}
	return &c
}

type memoryRules MemoryStorage

func (m *memoryRules) Match(ctx context.Context, errorType models.ErrorType, ownerID string) ([]*models.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]*models.AlertRule, 0, len(m.rules))
	for _, r := range m.rules {
		all = append(all, copyRule(r))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return filterRules(all, errorType, ownerID), nil
}

func (m *memoryRules) TryMarkTriggered(ctx context.Context, ruleID string, now time.Time, cooldown time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rules[ruleID]
	if !ok || !r.Enabled {
		return false, nil
	}
	if r.LastTriggeredAt != nil && r.LastTriggeredAt.After(now.Add(-cooldown)) {
		return false, nil
	}
	t := now
	r.LastTriggeredAt = &t
	return true, nil
}

func (m *memoryRules) Upsert(ctx context.Context, rule *models.AlertRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := copyRule(rule)
	if existing, ok := m.rules[rule.ID]; ok {
		c.LastTriggeredAt = existing.LastTriggeredAt
		c.CreatedAt = existing.CreatedAt
	}
	m.rules[rule.ID] = c
	return nil
}

func (m *memoryRules) GetByID(ctx context.Context, id string) (*models.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rules[id]
	if !ok {
		return nil, nil
	}
	return copyRule(r), nil
}

func (m *memoryRules) ListByOwner(ctx context.Context, ownerID string) ([]*models.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.AlertRule
	for _, r := range m.rules {
		if r.OwnerID == ownerID {
			out = append(out, copyRule(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memoryRules) List(ctx context.Context) ([]*models.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.AlertRule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, copyRule(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OwnerID != out[j].OwnerID {
			return out[i].OwnerID < out[j].OwnerID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *memoryRules) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rules[id]; !ok {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	delete(m.rules, id)
	return nil
}

type memoryEvents MemoryStorage

func (m *memoryEvents) Append(ctx context.Context, event *models.ErrorEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[event.ID]; ok {
		return false, nil
	}
	c := *event
	m.events[event.ID] = &c
	return true, nil
}

func (m *memoryEvents) Count(ctx context.Context, ownerID string, errorType models.ErrorType, start, end time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, e := range m.events {
		if e.OwnerID != ownerID || e.Type != errorType {
			continue
		}
		if e.OccurredAt.Before(start) || e.OccurredAt.After(end) {
			continue
		}
		count++
	}
	return count, nil
}

func (m *memoryEvents) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, e := range m.events {
		if e.OccurredAt.Before(cutoff) {
			delete(m.events, id)
			n++
		}
	}
	return n, nil
}

type memoryNotifications MemoryStorage

func (m *memoryNotifications) Insert(ctx context.Context, n *models.Notification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.notifications {
		if existing.RuleID == n.RuleID && existing.SourceEventID == n.SourceEventID {
			return false, nil
		}
	}
	c := *n
	m.notifications = append(m.notifications, &c)
	return true, nil
}

func (m *memoryNotifications) ListByOwner(ctx context.Context, ownerID string, filter NotificationFilter) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Notification
	for i := len(m.notifications) - 1; i >= 0; i-- {
		n := m.notifications[i]
		if n.OwnerID != ownerID || (filter.UnreadOnly && n.IsRead()) {
			continue
		}
		c := *n
		out = append(out, &c)
		if len(out) == filter.limit() {
			break
		}
	}
	return out, nil
}

func (m *memoryNotifications) MarkRead(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, n := range m.notifications {
		if n.ID == id {
			if n.ReadAt == nil {
				t := at
				n.ReadAt = &t
			}
			return nil
		}
	}
	return fmt.Errorf("notification %s: %w", id, ErrNotFound)
}

type memoryContacts MemoryStorage

func (m *memoryContacts) Upsert(ctx context.Context, c *models.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *c
	m.contacts[c.OwnerID] = &cp
	return nil
}

func (m *memoryContacts) OwnerEmail(ctx context.Context, ownerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.contacts[ownerID]; ok {
		return c.Email, nil
	}
	return "", nil
}
