package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// RuleStore is the rule storage the engine needs.
type RuleStore interface {
	Match(ctx context.Context, errorType models.ErrorType, ownerID string) ([]*models.AlertRule, error)
	TryMarkTriggered(ctx context.Context, ruleID string, now time.Time, cooldown time.Duration) (bool, error)
}

// Matcher resolves the enabled rules that monitor an error type.
type Matcher struct {
	store RuleStore
}

// NewMatcher creates a new Matcher.
func NewMatcher(store RuleStore) *Matcher {
	return &Matcher{store: store}
}

// Match returns enabled rules monitoring errorType. An empty ownerID
// returns rules of every owner. Results from the store are filtered again so
// a coarse store query cannot widen the match.
func (m *Matcher) Match(ctx context.Context, errorType models.ErrorType, ownerID string) ([]*models.AlertRule, error) {
	rules, err := m.store.Match(ctx, errorType, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: match rules: %w", ErrStoreUnavailable, err)
	}

	matched := rules[:0]
	for _, r := range rules {
		if r == nil || !r.Enabled || !r.Monitors(errorType) {
			continue
		}
		if ownerID != "" && r.OwnerID != ownerID {
			continue
		}
		matched = append(matched, r)
	}
	return matched, nil
}
