package alerting

import (
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// IsSuppressed reports whether the rule fired too recently to fire at now.
// The store's conditional update uses the same predicate, so this check is
// only a shortcut that avoids a write.
func IsSuppressed(rule *models.AlertRule, now time.Time) bool {
	if rule.LastTriggeredAt == nil {
		return false
	}
	return now.Before(rule.LastTriggeredAt.Add(rule.Cooldown()))
}

// CooldownRemaining returns how long the rule stays suppressed after now.
func CooldownRemaining(rule *models.AlertRule, now time.Time) time.Duration {
	if rule.LastTriggeredAt == nil {
		return 0
	}
	remaining := rule.LastTriggeredAt.Add(rule.Cooldown()).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
