package models

import (
	"fmt"
	"slices"
	"time"
)

// Default rule settings applied when a rule omits them.
const (
	DefaultThresholdCount = 10
	DefaultWindowMinutes  = 60
)

// Severity represents alert severity level.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// ParseSeverity converts a string to Severity.
func ParseSeverity(s string) Severity {
	switch s {
	case "info", "INFO":
		return SeverityInfo
	case "warning", "WARNING", "warn":
		return SeverityWarning
	case "error", "ERROR":
		return SeverityError
	case "critical", "CRITICAL":
		return SeverityCritical
	default:
		return SeverityError
	}
}

// Channel is a notification delivery channel.
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
)

// ParseChannel converts a string to Channel.
func ParseChannel(s string) (Channel, error) {
	switch s {
	case "in_app", "inapp", "inApp":
		return ChannelInApp, nil
	case "email":
		return ChannelEmail, nil
	default:
		return "", fmt.Errorf("unknown channel %q", s)
	}
}

// AlertRule is a user-owned rate alert. The engine only reads rules and
// advances LastTriggeredAt.
type AlertRule struct {
	ID              string      `json:"id"`
	OwnerID         string      `json:"owner_id"`
	Name            string      `json:"name"`
	Description     string      `json:"description,omitempty"`
	MonitoredTypes  []ErrorType `json:"monitored_types"`
	ThresholdCount  int         `json:"threshold_count"`
	WindowMinutes   int         `json:"window_minutes"`
	CooldownMinutes int         `json:"cooldown_minutes,omitempty"` // 0 reuses WindowMinutes
	Severity        Severity    `json:"severity"`
	Channels        []Channel   `json:"channels"`
	Enabled         bool        `json:"enabled"`
	LastTriggeredAt *time.Time  `json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// NewAlertRule creates a new AlertRule with default threshold, window and
// in-app delivery.
func NewAlertRule(ownerID, name string, types ...ErrorType) *AlertRule {
	now := time.Now().UTC()
	return &AlertRule{
		OwnerID:        ownerID,
		Name:           name,
		MonitoredTypes: types,
		ThresholdCount: DefaultThresholdCount,
		WindowMinutes:  DefaultWindowMinutes,
		Severity:       SeverityError,
		Channels:       []Channel{ChannelInApp},
		Enabled:        true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Validate checks the rule invariants.
func (r *AlertRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.OwnerID == "" {
		return fmt.Errorf("owner is required for rule %q", r.Name)
	}
	if len(r.MonitoredTypes) == 0 {
		return fmt.Errorf("at least one monitored type is required for rule %q", r.Name)
	}
	for _, t := range r.MonitoredTypes {
		if !t.IsValid() {
			return fmt.Errorf("unknown error type %q for rule %q", t, r.Name)
		}
	}
	if r.ThresholdCount < 1 {
		return fmt.Errorf("threshold must be positive for rule %q", r.Name)
	}
	if r.WindowMinutes < 1 {
		return fmt.Errorf("window must be positive for rule %q", r.Name)
	}
	if r.CooldownMinutes < 0 {
		return fmt.Errorf("cooldown must not be negative for rule %q", r.Name)
	}
	return nil
}

// Monitors reports whether the rule watches the given error type.
func (r *AlertRule) Monitors(t ErrorType) bool {
	return slices.Contains(r.MonitoredTypes, t)
}

// HasChannel reports whether the rule delivers through c.
func (r *AlertRule) HasChannel(c Channel) bool {
	return slices.Contains(r.Channels, c)
}

// Window returns the counting window as a duration.
func (r *AlertRule) Window() time.Duration {
	return time.Duration(r.WindowMinutes) * time.Minute
}

// Cooldown returns the suppression period after a fire.
func (r *AlertRule) Cooldown() time.Duration {
	if r.CooldownMinutes > 0 {
		return time.Duration(r.CooldownMinutes) * time.Minute
	}
	return r.Window()
}
