// Package alerting provides the error-rate alert engine for BlazeAlert.
// For each recorded error event it finds the owner's matching rules, counts
// events of that type in each rule's trailing window, and fires rules whose
// threshold is reached and whose cooldown has elapsed.
package alerting

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// ruleNamespace derives stable rule IDs from owner and name.
var ruleNamespace = uuid.MustParse("9b0c3c2e-6f5e-4e57-9a0e-3d4b1f7a2c11")

// Rule is an alert rule as written in a rules file.
type Rule struct {
	// ID is optional; it defaults to a stable ID derived from owner and name.
	ID string `yaml:"id,omitempty"`
	// Owner is the user or tenant whose events the rule counts.
	Owner string `yaml:"owner"`
	// Name identifies the rule within its owner.
	Name string `yaml:"name"`
	// Description provides details about what the rule detects.
	Description string `yaml:"description,omitempty"`
	// Types lists the monitored error types (e.g. "404", "auth_error").
	Types []string `yaml:"types"`
	// Threshold is the count that triggers the alert.
	Threshold int `yaml:"threshold,omitempty"`
	// Window is the trailing counting window in whole minutes (e.g. "60m").
	Window string `yaml:"window,omitempty"`
	// Cooldown is the minimum time between fires. Defaults to Window.
	Cooldown string `yaml:"cooldown,omitempty"`
	// Severity indicates the importance of the alert.
	Severity string `yaml:"severity,omitempty"`
	// Notify lists the notification channels to use.
	Notify []string `yaml:"notify,omitempty"`
	// Enabled controls whether the rule is active.
	Enabled *bool `yaml:"enabled,omitempty"`

	types            []models.ErrorType
	channels         []models.Channel
	windowDuration   time.Duration
	cooldownDuration time.Duration
}

// RulesConfig represents the top-level YAML configuration.
type RulesConfig struct {
	Rules []*Rule `yaml:"rules"`
}

// IsEnabled returns whether the rule is enabled.
func (r *Rule) IsEnabled() bool {
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

// Validate validates the rule and applies defaults.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.Owner == "" {
		return fmt.Errorf("owner is required for rule %q", r.Name)
	}

	if len(r.Types) == 0 {
		return fmt.Errorf("at least one type is required for rule %q", r.Name)
	}
	r.types = r.types[:0]
	for _, s := range r.Types {
		t, err := models.ParseErrorType(s)
		if err != nil {
			return fmt.Errorf("invalid type for rule %q: %w", r.Name, err)
		}
		r.types = append(r.types, t)
	}

	if r.Threshold == 0 {
		r.Threshold = models.DefaultThresholdCount
	}
	if r.Threshold < 0 {
		return fmt.Errorf("threshold must be positive for rule %q", r.Name)
	}

	if r.Window == "" {
		r.Window = fmt.Sprintf("%dm", models.DefaultWindowMinutes)
	}
	window, err := parseMinutes(r.Window)
	if err != nil {
		return fmt.Errorf("invalid window %q for rule %q: %w", r.Window, r.Name, err)
	}
	r.windowDuration = window

	r.cooldownDuration = 0
	if r.Cooldown != "" {
		cooldown, err := parseMinutes(r.Cooldown)
		if err != nil {
			return fmt.Errorf("invalid cooldown %q for rule %q: %w", r.Cooldown, r.Name, err)
		}
		r.cooldownDuration = cooldown
	}

	if len(r.Notify) == 0 {
		r.Notify = []string{string(models.ChannelInApp)}
	}
	r.channels = r.channels[:0]
	for _, s := range r.Notify {
		c, err := models.ParseChannel(s)
		if err != nil {
			return fmt.Errorf("invalid notify channel for rule %q: %w", r.Name, err)
		}
		r.channels = append(r.channels, c)
	}

	if r.ID == "" {
		r.ID = uuid.NewSHA1(ruleNamespace, []byte(r.Owner+"/"+r.Name)).String()
	}

	return nil
}

// GetWindowDuration returns the parsed window duration.
func (r *Rule) GetWindowDuration() time.Duration {
	return r.windowDuration
}

// GetCooldownDuration returns the parsed cooldown duration, zero when unset.
func (r *Rule) GetCooldownDuration() time.Duration {
	return r.cooldownDuration
}

// ToModel converts a validated rule into its stored form.
func (r *Rule) ToModel(now time.Time) *models.AlertRule {
	return &models.AlertRule{
		ID:              r.ID,
		OwnerID:         r.Owner,
		Name:            r.Name,
		Description:     r.Description,
		MonitoredTypes:  append([]models.ErrorType(nil), r.types...),
		ThresholdCount:  r.Threshold,
		WindowMinutes:   int(r.windowDuration / time.Minute),
		CooldownMinutes: int(r.cooldownDuration / time.Minute),
		Severity:        models.ParseSeverity(r.Severity),
		Channels:        append([]models.Channel(nil), r.channels...),
		Enabled:         r.IsEnabled(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// parseMinutes parses a duration that must be a positive whole number of
// minutes.
func parseMinutes(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < time.Minute {
		return 0, fmt.Errorf("must be at least 1m")
	}
	if d%time.Minute != 0 {
		return 0, fmt.Errorf("must be a whole number of minutes")
	}
	return d, nil
}
