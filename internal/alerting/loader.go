package alerting

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// LoadRulesFromFile loads alert rules from a YAML file.
func LoadRulesFromFile(path string) ([]*Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rules file: %w", err)
	}
	defer f.Close()

	return LoadRules(f)
}

// LoadRules loads alert rules from a reader.
func LoadRules(r io.Reader) ([]*Rule, error) {
	var config RulesConfig
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse rules YAML: %w", err)
	}
	return validateRules(config.Rules)
}

// LoadRulesFromBytes loads alert rules from YAML bytes.
func LoadRulesFromBytes(data []byte) ([]*Rule, error) {
	var config RulesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse rules YAML: %w", err)
	}
	return validateRules(config.Rules)
}

func validateRules(rules []*Rule) ([]*Rule, error) {
	seen := make(map[string]int, len(rules))
	for i, rule := range rules {
		if rule == nil {
			return nil, fmt.Errorf("invalid rule at index %d: empty rule", i)
		}
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("invalid rule at index %d: %w", i, err)
		}
		if j, ok := seen[rule.ID]; ok {
			return nil, fmt.Errorf("invalid rule at index %d: duplicate id %q (first at index %d)", i, rule.ID, j)
		}
		seen[rule.ID] = i
	}
	return rules, nil
}

// RuleWriter persists rules.
type RuleWriter interface {
	Upsert(ctx context.Context, rule *models.AlertRule) error
}

// ApplyRules writes validated rules to the store. Existing rules keep their
// last trigger time; rules missing from the list are left untouched.
func ApplyRules(ctx context.Context, store RuleWriter, rules []*Rule) (int, error) {
	now := time.Now().UTC()
	for i, rule := range rules {
		if err := store.Upsert(ctx, rule.ToModel(now)); err != nil {
			return i, fmt.Errorf("upsert rule %q: %w", rule.Name, err)
		}
	}
	return len(rules), nil
}
