package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed points_rules.yaml
var defaultRules []byte

// ActionRule limits how a single earning action may be awarded.
type ActionRule struct {
	Category      string        `yaml:"category"`
	DailyLimit    int           `yaml:"daily_limit"` // 0 means unlimited
	Cooldown      time.Duration `yaml:"cooldown"`
	DefaultAmount int64         `yaml:"default_amount"`
	MaxAmount     int64         `yaml:"max_amount"` // 0 means no cap
	UserTriggered bool          `yaml:"user_triggered"`
}

type PointsRules struct {
	Actions  map[string]ActionRule `yaml:"actions"`
	Features map[string]int        `yaml:"features"`
}

// LoadRules parses the rules document at path, or the embedded default when
// path is empty.
func LoadRules(path string) (*PointsRules, error) {
	data := defaultRules
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read points rules: %w", err)
		}
		data = b
	}
	return ParseRules(data)
}

func ParseRules(data []byte) (*PointsRules, error) {
	var rules PointsRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse points rules: %w", err)
	}
	for name, rule := range rules.Actions {
		if rule.Category == "" {
			return nil, fmt.Errorf("points rule %q: category is required", name)
		}
		if rule.DailyLimit < 0 || rule.Cooldown < 0 || rule.MaxAmount < 0 || rule.DefaultAmount < 0 {
			return nil, fmt.Errorf("points rule %q: limits must not be negative", name)
		}
		if rule.MaxAmount > 0 && rule.DefaultAmount > rule.MaxAmount {
			return nil, fmt.Errorf("points rule %q: default_amount exceeds max_amount", name)
		}
	}
	for feature, limit := range rules.Features {
		if limit < 0 {
			return nil, fmt.Errorf("feature %q: daily limit must not be negative", feature)
		}
	}
	if rules.Actions == nil {
		rules.Actions = map[string]ActionRule{}
	}
	if rules.Features == nil {
		rules.Features = map[string]int{}
	}
	return &rules, nil
}
