package guardrails

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy is the configuration form of the approval rules.
type Policy struct {
	// AlwaysRequire lists actions that need approval regardless of context.
	AlwaysRequire []string `yaml:"always_require"`
	// Reasons optionally overrides the reason reported for an always-require action.
	Reasons map[string]string `yaml:"reasons,omitempty"`
	// Conditional rules are checked only when AlwaysRequire did not match.
	Conditional []ConditionalRule `yaml:"conditional"`
}

// ConditionalRule requires approval for Actions when When holds.
type ConditionalRule struct {
	Actions []string `yaml:"actions"`
	// When is a CEL expression over tier (string), segment (string) and score (int).
	When   string `yaml:"when"`
	Reason string `yaml:"reason,omitempty"`
	// ActionTypePrefix is prepended to the action name on the resulting check.
	ActionTypePrefix string `yaml:"action_type_prefix,omitempty"`
}

// DefaultPolicy is the built-in approval table.
func DefaultPolicy() Policy {
	return Policy{
		AlwaysRequire: []string{
			"reject_decision",
			"enterprise_scheduling",
			"send_email",
			"mark_spam",
		},
		Conditional: []ConditionalRule{
			{
				Actions:          []string{"schedule_meeting", "send_proposal"},
				When:             `segment == "enterprise"`,
				Reason:           "Enterprise actions require approval",
				ActionTypePrefix: "enterprise_",
			},
		},
	}
}

// ParsePolicy decodes a YAML policy document.
func ParsePolicy(data []byte) (Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	return p, nil
}

// LoadPolicy reads a YAML policy file. An empty path yields DefaultPolicy.
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	// #nosec G304 -- path comes from operator configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy %s: %w", path, err)
	}
	return ParsePolicy(data)
}
