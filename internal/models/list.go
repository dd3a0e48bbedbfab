package models

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// List is a collection of recipients under one owner.
type List struct {
	ID        int64      `json:"id"`
	Owner     string     `json:"owner"`
	Title     string     `json:"title"`
	Config    ListConfig `json:"config"`
	CreatedAt time.Time  `json:"created_at"`
}

// ListConfig is the per-list configuration document. Stored as YAML; the
// hot fields are mirrored into table columns when the list is saved.
type ListConfig struct {
	// Stop marks the list as a suppression list: its members are never
	// selected, and their addresses suppress duplicates in sibling lists
	// of the same owner.
	Stop bool `yaml:"stop,omitempty"`

	// Exclusive suppresses in-list active duplicates of the same address.
	Exclusive bool `yaml:"exclusive,omitempty"`

	// Friends are logins allowed to read this list.
	Friends []string `yaml:"friends,omitempty"`

	// ConfirmationRequired withholds sends until the recipient confirms.
	ConfirmationRequired bool `yaml:"confirmation_required,omitempty"`

	// Notify is the owner notification target for list-level events.
	Notify NotifyConfig `yaml:"notify,omitempty"`
}

// NotifyConfig is the target document for the fire-and-forget
// notification contract.
type NotifyConfig struct {
	ChatID int64 `yaml:"chat_id,omitempty"`
}

// ParseListConfig decodes and validates a list configuration document.
// An empty document is valid and yields all defaults.
func ParseListConfig(doc string) (ListConfig, error) {
	var cfg ListConfig
	if doc == "" {
		return cfg, nil
	}
	if err := yaml.Unmarshal([]byte(doc), &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse list config: %w", err)
	}
	return cfg, nil
}

// Marshal renders the configuration back to its YAML document form.
func (c ListConfig) Marshal() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal list config: %w", err)
	}
	return string(out), nil
}
