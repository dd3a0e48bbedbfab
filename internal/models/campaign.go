package models

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Campaign binds one lane to one or more recipient lists for active
// sending. Exhausted is a derived marker: non-nil while the campaign's
// eligible-candidate queue is empty.
type Campaign struct {
	ID        int64          `json:"id"`
	Owner     string         `json:"owner"`
	LaneID    int64          `json:"lane_id"`
	Title     string         `json:"title"`
	Active    bool           `json:"active"`
	Speed     int            `json:"speed"`
	Exhausted *time.Time     `json:"exhausted,omitempty"`
	Config    CampaignConfig `json:"config"`
	CreatedAt time.Time      `json:"created_at"`
}

// CampaignConfig is the per-campaign configuration document.
type CampaignConfig struct {
	// Speed caps deliveries of this campaign per 24h window. Zero means
	// DefaultSpeed.
	Speed int `yaml:"speed,omitempty"`

	// Until deactivates the campaign once the date has passed.
	Until string `yaml:"until,omitempty"`

	// Decoy injects synthetic sends alongside real ones to disguise the
	// sending pattern.
	Decoy *DecoyConfig `yaml:"decoy,omitempty"`

	Notify NotifyConfig `yaml:"notify,omitempty"`
}

// DecoyConfig controls synthetic decoy sends. Amount is the expected
// number of decoys per real send (fractions are a probability); Address
// is the target pattern with "*" replaced by a random suffix.
type DecoyConfig struct {
	Amount  float64 `yaml:"amount"`
	Address string  `yaml:"address"`
}

// ParseCampaignConfig decodes and validates a campaign configuration
// document.
func ParseCampaignConfig(doc string) (CampaignConfig, error) {
	var cfg CampaignConfig
	if doc == "" {
		return cfg, nil
	}
	if err := yaml.Unmarshal([]byte(doc), &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse campaign config: %w", err)
	}
	if cfg.Speed < 0 {
		return cfg, fmt.Errorf("speed must not be negative, got %d", cfg.Speed)
	}
	if cfg.Until != "" {
		if _, err := ParseUntil(cfg.Until); err != nil {
			return cfg, err
		}
	}
	if cfg.Decoy != nil {
		if cfg.Decoy.Amount <= 0 {
			return cfg, fmt.Errorf("decoy amount must be positive, got %v", cfg.Decoy.Amount)
		}
		if cfg.Decoy.Address == "" {
			return cfg, fmt.Errorf("decoy address pattern is required")
		}
	}
	return cfg, nil
}

// EffectiveSpeed returns the configured cap or DefaultSpeed.
func (c CampaignConfig) EffectiveSpeed() int {
	if c.Speed > 0 {
		return c.Speed
	}
	return DefaultSpeed
}
