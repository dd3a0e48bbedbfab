package models

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Lane is an ordered sequence of letters owned by one owner. Letters are
// ordered by their place; a campaign binds a lane to recipient lists.
type Lane struct {
	ID        int64      `json:"id"`
	Owner     string     `json:"owner"`
	Title     string     `json:"title"`
	Config    LaneConfig `json:"config"`
	CreatedAt time.Time  `json:"created_at"`
}

// LaneConfig carries transport defaults shared by the lane's letters.
type LaneConfig struct {
	Transport string       `yaml:"transport,omitempty"` // default kind: smtp, telegram
	From      string       `yaml:"from,omitempty"`      // default From address for smtp letters
	ChatID    int64        `yaml:"chat_id,omitempty"`   // target chat for telegram letters
	Notify    NotifyConfig `yaml:"notify,omitempty"`
}

// ParseLaneConfig decodes and validates a lane configuration document.
func ParseLaneConfig(doc string) (LaneConfig, error) {
	var cfg LaneConfig
	if doc == "" {
		return cfg, nil
	}
	if err := yaml.Unmarshal([]byte(doc), &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse lane config: %w", err)
	}
	switch cfg.Transport {
	case "", TransportSMTP, TransportTelegram:
	default:
		return cfg, fmt.Errorf("unknown transport kind %q", cfg.Transport)
	}
	return cfg, nil
}

// Transport kinds understood by the delivery pipeline.
const (
	TransportSMTP     = "smtp"
	TransportTelegram = "telegram"
)
