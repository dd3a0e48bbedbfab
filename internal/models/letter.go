package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSpeed is the per-letter and per-campaign throughput cap applied
// when the configuration document does not set one: deliveries per
// sliding 24-hour window.
const DefaultSpeed = 65536

// Letter is one message template within a lane. Place is its position in
// the lane, a unique ascending integer.
type Letter struct {
	ID        int64        `json:"id"`
	LaneID    int64        `json:"lane_id"`
	Title     string       `json:"title"`
	Place     int          `json:"place"`
	Active    bool         `json:"active"`
	Speed     int          `json:"speed"`
	Config    LetterConfig `json:"config"`
	CreatedAt time.Time    `json:"created_at"`
}

// LetterConfig is the per-letter configuration document.
type LetterConfig struct {
	// Transport overrides the lane default kind (smtp or telegram).
	Transport string `yaml:"transport,omitempty"`

	From    string `yaml:"from,omitempty"`
	Subject string `yaml:"subject,omitempty"`
	Body    string `yaml:"body,omitempty"`
	ChatID  int64  `yaml:"chat_id,omitempty"`

	// Speed caps deliveries of this letter per 24h window. Zero means
	// DefaultSpeed.
	Speed int `yaml:"speed,omitempty"`

	// Relax is a per-delivery cooldown: either a relative
	// "days:hours:minutes" duration or a fixed "2006-01-02" date.
	Relax string `yaml:"relax,omitempty"`

	// Until deactivates the letter once the date has passed.
	Until string `yaml:"until,omitempty"`
}

// ParseLetterConfig decodes and validates a letter configuration document.
// Relax and until specs are parsed eagerly so a broken document is
// rejected at write time instead of at send time.
func ParseLetterConfig(doc string) (LetterConfig, error) {
	var cfg LetterConfig
	if doc == "" {
		return cfg, nil
	}
	if err := yaml.Unmarshal([]byte(doc), &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse letter config: %w", err)
	}
	switch cfg.Transport {
	case "", TransportSMTP, TransportTelegram:
	default:
		return cfg, fmt.Errorf("unknown transport kind %q", cfg.Transport)
	}
	if cfg.Speed < 0 {
		return cfg, fmt.Errorf("speed must not be negative, got %d", cfg.Speed)
	}
	if cfg.Relax != "" {
		if _, err := ParseRelax(cfg.Relax); err != nil {
			return cfg, err
		}
	}
	if cfg.Until != "" {
		if _, err := ParseUntil(cfg.Until); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// EffectiveSpeed returns the configured cap or DefaultSpeed.
func (c LetterConfig) EffectiveSpeed() int {
	if c.Speed > 0 {
		return c.Speed
	}
	return DefaultSpeed
}

// RelaxSpec is a parsed relax declaration: either a relative duration or
// a fixed calendar date.
type RelaxSpec struct {
	Duration time.Duration
	Date     time.Time
	IsDate   bool
}

// At resolves the do-not-send-before timestamp relative to now.
func (s RelaxSpec) At(now time.Time) time.Time {
	if s.IsDate {
		return s.Date
	}
	return now.Add(s.Duration)
}

// ParseRelax parses a relax spec: "days:hours:minutes" or "2006-01-02".
func ParseRelax(spec string) (RelaxSpec, error) {
	if parts := strings.Split(spec, ":"); len(parts) == 3 {
		var nums [3]int
		for i, p := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil || n < 0 {
				return RelaxSpec{}, fmt.Errorf("invalid relax spec %q", spec)
			}
			nums[i] = n
		}
		d := time.Duration(nums[0])*24*time.Hour +
			time.Duration(nums[1])*time.Hour +
			time.Duration(nums[2])*time.Minute
		return RelaxSpec{Duration: d}, nil
	}
	date, err := ParseUntil(spec)
	if err != nil {
		return RelaxSpec{}, fmt.Errorf("invalid relax spec %q", spec)
	}
	return RelaxSpec{Date: date, IsDate: true}, nil
}

// ParseUntil parses a calendar expiry date.
func ParseUntil(spec string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(spec))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", spec, err)
	}
	return t.UTC(), nil
}
