package models

import (
	"testing"
	"time"
)

func TestParseRelax(t *testing.T) {
	tests := []struct {
		spec    string
		want    time.Duration
		wantErr bool
	}{
		{"1:0:0", 24 * time.Hour, false},
		{"0:2:30", 2*time.Hour + 30*time.Minute, false},
		{"0:0:0", 0, false},
		{"7:12:5", 7*24*time.Hour + 12*time.Hour + 5*time.Minute, false},
		{"1:2", 0, true},
		{"1:-2:0", 0, true},
		{"a:b:c", 0, true},
		{"garbage", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		spec, err := ParseRelax(tt.spec)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseRelax(%q) expected error, got %+v", tt.spec, spec)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRelax(%q) unexpected error: %v", tt.spec, err)
			continue
		}
		if spec.IsDate {
			t.Errorf("ParseRelax(%q) unexpectedly parsed as a date", tt.spec)
		}
		if spec.Duration != tt.want {
			t.Errorf("ParseRelax(%q) = %v, want %v", tt.spec, spec.Duration, tt.want)
		}
	}
}

func TestParseRelaxDate(t *testing.T) {
	spec, err := ParseRelax("2030-06-15")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !spec.IsDate {
		t.Fatal("expected a date spec")
	}

	now := time.Now().UTC()
	at := spec.At(now)
	if at.Year() != 2030 || at.Month() != time.June || at.Day() != 15 {
		t.Errorf("unexpected resolved date: %v", at)
	}
}

func TestRelaxSpecAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rel := RelaxSpec{Duration: 36 * time.Hour}
	if got := rel.At(now); !got.Equal(now.Add(36 * time.Hour)) {
		t.Errorf("relative At = %v", got)
	}

	fixed := RelaxSpec{Date: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), IsDate: true}
	if got := fixed.At(now); !got.Equal(fixed.Date) {
		t.Errorf("fixed At = %v", got)
	}
}

func TestParseLetterConfig(t *testing.T) {
	cfg, err := ParseLetterConfig("subject: Hello\nbody: Hi {{name}}\nspeed: 10\nrelax: 1:0:0\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Subject != "Hello" || cfg.Speed != 10 || cfg.Relax != "1:0:0" {
		t.Errorf("unexpected config: %+v", cfg)
	}

	if _, err := ParseLetterConfig("transport: pigeon\n"); err == nil {
		t.Error("expected error for unknown transport kind")
	}
	if _, err := ParseLetterConfig("speed: -1\n"); err == nil {
		t.Error("expected error for negative speed")
	}
	if _, err := ParseLetterConfig("relax: nonsense\n"); err == nil {
		t.Error("expected error for broken relax spec")
	}
	if _, err := ParseLetterConfig("until: 15-06-2030\n"); err == nil {
		t.Error("expected error for broken until date")
	}
	if _, err := ParseLetterConfig(""); err != nil {
		t.Errorf("empty document should be valid: %v", err)
	}
}

func TestLetterConfigEffectiveSpeed(t *testing.T) {
	if got := (LetterConfig{}).EffectiveSpeed(); got != DefaultSpeed {
		t.Errorf("default speed = %d, want %d", got, DefaultSpeed)
	}
	if got := (LetterConfig{Speed: 42}).EffectiveSpeed(); got != 42 {
		t.Errorf("configured speed = %d, want 42", got)
	}
}
