package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Duration is a config interval. It accepts either a bare integer
// (seconds, the historical env-var form) or a Go duration string.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		*d = 0
		return nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		if n < 0 {
			return fmt.Errorf("duration must be >= 0, got %d", n)
		}
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	if parsed < 0 {
		return fmt.Errorf("duration must be >= 0, got %s", parsed)
	}
	*d = Duration(parsed)
	return nil
}

// ClockTime is an optional local wall-clock time in "HH:MM" form.
// The zero value means "not configured".
type ClockTime struct {
	Hour   int
	Minute int
	set    bool
}

// Set reports whether a time was configured.
func (c ClockTime) Set() bool { return c.set }

// Reached reports whether t's local wall-clock time is at or past c.
func (c ClockTime) Reached(t time.Time) bool {
	if !c.set {
		return false
	}
	h, m, _ := t.Clock()
	return h > c.Hour || (h == c.Hour && m >= c.Minute)
}

func (c ClockTime) String() string {
	if !c.set {
		return ""
	}
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func (c *ClockTime) UnmarshalYAML(value *yaml.Node) error {
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		*c = ClockTime{}
		return nil
	}
	parsed, err := ParseClockTime(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseClockTime parses "HH:MM" (24h).
func ParseClockTime(raw string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return ClockTime{}, fmt.Errorf("invalid time %q: expected HH:MM", raw)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid time %q: %w", raw, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid time %q: %w", raw, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return ClockTime{}, fmt.Errorf("invalid time %q: out of range", raw)
	}
	return ClockTime{Hour: h, Minute: m, set: true}, nil
}
