package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Duration is a config-friendly duration.
//
// It accepts either a plain JSON number (interpreted as milliseconds, the
// wire form operator tooling tends to emit) or a Go duration string such as
// "30s" or "2h30m". The zero value means "unset".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		*d = 0
		return nil
	}
	if s[0] == '"' {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			*d = 0
			return nil
		}
		v, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		if v < 0 {
			return fmt.Errorf("duration must be >= 0, got %q", raw)
		}
		*d = Duration(v)
		return nil
	}

	// Bare number: milliseconds.
	var ms float64
	if err := json.Unmarshal(b, &ms); err != nil {
		return fmt.Errorf("invalid duration %s: %w", s, err)
	}
	if ms < 0 {
		return fmt.Errorf("duration must be >= 0, got %s", s)
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

// OrDefault returns the duration, or def when unset.
func (d Duration) OrDefault(def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return time.Duration(d)
}
