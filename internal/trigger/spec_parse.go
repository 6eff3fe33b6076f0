package trigger

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// SpecKind describes the normalized kind of a schedule string.
type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec is a normalized schedule string.
//
// Supported forms:
//   - Cron (crontab.guru-style): "*/5 * * * *", "55 * * * *", "@hourly", "@every 55m"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//
// Optional prefixes "cron:" and "interval:" force an interpretation.
type ParsedSpec struct {
	Kind   SpecKind
	Cron   string
	Every  time.Duration
	Source string // "cron" | "duration" | "hhmm"
}

var reHHMM = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

// ParseSchedule parses a schedule string into either a cron expression or an
// interval duration.
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	if rest, ok := strings.CutPrefix(low, "cron:"); ok {
		expr := strings.TrimSpace(s[len(s)-len(rest):])
		if expr == "" {
			return ParsedSpec{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		return ParsedSpec{Kind: SpecCron, Cron: expr, Source: "cron"}, nil
	}
	for _, prefix := range []string{"interval:", "every:"} {
		if strings.HasPrefix(low, prefix) {
			return parseIntervalSpec(strings.TrimSpace(s[len(prefix):]))
		}
	}

	// Whitespace or a leading '@' means cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return ParsedSpec{Kind: SpecCron, Cron: s, Source: "cron"}, nil
	}

	if reHHMM.MatchString(s) {
		return parseIntervalSpec(s)
	}

	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return ParsedSpec{}, fmt.Errorf("interval must be > 0")
		}
		return ParsedSpec{Kind: SpecInterval, Every: d, Source: "duration"}, nil
	}

	return ParsedSpec{}, fmt.Errorf(
		"invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30', or duration like '55m')",
		raw,
	)
}

func parseIntervalSpec(v string) (ParsedSpec, error) {
	if v == "" {
		return ParsedSpec{}, fmt.Errorf("interval required")
	}
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return ParsedSpec{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return ParsedSpec{}, fmt.Errorf("interval must be > 0")
		}
		return ParsedSpec{Kind: SpecInterval, Every: d, Source: "hhmm"}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '55m'/'2h30m')", v)
	}
	if d <= 0 {
		return ParsedSpec{}, fmt.Errorf("interval must be > 0")
	}
	return ParsedSpec{Kind: SpecInterval, Every: d, Source: "duration"}, nil
}
