// Package timeparse parses expiration inputs that are either RFC3339
// timestamps or composable relative durations like "1d2h30m".
package timeparse

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Unit multipliers for relative durations. Months and years are
// approximated as 30 and 365 days, matching what the admin API documents.
const (
	day   = 24 * time.Hour
	week  = 7 * day
	month = 30 * day
	year  = 365 * day
)

// ParseExpireTime parses an expiration input at the given reference time.
// Accepted forms:
//   - RFC3339: 2026-10-01T12:00:00Z
//   - relative: 1d, 2w, 1h30m, 1d2h30m (units: s, m, h, d, w, M, y)
//
// A lone "m" is minutes; uppercase "M" is months.
func ParseExpireTime(input string, now time.Time) (time.Time, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return time.Time{}, fmt.Errorf("empty expiration input")
	}

	if t, err := time.Parse(time.RFC3339, input); err == nil {
		return t.UTC(), nil
	}

	d, err := ParseRelative(input)
	if err != nil {
		return time.Time{}, err
	}
	return now.UTC().Add(d), nil
}

// ParseRelative parses a composable relative duration such as "1d2h30m".
// The total must be positive.
func ParseRelative(input string) (time.Duration, error) {
	var total time.Duration
	remaining := input

	for remaining != "" {
		i := 0
		for i < len(remaining) && remaining[i] >= '0' && remaining[i] <= '9' {
			i++
		}
		if i == 0 {
			return 0, fmt.Errorf("invalid duration format: %q", input)
		}
		var num int64
		for _, c := range remaining[:i] {
			num = num*10 + int64(c-'0')
		}
		remaining = remaining[i:]

		j := 0
		for j < len(remaining) && unicode.IsLetter(rune(remaining[j])) {
			j++
		}
		if j == 0 {
			return 0, fmt.Errorf("missing unit after %d in %q", num, input)
		}
		unit := remaining[:j]
		remaining = remaining[j:]

		var per time.Duration
		switch unit {
		case "s", "sec", "second", "seconds":
			per = time.Second
		case "m", "min", "minute", "minutes":
			per = time.Minute
		case "h", "H", "hour", "hours":
			per = time.Hour
		case "d", "D", "day", "days":
			per = day
		case "w", "W", "week", "weeks":
			per = week
		case "M", "month", "months":
			per = month
		case "y", "Y", "year", "years":
			per = year
		default:
			return 0, fmt.Errorf("unsupported duration unit: %q", unit)
		}
		total += time.Duration(num) * per
	}

	if total <= 0 {
		return 0, fmt.Errorf("duration must be positive: %q", input)
	}
	return total, nil
}

// FormatRemaining renders the time left until deadline in a compact
// human-readable form for CLI listings. Past deadlines render as "expired".
func FormatRemaining(from, deadline time.Time) string {
	d := deadline.Sub(from)
	if d < 0 {
		return "expired"
	}

	days := int(d / day)
	hours := int(d%day) / int(time.Hour)
	minutes := int(d%time.Hour) / int(time.Minute)

	switch {
	case days > 0 && hours > 0:
		return fmt.Sprintf("%dd%dh", days, hours)
	case days > 0:
		return fmt.Sprintf("%dd", days)
	case hours > 0 && minutes > 0:
		return fmt.Sprintf("%dh%dm", hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh", hours)
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes)
	default:
		return fmt.Sprintf("%ds", int(d/time.Second))
	}
}
