package timeparse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRelative(t *testing.T) {
	cases := []struct {
		input string
		want  time.Duration
	}{
		{"1d", 24 * time.Hour},
		{"2w", 14 * 24 * time.Hour},
		{"1y", 365 * 24 * time.Hour},
		{"1M", 30 * 24 * time.Hour},
		{"90s", 90 * time.Second},
		{"1d2h30m", 24*time.Hour + 2*time.Hour + 30*time.Minute},
		{"1h30m", 90 * time.Minute},
	}
	for _, tc := range cases {
		got, err := ParseRelative(tc.input)
		require.NoError(t, err, tc.input)
		assert.Equal(t, tc.want, got, tc.input)
	}
}

func TestParseRelativeRejectsInvalid(t *testing.T) {
	for _, input := range []string{"", "invalid", "1x", "abc", "d1", "0s", "5"} {
		_, err := ParseRelative(input)
		assert.Error(t, err, input)
	}
}

func TestParseExpireTimeRFC3339(t *testing.T) {
	now := time.Now().UTC()
	got, err := ParseExpireTime("2026-10-01T12:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC), got)
}

func TestParseExpireTimeRelative(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	got, err := ParseExpireTime("1d2h30m", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(24*time.Hour+2*time.Hour+30*time.Minute), got)
}

func TestFormatRemaining(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "expired", FormatRemaining(now, now.Add(-time.Minute)))
	assert.Equal(t, "2d3h", FormatRemaining(now, now.Add(51*time.Hour)))
	assert.Equal(t, "45m", FormatRemaining(now, now.Add(45*time.Minute)))
	assert.Equal(t, "30s", FormatRemaining(now, now.Add(30*time.Second)))
}
