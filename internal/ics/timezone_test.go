package ics

import (
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func onset(t *testing.T, c ical.Component) (kind string, props map[string]string) {
	t.Helper()
	var cb *ical.ComponentBase
	switch v := c.(type) {
	case *ical.Daylight:
		kind, cb = "DAYLIGHT", &v.ComponentBase
	case *ical.Standard:
		kind, cb = "STANDARD", &v.ComponentBase
	default:
		t.Fatalf("unexpected component %T", c)
	}
	props = map[string]string{}
	for _, p := range cb.Properties {
		props[p.IANAToken] = p.Value
	}
	return kind, props
}

func TestBuildVTimezone_NewYorkFall(t *testing.T) {
	loc := newYork(t)
	from := time.Date(2025, 9, 1, 23, 0, 0, 0, loc)
	to := time.Date(2026, 1, 15, 12, 0, 0, 0, loc)

	tz := buildVTimezone(loc, from, to)
	assert.Equal(t, "America/New_York", tz.GetProperty(ical.ComponentPropertyTzid).Value)
	require.Len(t, tz.Components, 2)

	kind, props := onset(t, tz.Components[0])
	assert.Equal(t, "DAYLIGHT", kind)
	assert.Equal(t, map[string]string{
		"DTSTART":      "20250309T020000",
		"TZOFFSETFROM": "-0500",
		"TZOFFSETTO":   "-0400",
		"TZNAME":       "EDT",
	}, props)

	kind, props = onset(t, tz.Components[1])
	assert.Equal(t, "STANDARD", kind)
	assert.Equal(t, map[string]string{
		"DTSTART":      "20251102T020000",
		"TZOFFSETFROM": "-0400",
		"TZOFFSETTO":   "-0500",
		"TZNAME":       "EST",
	}, props)
}

func TestBuildVTimezone_FixedZone(t *testing.T) {
	from := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	tz := buildVTimezone(time.UTC, from, from.Add(time.Hour))
	require.Len(t, tz.Components, 1)

	kind, props := onset(t, tz.Components[0])
	assert.Equal(t, "STANDARD", kind)
	assert.Equal(t, "+0000", props["TZOFFSETFROM"])
	assert.Equal(t, "+0000", props["TZOFFSETTO"])
	assert.Equal(t, "UTC", props["TZNAME"])
}

func TestFormatUTCOffset(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{0, "+0000"},
		{-5 * 3600, "-0500"},
		{5*3600 + 30*60, "+0530"},
		{-(3*3600 + 25*60 + 21), "-032521"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatUTCOffset(tt.seconds))
	}
}
