package ics

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Layouts of the human-readable date and time blocks on an event page,
// e.g. "Monday, September 1, 2025" and "11:00 PM".
const (
	fallbackDateLayout = "Monday, January 2, 2006"
	fallbackTimeLayout = "3:04 PM"
)

// ErrMalformedFallback is returned when the page's date or time text does not
// have the expected shape.
var ErrMalformedFallback = errors.New("malformed fallback date/time text")

// ParseFallback recovers an event's start and end from the page text.
//
// dateText is a block whose second line is the date. timeText is a block
// whose second line is the start time (optionally followed by a dash) and
// whose last line is the end time. An end clock earlier than the start clock
// means the event runs past midnight, so the end moves to the next day.
func ParseFallback(dateText, timeText string, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}

	day, err := parseFallbackDate(dateText)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	startClock, endClock, err := parseFallbackTimes(timeText)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), startClock.Hour(), startClock.Minute(), 0, 0, loc)

	endDay := day
	if clockMinutes(startClock) > clockMinutes(endClock) {
		endDay = day.AddDate(0, 0, 1)
	}
	end := time.Date(endDay.Year(), endDay.Month(), endDay.Day(), endClock.Hour(), endClock.Minute(), 0, 0, loc)

	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end %s is not after start %s", ErrMalformedFallback, endClock.Format(fallbackTimeLayout), startClock.Format(fallbackTimeLayout))
	}
	return start, end, nil
}

func parseFallbackDate(text string) (time.Time, error) {
	lines := splitLines(text)
	if len(lines) < 2 {
		return time.Time{}, fmt.Errorf("%w: date block has %d line(s)", ErrMalformedFallback, len(lines))
	}
	d, err := time.Parse(fallbackDateLayout, strings.TrimSpace(lines[1]))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q: %v", ErrMalformedFallback, lines[1], err)
	}
	return d, nil
}

func parseFallbackTimes(text string) (time.Time, time.Time, error) {
	lines := splitLines(text)
	if len(lines) < 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: time block has %d line(s)", ErrMalformedFallback, len(lines))
	}

	startText := strings.TrimSpace(strings.TrimSuffix(strings.TrimRight(lines[1], " \t"), "-"))
	start, err := parseClock(startText)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseClock(strings.TrimSpace(lines[len(lines)-1]))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

func parseClock(s string) (time.Time, error) {
	// time.Parse only accepts upper-case meridiem markers.
	t, err := time.Parse(fallbackTimeLayout, strings.ToUpper(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time %q: %v", ErrMalformedFallback, s, err)
	}
	return t, nil
}

func clockMinutes(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
