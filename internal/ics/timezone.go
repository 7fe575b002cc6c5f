package ics

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"
)

// zoneSpan is the period a calendar needs a zone described for.
type zoneSpan struct {
	loc      *time.Location
	from, to time.Time
}

func (z *zoneSpan) extend(start, end time.Time) {
	if z.from.IsZero() || start.Before(z.from) {
		z.from = start
	}
	if end.After(z.to) {
		z.to = end
	}
}

// eventTZIDs returns the TZID parameters used by ev's DTSTART and DTEND.
func eventTZIDs(ev *ical.VEvent) []string {
	var out []string
	for _, p := range []ical.ComponentProperty{ical.ComponentPropertyDtStart, ical.ComponentPropertyDtEnd} {
		prop := ev.GetProperty(p)
		if prop == nil {
			continue
		}
		if v := prop.ICalParameters[string(ical.ParameterTzid)]; len(v) == 1 && v[0] != "" {
			out = append(out, v[0])
		}
	}
	return out
}

// buildVTimezone describes loc over [from, to] with one STANDARD or DAYLIGHT
// onset per zone period, taken from the embedded tz database. A zone with
// no transitions gets a single STANDARD onset.
func buildVTimezone(loc *time.Location, from, to time.Time) *ical.VTimezone {
	tz := ical.NewTimezone(loc.String())

	t := from.In(loc)
	for {
		start, end := t.ZoneBounds()
		if !start.IsZero() {
			addOnset(tz, loc, start)
		}
		if end.IsZero() || end.After(to) {
			break
		}
		t = end.In(loc)
	}

	if len(tz.Components) == 0 {
		name, offset := from.In(loc).Zone()
		std := ical.NewStandard()
		setOnset(&std.ComponentBase, "19700101T000000", offset, offset, name)
		tz.Components = append(tz.Components, std)
	}
	return tz
}

// addOnset appends the zone period beginning at instant start.
func addOnset(tz *ical.VTimezone, loc *time.Location, start time.Time) {
	at := start.In(loc)
	name, offsetTo := at.Zone()
	_, offsetFrom := start.Add(-time.Second).In(loc).Zone()

	// DTSTART is the onset in the wall clock that was in effect before it.
	local := start.In(time.FixedZone("", offsetFrom)).Format(icalLocalLayout)

	if at.IsDST() {
		d := &ical.Daylight{}
		setOnset(&d.ComponentBase, local, offsetFrom, offsetTo, name)
		tz.Components = append(tz.Components, d)
		return
	}
	std := ical.NewStandard()
	setOnset(&std.ComponentBase, local, offsetFrom, offsetTo, name)
	tz.Components = append(tz.Components, std)
}

func setOnset(cb *ical.ComponentBase, dtstart string, offsetFrom, offsetTo int, name string) {
	cb.SetProperty(ical.ComponentPropertyDtStart, dtstart)
	cb.SetProperty(ical.ComponentProperty(ical.PropertyTzoffsetfrom), formatUTCOffset(offsetFrom))
	cb.SetProperty(ical.ComponentProperty(ical.PropertyTzoffsetto), formatUTCOffset(offsetTo))
	cb.SetProperty(ical.ComponentProperty(ical.PropertyTzname), name)
}

// formatUTCOffset renders seconds east of UTC as a UTC-OFFSET value.
func formatUTCOffset(seconds int) string {
	sign := '+'
	if seconds < 0 {
		sign = '-'
		seconds = -seconds
	}
	h, m, s := seconds/3600, seconds/60%60, seconds%60
	if s != 0 {
		return fmt.Sprintf("%c%02d%02d%02d", sign, h, m, s)
	}
	return fmt.Sprintf("%c%02d%02d", sign, h, m)
}
