package ics

import (
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"nsocal/internal/audience"
	appLog "nsocal/internal/log"
	"nsocal/internal/model"
)

// DefaultProductID is the PRODID written into generated calendars.
const DefaultProductID = "-//nsocal//NSO Events Calendar//EN"

// Aggregate collects entries destined for one calendar file. The calendar's
// METHOD, VERSION, PRODID and name are fixed by NewAggregate before any entry
// can be inserted. Every TZID referenced by an event gets a VTIMEZONE.
type Aggregate struct {
	name  string
	cal   *ical.Calendar
	links map[string]struct{}
	zones map[string]*zoneSpan
	count int
}

// NewAggregate creates an empty calendar named name with METHOD:REQUEST.
func NewAggregate(name, productID string) *Aggregate {
	if productID == "" {
		productID = DefaultProductID
	}
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodRequest)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}
	return &Aggregate{
		name:  name,
		cal:   cal,
		links: make(map[string]struct{}),
		zones: make(map[string]*zoneSpan),
	}
}

// Insert adds e's event. An entry whose link is already present is ignored
// and Insert reports false.
func (a *Aggregate) Insert(e model.Entry) bool {
	if e.Event == nil {
		return false
	}
	if e.Link != "" {
		if _, ok := a.links[e.Link]; ok {
			return false
		}
		a.links[e.Link] = struct{}{}
	}
	a.cal.AddVEvent(e.Event)
	a.count++
	a.trackZones(e)
	return true
}

func (a *Aggregate) trackZones(e model.Entry) {
	if e.Start.IsZero() || e.End.IsZero() {
		return
	}
	for _, tzid := range eventTZIDs(e.Event) {
		span, ok := a.zones[tzid]
		if !ok {
			loc := e.Start.Location()
			if loc.String() != tzid {
				var err error
				if loc, err = time.LoadLocation(tzid); err != nil {
					appLog.Warn("unknown TZID, no VTIMEZONE written", "tzid", tzid, "link", e.Link)
					continue
				}
			}
			span = &zoneSpan{loc: loc}
			a.zones[tzid] = span
		}
		span.extend(e.Start, e.End)
	}
}

func (a *Aggregate) Name() string { return a.name }

// Len is the number of events inserted.
func (a *Aggregate) Len() int { return a.count }

// Events returns the calendar's events in insertion order.
func (a *Aggregate) Events() []*ical.VEvent {
	return a.cal.Events()
}

// Serialize renders the aggregate as an iCalendar document.
func (a *Aggregate) Serialize() string {
	return a.calendar().Serialize()
}

// calendar returns the events calendar with VTIMEZONE components in front.
func (a *Aggregate) calendar() *ical.Calendar {
	if len(a.zones) == 0 {
		return a.cal
	}
	out := *a.cal
	out.Components = make([]ical.Component, 0, len(a.zones)+len(a.cal.Components))
	for _, tzid := range slices.Sorted(maps.Keys(a.zones)) {
		span := a.zones[tzid]
		out.Components = append(out.Components, buildVTimezone(span.loc, span.from, span.to))
	}
	out.Components = append(out.Components, a.cal.Components...)
	return &out
}

// WriteTo writes the serialized calendar to w.
func (a *Aggregate) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, a.Serialize())
	return int64(n), err
}

// Reduce folds entries into a single aggregate. Entries are inserted in link
// order so the output does not depend on the order they were fetched in.
func Reduce(name, productID string, entries []model.Entry) *Aggregate {
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(x, y model.Entry) int {
		if c := strings.Compare(x.Link, y.Link); c != 0 {
			return c
		}
		return x.Start.Compare(y.Start)
	})

	agg := NewAggregate(name, productID)
	for _, e := range sorted {
		agg.Insert(e)
	}
	return agg
}

// Partition reduces the entries whose audience intersects predicate. An
// empty predicate selects every entry.
func Partition(name, productID string, entries []model.Entry, predicate audience.Set) *Aggregate {
	if predicate.Empty() {
		return Reduce(name, productID, entries)
	}
	selected := make([]model.Entry, 0, len(entries))
	for _, e := range entries {
		if e.Audience.Intersects(predicate) {
			selected = append(selected, e)
		}
	}
	return Reduce(name, productID, selected)
}
