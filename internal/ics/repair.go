package ics

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // TZID lookups must not depend on the host's zoneinfo.

	ical "github.com/arran4/golang-ical"

	appLog "nsocal/internal/log"
	"nsocal/internal/model"
)

const (
	// SnippetProductID is injected into every snippet; the upstream payload
	// omits PRODID.
	SnippetProductID = "NSO_CAL"

	// DefaultTimezone is the zone the upstream site publishes its events in.
	DefaultTimezone = "America/New_York"

	icalLocalLayout = "20060102T150405"
)

// Outcome classifies what the repair engine did with one RawEvent.
type Outcome = model.Outcome

const (
	OutcomeParsed                   = model.OutcomeParsed
	OutcomeRepairedViaFallback      = model.OutcomeRepairedViaFallback
	OutcomeDroppedMissingFallback   = model.OutcomeDroppedMissingFallback
	OutcomeDroppedEmptySnippet      = model.OutcomeDroppedEmptySnippet
	OutcomeDroppedMalformedFallback = model.OutcomeDroppedMalformedFallback
)

// Result is the repair engine's verdict for a single RawEvent. Event, Start
// and End are only set when the outcome is not a drop.
type Result struct {
	Outcome Outcome
	Event   *ical.VEvent
	Start   time.Time
	End     time.Time

	// Reason and Err describe why the event was dropped.
	Reason string
	Err    error
}

var (
	errNoEvents         = errors.New("snippet contains no VEVENT")
	errEpochEnd         = errors.New("DTEND is the epoch placeholder")
	errEndNotAfterStart = errors.New("DTEND is not after DTSTART")
)

// Repairer turns calendar snippets into events with valid, zoned instants.
type Repairer struct {
	// Location is the named zone injected into repaired DTSTART/DTEND lines.
	Location *time.Location
	// ProductID is the PRODID line injected before parsing.
	ProductID string
}

// NewRepairer returns a Repairer for loc. A nil loc means DefaultTimezone.
func NewRepairer(loc *time.Location) (*Repairer, error) {
	if loc == nil {
		var err error
		loc, err = time.LoadLocation(DefaultTimezone)
		if err != nil {
			return nil, fmt.Errorf("load default timezone: %w", err)
		}
	}
	return &Repairer{Location: loc, ProductID: SnippetProductID}, nil
}

// Repair parses raw's snippet and, when its instants are malformed, rebuilds
// them from the page's fallback text. Every drop is logged with the link.
func (r *Repairer) Repair(raw model.RawEvent) Result {
	res := r.repair(raw)
	if res.Outcome.Dropped() {
		appLog.Warn("event dropped", "link", raw.Link, "outcome", res.Outcome.String(), "reason", res.Reason, "err", res.Err)
	}
	return res
}

func (r *Repairer) repair(raw model.RawEvent) Result {
	lines := r.prepareSnippet(raw.CalendarSnippet)
	if lines == nil {
		return dropped(OutcomeDroppedEmptySnippet, "no calendar entries", errNoEvents)
	}

	ev, err := parseSingleEvent(lines)
	if errors.Is(err, errNoEvents) {
		return dropped(OutcomeDroppedEmptySnippet, "no calendar entries", err)
	}
	if err != nil {
		return dropped(OutcomeDroppedEmptySnippet, "unparseable calendar snippet", err)
	}

	start, end, err := r.instants(ev)
	if err == nil {
		return Result{Outcome: OutcomeParsed, Event: ev, Start: start, End: end}
	}

	if raw.FallbackDateText == nil || raw.FallbackTimeText == nil {
		return dropped(OutcomeDroppedMissingFallback, "malformed date information", err)
	}
	appLog.Info("malformed date information, parsing page text", "link", raw.Link, "err", err)

	start, end, err = ParseFallback(*raw.FallbackDateText, *raw.FallbackTimeText, r.Location)
	if err != nil {
		return dropped(OutcomeDroppedMalformedFallback, "unparseable date/time text", err)
	}

	fixed := rewriteInstants(lines, r.Location, start, end)
	ev, err = parseSingleEvent(fixed)
	if err != nil {
		return dropped(OutcomeDroppedMalformedFallback, "repaired snippet did not parse", err)
	}
	start, end, err = r.instants(ev)
	if err != nil {
		return dropped(OutcomeDroppedMalformedFallback, "repaired snippet still invalid", err)
	}
	return Result{Outcome: OutcomeRepairedViaFallback, Event: ev, Start: start, End: end}
}

func dropped(o Outcome, reason string, err error) Result {
	return Result{Outcome: o, Reason: reason, Err: err}
}

// prepareSnippet splits the snippet into lines, wraps a bare VEVENT in a
// VCALENDAR and injects PRODID as the second line. It returns nil for an
// empty snippet.
func (r *Repairer) prepareSnippet(snippet string) []string {
	snippet = strings.TrimSpace(strings.ReplaceAll(snippet, "\r\n", "\n"))
	if snippet == "" {
		return nil
	}
	lines := strings.Split(snippet, "\n")

	if !strings.EqualFold(strings.TrimSpace(lines[0]), "BEGIN:VCALENDAR") {
		wrapped := make([]string, 0, len(lines)+3)
		wrapped = append(wrapped, "BEGIN:VCALENDAR", "VERSION:2.0")
		wrapped = append(wrapped, lines...)
		lines = append(wrapped, "END:VCALENDAR")
	}

	for _, l := range lines {
		if strings.HasPrefix(strings.ToUpper(l), "PRODID") {
			return lines
		}
	}

	productID := r.ProductID
	if productID == "" {
		productID = SnippetProductID
	}
	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[0], "PRODID:"+productID)
	return append(out, lines[1:]...)
}

func parseSingleEvent(lines []string) (*ical.VEvent, error) {
	cal, err := ical.ParseCalendar(strings.NewReader(strings.Join(lines, "\r\n") + "\r\n"))
	if err != nil {
		return nil, fmt.Errorf("parse snippet: %w", err)
	}
	if cal == nil {
		return nil, errNoEvents
	}
	events := cal.Events()
	if len(events) == 0 {
		return nil, errNoEvents
	}
	return events[0], nil
}

// instants reads DTSTART/DTEND and rejects the upstream defects: missing or
// unparseable values, an epoch placeholder end, and end not after start.
func (r *Repairer) instants(ev *ical.VEvent) (time.Time, time.Time, error) {
	start, err := ev.GetStartAt()
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("DTSTART: %w", err)
	}
	end, err := ev.GetEndAt()
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("DTEND: %w", err)
	}
	if end.Unix() <= 0 {
		return time.Time{}, time.Time{}, errEpochEnd
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, errEndNotAfterStart
	}
	return start.In(r.Location), end.In(r.Location), nil
}

// rewriteInstants replaces the DTSTART line and the DTEND line after it with
// TZID-qualified local times. Missing lines are inserted before END:VEVENT.
func rewriteInstants(lines []string, loc *time.Location, start, end time.Time) []string {
	out := make([]string, len(lines))
	copy(out, lines)

	startLine := fmt.Sprintf("DTSTART;TZID=%s:%s", loc.String(), start.In(loc).Format(icalLocalLayout))
	endLine := fmt.Sprintf("DTEND;TZID=%s:%s", loc.String(), end.In(loc).Format(icalLocalLayout))

	startIdx := indexOfProperty(out, "DTSTART", 0)
	endFrom := 0
	if startIdx >= 0 {
		out[startIdx] = startLine
		endFrom = startIdx + 1
	}
	endIdx := indexOfProperty(out, "DTEND", endFrom)
	if endIdx >= 0 {
		out[endIdx] = endLine
	}

	var missing []string
	if startIdx < 0 {
		missing = append(missing, startLine)
	}
	if endIdx < 0 {
		missing = append(missing, endLine)
	}
	if len(missing) == 0 {
		return out
	}

	at := indexOfProperty(out, "END", 0)
	for at >= 0 && !strings.EqualFold(strings.TrimSpace(out[at]), "END:VEVENT") {
		at = indexOfProperty(out, "END", at+1)
	}
	if at < 0 {
		return out
	}
	withMissing := make([]string, 0, len(out)+len(missing))
	withMissing = append(withMissing, out[:at]...)
	withMissing = append(withMissing, missing...)
	return append(withMissing, out[at:]...)
}

// indexOfProperty finds the first line at or after from whose property name
// is exactly name (followed by ':' or ';').
func indexOfProperty(lines []string, name string, from int) int {
	for i := from; i < len(lines); i++ {
		l := lines[i]
		if len(l) <= len(name) || !strings.EqualFold(l[:len(name)], name) {
			continue
		}
		if c := l[len(name)]; c == ':' || c == ';' {
			return i
		}
	}
	return -1
}
