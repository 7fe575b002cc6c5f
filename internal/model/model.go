package model

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	"nsocal/internal/audience"
)

// EventLink is one event discovered on the listing page, before its own
// page has been fetched.
type EventLink struct {
	Link     string
	Audience audience.Set
}

// RawEvent is the unrepaired capture of a single event page. It is
// produced once by the page fetch collaborator and never mutated.
//
// Optional fields are nil when the corresponding page element was absent.
type RawEvent struct {
	Link     string
	Audience audience.Set

	// CalendarSnippet is the decoded payload of the page's "add to
	// calendar" link: a VCALENDAR wrapping one VEVENT, or a bare VEVENT.
	CalendarSnippet string

	LocationName    *string
	LocationAddress *string
	Mandatory       *bool

	// Human-readable date and time blocks shown at the top of the page.
	// Used to recover start/end when the snippet's instants are broken.
	FallbackTimeText *string
	FallbackDateText *string
}

// Outcome classifies what the repair engine did with one RawEvent.
type Outcome int

const (
	// OutcomeParsed: the snippet was valid as published.
	OutcomeParsed Outcome = iota
	// OutcomeRepairedViaFallback: the snippet's instants were rebuilt from
	// the page's date and time text.
	OutcomeRepairedViaFallback
	// OutcomeDroppedMissingFallback: instants were broken and the page had
	// no date or time text to repair them from.
	OutcomeDroppedMissingFallback
	// OutcomeDroppedEmptySnippet: the snippet held no event, or could not
	// be parsed at all.
	OutcomeDroppedEmptySnippet
	// OutcomeDroppedMalformedFallback: the page text could not be parsed,
	// or still produced an invalid event.
	OutcomeDroppedMalformedFallback
)

func (o Outcome) String() string {
	switch o {
	case OutcomeParsed:
		return "parsed"
	case OutcomeRepairedViaFallback:
		return "repaired_via_fallback"
	case OutcomeDroppedMissingFallback:
		return "dropped_missing_fallback"
	case OutcomeDroppedEmptySnippet:
		return "dropped_empty_snippet"
	case OutcomeDroppedMalformedFallback:
		return "dropped_malformed_fallback"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Dropped reports whether the event was discarded.
func (o Outcome) Dropped() bool {
	switch o {
	case OutcomeParsed, OutcomeRepairedViaFallback:
		return false
	default:
		return true
	}
}

// Entry is a repaired, normalized event ready for aggregation.
type Entry struct {
	Event    *ical.VEvent
	Audience audience.Set
	Link     string

	// Outcome is OutcomeParsed or OutcomeRepairedViaFallback.
	Outcome Outcome

	// Start / End are in the configured named timezone.
	Start time.Time
	End   time.Time
}

// Ptr returns a pointer to v. Handy for filling RawEvent optionals.
func Ptr[T any](v T) *T {
	return &v
}
