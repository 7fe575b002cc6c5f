package ics

import (
	"errors"
	"fmt"
	"strings"

	ical "github.com/arran4/golang-ical"

	"nsocal/internal/model"
)

const mandatoryPrefix = "MANDATORY: "

// TextConverter turns an HTML fragment into trimmed plain text.
type TextConverter func(html string) string

// Builder assembles Entries from repaired events and page metadata.
type Builder struct {
	ToText TextConverter
}

// NewBuilder returns a Builder that converts descriptions with toText. A nil
// toText keeps descriptions as trimmed markup.
func NewBuilder(toText TextConverter) *Builder {
	if toText == nil {
		toText = strings.TrimSpace
	}
	return &Builder{ToText: toText}
}

var errDroppedResult = errors.New("cannot build an entry from a dropped event")

// Build decorates the repaired event with location, title, description and
// URL, and pairs it with the event's audience.
func (b *Builder) Build(raw model.RawEvent, res Result) (model.Entry, error) {
	if res.Outcome.Dropped() || res.Event == nil {
		return model.Entry{}, fmt.Errorf("%s: %w", raw.Link, errDroppedResult)
	}
	ev := res.Event
	aud := raw.Audience.OrAny()

	ev.SetProperty(ical.ComponentPropertyLocation, ComposeLocation(raw.LocationName, raw.LocationAddress))

	title := propertyText(ev, ical.ComponentPropertySummary)
	if raw.Mandatory != nil && *raw.Mandatory {
		title = mandatoryPrefix + title
	}
	ev.SetProperty(ical.ComponentPropertySummary, title)

	description := "Intended audience: " + aud.String()
	if upstream := propertyText(ev, ical.ComponentPropertyDescription); upstream != "" {
		description += "\n\n" + b.ToText(upstream)
	}
	ev.SetProperty(ical.ComponentPropertyDescription, description)

	ev.SetProperty(ical.ComponentPropertyUrl, raw.Link)

	return model.Entry{
		Event:    ev,
		Audience: aud,
		Link:     raw.Link,
		Outcome:  res.Outcome,
		Start:    res.Start,
		End:      res.End,
	}, nil
}

// ComposeLocation renders the location line from the page's optional venue
// name and street address.
func ComposeLocation(name, address *string) string {
	switch {
	case name == nil && address == nil:
		return ""
	case name == nil:
		return *address
	case address == nil:
		return *name
	default:
		return fmt.Sprintf("%s: %s.", *name, *address)
	}
}

// propertyText reads a TEXT property. golang-ical unescapes on parse and
// escapes on serialize, so values are kept plain in memory.
func propertyText(ev *ical.VEvent, p ical.ComponentProperty) string {
	prop := ev.GetProperty(p)
	if prop == nil {
		return ""
	}
	return prop.Value
}
