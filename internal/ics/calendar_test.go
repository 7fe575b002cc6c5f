package ics

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nsocal/internal/audience"
	"nsocal/internal/model"
)

func entryFor(t *testing.T, slug string, aud audience.Set) model.Entry {
	t.Helper()
	raw := rawEvent("https://nso.example/event/"+slug, snippet(slug+"@nso", "20250901T230000Z", "20250902T010000Z"))
	raw.Audience = aud
	return buildFixture(t, raw)
}

func TestNewAggregate_FixedMetadata(t *testing.T) {
	agg := NewAggregate("General", "")
	out := agg.Serialize()

	assert.Contains(t, out, "METHOD:REQUEST")
	assert.Contains(t, out, "VERSION:2.0")
	assert.Contains(t, out, "PRODID:"+DefaultProductID)
	assert.Contains(t, out, "X-WR-CALNAME:General")
	assert.Equal(t, 0, agg.Len())
	assert.Equal(t, "General", agg.Name())
}

func TestAggregate_InsertDedupesByLink(t *testing.T) {
	e := entryFor(t, "dup", audience.NewSet(audience.Any))
	agg := NewAggregate("General", "")

	assert.True(t, agg.Insert(e))
	assert.False(t, agg.Insert(e))
	assert.False(t, agg.Insert(model.Entry{Link: "https://nso.example/event/nil"}))
	assert.Equal(t, 1, agg.Len())
	assert.Len(t, agg.Events(), 1)
}

func TestPartition_AudienceIntersection(t *testing.T) {
	transfer := entryFor(t, "transfer", audience.NewSet(audience.Transfer))
	anyone := entryFor(t, "anyone", audience.NewSet(audience.Any))
	fgli := entryFor(t, "fgli", audience.NewSet(audience.FGLI, audience.FirstYear))
	entries := []model.Entry{transfer, anyone, fgli}

	transferCal := Partition("Transfer", "", entries, audience.NewSet(audience.Transfer, audience.Any))
	assert.Equal(t, 2, transferCal.Len())
	assert.Contains(t, transferCal.Serialize(), "UID:transfer@nso")
	assert.Contains(t, transferCal.Serialize(), "UID:anyone@nso")

	fgliCal := Partition("FGLI", "", entries, audience.NewSet(audience.FGLI))
	assert.Equal(t, 1, fgliCal.Len())
	assert.NotContains(t, fgliCal.Serialize(), "UID:transfer@nso")

	all := Partition("General", "", entries, 0)
	assert.Equal(t, 3, all.Len())
}

func TestReduce_OrderIndependent(t *testing.T) {
	a := entryFor(t, "a", audience.NewSet(audience.Any))
	b := entryFor(t, "b", audience.NewSet(audience.Transfer))
	c := entryFor(t, "c", audience.NewSet(audience.International))

	first := Reduce("General", "", []model.Entry{a, b, c}).Serialize()
	second := Reduce("General", "", []model.Entry{c, a, b}).Serialize()
	assert.Equal(t, first, second)
	assert.Equal(t, 3, strings.Count(first, "BEGIN:VEVENT"))
}

func TestReduce_DoesNotReorderInput(t *testing.T) {
	entries := make([]model.Entry, 0, 3)
	for _, slug := range []string{"z", "m", "a"} {
		entries = append(entries, entryFor(t, slug, audience.NewSet(audience.Any)))
	}
	Reduce("General", "", entries)

	got := make([]string, len(entries))
	for i, e := range entries {
		got[i] = e.Link
	}
	assert.Equal(t, []string{
		"https://nso.example/event/z",
		"https://nso.example/event/m",
		"https://nso.example/event/a",
	}, got)
}

func TestAggregate_WriteTo(t *testing.T) {
	agg := Reduce("General", "", []model.Entry{entryFor(t, "w", audience.NewSet(audience.Any))})

	var buf bytes.Buffer
	n, err := agg.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)
	assert.Equal(t, agg.Serialize(), buf.String())
	assert.True(t, strings.HasPrefix(buf.String(), "BEGIN:VCALENDAR"), fmt.Sprintf("%.40q", buf.String()))
}

func TestAggregate_SerializedTextRoundTrips(t *testing.T) {
	cal := strings.Join([]string{
		"BEGIN:VEVENT",
		"UID:mixer@nso",
		"DTSTART:20250901T230000Z",
		"DTEND:20250902T010000Z",
		`SUMMARY:Pizza\, Games\; Music`,
		`DESCRIPTION:Bring a friend\nand a jacket`,
		"END:VEVENT",
	}, "\n")
	raw := rawEvent("https://nso.example/event/mixer", cal)
	raw.Mandatory = model.Ptr(true)
	raw.LocationName = model.Ptr("Houston Hall; Room 2")
	raw.LocationAddress = model.Ptr("3417 Spruce St, Philadelphia")

	var buf bytes.Buffer
	_, err := Reduce("General", "", []model.Entry{buildFixture(t, raw)}).WriteTo(&buf)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `Spruce St\, Philadelphia`)
	assert.NotContains(t, out, `\\`)

	parsed, err := ical.ParseCalendar(strings.NewReader(out))
	require.NoError(t, err)
	require.Len(t, parsed.Events(), 1)
	ev := parsed.Events()[0]

	assert.Equal(t, "MANDATORY: Pizza, Games; Music", ev.GetProperty(ical.ComponentPropertySummary).Value)
	assert.Equal(t, "Houston Hall; Room 2: 3417 Spruce St, Philadelphia.", ev.GetProperty(ical.ComponentPropertyLocation).Value)
	assert.Equal(t, "Intended audience: First-Year\n\nBring a friend\nand a jacket", ev.GetProperty(ical.ComponentPropertyDescription).Value)
	assert.Equal(t, "https://nso.example/event/mixer", ev.GetProperty(ical.ComponentPropertyUrl).Value)
}

func repairedEntry(t *testing.T, slug string) model.Entry {
	t.Helper()
	raw := rawEvent("https://nso.example/event/"+slug, snippet(slug+"@nso", "20250901T230000Z", "19700101T000000Z"))
	raw.FallbackDateText = model.Ptr("Date\nMonday, September 1, 2025")
	raw.FallbackTimeText = model.Ptr("Time\n11:00 PM -\n1:00 AM")
	return buildFixture(t, raw)
}

func TestAggregate_WritesVTimezoneForTZID(t *testing.T) {
	agg := Reduce("General", "", []model.Entry{
		repairedEntry(t, "late"),
		entryFor(t, "utc", audience.NewSet(audience.Any)),
	})
	out := agg.Serialize()

	assert.Contains(t, out, "DTSTART;TZID=America/New_York:20250901T230000")
	assert.Equal(t, 1, strings.Count(out, "BEGIN:VTIMEZONE"))
	assert.Less(t, strings.Index(out, "BEGIN:VTIMEZONE"), strings.Index(out, "BEGIN:VEVENT"))

	parsed, err := ical.ParseCalendar(strings.NewReader(out))
	require.NoError(t, err)
	require.Len(t, parsed.Timezones(), 1)
	assert.Equal(t, "America/New_York", parsed.Timezones()[0].GetProperty(ical.ComponentPropertyTzid).Value)
	assert.Len(t, parsed.Events(), 2)

	// Serializing twice does not accumulate zones.
	assert.Equal(t, out, agg.Serialize())
}

func TestAggregate_NoVTimezoneForUTCEvents(t *testing.T) {
	agg := Reduce("General", "", []model.Entry{entryFor(t, "utc", audience.NewSet(audience.Any))})
	assert.NotContains(t, agg.Serialize(), "VTIMEZONE")
}
