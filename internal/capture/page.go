package capture

import (
	"fmt"
	"net/url"
	"strings"

	"nsocal/internal/model"
)

// probeScript collects every field of an event page in one round trip.
// innerText is used so the date and time blocks keep their rendered line
// breaks.
const probeScript = `(() => {
	const text = (sel) => {
		const el = document.querySelector(sel);
		return el ? el.innerText : null;
	};
	const cal = document.querySelector("a#apple-calendar-link");
	return {
		calendarHref: cal ? cal.getAttribute("href") : null,
		locationTitle: text("div.location-title"),
		mandatory: document.querySelector("div.mandatory-badge") !== null,
		locationAddress: text("div#location-address"),
		dateText: text("#single-events-top > div:nth-of-type(1) > p:nth-of-type(1)"),
		timeText: text("#single-events-top > div:nth-of-type(1) > p:nth-of-type(2)"),
	};
})()`

// probe mirrors the object returned by probeScript.
type probe struct {
	CalendarHref    *string `json:"calendarHref"`
	LocationTitle   *string `json:"locationTitle"`
	Mandatory       bool    `json:"mandatory"`
	LocationAddress *string `json:"locationAddress"`
	DateText        *string `json:"dateText"`
	TimeText        *string `json:"timeText"`
}

// screenReaderAddressPrefix is hidden text rendered before the address.
const screenReaderAddressPrefix = "Address for"

func (p probe) rawEvent(link model.EventLink) (model.RawEvent, error) {
	if p.CalendarHref == nil {
		return model.RawEvent{}, fmt.Errorf("%w: apple-calendar-link on %s", ErrElementMissing, link.Link)
	}
	snippet, err := DecodeCalendarHref(*p.CalendarHref)
	if err != nil {
		return model.RawEvent{}, fmt.Errorf("%s: %w", link.Link, err)
	}

	raw := model.RawEvent{
		Link:             link.Link,
		Audience:         link.Audience.OrAny(),
		CalendarSnippet:  snippet,
		Mandatory:        model.Ptr(p.Mandatory),
		FallbackDateText: p.DateText,
	}
	if p.LocationTitle != nil {
		raw.LocationName = model.Ptr(strings.TrimSpace(*p.LocationTitle))
	}
	if p.LocationAddress != nil {
		raw.LocationAddress = model.Ptr(flattenAddress(*p.LocationAddress))
	}
	if p.TimeText != nil {
		raw.FallbackTimeText = model.Ptr(strings.TrimSpace(*p.TimeText))
	}
	return raw, nil
}

// flattenAddress joins a multi-line address with spaces and drops the
// screen reader prefix.
func flattenAddress(s string) string {
	lines := strings.Split(strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n")), "\n")
	joined := strings.Join(lines, " ")
	return strings.TrimSpace(strings.TrimPrefix(joined, screenReaderAddressPrefix))
}

// DecodeCalendarHref turns the "add to Apple calendar" href into calendar
// text: the href is a percent-encoded data URL whose payload follows the
// first comma. Malformed escapes are kept as written.
func DecodeCalendarHref(href string) (string, error) {
	_, payload, ok := strings.Cut(unescapeLenient(href), ",")
	if !ok {
		return "", fmt.Errorf("%w: calendar link has no payload", ErrElementMissing)
	}
	return payload, nil
}

// unescapeLenient decodes %XX sequences and leaves a '%' that does not
// start a valid escape untouched. '+' is not treated as a space.
func unescapeLenient(s string) string {
	if decoded, err := url.PathUnescape(s); err == nil {
		return decoded
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case c <= '9':
		return c - '0'
	case c >= 'a':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
