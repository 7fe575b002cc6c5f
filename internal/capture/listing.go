package capture

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"nsocal/internal/audience"
	appLog "nsocal/internal/log"
	"nsocal/internal/model"
)

// ParseListing extracts event links and their audience badges from the
// listing page HTML. Relative links are resolved against baseURL. A link
// that appears more than once is returned once, with the union of its
// badges.
func ParseListing(r io.Reader, baseURL string) ([]model.EventLink, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing listing HTML: %w", err)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing listing URL: %w", err)
	}

	links := make([]model.EventLink, 0)
	index := make(map[string]int)

	doc.Find(`a[rel="bookmark"]`).Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			appLog.Warn("skipping unparseable event link", "href", href, "err", err)
			return
		}
		link := base.ResolveReference(ref).String()

		// Badges live in the list item that holds the event link.
		var aud audience.Set
		a.Closest("li").Find("ul.event-badges > li > a").Each(func(_ int, badge *goquery.Selection) {
			label := accessibleName(badge)
			tag, err := audience.Parse(label)
			if err != nil {
				appLog.Warn("ignoring unknown audience badge", "link", link, "label", label)
				return
			}
			aud = aud.Add(tag)
		})

		if i, seen := index[link]; seen {
			links[i].Audience |= aud
			return
		}
		index[link] = len(links)
		links = append(links, model.EventLink{Link: link, Audience: aud})
	})

	for i := range links {
		links[i].Audience = links[i].Audience.OrAny()
	}
	return links, nil
}

// accessibleName approximates the accessible name of a badge link.
func accessibleName(s *goquery.Selection) string {
	if label, ok := s.Attr("aria-label"); ok && strings.TrimSpace(label) != "" {
		return strings.TrimSpace(label)
	}
	return strings.Join(strings.Fields(s.Text()), " ")
}
