// Package htmltext converts HTML fragments into plain text.
package htmltext

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Convert returns the text content of an HTML fragment, trimmed of leading
// and trailing whitespace. <br> elements become newlines. Input that cannot
// be parsed is returned trimmed.
func Convert(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	doc.Find("br").ReplaceWithHtml("\n")
	return strings.TrimSpace(doc.Text())
}
