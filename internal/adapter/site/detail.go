package site

import (
	"bytes"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/couchcryptid/event-harvest-service/internal/domain"
)

// Parser turns detail pages into event records.
type Parser struct {
	layout *CompiledLayout
}

// NewParser creates a Parser for pages written in the given layout.
func NewParser(layout *CompiledLayout) *Parser {
	return &Parser{layout: layout}
}

// ParseDetail extracts one event from a detail page. Fields the page lacks
// are recorded as domain.Unknown (or a zero date); only a page with no title
// headline is rejected with a *domain.ParseError.
func (p *Parser) ParseDetail(pageURL string, body []byte) (domain.EventRecord, error) {
	l := p.layout
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return domain.EventRecord{}, l.parseError(pageURL, "unreadable html: "+err.Error())
	}

	title := doc.Find(l.TitleSelector).First()
	if title.Length() == 0 {
		return domain.EventRecord{}, l.parseError(pageURL, "title headline not found")
	}

	record := domain.EventRecord{
		URL:         pageURL,
		Title:       orUnknown(title.Text()),
		Venue:       domain.Unknown,
		HarvestedAt: domain.Now(),
	}

	doc.Find(l.DatelineSelector).EachWithBreak(func(_ int, h *goquery.Selection) bool {
		spans := h.Find("span")
		raw := l.date.FindString(spans.First().Text())
		if raw == "" {
			return true
		}
		record.OccursAt = l.parseDate(raw)
		if spans.Length() > 1 {
			record.Venue = orUnknown(spans.Eq(1).Text())
		}
		return false
	})

	categories := doc.Find(l.CategorySelector)
	record.Category = orUnknown(categories.Eq(0).Text())
	location := categories.Eq(1).Text()
	if clean(location) == "" {
		location = doc.Find(l.LocationFallbackSelector).First().Text()
	}
	record.Location = orUnknown(location)

	return record, nil
}

// parseDate reads a site date as midnight in the source timezone and returns
// the same instant in UTC. Unparseable dates yield the zero time.
func (c *CompiledLayout) parseDate(raw string) time.Time {
	t, err := time.ParseInLocation(c.DateLayout, raw, c.location)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func orUnknown(s string) string {
	if s = clean(s); s == "" {
		return domain.Unknown
	}
	return s
}

// clean collapses runs of whitespace, including non-breaking spaces.
func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
