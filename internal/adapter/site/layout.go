// Package site scrapes the event listing site: paginated listing pages yield
// detail-page URLs, and each detail page yields one event record.
package site

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"
	_ "time/tzdata" // the source timezone must resolve on hosts without zoneinfo

	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"
)

// Layout is the versioned set of selectors and patterns the scraper depends
// on. When the site changes its markup, a new layout file is deployed rather
// than new code.
type Layout struct {
	Version string `yaml:"version"`

	// Listing pages.
	LastPageSelector  string `yaml:"last_page_selector"`
	LastPagePattern   string `yaml:"last_page_pattern"` // first group is the page number
	EventLinkSelector string `yaml:"event_link_selector"`
	EventLinkPattern  string `yaml:"event_link_pattern"` // matched against the resolved URL path
	MaxPages          int    `yaml:"max_pages"`          // upper bound on the advertised page count

	// Detail pages.
	TitleSelector            string `yaml:"title_selector"`
	DatelineSelector         string `yaml:"dateline_selector"`
	DatePattern              string `yaml:"date_pattern"`
	CategorySelector         string `yaml:"category_selector"`
	LocationFallbackSelector string `yaml:"location_fallback_selector"`
	DateLayout               string `yaml:"date_layout"`
	Timezone                 string `yaml:"timezone"`
}

// DefaultLayout is the visitseattle.org markup as of the v1 site theme.
func DefaultLayout() Layout {
	return Layout{
		Version: "visitseattle-v1",

		LastPageSelector:  `.bpn-last-page-link a[title="Navigate to last page"]`,
		LastPagePattern:   `/page/(\d+)/`,
		EventLinkSelector: `h3.event-title a`,
		EventLinkPattern:  `^/events/[^/]+/?$`,
		MaxPages:          500,

		TitleSelector:            `h1.page-title`,
		DatelineSelector:         `h4`,
		DatePattern:              `\d{1,2}/\d{1,2}/\d{4}`,
		CategorySelector:         `a.category`,
		LocationFallbackSelector: `div.location`,
		DateLayout:               "1/2/2006",
		Timezone:                 "America/Los_Angeles",
	}
}

// LoadLayout reads a YAML layout file. Keys absent from the file keep their
// DefaultLayout values. An empty path returns DefaultLayout.
func LoadLayout(path string) (Layout, error) {
	layout := DefaultLayout()
	if path == "" {
		return layout, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Layout{}, fmt.Errorf("read layout: %w", err)
	}
	if err := yaml.Unmarshal(data, &layout); err != nil {
		return Layout{}, fmt.Errorf("decode layout %s: %w", path, err)
	}
	return layout, nil
}

// CompiledLayout is a validated Layout ready for use by the scraper.
type CompiledLayout struct {
	Layout

	lastPage  *regexp.Regexp
	eventLink *regexp.Regexp
	date      *regexp.Regexp
	location  *time.Location
}

// Compile validates every selector and pattern and resolves the timezone.
func (l Layout) Compile() (*CompiledLayout, error) {
	if l.Version == "" {
		return nil, errors.New("layout: version is required")
	}
	if l.DateLayout == "" {
		return nil, errors.New("layout: date_layout is required")
	}
	if l.Timezone == "" {
		return nil, errors.New("layout: timezone is required")
	}
	if l.MaxPages < 1 {
		return nil, errors.New("layout: max_pages must be positive")
	}

	selectors := map[string]string{
		"last_page_selector":         l.LastPageSelector,
		"event_link_selector":        l.EventLinkSelector,
		"title_selector":             l.TitleSelector,
		"dateline_selector":          l.DatelineSelector,
		"category_selector":          l.CategorySelector,
		"location_fallback_selector": l.LocationFallbackSelector,
	}
	for name, sel := range selectors {
		if sel == "" {
			return nil, fmt.Errorf("layout %s: %s is required", l.Version, name)
		}
		if _, err := cascadia.Compile(sel); err != nil {
			return nil, fmt.Errorf("layout %s: %s: %w", l.Version, name, err)
		}
	}

	c := &CompiledLayout{Layout: l}
	var err error
	if c.lastPage, err = compilePattern(l.Version, "last_page_pattern", l.LastPagePattern); err != nil {
		return nil, err
	}
	if c.lastPage.NumSubexp() < 1 {
		return nil, fmt.Errorf("layout %s: last_page_pattern needs a capture group", l.Version)
	}
	if c.eventLink, err = compilePattern(l.Version, "event_link_pattern", l.EventLinkPattern); err != nil {
		return nil, err
	}
	if c.date, err = compilePattern(l.Version, "date_pattern", l.DatePattern); err != nil {
		return nil, err
	}
	if c.location, err = time.LoadLocation(l.Timezone); err != nil {
		return nil, fmt.Errorf("layout %s: timezone: %w", l.Version, err)
	}
	return c, nil
}

// Location is the source timezone that dates on the site are written in.
func (c *CompiledLayout) Location() *time.Location {
	return c.location
}

func compilePattern(version, name, pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, fmt.Errorf("layout %s: %s is required", version, name)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("layout %s: %s: %w", version, name, err)
	}
	return re, nil
}
