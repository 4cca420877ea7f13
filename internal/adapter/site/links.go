package site

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/event-harvest-service/internal/domain"
)

// Discoverer walks the paginated listing and collects detail-page URLs.
type Discoverer struct {
	fetcher *Fetcher
	layout  *CompiledLayout
	workers int
	logger  *slog.Logger
}

// NewDiscoverer creates a Discoverer fetching up to workers listing pages at once.
func NewDiscoverer(fetcher *Fetcher, layout *CompiledLayout, workers int, logger *slog.Logger) *Discoverer {
	if workers < 1 {
		workers = 1
	}
	return &Discoverer{fetcher: fetcher, layout: layout, workers: workers, logger: logger}
}

// PageURL returns the URL of listing page n. listingURL is the paginated
// prefix, e.g. https://visitseattle.org/events/page/.
func PageURL(listingURL string, n int) string {
	if !strings.HasSuffix(listingURL, "/") {
		listingURL += "/"
	}
	return listingURL + strconv.Itoa(n) + "/"
}

// DiscoverAllLinks fetches page 1 to learn the page count, then every page.
// Failure to fetch or understand page 1 is returned as an error; later pages
// that fail are skipped and listed in domain.Listing.FailedPages.
func (d *Discoverer) DiscoverAllLinks(ctx context.Context, listingURL string) (domain.Listing, error) {
	first := PageURL(listingURL, 1)
	body, err := d.fetcher.fetch(ctx, kindListing, first)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("fetch first listing page: %w", err)
	}
	lastPage, err := d.layout.LastPage(first, body)
	if err != nil {
		return domain.Listing{}, err
	}
	firstLinks, err := d.layout.ExtractLinks(first, body)
	if err != nil {
		return domain.Listing{}, err
	}

	d.logger.InfoContext(ctx, "listing discovered", "pages", lastPage, "layout", d.layout.Version)

	pages := make([][]string, lastPage)
	pages[0] = firstLinks
	failed := make([]bool, lastPage)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for n := 2; n <= lastPage; n++ {
		g.Go(func() error {
			pageURL := PageURL(listingURL, n)
			body, err := d.fetcher.fetch(gctx, kindListing, pageURL)
			if err == nil {
				pages[n-1], err = d.layout.ExtractLinks(pageURL, body)
			}
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				d.logger.WarnContext(gctx, "listing page skipped", "page", n, "url", pageURL, "error", err)
				failed[n-1] = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.Listing{}, err
	}

	listing := domain.Listing{Pages: lastPage}
	for i, links := range pages {
		if failed[i] {
			listing.FailedPages = append(listing.FailedPages, i+1)
			continue
		}
		listing.URLs = append(listing.URLs, links...)
	}
	return listing, nil
}

// LastPage reads the last page number from the pagination marker.
func (c *CompiledLayout) LastPage(pageURL string, body []byte) (int, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0, c.parseError(pageURL, "unreadable html: "+err.Error())
	}
	href, ok := doc.Find(c.LastPageSelector).First().Attr("href")
	if !ok {
		return 0, c.parseError(pageURL, "last page marker not found")
	}
	m := c.lastPage.FindStringSubmatch(href)
	if m == nil {
		return 0, c.parseError(pageURL, fmt.Sprintf("last page link %q has no page number", href))
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, c.parseError(pageURL, fmt.Sprintf("invalid last page number %q", m[1]))
	}
	if n > c.MaxPages {
		return 0, c.parseError(pageURL, fmt.Sprintf("last page %d exceeds max_pages %d", n, c.MaxPages))
	}
	return n, nil
}

// ExtractLinks returns every detail-page link on a listing page as an
// absolute URL, in document order.
func (c *CompiledLayout) ExtractLinks(pageURL string, body []byte) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, c.parseError(pageURL, "unreadable html: "+err.Error())
	}

	var links []string
	doc.Find(c.EventLinkSelector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Host != base.Host || !c.eventLink.MatchString(abs.Path) {
			return
		}
		abs.RawQuery = ""
		abs.Fragment = ""
		links = append(links, abs.String())
	})
	return links, nil
}

func (c *CompiledLayout) parseError(pageURL, reason string) *domain.ParseError {
	return &domain.ParseError{URL: pageURL, Reason: reason, LayoutVersion: c.Version}
}
