package site

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/event-harvest-service/internal/observability"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustLayout() *CompiledLayout {
	l, err := DefaultLayout().Compile()
	if err != nil {
		panic(err)
	}
	return l
}

func testFetcher(attempts int) *Fetcher {
	f := NewFetcher("event-harvest-test/1.0", 2*time.Second, attempts, discardLogger(), observability.NewMetricsForTesting())
	f.policy.Initial = time.Millisecond
	f.policy.Max = 2 * time.Millisecond
	return f
}

// listingPage renders a listing page with the given detail hrefs and a
// pagination marker pointing at lastPage (omitted when lastPage is 0).
func listingPage(lastPage int, hrefs ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="events">`)
	for _, h := range hrefs {
		fmt.Fprintf(&b, `<article><h3 class="event-title"><a href="%s">Event</a></h3></article>`, h)
	}
	b.WriteString(`</div>`)
	if lastPage > 0 {
		fmt.Fprintf(&b, `<ul class="pagination"><li class="bpn-last-page-link"><a href="https://visitseattle.org/events/page/%d/?frm=events" title="Navigate to last page">Last</a></li></ul>`, lastPage)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

// detailPage renders a current-theme detail page.
func detailPage(title, dateline, venue string, categories ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body>`)
	if title != "" {
		fmt.Fprintf(&b, `<h1 class="page-title" itemprop="headline">%s</h1>`, title)
	}
	b.WriteString(`<div class="event-details"><h4>Presented by the venue</h4>`)
	if dateline != "" {
		fmt.Fprintf(&b, `<h4><span>%s</span> | <span>%s</span></h4>`, dateline, venue)
	}
	b.WriteString(`</div>`)
	for _, c := range categories {
		fmt.Fprintf(&b, `<a class="button big medium black category" href="/events/?frm=%s">%s</a>`, c, c)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}
