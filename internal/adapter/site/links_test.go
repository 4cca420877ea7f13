package site

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/event-harvest-service/internal/domain"
)

func listingServer(t *testing.T, pages map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPageURL(t *testing.T) {
	assert.Equal(t, "https://visitseattle.org/events/page/3/", PageURL("https://visitseattle.org/events/page/", 3))
	assert.Equal(t, "https://visitseattle.org/events/page/1/", PageURL("https://visitseattle.org/events/page", 1))
}

func TestDiscoverAllLinks_AllPagesInOrder(t *testing.T) {
	srv := listingServer(t, map[string]string{
		"/events/page/1/": listingPage(3, "/events/a/", "/events/b/"),
		"/events/page/2/": listingPage(3, "/events/c/", "/events/a/"),
		"/events/page/3/": listingPage(3, "/events/d/"),
	})

	d := NewDiscoverer(testFetcher(1), mustLayout(), 2, discardLogger())
	listing, err := d.DiscoverAllLinks(context.Background(), srv.URL+"/events/page/")
	require.NoError(t, err)

	assert.Equal(t, 3, listing.Pages)
	assert.Empty(t, listing.FailedPages)
	assert.Equal(t, []string{
		srv.URL + "/events/a/",
		srv.URL + "/events/b/",
		srv.URL + "/events/c/",
		srv.URL + "/events/a/",
		srv.URL + "/events/d/",
	}, listing.URLs, "page order then in-page order, duplicates kept")
}

func TestDiscoverAllLinks_FailedPageSkipped(t *testing.T) {
	srv := listingServer(t, map[string]string{
		"/events/page/1/": listingPage(3, "/events/a/"),
		"/events/page/3/": listingPage(3, "/events/c/"),
	})

	d := NewDiscoverer(testFetcher(1), mustLayout(), 4, discardLogger())
	listing, err := d.DiscoverAllLinks(context.Background(), srv.URL+"/events/page/")
	require.NoError(t, err)

	assert.Equal(t, []int{2}, listing.FailedPages)
	assert.Equal(t, []string{srv.URL + "/events/a/", srv.URL + "/events/c/"}, listing.URLs)
}

func TestDiscoverAllLinks_MissingMarkerIsParseError(t *testing.T) {
	srv := listingServer(t, map[string]string{
		"/events/page/1/": listingPage(0, "/events/a/"),
	})

	d := NewDiscoverer(testFetcher(1), mustLayout(), 1, discardLogger())
	_, err := d.DiscoverAllLinks(context.Background(), srv.URL+"/events/page/")

	var pe *domain.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Contains(t, pe.Reason, "last page marker")
}

func TestDiscoverAllLinks_FirstPageFailureIsFatal(t *testing.T) {
	srv := listingServer(t, map[string]string{})

	d := NewDiscoverer(testFetcher(1), mustLayout(), 1, discardLogger())
	_, err := d.DiscoverAllLinks(context.Background(), srv.URL+"/events/page/")

	var fe *domain.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusInternalServerError, fe.StatusCode)
}

func TestExtractLinks_Filters(t *testing.T) {
	page := "https://visitseattle.org/events/page/1/"
	body := listingPage(1,
		"https://visitseattle.org/events/museum-night/",
		"/events/relative-event/?utm=x#top",
		"https://elsewhere.example/events/not-ours/",
		"https://visitseattle.org/events/category/music/",
		"https://visitseattle.org/blog/post/",
	)

	links, err := mustLayout().ExtractLinks(page, []byte(body))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://visitseattle.org/events/museum-night/",
		"https://visitseattle.org/events/relative-event/",
	}, links)
}

func TestLastPage(t *testing.T) {
	n, err := mustLayout().LastPage("p", []byte(listingPage(42)))
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = mustLayout().LastPage("p", []byte(`<li class="bpn-last-page-link"><a href="/events/" title="Navigate to last page">Last</a></li>`))
	var pe *domain.ParseError
	assert.True(t, errors.As(err, &pe))
}

func TestLastPage_ExceedsMaxPages(t *testing.T) {
	n, err := mustLayout().LastPage("p", []byte(listingPage(500)))
	require.NoError(t, err)
	assert.Equal(t, 500, n)

	_, err = mustLayout().LastPage("p", []byte(`<li class="bpn-last-page-link"><a href="/events/page/99999999999/" title="Navigate to last page">Last</a></li>`))
	var pe *domain.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Contains(t, pe.Error(), "exceeds max_pages")
}
