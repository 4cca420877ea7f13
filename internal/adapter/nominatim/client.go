// Package nominatim geocodes free-text places with an OpenStreetMap
// Nominatim server.
//
// The public instance allows at most one request per second and requires an
// identifying User-Agent. The client does not throttle; wrap it in a
// domain.ThrottledGeocoder.
package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/event-harvest-service/internal/domain"
	"github.com/couchcryptid/event-harvest-service/internal/observability"
)

const provider = "nominatim"

// Client implements domain.Geocoder against the Nominatim search endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Nominatim client for the server at baseURL.
func NewClient(baseURL, userAgent string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		userAgent:  userAgent,
		metrics:    metrics,
		logger:     logger,
	}
}

// ForwardGeocode returns the best match for query, or a zero result when
// Nominatim has none.
func (c *Client) ForwardGeocode(ctx context.Context, query string) (domain.GeocodingResult, error) {
	start := time.Now()
	result, err := c.search(ctx, query)
	c.metrics.GeocodeAPIDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		c.metrics.GeocodeRequests.WithLabelValues(provider, "error").Inc()
		c.logger.DebugContext(ctx, "nominatim request failed", "query", query, "error", err)
	case !result.Found():
		c.metrics.GeocodeRequests.WithLabelValues(provider, "empty").Inc()
	default:
		c.metrics.GeocodeRequests.WithLabelValues(provider, "success").Inc()
	}
	return result, err
}

func (c *Client) search(ctx context.Context, query string) (domain.GeocodingResult, error) {
	endpoint := c.baseURL + "/search"
	params := url.Values{
		"q":      {query},
		"format": {"jsonv2"},
		"limit":  {"1"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return domain.GeocodingResult{}, &domain.FetchError{URL: endpoint, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.GeocodingResult{}, ctxErr
		}
		return domain.GeocodingResult{}, &domain.FetchError{URL: endpoint, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.GeocodingResult{}, domain.NewStatusError(endpoint, resp.StatusCode)
	}

	var places []place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return domain.GeocodingResult{}, &domain.FetchError{URL: endpoint, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(places) == 0 {
		return domain.GeocodingResult{}, nil
	}
	return places[0].result(endpoint)
}

// Nominatim jsonv2 response types. Coordinates arrive as decimal strings.

type place struct {
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	DisplayName string  `json:"display_name"`
	Name        string  `json:"name"`
	Importance  float64 `json:"importance"`
}

func (p place) result(endpoint string) (domain.GeocodingResult, error) {
	lat, errLat := strconv.ParseFloat(p.Lat, 64)
	lon, errLon := strconv.ParseFloat(p.Lon, 64)
	if errLat != nil || errLon != nil {
		return domain.GeocodingResult{}, &domain.FetchError{
			URL: endpoint,
			Err: fmt.Errorf("malformed coordinates %q,%q", p.Lat, p.Lon),
		}
	}
	return domain.GeocodingResult{
		Lat:              lat,
		Lon:              lon,
		FormattedAddress: p.DisplayName,
		PlaceName:        p.Name,
		Confidence:       p.Importance,
	}, nil
}
