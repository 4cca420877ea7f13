// Package mapbox geocodes free-text places with the Mapbox Geocoding API.
package mapbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/couchcryptid/event-harvest-service/internal/domain"
	"github.com/couchcryptid/event-harvest-service/internal/observability"
)

const provider = "mapbox"

// Client implements domain.Geocoder using the Mapbox Geocoding API.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	proximity  string // "lon,lat" bias for ambiguous names
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Mapbox geocoding client. Results are biased toward the
// given point (longitude, latitude) when proximity is non-empty.
func NewClient(token string, timeout time.Duration, proximity string, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:   "https://api.mapbox.com/geocoding/v5/mapbox.places",
		proximity: proximity,
		metrics:   metrics,
		logger:    logger,
	}
}

// ForwardGeocode converts a free-text place description to coordinates. A
// query with no match returns a zero result and no error.
func (c *Client) ForwardGeocode(ctx context.Context, query string) (domain.GeocodingResult, error) {
	u := fmt.Sprintf("%s/%s.json", c.baseURL, url.PathEscape(query))
	params := url.Values{
		"access_token": {c.token},
		"limit":        {"1"},
		"types":        {"poi,address,neighborhood,locality,place"},
	}
	if c.proximity != "" {
		params.Set("proximity", c.proximity)
	}

	start := time.Now()
	result, err := c.doRequest(ctx, u, params)
	c.metrics.GeocodeAPIDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		c.metrics.GeocodeRequests.WithLabelValues(provider, "error").Inc()
		c.logger.DebugContext(ctx, "mapbox request failed", "query", query, "error", err)
	case !result.Found():
		c.metrics.GeocodeRequests.WithLabelValues(provider, "empty").Inc()
	default:
		c.metrics.GeocodeRequests.WithLabelValues(provider, "success").Inc()
	}
	return result, err
}

func (c *Client) doRequest(ctx context.Context, endpoint string, params url.Values) (domain.GeocodingResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return domain.GeocodingResult{}, &domain.FetchError{URL: endpoint, Err: fmt.Errorf("create request: %w", unwrapURLError(err))}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.GeocodingResult{}, ctxErr
		}
		// The token is in the query string; report the endpoint only.
		return domain.GeocodingResult{}, &domain.FetchError{URL: endpoint, Transient: true, Err: unwrapURLError(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.GeocodingResult{}, domain.NewStatusError(endpoint, resp.StatusCode)
	}

	var mapboxResp response
	if err := json.NewDecoder(resp.Body).Decode(&mapboxResp); err != nil {
		return domain.GeocodingResult{}, &domain.FetchError{URL: endpoint, Err: fmt.Errorf("decode response: %w", err)}
	}

	if len(mapboxResp.Features) == 0 {
		return domain.GeocodingResult{}, nil
	}

	f := mapboxResp.Features[0]
	result := domain.GeocodingResult{
		FormattedAddress: f.PlaceName,
		PlaceName:        f.Text,
		Confidence:       f.Relevance,
	}
	if len(f.Center) == 2 {
		result.Lon = f.Center[0]
		result.Lat = f.Center[1]
	}
	return result, nil
}

func unwrapURLError(err error) error {
	if ue, ok := err.(*url.Error); ok {
		return ue.Err
	}
	return err
}

// Mapbox API response types.

type response struct {
	Features []feature `json:"features"`
}

type feature struct {
	Center    []float64 `json:"center"` // [lon, lat]
	PlaceName string    `json:"place_name"`
	Text      string    `json:"text"`
	Relevance float64   `json:"relevance"`
}
