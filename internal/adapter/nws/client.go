// Package nws reads forecasts from the US National Weather Service API
// (api.weather.gov).
package nws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/event-harvest-service/internal/domain"
	"github.com/couchcryptid/event-harvest-service/internal/lru"
	"github.com/couchcryptid/event-harvest-service/internal/observability"
)

// Client implements domain.WeatherService. Grid cells are cached per
// coordinate because many events share a venue.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	grids      *lru.Cache[string, domain.GridPoint]
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates an NWS client. The API rejects requests without a
// User-Agent.
func NewClient(baseURL, userAgent string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		userAgent:  userAgent,
		grids:      lru.New[string, domain.GridPoint](512),
		metrics:    metrics,
		logger:     logger,
	}
}

// GridPoint resolves coordinates to the forecast office grid cell covering them.
func (c *Client) GridPoint(ctx context.Context, lat, lon float64) (domain.GridPoint, error) {
	// The API redirects requests with more than four decimal places.
	coords := fmt.Sprintf("%.4f,%.4f", lat, lon)
	if grid, ok := c.grids.Get(coords); ok {
		c.metrics.WeatherGridHits.Inc()
		return grid, nil
	}

	var resp pointsResponse
	if err := c.getJSON(ctx, "points", c.baseURL+"/points/"+coords, &resp); err != nil {
		return domain.GridPoint{}, err
	}
	p := resp.Properties
	if p.GridID == "" {
		return domain.GridPoint{}, &domain.FetchError{
			URL: c.baseURL + "/points/" + coords,
			Err: fmt.Errorf("no forecast grid for %s", coords),
		}
	}

	grid := domain.GridPoint{Office: p.GridID, X: p.GridX, Y: p.GridY}
	c.grids.Put(coords, grid)
	return grid, nil
}

// ForecastPeriods returns the forecast periods for a grid cell, nearest first.
func (c *Client) ForecastPeriods(ctx context.Context, grid domain.GridPoint) ([]domain.ForecastPeriod, error) {
	u := fmt.Sprintf("%s/gridpoints/%s/%d,%d/forecast", c.baseURL, grid.Office, grid.X, grid.Y)

	var resp forecastResponse
	if err := c.getJSON(ctx, "forecast", u, &resp); err != nil {
		return nil, err
	}

	periods := make([]domain.ForecastPeriod, 0, len(resp.Properties.Periods))
	for _, p := range resp.Properties.Periods {
		periods = append(periods, domain.ForecastPeriod{
			Name:             p.Name,
			ShortForecast:    p.ShortForecast,
			DetailedForecast: p.DetailedForecast,
			Temperature:      p.Temperature,
			TemperatureUnit:  p.TemperatureUnit,
		})
	}
	return periods, nil
}

func (c *Client) getJSON(ctx context.Context, step, u string, out any) error {
	err := c.doJSON(ctx, u, out)
	outcome := "success"
	if err != nil {
		outcome = "error"
		c.logger.DebugContext(ctx, "nws request failed", "step", step, "url", u, "error", err)
	}
	c.metrics.WeatherRequests.WithLabelValues(step, outcome).Inc()
	return err
}

func (c *Client) doJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &domain.FetchError{URL: u, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/geo+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &domain.FetchError{URL: u, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.NewStatusError(u, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.FetchError{URL: u, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// NWS API response types (GeoJSON; only the fields used are declared).

type pointsResponse struct {
	Properties struct {
		GridID string `json:"gridId"`
		GridX  int    `json:"gridX"`
		GridY  int    `json:"gridY"`
	} `json:"properties"`
}

type forecastResponse struct {
	Properties struct {
		Periods []period `json:"periods"`
	} `json:"properties"`
}

type period struct {
	Number           int     `json:"number"`
	Name             string  `json:"name"`
	Temperature      float64 `json:"temperature"`
	TemperatureUnit  string  `json:"temperatureUnit"`
	ShortForecast    string  `json:"shortForecast"`
	DetailedForecast string  `json:"detailedForecast"`
}
