package domain

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/event-harvest-service/internal/retry"
)

// GridPoint identifies a forecast grid cell of a grid-based weather service.
type GridPoint struct {
	Office string
	X      int
	Y      int
}

// ForecastPeriod is one period of a gridpoint forecast.
type ForecastPeriod struct {
	Name             string
	ShortForecast    string
	DetailedForecast string
	Temperature      float64
	TemperatureUnit  string
}

// WeatherService is the two-step forecast protocol: coordinates resolve to a
// grid cell, and the grid cell resolves to forecast periods.
type WeatherService interface {
	GridPoint(ctx context.Context, lat, lon float64) (GridPoint, error)
	ForecastPeriods(ctx context.Context, grid GridPoint) ([]ForecastPeriod, error)
}

// WeatherEnricher attaches the nearest-term forecast to geocoded events.
type WeatherEnricher struct {
	service WeatherService
	policy  retry.Policy
	logger  *slog.Logger
}

// NewWeatherEnricher creates a WeatherEnricher. A nil service disables
// weather enrichment.
func NewWeatherEnricher(service WeatherService, attempts int, backoff time.Duration, logger *slog.Logger) *WeatherEnricher {
	return &WeatherEnricher{
		service: service,
		policy: retry.Policy{
			Attempts:  attempts,
			Initial:   backoff,
			Max:       4 * backoff,
			Retryable: IsTransient,
		},
		logger: logger,
	}
}

// Forecast returns the first forecast period for coords, or nil when coords
// is nil or the service cannot provide one. The service is never called
// without coordinates.
func (w *WeatherEnricher) Forecast(ctx context.Context, url string, coords *Coordinates) *Forecast {
	if w == nil || w.service == nil || coords == nil {
		return nil
	}

	var grid GridPoint
	err := retry.Do(ctx, w.policy, func(ctx context.Context) error {
		g, err := w.service.GridPoint(ctx, coords.Latitude, coords.Longitude)
		grid = g
		return err
	})
	if err != nil {
		w.logger.WarnContext(ctx, "weather grid lookup failed",
			"url", url,
			"lat", coords.Latitude,
			"lon", coords.Longitude,
			"error", err,
		)
		return nil
	}

	var periods []ForecastPeriod
	err = retry.Do(ctx, w.policy, func(ctx context.Context) error {
		p, err := w.service.ForecastPeriods(ctx, grid)
		periods = p
		return err
	})
	if err != nil {
		w.logger.WarnContext(ctx, "weather forecast lookup failed",
			"url", url,
			"office", grid.Office,
			"grid_x", grid.X,
			"grid_y", grid.Y,
			"error", err,
		)
		return nil
	}
	if len(periods) == 0 {
		w.logger.WarnContext(ctx, "weather forecast has no periods", "url", url, "office", grid.Office)
		return nil
	}

	first := periods[0]
	if first.ShortForecast == "" || first.TemperatureUnit == "" {
		w.logger.WarnContext(ctx, "weather forecast period incomplete", "url", url, "period", first.Name)
		return nil
	}
	return &Forecast{
		Condition:       first.ShortForecast,
		Temperature:     first.Temperature,
		TemperatureUnit: first.TemperatureUnit,
		Detail:          first.DetailedForecast,
		PeriodName:      first.Name,
	}
}
