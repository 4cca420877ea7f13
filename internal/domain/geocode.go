package domain

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/event-harvest-service/internal/retry"
)

// ThrottledGeocoder admits every provider call through a shared Gate and
// retries transient failures. A single instance must be shared by all workers
// so the gate bounds the request rate for the whole process.
type ThrottledGeocoder struct {
	inner  Geocoder
	gate   Gate
	policy retry.Policy
}

// NewThrottledGeocoder wraps inner. attempts counts the first call; each
// attempt waits on gate before reaching the provider.
func NewThrottledGeocoder(inner Geocoder, gate Gate, attempts int, backoff time.Duration) *ThrottledGeocoder {
	return &ThrottledGeocoder{
		inner: inner,
		gate:  gate,
		policy: retry.Policy{
			Attempts:  attempts,
			Initial:   backoff,
			Max:       4 * backoff,
			Retryable: IsTransient,
		},
	}
}

func (g *ThrottledGeocoder) ForwardGeocode(ctx context.Context, query string) (GeocodingResult, error) {
	var result GeocodingResult
	err := retry.Do(ctx, g.policy, func(ctx context.Context) error {
		if err := g.gate.Wait(ctx); err != nil {
			return err
		}
		r, err := g.inner.ForwardGeocode(ctx, query)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

// GeoEnricher resolves an event's venue or location to coordinates.
type GeoEnricher struct {
	geocoder Geocoder
	suffix   string
	logger   *slog.Logger
}

// NewGeoEnricher creates a GeoEnricher. suffix (e.g. "Seattle, WA") is
// appended to every query to keep free-text venues inside the source city.
// A nil geocoder disables geocoding.
func NewGeoEnricher(geocoder Geocoder, suffix string, logger *slog.Logger) *GeoEnricher {
	return &GeoEnricher{
		geocoder: geocoder,
		suffix:   strings.TrimSpace(suffix),
		logger:   logger,
	}
}

// Locate geocodes the record's venue, then its location, returning the first
// match. A failed candidate falls through to the next one unless ctx is done.
// It never fails: when no candidate matches it returns nil.
func (e *GeoEnricher) Locate(ctx context.Context, record EventRecord) *Coordinates {
	if e == nil || e.geocoder == nil {
		return nil
	}

	for _, query := range e.queries(record) {
		result, err := e.geocoder.ForwardGeocode(ctx, query)
		if err != nil {
			e.logger.WarnContext(ctx, "geocoding failed",
				"url", record.URL,
				"query", query,
				"error", err,
			)
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		if result.Found() {
			return &Coordinates{Latitude: result.Lat, Longitude: result.Lon}
		}
		e.logger.DebugContext(ctx, "geocoding found no match", "url", record.URL, "query", query)
	}
	return nil
}

// queries lists the distinct, known place descriptions for a record in
// preference order.
func (e *GeoEnricher) queries(record EventRecord) []string {
	var out []string
	seen := make(map[string]bool, 2)
	for _, place := range []string{record.Venue, record.Location} {
		place = strings.TrimSpace(place)
		if place == "" || place == Unknown {
			continue
		}
		key := strings.ToLower(place)
		if seen[key] {
			continue
		}
		seen[key] = true

		if e.suffix != "" && !strings.Contains(strings.ToLower(place), strings.ToLower(e.suffix)) {
			place = place + ", " + e.suffix
		}
		out = append(out, place)
	}
	return out
}
