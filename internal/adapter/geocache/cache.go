// Package geocache caches geocoding results in process memory and,
// optionally, in Redis so that repeat venues across runs skip the provider.
package geocache

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/event-harvest-service/internal/domain"
	"github.com/couchcryptid/event-harvest-service/internal/lru"
	"github.com/couchcryptid/event-harvest-service/internal/observability"
)

// Remote is a shared cache tier that outlives the process.
type Remote interface {
	Get(ctx context.Context, key string) (domain.GeocodingResult, bool, error)
	Set(ctx context.Context, key string, result domain.GeocodingResult, ttl time.Duration) error
}

// CachedGeocoder wraps a Geocoder with an in-memory LRU cache and an
// optional remote tier. Only results with coordinates are cached, so a
// "not found" is retried on the next lookup.
type CachedGeocoder struct {
	inner   domain.Geocoder
	memory  *lru.Cache[string, domain.GeocodingResult]
	remote  Remote
	ttl     time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewCachedGeocoder creates a cache decorator around a geocoder. remote may
// be nil.
func NewCachedGeocoder(inner domain.Geocoder, maxEntries int, remote Remote, ttl time.Duration, logger *slog.Logger, metrics *observability.Metrics) *CachedGeocoder {
	return &CachedGeocoder{
		inner:   inner,
		memory:  lru.New[string, domain.GeocodingResult](maxEntries),
		remote:  remote,
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
	}
}

func (c *CachedGeocoder) ForwardGeocode(ctx context.Context, query string) (domain.GeocodingResult, error) {
	key := Key(query)

	if result, ok := c.memory.Get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues("memory", "hit").Inc()
		return result, nil
	}
	c.metrics.GeocodeCache.WithLabelValues("memory", "miss").Inc()

	if c.remote != nil {
		result, ok, err := c.remote.Get(ctx, key)
		switch {
		case err != nil:
			// A broken cache degrades to a provider call.
			c.logger.WarnContext(ctx, "geocode cache read failed", "key", key, "error", err)
		case ok:
			c.metrics.GeocodeCache.WithLabelValues("redis", "hit").Inc()
			c.memory.Put(key, result)
			return result, nil
		default:
			c.metrics.GeocodeCache.WithLabelValues("redis", "miss").Inc()
		}
	}

	result, err := c.inner.ForwardGeocode(ctx, query)
	if err != nil || !result.Found() {
		return result, err
	}

	c.memory.Put(key, result)
	if c.remote != nil {
		if err := c.remote.Set(ctx, key, result, c.ttl); err != nil {
			c.logger.WarnContext(ctx, "geocode cache write failed", "key", key, "error", err)
		}
	}
	return result, nil
}

// Key normalises a query so that case and spacing variants share an entry.
func Key(query string) string {
	return "geo:fwd:" + strings.ToLower(strings.Join(strings.Fields(query), " "))
}
