package geocache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/event-harvest-service/internal/domain"
	"github.com/couchcryptid/event-harvest-service/internal/observability"
)

type countingGeocoder struct {
	calls  int
	result domain.GeocodingResult
	err    error
}

func (m *countingGeocoder) ForwardGeocode(_ context.Context, _ string) (domain.GeocodingResult, error) {
	m.calls++
	return m.result, m.err
}

type memRemote struct {
	mu      sync.Mutex
	data    map[string]domain.GeocodingResult
	ttls    map[string]time.Duration
	getErr  error
	setErr  error
	setKeys []string
}

func newMemRemote() *memRemote {
	return &memRemote{data: map[string]domain.GeocodingResult{}, ttls: map[string]time.Duration{}}
}

func (r *memRemote) Get(_ context.Context, key string) (domain.GeocodingResult, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return domain.GeocodingResult{}, false, r.getErr
	}
	v, ok := r.data[key]
	return v, ok, nil
}

func (r *memRemote) Set(_ context.Context, key string, result domain.GeocodingResult, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setKeys = append(r.setKeys, key)
	if r.setErr != nil {
		return r.setErr
	}
	r.data[key] = result
	r.ttls[key] = ttl
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var benaroya = domain.GeocodingResult{Lat: 47.608, Lon: -122.336, PlaceName: "Benaroya Hall"}

func TestCachedGeocoder_MemoryHit(t *testing.T) {
	inner := &countingGeocoder{result: benaroya}
	metrics := observability.NewMetricsForTesting()
	cached := NewCachedGeocoder(inner, 10, nil, time.Hour, discardLogger(), metrics)

	r1, err := cached.ForwardGeocode(context.Background(), "Benaroya Hall, Seattle, WA")
	require.NoError(t, err)
	r2, err := cached.ForwardGeocode(context.Background(), "  benaroya hall,   Seattle, WA ")
	require.NoError(t, err)

	assert.Equal(t, benaroya, r1)
	assert.Equal(t, r1, r2)
	assert.Equal(t, 1, inner.calls, "should only call inner once")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GeocodeCache.WithLabelValues("memory", "hit")))
}

func TestCachedGeocoder_EmptyNotCached(t *testing.T) {
	inner := &countingGeocoder{}
	remote := newMemRemote()
	cached := NewCachedGeocoder(inner, 10, remote, time.Hour, discardLogger(), observability.NewMetricsForTesting())

	_, _ = cached.ForwardGeocode(context.Background(), "Nowhere")
	_, _ = cached.ForwardGeocode(context.Background(), "Nowhere")

	assert.Equal(t, 2, inner.calls)
	assert.Empty(t, remote.setKeys)
}

func TestCachedGeocoder_ErrorNotCached(t *testing.T) {
	inner := &countingGeocoder{err: errors.New("boom")}
	cached := NewCachedGeocoder(inner, 10, nil, time.Hour, discardLogger(), observability.NewMetricsForTesting())

	_, err := cached.ForwardGeocode(context.Background(), "q")
	require.Error(t, err)
	_, err = cached.ForwardGeocode(context.Background(), "q")
	require.Error(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedGeocoder_RemoteHitFillsMemory(t *testing.T) {
	inner := &countingGeocoder{}
	remote := newMemRemote()
	remote.data[Key("Benaroya Hall")] = benaroya
	metrics := observability.NewMetricsForTesting()
	cached := NewCachedGeocoder(inner, 10, remote, time.Hour, discardLogger(), metrics)

	r, err := cached.ForwardGeocode(context.Background(), "Benaroya Hall")
	require.NoError(t, err)
	assert.Equal(t, benaroya, r)

	remote.getErr = errors.New("redis down")
	r, err = cached.ForwardGeocode(context.Background(), "Benaroya Hall")
	require.NoError(t, err)
	assert.Equal(t, benaroya, r)

	assert.Zero(t, inner.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GeocodeCache.WithLabelValues("redis", "hit")))
}

func TestCachedGeocoder_WritesThroughWithTTL(t *testing.T) {
	inner := &countingGeocoder{result: benaroya}
	remote := newMemRemote()
	cached := NewCachedGeocoder(inner, 10, remote, 48*time.Hour, discardLogger(), observability.NewMetricsForTesting())

	_, err := cached.ForwardGeocode(context.Background(), "Benaroya Hall")
	require.NoError(t, err)

	key := Key("Benaroya Hall")
	assert.Equal(t, benaroya, remote.data[key])
	assert.Equal(t, 48*time.Hour, remote.ttls[key])
}

func TestCachedGeocoder_RemoteFailuresDegrade(t *testing.T) {
	inner := &countingGeocoder{result: benaroya}
	remote := newMemRemote()
	remote.getErr = errors.New("connection refused")
	remote.setErr = errors.New("connection refused")
	cached := NewCachedGeocoder(inner, 10, remote, time.Hour, discardLogger(), observability.NewMetricsForTesting())

	r, err := cached.ForwardGeocode(context.Background(), "Benaroya Hall")
	require.NoError(t, err)
	assert.Equal(t, benaroya, r)
	assert.Equal(t, 1, inner.calls)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "geo:fwd:pike place, seattle, wa", Key(" Pike  Place, SEATTLE, wa"))
}
