package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "event_harvest"

// Metrics holds the Prometheus counters, histograms, and gauges for the harvester.
type Metrics struct {
	HarvestRunning  prometheus.Gauge
	Runs            *prometheus.CounterVec // labels: outcome={success,partial,failed,cancelled}
	RunDuration     prometheus.Histogram
	LastRunSuccess  prometheus.Gauge         // unix seconds of the last run that finished without fatal error
	RecordsByStage  *prometheus.CounterVec   // labels: stage={discovered,parsed,geocoded,weather,persisted,duplicate,failed,known}
	PagesFetched    *prometheus.CounterVec   // labels: kind={listing,detail}, outcome={ok,error}
	FetchDuration   *prometheus.HistogramVec // labels: kind={listing,detail}
	StoreUpserts    *prometheus.CounterVec   // labels: outcome={inserted,updated,duplicate,error}
	EventsPublished *prometheus.CounterVec   // labels: outcome={ok,error}

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec   // labels: provider, outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec   // labels: tier={memory,redis}, result={hit,miss}
	GeocodeAPIDuration *prometheus.HistogramVec // labels: provider
	GeocodeEnabled     prometheus.Gauge

	// Weather metrics.
	WeatherRequests *prometheus.CounterVec // labels: step={points,forecast}, outcome={success,error}
	WeatherGridHits prometheus.Counter
}

// NewMetrics creates and registers all harvester metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.Collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics that are not registered anywhere, so
// tests can build as many as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

// Collectors lists every metric, for registration with a custom registry.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.HarvestRunning,
		m.Runs,
		m.RunDuration,
		m.LastRunSuccess,
		m.RecordsByStage,
		m.PagesFetched,
		m.FetchDuration,
		m.StoreUpserts,
		m.EventsPublished,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
		m.WeatherRequests,
		m.WeatherGridHits,
	}
}

func newMetrics() *Metrics {
	return &Metrics{
		HarvestRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running",
			Help:      "1 while a harvest run is in progress, 0 otherwise.",
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Harvest runs by outcome.",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of a complete harvest run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		}),
		LastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last harvest run that completed.",
		}),
		RecordsByStage: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Event records counted at each harvest stage.",
		}, []string{"stage"}),
		PagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Site pages fetched by kind and outcome.",
		}, []string{"kind", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Site page fetch duration in seconds, including retries.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"kind"}),
		StoreUpserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_upserts_total",
			Help:      "Store upserts by outcome.",
		}, []string{"outcome"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Change-feed messages by outcome.",
		}, []string{"outcome"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding API requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by tier and result.",
		}, []string{"tier", "result"}),
		GeocodeAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Geocoding API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"provider"}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when geocoding enrichment is enabled, 0 otherwise.",
		}),
		WeatherRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_requests_total",
			Help:      "Weather API requests by step and outcome.",
		}, []string{"step", "outcome"}),
		WeatherGridHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_grid_cache_hits_total",
			Help:      "Gridpoint lookups served from the in-process cache.",
		}),
	}
}
