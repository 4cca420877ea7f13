package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/couchcryptid/event-harvest-service/internal/adapter/geocache"
	httpadapter "github.com/couchcryptid/event-harvest-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/event-harvest-service/internal/adapter/kafka"
	"github.com/couchcryptid/event-harvest-service/internal/adapter/mapbox"
	"github.com/couchcryptid/event-harvest-service/internal/adapter/nominatim"
	"github.com/couchcryptid/event-harvest-service/internal/adapter/nws"
	"github.com/couchcryptid/event-harvest-service/internal/adapter/postgres"
	"github.com/couchcryptid/event-harvest-service/internal/adapter/site"
	"github.com/couchcryptid/event-harvest-service/internal/config"
	"github.com/couchcryptid/event-harvest-service/internal/domain"
	"github.com/couchcryptid/event-harvest-service/internal/observability"
	"github.com/couchcryptid/event-harvest-service/internal/pipeline"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Retry backoff for enrichment lookups.
const enrichBackoff = 500 * time.Millisecond

func main() {
	if err := config.LoadEnvFile(); err != nil {
		slog.Error("failed to load env file", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, metrics); err != nil {
		logger.Error("harvest failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) error {
	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTelEndpoint, cfg.ServiceName, version)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error("tracer shutdown error", "error", err)
		}
	}()

	layout, err := site.LoadLayout(cfg.SiteLayoutFile)
	if err != nil {
		return err
	}
	compiled, err := layout.Compile()
	if err != nil {
		return err
	}
	logger.Info("site layout loaded", "version", compiled.Version, "file", cfg.SiteLayoutFile)

	fetcher := site.NewFetcher(cfg.UserAgent, cfg.FetchTimeout, cfg.FetchMaxAttempts, logger, metrics)
	discoverer := site.NewDiscoverer(fetcher, compiled, cfg.Workers, logger)
	parser := site.NewParser(compiled)

	store, err := postgres.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.UpsertPolicy, logger, metrics)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	logger.Info("store ready", "policy", store.Policy())

	harvester := pipeline.NewHarvester(pipeline.Options{
		ListingURL: cfg.ListingURL,
		Workers:    cfg.Workers,
		SkipKnown:  cfg.SkipKnown && store.Policy() == domain.PolicyKeepFirst,
	}, discoverer, fetcher, parser, store, logger, metrics)

	locator, closeGeo, err := newLocator(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer closeGeo()

	var forecaster pipeline.Forecaster
	if cfg.WeatherEnabled {
		client := nws.NewClient(cfg.NWSURL, cfg.UserAgent, cfg.WeatherTimeout, logger, metrics)
		forecaster = domain.NewWeatherEnricher(client, cfg.WeatherMaxAttempts, enrichBackoff, logger)
		logger.Info("weather enrichment enabled", "url", cfg.NWSURL)
	} else {
		logger.Info("weather enrichment disabled")
	}
	harvester.WithEnrichment(locator, forecaster)

	if len(cfg.KafkaBrokers) > 0 {
		publisher := kafkaadapter.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger, metrics)
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error("kafka publisher close error", "error", err)
			}
		}()
		harvester.WithPublisher(publisher)
		logger.Info("change feed enabled", "topic", cfg.KafkaTopic)
	}

	if !cfg.Scheduled() {
		return runOnce(ctx, cfg, harvester, logger)
	}
	return runScheduled(ctx, cfg, harvester, store, logger)
}

// newLocator builds provider → throttle → cache → enricher. The cache sits
// outside the throttle so hits never wait on the gate.
func newLocator(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (pipeline.Locator, func(), error) {
	noop := func() {}

	if !cfg.GeocodingEnabled() {
		metrics.GeocodeEnabled.Set(0)
		logger.Info("geocoding disabled")
		return nil, noop, nil
	}

	var provider domain.Geocoder
	switch cfg.Geocoder {
	case config.GeocoderNominatim:
		provider = nominatim.NewClient(cfg.NominatimURL, cfg.UserAgent, cfg.GeocodeTimeout, logger, metrics)
	case config.GeocoderMapbox:
		provider = mapbox.NewClient(cfg.MapboxToken, cfg.GeocodeTimeout, cfg.MapboxProximity, logger, metrics)
	default:
		return nil, noop, fmt.Errorf("unknown geocoder %q", cfg.Geocoder)
	}
	metrics.GeocodeEnabled.Set(1)

	gate := rate.NewLimiter(rate.Every(cfg.GeocodeInterval), 1)
	throttled := domain.NewThrottledGeocoder(provider, gate, cfg.GeocodeMaxAttempts, enrichBackoff)

	var remote geocache.Remote
	closeRemote := noop
	if cfg.RedisURL != "" {
		client, err := geocache.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, noop, err
		}
		remote = geocache.NewRedisStore(client)
		closeRemote = func() {
			if err := client.Close(); err != nil {
				logger.Error("redis close error", "error", err)
			}
		}
	}
	cached := geocache.NewCachedGeocoder(throttled, cfg.GeocodeCacheSize, remote, cfg.GeocodeCacheTTL, logger, metrics)

	logger.Info("geocoding enabled",
		"provider", cfg.Geocoder,
		"interval", cfg.GeocodeInterval,
		"cache_size", cfg.GeocodeCacheSize,
		"redis", remote != nil,
	)
	return domain.NewGeoEnricher(cached, cfg.GeocodeQuerySuffix, logger), closeRemote, nil
}

func runOnce(ctx context.Context, cfg *config.Config, harvester *pipeline.Harvester, logger *slog.Logger) error {
	_, runErr := harvester.Run(ctx)

	if cfg.PushgatewayURL != "" {
		instance, _ := os.Hostname()
		pushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := observability.PushToGateway(pushCtx, cfg.PushgatewayURL, cfg.ServiceName, instance); err != nil {
			logger.Error("metrics push failed", "error", err)
		}
	}

	if errors.Is(runErr, context.Canceled) {
		logger.Info("harvest interrupted")
		return nil
	}
	return runErr
}

func runScheduled(ctx context.Context, cfg *config.Config, harvester *pipeline.Harvester, store *postgres.Store, logger *slog.Logger) error {
	srv := httpadapter.NewServer(cfg.HTTPAddr, store, harvester, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	logger.Info("harvest scheduled", "interval", cfg.RunInterval)
	ticker := time.NewTicker(cfg.RunInterval)
	defer ticker.Stop()

	for {
		// A failed run is retried on the next tick.
		if _, err := harvester.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("harvest run failed", "error", err)
		}

		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http server shutdown error", "error", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-ticker.C:
		}
	}
}
