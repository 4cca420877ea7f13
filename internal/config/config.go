package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"

	"github.com/couchcryptid/event-harvest-service/internal/domain"
)

// Geocoding providers.
const (
	GeocoderNominatim = "nominatim"
	GeocoderMapbox    = "mapbox"
	GeocoderNone      = "none"
)

// minNominatimInterval is the public Nominatim usage policy: one request per second.
const minNominatimInterval = time.Second

// Config holds all service settings, populated from environment variables.
type Config struct {
	ListingURL       string
	SiteLayoutFile   string
	UserAgent        string
	FetchTimeout     time.Duration
	FetchMaxAttempts int
	Workers          int

	// Geocoding configuration.
	Geocoder           string
	NominatimURL       string
	MapboxToken        string
	MapboxProximity    string
	GeocodeInterval    time.Duration
	GeocodeMaxAttempts int
	GeocodeTimeout     time.Duration
	GeocodeQuerySuffix string
	GeocodeCacheSize   int
	GeocodeCacheTTL    time.Duration
	RedisURL           string

	// Weather configuration.
	WeatherEnabled     bool
	NWSURL             string
	WeatherTimeout     time.Duration
	WeatherMaxAttempts int

	DatabaseURL  string
	DBMaxConns   int
	UpsertPolicy domain.UpsertPolicy
	SkipKnown    bool

	KafkaBrokers []string
	KafkaTopic   string

	RunInterval     time.Duration
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	PushgatewayURL string
	OTelEndpoint   string
	ServiceName    string
}

// Scheduled reports whether the harvester runs repeatedly instead of once.
func (c *Config) Scheduled() bool {
	return c.RunInterval > 0
}

// GeocodingEnabled reports whether any geocoding provider is configured.
func (c *Config) GeocodingEnabled() bool {
	return c.Geocoder != GeocoderNone
}

// LoadEnvFile loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	var errs []error
	duration := func(key, def string) time.Duration {
		d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
		if err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("invalid %s", key))
		}
		return d
	}
	positive := func(key string, def int) int {
		s := os.Getenv(key)
		if s == "" {
			return def
		}
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("invalid %s", key))
			return def
		}
		return n
	}
	boolean := func(key string, def bool) bool {
		s := os.Getenv(key)
		if s == "" {
			return def
		}
		b, err := strconv.ParseBool(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s", key))
			return def
		}
		return b
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ListingURL:       sharedcfg.EnvOrDefault("LISTING_URL", "https://visitseattle.org/events/page/"),
		SiteLayoutFile:   os.Getenv("SITE_LAYOUT_FILE"),
		UserAgent:        sharedcfg.EnvOrDefault("USER_AGENT", "event-harvest/1.0 (+https://github.com/couchcryptid/event-harvest-service)"),
		FetchTimeout:     duration("FETCH_TIMEOUT", "15s"),
		FetchMaxAttempts: positive("FETCH_MAX_ATTEMPTS", 3),
		Workers:          positive("HARVEST_WORKERS", 4),

		Geocoder:           strings.ToLower(sharedcfg.EnvOrDefault("GEOCODER", GeocoderNominatim)),
		NominatimURL:       strings.TrimRight(sharedcfg.EnvOrDefault("NOMINATIM_URL", "https://nominatim.openstreetmap.org"), "/"),
		MapboxToken:        os.Getenv("MAPBOX_TOKEN"),
		MapboxProximity:    sharedcfg.EnvOrDefault("MAPBOX_PROXIMITY", "-122.3321,47.6062"),
		GeocodeInterval:    duration("GEOCODE_INTERVAL", "1s"),
		GeocodeMaxAttempts: positive("GEOCODE_MAX_ATTEMPTS", 2),
		GeocodeTimeout:     duration("GEOCODE_TIMEOUT", "10s"),
		GeocodeQuerySuffix: sharedcfg.EnvOrDefault("GEOCODE_QUERY_SUFFIX", "Seattle, WA"),
		GeocodeCacheSize:   positive("GEOCODE_CACHE_SIZE", 1000),
		GeocodeCacheTTL:    duration("GEOCODE_CACHE_TTL", "720h"),
		RedisURL:           os.Getenv("REDIS_URL"),

		WeatherEnabled:     boolean("WEATHER_ENABLED", true),
		NWSURL:             strings.TrimRight(sharedcfg.EnvOrDefault("NWS_URL", "https://api.weather.gov"), "/"),
		WeatherTimeout:     duration("WEATHER_TIMEOUT", "10s"),
		WeatherMaxAttempts: positive("WEATHER_MAX_ATTEMPTS", 2),

		DatabaseURL: databaseURL(),
		DBMaxConns:  positive("DB_MAX_CONNS", 4),
		SkipKnown:   boolean("SKIP_KNOWN", true),

		KafkaTopic: sharedcfg.EnvOrDefault("KAFKA_TOPIC", "harvested-events"),

		RunInterval:     duration("RUN_INTERVAL", "0s"),
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		PushgatewayURL: os.Getenv("PUSHGATEWAY_URL"),
		OTelEndpoint:   strings.TrimRight(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), "/"),
		ServiceName:    sharedcfg.EnvOrDefault("OTEL_SERVICE_NAME", "event-harvest"),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(brokers)
	}

	policy, ok := domain.ParseUpsertPolicy(sharedcfg.EnvOrDefault("UPSERT_POLICY", string(domain.PolicyKeepFirst)))
	if !ok {
		errs = append(errs, errors.New("invalid UPSERT_POLICY: want keep-first, overwrite, or merge"))
	}
	cfg.UpsertPolicy = policy

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.ListingURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("LISTING_URL must be an absolute URL")
	}
	if c.FetchTimeout == 0 {
		return errors.New("FETCH_TIMEOUT must be positive")
	}
	if c.GeocodingEnabled() && c.GeocodeTimeout == 0 {
		return errors.New("GEOCODE_TIMEOUT must be positive")
	}
	if c.WeatherEnabled && c.WeatherTimeout == 0 {
		return errors.New("WEATHER_TIMEOUT must be positive")
	}
	if c.UserAgent == "" {
		return errors.New("USER_AGENT is required")
	}

	switch c.Geocoder {
	case GeocoderNominatim:
		if c.GeocodeInterval < minNominatimInterval {
			return fmt.Errorf("GEOCODE_INTERVAL must be at least %s for nominatim", minNominatimInterval)
		}
	case GeocoderMapbox:
		if c.MapboxToken == "" {
			return errors.New("GEOCODER is mapbox but MAPBOX_TOKEN is not set")
		}
	case GeocoderNone:
	default:
		return fmt.Errorf("invalid GEOCODER %q: want nominatim, mapbox, or none", c.Geocoder)
	}

	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

// QueryConfig holds the settings the read-only query command needs.
type QueryConfig struct {
	DatabaseURL string
	LogLevel    string
	LogFormat   string
}

// LoadQuery reads only the database and logging settings, so harvest-only
// variables cannot stop a query.
func LoadQuery() *QueryConfig {
	return &QueryConfig{
		DatabaseURL: databaseURL(),
		LogLevel:    sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:   sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
	}
}

// databaseURL prefers DATABASE_URL and otherwise assembles a DSN from the
// DB_USER/DB_PASSWORD/DB_HOST/DB_PORT/DB_NAME variables.
func databaseURL() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(sharedcfg.EnvOrDefault("DB_USER", "postgres"), sharedcfg.EnvOrDefault("DB_PASSWORD", "postgres")),
		Host:     sharedcfg.EnvOrDefault("DB_HOST", "localhost") + ":" + sharedcfg.EnvOrDefault("DB_PORT", "5432"),
		Path:     "/" + sharedcfg.EnvOrDefault("DB_NAME", "events"),
		RawQuery: "sslmode=" + sharedcfg.EnvOrDefault("DB_SSLMODE", "disable"),
	}
	return u.String()
}
