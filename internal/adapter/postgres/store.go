// Package postgres persists harvested events in PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couchcryptid/event-harvest-service/internal/domain"
	"github.com/couchcryptid/event-harvest-service/internal/observability"
)

// schemaSQL is embedded so the harvester can bootstrap its own table.
//
//go:embed schema.sql
var schemaSQL string

const insertColumns = `INSERT INTO events (url, title, occurs_at, venue, category, location, coordinates, forecast, harvested_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (url) `

// upsertSQL holds one statement per conflict policy. Each returns
// (xmax = 0), which is true for a fresh insert and false for an update; a
// skipped conflict returns no row.
var upsertSQL = map[domain.UpsertPolicy]string{
	domain.PolicyKeepFirst: insertColumns + `DO NOTHING
RETURNING (xmax = 0)`,

	domain.PolicyOverwrite: insertColumns + `DO UPDATE SET
    title        = EXCLUDED.title,
    occurs_at    = EXCLUDED.occurs_at,
    venue        = EXCLUDED.venue,
    category     = EXCLUDED.category,
    location     = EXCLUDED.location,
    coordinates  = EXCLUDED.coordinates,
    forecast     = EXCLUDED.forecast,
    harvested_at = EXCLUDED.harvested_at
RETURNING (xmax = 0)`,

	// Coordinates and forecast move together: an existing forecast survives
	// only while it still describes the stored coordinates.
	domain.PolicyMerge: insertColumns + `DO UPDATE SET
    title        = COALESCE(NULLIF(EXCLUDED.title, 'Unknown'), events.title),
    occurs_at    = COALESCE(EXCLUDED.occurs_at, events.occurs_at),
    venue        = COALESCE(NULLIF(EXCLUDED.venue, 'Unknown'), events.venue),
    category     = COALESCE(NULLIF(EXCLUDED.category, 'Unknown'), events.category),
    location     = COALESCE(NULLIF(EXCLUDED.location, 'Unknown'), events.location),
    coordinates  = COALESCE(EXCLUDED.coordinates, events.coordinates),
    forecast     = CASE
        WHEN EXCLUDED.coordinates IS NULL THEN events.forecast
        WHEN EXCLUDED.forecast IS NOT NULL THEN EXCLUDED.forecast
        WHEN events.coordinates = EXCLUDED.coordinates THEN events.forecast
        END,
    harvested_at = EXCLUDED.harvested_at
RETURNING (xmax = 0)`,
}

// Store is the durable, deduplicated event table.
type Store struct {
	pool    *pgxpool.Pool
	policy  domain.UpsertPolicy
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a connection pool and fails fast if the database is unreachable.
func New(ctx context.Context, dsn string, maxConns int, policy domain.UpsertPolicy, logger *slog.Logger, metrics *observability.Metrics) (*Store, error) {
	if _, ok := upsertSQL[policy]; !ok {
		return nil, fmt.Errorf("unknown upsert policy %q", policy)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, cfg)
	if err != nil {
		return nil, &domain.StorageError{Op: "connect", Err: err}
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, &domain.StorageError{Op: "connect", Err: err}
	}

	return &Store{pool: pool, policy: policy, logger: logger, metrics: metrics}, nil
}

// Policy returns the conflict policy Upsert applies.
func (s *Store) Policy() domain.UpsertPolicy {
	return s.policy
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return &domain.StorageError{Op: "ensure schema", Err: err}
	}
	return nil
}

// Ping validates database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CheckReadiness reports whether the database is reachable.
func (s *Store) CheckReadiness(ctx context.Context) error {
	if err := s.Ping(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Upsert stores a record according to the configured policy.
func (s *Store) Upsert(ctx context.Context, record domain.EventRecord) (domain.UpsertOutcome, error) {
	outcome, err := s.upsert(ctx, record)
	if err != nil {
		s.metrics.StoreUpserts.WithLabelValues("error").Inc()
		return "", err
	}
	s.metrics.StoreUpserts.WithLabelValues(string(outcome)).Inc()
	return outcome, nil
}

func (s *Store) upsert(ctx context.Context, r domain.EventRecord) (domain.UpsertOutcome, error) {
	if r.URL == "" {
		return "", &domain.StorageError{Op: "upsert", Err: errors.New("record has no url")}
	}
	if r.Forecast != nil && r.Coordinates == nil {
		return "", &domain.StorageError{Op: "upsert", URL: r.URL, Err: errors.New("forecast without coordinates")}
	}

	coords, err := jsonArg(r.Coordinates)
	if err != nil {
		return "", &domain.StorageError{Op: "upsert", URL: r.URL, Err: err}
	}
	forecast, err := jsonArg(r.Forecast)
	if err != nil {
		return "", &domain.StorageError{Op: "upsert", URL: r.URL, Err: err}
	}
	var occursAt any
	if r.HasDate() {
		occursAt = r.OccursAt.UTC()
	}
	harvestedAt := r.HarvestedAt
	if harvestedAt.IsZero() {
		harvestedAt = domain.Now()
	}

	var inserted bool
	err = s.pool.QueryRow(ctx, upsertSQL[s.policy],
		r.URL, r.Title, occursAt, r.Venue, r.Category, r.Location, coords, forecast, harvestedAt.UTC(),
	).Scan(&inserted)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return domain.OutcomeDuplicate, nil
	case err != nil:
		return "", &domain.StorageError{Op: "upsert", URL: r.URL, Err: err}
	case inserted:
		return domain.OutcomeInserted, nil
	default:
		return domain.OutcomeUpdated, nil
	}
}

// KnownURLs reports which of urls are already stored.
func (s *Store) KnownURLs(ctx context.Context, urls []string) (map[string]bool, error) {
	known := make(map[string]bool)
	if len(urls) == 0 {
		return known, nil
	}

	rows, err := s.pool.Query(ctx, `SELECT url FROM events WHERE url = ANY($1)`, urls)
	if err != nil {
		return nil, &domain.StorageError{Op: "known urls", Err: err}
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, &domain.StorageError{Op: "known urls", Err: err}
	}
	for _, u := range found {
		known[u] = true
	}
	return known, nil
}

// Filter narrows a Query. Zero fields do not filter.
type Filter struct {
	Category string    // case-insensitive exact match
	Location string    // case-insensitive exact match
	From     time.Time // inclusive
	To       time.Time // exclusive
	Limit    int       // default 100
}

// Query returns stored events matching f, soonest first; undated events last.
func (s *Store) Query(ctx context.Context, f Filter) ([]domain.EventRecord, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Category != "" {
		add("lower(category) = lower($%d)", f.Category)
	}
	if f.Location != "" {
		add("lower(location) = lower($%d)", f.Location)
	}
	if !f.From.IsZero() {
		add("occurs_at >= $%d", f.From.UTC())
	}
	if !f.To.IsZero() {
		add("occurs_at < $%d", f.To.UTC())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	var b strings.Builder
	b.WriteString(`SELECT url, title, occurs_at, venue, category, location, coordinates, forecast, harvested_at FROM events`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	args = append(args, limit)
	fmt.Fprintf(&b, " ORDER BY occurs_at ASC NULLS LAST, url ASC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, &domain.StorageError{Op: "query", Err: err}
	}
	records, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, &domain.StorageError{Op: "query", Err: err}
	}
	return records, nil
}

func scanRecord(row pgx.CollectableRow) (domain.EventRecord, error) {
	var (
		r           domain.EventRecord
		occursAt    *time.Time
		coordinates []byte
		forecast    []byte
	)
	if err := row.Scan(&r.URL, &r.Title, &occursAt, &r.Venue, &r.Category, &r.Location, &coordinates, &forecast, &r.HarvestedAt); err != nil {
		return domain.EventRecord{}, err
	}
	if occursAt != nil {
		r.OccursAt = occursAt.UTC()
	}
	r.HarvestedAt = r.HarvestedAt.UTC()
	if coordinates != nil {
		r.Coordinates = &domain.Coordinates{}
		if err := json.Unmarshal(coordinates, r.Coordinates); err != nil {
			return domain.EventRecord{}, fmt.Errorf("decode coordinates for %s: %w", r.URL, err)
		}
	}
	if forecast != nil {
		r.Forecast = &domain.Forecast{}
		if err := json.Unmarshal(forecast, r.Forecast); err != nil {
			return domain.EventRecord{}, fmt.Errorf("decode forecast for %s: %w", r.URL, err)
		}
	}
	return r, nil
}

// jsonArg encodes v for a JSONB parameter, or returns untyped nil for SQL NULL.
func jsonArg[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}
