// Package pipeline sequences a harvest run: discover listing links, fetch and
// enrich each event page, then persist the records.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/event-harvest-service/internal/domain"
	"github.com/couchcryptid/event-harvest-service/internal/observability"
)

// LinkDiscoverer walks the paginated listing.
type LinkDiscoverer interface {
	DiscoverAllLinks(ctx context.Context, listingURL string) (domain.Listing, error)
}

// PageFetcher downloads one detail page.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// DetailParser extracts a record from a detail page.
type DetailParser interface {
	ParseDetail(url string, body []byte) (domain.EventRecord, error)
}

// Locator resolves a record to coordinates, or nil.
type Locator interface {
	Locate(ctx context.Context, record domain.EventRecord) *domain.Coordinates
}

// Forecaster looks up the forecast for coordinates, or nil.
type Forecaster interface {
	Forecast(ctx context.Context, url string, coords *domain.Coordinates) *domain.Forecast
}

// Store persists records.
type Store interface {
	Upsert(ctx context.Context, record domain.EventRecord) (domain.UpsertOutcome, error)
	KnownURLs(ctx context.Context, urls []string) (map[string]bool, error)
}

// Publisher announces records that changed the store.
type Publisher interface {
	Publish(ctx context.Context, records []domain.EventRecord) error
}

// Options controls a Harvester.
type Options struct {
	ListingURL string
	Workers    int
	// SkipKnown drops URLs the store already holds before fetching them.
	SkipKnown bool
}

// Harvester runs Discover → Enrich&Parse → Persist.
type Harvester struct {
	opts      Options
	links     LinkDiscoverer
	fetcher   PageFetcher
	parser    DetailParser
	store     Store
	locator   Locator
	forecast  Forecaster
	publisher Publisher
	logger    *slog.Logger
	metrics   *observability.Metrics

	mu   sync.Mutex
	last *Report
}

// NewHarvester creates a Harvester with no enrichment and no change feed.
func NewHarvester(opts Options, links LinkDiscoverer, fetcher PageFetcher, parser DetailParser, store Store, logger *slog.Logger, metrics *observability.Metrics) *Harvester {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Harvester{
		opts:    opts,
		links:   links,
		fetcher: fetcher,
		parser:  parser,
		store:   store,
		logger:  logger,
		metrics: metrics,
	}
}

// WithEnrichment sets the geocoding and weather stages. Either may be nil.
func (h *Harvester) WithEnrichment(locator Locator, forecast Forecaster) *Harvester {
	h.locator = locator
	h.forecast = forecast
	return h
}

// WithPublisher publishes inserted and updated records after each run.
func (h *Harvester) WithPublisher(p Publisher) *Harvester {
	h.publisher = p
	return h
}

// LastRun returns the report of the most recent completed run.
func (h *Harvester) LastRun() (any, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return nil, false
	}
	return *h.last, true
}

// Run performs one harvest. It returns an error only when discovery fails or
// ctx is cancelled; per-URL failures are listed in the report. Records parsed
// but not yet persisted when ctx is cancelled are discarded.
func (h *Harvester) Run(ctx context.Context) (Report, error) {
	report := Report{RunID: uuid.NewString(), StartedAt: domain.Now()}
	logger := h.logger.With("run_id", report.RunID)

	ctx, span := observability.Tracer().Start(ctx, "harvest.run")
	defer span.End()
	span.SetAttributes(attribute.String("harvest.run_id", report.RunID))

	h.metrics.HarvestRunning.Set(1)
	defer h.metrics.HarvestRunning.Set(0)

	logger.InfoContext(ctx, "harvest started", "listing_url", h.opts.ListingURL, "workers", h.opts.Workers)

	urls, err := h.discover(ctx, logger, &report)
	if err != nil {
		report.FinishedAt = domain.Now()
		report.Cancelled = ctx.Err() != nil
		outcome := "failed"
		if report.Cancelled {
			outcome = report.Outcome()
		}
		h.metrics.Runs.WithLabelValues(outcome).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "discovery failed")
		logger.ErrorContext(ctx, "harvest failed", "stage", "discover", "error", err)
		return report, fmt.Errorf("discover: %w", err)
	}

	records := h.enrichAndParse(ctx, logger, urls, &report)
	changed := h.persist(ctx, logger, records, &report)
	h.publish(ctx, logger, changed, &report)

	report.FinishedAt = domain.Now()
	report.Cancelled = ctx.Err() != nil
	h.finish(ctx, logger, report)

	if report.Cancelled {
		span.SetStatus(codes.Error, "cancelled")
		return report, ctx.Err()
	}
	return report, nil
}

// discover collects unique detail URLs, dropping known ones when configured.
func (h *Harvester) discover(ctx context.Context, logger *slog.Logger, report *Report) ([]string, error) {
	ctx, span := observability.Tracer().Start(ctx, "harvest.discover")
	defer span.End()

	listing, err := h.links.DiscoverAllLinks(ctx, h.opts.ListingURL)
	if err != nil {
		return nil, err
	}
	report.Pages = listing.Pages
	report.PagesFailed = len(listing.FailedPages)
	report.Discovered = len(listing.URLs)

	urls := dedupe(listing.URLs)
	report.Unique = len(urls)

	if h.opts.SkipKnown && len(urls) > 0 {
		known, err := h.store.KnownURLs(ctx, urls)
		if err != nil {
			logger.WarnContext(ctx, "known url lookup failed, harvesting all", "error", err)
		} else {
			fresh := urls[:0]
			for _, u := range urls {
				if !known[u] {
					fresh = append(fresh, u)
				}
			}
			report.Known = len(urls) - len(fresh)
			urls = fresh
		}
	}

	span.SetAttributes(
		attribute.Int("harvest.pages", report.Pages),
		attribute.Int("harvest.urls", len(urls)),
	)
	logger.InfoContext(ctx, "discovery complete",
		"pages", report.Pages,
		"pages_failed", report.PagesFailed,
		"discovered", report.Discovered,
		"unique", report.Unique,
		"known", report.Known,
	)
	return urls, nil
}

type itemResult struct {
	record  *domain.EventRecord
	failure *Failure
}

// enrichAndParse processes every URL on a bounded pool and returns the parsed
// records in discovery order.
func (h *Harvester) enrichAndParse(ctx context.Context, logger *slog.Logger, urls []string, report *Report) []domain.EventRecord {
	results := make([]itemResult, len(urls))

	var g errgroup.Group
	g.SetLimit(h.opts.Workers)
	for i, u := range urls {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = h.process(ctx, logger, u)
			return nil
		})
	}
	_ = g.Wait()

	records := make([]domain.EventRecord, 0, len(urls))
	for _, res := range results {
		switch {
		case res.failure != nil:
			report.Failures = append(report.Failures, *res.failure)
			report.Failed++
		case res.record != nil:
			report.Parsed++
			if res.record.Coordinates != nil {
				report.Geocoded++
			}
			if res.record.Forecast != nil {
				report.Weather++
			}
			records = append(records, *res.record)
		}
	}
	return records
}

// process fetches, parses and enriches one URL. A zero result means the work
// was abandoned because ctx was cancelled.
func (h *Harvester) process(ctx context.Context, logger *slog.Logger, url string) itemResult {
	if ctx.Err() != nil {
		return itemResult{}
	}
	ctx, span := observability.Tracer().Start(ctx, "harvest.item")
	defer span.End()
	span.SetAttributes(attribute.String("url", url))

	fail := func(stage string, err error) itemResult {
		if ctx.Err() != nil {
			return itemResult{}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, stage)
		logger.WarnContext(ctx, "event skipped", "url", url, "stage", stage, "error", err)
		return itemResult{failure: &Failure{URL: url, Stage: stage, Reason: err.Error()}}
	}

	body, err := h.fetcher.Fetch(ctx, url)
	if err != nil {
		return fail(StageFetch, err)
	}
	record, err := h.parser.ParseDetail(url, body)
	if err != nil {
		return fail(StageParse, err)
	}

	if h.locator != nil {
		record.Coordinates = h.locator.Locate(ctx, record)
	}
	if record.Coordinates != nil && h.forecast != nil {
		record.Forecast = h.forecast.Forecast(ctx, url, record.Coordinates)
	}
	if ctx.Err() != nil {
		return itemResult{}
	}
	return itemResult{record: &record}
}

// persist upserts records in order, stopping at cancellation. It returns the
// records that changed the store.
func (h *Harvester) persist(ctx context.Context, logger *slog.Logger, records []domain.EventRecord, report *Report) []domain.EventRecord {
	ctx, span := observability.Tracer().Start(ctx, "harvest.persist")
	defer span.End()

	var changed []domain.EventRecord
	for i, record := range records {
		if ctx.Err() != nil {
			logger.WarnContext(ctx, "persist interrupted", "discarded", len(records)-i)
			break
		}
		outcome, err := h.store.Upsert(ctx, record)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.WarnContext(ctx, "event skipped", "url", record.URL, "stage", StagePersist, "error", err)
			report.fail(record.URL, StagePersist, err)
			continue
		}
		switch outcome {
		case domain.OutcomeInserted:
			report.Inserted++
		case domain.OutcomeUpdated:
			report.Updated++
		case domain.OutcomeDuplicate:
			report.Duplicates++
		}
		if outcome.Persisted() {
			report.Persisted++
			changed = append(changed, record)
		}
	}
	span.SetAttributes(attribute.Int("harvest.persisted", report.Persisted))
	return changed
}

func (h *Harvester) publish(ctx context.Context, logger *slog.Logger, records []domain.EventRecord, report *Report) {
	if h.publisher == nil || len(records) == 0 || ctx.Err() != nil {
		return
	}
	if err := h.publisher.Publish(ctx, records); err != nil {
		logger.ErrorContext(ctx, "publish failed", "count", len(records), "error", err)
		return
	}
	report.Published = len(records)
}

// finish records the run in metrics, the log, and LastRun.
func (h *Harvester) finish(ctx context.Context, logger *slog.Logger, report Report) {
	outcome := report.Outcome()
	h.metrics.Runs.WithLabelValues(outcome).Inc()
	h.metrics.RunDuration.Observe(report.Duration().Seconds())
	if !report.Cancelled {
		h.metrics.LastRunSuccess.Set(float64(report.FinishedAt.Unix()))
	}
	for stage, n := range map[string]int{
		"discovered": report.Discovered,
		"known":      report.Known,
		"parsed":     report.Parsed,
		"geocoded":   report.Geocoded,
		"weather":    report.Weather,
		"persisted":  report.Persisted,
		"duplicate":  report.Duplicates,
		"failed":     report.Failed,
	} {
		h.metrics.RecordsByStage.WithLabelValues(stage).Add(float64(n))
	}

	logger.InfoContext(ctx, "harvest finished",
		"outcome", outcome,
		"duration", report.Duration(),
		"discovered", report.Discovered,
		"unique", report.Unique,
		"known", report.Known,
		"pages_failed", report.PagesFailed,
		"parsed", report.Parsed,
		"geocoded", report.Geocoded,
		"weather", report.Weather,
		"persisted", report.Persisted,
		"inserted", report.Inserted,
		"updated", report.Updated,
		"duplicates", report.Duplicates,
		"published", report.Published,
		"failed", report.Failed,
	)

	h.mu.Lock()
	h.last = &report
	h.mu.Unlock()
}

func dedupe(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}
