package site

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/event-harvest-service/internal/domain"
	"github.com/couchcryptid/event-harvest-service/internal/observability"
	"github.com/couchcryptid/event-harvest-service/internal/retry"
)

const (
	kindListing = "listing"
	kindDetail  = "detail"

	maxBodyBytes = 10 << 20
)

// Fetcher GETs site pages with a per-request timeout, classifying failures as
// transient or permanent and retrying the transient ones.
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	policy     retry.Policy
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewFetcher creates a Fetcher. attempts counts the first request.
func NewFetcher(userAgent string, timeout time.Duration, attempts int, logger *slog.Logger, metrics *observability.Metrics) *Fetcher {
	f := &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  userAgent,
		logger:     logger,
		metrics:    metrics,
	}
	f.policy = retry.Policy{
		Attempts:  attempts,
		Initial:   500 * time.Millisecond,
		Max:       5 * time.Second,
		Retryable: domain.IsTransient,
	}
	return f
}

// Fetch returns the body of a detail page.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	return f.fetch(ctx, kindDetail, pageURL)
}

func (f *Fetcher) fetch(ctx context.Context, kind, pageURL string) ([]byte, error) {
	start := time.Now()
	policy := f.policy
	policy.OnRetry = func(attempt int, err error) {
		f.logger.DebugContext(ctx, "retrying fetch", "url", pageURL, "attempt", attempt, "error", err)
	}

	var body []byte
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		b, err := f.fetchOnce(ctx, pageURL)
		body = b
		return err
	})

	f.metrics.FetchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		f.metrics.PagesFetched.WithLabelValues(kind, "error").Inc()
		return nil, err
	}
	f.metrics.PagesFetched.WithLabelValues(kind, "ok").Inc()
	return body, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &domain.FetchError{URL: pageURL, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// Timeouts, resets and DNS failures are all worth another try.
		return nil, &domain.FetchError{URL: pageURL, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, domain.NewStatusError(pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
		}
		return nil, &domain.FetchError{URL: pageURL, Transient: true, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}
