// Package scrape is the orchestration core: the Runner turns one refresh
// into pool-bounded, retried extraction attempts, and the Coordinator
// layers single-flight deduplication and the stale-while-revalidate cache
// policy on top.
package scrape

import (
	"context"

	"github.com/openlot/lotwatch/browser"
	"github.com/openlot/lotwatch/extract"
	"github.com/openlot/lotwatch/models"
	"github.com/openlot/lotwatch/retry"
)

// Fetcher performs one complete refresh of a target, retries included.
type Fetcher interface {
	Fetch(ctx context.Context, t *models.Target) (*models.ExtractionResult, error)
}

// Runner is the production Fetcher: retry controller around per-attempt
// session acquisition and extraction, with the plain-HTTP fast path for
// targets that opt out of browser rendering.
type Runner struct {
	pool      *browser.Pool
	extractor *extract.Extractor
	httpFetch *extract.HTTPFetcher
	retrier   *retry.Controller
}

// NewRunner wires the pool, extractor and retry controller into a Fetcher.
// httpFetch may be nil when no target uses fetch_mode: http.
func NewRunner(pool *browser.Pool, ex *extract.Extractor, httpFetch *extract.HTTPFetcher, retrier *retry.Controller) *Runner {
	return &Runner{
		pool:      pool,
		extractor: ex,
		httpFetch: httpFetch,
		retrier:   retrier,
	}
}

// Fetch refreshes the target once, spending up to the configured retry
// budget within ctx's deadline.
func (r *Runner) Fetch(ctx context.Context, t *models.Target) (*models.ExtractionResult, error) {
	if t.FetchMode == models.FetchModeHTTP && r.httpFetch != nil {
		return r.retrier.Do(ctx, t.Key, func(ctx context.Context) (*models.ExtractionResult, error) {
			return r.httpFetch.Fetch(ctx, t)
		})
	}
	return r.retrier.Do(ctx, t.Key, func(ctx context.Context) (*models.ExtractionResult, error) {
		return r.attempt(ctx, t)
	})
}

// attempt runs one browser extraction. Each attempt leases its own
// session; the release in all exit paths keeps the pool invariant that a
// session belongs to at most one extraction.
func (r *Runner) attempt(ctx context.Context, t *models.Target) (res *models.ExtractionResult, err error) {
	lease, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { r.pool.Release(lease, err == nil) }()

	res, err = r.extractor.Extract(ctx, lease.Session(), t)
	return res, err
}
