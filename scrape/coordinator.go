package scrape

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/openlot/lotwatch/cache"
	"github.com/openlot/lotwatch/metrics"
	"github.com/openlot/lotwatch/models"
	"github.com/openlot/lotwatch/webhook"
)

// Coordinator resolves targets against the result cache and serializes
// refreshes per key. The core invariant: at most one refresh workflow is
// in flight per target key, no matter how many callers arrive, and a
// caller disconnecting never aborts a refresh other waiters share.
type Coordinator struct {
	cache          *cache.Cache
	fetcher        Fetcher
	refreshTimeout time.Duration
	defaultTTL     time.Duration
	metrics        *metrics.Metrics
	notifier       *webhook.Notifier

	group singleflight.Group

	// failing tracks keys whose last refresh failed, for recovery events.
	failing sync.Map // key (string) -> struct{}
}

// NewCoordinator creates a Coordinator. metrics and notifier may be nil.
func NewCoordinator(c *cache.Cache, f Fetcher, refreshTimeout, defaultTTL time.Duration, m *metrics.Metrics, n *webhook.Notifier) *Coordinator {
	return &Coordinator{
		cache:          c,
		fetcher:        f,
		refreshTimeout: refreshTimeout,
		defaultTTL:     defaultTTL,
		metrics:        m,
		notifier:       n,
	}
}

// Resolve returns the current extraction for the target, with stale=true
// when the served result is past its TTL.
//
//   - Fresh cache entry: returned as-is, no scrape.
//   - Stale entry: returned immediately with stale=true while a refresh
//     runs in the background (stale-while-revalidate).
//   - No entry: the caller joins the single-flight refresh and waits.
//
// A caller whose ctx expires while waiting gets an error, but the refresh
// keeps running and populates the cache for future readers.
func (co *Coordinator) Resolve(ctx context.Context, t *models.Target) (*models.ExtractionResult, bool, error) {
	if e, ok := co.cache.Get(t.Key); ok {
		if !e.Stale() {
			co.metrics.IncCacheEvent(metrics.CacheHit)
			return e.Result, false, nil
		}
		co.metrics.IncCacheEvent(metrics.CacheStale)
		co.refreshAsync(t)
		return e.Result, true, nil
	}

	co.metrics.IncCacheEvent(metrics.CacheMiss)

	select {
	case r := <-co.refreshChan(t):
		if r.Err != nil {
			// Another caller may have repopulated the entry between our
			// miss and the refresh failing; serve that rather than erroring.
			if e, ok := co.cache.Get(t.Key); ok {
				return e.Result, e.Stale(), nil
			}
			return nil, false, r.Err
		}
		return r.Val.(*models.ExtractionResult), false, nil
	case <-ctx.Done():
		return nil, false, models.NewScrapeError(models.ErrCodeInternal,
			"request ended while waiting for refresh", ctx.Err())
	}
}

// Status reports the cached state of a key for listings, without
// triggering a scrape or touching the entry's idle clock.
func (co *Coordinator) Status(key string) (asOf time.Time, stale, cached bool) {
	e, ok := co.cache.Peek(key)
	if !ok {
		return time.Time{}, false, false
	}
	return e.Result.FetchedAt, e.Stale(), true
}

// refreshAsync starts (or joins) the key's refresh without waiting on it.
func (co *Coordinator) refreshAsync(t *models.Target) {
	// DoChan's buffered channel can be dropped without a reader.
	_ = co.refreshChan(t)
}

// refreshChan starts the single-flight refresh for the key, or joins the
// one already in flight. The refresh runs on its own detached context so
// caller cancellation cannot kill work other waiters depend on.
func (co *Coordinator) refreshChan(t *models.Target) <-chan singleflight.Result {
	return co.group.DoChan(t.Key, func() (any, error) {
		ctx := context.Background()
		if co.refreshTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, co.refreshTimeout)
			defer cancel()
		}

		co.metrics.RefreshStarted()
		start := time.Now()
		res, err := co.fetcher.Fetch(ctx, t)
		co.metrics.RefreshFinished()
		co.metrics.ObserveScrapeDuration(time.Since(start))

		if err != nil {
			co.metrics.IncScrape(models.CodeOf(err))
			co.noteFailure(t, err)
			return nil, err
		}

		ttl := t.TTL
		if ttl <= 0 {
			ttl = co.defaultTTL
		}
		co.cache.Put(t.Key, res, ttl)
		co.metrics.IncScrape("success")
		co.noteRecovery(t)
		return res, nil
	})
}

func (co *Coordinator) noteFailure(t *models.Target, err error) {
	slog.Error("target refresh failed",
		"target", t.Key,
		"code", models.CodeOf(err),
		"error", err,
	)
	if _, already := co.failing.LoadOrStore(t.Key, struct{}{}); !already {
		co.notifier.RefreshFailed(t.Key, err)
	}
}

func (co *Coordinator) noteRecovery(t *models.Target) {
	if _, wasFailing := co.failing.LoadAndDelete(t.Key); wasFailing {
		slog.Info("target recovered", "target", t.Key)
		co.notifier.Recovered(t.Key)
	}
}
