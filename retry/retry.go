// Package retry wraps scrape attempts with bounded retries and jittered
// exponential backoff. Only transient failures are retried; a schema
// mismatch propagates on the first attempt.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/openlot/lotwatch/config"
	"github.com/openlot/lotwatch/metrics"
	"github.com/openlot/lotwatch/models"
)

// AttemptFn performs one scrape attempt. Each invocation must acquire its
// own session; the previous attempt's session may have been retired.
type AttemptFn func(ctx context.Context) (*models.ExtractionResult, error)

// Controller applies the retry/backoff policy to scrape attempts.
type Controller struct {
	cfg     config.RetryConfig
	metrics *metrics.Metrics
}

// NewController creates a Controller. metrics may be nil.
func NewController(cfg config.RetryConfig, m *metrics.Metrics) *Controller {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	return &Controller{cfg: cfg, metrics: m}
}

// Do runs fn up to MaxAttempts times. Transient failures back off and
// retry; anything else propagates immediately. When the budget or the
// ctx deadline runs out the last error is wrapped in MAX_RETRIES_EXCEEDED.
func (c *Controller) Do(ctx context.Context, key string, fn AttemptFn) (*models.ExtractionResult, error) {
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, c.exhausted(key, attempt-1, lastErr, err)
		}

		res, err := fn(ctx)
		if err == nil {
			res.Attempts = attempt
			return res, nil
		}
		lastErr = err

		if !models.IsTransient(err) {
			return nil, err
		}
		if attempt == c.cfg.MaxAttempts {
			break
		}

		delay := c.backoff(attempt)
		slog.Warn("scrape attempt failed, backing off",
			"target", key,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		c.metrics.IncRetries()

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, c.exhausted(key, attempt, lastErr, ctx.Err())
		}
	}

	return nil, c.exhausted(key, c.cfg.MaxAttempts, lastErr, nil)
}

func (c *Controller) exhausted(key string, attempts int, lastErr, ctxErr error) error {
	cause := lastErr
	if cause == nil {
		cause = ctxErr
	}
	msg := fmt.Sprintf("giving up on %s after %d attempt(s)", key, attempts)
	if ctxErr != nil {
		msg = fmt.Sprintf("refresh deadline reached for %s after %d attempt(s)", key, attempts)
	}
	return models.NewScrapeError(models.ErrCodeMaxRetries, msg, cause)
}

// backoff returns the delay before the next attempt: BaseDelay doubling
// per attempt with up to 25% additive jitter, capped at MaxDelay. The
// schedule is non-decreasing even with jitter, since the max jittered
// value of one step stays below the min of the next.
func (c *Controller) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := c.cfg.BaseDelay << (attempt - 1)
	// Guard shift overflow for absurd attempt counts.
	if delay <= 0 || delay > c.cfg.MaxDelay {
		delay = c.cfg.MaxDelay
	}

	if jitterRange := delay / 4; jitterRange > 0 {
		delay += rand.N(jitterRange)
	}
	if delay > c.cfg.MaxDelay {
		delay = c.cfg.MaxDelay
	}
	return delay
}
