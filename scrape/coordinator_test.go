package scrape

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openlot/lotwatch/cache"
	"github.com/openlot/lotwatch/models"
)

// countingFetcher serves canned results and counts invocations per key.
type countingFetcher struct {
	mu      sync.Mutex
	calls   map[string]int
	results map[string]*models.ExtractionResult
	errs    map[string]error
	delay   time.Duration
	started chan string // receives key when a fetch begins, if non-nil
}

func newCountingFetcher() *countingFetcher {
	return &countingFetcher{
		calls:   make(map[string]int),
		results: make(map[string]*models.ExtractionResult),
		errs:    make(map[string]error),
	}
}

func (f *countingFetcher) Fetch(ctx context.Context, t *models.Target) (*models.ExtractionResult, error) {
	f.mu.Lock()
	f.calls[t.Key]++
	delay := f.delay
	res := f.results[t.Key]
	err := f.errs[t.Key]
	started := f.started
	f.mu.Unlock()

	if started != nil {
		started <- t.Key
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, models.NewScrapeError(models.ErrCodeMaxRetries, "refresh deadline reached", ctx.Err())
		}
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &models.ExtractionResult{
			TargetKey:   t.Key,
			Fields:      map[string]any{"spots_free": 17},
			FetchedAt:   time.Now(),
			Attempts:    1,
			FetchMethod: models.FetchModeBrowser,
		}
	}
	return res, nil
}

func (f *countingFetcher) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func target(key string, ttl time.Duration) *models.Target {
	return &models.Target{
		Key: key,
		URL: "https://parking.example.com/" + key,
		TTL: ttl,
	}
}

func newTestCoordinator(t *testing.T, f Fetcher) *Coordinator {
	t.Helper()
	c, err := cache.New(64, time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	t.Cleanup(c.Stop)
	return NewCoordinator(c, f, 5*time.Second, time.Minute, nil, nil)
}

func TestResolveSingleFlight(t *testing.T) {
	f := newCountingFetcher()
	f.delay = 50 * time.Millisecond
	co := newTestCoordinator(t, f)

	const callers = 20
	var wg sync.WaitGroup
	var fails atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, stale, err := co.Resolve(context.Background(), target("lot-42", time.Minute))
			if err != nil || stale || res == nil {
				fails.Add(1)
			}
		}()
	}
	wg.Wait()

	if fails.Load() != 0 {
		t.Errorf("%d callers failed", fails.Load())
	}
	if got := f.callCount("lot-42"); got != 1 {
		t.Errorf("underlying scrapes = %d, want exactly 1 for concurrent same-key callers", got)
	}
}

func TestResolveFreshHitSkipsScrape(t *testing.T) {
	f := newCountingFetcher()
	co := newTestCoordinator(t, f)
	lot := target("lot-42", time.Minute)

	if _, _, err := co.Resolve(context.Background(), lot); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}

	res, stale, err := co.Resolve(context.Background(), lot)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if stale {
		t.Error("fresh entry served as stale")
	}
	if res == nil {
		t.Fatal("fresh entry not served")
	}
	if got := f.callCount("lot-42"); got != 1 {
		t.Errorf("scrapes = %d, want 1 (fresh hit must not re-scrape)", got)
	}
}

func TestResolveStaleWhileRevalidate(t *testing.T) {
	f := newCountingFetcher()
	co := newTestCoordinator(t, f)
	lot := target("lot-42", 20*time.Millisecond)

	first, _, err := co.Resolve(context.Background(), lot)
	if err != nil {
		t.Fatalf("first Resolve: %v", err)
	}

	time.Sleep(30 * time.Millisecond) // let the entry go stale

	f.mu.Lock()
	f.delay = 50 * time.Millisecond
	f.mu.Unlock()

	start := time.Now()
	res, stale, err := co.Resolve(context.Background(), lot)
	if err != nil {
		t.Fatalf("stale Resolve: %v", err)
	}
	if !stale {
		t.Error("expired entry should be served with stale=true")
	}
	if res != first {
		t.Error("stale read should serve the prior result")
	}
	if waited := time.Since(start); waited > 25*time.Millisecond {
		t.Errorf("stale read blocked for %v; must return immediately", waited)
	}

	// The background refresh completes and the entry turns fresh.
	deadline := time.After(2 * time.Second)
	for {
		res, stale, err = co.Resolve(context.Background(), lot)
		if err == nil && !stale {
			break
		}
		select {
		case <-deadline:
			t.Fatal("background refresh never repopulated the cache")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got := f.callCount("lot-42"); got != 2 {
		t.Errorf("scrapes = %d, want 2 (initial + one background refresh)", got)
	}
}

func TestResolveStaleTriggersExactlyOneRefresh(t *testing.T) {
	f := newCountingFetcher()
	co := newTestCoordinator(t, f)
	lot := target("lot-42", 10*time.Millisecond)

	if _, _, err := co.Resolve(context.Background(), lot); err != nil {
		t.Fatalf("seed Resolve: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	f.mu.Lock()
	f.delay = 80 * time.Millisecond
	f.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, stale, err := co.Resolve(context.Background(), lot)
			if err != nil {
				t.Errorf("Resolve: %v", err)
			}
			if !stale {
				t.Error("caller during refresh should get the stale entry")
			}
		}()
	}
	wg.Wait()

	// Wait for the shared background refresh to land, then check the burst
	// produced exactly one scrape.
	deadline := time.After(2 * time.Second)
	for {
		_, stale, err := co.Resolve(context.Background(), lot)
		if err == nil && !stale {
			break
		}
		select {
		case <-deadline:
			t.Fatal("background refresh never completed")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got := f.callCount("lot-42"); got != 2 {
		t.Errorf("scrapes = %d, want 2 (stale burst joins one refresh)", got)
	}
}

func TestResolveFailureWithoutPriorCache(t *testing.T) {
	f := newCountingFetcher()
	f.errs["lot-42"] = models.NewScrapeError(models.ErrCodeMaxRetries, "giving up", nil)
	co := newTestCoordinator(t, f)

	_, _, err := co.Resolve(context.Background(), target("lot-42", time.Minute))
	if models.CodeOf(err) != models.ErrCodeMaxRetries {
		t.Fatalf("error code = %s, want MAX_RETRIES_EXCEEDED to reach the caller", models.CodeOf(err))
	}
}

func TestResolveFailureServesStale(t *testing.T) {
	f := newCountingFetcher()
	co := newTestCoordinator(t, f)
	lot := target("lot-42", 10*time.Millisecond)

	first, _, err := co.Resolve(context.Background(), lot)
	if err != nil {
		t.Fatalf("seed Resolve: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	f.mu.Lock()
	f.errs["lot-42"] = models.NewScrapeError(models.ErrCodeMaxRetries, "giving up", nil)
	f.mu.Unlock()

	res, stale, err := co.Resolve(context.Background(), lot)
	if err != nil {
		t.Fatalf("Resolve with failing refresh: %v", err)
	}
	if !stale || res != first {
		t.Error("failed refresh with a prior result must serve the stale result")
	}
}

func TestResolveCallerCancellationDoesNotAbortRefresh(t *testing.T) {
	f := newCountingFetcher()
	f.delay = 60 * time.Millisecond
	f.started = make(chan string, 1)
	co := newTestCoordinator(t, f)
	lot := target("lot-42", time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := co.Resolve(ctx, lot)
		done <- err
	}()

	<-f.started // refresh is underway
	cancel()

	if err := <-done; err == nil {
		t.Fatal("cancelled caller should receive an error")
	}

	// The detached refresh still completes and populates the cache.
	deadline := time.After(2 * time.Second)
	for {
		res, stale, err := co.Resolve(context.Background(), lot)
		if err == nil && !stale && res != nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("refresh did not survive caller cancellation")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got := f.callCount("lot-42"); got != 1 {
		t.Errorf("scrapes = %d, want 1 (cancellation must not restart the refresh)", got)
	}
}

func TestResolveDistinctKeysRefreshIndependently(t *testing.T) {
	f := newCountingFetcher()
	co := newTestCoordinator(t, f)

	keys := []string{"lot-1", "lot-2", "lot-3", "lot-4", "lot-5"}
	var wg sync.WaitGroup
	for _, key := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := co.Resolve(context.Background(), target(key, time.Minute)); err != nil {
				t.Errorf("Resolve(%s): %v", key, err)
			}
		}()
	}
	wg.Wait()

	for _, key := range keys {
		if got := f.callCount(key); got != 1 {
			t.Errorf("scrapes for %s = %d, want 1", key, got)
		}
	}
}

func TestStatus(t *testing.T) {
	f := newCountingFetcher()
	co := newTestCoordinator(t, f)

	if _, _, cached := co.Status("lot-42"); cached {
		t.Error("Status before any resolve should report uncached")
	}

	if _, _, err := co.Resolve(context.Background(), target("lot-42", time.Minute)); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	asOf, stale, cached := co.Status("lot-42")
	if !cached || stale {
		t.Errorf("Status = (cached=%v, stale=%v), want cached fresh", cached, stale)
	}
	if asOf.IsZero() {
		t.Error("Status asOf should carry the extraction time")
	}
	if got := f.callCount("lot-42"); got != 1 {
		t.Errorf("Status must not trigger scrapes; scrapes = %d", got)
	}
}
