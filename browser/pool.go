package browser

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openlot/lotwatch/config"
	"github.com/openlot/lotwatch/models"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("browser: pool closed")

// Lease is a session checked out of the pool, with health bookkeeping.
// A lease belongs to exactly one extraction attempt; callers must hand
// it back via Pool.Release on every exit path.
type Lease struct {
	id      int64
	sess    Session
	created time.Time

	mu       sync.Mutex
	useCount int
	errScore float64
}

// Session returns the leased browser session.
func (l *Lease) Session() Session {
	return l.sess
}

func (l *Lease) recordSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.useCount++
	l.errScore = max(0, l.errScore-0.5)
}

func (l *Lease) recordFailure() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.useCount++
	l.errScore += 1.0
}

// shouldRetire reports whether the session has accumulated too many
// errors, uses or hours to be trusted for another extraction.
func (l *Lease) shouldRetire(maxUses int, maxAge time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.errScore >= 3.0 {
		return true
	}
	if maxUses > 0 && l.useCount >= maxUses {
		return true
	}
	if maxAge > 0 && time.Since(l.created) >= maxAge {
		return true
	}
	return false
}

// Pool maintains a fixed set of live browser sessions. Acquire blocks on a
// channel (no spinning) until an idle session frees up, the acquire timeout
// elapses, or the caller's context is cancelled. Retired sessions are
// destroyed and replaced so the pool stays at capacity.
type Pool struct {
	engine Engine
	cfg    config.PoolConfig

	idle   chan *Lease
	mu     sync.Mutex
	live   map[int64]*Lease
	nextID atomic.Int64
	leased atomic.Int32
	closed chan struct{}
	once   sync.Once
}

// NewPool pre-creates cfg.Size sessions. Failing to create any of them is
// a startup error: a short pool would silently lower the concurrency limit.
func NewPool(engine Engine, cfg config.PoolConfig) (*Pool, error) {
	if cfg.Size < 1 {
		cfg.Size = 1
	}

	p := &Pool{
		engine: engine,
		cfg:    cfg,
		idle:   make(chan *Lease, cfg.Size),
		live:   make(map[int64]*Lease),
		closed: make(chan struct{}),
	}

	for i := 0; i < cfg.Size; i++ {
		l, err := p.createLease(context.Background())
		if err != nil {
			p.Close()
			return nil, err
		}
		p.idle <- l
	}
	slog.Info("session pool ready", "size", cfg.Size)

	return p, nil
}

// Acquire hands out an idle session. It fails with POOL_TIMEOUT once the
// configured wait elapses, so callers can classify the failure as transient
// and retry with backoff.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case l := <-p.idle:
		p.leased.Add(1)
		return l, nil
	case <-timer.C:
		return nil, models.NewScrapeError(models.ErrCodePoolTimeout,
			"no browser session available within the acquire timeout", nil)
	case <-ctx.Done():
		return nil, models.NewScrapeError(models.ErrCodePoolTimeout,
			"gave up waiting for a browser session", ctx.Err())
	case <-p.closed:
		return nil, ErrPoolClosed
	}
}

// Release returns a session to the idle set. Unhealthy or worn-out
// sessions are destroyed and replaced rather than reused, so one bad
// session cannot poison later extractions.
func (p *Pool) Release(l *Lease, ok bool) {
	p.leased.Add(-1)

	if ok {
		l.recordSuccess()
	} else {
		l.recordFailure()
	}

	select {
	case <-p.closed:
		p.destroyLease(l)
		return
	default:
	}

	if l.shouldRetire(p.cfg.SessionMaxUses, p.cfg.SessionMaxAge) {
		slog.Debug("retiring session", "id", l.id,
			"useCount", l.useCount, "errScore", l.errScore)
		p.destroyLease(l)
		go p.replace()
		return
	}

	if r, canReset := l.sess.(interface{ Reset() }); canReset {
		r.Reset()
	}
	p.idle <- l
}

// Stats returns a snapshot of the pool's current state.
func (p *Pool) Stats() models.PoolStats {
	return models.PoolStats{
		Capacity: p.cfg.Size,
		Leased:   int(p.leased.Load()),
	}
}

// Close stops the pool and destroys every tracked session. Sessions still
// leased are destroyed when their callers release them.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.closed) })

drain:
	for {
		select {
		case l := <-p.idle:
			p.destroyLease(l)
		default:
			break drain
		}
	}

	p.mu.Lock()
	remaining := make([]*Lease, 0, len(p.live))
	for _, l := range p.live {
		remaining = append(remaining, l)
	}
	p.mu.Unlock()
	for _, l := range remaining {
		p.destroyLease(l)
	}
}

func (p *Pool) createLease(ctx context.Context) (*Lease, error) {
	sess, err := p.engine.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	l := &Lease{
		id:      p.nextID.Add(1),
		sess:    sess,
		created: time.Now(),
	}
	p.mu.Lock()
	p.live[l.id] = l
	p.mu.Unlock()
	return l, nil
}

func (p *Pool) destroyLease(l *Lease) {
	p.mu.Lock()
	delete(p.live, l.id)
	p.mu.Unlock()
	if err := l.sess.Close(); err != nil {
		slog.Warn("failed to close session", "id", l.id, "error", err)
	}
}

// replace restores the pool to capacity after a retirement. Session
// creation can fail while the browser is struggling, so it retries a few
// times before giving up and leaving the pool short.
func (p *Pool) replace() {
	for attempt := 1; attempt <= 3; attempt++ {
		select {
		case <-p.closed:
			return
		default:
		}

		l, err := p.createLease(context.Background())
		if err == nil {
			select {
			case p.idle <- l:
			case <-p.closed:
				p.destroyLease(l)
			}
			return
		}
		slog.Warn("failed to replace retired session", "attempt", attempt, "error", err)
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	slog.Error("session pool running below capacity: replacement failed")
}
