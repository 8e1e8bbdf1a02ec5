// Package cache stores the latest successful extraction per target key.
// Staleness is tracked per entry against the target's TTL; entries nobody
// reads are evicted by a background sweep to bound memory.
package cache

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/openlot/lotwatch/models"
)

// Entry is one cached extraction with its expiry.
type Entry struct {
	// Result is the last successful extraction for the key.
	Result *models.ExtractionResult

	// ExpiresAt is when the entry turns stale.
	ExpiresAt time.Time

	lastRead atomic.Int64 // unix nano of the most recent read
}

// Stale reports whether the entry is past its TTL. Stale entries are
// still servable; the coordinator pairs a stale read with a refresh.
func (e *Entry) Stale() bool {
	return time.Now().After(e.ExpiresAt)
}

func (e *Entry) touch() {
	e.lastRead.Store(time.Now().UnixNano())
}

func (e *Entry) idleSince() time.Time {
	return time.Unix(0, e.lastRead.Load())
}

// Cache is the in-process result cache, LRU-bounded by entry count with
// idle-based eviction on top. Safe for concurrent use.
type Cache struct {
	store   *lru.Cache[string, *Entry]
	idleTTL time.Duration
	done    chan struct{}
}

// New creates a Cache capped at maxEntries. A background goroutine evicts
// entries not read within idleTTL, checking every sweepInterval.
func New(maxEntries int, idleTTL, sweepInterval time.Duration) (*Cache, error) {
	store, err := lru.New[string, *Entry](maxEntries)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		store:   store,
		idleTTL: idleTTL,
		done:    make(chan struct{}),
	}
	if idleTTL > 0 && sweepInterval > 0 {
		go c.sweepLoop(sweepInterval)
	}
	return c, nil
}

// Get returns the entry for key, marking it as read.
func (c *Cache) Get(key string) (*Entry, bool) {
	e, ok := c.store.Get(key)
	if !ok {
		return nil, false
	}
	e.touch()
	return e, true
}

// Peek returns the entry for key without refreshing its idle clock or
// LRU position. Used by listings and status probes.
func (c *Cache) Peek(key string) (*Entry, bool) {
	return c.store.Peek(key)
}

// Put stores a fresh result for key with the given TTL.
func (c *Cache) Put(key string, res *models.ExtractionResult, ttl time.Duration) {
	e := &Entry{
		Result:    res,
		ExpiresAt: time.Now().Add(ttl),
	}
	e.touch()
	c.store.Add(key, e)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.store.Len()
}

// Stop halts the idle-eviction loop.
func (c *Cache) Stop() {
	close(c.done)
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep drops entries whose last read is older than the idle TTL.
func (c *Cache) sweep() {
	cutoff := time.Now().Add(-c.idleTTL)
	for _, key := range c.store.Keys() {
		if e, ok := c.store.Peek(key); ok && e.idleSince().Before(cutoff) {
			c.store.Remove(key)
		}
	}
}
