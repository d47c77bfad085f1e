package cache

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Default TTLs per data class. Added to time.Now() when storing.
const (
	TTLQuote         = 10 * time.Minute // current price snapshots
	TTLSearchResults = time.Hour        // symbol search results
	TTLCacheStats    = time.Minute      // cache statistics responses
)

// DefaultSweepInterval is how often the background sweep removes expired
// entries when none is configured.
const DefaultSweepInterval = 5 * time.Minute

// lockTableThreshold is the size above which the sweep reclaims per-key locks
// whose backing entry is gone.
const lockTableThreshold = 1024

type entry struct {
	value      any
	owner      string
	createdAt  time.Time
	expiresAt  time.Time
	lastAccess time.Time
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Metrics are cumulative counters for cache activity.
type Metrics struct {
	Hits           int64 `json:"hits"`
	Misses         int64 `json:"misses"`
	Sets           int64 `json:"sets"`
	Invalidations  int64 `json:"invalidations"`
	Sweeps         int64 `json:"sweeps"`
	EntriesCleaned int64 `json:"entries_cleaned"`
}

// TTLCache is a process-wide key/value cache with per-entry expiry, lazy
// removal on read, a background sweep, and per-key locks so that a
// miss-then-fetch-then-set sequence runs at most once per key.
type TTLCache struct {
	mu      sync.RWMutex
	entries map[string]*entry

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	defaultTTL    time.Duration
	sweepInterval time.Duration

	hits           atomic.Int64
	misses         atomic.Int64
	sets           atomic.Int64
	invalidations  atomic.Int64
	sweeps         atomic.Int64
	entriesCleaned atomic.Int64

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a cache. Set and GetOrLoad fall back to defaultTTL when called
// with a zero TTL.
func New(defaultTTL, sweepInterval time.Duration) *TTLCache {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &TTLCache{
		entries:       make(map[string]*entry),
		locks:         make(map[string]*sync.Mutex),
		defaultTTL:    defaultTTL,
		sweepInterval: sweepInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// lockKey locks and returns the per-key mutex, creating it on first touch.
// The caller must Unlock it. After acquiring, it re-checks that the mutex it
// holds is still the one in the table: the sweep may have reclaimed it between
// lookup and lock, in which case holding it guards nothing and we retry.
func (c *TTLCache) lockKey(key string) *sync.Mutex {
	for {
		c.lockMu.Lock()
		l, ok := c.locks[key]
		if !ok {
			l = &sync.Mutex{}
			c.locks[key] = l
		}
		c.lockMu.Unlock()

		l.Lock()
		c.lockMu.Lock()
		live := c.locks[key] == l
		c.lockMu.Unlock()
		if live {
			return l
		}
		l.Unlock()
	}
}

// Get returns the cached value for key. An expired entry is removed lazily
// and counts as a miss.
func (c *TTLCache) Get(key string) (any, bool) {
	l := c.lockKey(key)
	defer l.Unlock()

	now := time.Now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if e.expired(now) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}

	e.lastAccess = now
	c.hits.Add(1)
	return e.value, true
}

// Set stores value under key. A zero ttl uses the cache default; setting an
// existing key refreshes its expiry.
func (c *TTLCache) Set(key string, value any, ttl time.Duration) {
	c.SetOwned(key, value, ttl, "")
}

// SetOwned stores value tagged with an owner, so InvalidateOwner can later
// drop everything that owner put in.
func (c *TTLCache) SetOwned(key string, value any, ttl time.Duration, owner string) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := time.Now()

	l := c.lockKey(key)
	defer l.Unlock()

	c.mu.Lock()
	c.entries[key] = &entry{
		value:      value,
		owner:      owner,
		createdAt:  now,
		expiresAt:  now.Add(ttl),
		lastAccess: now,
	}
	c.mu.Unlock()
	c.sets.Add(1)
}

// GetOrLoad returns the cached value for key or runs loader and caches its
// result. The per-key lock guarantees at most one loader runs per key under
// concurrent callers.
func (c *TTLCache) GetOrLoad(key string, ttl time.Duration, loader func() (any, error)) (any, error) {
	l := c.lockKey(key)
	defer l.Unlock()

	now := time.Now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && !e.expired(now) {
		e.lastAccess = now
		c.hits.Add(1)
		return e.value, nil
	}
	c.misses.Add(1)

	value, err := loader()
	if err != nil {
		return nil, err
	}

	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	c.entries[key] = &entry{
		value:      value,
		createdAt:  now,
		expiresAt:  now.Add(ttl),
		lastAccess: now,
	}
	c.mu.Unlock()
	c.sets.Add(1)

	return value, nil
}

// Invalidate removes entries whose key starts with prefix. An empty prefix
// removes everything. Returns the number of entries removed.
func (c *TTLCache) Invalidate(prefix string) int {
	return c.invalidate(func(key string, e *entry) bool {
		return prefix == "" || strings.HasPrefix(key, prefix)
	})
}

// InvalidateOwner removes all entries stored by owner.
func (c *TTLCache) InvalidateOwner(owner string) int {
	return c.invalidate(func(key string, e *entry) bool {
		return e.owner == owner
	})
}

func (c *TTLCache) invalidate(match func(string, *entry) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if match(key, e) {
			delete(c.entries, key)
			removed++
		}
	}
	c.invalidations.Add(int64(removed))
	return removed
}

// StartSweep launches the background expiry sweep. Stop waits for it to exit.
func (c *TTLCache) StartSweep() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.sweep(time.Now())
			}
		}
	}()
}

// Stop shuts the sweep down and waits for it to finish.
func (c *TTLCache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	if c.started.Load() {
		<-c.done
	}
}

func (c *TTLCache) sweep(now time.Time) {
	c.mu.Lock()
	cleaned := 0
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			cleaned++
		}
	}
	c.mu.Unlock()

	c.sweeps.Add(1)
	c.entriesCleaned.Add(int64(cleaned))

	c.reclaimLocks()
}

// reclaimLocks drops per-key locks whose entry is gone once the lock table
// has grown past the threshold. A lock is only removed when TryLock succeeds:
// a held lock belongs to an in-flight loader whose entry simply is not written
// yet, and dropping it would let a second loader run for the same key.
func (c *TTLCache) reclaimLocks() {
	c.lockMu.Lock()
	defer c.lockMu.Unlock()
	if len(c.locks) <= lockTableThreshold {
		return
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for key, l := range c.locks {
		if _, live := c.entries[key]; live {
			continue
		}
		if l.TryLock() {
			delete(c.locks, key)
			l.Unlock()
		}
	}
}

// Len returns the number of live entries, expired or not.
func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Metrics returns a snapshot of the cache counters.
func (c *TTLCache) Metrics() Metrics {
	return Metrics{
		Hits:           c.hits.Load(),
		Misses:         c.misses.Load(),
		Sets:           c.sets.Load(),
		Invalidations:  c.invalidations.Load(),
		Sweeps:         c.sweeps.Load(),
		EntriesCleaned: c.entriesCleaned.Load(),
	}
}
