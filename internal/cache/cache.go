// Package cache provides the generic TTL-bounded in-memory map used
// throughout the engine: SecretStore, ImportSession, ConfirmationCache,
// BalanceSnapshot, RateLimitEntry and OperationLock are all instances of
// this shape, each with its own sweep/eviction policy layered on top.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// Config tunes the default TTL and the periodic reaper interval.
type Config struct {
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
}

func defaultConfig() Config {
	return Config{DefaultTTL: 5 * time.Minute, CleanupInterval: 5 * time.Minute}
}

// Cache is a TTL-bounded string-keyed map with lazy on-touch expiry and a
// periodic reaper goroutine. The zero value is not usable; use New.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	cfg     Config
	stop    chan struct{}
	once    sync.Once
}

// New starts a Cache with its background reaper running.
func New(cfg Config) *Cache {
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = defaultConfig().DefaultTTL
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = defaultConfig().CleanupInterval
	}
	c := &Cache{
		entries: make(map[string]entry),
		cfg:     cfg,
		stop:    make(chan struct{}),
	}
	go c.reapLoop()
	return c
}

func (c *Cache) reapLoop() {
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Reap(time.Now())
		case <-c.stop:
			return
		}
	}
}

// Stop terminates the background reaper. Safe to call multiple times.
func (c *Cache) Stop() {
	c.once.Do(func() { close(c.stop) })
}

// Reap removes every entry expired as of now; used by the periodic loop and
// directly by tests.
func (c *Cache) Reap(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Set stores value under key with ttl (or the cache's default if ttl==0).
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.cfg.DefaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
}

// Get returns the value for key, with lazy expiry: an expired entry is
// deleted and reported as absent.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !time.Now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Take atomically gets-and-deletes key, so at most one concurrent caller
// ever observes a given entry. Returns false if absent or expired.
func (c *Cache) Take(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	delete(c.entries, key)
	if !time.Now().Before(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Delete removes key unconditionally.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len reports the current entry count, including not-yet-reaped expired
// entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
