package cache

import (
	"sync"
	"time"

	"tickflow/internal/models"
	"tickflow/logger"
)

// DefaultTTL bounds how long a cached price is considered current.
const DefaultTTL = 5 * time.Minute

// PriceCache is a concurrent TTL-bounded map from canonical symbol to the
// latest observed tick. Upserts capture the replaced price so consumers can
// compute deltas without a second lookup. Expired entries are hidden from Get
// but only removed by Sweep.
type PriceCache struct {
	mu      sync.RWMutex
	entries map[string]models.CacheEntry
	ttl     time.Duration
	log     *logger.Log

	// now is swapped in tests to control TTL expiry.
	now func() time.Time
}

// New creates an empty cache. A non-positive ttl falls back to DefaultTTL.
func New(ttl time.Duration) *PriceCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PriceCache{
		entries: make(map[string]models.CacheEntry),
		ttl:     ttl,
		log:     logger.GetLogger(),
		now:     time.Now,
	}
}

// TTL reports the configured time-to-live.
func (c *PriceCache) TTL() time.Duration {
	return c.ttl
}

// Upsert replaces the entry for the tick's symbol, recording the previous
// price in the new entry.
func (c *PriceCache) Upsert(tick models.PriceTick) {
	c.mu.Lock()
	c.apply(tick)
	c.mu.Unlock()
}

// BatchUpsert applies all ticks under a single lock acquisition so readers
// never observe a partial batch.
func (c *PriceCache) BatchUpsert(ticks []models.PriceTick) {
	if len(ticks) == 0 {
		return
	}
	c.mu.Lock()
	for _, tick := range ticks {
		c.apply(tick)
	}
	c.mu.Unlock()
}

// apply assumes the write lock is held.
func (c *PriceCache) apply(tick models.PriceTick) {
	if tick.Symbol == "" || tick.Price <= 0 {
		return
	}
	entry := models.CacheEntry{
		Symbol:      tick.Symbol,
		Price:       tick.Price,
		TimestampMs: tick.TimestampMs,
	}
	if prev, ok := c.entries[tick.Symbol]; ok {
		entry.PreviousPrice = prev.Price
		entry.HasPrevious = true
	}
	c.entries[tick.Symbol] = entry
}

// Get returns the entry for symbol. Entries older than the TTL report
// not-found but are left in place for Sweep to collect.
func (c *PriceCache) Get(symbol string) (models.CacheEntry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[symbol]
	c.mu.RUnlock()

	if !ok {
		return models.CacheEntry{}, false
	}
	if c.expired(entry, c.now()) {
		return models.CacheEntry{}, false
	}
	return entry, true
}

// GetAll returns a snapshot of all entries, optionally including expired ones.
func (c *PriceCache) GetAll(includeExpired bool) []models.CacheEntry {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.CacheEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		if !includeExpired && c.expired(entry, now) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// Sweep removes entries older than the TTL and returns how many were removed.
// Intended to run on a fixed interval from the owning loop.
func (c *PriceCache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for symbol, entry := range c.entries {
		if c.expired(entry, now) {
			delete(c.entries, symbol)
			removed++
		}
	}
	if removed > 0 {
		c.log.WithComponent("price_cache").WithFields(logger.Fields{
			"removed":   removed,
			"remaining": len(c.entries),
		}).Debug("swept expired price entries")
	}
	return removed
}

// Clear drops all entries.
func (c *PriceCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]models.CacheEntry)
	c.mu.Unlock()
}

// Len reports the number of stored entries, expired ones included.
func (c *PriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *PriceCache) expired(entry models.CacheEntry, now time.Time) bool {
	return now.UnixMilli()-entry.TimestampMs > c.ttl.Milliseconds()
}
