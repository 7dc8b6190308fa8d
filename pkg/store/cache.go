package store

import (
	"sync"
	"time"
)

// CellCache is an in-memory, string-keyed cache of bounding-box query
// results. The candidate provider consults it before falling back to a
// fresh SQL round trip, keying each entry by a radius-sized spatial tile so
// consecutive observations along a trace that fall in the same tile reuse
// one query.
type CellCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]cellEntry
}

type cellEntry struct {
	segments []Segment
	expires  time.Time
}

// NewCellCache creates a cache whose entries expire after ttl. A zero or
// negative ttl disables caching (every Get is a miss).
func NewCellCache(ttl time.Duration) *CellCache {
	return &CellCache{
		ttl:     ttl,
		entries: make(map[string]cellEntry),
	}
}

// Get returns the cached segments for cellID, if present and not expired.
func (c *CellCache) Get(cellID string) ([]Segment, bool) {
	if c.ttl <= 0 || cellID == "" {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[cellID]
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	return e.segments, true
}

// Set stores segments for cellID.
func (c *CellCache) Set(cellID string, segments []Segment) {
	if c.ttl <= 0 || cellID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cellID] = cellEntry{
		segments: segments,
		expires:  time.Now().Add(c.ttl),
	}
}

// Prune removes all expired entries, returning the number removed.
func (c *CellCache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}
