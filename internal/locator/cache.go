package locator

import (
	"time"

	"github.com/wintrack/wintrack/internal/platform"
)

// cacheEntry is one remembered sighting of a target process.
type cacheEntry struct {
	Name        string
	Handle      platform.Handle
	Title       string
	Path        string
	LastSeen    time.Time
	Reliability float64
}

// processCache remembers recently seen targets, keyed by the search pattern
// that found them so the fast path matches exactly what the next search asks
// for. Not self-locking: owned by the locator and guarded by its mutex.
type processCache struct {
	entries  map[string]*cacheEntry
	byHandle map[platform.Handle]string
}

func newProcessCache() *processCache {
	return &processCache{
		entries:  make(map[string]*cacheEntry),
		byHandle: make(map[platform.Handle]string),
	}
}

// upsert records a confirmed sighting and bumps reliability. Stale entries
// are purged on every update.
func (c *processCache) upsert(name string, h platform.Handle, title, path string, now time.Time) {
	e, ok := c.entries[name]
	if ok {
		delete(c.byHandle, e.Handle)
		e.Handle = h
		e.Title = title
		e.Path = path
		e.LastSeen = now
		e.Reliability = min(1.0, e.Reliability+ReliabilityGain)
	} else {
		e = &cacheEntry{
			Name:        name,
			Handle:      h,
			Title:       title,
			Path:        path,
			LastSeen:    now,
			Reliability: ReliabilityStart,
		}
		c.entries[name] = e
	}
	c.byHandle[h] = name
	c.purge(now)
}

// markFailure lowers reliability for a cached target that failed to match.
func (c *processCache) markFailure(name string, now time.Time) {
	e, ok := c.entries[name]
	if !ok {
		return
	}
	e.Reliability = max(0.0, e.Reliability-ReliabilityLoss)
	c.purge(now)
}

// purge drops entries not seen within CacheTTL.
func (c *processCache) purge(now time.Time) {
	for name, e := range c.entries {
		if now.Sub(e.LastSeen) > CacheTTL {
			delete(c.byHandle, e.Handle)
			delete(c.entries, name)
		}
	}
}

func (c *processCache) get(name string) (*cacheEntry, bool) {
	e, ok := c.entries[name]
	return e, ok
}

func (c *processCache) clear() {
	clear(c.entries)
	clear(c.byHandle)
}

func (c *processCache) size() int {
	return len(c.entries)
}
