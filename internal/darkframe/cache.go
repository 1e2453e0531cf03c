// Package darkframe holds the most recent dark frame per camera and decides
// when it is stale or applicable.
package darkframe

import (
	"sync"
	"time"

	"github.com/KevinKickass/OpenSkyCam/internal/capture"
	"github.com/KevinKickass/OpenSkyCam/internal/exposure"
)

// Entry is a cached dark frame and the time it was stored.
type Entry struct {
	Image     *capture.Image
	Timestamp time.Time
}

// Cache is written by the scheduler and read by the status API.
type Cache struct {
	enabled bool

	mu    sync.RWMutex
	entry *Entry
}

func NewCache(enabled bool) *Cache {
	return &Cache{enabled: enabled}
}

func (c *Cache) Enabled() bool {
	return c.enabled
}

// NeedsRefresh is true when nothing is cached or now - timestamp > interval.
func (c *Cache) NeedsRefresh(now time.Time, interval time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.entry == nil {
		return true
	}
	return now.Sub(c.entry.Timestamp) > interval
}

// Refresh replaces the cached frame. The timestamp is the frame's own
// capture time.
func (c *Cache) Refresh(img *capture.Image) {
	entry := &Entry{Image: img, Timestamp: img.Timestamp}

	c.mu.Lock()
	c.entry = entry
	c.mu.Unlock()
}

// ApplicableFor returns the dark frame only for an unramped exposure on a
// camera with dark subtraction enabled. The nominal is rounded to the
// exposure grid before comparing.
func (c *Cache) ApplicableFor(compensated, nominal float64) (*capture.Image, bool) {
	if !c.enabled || compensated != exposure.Round(nominal) {
		return nil, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.entry == nil {
		return nil, false
	}
	return c.entry.Image, true
}

// Age is the time since the cached frame was taken, false when empty.
func (c *Cache) Age(now time.Time) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.entry == nil {
		return 0, false
	}
	return now.Sub(c.entry.Timestamp), true
}

// Entry returns a copy of the cached entry.
func (c *Cache) Entry() (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.entry == nil {
		return Entry{}, false
	}
	return *c.entry, true
}
