package llm

import (
	"context"
	"sync"
	"time"
)

// DefaultAvailabilityTTL caches health-probe results so a burst of
// requests does not turn into a probe storm.
const DefaultAvailabilityTTL = time.Second

// DefaultProbeTimeout bounds one availability probe.
const DefaultProbeTimeout = 5 * time.Second

type availabilityEntry struct {
	available bool
	checkedAt time.Time
}

// availabilityCache memoizes Backend.IsAvailable per backend id.
type availabilityCache struct {
	mu      sync.Mutex
	entries map[string]availabilityEntry
	ttl     time.Duration
}

func newAvailabilityCache(ttl time.Duration) *availabilityCache {
	if ttl <= 0 {
		ttl = DefaultAvailabilityTTL
	}
	return &availabilityCache{
		entries: make(map[string]availabilityEntry),
		ttl:     ttl,
	}
}

// check returns the cached result when fresh, otherwise probes the
// backend with a bounded timeout and caches the outcome.
func (c *availabilityCache) check(ctx context.Context, backend Backend) bool {
	id := backend.Name()

	c.mu.Lock()
	if e, ok := c.entries[id]; ok && time.Since(e.checkedAt) < c.ttl {
		c.mu.Unlock()
		return e.available
	}
	c.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, DefaultProbeTimeout)
	available := backend.IsAvailable(probeCtx)
	cancel()

	c.mu.Lock()
	c.entries[id] = availabilityEntry{available: available, checkedAt: time.Now()}
	c.mu.Unlock()
	return available
}

func (c *availabilityCache) invalidate(backendID string) {
	c.mu.Lock()
	delete(c.entries, backendID)
	c.mu.Unlock()
}
