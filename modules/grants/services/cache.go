package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fsystem/portal/modules/grants/domain/pool"
)

// PoolCache stores computed pool reports. Invalidate drops the given cycles
// and the all-open-cycles report.
type PoolCache interface {
	Get(ctx context.Context, key string) (pool.Report, bool, error)
	Set(ctx context.Context, key string, r pool.Report) error
	Invalidate(ctx context.Context, cycleIDs ...uuid.UUID) error
}

const openCyclesKey = "open"

func PoolCacheKey(cycleID *uuid.UUID) string {
	if cycleID == nil {
		return openCyclesKey
	}
	return "cycle:" + cycleID.String()
}

type NopPoolCache struct{}

func (NopPoolCache) Get(context.Context, string) (pool.Report, bool, error) {
	return pool.Report{}, false, nil
}
func (NopPoolCache) Set(context.Context, string, pool.Report) error  { return nil }
func (NopPoolCache) Invalidate(context.Context, ...uuid.UUID) error { return nil }

type memoryEntry struct {
	report  pool.Report
	expires time.Time
}

// MemoryPoolCache is a process local PoolCache with a fixed TTL.
type MemoryPoolCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

func NewMemoryPoolCache(ttl time.Duration) *MemoryPoolCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MemoryPoolCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (c *MemoryPoolCache) Get(_ context.Context, key string) (pool.Report, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expires) {
		return pool.Report{}, false, nil
	}
	return e.report, true, nil
}

func (c *MemoryPoolCache) Set(_ context.Context, key string, r pool.Report) error {
	if key == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{report: r, expires: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryPoolCache) Invalidate(_ context.Context, cycleIDs ...uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, openCyclesKey)
	for _, id := range cycleIDs {
		delete(c.entries, PoolCacheKey(&id))
	}
	return nil
}
