package folders

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jellydator/ttlcache/v3"
	"github.com/maruel/natural"

	"github.com/certdesk/certdesk/logging"
	"github.com/certdesk/certdesk/metrics"
)

const (
	DefaultTTL              = 30 * time.Minute
	DefaultResolvedCapacity = 1000
	DefaultChildrenCapacity = 100
	DefaultSweepInterval    = 5 * time.Minute

	tierResolved = "resolved"
	tierChildren = "children"

	// rough per-entry footprints for the memory estimate
	resolvedEntryBytes = 200
	childrenEntryBytes = 1000
)

// CacheOptions bounds the cache. A zero capacity means unbounded; zero
// durations take the defaults.
type CacheOptions struct {
	TTL              time.Duration
	ResolvedCapacity int
	ChildrenCapacity int
	SweepInterval    time.Duration
}

// DefaultCacheOptions returns the bounded defaults.
func DefaultCacheOptions() CacheOptions {
	return CacheOptions{
		TTL:              DefaultTTL,
		ResolvedCapacity: DefaultResolvedCapacity,
		ChildrenCapacity: DefaultChildrenCapacity,
		SweepInterval:    DefaultSweepInterval,
	}
}

// CacheEntry wraps a cached value with its bookkeeping.
type CacheEntry[T any] struct {
	Value          T
	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int

	// order of the last access within the tier, breaks LastAccessedAt ties
	accessSeq uint64
}

func (e *CacheEntry[T]) expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.CreatedAt) > ttl
}

// tier is one keyed map of the cache. Expiry is counted from CreatedAt, so
// reads never extend an entry's life.
type tier[T any] struct {
	name     string
	items    *ttlcache.Cache[string, *CacheEntry[T]]
	capacity int
	valid    func(T) bool
	seq      uint64
}

func newTier[T any](name string, ttl time.Duration, capacity int, valid func(T) bool) *tier[T] {
	items := ttlcache.New[string, *CacheEntry[T]](
		ttlcache.WithTTL[string, *CacheEntry[T]](ttl),
		ttlcache.WithDisableTouchOnHit[string, *CacheEntry[T]](),
	)
	items.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, _ *ttlcache.Item[string, *CacheEntry[T]]) {
		if reason == ttlcache.EvictionReasonExpired {
			metrics.RecordCacheEviction(name, "expired")
		}
	})
	return &tier[T]{name: name, items: items, capacity: capacity, valid: valid}
}

func (t *tier[T]) get(key string, now time.Time, ttl time.Duration) (T, bool) {
	var zero T
	item := t.items.Get(key)
	if item == nil {
		// Drop an entry the library already considers expired.
		before := t.items.Len()
		t.items.Delete(key)
		if t.items.Len() < before {
			metrics.RecordCacheEviction(t.name, "expired")
		}
		metrics.RecordCacheLookup(t.name, false)
		return zero, false
	}

	e := item.Value()
	if e == nil || e.expired(now, ttl) {
		t.items.Delete(key)
		metrics.RecordCacheEviction(t.name, "expired")
		metrics.RecordCacheLookup(t.name, false)
		return zero, false
	}
	if !t.valid(e.Value) {
		logging.Sub("cache").Warn("dropping malformed cache entry", "tier", t.name, "key", key)
		t.items.Delete(key)
		metrics.RecordCacheEviction(t.name, "malformed")
		metrics.RecordCacheLookup(t.name, false)
		return zero, false
	}

	t.seq++
	e.LastAccessedAt = now
	e.accessSeq = t.seq
	e.AccessCount++
	metrics.RecordCacheLookup(t.name, true)
	return e.Value, true
}

func (t *tier[T]) set(key string, value T, now time.Time) {
	t.seq++
	t.items.Set(key, &CacheEntry[T]{
		Value:          value,
		CreatedAt:      now,
		LastAccessedAt: now,
		accessSeq:      t.seq,
	}, ttlcache.DefaultTTL)
	if n := t.evict(key); n > 0 {
		metrics.RecordCacheEviction(t.name, "capacity")
		logging.Sub("cache").Debug("evicted least recently used", "tier", t.name, "count", n)
	}
}

// evict removes the least recently accessed entries until the tier is back
// within capacity. The entry just written under keep is never chosen.
func (t *tier[T]) evict(keep string) int {
	if t.capacity <= 0 || t.items.Len() <= t.capacity {
		return 0
	}
	t.items.DeleteExpired()

	type keyed struct {
		key   string
		entry *CacheEntry[T]
	}
	items := t.items.Items()
	order := make([]keyed, 0, len(items))
	for k, it := range items {
		if k == keep {
			continue
		}
		order = append(order, keyed{key: k, entry: it.Value()})
	}
	slices.SortFunc(order, func(a, b keyed) int {
		if c := a.entry.LastAccessedAt.Compare(b.entry.LastAccessedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.entry.accessSeq, b.entry.accessSeq)
	})

	evicted := 0
	for _, o := range order {
		if t.items.Len() <= t.capacity {
			break
		}
		t.items.Delete(o.key)
		evicted++
	}
	return evicted
}

func (t *tier[T]) sweep(now time.Time, ttl time.Duration) int {
	removed := 0
	for k, it := range t.items.Items() {
		if e := it.Value(); e == nil || e.expired(now, ttl) {
			t.items.Delete(k)
			removed++
		}
	}
	before := t.items.Len()
	t.items.DeleteExpired()
	return removed + before - t.items.Len()
}

func (t *tier[T]) stats(now time.Time, ttl time.Duration) (count int, hitRate float64, anyExpired bool) {
	count = t.items.Len()
	items := t.items.Items()
	anyExpired = len(items) < count
	accesses := 0
	for _, it := range items {
		e := it.Value()
		accesses += e.AccessCount
		if e.expired(now, ttl) {
			anyExpired = true
		}
	}
	if len(items) > 0 {
		hitRate = float64(accesses) / float64(len(items))
	}
	return count, hitRate, anyExpired
}

// Cache holds resolved participant names and complete per-parent child
// listings. One Cache is shared by every resolution in the process; it is
// safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	ttl        time.Duration
	sweepEvery time.Duration
	resolved   *tier[FolderRecord]
	children   *tier[[]FolderRecord]
	lastUpdate time.Time
}

// NewCache creates an empty cache.
func NewCache(opts CacheOptions) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	return &Cache{
		ttl:        opts.TTL,
		sweepEvery: opts.SweepInterval,
		resolved:   newTier(tierResolved, opts.TTL, opts.ResolvedCapacity, FolderRecord.valid),
		children:   newTier(tierChildren, opts.TTL, opts.ChildrenCapacity, validChildren),
		lastUpdate: nowFunc(),
	}
}

func validChildren(records []FolderRecord) bool {
	for _, r := range records {
		if !r.valid() {
			return false
		}
	}
	return true
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// GetResolved returns the folder cached for a participant name. Lookups are
// case-insensitive.
func (c *Cache) GetResolved(name string) (FolderRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolved.get(nameKey(name), nowFunc(), c.ttl)
}

// SetResolved caches rec under a participant name, refreshing its age.
func (c *Cache) SetResolved(name string, rec FolderRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := nowFunc()
	c.resolved.set(nameKey(name), rec, now)
	c.lastUpdate = now
}

// GetChildren returns the complete cached child listing of parentID.
func (c *Cache) GetChildren(parentID string) ([]FolderRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	children, ok := c.children.get(parentID, nowFunc(), c.ttl)
	if !ok {
		return nil, false
	}
	return slices.Clone(children), true
}

// SetChildren caches the complete child listing of parentID.
func (c *Cache) SetChildren(parentID string, records []FolderRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := nowFunc()
	c.children.set(parentID, slices.Clone(records), now)
	c.lastUpdate = now
}

// Clear drops every entry of both tiers.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolved.items.DeleteAll()
	c.children.items.DeleteAll()
	c.lastUpdate = nowFunc()
}

// Sweep removes expired entries from both tiers and returns how many went.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := nowFunc()
	return c.resolved.sweep(now, c.ttl) + c.children.sweep(now, c.ttl)
}

// Run sweeps expired entries on a fixed interval until ctx is cancelled.
func (c *Cache) Run(ctx context.Context) {
	l := logging.Sub("cache")
	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()
	l.Debug("sweeper started", "interval", c.sweepEvery)
	for {
		select {
		case <-ctx.Done():
			l.Debug("sweeper stopped")
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				l.Info("swept expired cache entries", "removed", n)
			}
		}
	}
}

// CacheStats is a read-only snapshot of the cache.
type CacheStats struct {
	ResolvedCount    int       `json:"resolvedCount"`
	ChildrenCount    int       `json:"childrenCount"`
	ResolvedCapacity int       `json:"resolvedCapacity"`
	ChildrenCapacity int       `json:"childrenCapacity"`
	ResolvedHitRate  float64   `json:"resolvedHitRate"`
	ChildrenHitRate  float64   `json:"childrenHitRate"`
	IsAnyExpired     bool      `json:"isAnyExpired"`
	LastUpdate       time.Time `json:"lastUpdate"`
	MemoryEstimate   string    `json:"memoryUsage"`
	Status           string    `json:"status"`
}

// Stats returns a snapshot of both tiers.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := nowFunc()

	s := CacheStats{
		ResolvedCapacity: c.resolved.capacity,
		ChildrenCapacity: c.children.capacity,
		LastUpdate:       c.lastUpdate,
	}
	var rExpired, cExpired bool
	s.ResolvedCount, s.ResolvedHitRate, rExpired = c.resolved.stats(now, c.ttl)
	s.ChildrenCount, s.ChildrenHitRate, cExpired = c.children.stats(now, c.ttl)
	s.IsAnyExpired = rExpired || cExpired
	s.MemoryEstimate = humanize.Bytes(uint64(s.ResolvedCount*resolvedEntryBytes + s.ChildrenCount*childrenEntryBytes))

	switch {
	case s.IsAnyExpired:
		s.Status = "expired"
	case s.ResolvedCount+s.ChildrenCount > 0:
		s.Status = "active"
	default:
		s.Status = "empty"
	}
	return s
}

// ResolvedEntry describes one cached name for administrative listings.
type ResolvedEntry struct {
	Name        string    `json:"name"`
	FolderID    string    `json:"folderId"`
	FolderName  string    `json:"folderName"`
	CreatedAt   time.Time `json:"createdAt"`
	AccessCount int       `json:"accessCount"`
}

// Resolved lists the live resolved-name entries in natural name order.
// Listing does not count as an access.
func (c *Cache) Resolved() []ResolvedEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := nowFunc()

	var out []ResolvedEntry
	for k, it := range c.resolved.items.Items() {
		e := it.Value()
		if e == nil || e.expired(now, c.ttl) {
			continue
		}
		out = append(out, ResolvedEntry{
			Name:        k,
			FolderID:    e.Value.ID,
			FolderName:  e.Value.Name,
			CreatedAt:   e.CreatedAt,
			AccessCount: e.AccessCount,
		})
	}
	slices.SortFunc(out, func(a, b ResolvedEntry) int {
		switch {
		case natural.Less(a.Name, b.Name):
			return -1
		case natural.Less(b.Name, a.Name):
			return 1
		}
		return 0
	})
	return out
}
