// Package cache stores enrichment results by record identity with a TTL.
package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/protocol-education/school-intel/internal/model"
)

// Backend is the durable key/value layer behind the cache. store.Store
// satisfies it.
type Backend interface {
	GetEntry(ctx context.Context, key string) (*model.CacheEntry, error)
	PutEntry(ctx context.Context, entry model.CacheEntry) error
	DeleteEntry(ctx context.Context, key string) error
	CountEntries(ctx context.Context, now time.Time) (int, error)
	DeleteAllEntries(ctx context.Context) (int, error)
	DeleteExpiredEntries(ctx context.Context, now time.Time) (int, error)
	LoadCounters(ctx context.Context) (hits, misses int64, err error)
	AddCounters(ctx context.Context, hits, misses int64) error
	ResetCounters(ctx context.Context) error
}

// Stats summarises cache contents and effectiveness.
type Stats struct {
	Entries int     `json:"entries"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Cache is the result cache. A miss is a nil result with a nil error; errors
// are reserved for backend failures.
type Cache struct {
	backend Backend
	ttl     time.Duration

	// Counters not yet flushed to the backend.
	hits   atomic.Int64
	misses atomic.Int64

	nowFunc func() time.Time
}

// New creates a Cache with the given default TTL.
func New(backend Backend, ttl time.Duration) *Cache {
	return &Cache{backend: backend, ttl: ttl, nowFunc: time.Now}
}

// TTL returns the default time-to-live for new entries.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached result for key, or nil when the key is absent or
// expired. Expired entries are left in place for Stale and Purge.
func (c *Cache) Get(ctx context.Context, key string) (*model.EnrichmentResult, error) {
	e, err := c.backend.GetEntry(ctx, key)
	if err != nil {
		return nil, eris.Wrap(err, "cache: get")
	}
	if e == nil || e.Expired(c.nowFunc()) {
		c.misses.Add(1)
		return nil, nil
	}
	res, err := decode(e)
	if err != nil {
		// A payload from an incompatible build is treated as absent.
		zap.L().Warn("cache: undecodable entry", zap.String("key", key), zap.Error(err))
		c.misses.Add(1)
		return nil, nil
	}
	c.hits.Add(1)
	return res, nil
}

// Stale returns the entry for key even if it has expired. It does not count
// towards hit rate.
func (c *Cache) Stale(ctx context.Context, key string) (*model.EnrichmentResult, error) {
	e, err := c.backend.GetEntry(ctx, key)
	if err != nil {
		return nil, eris.Wrap(err, "cache: get stale")
	}
	if e == nil {
		return nil, nil
	}
	res, err := decode(e)
	if err != nil {
		return nil, nil
	}
	return res, nil
}

func decode(e *model.CacheEntry) (*model.EnrichmentResult, error) {
	var res model.EnrichmentResult
	if err := json.Unmarshal(e.Payload, &res); err != nil {
		return nil, eris.Wrap(err, "cache: decode payload")
	}
	created := e.CreatedAt
	res.CachedAt = &created
	res.CacheKey = e.Key
	return &res, nil
}

// Put stores value under key, replacing any existing entry. A ttl of zero
// uses the cache default.
func (c *Cache) Put(ctx context.Context, key string, value *model.EnrichmentResult, ttl time.Duration) error {
	if value == nil {
		return eris.New("cache: nil value")
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return eris.Wrap(err, "cache: encode payload")
	}
	err = c.backend.PutEntry(ctx, model.CacheEntry{
		Key:        key,
		Payload:    payload,
		CreatedAt:  c.nowFunc().UTC(),
		TTLSeconds: int(ttl / time.Second),
	})
	return eris.Wrap(err, "cache: put")
}

// Invalidate removes key. Removing an absent key is not an error.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return eris.Wrap(c.backend.DeleteEntry(ctx, key), "cache: invalidate")
}

// Stats reports live entries and the hit rate across all processes that
// share the backend, including this one's unflushed counters.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	n, err := c.backend.CountEntries(ctx, c.nowFunc())
	if err != nil {
		return Stats{}, eris.Wrap(err, "cache: count")
	}
	hits, misses, err := c.backend.LoadCounters(ctx)
	if err != nil {
		return Stats{}, eris.Wrap(err, "cache: load counters")
	}
	hits += c.hits.Load()
	misses += c.misses.Load()

	st := Stats{Entries: n, Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		st.HitRate = float64(hits) / float64(total)
	}
	return st, nil
}

// Clear removes every entry and resets the counters.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	n, err := c.backend.DeleteAllEntries(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "cache: clear")
	}
	c.hits.Store(0)
	c.misses.Store(0)
	if err := c.backend.ResetCounters(ctx); err != nil {
		return n, eris.Wrap(err, "cache: reset counters")
	}
	return n, nil
}

// Purge removes expired entries.
func (c *Cache) Purge(ctx context.Context) (int, error) {
	n, err := c.backend.DeleteExpiredEntries(ctx, c.nowFunc())
	return n, eris.Wrap(err, "cache: purge")
}

// Flush persists hit/miss counts accumulated since the last flush.
func (c *Cache) Flush(ctx context.Context) error {
	hits := c.hits.Swap(0)
	misses := c.misses.Swap(0)
	if hits == 0 && misses == 0 {
		return nil
	}
	if err := c.backend.AddCounters(ctx, hits, misses); err != nil {
		c.hits.Add(hits)
		c.misses.Add(misses)
		return eris.Wrap(err, "cache: flush counters")
	}
	return nil
}
