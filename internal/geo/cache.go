package geo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hawkroute/internal/model"
)

// Cache stores oracle legs keyed by a rounded origin/destination pair.
type Cache interface {
	Get(ctx context.Context, key string) (Leg, bool)
	Set(ctx context.Context, key string, leg Leg, ttl time.Duration)
}

// CacheKey rounds both ends to 5 decimals (~1 m).
func CacheKey(a, b model.Coordinate) string {
	return fmt.Sprintf("%.5f,%.5f|%.5f,%.5f", a.Lat, a.Lng, b.Lat, b.Lng)
}

// MemoryCache is a process-local Cache with per-entry expiry.
type MemoryCache struct {
	mu  sync.Mutex
	m   map[string]memEntry
	now func() time.Time
}

type memEntry struct {
	leg     Leg
	expires time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{m: map[string]memEntry{}, now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Leg, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok {
		return Leg{}, false
	}
	if !e.expires.IsZero() && c.now().After(e.expires) {
		delete(c.m, key)
		return Leg{}, false
	}
	return e.leg, true
}

func (c *MemoryCache) Set(_ context.Context, key string, leg Leg, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}
	c.m[key] = memEntry{leg: leg, expires: exp}
}

// Cached serves repeated pairs from Cache. Only reachable oracle legs are stored.
type Cached struct {
	Inner Provider
	Cache Cache
	TTL   time.Duration
}

func (c *Cached) Distance(ctx context.Context, a, b model.Coordinate) (Leg, error) {
	key := CacheKey(a, b)
	if leg, ok := c.Cache.Get(ctx, key); ok {
		return leg, nil
	}
	leg, err := c.Inner.Distance(ctx, a, b)
	if err != nil {
		return Leg{}, err
	}
	c.store(ctx, key, leg)
	return leg, nil
}

// Matrix issues at most one inner request, and only when a pair is missing.
func (c *Cached) Matrix(ctx context.Context, origins, destinations []model.Coordinate) ([][]Leg, error) {
	out := make([][]Leg, len(origins))
	missing := false
	for i, o := range origins {
		out[i] = make([]Leg, len(destinations))
		for j, d := range destinations {
			leg, ok := c.Cache.Get(ctx, CacheKey(o, d))
			if !ok {
				missing = true
				continue
			}
			out[i][j] = leg
		}
	}
	if !missing {
		return out, nil
	}
	var fresh [][]Leg
	var err error
	if mp, ok := c.Inner.(MatrixProvider); ok {
		fresh, err = mp.Matrix(ctx, origins, destinations)
	} else {
		fresh, err = pairwise(ctx, c.Inner, origins, destinations)
	}
	if err != nil {
		return nil, err
	}
	for i, o := range origins {
		for j, d := range destinations {
			c.store(ctx, CacheKey(o, d), fresh[i][j])
		}
	}
	return fresh, nil
}

func (c *Cached) store(ctx context.Context, key string, leg Leg) {
	if leg.Reachable() && leg.Source == SourceOracle {
		c.Cache.Set(ctx, key, leg, c.TTL)
	}
}
