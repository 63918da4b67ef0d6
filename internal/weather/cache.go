package weather

import (
	"context"
	"fmt"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/i474232898/raincheck/internal/observability"
)

const defaultLoadTimeout = 30 * time.Second

// memo is a bounded LRU cache whose misses are loaded at most once per
// key at a time. Failed loads are not cached.
type memo[V any] struct {
	name    string
	entries *lru.Cache[string, V]
	group   singleflight.Group
	metrics *observability.Metrics
}

func newMemo[V any](name string, size int, metrics *observability.Metrics) (*memo[V], error) {
	entries, err := lru.New[string, V](size)
	if err != nil {
		return nil, fmt.Errorf("create %s cache: %w", name, err)
	}
	return &memo[V]{name: name, entries: entries, metrics: metrics}, nil
}

// get returns the cached value for key or loads it. A caller that gives
// up only abandons its own wait; the load keeps running for the others.
func (m *memo[V]) get(ctx context.Context, key string, load func(ctx context.Context) (V, error)) (V, error) {
	var zero V
	if v, ok := m.entries.Get(key); ok {
		m.metrics.CacheLookups.WithLabelValues(m.name, "hit").Inc()
		return v, nil
	}
	m.metrics.CacheLookups.WithLabelValues(m.name, "miss").Inc()

	ch := m.group.DoChan(key, func() (any, error) {
		// Another caller may have populated the key while we waited.
		if v, ok := m.entries.Get(key); ok {
			return v, nil
		}
		loadCtx, cancel := detach(ctx)
		defer cancel()

		v, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		m.entries.Add(key, v)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// detach strips cancellation from the caller that starts a shared load.
// The load stays bounded by that caller's deadline, or by
// defaultLoadTimeout when it has none.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(base, deadline)
	}
	return context.WithTimeout(base, defaultLoadTimeout)
}

// CachedGeocoder memoizes a Geocoder per address.
type CachedGeocoder struct {
	next  Geocoder
	cache *memo[Coordinates]
}

// NewCachedGeocoder wraps next with a cache holding at most size addresses.
func NewCachedGeocoder(next Geocoder, size int, metrics *observability.Metrics) (*CachedGeocoder, error) {
	cache, err := newMemo[Coordinates]("geocode", size, metrics)
	if err != nil {
		return nil, err
	}
	return &CachedGeocoder{next: next, cache: cache}, nil
}

func (c *CachedGeocoder) Geocode(ctx context.Context, address string) (Coordinates, error) {
	return c.cache.get(ctx, address, func(ctx context.Context) (Coordinates, error) {
		return c.next.Geocode(ctx, address)
	})
}

// Len reports the number of cached addresses.
func (c *CachedGeocoder) Len() int {
	return c.cache.entries.Len()
}

// CachedGridResolver memoizes a GridResolver per coordinate pair.
type CachedGridResolver struct {
	next  GridResolver
	cache *memo[GridCell]
}

// NewCachedGridResolver wraps next with a cache holding at most size points.
func NewCachedGridResolver(next GridResolver, size int, metrics *observability.Metrics) (*CachedGridResolver, error) {
	cache, err := newMemo[GridCell]("grid", size, metrics)
	if err != nil {
		return nil, err
	}
	return &CachedGridResolver{next: next, cache: cache}, nil
}

func (c *CachedGridResolver) ResolveGrid(ctx context.Context, coords Coordinates) (GridCell, error) {
	return c.cache.get(ctx, coordinateKey(coords), func(ctx context.Context) (GridCell, error) {
		return c.next.ResolveGrid(ctx, coords)
	})
}

// Len reports the number of cached coordinate pairs.
func (c *CachedGridResolver) Len() int {
	return c.cache.entries.Len()
}

func coordinateKey(c Coordinates) string {
	return strconv.FormatFloat(c.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(c.Lon, 'f', -1, 64)
}
