// Package geocode resolves pickup addresses to coordinates through an
// in-memory cache, a shared Redis cache and an optional provider.
package geocode

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"fleet-monitor/monitor/internal/geo"
	"fleet-monitor/monitor/internal/metrics"
)

const DefaultTTL = 24 * time.Hour

// Store is the shared second-level cache.
type Store interface {
	GetGeocode(ctx context.Context, address string) (geo.Point, bool, error)
	SetGeocode(ctx context.Context, address string, p geo.Point, ttl time.Duration) error
}

// Provider performs the actual lookup. It may be nil, in which case only
// cached addresses resolve.
type Provider interface {
	Lookup(ctx context.Context, address string) (geo.Point, bool, error)
}

type cacheEntry struct {
	point     geo.Point
	expiresAt time.Time
}

type Cache struct {
	local    sync.Map
	store    Store
	provider Provider
	ttl      time.Duration
	now      func() time.Time
	log      *slog.Logger
}

func NewCache(store Store, provider Provider, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		store:    store,
		provider: provider,
		ttl:      ttl,
		now:      time.Now,
		log:      logger.With(slog.String("component", "geocode_cache")),
	}
}

// Key normalizes an address so that casing and spacing differences share
// one cache entry.
func Key(address string) string {
	return strings.ToLower(strings.Join(strings.Fields(address), " "))
}

// Geocode never returns an error: any failure is a miss, and the caller
// treats the address as unresolved.
func (c *Cache) Geocode(ctx context.Context, address string) (geo.Point, bool) {
	key := Key(address)
	if key == "" {
		return geo.Point{}, false
	}

	// Level 1: in-memory cache
	if raw, ok := c.local.Load(key); ok {
		entry := raw.(cacheEntry)
		if c.now().Before(entry.expiresAt) {
			return entry.point, true
		}
		c.local.Delete(key)
	}

	// Level 2: Redis
	if c.store != nil {
		p, ok, err := c.store.GetGeocode(ctx, key)
		if err != nil {
			c.log.Warn("geocode_store_get_failed", slog.String("address", key), slog.Any("error", err))
		} else if ok {
			c.remember(key, p)
			return p, true
		}
	}

	// Level 3: provider
	if c.provider == nil {
		metrics.GeocodeMisses.Add(1)
		return geo.Point{}, false
	}
	p, ok, err := c.provider.Lookup(ctx, address)
	if err != nil || !ok || !p.Valid() || p.IsZero() {
		if err != nil {
			c.log.Warn("geocode_lookup_failed", slog.String("address", key), slog.Any("error", err))
		}
		metrics.GeocodeMisses.Add(1)
		return geo.Point{}, false
	}

	c.remember(key, p)
	if c.store != nil {
		if err := c.store.SetGeocode(ctx, key, p, c.ttl); err != nil {
			c.log.Warn("geocode_store_set_failed", slog.String("address", key), slog.Any("error", err))
		}
	}
	return p, true
}

func (c *Cache) remember(key string, p geo.Point) {
	c.local.Store(key, cacheEntry{point: p, expiresAt: c.now().Add(c.ttl)})
}
