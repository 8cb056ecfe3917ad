// Package zones keeps the geofence catalogue in memory and answers
// membership questions against it.
package zones

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"fleet-monitor/monitor/internal/domain"
	"fleet-monitor/monitor/internal/metrics"
)

type Loader interface {
	LoadZones(ctx context.Context) ([]domain.Zone, error)
}

// Cache holds the zone set grouped by category. The set is replaced
// wholesale on every refresh and never mutated in place, so readers may keep
// the slices they get.
type Cache struct {
	loader Loader
	log    *slog.Logger

	mu         sync.RWMutex
	byCategory map[domain.ZoneCategory][]domain.Zone
	byID       map[string]domain.Zone
	loadedAt   time.Time
}

func NewCache(loader Loader, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Cache{
		loader:     loader,
		log:        logger.With(slog.String("component", "zone_cache")),
		byCategory: make(map[domain.ZoneCategory][]domain.Zone),
		byID:       make(map[string]domain.Zone),
	}
}

// Refresh reloads the catalogue. On failure the previous set stays in place.
func (c *Cache) Refresh(ctx context.Context) error {
	loaded, err := c.loader.LoadZones(ctx)
	if err != nil {
		metrics.CacheRefreshFailures.Add(1)
		c.log.Warn("zone_refresh_failed", slog.Any("error", err))
		return err
	}
	c.Replace(loaded)
	c.log.Info("zone_refresh_complete", slog.Int("zones", len(loaded)))
	return nil
}

func (c *Cache) Replace(zones []domain.Zone) {
	byCategory := make(map[domain.ZoneCategory][]domain.Zone, len(domain.ZoneCategories))
	byID := make(map[string]domain.Zone, len(zones))
	for _, z := range zones {
		byCategory[z.Category] = append(byCategory[z.Category], z)
		byID[z.ID] = z
	}

	c.mu.Lock()
	c.byCategory = byCategory
	c.byID = byID
	c.loadedAt = time.Now()
	c.mu.Unlock()
}

// Zones returns the zones of one category. An empty cache yields nil.
func (c *Cache) Zones(category domain.ZoneCategory) []domain.Zone {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byCategory[category]
}

func (c *Cache) Zone(id string) (domain.Zone, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	z, ok := c.byID[id]
	return z, ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

func (c *Cache) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedAt
}

// Run refreshes the cache on every tick until ctx is cancelled.
func (c *Cache) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = c.Refresh(ctx)
		}
	}
}
