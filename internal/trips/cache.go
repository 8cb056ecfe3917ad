// Package trips keeps the active trips in memory and resolves incoming
// telemetry to the trip it belongs to.
package trips

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"fleet-monitor/monitor/internal/domain"
	"fleet-monitor/monitor/internal/metrics"
)

type Loader interface {
	LoadActiveTrips(ctx context.Context) ([]domain.Trip, error)
	LoadTrip(ctx context.Context, id string) (domain.Trip, bool, error)
}

// DriverMatchStrategy decides how a telemetry driver name is compared with a
// trip's assigned driver during the fallback scan.
type DriverMatchStrategy string

const (
	// MatchSubstring accepts either name containing the other. It tolerates
	// trackers that send "J Smith" or "John Smith (Relief)" but will also
	// pair short names with unrelated longer ones.
	MatchSubstring DriverMatchStrategy = "substring"
	// MatchExact requires the normalized names to be equal.
	MatchExact DriverMatchStrategy = "exact"
)

func ParseDriverMatchStrategy(s string) DriverMatchStrategy {
	if strings.EqualFold(strings.TrimSpace(s), string(MatchExact)) {
		return MatchExact
	}
	return MatchSubstring
}

// Cache holds the active trips in load order together with the plate and
// driver indices built up by Match.
type Cache struct {
	loader   Loader
	strategy DriverMatchStrategy
	log      *slog.Logger

	mu       sync.RWMutex
	trips    map[string]domain.Trip
	order    []string
	byPlate  map[string]string
	byDriver map[string]string
	// gen counts index invalidations so a scan hit computed under the read
	// lock is not written into indices that were reset meanwhile.
	gen uint64
}

func NewCache(loader Loader, strategy DriverMatchStrategy, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if strategy == "" {
		strategy = MatchSubstring
	}
	return &Cache{
		loader:   loader,
		strategy: strategy,
		log:      logger.With(slog.String("component", "trip_cache")),
		trips:    make(map[string]domain.Trip),
		byPlate:  make(map[string]string),
		byDriver: make(map[string]string),
	}
}

// Refresh reloads all active trips. On failure the current set is kept.
func (c *Cache) Refresh(ctx context.Context) error {
	loaded, err := c.loader.LoadActiveTrips(ctx)
	if err != nil {
		metrics.CacheRefreshFailures.Add(1)
		c.log.Warn("trip_refresh_failed", slog.Any("error", err))
		return err
	}
	changed := c.Replace(loaded)
	c.log.Info("trip_refresh_complete", slog.Int("trips", c.Len()), slog.Bool("changed", changed))
	return nil
}

// RefreshTrip reloads a single trip after a change notification. A trip that
// no longer exists is evicted.
func (c *Cache) RefreshTrip(ctx context.Context, id string) error {
	trip, ok, err := c.loader.LoadTrip(ctx, id)
	if err != nil {
		metrics.CacheRefreshFailures.Add(1)
		c.log.Warn("trip_reload_failed", slog.String("trip_id", id), slog.Any("error", err))
		return err
	}
	if !ok {
		c.Evict(id)
		return nil
	}
	c.Upsert(trip)
	return nil
}

// Replace swaps in a new trip set, dropping terminal trips. The match
// indices are cleared when a trip appeared, disappeared or changed its
// assignment. It reports whether that happened.
func (c *Cache) Replace(loaded []domain.Trip) bool {
	trips := make(map[string]domain.Trip, len(loaded))
	order := make([]string, 0, len(loaded))
	for _, t := range loaded {
		if t.Status.Terminal() {
			continue
		}
		if _, dup := trips[t.ID]; !dup {
			order = append(order, t.ID)
		}
		trips[t.ID] = t
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	changed := len(trips) != len(c.trips)
	if !changed {
		for id, t := range trips {
			prev, ok := c.trips[id]
			if !ok || !prev.SameAssignment(&t) {
				changed = true
				break
			}
		}
	}

	c.trips = trips
	c.order = order
	if changed {
		c.invalidateLocked()
	}
	return changed
}

// Upsert applies a single trip change. Terminal trips are evicted.
func (c *Cache) Upsert(t domain.Trip) {
	if t.Status.Terminal() {
		c.Evict(t.ID)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.trips[t.ID]
	c.trips[t.ID] = t
	if !ok {
		c.order = append(c.order, t.ID)
		c.invalidateLocked()
		return
	}
	if !prev.SameAssignment(&t) {
		c.invalidateLocked()
	}
}

func (c *Cache) Evict(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.trips[id]; !ok {
		return
	}
	delete(c.trips, id)
	for i, tid := range c.order {
		if tid == id {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			break
		}
	}
	c.invalidateLocked()
}

func (c *Cache) Get(id string) (domain.Trip, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.trips[id]
	return t, ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.trips)
}

// Match resolves a fix to its active trip. Lookups go plate index, driver
// index, plate scan, driver scan; the first hit wins and scan hits are
// indexed for the next fix.
func (c *Cache) Match(driverName, plate string) (domain.Trip, bool) {
	p := domain.NormalizePlate(plate)
	d := domain.NormalizeName(driverName)
	if p == "" && d == "" {
		return domain.Trip{}, false
	}

	c.mu.RLock()
	if p != "" {
		if id, ok := c.byPlate[p]; ok {
			if t, ok := c.trips[id]; ok {
				c.mu.RUnlock()
				return t, true
			}
		}
	}
	if d != "" {
		if id, ok := c.byDriver[d]; ok {
			if t, ok := c.trips[id]; ok {
				c.mu.RUnlock()
				return t, true
			}
		}
	}

	var (
		hit     domain.Trip
		found   bool
		byPlate bool
	)
	if p != "" {
		for _, id := range c.order {
			t := c.trips[id]
			if domain.NormalizePlate(t.AssignedPlate()) == p {
				hit, found, byPlate = t, true, true
				break
			}
		}
	}
	if !found && d != "" {
		for _, id := range c.order {
			t := c.trips[id]
			if c.driverMatches(domain.NormalizeName(t.AssignedDriverName()), d) {
				hit, found = t, true
				break
			}
		}
	}
	gen := c.gen
	c.mu.RUnlock()

	if !found {
		return domain.Trip{}, false
	}

	c.mu.Lock()
	if c.gen == gen {
		if byPlate {
			c.byPlate[p] = hit.ID
		} else {
			c.byDriver[d] = hit.ID
		}
	}
	c.mu.Unlock()
	return hit, true
}

func (c *Cache) driverMatches(tripDriver, fixDriver string) bool {
	if tripDriver == "" || fixDriver == "" {
		return false
	}
	if c.strategy == MatchExact {
		return tripDriver == fixDriver
	}
	return strings.Contains(tripDriver, fixDriver) || strings.Contains(fixDriver, tripDriver)
}

func (c *Cache) invalidateLocked() {
	c.byPlate = make(map[string]string)
	c.byDriver = make(map[string]string)
	c.gen++
}

// Run reloads the trip set on every tick until ctx is cancelled.
func (c *Cache) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
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

// Watch reloads individual trips as their ids arrive on changes.
func (c *Cache) Watch(ctx context.Context, changes <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case id, ok := <-changes:
			if !ok {
				return nil
			}
			_ = c.RefreshTrip(ctx, id)
		}
	}
}
