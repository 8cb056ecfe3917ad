// Package stops tracks how long each trip's vehicle has been standing still.
package stops

import (
	"sync"
	"time"

	"fleet-monitor/monitor/internal/geo"
)

type Config struct {
	// SpeedThresholdKmh is the speed below which a fix counts as stationary.
	SpeedThresholdKmh float64
	// RadiusMeters is how far a stationary vehicle may drift from its anchor
	// before the window restarts.
	RadiusMeters float64
	// MinDuration is how long a window must last before the stop is checked.
	MinDuration time.Duration
}

func DefaultConfig() Config {
	return Config{
		SpeedThresholdKmh: 5,
		RadiusMeters:      50,
		MinDuration:       5 * time.Minute,
	}
}

type State int

const (
	Moving State = iota
	Stationary
)

func (s State) String() string {
	if s == Stationary {
		return "stationary"
	}
	return "moving"
}

type Window struct {
	TripID    string
	Anchor    geo.Point
	StartedAt time.Time
}

// Observation is the outcome of one fix. When Due is set the window has
// lasted MinDuration and has already been cleared; the caller runs exactly
// one authorization check for it.
type Observation struct {
	State  State
	Window Window
	Due    bool
}

// Detector holds one stationary window per trip.
type Detector struct {
	cfg Config

	mu      sync.Mutex
	windows map[string]Window
}

func NewDetector(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.SpeedThresholdKmh <= 0 {
		cfg.SpeedThresholdKmh = def.SpeedThresholdKmh
	}
	if cfg.RadiusMeters <= 0 {
		cfg.RadiusMeters = def.RadiusMeters
	}
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = def.MinDuration
	}
	return &Detector{cfg: cfg, windows: make(map[string]Window)}
}

func (d *Detector) Observe(tripID string, p geo.Point, speedKmh float64, at time.Time) Observation {
	d.mu.Lock()
	defer d.mu.Unlock()

	if speedKmh >= d.cfg.SpeedThresholdKmh {
		delete(d.windows, tripID)
		return Observation{State: Moving}
	}

	w, ok := d.windows[tripID]
	if !ok || geo.Haversine(p, w.Anchor) > d.cfg.RadiusMeters {
		w = Window{TripID: tripID, Anchor: p, StartedAt: at}
		d.windows[tripID] = w
	}

	if at.Sub(w.StartedAt) >= d.cfg.MinDuration {
		delete(d.windows, tripID)
		return Observation{State: Stationary, Window: w, Due: true}
	}
	return Observation{State: Stationary, Window: w}
}

func (d *Detector) Window(tripID string) (Window, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.windows[tripID]
	return w, ok
}

func (d *Detector) Forget(tripID string) {
	d.mu.Lock()
	delete(d.windows, tripID)
	d.mu.Unlock()
}

// Prune drops the windows of trips for which keep returns false and reports
// how many were removed.
func (d *Detector) Prune(keep func(tripID string) bool) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for id := range d.windows {
		if !keep(id) {
			delete(d.windows, id)
			removed++
		}
	}
	return removed
}

func (d *Detector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.windows)
}
