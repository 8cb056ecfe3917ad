// Package alerts rate-limits repeated alerts per subject, target and
// category.
package alerts

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"fleet-monitor/monitor/internal/domain"
)

const fallbackWindow = 5 * time.Minute

// Key identifies one stream of alerts. Target is the zone id for zone alerts
// and a reason tag otherwise.
type Key struct {
	Subject  string
	Target   string
	Category domain.AlertCategory
}

func DefaultWindows() map[domain.AlertCategory]time.Duration {
	return map[domain.AlertCategory]time.Duration{
		domain.AlertTollGate:         30 * time.Minute,
		domain.AlertHighRisk:         5 * time.Minute,
		domain.AlertBorder:           60 * time.Minute,
		domain.AlertUnauthorizedStop: 5 * time.Minute,
	}
}

type Option func(*Debouncer)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Debouncer) { d.now = now }
}

// Debouncer remembers when each key last fired. Entries older than their
// category window are removed by Sweep.
type Debouncer struct {
	windows map[domain.AlertCategory]time.Duration
	now     func() time.Time
	log     *slog.Logger

	mu   sync.Mutex
	last map[Key]time.Time
}

// NewDebouncer merges windows over the defaults.
func NewDebouncer(windows map[domain.AlertCategory]time.Duration, logger *slog.Logger, opts ...Option) *Debouncer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	merged := DefaultWindows()
	for c, w := range windows {
		if w > 0 {
			merged[c] = w
		}
	}
	d := &Debouncer{
		windows: merged,
		now:     time.Now,
		log:     logger.With(slog.String("component", "alert_debouncer")),
		last:    make(map[Key]time.Time),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Debouncer) Window(category domain.AlertCategory) time.Duration {
	if w, ok := d.windows[category]; ok {
		return w
	}
	return fallbackWindow
}

// Allow reports whether an alert for key may fire now, and if so records
// the firing. Check and record happen under one lock so two concurrent
// callers cannot both fire.
func (d *Debouncer) Allow(key Key) bool {
	now := d.now()
	window := d.Window(key.Category)

	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.last[key]; ok && now.Sub(last) < window {
		return false
	}
	d.last[key] = now
	return true
}

// Sweep removes entries whose window has passed and returns how many went.
func (d *Debouncer) Sweep() int {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for key, last := range d.last {
		if now.Sub(last) >= d.Window(key.Category) {
			delete(d.last, key)
			removed++
		}
	}
	return removed
}

func (d *Debouncer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.last)
}

// Run sweeps on every tick until ctx is cancelled.
func (d *Debouncer) Run(ctx context.Context, interval time.Duration) error {
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
			if removed := d.Sweep(); removed > 0 {
				d.log.Debug("cooldown_sweep", slog.Int("removed", removed), slog.Int("remaining", d.Len()))
			}
		}
	}
}
