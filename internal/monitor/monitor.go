// Package monitor runs every fix through trip matching, stop detection,
// zone evaluation and driver scoring, and owns the background tasks that
// keep that state fresh.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"fleet-monitor/monitor/internal/alerts"
	"fleet-monitor/monitor/internal/domain"
	"fleet-monitor/monitor/internal/metrics"
	"fleet-monitor/monitor/internal/pipeline"
	"fleet-monitor/monitor/internal/scoring"
	"fleet-monitor/monitor/internal/stops"
	"fleet-monitor/monitor/internal/trips"
	"fleet-monitor/monitor/internal/zones"
)

// AlertWriter takes durable alert records. Enqueue must not block.
type AlertWriter interface {
	Enqueue(a domain.Alert) bool
	Run(ctx context.Context) error
}

// Outbox carries fired alerts to notifiers, the alert writer and the trip
// row. Enqueue must not block.
type Outbox interface {
	Enqueue(d pipeline.Delivery) bool
	Run(ctx context.Context) error
}

type ScoreFlusher interface {
	Run(ctx context.Context) error
	RunSnapshots(ctx context.Context) error
}

// Runner is a telemetry source feeding Dispatch.
type Runner interface {
	Run(ctx context.Context) error
}

type Config struct {
	SweepInterval       time.Duration
	ZoneRefreshInterval time.Duration
	TripRefreshInterval time.Duration
	// Workers and QueueSize size the per-vehicle dispatcher.
	Workers   int
	QueueSize int
}

func DefaultConfig() Config {
	return Config{
		SweepInterval:       time.Minute,
		ZoneRefreshInterval: 5 * time.Minute,
		TripRefreshInterval: time.Minute,
		Workers:             8,
		QueueSize:           1000,
	}
}

// Deps are the collaborators the monitor is assembled from. Flusher and
// TripChanges are optional.
type Deps struct {
	Trips     *trips.Cache
	Zones     *zones.Cache
	Evaluator *zones.Evaluator
	Stops     *stops.Detector
	Debouncer *alerts.Debouncer
	Scorer    *scoring.Scorer

	Alerts      AlertWriter
	Outbox      Outbox
	Flusher     ScoreFlusher
	TripChanges <-chan string
}

type Monitor struct {
	cfg Config
	Deps
	dispatcher *pipeline.Dispatcher
	log        *slog.Logger
}

func New(cfg Config, deps Deps, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	def := DefaultConfig()
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.ZoneRefreshInterval <= 0 {
		cfg.ZoneRefreshInterval = def.ZoneRefreshInterval
	}
	if cfg.TripRefreshInterval <= 0 {
		cfg.TripRefreshInterval = def.TripRefreshInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	m := &Monitor{
		cfg:  cfg,
		Deps: deps,
		log:  logger.With(slog.String("component", "trip_monitor")),
	}
	m.dispatcher = pipeline.NewDispatcher(cfg.Workers, cfg.QueueSize, m.Process, logger)
	return m
}

// Dispatch queues a fix for processing in per-vehicle order. It never
// blocks; a full queue drops the fix.
func (m *Monitor) Dispatch(fix *domain.VehicleFix) bool {
	return m.dispatcher.Dispatch(fix)
}

// Prime performs the first zone and trip load. A failed load leaves that
// cache empty and is retried by the refresh loops in Run, so Prime only
// reports what failed.
func (m *Monitor) Prime(ctx context.Context) error {
	var errs []error
	if err := m.Zones.Refresh(ctx); err != nil {
		m.log.Warn("initial_zone_load_failed", slog.Any("error", err))
		errs = append(errs, fmt.Errorf("zones: %w", err))
	}
	if err := m.Trips.Refresh(ctx); err != nil {
		m.log.Warn("initial_trip_load_failed", slog.Any("error", err))
		errs = append(errs, fmt.Errorf("trips: %w", err))
	}
	return errors.Join(errs...)
}

// Process handles one validated fix. It never panics: a failure while
// evaluating one vehicle is logged and counted and the next fix proceeds.
func (m *Monitor) Process(ctx context.Context, fix *domain.VehicleFix) {
	defer func() {
		if r := recover(); r != nil {
			metrics.FixPanics.Add(1)
			m.log.Error("fix_processing_panic",
				slog.String("plate", fix.Plate),
				slog.String("driver", fix.DriverName),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	trip, ok := m.Trips.Match(fix.DriverName, fix.Plate)
	if !ok {
		metrics.FixesUnmatched.Add(1)
		m.log.Debug("fix_unmatched", slog.String("plate", fix.Plate), slog.String("driver", fix.DriverName))
		return
	}

	m.checkStop(ctx, &trip, fix)
	m.checkZones(&trip, fix)
	m.score(&trip, fix)
}

func (m *Monitor) checkStop(ctx context.Context, trip *domain.Trip, fix *domain.VehicleFix) {
	obs := m.Stops.Observe(trip.ID, fix.Position, fix.SpeedKmh, fix.Timestamp)
	if !obs.Due {
		return
	}

	auth := m.Evaluator.AuthorizeStop(ctx, trip, obs.Window.Anchor)
	if auth.Authorized {
		m.log.Debug("stop_authorized", slog.String("trip_id", trip.ID), slog.String("matched_by", auth.MatchedBy))
		return
	}

	alert := newStopAlert(trip, fix, obs.Window, auth.Reason)
	key := alerts.Key{Subject: trip.ID, Target: alert.Target, Category: alert.Category}
	// the durable record is written on every detection; only the
	// notification is rate limited
	m.emit(trip, alert, m.Debouncer.Allow(key))
}

func (m *Monitor) checkZones(trip *domain.Trip, fix *domain.VehicleFix) {
	for _, category := range zoneAlertCategories {
		zone, ok := m.Evaluator.Evaluate(fix.Position, category)
		if !ok {
			continue
		}
		alertCategory, _ := domain.AlertCategoryForZone(category)
		key := alerts.Key{Subject: trip.ID, Target: zone.ID, Category: alertCategory}
		if !m.Debouncer.Allow(key) {
			metrics.AlertsSuppressed.Add(1)
			continue
		}
		m.emit(trip, newZoneAlert(trip, fix, zone, alertCategory), true)
	}
}

func (m *Monitor) score(trip *domain.Trip, fix *domain.VehicleFix) {
	driver := trip.AssignedDriverName()
	if driver == "" {
		driver = fix.DriverName
	}
	for _, v := range m.Scorer.Evaluate(driver, fix) {
		if v.Deducted {
			m.log.Debug("driver_points_deducted",
				slog.String("driver", v.DriverName),
				slog.String("category", string(v.Category)),
				slog.Int("count", v.Count),
				slog.Int("points", v.Points),
				slog.String("level", string(v.Level)),
			)
		}
	}
}

// emit moves the trip to its new status in memory and hands the alert to
// the outbox. Nothing here waits on the network.
func (m *Monitor) emit(trip *domain.Trip, alert domain.Alert, notifyDownstream bool) {
	metrics.AlertsFired.Add(1)
	if !notifyDownstream {
		metrics.AlertsSuppressed.Add(1)
	}

	d := pipeline.Delivery{Alert: alert, Notify: notifyDownstream}
	if status, ok := tripStatusFor(alert.Category, trip.Status); ok {
		d.Trip = &domain.TripAlertUpdate{
			TripID:  trip.ID,
			Status:  status,
			Message: alert.Message,
			At:      alert.Timestamp,
		}
		if status != trip.Status {
			trip.Status = status
			m.Trips.Upsert(*trip)
		}
	}
	m.Outbox.Enqueue(d)

	m.log.Info("alert_fired",
		slog.String("alert_id", alert.ID),
		slog.String("trip_id", trip.ID),
		slog.String("category", string(alert.Category)),
		slog.String("target", alert.Target),
		slog.Bool("notify", notifyDownstream),
	)
}

// Run processes fixes from sources until ctx is cancelled, then stops in
// stages: sources and refresh loops first, then the dispatcher drains queued
// fixes, then the outbox delivers what they fired, and the alert writer and
// score flusher flush last.
func (m *Monitor) Run(ctx context.Context, sources ...Runner) error {
	base := context.WithoutCancel(ctx)

	writerCtx, stopWriters := context.WithCancel(base)
	defer stopWriters()
	var writers errgroup.Group
	writers.Go(func() error { return m.Alerts.Run(writerCtx) })
	if m.Flusher != nil {
		writers.Go(func() error { return m.Flusher.Run(writerCtx) })
	}

	outboxCtx, stopOutbox := context.WithCancel(base)
	defer stopOutbox()
	outboxDone := make(chan error, 1)
	go func() { outboxDone <- m.Outbox.Run(outboxCtx) }()

	dispatchCtx, stopDispatch := context.WithCancel(base)
	defer stopDispatch()
	dispatchDone := make(chan error, 1)
	go func() { dispatchDone <- m.dispatcher.Run(dispatchCtx) }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.Debouncer.Run(gctx, m.cfg.SweepInterval) })
	g.Go(func() error { return m.Zones.Run(gctx, m.cfg.ZoneRefreshInterval) })
	g.Go(func() error { return m.Trips.Run(gctx, m.cfg.TripRefreshInterval) })
	g.Go(func() error { return m.housekeeping(gctx) })
	if m.TripChanges != nil {
		g.Go(func() error { return m.Trips.Watch(gctx, m.TripChanges) })
	}
	if m.Flusher != nil {
		g.Go(func() error { return m.Flusher.RunSnapshots(gctx) })
	}
	for _, src := range sources {
		src := src
		g.Go(func() error { return src.Run(gctx) })
	}

	m.log.Info("monitor_started",
		slog.Int("trips", m.Trips.Len()),
		slog.Int("zones", m.Zones.Len()),
		slog.Int("sources", len(sources)),
	)

	err := g.Wait()

	stopDispatch()
	err = errors.Join(err, <-dispatchDone)
	stopOutbox()
	err = errors.Join(err, <-outboxDone)
	stopWriters()
	err = errors.Join(err, writers.Wait())

	m.log.Info("monitor_stopped")
	return err
}

// housekeeping drops stationary windows of trips that left the active set.
func (m *Monitor) housekeeping(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed := m.Stops.Prune(func(tripID string) bool {
				_, ok := m.Trips.Get(tripID)
				return ok
			})
			if removed > 0 {
				m.log.Debug("stop_windows_pruned", slog.Int("removed", removed))
			}
		}
	}
}
