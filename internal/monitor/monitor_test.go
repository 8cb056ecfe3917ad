package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fleet-monitor/monitor/internal/alerts"
	"fleet-monitor/monitor/internal/domain"
	"fleet-monitor/monitor/internal/geo"
	"fleet-monitor/monitor/internal/metrics"
	"fleet-monitor/monitor/internal/pipeline"
	"fleet-monitor/monitor/internal/scoring"
	"fleet-monitor/monitor/internal/stops"
	"fleet-monitor/monitor/internal/trips"
	"fleet-monitor/monitor/internal/zones"
)

type mockTripLoader struct{}

func (mockTripLoader) LoadActiveTrips(context.Context) ([]domain.Trip, error) { return nil, nil }

func (mockTripLoader) LoadTrip(context.Context, string) (domain.Trip, bool, error) {
	return domain.Trip{}, false, nil
}

type mockZoneLoader struct{}

func (mockZoneLoader) LoadZones(context.Context) ([]domain.Zone, error) { return nil, nil }

type mockAlertWriter struct {
	mu     sync.Mutex
	queued []domain.Alert
}

func (m *mockAlertWriter) Enqueue(a domain.Alert) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = append(m.queued, a)
	return true
}

func (m *mockAlertWriter) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

type mockTripUpdater struct {
	mu       sync.Mutex
	updates  []domain.TripAlertUpdate
	updateFn func(ctx context.Context, ta domain.TripAlertUpdate) error
}

func (m *mockTripUpdater) UpdateTripAlert(ctx context.Context, ta domain.TripAlertUpdate) error {
	m.mu.Lock()
	m.updates = append(m.updates, ta)
	m.mu.Unlock()
	if m.updateFn != nil {
		return m.updateFn(ctx, ta)
	}
	return nil
}

type mockNotifier struct {
	sent     []domain.Alert
	notifyFn func(ctx context.Context, a domain.Alert) error
}

func (m *mockNotifier) Notify(ctx context.Context, a domain.Alert) error {
	if m.notifyFn != nil {
		if err := m.notifyFn(ctx, a); err != nil {
			return err
		}
	}
	m.sent = append(m.sent, a)
	return nil
}

var (
	t0 = time.Date(2025, 7, 3, 12, 0, 0, 0, time.UTC)

	depot      = geo.Point{Lat: -29.8000, Lon: 30.9000}
	riskInside = geo.Point{Lat: -29.855, Lon: 31.025}
	beitbridge = geo.Point{Lat: -22.2167, Lon: 30.0}
	tollPlaza  = geo.Point{Lat: -29.70, Lon: 30.90}
)

func testZones() []domain.Zone {
	return []domain.Zone{
		{
			ID: "hr-1", Name: "Cato Manor", Category: domain.ZoneHighRisk, Kind: domain.GeometryPolygon,
			Vertices: []geo.Point{
				{Lat: -29.86, Lon: 31.02}, {Lat: -29.85, Lon: 31.02},
				{Lat: -29.85, Lon: 31.03}, {Lat: -29.86, Lon: 31.03},
			},
		},
		{ID: "b-1", Name: "Beitbridge", Category: domain.ZoneBorder, Kind: domain.GeometryCircle, Center: beitbridge, RadiusMeters: 500},
		{ID: "tg-1", Name: "Mariannhill", Category: domain.ZoneTollGate, Kind: domain.GeometryCircle, Center: tollPlaza, RadiusMeters: 200},
	}
}

func testTrip(id string, status domain.TripStatus) domain.Trip {
	return domain.Trip{
		ID:     id,
		Status: status,
		VehicleAssignments: []domain.VehicleAssignment{{
			Drivers: []domain.Driver{{Name: "John Smith"}},
			Vehicle: domain.Vehicle{Plate: "ABC123"},
		}},
	}
}

type harness struct {
	m        *Monitor
	outbox   *pipeline.Outbox
	writer   *mockAlertWriter
	updater  *mockTripUpdater
	notifier *mockNotifier
	trips    *trips.Cache
	scorer   *scoring.Scorer
	clock    time.Time
}

func newHarness(t *testing.T, tripList ...domain.Trip) *harness {
	t.Helper()
	h := &harness{
		writer:   &mockAlertWriter{},
		updater:  &mockTripUpdater{},
		notifier: &mockNotifier{},
		clock:    t0,
	}

	h.trips = trips.NewCache(mockTripLoader{}, trips.MatchSubstring, nil)
	h.trips.Replace(tripList)

	zoneCache := zones.NewCache(mockZoneLoader{}, nil)
	zoneCache.Replace(testZones())

	h.scorer = scoring.NewScorer(scoring.DefaultConfig(), nil)
	h.outbox = pipeline.NewOutbox(h.writer, h.notifier, h.updater, 1, 100, time.Second, nil)

	h.m = New(DefaultConfig(), Deps{
		Trips:     h.trips,
		Zones:     zoneCache,
		Evaluator: zones.NewEvaluator(zoneCache, nil),
		Stops:     stops.NewDetector(stops.DefaultConfig()),
		Debouncer: alerts.NewDebouncer(nil, nil, alerts.WithClock(func() time.Time { return h.clock })),
		Scorer:    h.scorer,
		Alerts:    h.writer,
		Outbox:    h.outbox,
	}, nil)
	return h
}

// process runs one fix and then delivers whatever it fired.
func (h *harness) process(fix *domain.VehicleFix) {
	h.process(fix)
	h.deliver()
}

func (h *harness) deliver() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = h.outbox.Run(ctx)
}

func fixAt(p geo.Point, speed float64, at time.Time) *domain.VehicleFix {
	return &domain.VehicleFix{Plate: "ABC123", DriverName: "J Smith", Position: p, SpeedKmh: speed, Timestamp: at}
}

func TestProcess_UnmatchedFixIsIgnored(t *testing.T) {
	h := newHarness(t, testTrip("7", domain.TripInProgress))
	before := metrics.FixesUnmatched.Load()

	h.process(&domain.VehicleFix{Plate: "ZZZ999", Position: riskInside, SpeedKmh: 130, Timestamp: t0})

	if len(h.writer.queued) != 0 {
		t.Fatalf("expected no alerts, got %d", len(h.writer.queued))
	}
	if metrics.FixesUnmatched.Load() != before+1 {
		t.Fatal("expected unmatched counter to move")
	}
	if len(h.scorer.Snapshot()) != 0 {
		t.Fatal("unmatched fix should not be scored")
	}
}

func TestProcess_HighRiskEntryDebounced(t *testing.T) {
	h := newHarness(t, testTrip("7", domain.TripInProgress))

	h.process(fixAt(riskInside, 40, t0))
	h.process(fixAt(riskInside, 40, t0.Add(time.Minute)))

	if len(h.writer.queued) != 1 {
		t.Fatalf("expected one alert, got %d", len(h.writer.queued))
	}
	a := h.writer.queued[0]
	if a.Category != domain.AlertHighRisk || a.Target != "hr-1" || a.Severity != domain.SeverityCritical {
		t.Fatalf("unexpected alert %+v", a)
	}
	if !a.Notified || len(h.notifier.sent) != 1 {
		t.Fatal("alert should be notified once")
	}
	if len(h.updater.updates) != 1 || h.updater.updates[0].Status != domain.TripAlert {
		t.Fatalf("expected trip moved to alert, got %+v", h.updater.updates)
	}
	if trip, _ := h.trips.Get("7"); trip.Status != domain.TripAlert {
		t.Fatalf("cached trip should carry the new status, got %s", trip.Status)
	}

	// window for high risk is five minutes
	h.clock = h.clock.Add(5 * time.Minute)
	h.process(fixAt(riskInside, 40, t0.Add(6*time.Minute)))
	if len(h.writer.queued) != 2 {
		t.Fatalf("expected alert to fire again after the window, got %d", len(h.writer.queued))
	}
}

func TestProcess_BorderDoesNotDowngradeAlert(t *testing.T) {
	h := newHarness(t, testTrip("7", domain.TripInProgress), testTrip("8", domain.TripAlert))
	h.trips.Evict("7")

	h.process(fixAt(beitbridge, 60, t0))

	if len(h.updater.updates) != 1 {
		t.Fatalf("expected one trip update, got %d", len(h.updater.updates))
	}
	if got := h.updater.updates[0]; got.TripID != "8" || got.Status != domain.TripAlert {
		t.Fatalf("unexpected update %+v", got)
	}
}

func TestProcess_BorderMovesTripAtBorder(t *testing.T) {
	h := newHarness(t, testTrip("7", domain.TripInProgress))

	h.process(fixAt(beitbridge, 60, t0))

	if len(h.writer.queued) != 1 || h.writer.queued[0].Category != domain.AlertBorder {
		t.Fatalf("expected a border alert, got %+v", h.writer.queued)
	}
	if h.updater.updates[0].Status != domain.TripAtBorder {
		t.Fatalf("expected at_border, got %s", h.updater.updates[0].Status)
	}
}

func TestProcess_TollGateLeavesTripStatus(t *testing.T) {
	h := newHarness(t, testTrip("7", domain.TripInProgress))

	h.process(fixAt(tollPlaza, 60, t0))

	if len(h.writer.queued) != 1 || h.writer.queued[0].Severity != domain.SeverityInfo {
		t.Fatalf("expected one info alert, got %+v", h.writer.queued)
	}
	if len(h.updater.updates) != 0 {
		t.Fatalf("toll gate should not touch the trip, got %+v", h.updater.updates)
	}
}

func TestProcess_UnauthorizedStopAlwaysRecorded(t *testing.T) {
	h := newHarness(t, testTrip("7", domain.TripInProgress))

	h.process(fixAt(depot, 0, t0))
	h.process(fixAt(depot, 2, t0.Add(5*time.Minute)))

	if len(h.writer.queued) != 1 {
		t.Fatalf("expected one stop alert, got %d", len(h.writer.queued))
	}
	a := h.writer.queued[0]
	if a.Category != domain.AlertUnauthorizedStop || a.Target != "no_stop_points" {
		t.Fatalf("unexpected alert %+v", a)
	}
	if !a.Notified {
		t.Fatal("first stop alert should be notified")
	}
	if h.updater.updates[0].Status != domain.TripAlert {
		t.Fatalf("expected trip alert status, got %+v", h.updater.updates[0])
	}

	// a second stop inside the notification window is still recorded
	h.process(fixAt(depot, 0, t0.Add(6*time.Minute)))
	h.process(fixAt(depot, 0, t0.Add(11*time.Minute)))

	if len(h.writer.queued) != 2 {
		t.Fatalf("expected a second durable record, got %d", len(h.writer.queued))
	}
	if h.writer.queued[1].Notified {
		t.Fatal("second stop alert should not be notified inside the window")
	}
	if len(h.notifier.sent) != 1 {
		t.Fatalf("expected one notification, got %d", len(h.notifier.sent))
	}
}

func TestProcess_StopNearDestinationIsAuthorized(t *testing.T) {
	trip := testTrip("7", domain.TripInProgress)
	dest := geo.Point{Lat: depot.Lat + 0.003, Lon: depot.Lon} // ~330m
	trip.Destination = &dest
	h := newHarness(t, trip)

	h.process(fixAt(depot, 0, t0))
	h.process(fixAt(depot, 0, t0.Add(5*time.Minute)))

	if len(h.writer.queued) != 0 {
		t.Fatalf("stop near destination should be authorized, got %+v", h.writer.queued)
	}
}

func TestProcess_ScoresAssignedDriver(t *testing.T) {
	h := newHarness(t, testTrip("7", domain.TripInProgress))

	for i := 0; i < 5; i++ {
		h.process(fixAt(depot, 125, t0.Add(time.Duration(i)*time.Minute)))
	}

	score, ok := h.scorer.Get("John Smith")
	if !ok {
		t.Fatal("expected the assigned driver to be scored")
	}
	if score.Counts[domain.ViolationSpeed] != 5 || score.CurrentPoints != 99 || score.Level != domain.LevelGold {
		t.Fatalf("unexpected score %+v", score)
	}
}

type panickingOutbox struct{}

func (panickingOutbox) Enqueue(pipeline.Delivery) bool { panic("boom") }

func (panickingOutbox) Run(ctx context.Context) error { return nil }

func TestProcess_RecoversFromPanic(t *testing.T) {
	h := newHarness(t, testTrip("7", domain.TripInProgress))
	h.m.Outbox = panickingOutbox{}
	before := metrics.FixPanics.Load()

	h.m.Process(context.Background(), fixAt(riskInside, 40, t0))

	if metrics.FixPanics.Load() != before+1 {
		t.Fatal("expected panic to be recovered and counted")
	}

	// the next fix goes through
	h.m.Outbox = h.outbox
	h.process(fixAt(beitbridge, 40, t0))
	if len(h.notifier.sent) != 1 {
		t.Fatalf("expected the border alert to be notified, got %d", len(h.notifier.sent))
	}
}

func TestProcess_NotifyAndTripUpdateFailuresDoNotBlock(t *testing.T) {
	h := newHarness(t, testTrip("7", domain.TripInProgress))
	h.notifier.notifyFn = func(context.Context, domain.Alert) error { return errors.New("redis down") }
	h.updater.updateFn = func(context.Context, domain.TripAlertUpdate) error { return errors.New("db down") }
	before := metrics.TripUpdateFailed.Load()

	h.process(fixAt(riskInside, 40, t0))

	if len(h.writer.queued) != 1 {
		t.Fatalf("durable record should still be queued, got %d", len(h.writer.queued))
	}
	if h.writer.queued[0].Notified {
		t.Fatal("failed notification must not be marked notified")
	}
	if metrics.TripUpdateFailed.Load() != before+1 {
		t.Fatal("expected the failed trip write to be counted")
	}
	if trip, _ := h.trips.Get("7"); trip.Status != domain.TripAlert {
		t.Fatalf("memory stays authoritative when the write fails, got %s", trip.Status)
	}
}

func TestProcess_DoesNotWaitOnSlowDelivery(t *testing.T) {
	h := newHarness(t, testTrip("7", domain.TripInProgress))
	release := make(chan struct{})
	h.updater.updateFn = func(ctx context.Context, _ domain.TripAlertUpdate) error {
		<-release
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.outbox.Run(ctx)
		close(done)
	}()

	start := time.Now()
	h.m.Process(context.Background(), fixAt(riskInside, 40, t0))
	h.m.Process(context.Background(), fixAt(beitbridge, 40, t0.Add(time.Minute)))
	elapsed := time.Since(start)

	if elapsed > 200*time.Millisecond {
		t.Fatalf("fix processing waited on the trip write: %v", elapsed)
	}
	if trip, _ := h.trips.Get("7"); trip.Status != domain.TripAlert {
		t.Fatalf("expected the cached trip to move before the write lands, got %s", trip.Status)
	}

	close(release)
	cancel()
	<-done

	if len(h.updater.updates) != 2 {
		t.Fatalf("expected both trip writes after release, got %d", len(h.updater.updates))
	}
}

func TestTripStatusFor(t *testing.T) {
	tests := []struct {
		category domain.AlertCategory
		current  domain.TripStatus
		want     domain.TripStatus
		ok       bool
	}{
		{domain.AlertHighRisk, domain.TripInProgress, domain.TripAlert, true},
		{domain.AlertUnauthorizedStop, domain.TripAtBorder, domain.TripAlert, true},
		{domain.AlertBorder, domain.TripInProgress, domain.TripAtBorder, true},
		{domain.AlertBorder, domain.TripAlert, domain.TripAlert, true},
		{domain.AlertTollGate, domain.TripInProgress, "", false},
	}
	for _, tt := range tests {
		got, ok := tripStatusFor(tt.category, tt.current)
		if got != tt.want || ok != tt.ok {
			t.Errorf("%s from %s: got %s/%v, want %s/%v", tt.category, tt.current, got, ok, tt.want, tt.ok)
		}
	}
}
