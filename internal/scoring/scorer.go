// Package scoring keeps per-driver safety points. Each driver starts at 100
// and loses one point per violation once a category's free passes are used
// up.
package scoring

import (
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"fleet-monitor/monitor/internal/domain"
	"fleet-monitor/monitor/internal/metrics"
)

const DefaultThreshold = 4

var (
	stationaryKeywords   = []string{"ignition off", "engine off", "stationary", "parked", "idle", "stopped"}
	drivingKeywords      = []string{"driving", "moving", "in motion", "ignition on", "engine on"}
	harshBrakingMarkers  = []string{"harsh brak", "hard brak", "harsh_brak", "harshbrak"}
	routeDeviationMarker = []string{"route deviation", "off route", "off-route", "route_deviation"}
)

type Config struct {
	StartingPoints int
	Thresholds     map[domain.ViolationCategory]int
	SpeedLimitKmh  float64
	// MovingSpeedKmh is the speed above which a fix counts as driving when
	// the event text says nothing either way.
	MovingSpeedKmh float64
	NightStartHour int
	NightEndHour   int
	// ClockOffset shifts fix timestamps into the fleet's local time before
	// the night window is applied.
	ClockOffset time.Duration
}

func DefaultConfig() Config {
	thresholds := make(map[domain.ViolationCategory]int, len(domain.ViolationCategories))
	for _, c := range domain.ViolationCategories {
		thresholds[c] = DefaultThreshold
	}
	return Config{
		StartingPoints: domain.MaxPoints,
		Thresholds:     thresholds,
		SpeedLimitKmh:  120,
		MovingSpeedKmh: 5,
		NightStartHour: 22,
		NightEndHour:   5,
	}
}

// Violation describes what one trigger did to a driver's score.
type Violation struct {
	DriverName string
	Category   domain.ViolationCategory
	Count      int
	Deducted   bool
	Points     int
	Level      domain.Level
}

type driverState struct {
	name      string
	points    int
	counts    map[domain.ViolationCategory]int
	exceeded  map[domain.ViolationCategory]bool
	updatedAt time.Time
}

func (d *driverState) snapshot() domain.DriverScore {
	counts := make(map[domain.ViolationCategory]int, len(domain.ViolationCategories))
	exceeded := make(map[domain.ViolationCategory]bool, len(domain.ViolationCategories))
	for _, c := range domain.ViolationCategories {
		counts[c] = d.counts[c]
		exceeded[c] = d.exceeded[c]
	}
	return domain.DriverScore{
		DriverName:        d.name,
		CurrentPoints:     d.points,
		Level:             domain.LevelFor(d.points),
		Counts:            counts,
		ThresholdExceeded: exceeded,
		UpdatedAt:         d.updatedAt,
	}
}

// Scorer holds the scoring state of every driver seen so far. Mutations are
// synchronous; persistence happens through DrainDirty on a timer.
type Scorer struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	drivers map[string]*driverState
	dirty   map[string]struct{}
}

func NewScorer(cfg Config, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	def := DefaultConfig()
	if cfg.StartingPoints <= 0 || cfg.StartingPoints > domain.MaxPoints {
		cfg.StartingPoints = def.StartingPoints
	}
	if cfg.SpeedLimitKmh <= 0 {
		cfg.SpeedLimitKmh = def.SpeedLimitKmh
	}
	if cfg.MovingSpeedKmh <= 0 {
		cfg.MovingSpeedKmh = def.MovingSpeedKmh
	}
	// an unset or empty window falls back to 22:00-05:59
	if !validHour(cfg.NightStartHour) || !validHour(cfg.NightEndHour) || cfg.NightStartHour == cfg.NightEndHour {
		cfg.NightStartHour = def.NightStartHour
		cfg.NightEndHour = def.NightEndHour
	}
	thresholds := def.Thresholds
	for c, v := range cfg.Thresholds {
		if v >= 0 {
			thresholds[c] = v
		}
	}
	cfg.Thresholds = thresholds

	return &Scorer{
		cfg:     cfg,
		log:     logger.With(slog.String("component", "scorer")),
		drivers: make(map[string]*driverState),
		dirty:   make(map[string]struct{}),
	}
}

// IsDriving gates scoring. Stationary wording in the event or status text
// wins over everything; otherwise driving wording or speed above the moving
// threshold means driving.
func (s *Scorer) IsDriving(fix *domain.VehicleFix) bool {
	text := strings.ToLower(fix.EventText + " " + fix.StatusText)
	if containsAny(text, stationaryKeywords) {
		return false
	}
	return containsAny(text, drivingKeywords) || fix.SpeedKmh > s.cfg.MovingSpeedKmh
}

// Triggers lists the violation categories a fix trips, without touching any
// state.
func (s *Scorer) Triggers(fix *domain.VehicleFix) []domain.ViolationCategory {
	var out []domain.ViolationCategory
	if fix.SpeedKmh > s.cfg.SpeedLimitKmh {
		out = append(out, domain.ViolationSpeed)
	}
	event := strings.ToLower(fix.EventText)
	if containsAny(event, harshBrakingMarkers) {
		out = append(out, domain.ViolationHarshBraking)
	}
	if s.isNight(fix.Timestamp) {
		out = append(out, domain.ViolationNightDriving)
	}
	if containsAny(event, routeDeviationMarker) {
		out = append(out, domain.ViolationRoute)
	}
	return out
}

// Evaluate applies every trigger of a driving fix to driverName.
func (s *Scorer) Evaluate(driverName string, fix *domain.VehicleFix) []Violation {
	if domain.NormalizeName(driverName) == "" || !s.IsDriving(fix) {
		return nil
	}
	triggers := s.Triggers(fix)
	if len(triggers) == 0 {
		return nil
	}
	out := make([]Violation, 0, len(triggers))
	for _, c := range triggers {
		out = append(out, s.Record(driverName, c, fix.Timestamp))
	}
	return out
}

// Record counts one violation. Once the count passes the category
// threshold every further violation costs a point, and the category's
// exceeded flag is set for good.
func (s *Scorer) Record(driverName string, category domain.ViolationCategory, at time.Time) Violation {
	key := domain.NormalizeName(driverName)

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drivers[key]
	if !ok {
		d = &driverState{
			name:     strings.TrimSpace(driverName),
			points:   s.cfg.StartingPoints,
			counts:   make(map[domain.ViolationCategory]int),
			exceeded: make(map[domain.ViolationCategory]bool),
		}
		s.drivers[key] = d
	}

	d.counts[category]++
	v := Violation{DriverName: d.name, Category: category, Count: d.counts[category]}
	if d.counts[category] > s.threshold(category) {
		if d.points > domain.MinPoints {
			d.points--
		}
		d.exceeded[category] = true
		v.Deducted = true
	}
	d.updatedAt = at
	s.dirty[key] = struct{}{}

	v.Points = d.points
	v.Level = domain.LevelFor(d.points)
	metrics.ViolationsRecorded.Add(1)
	return v
}

func (s *Scorer) Get(driverName string) (domain.DriverScore, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[domain.NormalizeName(driverName)]
	if !ok {
		return domain.DriverScore{}, false
	}
	return d.snapshot(), true
}

// DrainDirty returns the drivers changed since the last drain and clears
// their dirty mark.
func (s *Scorer) DrainDirty() []domain.DriverScore {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.dirty) == 0 {
		return nil
	}
	out := make([]domain.DriverScore, 0, len(s.dirty))
	for key := range s.dirty {
		if d, ok := s.drivers[key]; ok {
			out = append(out, d.snapshot())
		}
	}
	s.dirty = make(map[string]struct{})
	sortScores(out)
	return out
}

// MarkDirty queues drivers again, typically after a failed flush.
func (s *Scorer) MarkDirty(driverNames ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range driverNames {
		key := domain.NormalizeName(n)
		if _, ok := s.drivers[key]; ok {
			s.dirty[key] = struct{}{}
		}
	}
}

func (s *Scorer) DirtyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirty)
}

// Snapshot copies every driver's state, sorted by name.
func (s *Scorer) Snapshot() []domain.DriverScore {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.DriverScore, 0, len(s.drivers))
	for _, d := range s.drivers {
		out = append(out, d.snapshot())
	}
	sortScores(out)
	return out
}

// Restore seeds state loaded from storage. Drivers already scored in this
// process are left alone, since memory is the source of truth.
func (s *Scorer) Restore(scores []domain.DriverScore) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	restored := 0
	for _, sc := range scores {
		key := domain.NormalizeName(sc.DriverName)
		if key == "" {
			continue
		}
		if _, ok := s.drivers[key]; ok {
			continue
		}
		d := &driverState{
			name:      strings.TrimSpace(sc.DriverName),
			points:    clampPoints(sc.CurrentPoints),
			counts:    make(map[domain.ViolationCategory]int),
			exceeded:  make(map[domain.ViolationCategory]bool),
			updatedAt: sc.UpdatedAt,
		}
		for c, n := range sc.Counts {
			d.counts[c] = n
		}
		for c, ex := range sc.ThresholdExceeded {
			if ex {
				d.exceeded[c] = true
			}
		}
		s.drivers[key] = d
		restored++
	}
	if restored > 0 {
		s.log.Info("scores_restored", slog.Int("drivers", restored))
	}
	return restored
}

func (s *Scorer) threshold(c domain.ViolationCategory) int {
	if v, ok := s.cfg.Thresholds[c]; ok {
		return v
	}
	return DefaultThreshold
}

func (s *Scorer) isNight(ts time.Time) bool {
	h := ts.UTC().Add(s.cfg.ClockOffset).Hour()
	start, end := s.cfg.NightStartHour, s.cfg.NightEndHour
	if start > end {
		return h >= start || h <= end
	}
	return h >= start && h <= end
}

func validHour(h int) bool { return h >= 0 && h <= 23 }

func clampPoints(p int) int {
	switch {
	case p > domain.MaxPoints:
		return domain.MaxPoints
	case p < domain.MinPoints:
		return domain.MinPoints
	default:
		return p
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func sortScores(scores []domain.DriverScore) {
	sort.Slice(scores, func(i, j int) bool { return scores[i].DriverName < scores[j].DriverName })
}
