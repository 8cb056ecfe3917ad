package zones

import (
	"context"
	"io"
	"log/slog"

	"fleet-monitor/monitor/internal/domain"
	"fleet-monitor/monitor/internal/geo"
)

// PolygonStrategy selects how a polygon zone decides membership. Zone data
// was drawn against a specific strategy per category, so the two are kept
// apart rather than merged.
type PolygonStrategy string

const (
	// StrategyCentroidRadius treats the polygon as a circle around the mean
	// of its vertices.
	StrategyCentroidRadius PolygonStrategy = "centroid_radius"
	// StrategyRayCasting runs a true point-in-polygon test.
	StrategyRayCasting PolygonStrategy = "ray_casting"
)

type Strategies map[domain.ZoneCategory]PolygonStrategy

func DefaultStrategies() Strategies {
	return Strategies{
		domain.ZoneHighRisk:  StrategyRayCasting,
		domain.ZoneTollGate:  StrategyCentroidRadius,
		domain.ZoneBorder:    StrategyCentroidRadius,
		domain.ZoneStopPoint: StrategyCentroidRadius,
	}
}

// DefaultProximityMeters is the radius around pickups and the destination
// inside which a stop counts as authorized.
const DefaultProximityMeters = 700

const (
	ReasonNoStopPoints       = "No authorized stop points defined"
	ReasonStopPointsNotFound = "Authorized stop points not found"
	ReasonOutsideZones       = "Outside all authorized zones"
)

type Geocoder interface {
	Geocode(ctx context.Context, address string) (geo.Point, bool)
}

type StopAuthorization struct {
	Authorized bool
	Reason     string
	// MatchedBy names the candidate that authorized the stop: a zone id,
	// "pickup" or "destination".
	MatchedBy string
}

type Evaluator struct {
	cache      *Cache
	strategies Strategies
	geocoder   Geocoder
	proximity  float64
	log        *slog.Logger
}

type EvaluatorOption func(*Evaluator)

func WithStrategies(s Strategies) EvaluatorOption {
	return func(e *Evaluator) {
		for category, strategy := range s {
			e.strategies[category] = strategy
		}
	}
}

func WithGeocoder(g Geocoder) EvaluatorOption {
	return func(e *Evaluator) { e.geocoder = g }
}

func WithProximity(meters float64) EvaluatorOption {
	return func(e *Evaluator) {
		if meters > 0 {
			e.proximity = meters
		}
	}
}

func NewEvaluator(cache *Cache, logger *slog.Logger, opts ...EvaluatorOption) *Evaluator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e := &Evaluator{
		cache:      cache,
		strategies: DefaultStrategies(),
		proximity:  DefaultProximityMeters,
		log:        logger.With(slog.String("component", "zone_evaluator")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Evaluator) StrategyFor(category domain.ZoneCategory) PolygonStrategy {
	if s, ok := e.strategies[category]; ok {
		return s
	}
	return StrategyCentroidRadius
}

// Contains reports whether p lies in z. Boundaries are inclusive for both
// geometry kinds.
func (e *Evaluator) Contains(z domain.Zone, p geo.Point) bool {
	switch z.Kind {
	case domain.GeometryCircle:
		return geo.InCircle(p, z.Center, z.RadiusMeters)
	case domain.GeometryPolygon:
		if e.StrategyFor(z.Category) == StrategyRayCasting {
			return geo.InPolygon(p, z.Vertices)
		}
		centroid, ok := geo.Centroid(z.Vertices)
		if !ok {
			return false
		}
		radius := z.RadiusMeters
		if radius <= 0 {
			radius = domain.DefaultZoneRadiusMeters
		}
		return geo.InCircle(p, centroid, radius)
	default:
		return false
	}
}

// Evaluate returns the first zone of the category containing p.
func (e *Evaluator) Evaluate(p geo.Point, category domain.ZoneCategory) (domain.Zone, bool) {
	for _, z := range e.cache.Zones(category) {
		if e.Contains(z, p) {
			return z, true
		}
	}
	return domain.Zone{}, false
}

// AuthorizeStop checks a stop position against every place the trip is
// allowed to stop: its authorized stop zones, its pickups and its
// destination.
func (e *Evaluator) AuthorizeStop(ctx context.Context, trip *domain.Trip, p geo.Point) StopAuthorization {
	resolved := 0
	for _, id := range trip.AuthorizedStopZoneIDs {
		z, ok := e.cache.Zone(id)
		if !ok {
			continue
		}
		resolved++
		if e.Contains(z, p) {
			return StopAuthorization{Authorized: true, MatchedBy: z.ID}
		}
	}

	for _, loc := range trip.PickupLocations {
		point, ok := e.locate(ctx, loc)
		if !ok {
			continue
		}
		if geo.InCircle(p, point, e.proximity) {
			return StopAuthorization{Authorized: true, MatchedBy: "pickup"}
		}
	}

	if trip.Destination != nil && geo.InCircle(p, *trip.Destination, e.proximity) {
		return StopAuthorization{Authorized: true, MatchedBy: "destination"}
	}

	switch {
	case len(trip.AuthorizedStopZoneIDs) == 0:
		return StopAuthorization{Reason: ReasonNoStopPoints}
	case resolved == 0:
		return StopAuthorization{Reason: ReasonStopPointsNotFound}
	default:
		return StopAuthorization{Reason: ReasonOutsideZones}
	}
}

func (e *Evaluator) locate(ctx context.Context, loc domain.Location) (geo.Point, bool) {
	if loc.Point != nil {
		return *loc.Point, true
	}
	if e.geocoder == nil || loc.Address == "" {
		return geo.Point{}, false
	}
	p, ok := e.geocoder.Geocode(ctx, loc.Address)
	if !ok {
		e.log.Debug("pickup_not_geocoded", slog.String("address", loc.Address))
	}
	return p, ok
}
