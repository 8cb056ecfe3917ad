package zones

import (
	"context"
	"errors"
	"testing"

	"fleet-monitor/monitor/internal/domain"
	"fleet-monitor/monitor/internal/geo"
)

type mockLoader struct {
	loadFn func(ctx context.Context) ([]domain.Zone, error)
}

func (m *mockLoader) LoadZones(ctx context.Context) ([]domain.Zone, error) {
	return m.loadFn(ctx)
}

type mockGeocoder struct {
	points map[string]geo.Point
	calls  []string
}

func (m *mockGeocoder) Geocode(_ context.Context, address string) (geo.Point, bool) {
	m.calls = append(m.calls, address)
	p, ok := m.points[address]
	return p, ok
}

// roughly 1.1km x 1.0km around Beitbridge
func bigSquare() []geo.Point {
	return []geo.Point{
		{Lat: -22.22, Lon: 29.98},
		{Lat: -22.21, Lon: 29.98},
		{Lat: -22.21, Lon: 29.99},
		{Lat: -22.22, Lon: 29.99},
	}
}

func staticCache(zones ...domain.Zone) *Cache {
	c := NewCache(&mockLoader{loadFn: func(context.Context) ([]domain.Zone, error) { return zones, nil }}, nil)
	c.Replace(zones)
	return c
}

func TestCacheRefresh_KeepsPreviousOnFailure(t *testing.T) {
	fail := false
	loader := &mockLoader{loadFn: func(context.Context) ([]domain.Zone, error) {
		if fail {
			return nil, errors.New("db down")
		}
		return []domain.Zone{
			{ID: "t1", Category: domain.ZoneTollGate, Kind: domain.GeometryCircle, RadiusMeters: 10},
			{ID: "h1", Category: domain.ZoneHighRisk, Kind: domain.GeometryPolygon, Vertices: bigSquare()},
		}, nil
	}}
	c := NewCache(loader, nil)

	if c.Len() != 0 || c.Zones(domain.ZoneTollGate) != nil {
		t.Fatal("expected empty cache before first refresh")
	}
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Len() != 2 || len(c.Zones(domain.ZoneHighRisk)) != 1 {
		t.Fatalf("expected 2 zones, got %d", c.Len())
	}

	fail = true
	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if _, ok := c.Zone("t1"); !ok {
		t.Fatal("expected previous zones to survive a failed refresh")
	}
}

func TestContains_CircleBoundary(t *testing.T) {
	center := geo.Point{Lat: -22.215, Lon: 29.985}
	p := geo.Point{Lat: -22.2141, Lon: 29.9857}
	r := geo.Haversine(p, center)
	e := NewEvaluator(staticCache(), nil)

	in := domain.Zone{ID: "c", Category: domain.ZoneBorder, Kind: domain.GeometryCircle, Center: center, RadiusMeters: r}
	if !e.Contains(in, p) {
		t.Fatal("point on circle boundary should be inside")
	}
	in.RadiusMeters = r - 1e-6
	if e.Contains(in, p) {
		t.Fatal("point just beyond circle boundary should be outside")
	}
}

func TestContains_TollGateCentroidBoundary(t *testing.T) {
	ring := bigSquare()
	centroid, _ := geo.Centroid(ring)
	p := geo.Point{Lat: centroid.Lat + 0.0012, Lon: centroid.Lon - 0.0007}
	r := geo.Haversine(p, centroid)

	e := NewEvaluator(staticCache(), nil)
	gate := domain.Zone{ID: "tg", Category: domain.ZoneTollGate, Kind: domain.GeometryPolygon, Vertices: ring, RadiusMeters: r}
	if !e.Contains(gate, p) {
		t.Fatal("fix on the centroid radius should be at the toll gate")
	}
	gate.RadiusMeters = r - 1e-6
	if e.Contains(gate, p) {
		t.Fatal("fix beyond the centroid radius should not be at the toll gate")
	}
}

func TestContains_StrategyPerCategory(t *testing.T) {
	ring := bigSquare()
	// inside the square, ~500m from its centroid
	corner := geo.Point{Lat: -22.2185, Lon: 29.9815}

	e := NewEvaluator(staticCache(), nil)
	highRisk := domain.Zone{ID: "h", Category: domain.ZoneHighRisk, Kind: domain.GeometryPolygon, Vertices: ring}
	toll := domain.Zone{ID: "t", Category: domain.ZoneTollGate, Kind: domain.GeometryPolygon, Vertices: ring}

	if e.StrategyFor(domain.ZoneHighRisk) != StrategyRayCasting {
		t.Fatal("high risk zones should use ray casting")
	}
	if !e.Contains(highRisk, corner) {
		t.Error("ray casting should place the corner inside")
	}
	if e.Contains(toll, corner) {
		t.Error("centroid radius with the 100m default should place the corner outside")
	}

	centroid, _ := geo.Centroid(ring)
	if !e.Contains(toll, centroid) {
		t.Error("centroid should always be at the toll gate")
	}

	overridden := NewEvaluator(staticCache(), nil, WithStrategies(Strategies{domain.ZoneTollGate: StrategyRayCasting}))
	if !overridden.Contains(toll, corner) {
		t.Error("override should switch toll gates to ray casting")
	}
}

func TestEvaluate(t *testing.T) {
	far := domain.Zone{ID: "far", Category: domain.ZoneBorder, Kind: domain.GeometryCircle, Center: geo.Point{Lat: -25, Lon: 31}, RadiusMeters: 100}
	near := domain.Zone{ID: "near", Category: domain.ZoneBorder, Kind: domain.GeometryCircle, Center: geo.Point{Lat: -22.215, Lon: 29.985}, RadiusMeters: 500}
	e := NewEvaluator(staticCache(far, near), nil)

	z, ok := e.Evaluate(geo.Point{Lat: -22.2151, Lon: 29.9851}, domain.ZoneBorder)
	if !ok || z.ID != "near" {
		t.Fatalf("expected near, got %v %v", z.ID, ok)
	}
	if _, ok := e.Evaluate(geo.Point{Lat: -22.2151, Lon: 29.9851}, domain.ZoneTollGate); ok {
		t.Fatal("expected no toll gate match")
	}
}

func TestAuthorizeStop(t *testing.T) {
	depot := domain.Zone{ID: "depot", Category: domain.ZoneStopPoint, Kind: domain.GeometryCircle, Center: geo.Point{Lat: -26.10, Lon: 28.05}, RadiusMeters: 200}
	pickup := geo.Point{Lat: -26.30, Lon: 28.20}
	dest := geo.Point{Lat: -25.75, Lon: 28.19}
	nowhere := geo.Point{Lat: -24.0, Lon: 29.0}

	geocoder := &mockGeocoder{points: map[string]geo.Point{"1 Main Rd, Germiston": pickup}}
	e := NewEvaluator(staticCache(depot), nil, WithGeocoder(geocoder))
	ctx := context.Background()

	tests := []struct {
		name      string
		trip      domain.Trip
		at        geo.Point
		want      bool
		reason    string
		matchedBy string
	}{
		{
			name:   "no stop points",
			trip:   domain.Trip{ID: "1"},
			at:     nowhere,
			reason: ReasonNoStopPoints,
		},
		{
			name:   "stop points not found",
			trip:   domain.Trip{ID: "2", AuthorizedStopZoneIDs: []string{"gone"}},
			at:     nowhere,
			reason: ReasonStopPointsNotFound,
		},
		{
			name:   "outside zones",
			trip:   domain.Trip{ID: "3", AuthorizedStopZoneIDs: []string{"depot", "gone"}},
			at:     nowhere,
			reason: ReasonOutsideZones,
		},
		{
			name:      "inside stop zone",
			trip:      domain.Trip{ID: "4", AuthorizedStopZoneIDs: []string{"depot"}},
			at:        geo.Point{Lat: -26.1005, Lon: 28.0505},
			want:      true,
			matchedBy: "depot",
		},
		{
			name:      "near geocoded pickup",
			trip:      domain.Trip{ID: "5", PickupLocations: []domain.Location{{Address: "1 Main Rd, Germiston"}}},
			at:        geo.Point{Lat: pickup.Lat + 0.004, Lon: pickup.Lon},
			want:      true,
			matchedBy: "pickup",
		},
		{
			name:   "beyond pickup proximity",
			trip:   domain.Trip{ID: "6", PickupLocations: []domain.Location{{Address: "1 Main Rd, Germiston"}}},
			at:     geo.Point{Lat: pickup.Lat + 0.01, Lon: pickup.Lon},
			reason: ReasonNoStopPoints,
		},
		{
			name:      "pre-geocoded pickup",
			trip:      domain.Trip{ID: "7", PickupLocations: []domain.Location{{Address: "unknown", Point: &pickup}}},
			at:        pickup,
			want:      true,
			matchedBy: "pickup",
		},
		{
			name:      "near destination",
			trip:      domain.Trip{ID: "8", AuthorizedStopZoneIDs: []string{"depot"}, Destination: &dest},
			at:        geo.Point{Lat: dest.Lat, Lon: dest.Lon + 0.005},
			want:      true,
			matchedBy: "destination",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.AuthorizeStop(ctx, &tt.trip, tt.at)
			if got.Authorized != tt.want {
				t.Fatalf("authorized = %v, want %v (%+v)", got.Authorized, tt.want, got)
			}
			if got.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", got.Reason, tt.reason)
			}
			if got.MatchedBy != tt.matchedBy {
				t.Errorf("matchedBy = %q, want %q", got.MatchedBy, tt.matchedBy)
			}
		})
	}
}
