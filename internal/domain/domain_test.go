package domain

import "testing"

func TestLevelFor(t *testing.T) {
	tests := []struct {
		points int
		want   Level
	}{
		{100, LevelGold}, {80, LevelGold}, {79, LevelSilver}, {60, LevelSilver},
		{59, LevelBronze}, {40, LevelBronze}, {39, LevelCritical}, {0, LevelCritical},
	}
	for _, tt := range tests {
		if got := LevelFor(tt.points); got != tt.want {
			t.Errorf("LevelFor(%d) = %s, want %s", tt.points, got, tt.want)
		}
	}
}

func TestTripAssignment(t *testing.T) {
	trip := Trip{
		ID: "7",
		VehicleAssignments: []VehicleAssignment{
			{Drivers: []Driver{{Name: " "}}, Vehicle: Vehicle{}},
			{Drivers: []Driver{{Name: "Lerato  Dlamini"}}, Vehicle: Vehicle{Plate: "abc 123"}},
		},
	}
	if got := trip.AssignedDriverName(); got != "Lerato  Dlamini" {
		t.Errorf("unexpected driver %q", got)
	}
	if got := trip.AssignedPlate(); got != "abc 123" {
		t.Errorf("unexpected plate %q", got)
	}

	other := Trip{VehicleAssignments: []VehicleAssignment{
		{Drivers: []Driver{{Name: "lerato dlamini"}}, Vehicle: Vehicle{Plate: "ABC123"}},
	}}
	if !trip.SameAssignment(&other) {
		t.Error("expected normalized assignments to be equal")
	}
	other.VehicleAssignments[0].Vehicle.Plate = "XYZ999"
	if trip.SameAssignment(&other) {
		t.Error("expected plate change to differ")
	}
}

func TestTripStatusTerminal(t *testing.T) {
	for _, s := range []TripStatus{TripCompleted, TripDelivered, TripCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []TripStatus{TripPending, TripInProgress, TripAtBorder, TripAlert} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestZoneRecordToZone(t *testing.T) {
	circle, err := ZoneRecord{ID: "z1", Category: "Toll-Gate", GeometryKind: "circle", Coordinates: "-26.1,28.0", Radius: 250}.ToZone()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if circle.Kind != GeometryCircle || circle.Category != ZoneTollGate || circle.Center.Lat != -26.1 {
		t.Errorf("unexpected zone %+v", circle)
	}

	poly, err := ZoneRecord{ID: "z2", Category: "high_risk", GeometryKind: "Polygon", Coordinates: "28.0,-26.2,0 28.0,-26.1,0 28.1,-26.1,0"}.ToZone()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if poly.Kind != GeometryPolygon || len(poly.Vertices) != 3 {
		t.Errorf("unexpected zone %+v", poly)
	}

	bad := []ZoneRecord{
		{ID: "b1", Category: "airport", GeometryKind: "circle", Coordinates: "1,1", Radius: 10},
		{ID: "b2", Category: "border", GeometryKind: "circle", Coordinates: "1,1"},
		{ID: "b3", Category: "border", GeometryKind: "line", Coordinates: "1,1"},
		{ID: "b4", Category: "border", GeometryKind: "polygon", Coordinates: "1,1"},
	}
	for _, r := range bad {
		if _, err := r.ToZone(); err == nil {
			t.Errorf("%s: expected error", r.ID)
		}
	}
}
