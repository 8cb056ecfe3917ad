package domain

import (
	"fmt"
	"strings"

	"fleet-monitor/monitor/internal/geo"
)

type ZoneCategory string

const (
	ZoneHighRisk  ZoneCategory = "high_risk"
	ZoneTollGate  ZoneCategory = "toll_gate"
	ZoneBorder    ZoneCategory = "border"
	ZoneStopPoint ZoneCategory = "stop_point"
)

var ZoneCategories = []ZoneCategory{ZoneHighRisk, ZoneTollGate, ZoneBorder, ZoneStopPoint}

func ParseZoneCategory(s string) (ZoneCategory, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high_risk", "high-risk", "highrisk":
		return ZoneHighRisk, nil
	case "toll_gate", "toll-gate", "tollgate", "toll":
		return ZoneTollGate, nil
	case "border":
		return ZoneBorder, nil
	case "stop_point", "stop-point", "stoppoint", "authorized_stop":
		return ZoneStopPoint, nil
	default:
		return "", fmt.Errorf("unknown zone category %q", s)
	}
}

type GeometryKind string

const (
	GeometryCircle  GeometryKind = "circle"
	GeometryPolygon GeometryKind = "polygon"
)

// DefaultZoneRadiusMeters applies to polygons evaluated by centroid when the
// zone has no radius of its own.
const DefaultZoneRadiusMeters = 100

type Zone struct {
	ID           string
	Name         string
	Category     ZoneCategory
	Kind         GeometryKind
	Center       geo.Point
	Vertices     []geo.Point
	RadiusMeters float64
}

// ZoneRecord is the zone row as stored, before its coordinates are parsed.
type ZoneRecord struct {
	ID           string
	Name         string
	Category     string
	GeometryKind string
	Coordinates  string
	Radius       float64
}

// ToZone parses the record's coordinate string according to its geometry
// kind: "lat,lon" for circles and "lon,lat,elevation" triples for polygons.
func (r ZoneRecord) ToZone() (Zone, error) {
	category, err := ParseZoneCategory(r.Category)
	if err != nil {
		return Zone{}, err
	}
	z := Zone{
		ID:           r.ID,
		Name:         r.Name,
		Category:     category,
		RadiusMeters: r.Radius,
	}

	switch strings.ToLower(strings.TrimSpace(r.GeometryKind)) {
	case "circle", "point":
		center, err := geo.ParseLatLon(r.Coordinates)
		if err != nil {
			return Zone{}, fmt.Errorf("zone %s: %w", r.ID, err)
		}
		if r.Radius <= 0 {
			return Zone{}, fmt.Errorf("zone %s: circle without radius", r.ID)
		}
		z.Kind = GeometryCircle
		z.Center = center
	case "polygon":
		ring, err := geo.ParsePolygon(r.Coordinates)
		if err != nil {
			return Zone{}, fmt.Errorf("zone %s: %w", r.ID, err)
		}
		z.Kind = GeometryPolygon
		z.Vertices = ring
	default:
		return Zone{}, fmt.Errorf("zone %s: unknown geometry kind %q", r.ID, r.GeometryKind)
	}
	return z, nil
}
