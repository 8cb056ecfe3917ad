// Package geo holds the distance and membership primitives used by the
// zone evaluator and the stop detector. Everything here is pure.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const earthRadiusMeters = 6371000

// edgeEpsilon is the tolerance, in degrees squared, used to decide that a point
// lies on a polygon edge.
const edgeEpsilon = 1e-12

var ErrInvalidCoordinates = errors.New("invalid coordinates")

type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// IsZero reports whether p is the (0,0) placeholder that trackers emit when
// they have no fix.
func (p Point) IsZero() bool {
	return p.Lat == 0 && p.Lon == 0
}

func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180 &&
		!math.IsNaN(p.Lat) && !math.IsNaN(p.Lon)
}

func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lon)
}

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b Point) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// InCircle reports whether p is within radius meters of center. The boundary
// counts as inside.
func InCircle(p, center Point, radius float64) bool {
	return Haversine(p, center) <= radius
}

// InPolygon runs a ray-casting test of p against ring. Longitude is treated as
// x and latitude as y. A point on an edge or a vertex is inside. The ring may
// be open or closed.
func InPolygon(p Point, ring []Point) bool {
	ring = openRing(ring)
	n := len(ring)
	if n < 3 {
		return false
	}

	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := ring[i], ring[j]
		if onSegment(p, a, b) {
			return true
		}
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) {
			x := (b.Lon-a.Lon)*(p.Lat-a.Lat)/(b.Lat-a.Lat) + a.Lon
			if p.Lon < x {
				inside = !inside
			}
		}
	}
	return inside
}

// Centroid returns the arithmetic mean of the ring's vertices. A closing
// vertex equal to the first one is ignored.
func Centroid(ring []Point) (Point, bool) {
	ring = openRing(ring)
	if len(ring) == 0 {
		return Point{}, false
	}
	var lat, lon float64
	for _, v := range ring {
		lat += v.Lat
		lon += v.Lon
	}
	n := float64(len(ring))
	return Point{Lat: lat / n, Lon: lon / n}, true
}

// ParseLatLon parses a "lat,lon" pair.
func ParseLatLon(s string) (Point, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) < 2 {
		return Point{}, fmt.Errorf("%w: expected lat,lon, got %q", ErrInvalidCoordinates, s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("%w: latitude %q", ErrInvalidCoordinates, parts[0])
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("%w: longitude %q", ErrInvalidCoordinates, parts[1])
	}
	p := Point{Lat: lat, Lon: lon}
	if !p.Valid() {
		return Point{}, fmt.Errorf("%w: out of range %q", ErrInvalidCoordinates, s)
	}
	return p, nil
}

// ParsePolygon parses a whitespace-separated list of "lon,lat[,elevation]"
// tuples, the layout used by KML exports.
func ParsePolygon(s string) ([]Point, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty polygon", ErrInvalidCoordinates)
	}

	ring := make([]Point, 0, len(fields))
	for _, f := range fields {
		parts := strings.Split(f, ",")
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: vertex %q", ErrInvalidCoordinates, f)
		}
		lon, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: vertex %q", ErrInvalidCoordinates, f)
		}
		lat, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: vertex %q", ErrInvalidCoordinates, f)
		}
		p := Point{Lat: lat, Lon: lon}
		if !p.Valid() {
			return nil, fmt.Errorf("%w: vertex out of range %q", ErrInvalidCoordinates, f)
		}
		ring = append(ring, p)
	}
	if len(openRing(ring)) < 3 {
		return nil, fmt.Errorf("%w: polygon needs at least 3 vertices", ErrInvalidCoordinates)
	}
	return ring, nil
}

func openRing(ring []Point) []Point {
	if len(ring) > 1 && ring[0] == ring[len(ring)-1] {
		return ring[:len(ring)-1]
	}
	return ring
}

func onSegment(p, a, b Point) bool {
	cross := (b.Lon-a.Lon)*(p.Lat-a.Lat) - (b.Lat-a.Lat)*(p.Lon-a.Lon)
	if math.Abs(cross) > edgeEpsilon {
		return false
	}
	return p.Lon >= math.Min(a.Lon, b.Lon)-edgeEpsilon && p.Lon <= math.Max(a.Lon, b.Lon)+edgeEpsilon &&
		p.Lat >= math.Min(a.Lat, b.Lat)-edgeEpsilon && p.Lat <= math.Max(a.Lat, b.Lat)+edgeEpsilon
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
