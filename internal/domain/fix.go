package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fleet-monitor/monitor/internal/geo"
)

var ErrInvalidFix = errors.New("invalid fix")

// VehicleFix is one validated telemetry sample. It is never persisted.
type VehicleFix struct {
	ReceivedAt time.Time
	Timestamp  time.Time

	Plate      string
	DriverName string

	Position geo.Point
	SpeedKmh float64

	EventText  string
	StatusText string
	Odometer   *float64
}

// VehicleKey identifies the vehicle for ordering purposes. Plate wins over
// driver name because it is the more stable identifier.
func (f *VehicleFix) VehicleKey() string {
	if p := NormalizePlate(f.Plate); p != "" {
		return p
	}
	return NormalizeName(f.DriverName)
}

// RawFix is the loosely-typed telemetry payload. Every field is optional;
// a nil pointer means the field was absent.
type RawFix struct {
	Plate      *string
	DriverName *string
	Speed      *float64
	Latitude   *float64
	Longitude  *float64
	LocTime    *time.Time
	NameEvent  *string
	Statuses   *string
	Mileage    *float64
}

var fieldAliases = map[string][]string{
	"plate":      {"plate", "platenumber", "registration"},
	"drivername": {"drivername", "driver"},
	"speed":      {"speed"},
	"latitude":   {"latitude", "lat"},
	"longitude":  {"longitude", "lon", "lng"},
	"loctime":    {"loctime", "timestamp", "time"},
	"nameevent":  {"nameevent", "event"},
	"statuses":   {"statuses", "status"},
	"mileage":    {"mileage", "odometer"},
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006/01/02 15:04:05",
}

// DecodeRawFix decodes a telemetry payload with mixed key casing and mixed
// value types. A field that is present but cannot be read as its type is an
// error; the caller drops such fixes.
func DecodeRawFix(payload []byte) (RawFix, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return RawFix{}, fmt.Errorf("%w: %v", ErrInvalidFix, err)
	}

	lowered := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		lowered[strings.ToLower(k)] = v
	}
	lookup := func(name string) (json.RawMessage, bool) {
		for _, alias := range fieldAliases[name] {
			if v, ok := lowered[alias]; ok && !isNull(v) {
				return v, true
			}
		}
		return nil, false
	}

	var raw RawFix
	var err error
	if v, ok := lookup("plate"); ok {
		raw.Plate = decodeString(v)
	}
	if v, ok := lookup("drivername"); ok {
		raw.DriverName = decodeString(v)
	}
	if v, ok := lookup("nameevent"); ok {
		raw.NameEvent = decodeString(v)
	}
	if v, ok := lookup("statuses"); ok {
		raw.Statuses = decodeString(v)
	}
	if v, ok := lookup("speed"); ok {
		if raw.Speed, err = decodeFloat(v); err != nil {
			return RawFix{}, fmt.Errorf("%w: speed: %v", ErrInvalidFix, err)
		}
	}
	if v, ok := lookup("latitude"); ok {
		if raw.Latitude, err = decodeFloat(v); err != nil {
			return RawFix{}, fmt.Errorf("%w: latitude: %v", ErrInvalidFix, err)
		}
	}
	if v, ok := lookup("longitude"); ok {
		if raw.Longitude, err = decodeFloat(v); err != nil {
			return RawFix{}, fmt.Errorf("%w: longitude: %v", ErrInvalidFix, err)
		}
	}
	if v, ok := lookup("mileage"); ok {
		// odometer is informational only; a garbled value is ignored
		raw.Mileage, _ = decodeFloat(v)
	}
	if v, ok := lookup("loctime"); ok {
		if raw.LocTime, err = decodeTime(v); err != nil {
			return RawFix{}, fmt.Errorf("%w: loctime: %v", ErrInvalidFix, err)
		}
	}
	return raw, nil
}

// ParseFix validates raw and produces a VehicleFix. Fixes without
// coordinates, at (0,0), or out of range are rejected. A missing timestamp
// falls back to receivedAt and a missing speed to zero.
func ParseFix(raw RawFix, receivedAt time.Time) (VehicleFix, error) {
	if raw.Latitude == nil || raw.Longitude == nil {
		return VehicleFix{}, fmt.Errorf("%w: missing coordinates", ErrInvalidFix)
	}
	pos := geo.Point{Lat: *raw.Latitude, Lon: *raw.Longitude}
	if pos.IsZero() {
		return VehicleFix{}, fmt.Errorf("%w: zero coordinates", ErrInvalidFix)
	}
	if !pos.Valid() {
		return VehicleFix{}, fmt.Errorf("%w: coordinates out of range %s", ErrInvalidFix, pos)
	}

	fix := VehicleFix{
		ReceivedAt: receivedAt,
		Timestamp:  receivedAt,
		Position:   pos,
		Odometer:   raw.Mileage,
	}
	if raw.LocTime != nil {
		fix.Timestamp = *raw.LocTime
	}
	if raw.Speed != nil {
		if *raw.Speed < 0 {
			return VehicleFix{}, fmt.Errorf("%w: negative speed", ErrInvalidFix)
		}
		fix.SpeedKmh = *raw.Speed
	}
	if raw.Plate != nil {
		fix.Plate = strings.TrimSpace(*raw.Plate)
	}
	if raw.DriverName != nil {
		fix.DriverName = strings.TrimSpace(*raw.DriverName)
	}
	if raw.NameEvent != nil {
		fix.EventText = *raw.NameEvent
	}
	if raw.Statuses != nil {
		fix.StatusText = *raw.Statuses
	}
	if fix.Plate == "" && fix.DriverName == "" {
		return VehicleFix{}, fmt.Errorf("%w: no plate or driver", ErrInvalidFix)
	}
	return fix, nil
}

func isNull(v json.RawMessage) bool {
	return len(bytes.TrimSpace(v)) == 0 || string(bytes.TrimSpace(v)) == "null"
}

func decodeString(v json.RawMessage) *string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return &s
	}
	var list []string
	if err := json.Unmarshal(v, &list); err == nil {
		joined := strings.Join(list, ", ")
		return &joined
	}
	// numbers and booleans are kept verbatim
	s = strings.TrimSpace(string(v))
	return &s
}

func decodeFloat(v json.RawMessage) (*float64, error) {
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return &f, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return nil, fmt.Errorf("not a number: %s", string(v))
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("not a number: %q", s)
	}
	return &f, nil
}

func decodeTime(v json.RawMessage) (*time.Time, error) {
	var n float64
	if err := json.Unmarshal(v, &n); err == nil {
		t := unixTime(n)
		return &t, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return nil, fmt.Errorf("unsupported time %s", string(v))
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		t := unixTime(n)
		return &t, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unparseable time %q", s)
}

// unixTime accepts seconds or milliseconds.
func unixTime(n float64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(int64(n)).UTC()
	}
	return time.Unix(int64(n), 0).UTC()
}
