package domain

import (
	"strings"
	"time"

	"fleet-monitor/monitor/internal/geo"
)

type TripStatus string

const (
	TripPending    TripStatus = "pending"
	TripInProgress TripStatus = "in_progress"
	TripAtBorder   TripStatus = "at_border"
	TripAlert      TripStatus = "alert"
	TripCompleted  TripStatus = "completed"
	TripDelivered  TripStatus = "delivered"
	TripCancelled  TripStatus = "cancelled"
)

// Terminal trips are evicted from the active cache.
func (s TripStatus) Terminal() bool {
	switch s {
	case TripCompleted, TripDelivered, TripCancelled:
		return true
	default:
		return false
	}
}

type Driver struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type Vehicle struct {
	ID    string `json:"id,omitempty"`
	Plate string `json:"plate"`
}

// VehicleAssignment is one entry of the trip's vehicle_assignments payload.
type VehicleAssignment struct {
	Drivers []Driver `json:"drivers"`
	Vehicle Vehicle  `json:"vehicle"`
}

// Location is a pickup or dropoff. Point is nil until the address has been
// geocoded.
type Location struct {
	Address string     `json:"address"`
	Point   *geo.Point `json:"point,omitempty"`
}

type Trip struct {
	ID                    string
	Status                TripStatus
	VehicleAssignments    []VehicleAssignment
	AuthorizedStopZoneIDs []string
	PickupLocations       []Location
	DropoffLocations      []Location
	Destination           *geo.Point
	UpdatedAt             time.Time
}

// AssignedDriverName returns the first named driver across the assignments.
func (t *Trip) AssignedDriverName() string {
	for _, a := range t.VehicleAssignments {
		for _, d := range a.Drivers {
			if name := strings.TrimSpace(d.Name); name != "" {
				return name
			}
		}
	}
	return ""
}

// AssignedPlate returns the first non-empty plate across the assignments.
func (t *Trip) AssignedPlate() string {
	for _, a := range t.VehicleAssignments {
		if plate := strings.TrimSpace(a.Vehicle.Plate); plate != "" {
			return plate
		}
	}
	return ""
}

// SameAssignment reports whether two versions of a trip resolve to the same
// (driver, plate) pair.
func (t *Trip) SameAssignment(other *Trip) bool {
	return NormalizePlate(t.AssignedPlate()) == NormalizePlate(other.AssignedPlate()) &&
		NormalizeName(t.AssignedDriverName()) == NormalizeName(other.AssignedDriverName())
}

// TripAlertUpdate is written back to the trip row when a trip-level alert fires.
// An empty Status leaves the trip status untouched.
type TripAlertUpdate struct {
	TripID  string
	Status  TripStatus
	Message string
	At      time.Time
}

func NormalizePlate(plate string) string {
	return strings.ToLower(strings.Join(strings.Fields(plate), ""))
}

func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
