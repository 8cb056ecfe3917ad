package monitor

import (
	"fmt"

	"github.com/google/uuid"

	"fleet-monitor/monitor/internal/domain"
	"fleet-monitor/monitor/internal/stops"
	"fleet-monitor/monitor/internal/zones"
)

// Zone categories that raise an alert on entry, in evaluation order.
var zoneAlertCategories = []domain.ZoneCategory{
	domain.ZoneHighRisk,
	domain.ZoneTollGate,
	domain.ZoneBorder,
}

var stopReasonTags = map[string]string{
	zones.ReasonNoStopPoints:       "no_stop_points",
	zones.ReasonStopPointsNotFound: "stop_points_not_found",
	zones.ReasonOutsideZones:       "outside_authorized_zones",
}

func reasonTag(reason string) string {
	if tag, ok := stopReasonTags[reason]; ok {
		return tag
	}
	return "unauthorized"
}

func vehicleLabel(trip *domain.Trip, fix *domain.VehicleFix) string {
	if fix.Plate != "" {
		return fix.Plate
	}
	if p := trip.AssignedPlate(); p != "" {
		return p
	}
	if fix.DriverName != "" {
		return fix.DriverName
	}
	return "trip " + trip.ID
}

func newZoneAlert(trip *domain.Trip, fix *domain.VehicleFix, zone domain.Zone, category domain.AlertCategory) domain.Alert {
	name := zone.Name
	if name == "" {
		name = zone.ID
	}

	var message string
	switch category {
	case domain.AlertHighRisk:
		message = fmt.Sprintf("Vehicle %s entered high-risk zone %s", vehicleLabel(trip, fix), name)
	case domain.AlertTollGate:
		message = fmt.Sprintf("Vehicle %s approaching toll gate %s", vehicleLabel(trip, fix), name)
	case domain.AlertBorder:
		message = fmt.Sprintf("Vehicle %s approaching border %s", vehicleLabel(trip, fix), name)
	default:
		message = fmt.Sprintf("Vehicle %s in zone %s", vehicleLabel(trip, fix), name)
	}

	return domain.Alert{
		ID:        uuid.NewString(),
		SubjectID: trip.ID,
		TripID:    trip.ID,
		Category:  category,
		Severity:  category.Severity(),
		Target:    zone.ID,
		Message:   message,
		Position:  fix.Position,
		Timestamp: fix.Timestamp,
	}
}

func newStopAlert(trip *domain.Trip, fix *domain.VehicleFix, w stops.Window, reason string) domain.Alert {
	minutes := int(fix.Timestamp.Sub(w.StartedAt).Minutes())
	return domain.Alert{
		ID:        uuid.NewString(),
		SubjectID: trip.ID,
		TripID:    trip.ID,
		Category:  domain.AlertUnauthorizedStop,
		Severity:  domain.AlertUnauthorizedStop.Severity(),
		Target:    reasonTag(reason),
		Message: fmt.Sprintf("Vehicle %s stopped for %d min at %s: %s",
			vehicleLabel(trip, fix), minutes, w.Anchor, reason),
		Position:  w.Anchor,
		Timestamp: fix.Timestamp,
	}
}

// tripStatusFor returns the status an alert moves its trip to. Toll gates
// leave the trip alone, and a trip already in Alert is not downgraded to
// AtBorder.
func tripStatusFor(category domain.AlertCategory, current domain.TripStatus) (domain.TripStatus, bool) {
	switch category {
	case domain.AlertHighRisk, domain.AlertUnauthorizedStop:
		return domain.TripAlert, true
	case domain.AlertBorder:
		if current == domain.TripAlert {
			return current, true
		}
		return domain.TripAtBorder, true
	default:
		return "", false
	}
}
