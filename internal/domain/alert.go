package domain

import (
	"time"

	"fleet-monitor/monitor/internal/geo"
)

type AlertCategory string

const (
	AlertHighRisk         AlertCategory = "HIGH_RISK_ZONE"
	AlertTollGate         AlertCategory = "TOLL_GATE"
	AlertBorder           AlertCategory = "BORDER"
	AlertUnauthorizedStop AlertCategory = "UNAUTHORIZED_STOP"
)

type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "INFO"
	SeverityWarning  AlertSeverity = "WARNING"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// Severity is fixed per category.
func (c AlertCategory) Severity() AlertSeverity {
	switch c {
	case AlertHighRisk, AlertUnauthorizedStop:
		return SeverityCritical
	case AlertBorder:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// AlertCategoryForZone maps a zone category to the alert it raises on entry.
// Stop points raise nothing on their own.
func AlertCategoryForZone(c ZoneCategory) (AlertCategory, bool) {
	switch c {
	case ZoneHighRisk:
		return AlertHighRisk, true
	case ZoneTollGate:
		return AlertTollGate, true
	case ZoneBorder:
		return AlertBorder, true
	default:
		return "", false
	}
}

// Alert is the durable alert record. Target holds the zone id for zone
// alerts and a reason tag for unauthorized stops.
type Alert struct {
	ID        string
	SubjectID string
	TripID    string
	Category  AlertCategory
	Severity  AlertSeverity
	Target    string
	Message   string
	Position  geo.Point
	Timestamp time.Time
	Notified  bool
}
