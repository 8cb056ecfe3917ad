// Package notify fans fired alerts out to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"fleet-monitor/monitor/internal/domain"
)

type Notifier interface {
	Notify(ctx context.Context, alert domain.Alert) error
}

type alertMessage struct {
	ID        string        `json:"id"`
	SubjectID string        `json:"subject_id"`
	TripID    string        `json:"trip_id,omitempty"`
	Category  string        `json:"category"`
	Severity  string        `json:"severity"`
	Target    string        `json:"target"`
	Message   string        `json:"message"`
	Location  alertLocation `json:"location"`
	Timestamp int64         `json:"timestamp"`
}

type alertLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Encode renders the wire form shared by every notifier.
func Encode(alert domain.Alert) ([]byte, error) {
	msg := alertMessage{
		ID:        alert.ID,
		SubjectID: alert.SubjectID,
		TripID:    alert.TripID,
		Category:  string(alert.Category),
		Severity:  string(alert.Severity),
		Target:    alert.Target,
		Message:   alert.Message,
		Location: alertLocation{
			Latitude:  alert.Position.Lat,
			Longitude: alert.Position.Lon,
		},
		Timestamp: alert.Timestamp.Unix(),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal alert: %w", err)
	}
	return body, nil
}

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, alert domain.Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
