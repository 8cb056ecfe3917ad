// Package ingest turns raw telemetry payloads from Kafka or MQTT into
// validated fixes and hands them to the dispatcher.
package ingest

import (
	"io"
	"log/slog"
	"time"

	"fleet-monitor/monitor/internal/domain"
	"fleet-monitor/monitor/internal/metrics"
)

type Dispatcher interface {
	Dispatch(fix *domain.VehicleFix) bool
}

// Handler validates payloads. Malformed fixes are dropped with a debug log.
type Handler struct {
	dispatch Dispatcher
	now      func() time.Time
	log      *slog.Logger
}

func NewHandler(dispatch Dispatcher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{
		dispatch: dispatch,
		now:      time.Now,
		log:      logger.With(slog.String("component", "telemetry_handler")),
	}
}

// HandlePayload reports whether the payload produced a dispatched fix.
func (h *Handler) HandlePayload(payload []byte) bool {
	metrics.FixesReceived.Add(1)

	raw, err := domain.DecodeRawFix(payload)
	if err != nil {
		metrics.FixesInvalid.Add(1)
		h.log.Debug("fix_decode_failed", slog.Any("error", err))
		return false
	}

	fix, err := domain.ParseFix(raw, h.now().UTC())
	if err != nil {
		metrics.FixesInvalid.Add(1)
		h.log.Debug("fix_rejected", slog.Any("error", err))
		return false
	}

	if !h.dispatch.Dispatch(&fix) {
		h.log.Warn("fix_dropped_queue_full", slog.String("vehicle", fix.VehicleKey()))
		return false
	}
	return true
}
