package pipeline

import (
	"context"
	"io"
	"log/slog"
	"time"

	"fleet-monitor/monitor/internal/domain"
	"fleet-monitor/monitor/internal/metrics"
)

type AlertStore interface {
	InsertAlerts(ctx context.Context, alerts []domain.Alert) error
}

// AlertWriter batches durable alert records and writes them with one retry.
type AlertWriter struct {
	ch         chan domain.Alert
	db         AlertStore
	batchSize  int
	flushEvery time.Duration
	retryDelay time.Duration
	log        *slog.Logger
}

func NewAlertWriter(db AlertStore, size, batchSize, flushMS int, logger *slog.Logger) *AlertWriter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if size <= 0 {
		size = 1000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushMS <= 0 {
		flushMS = 500
	}
	return &AlertWriter{
		ch:         make(chan domain.Alert, size),
		db:         db,
		batchSize:  batchSize,
		flushEvery: time.Duration(flushMS) * time.Millisecond,
		retryDelay: 500 * time.Millisecond,
		log:        logger.With(slog.String("component", "alert_writer")),
	}
}

// Enqueue never blocks; a full queue loses the record.
func (w *AlertWriter) Enqueue(a domain.Alert) bool {
	select {
	case w.ch <- a:
		return true
	default:
		metrics.AlertWriteFailed.Add(1)
		w.log.Warn("alert_queue_full", slog.String("alert_id", a.ID), slog.String("category", string(a.Category)))
		return false
	}
}

func (w *AlertWriter) Run(ctx context.Context) error {
	batch := make([]domain.Alert, 0, w.batchSize)
	ticker := time.NewTicker(w.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case a := <-w.ch:
			batch = append(batch, a)
			if len(batch) >= w.batchSize {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			for drained := false; !drained; {
				select {
				case a := <-w.ch:
					batch = append(batch, a)
				default:
					drained = true
				}
			}
			if len(batch) > 0 {
				flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				w.flush(flushCtx, batch)
				cancel()
			}
			return nil
		}
	}
}

func (w *AlertWriter) flush(ctx context.Context, batch []domain.Alert) {
	err := w.db.InsertAlerts(ctx, batch)
	if err != nil {
		w.log.Warn("alert_write_failed_retrying", slog.Int("batch", len(batch)), slog.Any("error", err))
		time.Sleep(w.retryDelay)
		err = w.db.InsertAlerts(ctx, batch)
		if err != nil {
			w.log.Error("alert_write_failed", slog.Int("batch", len(batch)), slog.Any("error", err))
			metrics.AlertWriteFailed.Add(int64(len(batch)))
			return
		}
	}
	metrics.AlertWriteOK.Add(int64(len(batch)))
}
