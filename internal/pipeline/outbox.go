package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"fleet-monitor/monitor/internal/domain"
	"fleet-monitor/monitor/internal/metrics"
	"fleet-monitor/monitor/internal/notify"
)

type AlertSink interface {
	Enqueue(a domain.Alert) bool
}

type TripUpdater interface {
	UpdateTripAlert(ctx context.Context, ta domain.TripAlertUpdate) error
}

// Delivery is everything that has to happen outside the fix path once an
// alert fires. Trip is nil when the alert does not touch the trip row.
type Delivery struct {
	Alert  domain.Alert
	Notify bool
	Trip   *domain.TripAlertUpdate
}

// Outbox notifies downstream, hands the alert record to the alert writer
// and writes the trip row, on its own workers so a slow broker or database
// never stalls fix processing.
type Outbox struct {
	ch       chan Delivery
	workers  int
	records  AlertSink
	notifier notify.Notifier
	trips    TripUpdater
	timeout  time.Duration
	log      *slog.Logger
}

// NewOutbox builds an outbox. notifier and trips may be nil.
func NewOutbox(records AlertSink, notifier notify.Notifier, trips TripUpdater, workers, size int, timeout time.Duration, logger *slog.Logger) *Outbox {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = 1000
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Outbox{
		ch:       make(chan Delivery, size),
		workers:  workers,
		records:  records,
		notifier: notifier,
		trips:    trips,
		timeout:  timeout,
		log:      logger.With(slog.String("component", "alert_outbox")),
	}
}

// Enqueue never blocks. On a full queue the alert record is still handed to
// the writer; the notification and trip write are skipped.
func (o *Outbox) Enqueue(d Delivery) bool {
	select {
	case o.ch <- d:
		return true
	default:
		metrics.OutboxOverflow.Add(1)
		if d.Notify {
			metrics.NotifyFailures.Add(1)
		}
		if d.Trip != nil {
			metrics.TripUpdateFailed.Add(1)
		}
		o.log.Warn("outbox_full", slog.String("alert_id", d.Alert.ID), slog.String("category", string(d.Alert.Category)))
		o.records.Enqueue(d.Alert)
		return false
	}
}

// Run starts the workers and returns once ctx is cancelled and everything
// already queued has been delivered.
func (o *Outbox) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.work(ctx)
		}()
	}
	wg.Wait()
	return nil
}

func (o *Outbox) work(ctx context.Context) {
	for {
		select {
		case d := <-o.ch:
			o.deliver(ctx, d)
		case <-ctx.Done():
			drainCtx := context.WithoutCancel(ctx)
			for {
				select {
				case d := <-o.ch:
					o.deliver(drainCtx, d)
				default:
					return
				}
			}
		}
	}
}

func (o *Outbox) deliver(ctx context.Context, d Delivery) {
	alert := d.Alert
	recorded := false
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("alert_delivery_panic", slog.String("alert_id", alert.ID), slog.String("panic", fmt.Sprint(r)))
			if !recorded {
				o.records.Enqueue(alert)
			}
		}
	}()

	if d.Notify && o.notifier != nil {
		nctx, cancel := context.WithTimeout(ctx, o.timeout)
		err := o.notifier.Notify(nctx, alert)
		cancel()
		if err != nil {
			metrics.NotifyFailures.Add(1)
			o.log.Warn("alert_notify_failed", slog.String("alert_id", alert.ID), slog.Any("error", err))
		} else {
			alert.Notified = true
		}
	}

	o.records.Enqueue(alert)
	recorded = true

	if d.Trip != nil && o.trips != nil {
		uctx, cancel := context.WithTimeout(ctx, o.timeout)
		err := o.trips.UpdateTripAlert(uctx, *d.Trip)
		cancel()
		if err != nil {
			metrics.TripUpdateFailed.Add(1)
			o.log.Warn("trip_update_failed", slog.String("trip_id", d.Trip.TripID), slog.Any("error", err))
		}
	}
}
