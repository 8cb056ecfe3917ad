package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/cespare/xxhash/v2"

	"fleet-monitor/monitor/internal/domain"
	"fleet-monitor/monitor/internal/metrics"
)

type HandlerFunc func(ctx context.Context, fix *domain.VehicleFix)

// Dispatcher routes each fix to a shard chosen by its vehicle key. One
// worker per shard keeps fixes of the same vehicle in arrival order while
// different vehicles are processed in parallel.
type Dispatcher struct {
	shards []chan *domain.VehicleFix
	handle HandlerFunc
	log    *slog.Logger
}

func NewDispatcher(workers, queueSize int, handle HandlerFunc, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	shards := make([]chan *domain.VehicleFix, workers)
	for i := range shards {
		shards[i] = make(chan *domain.VehicleFix, queueSize)
	}
	return &Dispatcher{
		shards: shards,
		handle: handle,
		log:    logger.With(slog.String("component", "dispatcher")),
	}
}

func (d *Dispatcher) shardFor(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(d.shards)))
}

// Dispatch never blocks. A full shard drops the fix and reports false.
func (d *Dispatcher) Dispatch(fix *domain.VehicleFix) bool {
	select {
	case d.shards[d.shardFor(fix.VehicleKey())] <- fix:
		return true
	default:
		metrics.FixesDropped.Add(1)
		return false
	}
}

// Run starts one worker per shard and blocks until ctx is cancelled and
// every worker has handled what was already queued.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i, ch := range d.shards {
		wg.Add(1)
		go func(shard int, ch <-chan *domain.VehicleFix) {
			defer wg.Done()
			d.work(ctx, shard, ch)
		}(i, ch)
	}
	d.log.Info("dispatcher_started", slog.Int("workers", len(d.shards)))
	wg.Wait()
	return nil
}

func (d *Dispatcher) work(ctx context.Context, shard int, ch <-chan *domain.VehicleFix) {
	for {
		select {
		case fix := <-ch:
			d.handle(ctx, fix)
		case <-ctx.Done():
			drainCtx := context.WithoutCancel(ctx)
			drained := 0
			for {
				select {
				case fix := <-ch:
					d.handle(drainCtx, fix)
					drained++
				default:
					if drained > 0 {
						d.log.Debug("shard_drained", slog.Int("shard", shard), slog.Int("fixes", drained))
					}
					return
				}
			}
		}
	}
}
