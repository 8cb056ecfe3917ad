package pipeline

import (
	"context"
	"io"
	"log/slog"
	"time"

	"fleet-monitor/monitor/internal/domain"
	"fleet-monitor/monitor/internal/metrics"
)

type ScoreStore interface {
	UpsertDriverScores(ctx context.Context, scores []domain.DriverScore) error
	InsertScoreSnapshots(ctx context.Context, day time.Time, scores []domain.DriverScore) error
}

type ScoreSource interface {
	DrainDirty() []domain.DriverScore
	MarkDirty(driverNames ...string)
	Snapshot() []domain.DriverScore
}

// ScoreFlusher persists changed driver scores on a fixed cadence and takes
// one full snapshot per day. Memory stays authoritative: a failed write only
// re-queues the drivers for the next flush.
type ScoreFlusher struct {
	src          ScoreSource
	db           ScoreStore
	interval     time.Duration
	snapshotHour int
	offset       time.Duration
	now          func() time.Time
	log          *slog.Logger
}

func NewScoreFlusher(src ScoreSource, db ScoreStore, interval time.Duration, snapshotHour int, offset time.Duration, logger *slog.Logger) *ScoreFlusher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if snapshotHour < 0 || snapshotHour > 23 {
		snapshotHour = 23
	}
	return &ScoreFlusher{
		src:          src,
		db:           db,
		interval:     interval,
		snapshotHour: snapshotHour,
		offset:       offset,
		now:          time.Now,
		log:          logger.With(slog.String("component", "score_flusher")),
	}
}

// Flush writes every dirty driver and returns how many were written.
func (f *ScoreFlusher) Flush(ctx context.Context) int {
	dirty := f.src.DrainDirty()
	if len(dirty) == 0 {
		return 0
	}

	if err := f.db.UpsertDriverScores(ctx, dirty); err != nil {
		names := make([]string, len(dirty))
		for i, s := range dirty {
			names[i] = s.DriverName
		}
		f.src.MarkDirty(names...)
		metrics.ScoreFlushFailed.Add(1)
		f.log.Warn("score_flush_failed", slog.Int("drivers", len(dirty)), slog.Any("error", err))
		return 0
	}

	metrics.ScoreFlushOK.Add(1)
	f.log.Debug("score_flush_complete", slog.Int("drivers", len(dirty)))
	return len(dirty)
}

// TakeSnapshot flushes pending changes and records every driver under day.
func (f *ScoreFlusher) TakeSnapshot(ctx context.Context, day time.Time) error {
	f.Flush(ctx)
	scores := f.src.Snapshot()
	if err := f.db.InsertScoreSnapshots(ctx, day, scores); err != nil {
		metrics.SnapshotFailures.Add(1)
		f.log.Error("score_snapshot_failed", slog.String("day", day.Format(time.DateOnly)), slog.Any("error", err))
		return err
	}
	f.log.Info("score_snapshot_complete", slog.String("day", day.Format(time.DateOnly)), slog.Int("drivers", len(scores)))
	return nil
}

// Run flushes on every tick and once more on shutdown.
func (f *ScoreFlusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.Flush(ctx)

		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			f.Flush(flushCtx)
			cancel()
			return nil
		}
	}
}

// RunSnapshots sleeps until the configured local hour each day and takes a
// snapshot for that local date.
func (f *ScoreFlusher) RunSnapshots(ctx context.Context) error {
	for {
		next, day := nextSnapshot(f.now(), f.snapshotHour, f.offset)
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			_ = f.TakeSnapshot(ctx, day)
		}
	}
}

// nextSnapshot returns the next instant, strictly after now, at which the
// local clock (UTC shifted by offset) reads hour:00, together with the local
// date it belongs to.
func nextSnapshot(now time.Time, hour int, offset time.Duration) (time.Time, time.Time) {
	local := now.UTC().Add(offset)
	at := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, time.UTC)
	if !at.After(local) {
		at = at.AddDate(0, 0, 1)
	}
	day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	return at.Add(-offset), day
}
