package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"fleet-monitor/monitor/internal/config"
	"fleet-monitor/monitor/internal/domain"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg *config.Config) (*PostgresStore, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?pool_max_conns=%d",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBMaxConns,
	)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SQLDB exposes the pool through database/sql for the catalog reads.
func (s *PostgresStore) SQLDB() *sql.DB {
	return stdlib.OpenDBFromPool(s.pool)
}

var alertColumns = []string{
	"id",
	"subject_id",
	"trip_id",
	"category",
	"severity",
	"target",
	"message",
	"lat",
	"lon",
	"created_at",
	"notified",
}

func (s *PostgresStore) InsertAlerts(ctx context.Context, alerts []domain.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(alerts))
	for i, a := range alerts {
		rows[i] = []interface{}{
			a.ID,
			a.SubjectID,
			a.TripID,
			string(a.Category),
			string(a.Severity),
			a.Target,
			a.Message,
			a.Position.Lat,
			a.Position.Lon,
			a.Timestamp,
			a.Notified,
		}
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"monitor_alerts"},
		alertColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("CopyFrom failed for batch of %d alerts: %w", len(alerts), err)
	}

	return nil
}

const upsertScoreQuery = `
	INSERT INTO driver_scores
		(driver_key, driver_name, current_points, level, counts, threshold_exceeded, updated_at)
	VALUES
		($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (driver_key) DO UPDATE SET
		driver_name        = EXCLUDED.driver_name,
		current_points     = EXCLUDED.current_points,
		level              = EXCLUDED.level,
		counts             = EXCLUDED.counts,
		threshold_exceeded = EXCLUDED.threshold_exceeded,
		updated_at         = EXCLUDED.updated_at
`

// UpsertDriverScores writes the given scores in one round trip.
func (s *PostgresStore) UpsertDriverScores(ctx context.Context, scores []domain.DriverScore) error {
	if len(scores) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, sc := range scores {
		batch.Queue(
			upsertScoreQuery,
			domain.NormalizeName(sc.DriverName),
			sc.DriverName,
			sc.CurrentPoints,
			string(sc.Level),
			sc.Counts,
			sc.ThresholdExceeded,
			sc.UpdatedAt,
		)
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("score upsert failed for %d drivers: %w", len(scores), err)
	}
	return nil
}

var snapshotColumns = []string{
	"snapshot_date",
	"driver_key",
	"driver_name",
	"points",
	"level",
	"counts",
	"threshold_exceeded",
}

// InsertScoreSnapshots records the end-of-day state of every driver. A day
// that was already snapshotted is replaced.
func (s *PostgresStore) InsertScoreSnapshots(ctx context.Context, day time.Time, scores []domain.DriverScore) error {
	if len(scores) == 0 {
		return nil
	}
	date := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	rows := make([][]interface{}, len(scores))
	for i, sc := range scores {
		rows[i] = []interface{}{
			date,
			domain.NormalizeName(sc.DriverName),
			sc.DriverName,
			sc.CurrentPoints,
			string(sc.Level),
			sc.Counts,
			sc.ThresholdExceeded,
		}
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM driver_score_snapshots WHERE snapshot_date = $1`, date); err != nil {
			return fmt.Errorf("clear snapshot %s: %w", date.Format(time.DateOnly), err)
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"driver_score_snapshots"}, snapshotColumns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("CopyFrom failed for snapshot of %d drivers: %w", len(scores), err)
		}
		return nil
	})
}

// LoadDriverScores reads the persisted scores so a restart continues where
// the previous process stopped.
func (s *PostgresStore) LoadDriverScores(ctx context.Context) ([]domain.DriverScore, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT driver_name, current_points, level, counts, threshold_exceeded, updated_at
		FROM driver_scores
	`)
	if err != nil {
		return nil, fmt.Errorf("query driver scores: %w", err)
	}
	defer rows.Close()

	var out []domain.DriverScore
	for rows.Next() {
		var (
			sc    domain.DriverScore
			level string
		)
		if err := rows.Scan(&sc.DriverName, &sc.CurrentPoints, &level, &sc.Counts, &sc.ThresholdExceeded, &sc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan driver score: %w", err)
		}
		sc.Level = domain.Level(level)
		out = append(out, sc)
	}
	return out, rows.Err()
}

// UpdateTripAlert stamps the alert onto the trip row. Trips that already
// reached a terminal status are left alone.
func (s *PostgresStore) UpdateTripAlert(ctx context.Context, ta domain.TripAlertUpdate) error {
	query := `
		UPDATE trips SET
			status        = COALESCE(NULLIF($2, ''), status),
			alert_message = $3,
			alert_at      = $4,
			updated_at    = NOW()
		WHERE id = $1
		  AND status NOT IN ('completed', 'delivered', 'cancelled')
	`
	if _, err := s.pool.Exec(ctx, query, ta.TripID, string(ta.Status), ta.Message, ta.At); err != nil {
		return fmt.Errorf("update trip %s: %w", ta.TripID, err)
	}
	return nil
}
