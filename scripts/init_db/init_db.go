package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		dbGetEnv("DB_USER", "fleet_user"),
		dbGetEnv("DB_PASSWORD", "fleet_password"),
		dbGetEnv("DB_HOST", "localhost"),
		dbGetEnv("DB_PORT", "5432"),
		dbGetEnv("DB_NAME", "fleet_monitor"),
	)

	ctx := context.Background()

	fmt.Println("Connecting to Postgres...")
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Postgres is running:\n  docker-compose up -d postgres", err)
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	step1_catalog_tables(ctx, conn)
	step2_alerts_table(ctx, conn)
	step3_score_tables(ctx, conn)
	step4_indexes(ctx, conn)
	step5_sample_zones(ctx, conn)
	step6_verify(ctx, conn)

	fmt.Println("\n✅ Database initialised successfully")
	fmt.Println("   Run next: go run ./scripts/seed_redis")
}

// ─────────────────────────────────────────────────────────────
// Step 1: zones and trips
// ─────────────────────────────────────────────────────────────
func step1_catalog_tables(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 1: zones and trips ─────────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS zones (
			id             TEXT             PRIMARY KEY,
			name           TEXT             NOT NULL DEFAULT '',
			category       TEXT             NOT NULL,

			-- circle: "lat,lon" centre plus radius
			-- polygon: space separated "lon,lat[,alt]" vertices
			geometry_kind  TEXT             NOT NULL,
			coordinates    TEXT             NOT NULL,
			radius         DOUBLE PRECISION,

			active         BOOLEAN          NOT NULL DEFAULT TRUE,
			updated_at     TIMESTAMPTZ      NOT NULL DEFAULT NOW(),

			CONSTRAINT chk_zone_category CHECK (
				category IN ('high_risk', 'toll_gate', 'border', 'stop_point')
			),
			CONSTRAINT chk_geometry_kind CHECK (
				geometry_kind IN ('circle', 'polygon')
			)
		);
	`, "zones table created")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS trips (
			id                        TEXT             PRIMARY KEY,
			status                    TEXT             NOT NULL DEFAULT 'pending',

			-- [{"drivers":[{"name":...}],"vehicle":{"plate":...}}]
			vehicle_assignments       JSONB,
			authorized_stop_zone_ids  JSONB,

			-- [{"address":...,"point":{"lat":...,"lon":...}}]
			pickup_locations          JSONB,
			dropoff_locations         JSONB,

			destination_lat           DOUBLE PRECISION,
			destination_lon           DOUBLE PRECISION,

			-- written back by the monitor
			alert_message             TEXT,
			alert_at                  TIMESTAMPTZ,

			created_at                TIMESTAMPTZ      NOT NULL DEFAULT NOW(),
			updated_at                TIMESTAMPTZ      NOT NULL DEFAULT NOW(),

			CONSTRAINT chk_trip_status CHECK (
				status IN ('pending', 'in_progress', 'at_border', 'alert',
				           'completed', 'delivered', 'cancelled')
			)
		);
	`, "trips table created")
}

// ─────────────────────────────────────────────────────────────
// Step 2: monitor_alerts
// ─────────────────────────────────────────────────────────────
func step2_alerts_table(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 2: monitor_alerts table ────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS monitor_alerts (
			id           UUID             PRIMARY KEY,
			subject_id   TEXT             NOT NULL,
			trip_id      TEXT,

			-- Must exactly match domain.AlertCategory constants
			category     TEXT             NOT NULL,
			severity     TEXT             NOT NULL,

			-- zone id, or the reason tag for unauthorized stops
			target       TEXT             NOT NULL,
			message      TEXT             NOT NULL,
			lat          DOUBLE PRECISION NOT NULL,
			lon          DOUBLE PRECISION NOT NULL,
			created_at   TIMESTAMPTZ      NOT NULL,
			notified     BOOLEAN          NOT NULL DEFAULT FALSE,

			CONSTRAINT chk_alert_category CHECK (
				category IN ('HIGH_RISK_ZONE', 'TOLL_GATE', 'BORDER', 'UNAUTHORIZED_STOP')
			),
			CONSTRAINT chk_alert_severity CHECK (
				severity IN ('INFO', 'WARNING', 'CRITICAL')
			)
		);
	`, "monitor_alerts table created")
}

// ─────────────────────────────────────────────────────────────
// Step 3: driver_scores and daily snapshots
// ─────────────────────────────────────────────────────────────
func step3_score_tables(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 3: score tables ────────────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS driver_scores (
			-- normalized driver name
			driver_key          TEXT         PRIMARY KEY,
			driver_name         TEXT         NOT NULL,
			current_points      INTEGER      NOT NULL,
			level               TEXT         NOT NULL,
			counts              JSONB        NOT NULL DEFAULT '{}',
			threshold_exceeded  JSONB        NOT NULL DEFAULT '{}',
			updated_at          TIMESTAMPTZ  NOT NULL DEFAULT NOW(),

			CONSTRAINT chk_points CHECK (current_points BETWEEN 0 AND 100)
		);
	`, "driver_scores table created")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS driver_score_snapshots (
			snapshot_date       DATE         NOT NULL,
			driver_key          TEXT         NOT NULL,
			driver_name         TEXT         NOT NULL,
			points              INTEGER      NOT NULL,
			level               TEXT         NOT NULL,
			counts              JSONB        NOT NULL DEFAULT '{}',
			threshold_exceeded  JSONB        NOT NULL DEFAULT '{}',

			PRIMARY KEY (snapshot_date, driver_key)
		);
	`, "driver_score_snapshots table created")
}

// ─────────────────────────────────────────────────────────────
// Step 4: Indexes
// ─────────────────────────────────────────────────────────────
func step4_indexes(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 4: Indexes ─────────────────────────────")

	indexes := []struct {
		name string
		sql  string
		why  string
	}{
		{
			name: "idx_trips_active",
			sql: `CREATE INDEX IF NOT EXISTS idx_trips_active
				  ON trips (status)
				  WHERE status NOT IN ('completed', 'delivered', 'cancelled');`,
			why: "query: active trip load (partial index)",
		},
		{
			name: "idx_zones_active",
			sql: `CREATE INDEX IF NOT EXISTS idx_zones_active
				  ON zones (category) WHERE active;`,
			why: "query: zone catalogue refresh",
		},
		{
			name: "idx_alerts_trip",
			sql: `CREATE INDEX IF NOT EXISTS idx_alerts_trip
				  ON monitor_alerts (trip_id, created_at DESC);`,
			why: "query: alerts for one trip",
		},
		{
			name: "idx_alerts_category",
			sql: `CREATE INDEX IF NOT EXISTS idx_alerts_category
				  ON monitor_alerts (category, created_at DESC);`,
			why: "query: recent alerts by category",
		},
	}

	for _, idx := range indexes {
		execOrFatal(ctx, conn, idx.sql,
			fmt.Sprintf("%-30s ← %s", idx.name, idx.why),
		)
	}
}

// ─────────────────────────────────────────────────────────────
// Step 5: sample zones for local runs
// ─────────────────────────────────────────────────────────────
func step5_sample_zones(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 5: Sample zones ────────────────────────")

	zones := []struct {
		id, name, category, kind, coords string
		radius                           *float64
	}{
		{"z-beitbridge", "Beitbridge Border Post", "border", "circle", "-22.2167,30.0000", ptr(1500)},
		{"z-mariannhill", "Mariannhill Toll Plaza", "toll_gate", "circle", "-29.8390,30.8350", ptr(400)},
		{"z-hillbrow", "Hillbrow", "high_risk", "polygon",
			"28.040,-26.195,0 28.055,-26.195,0 28.055,-26.185,0 28.040,-26.185,0", nil},
		{"z-harrismith", "Harrismith Truck Stop", "stop_point", "circle", "-28.2720,29.1290", ptr(300)},
	}

	for _, z := range zones {
		execOrFatal(ctx, conn, `
			INSERT INTO zones (id, name, category, geometry_kind, coordinates, radius)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING;`,
			fmt.Sprintf("%-14s %s", z.category, z.name),
			z.id, z.name, z.category, z.kind, z.coords, z.radius,
		)
	}
}

// ─────────────────────────────────────────────────────────────
// Step 6: Verify everything was created
// ─────────────────────────────────────────────────────────────
func step6_verify(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 6: Verification ────────────────────────")

	tables := []string{"zones", "trips", "monitor_alerts", "driver_scores", "driver_score_snapshots"}
	for _, table := range tables {
		var exists bool
		err := conn.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_name = $1
			)
		`, table).Scan(&exists)
		if err != nil || !exists {
			log.Fatalf("Table %s was not created: %v", table, err)
		}
		fmt.Printf("  ✓ table: %s\n", table)
	}

	var zoneCount int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM zones WHERE active`).Scan(&zoneCount); err != nil {
		log.Fatalf("Zone count failed: %v", err)
	}
	fmt.Printf("  ✓ active zones: %d\n", zoneCount)
}

// ─────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────

func execOrFatal(ctx context.Context, conn *pgx.Conn, sql, label string, args ...any) {
	_, err := conn.Exec(ctx, sql, args...)
	if err != nil {
		log.Fatalf("FAILED: %s\nError: %v\nSQL: %s", label, err, sql)
	}
	fmt.Printf("  ✓ %s\n", label)
}

func ptr(f float64) *float64 { return &f }

func dbGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
