package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"fleet-monitor/monitor/internal/domain"
	"fleet-monitor/monitor/internal/geo"
)

// Catalog reads zone and trip definitions. It satisfies both zones.Loader
// and trips.Loader.
type Catalog struct {
	db  *sql.DB
	log *slog.Logger
}

func NewCatalog(db *sql.DB, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Catalog{db: db, log: logger.With(slog.String("component", "catalog"))}
}

// LoadZones returns every active zone. Rows whose geometry cannot be parsed
// are logged and skipped so one bad zone does not hide the rest.
func (c *Catalog) LoadZones(ctx context.Context) ([]domain.Zone, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, name, category, geometry_kind, coordinates, radius
		FROM zones
		WHERE active = TRUE
	`)
	if err != nil {
		return nil, fmt.Errorf("query zones: %w", err)
	}
	defer rows.Close()

	var out []domain.Zone
	for rows.Next() {
		var (
			rec    domain.ZoneRecord
			radius sql.NullFloat64
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Category, &rec.GeometryKind, &rec.Coordinates, &radius); err != nil {
			return nil, fmt.Errorf("scan zone: %w", err)
		}
		rec.Radius = radius.Float64

		z, err := rec.ToZone()
		if err != nil {
			c.log.Warn("zone_skipped", slog.String("zone_id", rec.ID), slog.Any("error", err))
			continue
		}
		out = append(out, z)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate zones: %w", err)
	}
	return out, nil
}

const tripColumns = `
	id, status, vehicle_assignments, authorized_stop_zone_ids,
	pickup_locations, dropoff_locations, destination_lat, destination_lon, updated_at
`

func (c *Catalog) LoadActiveTrips(ctx context.Context) ([]domain.Trip, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+tripColumns+`
		FROM trips
		WHERE status NOT IN ('completed', 'delivered', 'cancelled')
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	defer rows.Close()

	var out []domain.Trip
	for rows.Next() {
		t, err := c.scanTrip(rows)
		if err != nil {
			c.log.Warn("trip_skipped", slog.Any("error", err))
			continue
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trips: %w", err)
	}
	return out, nil
}

// LoadTrip reads one trip regardless of status, so the caller can see that
// it finished.
func (c *Catalog) LoadTrip(ctx context.Context, id string) (domain.Trip, bool, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, id)
	t, err := c.scanTrip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Trip{}, false, nil
	}
	if err != nil {
		return domain.Trip{}, false, err
	}
	return t, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (c *Catalog) scanTrip(row rowScanner) (domain.Trip, error) {
	var (
		t                                       domain.Trip
		status                                  string
		assignments, stopIDs, pickups, dropoffs []byte
		destLat, destLon                        sql.NullFloat64
		updatedAt                               sql.NullTime
	)
	if err := row.Scan(&t.ID, &status, &assignments, &stopIDs, &pickups, &dropoffs, &destLat, &destLon, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Trip{}, err
		}
		return domain.Trip{}, fmt.Errorf("scan trip: %w", err)
	}
	t.Status = domain.TripStatus(status)
	t.UpdatedAt = updatedAt.Time

	if err := unmarshalOptional(assignments, &t.VehicleAssignments); err != nil {
		return domain.Trip{}, fmt.Errorf("trip %s vehicle_assignments: %w", t.ID, err)
	}
	if err := unmarshalOptional(stopIDs, &t.AuthorizedStopZoneIDs); err != nil {
		return domain.Trip{}, fmt.Errorf("trip %s authorized_stop_zone_ids: %w", t.ID, err)
	}
	if err := unmarshalOptional(pickups, &t.PickupLocations); err != nil {
		return domain.Trip{}, fmt.Errorf("trip %s pickup_locations: %w", t.ID, err)
	}
	if err := unmarshalOptional(dropoffs, &t.DropoffLocations); err != nil {
		return domain.Trip{}, fmt.Errorf("trip %s dropoff_locations: %w", t.ID, err)
	}
	if destLat.Valid && destLon.Valid {
		p := geo.Point{Lat: destLat.Float64, Lon: destLon.Float64}
		if p.Valid() && !p.IsZero() {
			t.Destination = &p
		}
	}
	return t, nil
}

func unmarshalOptional(raw []byte, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}
