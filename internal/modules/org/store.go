// README: Organization/Warehouse/Route store. Every lookup here either
// joins through warehouses to an organization id or filters on an
// explicitly passed one, so a mismatched org id returns not-found rather
// than leaking a row across tenants.
package org

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orro3790/dispatch/internal/dbutil"
	"github.com/orro3790/dispatch/internal/timepolicy"
	"github.com/orro3790/dispatch/internal/types"
)

var ErrNotFound = errors.New("org: not found")

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// WarehouseOrgID returns the organization a warehouse belongs to, used by
// every other module to scope a query without re-deriving the join.
func (s *Store) WarehouseOrgID(ctx context.Context, warehouseID types.ID) (types.ID, error) {
	var orgID string
	err := s.db.QueryRow(ctx, `SELECT org_id FROM warehouses WHERE id = $1`, string(warehouseID)).Scan(&orgID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", dbutil.Classify(err)
	}
	return types.ID(orgID), nil
}

// ListOrgIDs returns every organization id, the outer loop for the cron
// drivers that run per-org.
func (s *Store) ListOrgIDs(ctx context.Context) ([]types.ID, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM organizations ORDER BY id`)
	if err != nil {
		return nil, dbutil.Classify(err)
	}
	defer rows.Close()

	var out []types.ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, types.ID(id))
	}
	return out, rows.Err()
}

// GetRoute loads a route, scoped to the given org via its warehouse.
func (s *Store) GetRoute(ctx context.Context, routeID, orgID types.ID) (*Route, error) {
	row := s.db.QueryRow(ctx, `
        SELECT r.id, r.warehouse_id, r.name, r.start_time, r.primary_manager_id
        FROM routes r
        JOIN warehouses w ON w.id = r.warehouse_id
        WHERE r.id = $1 AND w.org_id = $2`, string(routeID), string(orgID),
	)
	var r Route
	var startTime string
	var managerID sql.NullString
	if err := row.Scan(&r.ID, &r.WarehouseID, &r.Name, &startTime, &managerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, dbutil.Classify(err)
	}
	hm, err := timepolicy.ParseHourMinute(startTime)
	if err != nil {
		return nil, err
	}
	r.StartTime = hm
	if managerID.Valid {
		id := types.ID(managerID.String)
		r.PrimaryManagerID = &id
	}
	return &r, nil
}

// ListRoutesByOrg returns every route belonging to the org, across all of
// its warehouses. Primary input to the weekly schedule generator.
func (s *Store) ListRoutesByOrg(ctx context.Context, orgID types.ID) ([]Route, error) {
	rows, err := s.db.Query(ctx, `
        SELECT r.id, r.warehouse_id, r.name, r.start_time, r.primary_manager_id
        FROM routes r
        JOIN warehouses w ON w.id = r.warehouse_id
        WHERE w.org_id = $1
        ORDER BY r.id`, string(orgID),
	)
	if err != nil {
		return nil, dbutil.Classify(err)
	}
	defer rows.Close()

	var out []Route
	for rows.Next() {
		var r Route
		var startTime string
		var managerID sql.NullString
		if err := rows.Scan(&r.ID, &r.WarehouseID, &r.Name, &startTime, &managerID); err != nil {
			return nil, err
		}
		hm, err := timepolicy.ParseHourMinute(startTime)
		if err != nil {
			return nil, err
		}
		r.StartTime = hm
		if managerID.Valid {
			id := types.ID(managerID.String)
			r.PrimaryManagerID = &id
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRouteManager returns the route's primary manager, scoped to orgID.
// Returns (nil, nil) if the route has no manager assigned.
func (s *Store) GetRouteManager(ctx context.Context, routeID, orgID types.ID) (*types.ID, error) {
	r, err := s.GetRoute(ctx, routeID, orgID)
	if err != nil {
		return nil, err
	}
	return r.PrimaryManagerID, nil
}

// CanManagerAccessWarehouse reports whether userID has management access
// to warehouseID within orgID.
func (s *Store) CanManagerAccessWarehouse(ctx context.Context, userID, warehouseID, orgID types.ID) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM manager_warehouse_access mwa
            JOIN warehouses w ON w.id = mwa.warehouse_id
            WHERE mwa.user_id = $1 AND mwa.warehouse_id = $2 AND w.org_id = $3
        )`, string(userID), string(warehouseID), string(orgID),
	).Scan(&ok)
	if err != nil {
		return false, dbutil.Classify(err)
	}
	return ok, nil
}

// LoadOverride implements timepolicy.OverrideLoader, backing the per-org
// policy cache's invalidate-on-change check.
func (s *Store) LoadOverride(ctx context.Context, orgID types.ID) (timepolicy.TenantOverride, error) {
	var payload []byte
	err := s.db.QueryRow(ctx, `
        SELECT override_json FROM organization_dispatch_settings WHERE org_id = $1`,
		string(orgID),
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return timepolicy.TenantOverride{}, nil
	}
	if err != nil {
		return timepolicy.TenantOverride{}, dbutil.Classify(err)
	}
	var override timepolicy.TenantOverride
	if err := json.Unmarshal(payload, &override); err != nil {
		return timepolicy.TenantOverride{}, err
	}
	return override, nil
}

// PutOverride upserts a tenant's policy override row.
func (s *Store) PutOverride(ctx context.Context, orgID types.ID, override timepolicy.TenantOverride) error {
	payload, err := json.Marshal(override)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
        INSERT INTO organization_dispatch_settings (org_id, override_json)
        VALUES ($1, $2)
        ON CONFLICT (org_id) DO UPDATE SET override_json = EXCLUDED.override_json`,
		string(orgID), payload,
	)
	return dbutil.Classify(err)
}
