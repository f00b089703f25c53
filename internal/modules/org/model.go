// README: Organization/Warehouse/Route aggregate — the tenant scoping
// backbone every other entity threads through.
package org

import (
	"github.com/orro3790/dispatch/internal/timepolicy"
	"github.com/orro3790/dispatch/internal/types"
)

// Organization is the tenant root. Every driver, warehouse, route,
// assignment, bid window, and bid carries an organization id transitively
// through its warehouse.
type Organization struct {
	ID   types.ID
	Name string
}

// Warehouse anchors a set of routes to an organization.
type Warehouse struct {
	ID    types.ID
	OrgID types.ID
	Name  string
}

// Route is a fixed daily delivery loop at one warehouse.
type Route struct {
	ID            types.ID
	WarehouseID   types.ID
	Name          string
	StartTime     timepolicy.HourMinute
	PrimaryManagerID *types.ID
}

// DispatchSettings is the persisted per-org policy override row.
type DispatchSettings struct {
	OrgID    types.ID
	Override timepolicy.TenantOverride
}
