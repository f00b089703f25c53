// README: Driver aggregate — the entity every eligibility check, bid
// score, and health evaluation reads from.
package driver

import (
	"time"

	"github.com/orro3790/dispatch/internal/types"
)

// Driver is a user with role=driver.
type Driver struct {
	ID              types.ID
	OrgID           types.ID
	WeeklyCap       int
	IsFlagged       bool
	FlagWarningDate *time.Time
	PreferredLocale string
	FCMToken        *string
	CreatedAt       time.Time
}

// Preferences holds one driver's weekly day/route preferences.
type Preferences struct {
	DriverID        types.ID
	PreferredDays   []int // subset of 0..6, 0=Sunday
	PreferredRoutes []types.ID // ordered, up to 3
}

// HasDay reports whether dayOfWeek is one of the driver's preferred days.
func (p Preferences) HasDay(dayOfWeek int) bool {
	for _, d := range p.PreferredDays {
		if d == dayOfWeek {
			return true
		}
	}
	return false
}

// HasRoute reports whether routeID is one of the driver's preferred routes.
func (p Preferences) HasRoute(routeID types.ID) bool {
	for _, r := range p.PreferredRoutes {
		if r == routeID {
			return true
		}
	}
	return false
}

// Metrics is the per-driver rollup. TotalShifts, CompletedShifts,
// AttendanceRate, CompletionRate and AvgParcelsDelivered are rebuilt from
// shift/assignment history by RecomputeAggregates; NoShows, BidPickups,
// UrgentPickups and ConfirmedShifts are counters incremented per event.
type Metrics struct {
	DriverID             types.ID
	TotalShifts          int
	CompletedShifts      int
	AttendanceRate       float64
	CompletionRate       float64
	AvgParcelsDelivered  float64
	NoShows              int
	BidPickups           int
	UrgentPickups        int
	ConfirmedShifts      int
}

// RouteCompletion tracks how many times a driver has completed a given
// route; CompletionCount is monotone non-decreasing over time.
type RouteCompletion struct {
	DriverID        types.ID
	RouteID         types.ID
	CompletionCount int
	LastCompletedAt *time.Time
}
