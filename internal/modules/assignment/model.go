// README: Assignment/Shift — the central lifecycle entity one route on
// one calendar date resolves to.
package assignment

import (
	"time"

	"github.com/orro3790/dispatch/internal/timepolicy"
	"github.com/orro3790/dispatch/internal/types"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusUnfilled  Status = "unfilled"
)

type CancelType string

const (
	CancelEarly    CancelType = "early"
	CancelLate     CancelType = "late"
	CancelAutoDrop CancelType = "auto_drop"
)

type AssignedBy string

const (
	AssignedByAlgorithm AssignedBy = "algorithm"
	AssignedByManager   AssignedBy = "manager"
	AssignedByBid       AssignedBy = "bid"
)

// Assignment is one route on one calendar date, potentially owned by one
// driver. Date is the tenant-local calendar date string (YYYY-MM-DD).
type Assignment struct {
	ID          types.ID
	OrgID       types.ID
	RouteID     types.ID
	WarehouseID types.ID
	Date        string
	UserID      *types.ID
	Status      Status

	ConfirmedAt *time.Time
	CancelledAt *time.Time
	CancelType  *CancelType
	AssignedBy  *AssignedBy
	AssignedAt  *time.Time
}

// Shift is the execution record attached to an assignment, at most one
// per assignment. Once a timestamp field is set non-null, it is never
// unset except by an explicit manager corrective edit.
type Shift struct {
	AssignmentID     types.ID
	ArrivedAt        *time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
	ParcelsStart     *int
	ParcelsDelivered *int
	ParcelsReturned  *int
	ExceptedReturns  *int
	ExceptionNotes   *string
}

// DeliveryRate computes the adjusted delivery fraction used by the 95%
// high-delivery health contribution and completion-rate aggregates:
// (start − returned + excepted) / start.
func (s Shift) DeliveryRate() (float64, bool) {
	if s.ParcelsStart == nil || *s.ParcelsStart == 0 {
		return 0, false
	}
	returned := 0
	if s.ParcelsReturned != nil {
		returned = *s.ParcelsReturned
	}
	excepted := 0
	if s.ExceptedReturns != nil {
		excepted = *s.ExceptedReturns
	}
	start := *s.ParcelsStart
	return float64(start-returned+excepted) / float64(start), true
}

// Action is one of the lifecycle's gated operations.
type Action string

const (
	ActionConfirm      Action = "confirm"
	ActionCancelEarly  Action = "cancel_early"
	ActionCancelLate   Action = "cancel_late"
	ActionArrive       Action = "arrive"
	ActionStart        Action = "start"
	ActionComplete     Action = "complete"
)

// Deadlines is the set of instants an assignment's allowed actions are
// computed against, all derived from Date and the route's local start
// time via the tenant zone.
type Deadlines struct {
	OpensAt         time.Time // confirmation window opens: date-7d at 07:00 local
	Deadline        time.Time // confirmation deadline: date-2d at 07:00 local
	ArrivalDeadline time.Time // date at routeStartTime local
}

// ComputeDeadlines derives Deadlines for an assignment on date, given the
// route's local start time.
func ComputeDeadlines(zone *timepolicy.Zone, date string, routeStart timepolicy.HourMinute, policy timepolicy.Policy) (Deadlines, error) {
	opensDate, err := zone.AddDays(date, -7)
	if err != nil {
		return Deadlines{}, err
	}
	deadlineDate, err := zone.AddDays(date, -2)
	if err != nil {
		return Deadlines{}, err
	}
	opensAt, err := zone.LocalDateTimeAt(opensDate, timepolicy.HourMinute{Hour: policy.ShiftStartHourLocal, Minute: 0})
	if err != nil {
		return Deadlines{}, err
	}
	deadline, err := zone.LocalDateTimeAt(deadlineDate, timepolicy.HourMinute{Hour: policy.ShiftStartHourLocal, Minute: 0})
	if err != nil {
		return Deadlines{}, err
	}
	arrivalDeadline, err := zone.LocalDateTimeAt(date, routeStart)
	if err != nil {
		return Deadlines{}, err
	}
	return Deadlines{OpensAt: opensAt, Deadline: deadline, ArrivalDeadline: arrivalDeadline}, nil
}

// AllowedActions derives the set of actions permitted on a, given the
// current shift state, deadlines, and now. Pure.
func AllowedActions(a Assignment, sh *Shift, d Deadlines, today string, now time.Time) map[Action]bool {
	allowed := make(map[Action]bool)

	if a.Status == StatusScheduled && a.ConfirmedAt == nil && !now.Before(d.OpensAt) && !now.After(d.Deadline) {
		allowed[ActionConfirm] = true
	}
	if a.Date > today && a.Status != StatusCancelled {
		if now.Before(d.Deadline) {
			allowed[ActionCancelEarly] = true
		} else {
			allowed[ActionCancelLate] = true
		}
	}
	if a.Date == today && a.Status == StatusScheduled && a.ConfirmedAt != nil &&
		(sh == nil || sh.ArrivedAt == nil) && now.Before(d.ArrivalDeadline) {
		allowed[ActionArrive] = true
	}
	if a.Status == StatusActive && sh != nil && sh.ArrivedAt != nil && sh.ParcelsStart == nil {
		allowed[ActionStart] = true
	}
	if a.Status == StatusActive && sh != nil && sh.ParcelsStart != nil && sh.CompletedAt == nil {
		allowed[ActionComplete] = true
	}
	return allowed
}
