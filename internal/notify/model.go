// README: Notification types and payload shape.
package notify

import "github.com/orro3790/dispatch/internal/types"

// Type is the closed tag set of notification kinds the dispatch core emits.
type Type string

const (
	TypeShiftReminder          Type = "shift_reminder"
	TypeBidOpen                Type = "bid_open"
	TypeBidWon                 Type = "bid_won"
	TypeBidLost                Type = "bid_lost"
	TypeShiftCancelled         Type = "shift_cancelled"
	TypeWarning                Type = "warning"
	TypeManual                 Type = "manual"
	TypeScheduleLocked         Type = "schedule_locked"
	TypeAssignmentConfirmed    Type = "assignment_confirmed"
	TypeRouteUnfilled          Type = "route_unfilled"
	TypeRouteCancelled         Type = "route_cancelled"
	TypeDriverNoShow           Type = "driver_no_show"
	TypeConfirmationReminder   Type = "confirmation_reminder"
	TypeShiftAutoDropped       Type = "shift_auto_dropped"
	TypeEmergencyRouteAvailable Type = "emergency_route_available"
	TypeStreakAdvanced         Type = "streak_advanced"
	TypeStreakReset            Type = "streak_reset"
	TypeBonusEligible          Type = "bonus_eligible"
	TypeCorrectiveWarning      Type = "corrective_warning"
	TypeReturnException        Type = "return_exception"
	TypeStaleShiftReminder     Type = "stale_shift_reminder"
)

// Data carries stringly-typed identifiers the client uses to route a push,
// e.g. assignmentId, bidWindowId, routeName, date, mode, dedupeKey.
type Data map[string]string

// Opts parameterizes a single send.
type Opts struct {
	Data           Data
	RenderTitle    string
	RenderBody     string
	OrganizationID *types.ID
}

// PushFailureClass classifies a push transport failure.
type PushFailureClass string

const (
	PushFailureInvalidToken  PushFailureClass = "invalid-token"
	PushFailureTransient     PushFailureClass = "transient"
	PushFailureTerminalOther PushFailureClass = "terminal-other"
)

// Outcome is the per-recipient result of a send.
type Outcome struct {
	UserID      types.ID
	InAppOK     bool
	InAppErr    error
	PushOK      bool
	PushErr     error
	PushClass   PushFailureClass
	Skipped     bool // dropped: recipient not in the expected org
}
