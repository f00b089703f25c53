// README: BidWindow/Bid — the replacement market for an unfilled
// assignment. Exactly one open window per assignment; a window owns its
// bids exclusively.
package bidding

import (
	"time"

	"github.com/orro3790/dispatch/internal/types"
)

type Mode string

const (
	ModeCompetitive Mode = "competitive"
	ModeInstant     Mode = "instant"
	ModeEmergency   Mode = "emergency"
)

type Trigger string

const (
	TriggerCancellation Trigger = "cancellation"
	TriggerAutoDrop     Trigger = "auto_drop"
	TriggerNoShow       Trigger = "no_show"
	TriggerManager      Trigger = "manager"
)

type WindowStatus string

const (
	WindowOpen     WindowStatus = "open"
	WindowResolved WindowStatus = "resolved"
	WindowClosed   WindowStatus = "closed"
)

// Window is a time-bounded market for one unfilled assignment.
type Window struct {
	ID              types.ID
	AssignmentID    types.ID
	Mode            Mode
	Trigger         Trigger
	PayBonusPercent int
	OpensAt         time.Time
	ClosesAt        time.Time
	Status          WindowStatus
	WinnerID        *types.ID
}

type BidStatus string

const (
	BidPending BidStatus = "pending"
	BidWon     BidStatus = "won"
	BidLost    BidStatus = "lost"
)

// Bid is one driver's entry in a bid window.
type Bid struct {
	ID         types.ID
	WindowID   types.ID
	UserID     types.ID
	Score      *float64
	BidAt      time.Time
	Status     BidStatus
	ResolvedAt *time.Time
}

// ScoreParts are the inputs to calculateBidScoreParts, kept as named
// fields so the weighting function stays a pure, inspectable computation.
type ScoreParts struct {
	HealthScore           float64
	RouteFamiliarityCount int
	TenureMonths          float64
	PreferredRouteBonus   bool
}

// Score weights. Saturation curves live here rather than spreading magic
// numbers through the resolver.
const (
	weightHealth          = 0.5
	weightFamiliarity     = 2.0
	familiaritySaturation = 10.0 // familiarity contribution saturates after this many completions
	weightTenure          = 0.5
	tenureSaturationMonths = 24.0
	preferredRouteBonus   = 10.0
)

// CalculateBidScoreParts is a pure linear combination of driver-route
// state: health score, route familiarity (saturating), tenure (saturating
// in months), and a flat bonus if the route is one of the driver's
// preferred routes.
func CalculateBidScoreParts(p ScoreParts) float64 {
	familiarity := float64(p.RouteFamiliarityCount)
	if familiarity > familiaritySaturation {
		familiarity = familiaritySaturation
	}
	tenure := p.TenureMonths
	if tenure > tenureSaturationMonths {
		tenure = tenureSaturationMonths
	}

	score := weightHealth*p.HealthScore + weightFamiliarity*familiarity + weightTenure*tenure
	if p.PreferredRouteBonus {
		score += preferredRouteBonus
	}
	return score
}
