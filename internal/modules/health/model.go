// README: DriverHealthState/DriverHealthSnapshot — the score, streak, and
// pool-eligibility state a driver's bid score and flagging status read
// from. Contributions is the pure point-tallying step; State mutation and
// persistence live in Service/Store.
package health

import (
	"time"

	"github.com/orro3790/dispatch/internal/timepolicy"
	"github.com/orro3790/dispatch/internal/types"
)

// State is the live per-driver health record.
type State struct {
	DriverID                    types.ID
	CurrentScore                int
	Stars                       int
	StreakWeeks                 int
	NextMilestoneStars          int
	AssignmentPoolEligible      bool
	RequiresManagerIntervention bool
	LastScoreResetAt            time.Time
	ReinstatedAt                *time.Time
	LastQualifiedWeekStart      *string
}

// Snapshot is one daily evaluation's persisted record, upserted on
// (driverID, evaluatedAt).
type Snapshot struct {
	DriverID    types.ID
	EvaluatedAt string // tenant-local calendar date
	Score       int
	HardStop    bool
	Reasons     []string
}

// Contributions is the dated event tally the daily evaluator feeds into
// calculateHealthScore.
type Contributions struct {
	ConfirmedOnTime int
	ArrivedOnTime   int
	Completed       int
	HighDelivery    int
	BidPickups      int
	UrgentPickups   int
	AutoDrops       int
	LateCancels     int
	NoShows         int
}

// CalculateHealthScore is the pure point-weighted sum of dated event
// contributions: score = max(0, Σ points), capped at 49 when a hard-stop
// is in effect.
func CalculateHealthScore(c Contributions, points timepolicy.HealthPoints, hardStop bool) int {
	sum := c.ConfirmedOnTime*points.ConfirmedOnTime +
		c.ArrivedOnTime*points.ArrivedOnTime +
		c.Completed*points.CompletedShift +
		c.HighDelivery*points.HighDelivery +
		c.BidPickups*points.BidPickup +
		c.UrgentPickups*points.UrgentPickup +
		c.AutoDrops*points.AutoDrop +
		c.LateCancels*points.LateCancel

	if sum < 0 {
		sum = 0
	}
	if hardStop && sum > 49 {
		sum = 49
	}
	return sum
}

// IsHardStop reports the hard-stop condition: any no-show, or at least
// lateCancelThreshold late cancels, in the rolling window.
func IsHardStop(c Contributions, lateCancelThreshold int) bool {
	return c.NoShows > 0 || c.LateCancels >= lateCancelThreshold
}

// WeekOutcome is the pure classification weeklyEvaluate derives from a
// week's assignment/shift counts.
type WeekOutcome string

const (
	WeekNeutral     WeekOutcome = "neutral"      // 0 assignments
	WeekHardStop    WeekOutcome = "hard_stop"     // reset streak/stars
	WeekQualifying  WeekOutcome = "qualifying"    // stars+streak advance
	WeekNonQualifying WeekOutcome = "non_qualifying" // unchanged
)

// WeekStats is one driver's tallied week, the input to ClassifyWeek.
type WeekStats struct {
	TotalAssignments int
	Attendance       float64 // fraction of assignments with no no-show
	AdjustedCompletion float64
	NoShows          int
	LateCancels      int
	HardStop         bool
}

// ClassifyWeek implements the weekly-evaluation decision table, pure.
func ClassifyWeek(w WeekStats, q timepolicy.Policy) WeekOutcome {
	if w.TotalAssignments == 0 {
		return WeekNeutral
	}
	if w.HardStop {
		return WeekHardStop
	}
	qualifies := w.Attendance >= q.QualifyingWeekAttendance &&
		w.AdjustedCompletion >= q.QualifyingWeekCompletion &&
		w.NoShows <= q.QualifyingWeekNoShows &&
		w.LateCancels <= q.QualifyingWeekLateCancels
	if qualifies {
		return WeekQualifying
	}
	return WeekNonQualifying
}
