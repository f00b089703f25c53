// README: Daily/weekly driver health evaluation. The daily pass is
// stale-write guarded: it row-locks the state, re-reads lastScoreResetAt,
// and retries once from scratch if a concurrent writer (a no-show reset,
// a manager reinstatement) changed it mid-computation.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5"

	"github.com/orro3790/dispatch/internal/audit"
	"github.com/orro3790/dispatch/internal/dbutil"
	"github.com/orro3790/dispatch/internal/notify"
	"github.com/orro3790/dispatch/internal/timepolicy"
	"github.com/orro3790/dispatch/internal/types"
)

const rollingHardStopWindow = 30 * 24 * time.Hour

type Service struct {
	db       *dbutil.DB
	store    *Store
	policies *timepolicy.Cache
	clock    timepolicy.Clock
	audit    *audit.Sink
	notifier *notify.Notifier
	log      logr.Logger
}

func NewService(db *dbutil.DB, store *Store, policies *timepolicy.Cache, clock timepolicy.Clock, auditSink *audit.Sink, notifier *notify.Notifier, log logr.Logger) *Service {
	return &Service{db: db, store: store, policies: policies, clock: clock, audit: auditSink, notifier: notifier, log: log}
}

// CurrentScore implements bidding.HealthReader.
func (s *Service) CurrentScore(ctx context.Context, driverID types.ID) (int, error) {
	st, err := s.store.Get(ctx, driverID)
	if err != nil {
		return 0, err
	}
	return st.CurrentScore, nil
}

// ApplyNoShow is invoked by the no-show sweep inside its own transaction:
// it resets health state and records the dated audit entry the daily
// evaluator's hard-stop/contribution queries read back.
func (s *Service) ApplyNoShow(ctx context.Context, tx pgx.Tx, driverID types.ID, now time.Time) error {
	_, err := tx.Exec(ctx, `
        UPDATE driver_health_state SET
            current_score = 0, stars = 0, streak_weeks = 0, next_milestone_stars = 1,
            assignment_pool_eligible = false, requires_manager_intervention = true, last_score_reset_at = $2
        WHERE driver_id = $1`, string(driverID), now,
	)
	if err != nil {
		return dbutil.Classify(err)
	}
	return s.audit.Record(ctx, tx, "driver", driverID, "no_show", audit.SystemActor, map[string]any{"reason": "no_show_detected"})
}

// Reinstate is the only path back from requiresManagerIntervention.
func (s *Service) Reinstate(ctx context.Context, driverID, managerID types.ID) error {
	if err := s.store.Reinstate(ctx, driverID, s.clock.Now()); err != nil {
		return err
	}
	return s.audit.Record(ctx, nil, "driver", driverID, "reinstate", audit.Actor{Type: audit.ActorUser, ID: &managerID}, nil)
}

// EvaluateDriverDaily runs the daily health score evaluation for one
// driver, with one stale-write retry.
func (s *Service) EvaluateDriverDaily(ctx context.Context, driverID, orgID types.ID, today string) error {
	policy, err := s.policies.For(ctx, orgID)
	if err != nil {
		return err
	}
	now := s.clock.Now()

	for attempt := 0; attempt < 2; attempt++ {
		retry, err := s.evaluateDailyOnce(ctx, driverID, today, now, policy)
		if err != nil {
			return err
		}
		if !retry {
			return nil
		}
		s.log.Info("health: daily evaluation hit a stale write", "driverId", driverID, "attempt", attempt+1)
	}
	return fmt.Errorf("health: daily evaluation for driver %s: state changed concurrently on every attempt", driverID)
}

func (s *Service) evaluateDailyOnce(ctx context.Context, driverID types.ID, today string, now time.Time, policy timepolicy.Policy) (retry bool, err error) {
	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		state, err := s.store.GetForUpdate(ctx, tx, driverID)
		if err != nil {
			return err
		}
		resetAt := state.LastScoreResetAt

		contributions, err := s.store.ComputeContributions(ctx, driverID, resetAt)
		if err != nil {
			return err
		}
		hardStopSince := now.Add(-rollingHardStopWindow)
		lateCancels30, err := s.store.CountLateCancelsInWindow(ctx, driverID, hardStopSince)
		if err != nil {
			return err
		}
		noShows30, err := s.audit.CountSince(ctx, "driver", driverID, "no_show", hardStopSince)
		if err != nil {
			return err
		}
		hardStop := IsHardStop(Contributions{NoShows: noShows30, LateCancels: lateCancels30}, policy.HealthLateCancelThreshold)

		score := CalculateHealthScore(contributions, policy.HealthPoints, hardStop)

		next := *state
		next.CurrentScore = score
		if hardStop && !state.RequiresManagerIntervention {
			next.Stars = 0
			next.StreakWeeks = 0
			next.NextMilestoneStars = 1
			next.AssignmentPoolEligible = false
			next.RequiresManagerIntervention = true
			next.LastScoreResetAt = now
		}

		ok, err := s.store.UpdateState(ctx, tx, next, resetAt)
		if err != nil {
			return err
		}
		if !ok {
			retry = true
			return nil
		}

		return s.store.InsertSnapshot(ctx, tx, Snapshot{
			DriverID:    driverID,
			EvaluatedAt: today,
			Score:       score,
			HardStop:    hardStop,
			Reasons:     reasonsFor(contributions, hardStop),
		})
	})
	return retry, err
}

func reasonsFor(c Contributions, hardStop bool) []string {
	var reasons []string
	if hardStop {
		reasons = append(reasons, "hard_stop")
	}
	if c.AutoDrops > 0 {
		reasons = append(reasons, "auto_drops")
	}
	if c.LateCancels > 0 {
		reasons = append(reasons, "late_cancels")
	}
	if c.NoShows > 0 {
		reasons = append(reasons, "no_shows")
	}
	return reasons
}

// EvaluateDriverWeekly runs the weekly health evaluation for one driver
// over the week beginning at weekStart.
func (s *Service) EvaluateDriverWeekly(ctx context.Context, driverID, orgID types.ID, weekStart string) error {
	policy, err := s.policies.For(ctx, orgID)
	if err != nil {
		return err
	}

	rows, err := s.store.WeekAssignments(ctx, driverID, weekStart)
	if err != nil {
		return err
	}

	var total, lateCancels int
	var deliverySum float64
	var deliveryCount int
	for _, r := range rows {
		if r.Status == "cancelled" {
			if r.CancelType != nil && *r.CancelType == "late" {
				lateCancels++
			}
			continue
		}
		total++
		if r.HasDelivery {
			deliverySum += *r.DeliveryRate
			deliveryCount++
		}
	}

	now := s.clock.Now()
	weekStartAt := timepolicy.MustParseDate(weekStart)
	noShowsInWeek, err := s.audit.CountBetween(ctx, "driver", driverID, "no_show", weekStartAt, weekStartAt.AddDate(0, 0, 7))
	if err != nil {
		return err
	}

	attendance := 1.0
	if total > 0 {
		attendance = float64(total-noShowsInWeek) / float64(total)
	}
	adjustedCompletion := 1.0
	if deliveryCount > 0 {
		adjustedCompletion = deliverySum / float64(deliveryCount)
	}

	hardStopSince := now.Add(-rollingHardStopWindow)
	lateCancels30, err := s.store.CountLateCancelsInWindow(ctx, driverID, hardStopSince)
	if err != nil {
		return err
	}
	noShows30, err := s.audit.CountSince(ctx, "driver", driverID, "no_show", hardStopSince)
	if err != nil {
		return err
	}

	outcome := ClassifyWeek(WeekStats{
		TotalAssignments:   total,
		Attendance:         attendance,
		AdjustedCompletion: adjustedCompletion,
		NoShows:            noShowsInWeek,
		LateCancels:        lateCancels,
		HardStop:           IsHardStop(Contributions{NoShows: noShows30, LateCancels: lateCancels30}, policy.HealthLateCancelThreshold),
	}, policy)

	if outcome == WeekNeutral || outcome == WeekNonQualifying {
		return nil
	}

	var notifyType notify.Type
	var crossedMax bool
	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		state, err := s.store.GetForUpdate(ctx, tx, driverID)
		if err != nil {
			return err
		}
		resetAt := state.LastScoreResetAt
		next := *state

		switch outcome {
		case WeekHardStop:
			next.Stars = 0
			next.StreakWeeks = 0
			notifyType = notify.TypeStreakReset
		case WeekQualifying:
			wasAtMax := state.Stars >= policy.HealthMaxStars
			if next.Stars < policy.HealthMaxStars {
				next.Stars++
			}
			next.StreakWeeks++
			next.LastQualifiedWeekStart = &weekStart
			notifyType = notify.TypeStreakAdvanced
			crossedMax = !wasAtMax && next.Stars >= policy.HealthMaxStars
		}

		ok, err := s.store.UpdateState(ctx, tx, next, resetAt)
		if err != nil {
			return err
		}
		if !ok {
			s.log.Info("health: weekly update skipped due to concurrent daily reset", "driverId", driverID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.notifier.Send(ctx, driverID, notifyType, notify.Opts{OrganizationID: &orgID})
	if crossedMax {
		s.notifier.Send(ctx, driverID, notify.TypeBonusEligible, notify.Opts{OrganizationID: &orgID})
	}
	return nil
}
