// README: Attendance-driven flagging — a track parallel to the
// score-based health state, driven purely by driverMetrics.
package health

import (
	"context"
	"time"

	"github.com/orro3790/dispatch/internal/audit"
	"github.com/orro3790/dispatch/internal/modules/driver"
	"github.com/orro3790/dispatch/internal/notify"
	"github.com/orro3790/dispatch/internal/realtime"
	"github.com/orro3790/dispatch/internal/timepolicy"
	"github.com/orro3790/dispatch/internal/types"
)

// FlaggingService evaluates and persists the attendance-based flag and
// weekly-cap transitions. Kept separate from Service since it reads
// driverMetrics rather than driverHealthState.
type FlaggingService struct {
	drivers  *driver.Store
	policies *timepolicy.Cache
	clock    timepolicy.Clock
	audit    *audit.Sink
	notifier *notify.Notifier
	bcast    *realtime.Broadcaster
}

func NewFlaggingService(drivers *driver.Store, policies *timepolicy.Cache, clock timepolicy.Clock, auditSink *audit.Sink, notifier *notify.Notifier, bcast *realtime.Broadcaster) *FlaggingService {
	return &FlaggingService{drivers: drivers, policies: policies, clock: clock, audit: auditSink, notifier: notifier, bcast: bcast}
}

// EvaluateDriverFlagging evaluates and persists the attendance flag and
// weekly cap transition for one driver.
func (s *FlaggingService) EvaluateDriverFlagging(ctx context.Context, driverID, orgID types.ID) error {
	policy, err := s.policies.For(ctx, orgID)
	if err != nil {
		return err
	}
	d, err := s.drivers.Get(ctx, driverID, orgID)
	if err != nil {
		return err
	}
	metrics, err := s.drivers.GetMetrics(ctx, driverID)
	if err != nil {
		return err
	}

	threshold := policy.AttendanceThresholdHighShifts
	if metrics.TotalShifts < policy.AttendanceShiftCountCutoff {
		threshold = policy.AttendanceThresholdLowShifts
	}
	shouldFlag := metrics.TotalShifts > 0 && metrics.AttendanceRate < threshold

	rewardEligible := metrics.TotalShifts >= policy.FlaggingRewardMinShifts && metrics.AttendanceRate >= policy.FlaggingRewardMinAttendanceRate
	baseCap := policy.FlaggingWeeklyCapBase
	if rewardEligible {
		baseCap = policy.FlaggingWeeklyCapReward
	}

	wasFlagged := d.IsFlagged
	transitionToFlagged := shouldFlag && !wasFlagged

	now := s.clock.Now()
	flagWarningDate := d.FlagWarningDate
	if transitionToFlagged {
		flagWarningDate = &now
	}
	if !shouldFlag {
		flagWarningDate = nil
	}

	newCap := baseCap
	if shouldFlag && flagWarningDate != nil {
		grace := time.Duration(policy.FlaggingGracePeriodDays) * 24 * time.Hour
		if now.Sub(*flagWarningDate) >= grace {
			newCap = baseCap - 1
			if newCap < policy.FlaggingWeeklyCapMin {
				newCap = policy.FlaggingWeeklyCapMin
			}
		}
	}

	if shouldFlag == wasFlagged && newCap == d.WeeklyCap {
		return nil
	}

	if err := s.drivers.UpdateFlagState(ctx, driverID, shouldFlag, flagWarningDate, newCap); err != nil {
		return err
	}
	if err := s.audit.Record(ctx, nil, "driver", driverID, "flag_state", audit.SystemActor, map[string]any{
		"before": map[string]any{"isFlagged": wasFlagged, "weeklyCap": d.WeeklyCap},
		"after":  map[string]any{"isFlagged": shouldFlag, "weeklyCap": newCap},
	}); err != nil {
		return err
	}

	if transitionToFlagged {
		s.notifier.Send(ctx, driverID, notify.TypeWarning, notify.Opts{OrganizationID: &orgID})
		s.bcast.Publish(ctx, orgID, realtime.Event{Type: realtime.EventDriverFlagged, Payload: map[string]any{"driverId": driverID}})
	}
	return nil
}
