// README: Policy constants. Defaults load from a TOML file shipped with
// the binary; a tenant may override any subset via
// organizationDispatchSettings, merged over the defaults with mergo.
package timepolicy

import (
	"fmt"
	"os"

	"github.com/imdario/mergo"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/pelletier/go-toml/v2"
)

// HealthPoints is the additive point schedule for driver health events.
type HealthPoints struct {
	ConfirmedOnTime int `toml:"confirmed_on_time"`
	ArrivedOnTime   int `toml:"arrived_on_time"`
	CompletedShift  int `toml:"completed_shift"`
	HighDelivery    int `toml:"high_delivery"`
	BidPickup       int `toml:"bid_pickup"`
	UrgentPickup    int `toml:"urgent_pickup"`
	AutoDrop        int `toml:"auto_drop"`
	LateCancel      int `toml:"late_cancel"`
}

// Policy is the full set of tenant-configurable dispatch constants.
type Policy struct {
	ShiftStartHourLocal          int `toml:"shift_start_hour_local"`
	ShiftArrivalDeadlineHourLocal int `toml:"shift_arrival_deadline_hour_local"`

	ConfirmationWindowDaysBeforeShift    int `toml:"confirmation_window_days_before_shift"`
	ConfirmationDeadlineHoursBeforeShift int `toml:"confirmation_deadline_hours_before_shift"`

	BiddingInstantModeCutoffHours int `toml:"bidding_instant_mode_cutoff_hours"`
	BiddingEmergencyBonusPercent  int `toml:"bidding_emergency_bonus_percent"`

	FlaggingGracePeriodDays          int     `toml:"flagging_grace_period_days"`
	FlaggingWeeklyCapBase            int     `toml:"flagging_weekly_cap_base"`
	FlaggingWeeklyCapReward          int     `toml:"flagging_weekly_cap_reward"`
	FlaggingWeeklyCapMin             int     `toml:"flagging_weekly_cap_min"`
	FlaggingRewardMinAttendanceRate  float64 `toml:"flagging_reward_min_attendance_rate"`
	FlaggingRewardMinShifts          int     `toml:"flagging_reward_min_shifts"`
	AttendanceThresholdLowShifts     float64 `toml:"attendance_threshold_low_shifts"`
	AttendanceThresholdHighShifts    float64 `toml:"attendance_threshold_high_shifts"`
	AttendanceShiftCountCutoff       int     `toml:"attendance_shift_count_cutoff"`

	HealthPoints                       HealthPoints `toml:"health_points"`
	HealthLateCancelRollingDays         int          `toml:"health_late_cancel_rolling_days"`
	HealthLateCancelThreshold           int          `toml:"health_late_cancel_threshold"`
	HealthCorrectiveCompletionThreshold float64      `toml:"health_corrective_completion_threshold"`
	HealthCorrectiveRecoveryDays        int          `toml:"health_corrective_recovery_days"`
	HealthMaxStars                      int          `toml:"health_max_stars"`

	QualifyingWeekAttendance  float64 `toml:"qualifying_week_attendance"`
	QualifyingWeekCompletion  float64 `toml:"qualifying_week_completion"`
	QualifyingWeekNoShows     int     `toml:"qualifying_week_no_shows"`
	QualifyingWeekLateCancels int     `toml:"qualifying_week_late_cancels"`

	JobsPerformanceCheckBatchSize int `toml:"jobs_performance_check_batch_size"`
}

// Hash returns a stable fingerprint of the policy, used to invalidate
// cached per-org policy objects when organizationDispatchSettings changes.
func (p Policy) Hash() (uint64, error) {
	return hashstructure.Hash(p, hashstructure.FormatV2, nil)
}

// DefaultPolicy returns the built-in defaults, used when no TOML file or
// tenant override is present.
func DefaultPolicy() Policy {
	return Policy{
		ShiftStartHourLocal:          7,
		ShiftArrivalDeadlineHourLocal: 9,

		ConfirmationWindowDaysBeforeShift:    7,
		ConfirmationDeadlineHoursBeforeShift: 48,

		BiddingInstantModeCutoffHours: 24,
		BiddingEmergencyBonusPercent:  20,

		FlaggingGracePeriodDays:         7,
		FlaggingWeeklyCapBase:           4,
		FlaggingWeeklyCapReward:         6,
		FlaggingWeeklyCapMin:            1,
		FlaggingRewardMinAttendanceRate: 0.95,
		FlaggingRewardMinShifts:         20,
		AttendanceThresholdLowShifts:    0.8,
		AttendanceThresholdHighShifts:   0.7,
		AttendanceShiftCountCutoff:      10,

		HealthPoints: HealthPoints{
			ConfirmedOnTime: 1,
			ArrivedOnTime:   1,
			CompletedShift:  3,
			HighDelivery:    1,
			BidPickup:       2,
			UrgentPickup:    3,
			AutoDrop:        -10,
			LateCancel:      -20,
		},
		HealthLateCancelRollingDays:         30,
		HealthLateCancelThreshold:           2,
		HealthCorrectiveCompletionThreshold: 0.98,
		HealthCorrectiveRecoveryDays:        7,
		HealthMaxStars:                      4,

		QualifyingWeekAttendance:  1.0,
		QualifyingWeekCompletion:  0.95,
		QualifyingWeekNoShows:     0,
		QualifyingWeekLateCancels: 0,

		JobsPerformanceCheckBatchSize: 25,
	}
}

// LoadDefaultsFile parses a policy.defaults.toml file, falling back to
// DefaultPolicy() for any field it does not set, by merging the file's
// values over a DefaultPolicy() base.
func LoadDefaultsFile(path string) (Policy, error) {
	base := DefaultPolicy()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return Policy{}, fmt.Errorf("read policy defaults %q: %w", path, err)
	}
	var fromFile Policy
	if err := toml.Unmarshal(data, &fromFile); err != nil {
		return Policy{}, fmt.Errorf("parse policy defaults %q: %w", path, err)
	}
	if err := mergo.Merge(&base, fromFile, mergo.WithOverride); err != nil {
		return Policy{}, fmt.Errorf("merge policy defaults: %w", err)
	}
	return base, nil
}

// TenantOverride is the partial policy a single organization may set via
// organizationDispatchSettings. Zero-value fields mean "inherit default"
// since mergo.WithOverride only overwrites non-zero fields.
type TenantOverride = Policy

// Resolve merges a tenant override over the given defaults. Only
// non-zero-valued fields of override take effect, which is adequate for
// every field above (policy constants are never legitimately set to 0
// except QualifyingWeekNoShows/QualifyingWeekLateCancels, which a tenant
// has no reason to override away from the shared default of 0).
func Resolve(defaults Policy, override TenantOverride) (Policy, error) {
	merged := defaults
	if err := mergo.Merge(&merged, override, mergo.WithOverride); err != nil {
		return Policy{}, fmt.Errorf("merge tenant policy override: %w", err)
	}
	return merged, nil
}
