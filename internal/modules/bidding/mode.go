package bidding

import (
	"errors"
	"time"

	"github.com/orro3790/dispatch/internal/timepolicy"
)

// ErrPastShift is returned by SelectMode when the shift has already
// started and the caller did not allow a past-shift instant window.
var ErrPastShift = errors.New("bidding: shift already in progress, allowPastShift required")

// CreateOpts parameterizes createBidWindow's mode selection.
type CreateOpts struct {
	RequestedMode  Mode // "" means let SelectMode decide
	AllowPastShift bool
}

// SelectMode implements the bid window mode-selection rules: emergency is
// forced when requested; a past shift requires AllowPastShift and becomes
// instant; otherwise instant if explicitly requested or the shift starts
// within the policy's instant-mode cutoff, else competitive.
func SelectMode(zone *timepolicy.Zone, date string, shiftStart time.Time, now time.Time, policy timepolicy.Policy, opts CreateOpts) (Mode, time.Time, error) {
	endOfToday, err := zone.LocalDateTimeAt(zone.TodayInZone(), timepolicy.HourMinute{Hour: 23, Minute: 59})
	if err != nil {
		return "", time.Time{}, err
	}

	if opts.RequestedMode == ModeEmergency {
		closesAt := shiftStart
		if !shiftStart.After(now) {
			closesAt = endOfToday
		}
		return ModeEmergency, closesAt, nil
	}

	if !shiftStart.After(now) {
		if !opts.AllowPastShift {
			return "", time.Time{}, ErrPastShift
		}
		return ModeInstant, endOfToday, nil
	}

	cutoff := time.Duration(policy.BiddingInstantModeCutoffHours) * time.Hour
	delta := shiftStart.Sub(now)
	if opts.RequestedMode == ModeInstant || delta <= cutoff {
		return ModeInstant, shiftStart, nil
	}
	return ModeCompetitive, shiftStart.Add(-cutoff), nil
}
