package bidding

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orro3790/dispatch/internal/timepolicy"
)

func mustZone(t *testing.T) *timepolicy.Zone {
	t.Helper()
	z, err := timepolicy.NewZone("America/Toronto", timepolicy.RealClock{})
	require.NoError(t, err)
	return z
}

func TestSelectModeEmergencyForced(t *testing.T) {
	z := mustZone(t)
	policy := timepolicy.DefaultPolicy()
	now, _ := z.LocalDateTimeAt("2026-08-15", timepolicy.HourMinute{Hour: 6})
	shiftStart, _ := z.LocalDateTimeAt("2026-08-15", timepolicy.HourMinute{Hour: 9})

	mode, closesAt, err := SelectMode(z, "2026-08-15", shiftStart, now, policy, CreateOpts{RequestedMode: ModeEmergency})
	require.NoError(t, err)
	assert.Equal(t, ModeEmergency, mode)
	assert.True(t, closesAt.Equal(shiftStart))
}

func TestSelectModePastShiftRequiresAllow(t *testing.T) {
	z := mustZone(t)
	policy := timepolicy.DefaultPolicy()
	shiftStart, _ := z.LocalDateTimeAt("2026-08-15", timepolicy.HourMinute{Hour: 9})
	now := shiftStart.Add(time.Hour)

	_, _, err := SelectMode(z, "2026-08-15", shiftStart, now, policy, CreateOpts{})
	assert.ErrorIs(t, err, ErrPastShift)

	mode, _, err := SelectMode(z, "2026-08-15", shiftStart, now, policy, CreateOpts{AllowPastShift: true})
	require.NoError(t, err)
	assert.Equal(t, ModeInstant, mode)
}

func TestSelectModeInstantCutoffVsCompetitive(t *testing.T) {
	z := mustZone(t)
	policy := timepolicy.DefaultPolicy()
	shiftStart, _ := z.LocalDateTimeAt("2026-08-15", timepolicy.HourMinute{Hour: 9})
	cutoff := time.Duration(policy.BiddingInstantModeCutoffHours) * time.Hour

	withinCutoff := shiftStart.Add(-cutoff + time.Minute)
	mode, closesAt, err := SelectMode(z, "2026-08-15", shiftStart, withinCutoff, policy, CreateOpts{})
	require.NoError(t, err)
	assert.Equal(t, ModeInstant, mode)
	assert.True(t, closesAt.Equal(shiftStart))

	beforeCutoff := shiftStart.Add(-cutoff - time.Hour)
	mode, closesAt, err = SelectMode(z, "2026-08-15", shiftStart, beforeCutoff, policy, CreateOpts{})
	require.NoError(t, err)
	assert.Equal(t, ModeCompetitive, mode)
	assert.True(t, closesAt.Equal(shiftStart.Add(-cutoff)))
}
