package assignment

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

func TestComputeDeadlines(t *testing.T) {
	z := mustZone(t)
	policy := timepolicy.DefaultPolicy()
	routeStart := timepolicy.HourMinute{Hour: 9, Minute: 0}

	d, err := ComputeDeadlines(z, "2026-08-15", routeStart, policy)
	require.NoError(t, err)

	opensAt, _ := z.LocalDateTimeAt("2026-08-08", timepolicy.HourMinute{Hour: 7})
	deadline, _ := z.LocalDateTimeAt("2026-08-13", timepolicy.HourMinute{Hour: 7})
	arrival, _ := z.LocalDateTimeAt("2026-08-15", routeStart)

	assert.True(t, d.OpensAt.Equal(opensAt))
	assert.True(t, d.Deadline.Equal(deadline))
	assert.True(t, d.ArrivalDeadline.Equal(arrival))
}

func TestAllowedActionsConfirmWindow(t *testing.T) {
	z := mustZone(t)
	policy := timepolicy.DefaultPolicy()
	routeStart := timepolicy.HourMinute{Hour: 9, Minute: 0}
	d, err := ComputeDeadlines(z, "2026-08-15", routeStart, policy)
	require.NoError(t, err)

	a := Assignment{Date: "2026-08-15", Status: StatusScheduled}

	before := d.OpensAt.Add(-time.Hour)
	actions := AllowedActions(a, nil, d, "2026-08-01", before)
	assert.False(t, actions[ActionConfirm])

	inside := d.OpensAt.Add(time.Hour)
	actions = AllowedActions(a, nil, d, "2026-08-01", inside)
	assert.True(t, actions[ActionConfirm])

	after := d.Deadline.Add(time.Hour)
	actions = AllowedActions(a, nil, d, "2026-08-01", after)
	assert.False(t, actions[ActionConfirm])
}

func TestAllowedActionsCancelEarlyVsLate(t *testing.T) {
	z := mustZone(t)
	policy := timepolicy.DefaultPolicy()
	routeStart := timepolicy.HourMinute{Hour: 9, Minute: 0}
	d, err := ComputeDeadlines(z, "2026-08-15", routeStart, policy)
	require.NoError(t, err)

	a := Assignment{Date: "2026-08-15", Status: StatusScheduled}

	actions := AllowedActions(a, nil, d, "2026-08-01", d.Deadline.Add(-time.Hour))
	assert.True(t, actions[ActionCancelEarly])
	assert.False(t, actions[ActionCancelLate])

	actions = AllowedActions(a, nil, d, "2026-08-01", d.Deadline.Add(time.Hour))
	assert.False(t, actions[ActionCancelEarly])
	assert.True(t, actions[ActionCancelLate])
}

func TestAllowedActionsArriveStartComplete(t *testing.T) {
	z := mustZone(t)
	policy := timepolicy.DefaultPolicy()
	routeStart := timepolicy.HourMinute{Hour: 9, Minute: 0}
	d, err := ComputeDeadlines(z, "2026-08-15", routeStart, policy)
	require.NoError(t, err)

	confirmedAt := d.OpensAt.Add(time.Hour)
	a := Assignment{Date: "2026-08-15", Status: StatusScheduled, ConfirmedAt: &confirmedAt}

	actions := AllowedActions(a, nil, d, "2026-08-15", d.ArrivalDeadline.Add(-time.Minute))
	assert.True(t, actions[ActionArrive])

	actions = AllowedActions(a, nil, d, "2026-08-15", d.ArrivalDeadline.Add(time.Minute))
	assert.False(t, actions[ActionArrive])

	arrivedAt := d.ArrivalDeadline.Add(-time.Minute)
	a.Status = StatusActive
	sh := &Shift{ArrivedAt: &arrivedAt}
	actions = AllowedActions(a, sh, d, "2026-08-15", arrivedAt)
	assert.True(t, actions[ActionStart])
	assert.False(t, actions[ActionComplete])

	parcelsStart := 40
	sh.ParcelsStart = &parcelsStart
	actions = AllowedActions(a, sh, d, "2026-08-15", arrivedAt)
	assert.False(t, actions[ActionStart])
	assert.True(t, actions[ActionComplete])
}

func TestShiftDeliveryRate(t *testing.T) {
	start, returned, excepted := 40, 5, 2
	sh := Shift{ParcelsStart: &start, ParcelsReturned: &returned, ExceptedReturns: &excepted}
	rate, ok := sh.DeliveryRate()
	require.True(t, ok)
	assert.InDelta(t, float64(40-5+2)/40, rate, 1e-9)

	empty := Shift{}
	_, ok = empty.DeliveryRate()
	assert.False(t, ok)
}
