package health

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orro3790/dispatch/internal/timepolicy"
)

func TestCalculateHealthScoreSumsAndFloors(t *testing.T) {
	points := timepolicy.DefaultPolicy().HealthPoints

	c := Contributions{ConfirmedOnTime: 5, ArrivedOnTime: 5, Completed: 2, HighDelivery: 1}
	want := 5*points.ConfirmedOnTime + 5*points.ArrivedOnTime + 2*points.CompletedShift + points.HighDelivery
	assert.Equal(t, want, CalculateHealthScore(c, points, false))

	negative := Contributions{AutoDrops: 10}
	assert.Equal(t, 0, CalculateHealthScore(negative, points, false))
}

func TestCalculateHealthScoreHardStopCap(t *testing.T) {
	points := timepolicy.DefaultPolicy().HealthPoints
	c := Contributions{ConfirmedOnTime: 1000}
	assert.Equal(t, 49, CalculateHealthScore(c, points, true))
}

func TestIsHardStop(t *testing.T) {
	assert.True(t, IsHardStop(Contributions{NoShows: 1}, 2))
	assert.True(t, IsHardStop(Contributions{LateCancels: 2}, 2))
	assert.False(t, IsHardStop(Contributions{LateCancels: 1}, 2))
}

func TestClassifyWeek(t *testing.T) {
	policy := timepolicy.DefaultPolicy()

	assert.Equal(t, WeekNeutral, ClassifyWeek(WeekStats{}, policy))

	assert.Equal(t, WeekHardStop, ClassifyWeek(WeekStats{TotalAssignments: 3, HardStop: true}, policy))

	qualifying := WeekStats{
		TotalAssignments:   5,
		Attendance:         1.0,
		AdjustedCompletion: 0.99,
		NoShows:            0,
		LateCancels:        0,
	}
	assert.Equal(t, WeekQualifying, ClassifyWeek(qualifying, policy))

	nonQualifying := qualifying
	nonQualifying.Attendance = 0.8
	assert.Equal(t, WeekNonQualifying, ClassifyWeek(nonQualifying, policy))
}
