package schedule

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orro3790/dispatch/internal/types"
)

func TestCandidateSortOrder(t *testing.T) {
	candidates := []candidate{
		{driverID: "d2", familiarityCount: 3, completionRate: 0.9, attendanceRate: 0.9},
		{driverID: "d1", familiarityCount: 5, completionRate: 0.5, attendanceRate: 0.5},
		{driverID: "d3", familiarityCount: 3, completionRate: 0.9, attendanceRate: 0.95},
		{driverID: "d4", familiarityCount: 3, completionRate: 0.9, attendanceRate: 0.95},
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.familiarityCount != b.familiarityCount {
			return a.familiarityCount > b.familiarityCount
		}
		if a.completionRate != b.completionRate {
			return a.completionRate > b.completionRate
		}
		if a.attendanceRate != b.attendanceRate {
			return a.attendanceRate > b.attendanceRate
		}
		return a.driverID < b.driverID
	})

	var order []types.ID
	for _, c := range candidates {
		order = append(order, c.driverID)
	}
	assert.Equal(t, []types.ID{"d1", "d3", "d4", "d2"}, order)
}
