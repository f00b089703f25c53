package bidding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateBidScoreParts(t *testing.T) {
	base := CalculateBidScoreParts(ScoreParts{HealthScore: 100, RouteFamiliarityCount: 4, TenureMonths: 6})
	assert.InDelta(t, 0.5*100+2.0*4+0.5*6, base, 1e-9)

	withBonus := CalculateBidScoreParts(ScoreParts{HealthScore: 100, RouteFamiliarityCount: 4, TenureMonths: 6, PreferredRouteBonus: true})
	assert.InDelta(t, base+preferredRouteBonus, withBonus, 1e-9)
}

func TestCalculateBidScorePartsSaturates(t *testing.T) {
	atCap := CalculateBidScoreParts(ScoreParts{RouteFamiliarityCount: 10, TenureMonths: 24})
	overCap := CalculateBidScoreParts(ScoreParts{RouteFamiliarityCount: 50, TenureMonths: 100})
	assert.InDelta(t, atCap, overCap, 1e-9)
}
