package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orro3790/dispatch/internal/types"
)

func TestPreferencesHasDay(t *testing.T) {
	p := Preferences{PreferredDays: []int{1, 3, 5}}
	assert.True(t, p.HasDay(1))
	assert.True(t, p.HasDay(5))
	assert.False(t, p.HasDay(0))
	assert.False(t, p.HasDay(6))
}

func TestPreferencesHasRoute(t *testing.T) {
	p := Preferences{PreferredRoutes: []types.ID{"r1", "r2"}}
	assert.True(t, p.HasRoute("r1"))
	assert.False(t, p.HasRoute("r3"))
}
