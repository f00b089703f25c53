package cron

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orro3790/dispatch/internal/modules/driver"
	"github.com/orro3790/dispatch/internal/types"
)

func TestRunBatchedCountsProcessedAndErrors(t *testing.T) {
	drivers := make([]driver.Driver, 23)
	for i := range drivers {
		drivers[i] = driver.Driver{ID: types.ID(string(rune('a' + i)))}
	}

	var concurrent int32
	var maxConcurrent int32
	processed, errs := runBatched(drivers, 5, func(d driver.Driver) error {
		n := atomic.AddInt32(&concurrent, 1)
		for {
			m := atomic.LoadInt32(&maxConcurrent)
			if n <= m || atomic.CompareAndSwapInt32(&maxConcurrent, m, n) {
				break
			}
		}
		atomic.AddInt32(&concurrent, -1)
		if d.ID == "a" {
			return errors.New("boom")
		}
		return nil
	})

	assert.Equal(t, len(drivers), processed)
	assert.Equal(t, 1, errs)
	assert.LessOrEqual(t, int(maxConcurrent), 5)
}
