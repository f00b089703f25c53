// README: Bounded-concurrency batch runner shared by the health cron
// drivers, mirroring notify.Notifier's semaphore-over-channel pattern.
package cron

import (
	"sync"

	"github.com/orro3790/dispatch/internal/modules/driver"
)

// performanceCheckBatchSize caps concurrent per-driver health
// evaluations within one org's pass when the org's policy sets no
// JobsPerformanceCheckBatchSize.
const performanceCheckBatchSize = 10

func runBatched(drivers []driver.Driver, batchSize int, fn func(driver.Driver) error) (processed, errs int) {
	sem := make(chan struct{}, batchSize)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, d := range drivers {
		wg.Add(1)
		sem <- struct{}{}
		go func(d driver.Driver) {
			defer wg.Done()
			defer func() { <-sem }()
			err := fn(d)
			mu.Lock()
			processed++
			if err != nil {
				errs++
			}
			mu.Unlock()
		}(d)
	}
	wg.Wait()
	return processed, errs
}
