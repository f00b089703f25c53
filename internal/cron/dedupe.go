// README: Redis-backed idempotency guard for cron-originated sends.
// sendShiftReminders is the one driver that can legitimately run twice
// for the same (driver, date) within an hour (overlapping sweeps,
// manual dispatchctl re-run) and must not double-notify.
package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupeTTL = 20 * time.Hour

// Deduper guards a dedupeKey with a Redis SET NX, true the first time a
// key is claimed within its TTL, false on every subsequent claim.
type Deduper struct {
	redis *redis.Client
}

func NewDeduper(redisClient *redis.Client) *Deduper {
	return &Deduper{redis: redisClient}
}

func (d *Deduper) Claim(ctx context.Context, namespace, key string) (bool, error) {
	return d.redis.SetNX(ctx, fmt.Sprintf("cron:dedupe:%s:%s", namespace, key), 1, dedupeTTL).Result()
}
