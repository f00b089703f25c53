// README: Transaction primitive shared by every module store. Factors out
// the "begin, run, commit/rollback" boilerplate plus a bounded retry for
// the TransientStore error class.
package dbutil

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the handle every module store is constructed with.
type DB struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *DB {
	return &DB{Pool: pool}
}

// WithTx runs fn inside a single transaction, committing on nil error and
// rolling back otherwise. fn's returned error is passed through Classify.
func (db *DB) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return Classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return Classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Classify(err)
	}
	return nil
}

// WithTxRetryTransient retries the whole transaction once more (attempts
// total, default 2) when Classify maps the failure to TransientStore, the
// only error class safe to retry without caller-side idempotency checks.
func (db *DB) WithTxRetryTransient(ctx context.Context, attempts uint, fn func(tx pgx.Tx) error) error {
	if attempts == 0 {
		attempts = 2
	}
	return retry.Do(
		func() error { return db.WithTx(ctx, fn) },
		retry.Attempts(attempts),
		retry.Context(ctx),
		retry.DelayType(retry.FixedDelay),
		retry.Delay(10*time.Millisecond),
		retry.RetryIf(IsTransient),
		retry.LastErrorOnly(true),
	)
}
