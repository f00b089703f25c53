// README: Structured logging setup. Bridges zap over logr so the rest of
// the codebase depends only on the vendor-neutral logr.Logger interface.
package logging

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

// New builds the process-wide logger. dev=true uses a human-readable
// console encoder (local development / cron CLI runs); dev=false uses the
// JSON encoder suitable for log aggregation in production.
func New(dev bool) (logr.Logger, func(), error) {
	var zl *zap.Logger
	var err error
	if dev {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		return logr.Discard(), func() {}, err
	}
	return zapr.NewLogger(zl), func() { _ = zl.Sync() }, nil
}

type ctxKey struct{}

// Into attaches a logger to ctx so downstream calls can retrieve a
// request/job-scoped logger via From.
func Into(ctx context.Context, log logr.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// From returns the logger attached to ctx, or a no-op logger if none was set.
func From(ctx context.Context) logr.Logger {
	if log, ok := ctx.Value(ctxKey{}).(logr.Logger); ok {
		return log
	}
	return logr.Discard()
}
