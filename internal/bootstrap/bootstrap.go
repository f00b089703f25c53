// README: Shared process wiring for dispatch-api and dispatchctl — both
// binaries need the full set of stores and services, just different
// outer layers (HTTP router vs. cobra commands) driving them.
package bootstrap

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/orro3790/dispatch/internal/audit"
	"github.com/orro3790/dispatch/internal/config"
	"github.com/orro3790/dispatch/internal/cron"
	"github.com/orro3790/dispatch/internal/dbutil"
	"github.com/orro3790/dispatch/internal/infra"
	"github.com/orro3790/dispatch/internal/modules/assignment"
	"github.com/orro3790/dispatch/internal/modules/bidding"
	"github.com/orro3790/dispatch/internal/modules/driver"
	"github.com/orro3790/dispatch/internal/modules/health"
	"github.com/orro3790/dispatch/internal/modules/noshow"
	"github.com/orro3790/dispatch/internal/modules/org"
	"github.com/orro3790/dispatch/internal/modules/schedule"
	"github.com/orro3790/dispatch/internal/notify"
	"github.com/orro3790/dispatch/internal/realtime"
	"github.com/orro3790/dispatch/internal/timepolicy"
)

// App bundles every wired store, service, and cron runner a process
// entrypoint needs.
type App struct {
	Config   config.Config
	Verifier infra.TokenVerifier
	Assigns  *assignment.Service
	Bids     *bidding.Service
	Schedule *schedule.Service
	Health   *health.Service
	Flagging *health.FlaggingService
	Noshow   *noshow.Service
	Cron     *cron.Runner
	Log      logr.Logger
}

// Build wires the full dependency graph from config. Both dispatch-api
// and dispatchctl call this once at startup.
func Build(ctx context.Context, cfg config.Config, log logr.Logger) (*App, error) {
	verifier, err := infra.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		return nil, err
	}
	pushTransport, err := infra.NewFCMTransport(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		return nil, err
	}

	pool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, err
	}
	db := dbutil.New(pool)

	redisClient := infra.NewRedis(cfg.Redis.Addr)

	defaults, err := timepolicy.LoadDefaultsFile(cfg.Policy.DefaultsFile)
	if err != nil {
		return nil, err
	}

	orgStore := org.NewStore(pool)
	driverStore := driver.NewStore(pool)
	assignStore := assignment.NewStore(pool)
	bidStore := bidding.NewStore(pool)

	zone, err := timepolicy.NewZone(cfg.TimeZone, timepolicy.RealClock{})
	if err != nil {
		return nil, err
	}
	policyCache := timepolicy.NewCache(defaults, orgStore)

	auditSink := audit.NewSink(pool)
	bcast := realtime.New(redisClient, log)

	notifyStore := notify.NewStore(pool)
	directory := notify.NewDirectory(driverStore, orgStore)
	notifier := notify.New(directory, notifyStore, pushTransport, log)

	assignSvc := assignment.NewService(assignStore, driverStore, db, orgStore, policyCache, zone, timepolicy.RealClock{}, auditSink, notifier, bcast, log)
	healthSvc := health.NewService(db, health.NewStore(pool, auditSink), policyCache, timepolicy.RealClock{}, auditSink, notifier, log)
	flaggingSvc := health.NewFlaggingService(driverStore, policyCache, timepolicy.RealClock{}, auditSink, notifier, bcast)
	bidSvc := bidding.NewService(db, bidStore, assignStore, driverStore, orgStore, healthSvc, policyCache, zone, timepolicy.RealClock{}, auditSink, notifier, bcast, log)
	scheduleSvc := schedule.NewService(db, orgStore, driverStore, assignStore, auditSink, zone, log)
	noshowSvc := noshow.NewService(db, assignStore, bidSvc, driverStore, healthSvc, orgStore, zone, timepolicy.RealClock{}, auditSink, notifier, log)

	deduper := cron.NewDeduper(redisClient)
	cronRunner := cron.NewRunner(db, orgStore, assignStore, driverStore, bidSvc, healthSvc, noshowSvc, deduper, zone, timepolicy.RealClock{}, notifier, policyCache, log)

	return &App{
		Config:   cfg,
		Verifier: verifier,
		Assigns:  assignSvc,
		Bids:     bidSvc,
		Schedule: scheduleSvc,
		Health:   healthSvc,
		Flagging: flaggingSvc,
		Noshow:   noshowSvc,
		Cron:     cronRunner,
		Log:      log,
	}, nil
}
