// README: Cron drivers — one method per sweep, run once per
// organization and summed into a single result map. Every driver loops
// its own org list rather than sharing one enumeration pass, since a
// failure enumerating orgs for one driver must not abort another.
package cron

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/orro3790/dispatch/internal/dbutil"
	"github.com/orro3790/dispatch/internal/modules/assignment"
	"github.com/orro3790/dispatch/internal/modules/bidding"
	"github.com/orro3790/dispatch/internal/modules/driver"
	"github.com/orro3790/dispatch/internal/modules/health"
	"github.com/orro3790/dispatch/internal/modules/noshow"
	"github.com/orro3790/dispatch/internal/modules/org"
	"github.com/orro3790/dispatch/internal/notify"
	"github.com/orro3790/dispatch/internal/timepolicy"
	"github.com/orro3790/dispatch/internal/types"
)

// Runner composes every module needed to drive the cron sweeps over all
// organizations. Constructed once at process start and shared by both
// the HTTP cron endpoint and dispatchctl.
type Runner struct {
	db      *dbutil.DB
	orgs    *org.Store
	assigns *assignment.Store
	drivers *driver.Store
	bids    *bidding.Service
	health  *health.Service
	noshows *noshow.Service
	dedupe  *Deduper
	zone    *timepolicy.Zone
	clock   timepolicy.Clock
	notifier *notify.Notifier
	policyCache *timepolicy.Cache
	log     logr.Logger
}

func NewRunner(db *dbutil.DB, orgs *org.Store, assigns *assignment.Store, drivers *driver.Store, bids *bidding.Service, healthSvc *health.Service, noshowSvc *noshow.Service, dedupe *Deduper, zone *timepolicy.Zone, clock timepolicy.Clock, notifier *notify.Notifier, policyCache *timepolicy.Cache, log logr.Logger) *Runner {
	return &Runner{
		db: db, orgs: orgs, assigns: assigns, drivers: drivers, bids: bids, health: healthSvc,
		noshows: noshowSvc, dedupe: dedupe, zone: zone, clock: clock, notifier: notifier,
		policyCache: policyCache, log: log,
	}
}

// CloseBidWindows implements closeBidWindows.
func (r *Runner) CloseBidWindows(ctx context.Context) map[string]int {
	result := map[string]int{"processed": 0, "resolved": 0, "transitioned": 0, "closed": 0, "errors": 0}
	orgIDs, err := r.orgs.ListOrgIDs(ctx)
	if err != nil {
		r.log.Error(err, "closeBidWindows: list orgs failed")
		result["errors"]++
		return result
	}
	now := r.clock.Now()
	observed := 0
	for _, orgID := range orgIDs {
		windows, err := r.bids.ListExpiredOpenWindows(ctx, orgID, now)
		if err != nil {
			r.log.Error(err, "closeBidWindows: list expired windows failed", "orgId", orgID)
			result["errors"]++
			continue
		}
		observed += len(windows)
		for _, w := range windows {
			result["processed"]++
			outcome, err := r.bids.ResolveBidWindow(ctx, w.ID, orgID, types.ID(""))
			if err != nil {
				r.log.Error(err, "closeBidWindows: resolve failed", "windowId", w.ID)
				result["errors"]++
				continue
			}
			switch outcome {
			case "resolved":
				result["resolved"]++
			case "transitioned_to_instant":
				result["transitioned"]++
			case "no_bids":
				result["closed"]++
			}
		}
	}
	bidWindowsOpen.Set(float64(observed))
	recordResult("closeBidWindows", result["processed"], result["errors"])
	return result
}

// DetectNoShows implements detectNoShows across every organization.
func (r *Runner) DetectNoShows(ctx context.Context) map[string]int {
	result := map[string]int{"scanned": 0, "detected": 0, "skipped": 0, "errors": 0}
	orgIDs, err := r.orgs.ListOrgIDs(ctx)
	if err != nil {
		r.log.Error(err, "detectNoShows: list orgs failed")
		result["errors"]++
		return result
	}
	for _, orgID := range orgIDs {
		res := r.noshows.DetectNoShows(ctx, orgID)
		result["scanned"] += res.Scanned
		result["detected"] += res.Detected
		result["skipped"] += res.Skipped
		result["errors"] += res.Errors
	}
	recordResult("detectNoShows", result["scanned"], result["errors"])
	return result
}

// SendShiftReminders implements sendShiftReminders: today's
// scheduled-but-not-started assignments, deduped per (driver, date) so
// an overlapping or re-run sweep never double-sends.
func (r *Runner) SendShiftReminders(ctx context.Context) map[string]int {
	result := map[string]int{"processed": 0, "sent": 0, "skipped": 0, "errors": 0}
	orgIDs, err := r.orgs.ListOrgIDs(ctx)
	if err != nil {
		r.log.Error(err, "sendShiftReminders: list orgs failed")
		result["errors"]++
		return result
	}
	today := r.zone.TodayInZone()
	for _, orgID := range orgIDs {
		assignments, err := r.assigns.ListTodayScheduledNotStarted(ctx, orgID, today)
		if err != nil {
			r.log.Error(err, "sendShiftReminders: list failed", "orgId", orgID)
			result["errors"]++
			continue
		}
		for _, a := range assignments {
			result["processed"]++
			if a.UserID == nil {
				result["skipped"]++
				continue
			}
			dedupeKey := string(*a.UserID) + ":" + a.Date
			claimed, err := r.dedupe.Claim(ctx, "shift_reminder", dedupeKey)
			if err != nil {
				r.log.Error(err, "sendShiftReminders: dedupe claim failed", "assignmentId", a.ID)
				result["errors"]++
				continue
			}
			if !claimed {
				result["skipped"]++
				continue
			}
			r.notifier.Send(ctx, *a.UserID, notify.TypeShiftReminder, notify.Opts{
				OrganizationID: &orgID,
				Data:           notify.Data{"assignmentId": string(a.ID), "dedupeKey": dedupeKey},
			})
			result["sent"]++
		}
	}
	recordResult("sendShiftReminders", result["processed"], result["errors"])
	return result
}

// AutoDropUnconfirmed implements autoDropUnconfirmed: converts every
// assignment still unconfirmed past its confirmation deadline to
// cancelled-auto_drop, then reopens it as a bid window. Lives in cron
// rather than assignment or bidding to avoid those two packages
// importing each other.
func (r *Runner) AutoDropUnconfirmed(ctx context.Context) map[string]int {
	result := map[string]int{"processed": 0, "dropped": 0, "errors": 0}
	orgIDs, err := r.orgs.ListOrgIDs(ctx)
	if err != nil {
		r.log.Error(err, "autoDropUnconfirmed: list orgs failed")
		result["errors"]++
		return result
	}
	now := r.clock.Now()
	for _, orgID := range orgIDs {
		candidates, err := r.assigns.ListStaleUnconfirmed(ctx, orgID, now)
		if err != nil {
			r.log.Error(err, "autoDropUnconfirmed: list failed", "orgId", orgID)
			result["errors"]++
			continue
		}
		policy, err := r.policyFor(ctx, orgID)
		if err != nil {
			r.log.Error(err, "autoDropUnconfirmed: policy load failed", "orgId", orgID)
			result["errors"]++
			continue
		}
		for _, a := range candidates {
			result["processed"]++
			if a.UserID == nil {
				continue
			}
			route, err := r.orgs.GetRoute(ctx, a.RouteID, orgID)
			if err != nil {
				r.log.Error(err, "autoDropUnconfirmed: route lookup failed", "assignmentId", a.ID)
				result["errors"]++
				continue
			}
			deadlines, err := assignment.ComputeDeadlines(r.zone, a.Date, route.StartTime, policy)
			if err != nil {
				r.log.Error(err, "autoDropUnconfirmed: deadline computation failed", "assignmentId", a.ID)
				result["errors"]++
				continue
			}
			if now.Before(deadlines.Deadline) {
				continue
			}
			driverID := *a.UserID
			ok, err := r.assigns.Cancel(ctx, a.ID, assignment.CancelAutoDrop, now)
			if err != nil {
				r.log.Error(err, "autoDropUnconfirmed: cancel failed", "assignmentId", a.ID)
				result["errors"]++
				continue
			}
			if !ok {
				continue
			}
			if _, _, err := r.bids.CreateBidWindow(ctx, a.ID, orgID, driverID, bidding.TriggerAutoDrop, bidding.CreateOpts{
				RequestedMode:  bidding.ModeInstant,
				AllowPastShift: true,
			}); err != nil {
				r.log.Error(err, "autoDropUnconfirmed: bid window creation failed", "assignmentId", a.ID)
				result["errors"]++
				continue
			}
			r.notifier.Send(ctx, driverID, notify.TypeShiftAutoDropped, notify.Opts{
				OrganizationID: &orgID,
				Data:           notify.Data{"assignmentId": string(a.ID)},
			})
			result["dropped"]++
		}
	}
	recordResult("autoDropUnconfirmed", result["processed"], result["errors"])
	return result
}

func (r *Runner) policyFor(ctx context.Context, orgID types.ID) (timepolicy.Policy, error) {
	return r.policyCache.For(ctx, orgID)
}

// batchSizeFor returns the org's JobsPerformanceCheckBatchSize, or
// performanceCheckBatchSize when the policy cannot be loaded or sets none.
func (r *Runner) batchSizeFor(ctx context.Context, orgID types.ID) int {
	if policy, err := r.policyFor(ctx, orgID); err == nil && policy.JobsPerformanceCheckBatchSize > 0 {
		return policy.JobsPerformanceCheckBatchSize
	}
	return performanceCheckBatchSize
}

// RunDailyHealthEvaluation implements runDailyHealthEvaluation, batched
// over every driver in each org with bounded concurrency.
func (r *Runner) RunDailyHealthEvaluation(ctx context.Context) map[string]int {
	result := map[string]int{"processed": 0, "errors": 0}
	orgIDs, err := r.orgs.ListOrgIDs(ctx)
	if err != nil {
		r.log.Error(err, "runDailyHealthEvaluation: list orgs failed")
		result["errors"]++
		return result
	}
	today := r.zone.TodayInZone()
	for _, orgID := range orgIDs {
		drivers, err := r.drivers.ListAllByOrg(ctx, orgID)
		if err != nil {
			r.log.Error(err, "runDailyHealthEvaluation: list drivers failed", "orgId", orgID)
			result["errors"]++
			continue
		}
		processed, errs := runBatched(drivers, r.batchSizeFor(ctx, orgID), func(d driver.Driver) error {
			return r.health.EvaluateDriverDaily(ctx, d.ID, orgID, today)
		})
		result["processed"] += processed
		result["errors"] += errs
	}
	recordResult("runDailyHealthEvaluation", result["processed"], result["errors"])
	return result
}

// RunWeeklyHealthEvaluation implements runWeeklyHealthEvaluation for the
// week beginning at weekStart, batched the same way as the daily pass.
func (r *Runner) RunWeeklyHealthEvaluation(ctx context.Context, weekStart string) map[string]int {
	result := map[string]int{"processed": 0, "errors": 0}
	orgIDs, err := r.orgs.ListOrgIDs(ctx)
	if err != nil {
		r.log.Error(err, "runWeeklyHealthEvaluation: list orgs failed")
		result["errors"]++
		return result
	}
	for _, orgID := range orgIDs {
		drivers, err := r.drivers.ListAllByOrg(ctx, orgID)
		if err != nil {
			r.log.Error(err, "runWeeklyHealthEvaluation: list drivers failed", "orgId", orgID)
			result["errors"]++
			continue
		}
		processed, errs := runBatched(drivers, r.batchSizeFor(ctx, orgID), func(d driver.Driver) error {
			return r.health.EvaluateDriverWeekly(ctx, d.ID, orgID, weekStart)
		})
		result["processed"] += processed
		result["errors"] += errs
	}
	recordResult("runWeeklyHealthEvaluation", result["processed"], result["errors"])
	return result
}
