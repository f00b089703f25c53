// README: No-show detection — the hourly sweep that turns a
// missed arrival into an emergency bid window, a reset health state, and
// a manager alert, without ever touching two assignments in the same
// pass's outcome.
package noshow

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5"

	"github.com/orro3790/dispatch/internal/audit"
	"github.com/orro3790/dispatch/internal/dbutil"
	"github.com/orro3790/dispatch/internal/modules/assignment"
	"github.com/orro3790/dispatch/internal/modules/bidding"
	"github.com/orro3790/dispatch/internal/modules/driver"
	"github.com/orro3790/dispatch/internal/modules/health"
	"github.com/orro3790/dispatch/internal/modules/org"
	"github.com/orro3790/dispatch/internal/notify"
	"github.com/orro3790/dispatch/internal/timepolicy"
	"github.com/orro3790/dispatch/internal/types"
)

// Result tallies one sweep's outcome across an org's assignments.
type Result struct {
	Scanned    int
	Detected   int
	Skipped    int
	Errors     int
}

type Service struct {
	db      *dbutil.DB
	assigns *assignment.Store
	bids    *bidding.Service
	drivers *driver.Store
	health  *health.Service
	orgs    *org.Store
	zone    *timepolicy.Zone
	clock   timepolicy.Clock
	audit   *audit.Sink
	notifier *notify.Notifier
	log     logr.Logger
}

func NewService(db *dbutil.DB, assigns *assignment.Store, bids *bidding.Service, drivers *driver.Store, healthSvc *health.Service, orgs *org.Store, zone *timepolicy.Zone, clock timepolicy.Clock, auditSink *audit.Sink, notifier *notify.Notifier, log logr.Logger) *Service {
	return &Service{
		db: db, assigns: assigns, bids: bids, drivers: drivers, health: healthSvc, orgs: orgs,
		zone: zone, clock: clock, audit: auditSink, notifier: notifier, log: log,
	}
}

// DetectNoShows implements detectNoShows for one org.
func (s *Service) DetectNoShows(ctx context.Context, orgID types.ID) Result {
	var result Result
	today := s.zone.TodayInZone()

	candidates, err := s.assigns.ListTodayConfirmedNotArrived(ctx, orgID, today)
	if err != nil {
		s.log.Error(err, "detectNoShows: list candidates failed", "orgId", orgID)
		result.Errors++
		return result
	}
	result.Scanned = len(candidates)

	for _, a := range candidates {
		if err := s.processOne(ctx, orgID, a, today); err != nil {
			s.log.Error(err, "detectNoShows: per-assignment failure", "assignmentId", a.ID)
			result.Errors++
			continue
		}
	}
	return result
}

func (s *Service) processOne(ctx context.Context, orgID types.ID, a assignment.Assignment, today string) error {
	route, err := s.orgs.GetRoute(ctx, a.RouteID, orgID)
	if err != nil {
		return err
	}
	routeDeadline, err := s.zone.LocalDateTimeAt(today, route.StartTime)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	if now.Before(routeDeadline) {
		return nil
	}

	if a.UserID == nil {
		return nil
	}
	driverID := *a.UserID

	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.drivers.IncrementNoShows(ctx, tx, driverID); err != nil {
			return err
		}
		if err := s.health.ApplyNoShow(ctx, tx, driverID, now); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, "assignment", a.ID, "no_show_detected", audit.SystemActor,
			map[string]any{"driverId": driverID})
	})
	if err != nil {
		return err
	}

	_, alreadyOpen, err := s.bids.CreateBidWindow(ctx, a.ID, orgID, driverID, bidding.TriggerNoShow, bidding.CreateOpts{
		RequestedMode:  bidding.ModeEmergency,
		AllowPastShift: true,
	})
	if err != nil {
		return err
	}
	if alreadyOpen {
		return nil
	}

	if ok, alertErr := s.notifier.SendManagerAlert(ctx, a.RouteID, orgID, notify.TypeDriverNoShow, notify.Opts{
		Data: notify.Data{"assignmentId": string(a.ID), "driverId": string(driverID)},
	}); alertErr != nil {
		s.log.Error(alertErr, "detectNoShows: manager alert failed", "assignmentId", a.ID)
	} else if !ok {
		s.log.Info("detectNoShows: no manager assigned for driver_no_show alert", "routeId", a.RouteID)
	}

	s.fanOutEmergency(ctx, orgID, a, today)
	return nil
}

func (s *Service) fanOutEmergency(ctx context.Context, orgID types.ID, a assignment.Assignment, today string) {
	weekStart, err := s.zone.WeekStart(today)
	if err != nil {
		s.log.Error(err, "detectNoShows: week start computation failed", "assignmentId", a.ID)
		return
	}
	eligible, err := s.drivers.ListEligibleForEmergencyFanout(ctx, orgID, today, weekStart)
	if err != nil {
		s.log.Error(err, "detectNoShows: list emergency-eligible drivers failed", "assignmentId", a.ID)
		return
	}
	userIDs := make([]types.ID, 0, len(eligible))
	for _, d := range eligible {
		userIDs = append(userIDs, d.ID)
	}
	s.notifier.SendBulk(ctx, userIDs, notify.TypeEmergencyRouteAvailable, notify.Opts{
		OrganizationID: &orgID,
		Data:           notify.Data{"assignmentId": string(a.ID)},
	})
}
