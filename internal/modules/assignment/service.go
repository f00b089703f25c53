// README: Assignment lifecycle service — confirm/cancel/arrive/start/
// complete, each a guarded store update followed by best-effort audit,
// notification, and broadcast side effects.
package assignment

import (
	"context"
	"errors"

	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5"

	"github.com/orro3790/dispatch/internal/audit"
	"github.com/orro3790/dispatch/internal/dbutil"
	"github.com/orro3790/dispatch/internal/modules/driver"
	"github.com/orro3790/dispatch/internal/modules/org"
	"github.com/orro3790/dispatch/internal/notify"
	"github.com/orro3790/dispatch/internal/realtime"
	"github.com/orro3790/dispatch/internal/timepolicy"
	"github.com/orro3790/dispatch/internal/types"
)

var (
	ErrNotFound     = errors.New("assignment: not found")
	ErrStateChanged = errors.New("assignment: state changed")
)

// RouteLookup resolves the route an assignment belongs to, for deadline
// computation (startTime) and org scoping.
type RouteLookup interface {
	GetRoute(ctx context.Context, routeID, orgID types.ID) (*org.Route, error)
}

type Service struct {
	store    *Store
	drivers  *driver.Store
	db       *dbutil.DB
	routes   RouteLookup
	policies *timepolicy.Cache
	zone     *timepolicy.Zone
	clock    timepolicy.Clock
	audit    *audit.Sink
	notifier *notify.Notifier
	bcast    *realtime.Broadcaster
	log      logr.Logger
}

func NewService(store *Store, drivers *driver.Store, db *dbutil.DB, routes RouteLookup, policies *timepolicy.Cache, zone *timepolicy.Zone, clock timepolicy.Clock, auditSink *audit.Sink, notifier *notify.Notifier, bcast *realtime.Broadcaster, log logr.Logger) *Service {
	return &Service{
		store: store, drivers: drivers, db: db, routes: routes, policies: policies,
		zone: zone, clock: clock, audit: auditSink, notifier: notifier, bcast: bcast, log: log,
	}
}

func (s *Service) deadlinesFor(ctx context.Context, a *Assignment) (Deadlines, error) {
	policy, err := s.policies.For(ctx, a.OrgID)
	if err != nil {
		return Deadlines{}, err
	}
	route, err := s.routes.GetRoute(ctx, a.RouteID, a.OrgID)
	if err != nil {
		return Deadlines{}, err
	}
	return ComputeDeadlines(s.zone, a.Date, route.StartTime, policy)
}

// ConfirmShift implements confirmShift.
func (s *Service) ConfirmShift(ctx context.Context, assignmentID, orgID, actorID types.ID) error {
	a, err := s.store.Get(ctx, assignmentID, orgID)
	if err != nil {
		return err
	}
	d, err := s.deadlinesFor(ctx, a)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	if now.Before(d.OpensAt) || now.After(d.Deadline) {
		return ErrStateChanged
	}

	actor := audit.Actor{Type: audit.ActorUser, ID: &actorID}
	var ok bool
	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		var txErr error
		ok, txErr = s.store.ConfirmTx(ctx, tx, assignmentID, now)
		if txErr != nil || !ok {
			return txErr
		}
		if a.UserID != nil {
			if txErr := s.drivers.IncrementConfirmedShifts(ctx, tx, *a.UserID); txErr != nil {
				return txErr
			}
		}
		return s.audit.Record(ctx, tx, "assignment", assignmentID, "confirm", actor, map[string]any{"confirmedAt": now})
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrStateChanged
	}

	if a.UserID != nil {
		s.notifier.Send(ctx, *a.UserID, notify.TypeAssignmentConfirmed, notify.Opts{OrganizationID: &orgID})
	}
	s.bcast.Publish(ctx, orgID, realtime.Event{
		Type:    realtime.EventAssignmentUpdated,
		Payload: map[string]any{"assignmentId": assignmentID, "shiftProgress": "confirmed"},
	})
	return nil
}

// CancelAssignment implements cancelAssignment, deriving early/late from
// the confirmation deadline.
func (s *Service) CancelAssignment(ctx context.Context, assignmentID, orgID, actorID types.ID) error {
	a, err := s.store.Get(ctx, assignmentID, orgID)
	if err != nil {
		return err
	}
	today := s.zone.TodayInZone()
	if a.Date <= today || a.Status == StatusCancelled {
		return ErrStateChanged
	}
	d, err := s.deadlinesFor(ctx, a)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	cancelType := CancelEarly
	if !now.Before(d.Deadline) {
		cancelType = CancelLate
	}

	actor := audit.Actor{Type: audit.ActorUser, ID: &actorID}
	var ok bool
	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		var txErr error
		ok, txErr = s.store.CancelTx(ctx, tx, assignmentID, cancelType, now)
		if txErr != nil || !ok {
			return txErr
		}
		return s.audit.Record(ctx, tx, "assignment", assignmentID, "cancel", actor, map[string]any{"cancelType": cancelType})
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrStateChanged
	}

	s.bcast.Publish(ctx, orgID, realtime.Event{
		Type:    realtime.EventAssignmentUpdated,
		Payload: map[string]any{"assignmentId": assignmentID, "status": StatusCancelled},
	})
	return nil
}

// Arrive implements arrive.
func (s *Service) Arrive(ctx context.Context, assignmentID, orgID types.ID) error {
	a, err := s.store.Get(ctx, assignmentID, orgID)
	if err != nil {
		return err
	}
	d, err := s.deadlinesFor(ctx, a)
	if err != nil {
		return err
	}
	today := s.zone.TodayInZone()
	now := s.clock.Now()
	if a.Date != today || a.ConfirmedAt == nil || now.After(d.ArrivalDeadline) {
		return ErrStateChanged
	}

	var ok bool
	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		var txErr error
		ok, txErr = s.store.Arrive(ctx, tx, assignmentID, now)
		return txErr
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrStateChanged
	}

	s.bcast.Publish(ctx, orgID, realtime.Event{
		Type:    realtime.EventAssignmentUpdated,
		Payload: map[string]any{"assignmentId": assignmentID, "shiftProgress": "arrived"},
	})
	return nil
}

// StartShift implements startShift.
func (s *Service) StartShift(ctx context.Context, assignmentID, orgID types.ID, parcelsStart int) error {
	now := s.clock.Now()
	ok, err := s.store.Start(ctx, assignmentID, now, parcelsStart)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStateChanged
	}
	s.bcast.Publish(ctx, orgID, realtime.Event{
		Type:    realtime.EventAssignmentUpdated,
		Payload: map[string]any{"assignmentId": assignmentID, "shiftProgress": "started"},
	})
	return nil
}

// CompleteShift implements completeShift, then recomputes the driver's
// aggregate metrics wholesale and increments the route-completion count.
func (s *Service) CompleteShift(ctx context.Context, assignmentID, orgID types.ID, delivered, returned, excepted int, notes *string) error {
	a, err := s.store.Get(ctx, assignmentID, orgID)
	if err != nil {
		return err
	}
	now := s.clock.Now()

	actor := audit.SystemActor
	if a.UserID != nil {
		actor = audit.Actor{Type: audit.ActorUser, ID: a.UserID}
	}

	var ok bool
	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		var txErr error
		ok, txErr = s.store.Complete(ctx, tx, assignmentID, now, delivered, returned, excepted, notes)
		if txErr != nil || !ok {
			return txErr
		}
		if a.UserID != nil {
			if txErr := s.drivers.RecomputeAggregates(ctx, tx, *a.UserID); txErr != nil {
				return txErr
			}
			if txErr := s.drivers.BumpRouteCompletion(ctx, tx, *a.UserID, a.RouteID, now); txErr != nil {
				return txErr
			}
		}
		return s.audit.Record(ctx, tx, "assignment", assignmentID, "complete", actor, map[string]any{"completedAt": now})
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrStateChanged
	}

	s.bcast.Publish(ctx, orgID, realtime.Event{
		Type:    realtime.EventAssignmentUpdated,
		Payload: map[string]any{"assignmentId": assignmentID, "shiftProgress": "completed"},
	})
	return nil
}
