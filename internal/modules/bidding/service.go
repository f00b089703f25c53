// README: Bid window manager — mode selection, creation, scored
// resolution with race-safe winner election, instant-mode transition, and
// first-come-first-served instant/emergency assignment. Every concurrent
// collision (open-window race, same-day double-book) is translated to a
// clean user-facing outcome rather than surfaced as a raw store error.
package bidding

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5"

	"github.com/orro3790/dispatch/internal/audit"
	"github.com/orro3790/dispatch/internal/dbutil"
	"github.com/orro3790/dispatch/internal/modules/assignment"
	"github.com/orro3790/dispatch/internal/modules/driver"
	"github.com/orro3790/dispatch/internal/modules/org"
	"github.com/orro3790/dispatch/internal/notify"
	"github.com/orro3790/dispatch/internal/realtime"
	"github.com/orro3790/dispatch/internal/timepolicy"
	"github.com/orro3790/dispatch/internal/types"
)

var (
	ErrWindowNotOpen    = errors.New("bidding: window not open")
	ErrAlreadyExists    = errors.New("bidding: open window already exists")
	ErrAlreadyAssigned  = errors.New("bidding: route already assigned")
	ErrDuplicateDateBid = errors.New("bidding: you already have a shift on this date")
	ErrUnavailable      = errors.New("bidding: unable to accept shift right now")
	ErrForbidden        = errors.New("bidding: forbidden")
)

// HealthReader resolves a driver's current health score, the scoring
// input owned by the health module.
type HealthReader interface {
	CurrentScore(ctx context.Context, driverID types.ID) (int, error)
}

type Service struct {
	db       *dbutil.DB
	assigns  *assignment.Store
	drivers  *driver.Store
	orgs     *org.Store
	health   HealthReader
	policies *timepolicy.Cache
	zone     *timepolicy.Zone
	clock    timepolicy.Clock
	audit    *audit.Sink
	notifier *notify.Notifier
	bcast    *realtime.Broadcaster
	store    *Store
	log      logr.Logger
}

func NewService(db *dbutil.DB, store *Store, assigns *assignment.Store, drivers *driver.Store, orgs *org.Store, health HealthReader, policies *timepolicy.Cache, zone *timepolicy.Zone, clock timepolicy.Clock, auditSink *audit.Sink, notifier *notify.Notifier, bcast *realtime.Broadcaster, log logr.Logger) *Service {
	return &Service{
		db: db, store: store, assigns: assigns, drivers: drivers, orgs: orgs, health: health,
		policies: policies, zone: zone, clock: clock, audit: auditSink, notifier: notifier, bcast: bcast, log: log,
	}
}

func (s *Service) shiftStartFor(ctx context.Context, a *assignment.Assignment) (time.Time, error) {
	route, err := s.orgs.GetRoute(ctx, a.RouteID, a.OrgID)
	if err != nil {
		return time.Time{}, err
	}
	return s.zone.LocalDateTimeAt(a.Date, route.StartTime)
}

// PlaceBid implements placeBid: a driver entering a competitive window.
// Re-bidding an already-pending window returns the existing bid id
// rather than erroring, since the client may retry a dropped response.
func (s *Service) PlaceBid(ctx context.Context, windowID, orgID, driverID types.ID) (types.ID, error) {
	window, err := s.store.GetWindow(ctx, windowID, orgID)
	if err != nil {
		return "", err
	}
	if window.Status != WindowOpen || window.Mode != ModeCompetitive {
		return "", ErrWindowNotOpen
	}
	d, err := s.drivers.Get(ctx, driverID, orgID)
	if err != nil {
		return "", err
	}
	if d.IsFlagged {
		return "", ErrForbidden
	}

	pending, err := s.store.ListPendingBids(ctx, windowID)
	if err != nil {
		return "", err
	}
	for _, b := range pending {
		if b.UserID == driverID {
			return b.ID, nil
		}
	}

	now := s.clock.Now()
	bidID, err := s.store.InsertPendingBid(ctx, windowID, driverID, now)
	if err != nil {
		return "", err
	}
	if err := s.audit.Record(ctx, nil, "bid_window", windowID, "bid_placed", audit.Actor{Type: audit.ActorUser, ID: &driverID}, nil); err != nil {
		return "", err
	}
	return bidID, nil
}

// GetWindowDetail implements getBidWindowDetail: the window plus its
// pending bids, ordered by bid time then id.
func (s *Service) GetWindowDetail(ctx context.Context, windowID, orgID types.ID) (*Window, []Bid, error) {
	window, err := s.store.GetWindow(ctx, windowID, orgID)
	if err != nil {
		return nil, nil, err
	}
	bids, err := s.store.ListPendingBids(ctx, windowID)
	if err != nil {
		return nil, nil, err
	}
	return window, bids, nil
}

// ListExpiredOpenWindows is the closeBidWindows cron driver's input set:
// every open window past its closesAt for the org.
func (s *Service) ListExpiredOpenWindows(ctx context.Context, orgID types.ID, now time.Time) ([]Window, error) {
	return s.store.ListExpiredOpenWindows(ctx, orgID, now)
}

// CreateBidWindow implements createBidWindow. Returns (windowID, false,
// nil) on fresh creation; (existingWindowID, true, nil) when an open
// window already exists for the assignment (the race-loss path, not an
// error).
func (s *Service) CreateBidWindow(ctx context.Context, assignmentID, orgID, actorID types.ID, trigger Trigger, opts CreateOpts) (types.ID, bool, error) {
	a, err := s.assigns.Get(ctx, assignmentID, orgID)
	if err != nil {
		return "", false, err
	}
	policy, err := s.policies.For(ctx, orgID)
	if err != nil {
		return "", false, err
	}
	shiftStart, err := s.shiftStartFor(ctx, a)
	if err != nil {
		return "", false, err
	}
	now := s.clock.Now()
	mode, closesAt, err := SelectMode(s.zone, a.Date, shiftStart, now, policy, opts)
	if err != nil {
		return "", false, err
	}

	payBonus := 0
	if mode == ModeEmergency {
		payBonus = policy.BiddingEmergencyBonusPercent
	}

	var windowID types.ID
	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if a.Status != assignment.StatusUnfilled || a.UserID != nil {
			if err := s.assigns.CoerceUnfilled(ctx, tx, assignmentID); err != nil {
				return err
			}
			if err := s.audit.Record(ctx, tx, "assignment", assignmentID, "unfilled", audit.Actor{Type: audit.ActorUser, ID: &actorID},
				map[string]any{"reason": "bid_window_opened", "trigger": trigger}); err != nil {
				return err
			}
		}
		var txErr error
		windowID, txErr = s.store.CreateWindow(ctx, tx, assignmentID, mode, trigger, payBonus, now, closesAt)
		return txErr
	})

	if dbutil.IsUniqueViolation(err, dbutil.ConstraintOpenBidWindowPerAssignment) {
		existing, getErr := s.store.GetOpenWindowForAssignment(ctx, assignmentID)
		if getErr != nil {
			return "", false, getErr
		}
		if existing == nil {
			return "", false, ErrAlreadyExists
		}
		return existing.ID, true, nil
	}
	if err != nil {
		return "", false, err
	}

	s.notifyEligibleDrivers(ctx, orgID, a, mode)
	s.bcast.Publish(ctx, orgID, realtime.Event{Type: realtime.EventBidWindowOpened, Payload: map[string]any{"windowId": windowID, "assignmentId": assignmentID, "mode": mode}})
	s.bcast.Publish(ctx, orgID, realtime.Event{Type: realtime.EventAssignmentUpdated, Payload: map[string]any{"assignmentId": assignmentID, "status": "unfilled"}})
	return windowID, false, nil
}

func (s *Service) notifyEligibleDrivers(ctx context.Context, orgID types.ID, a *assignment.Assignment, mode Mode) {
	weekStart, err := s.zone.WeekStart(a.Date)
	if err != nil {
		s.log.Error(err, "bidding: week start computation failed", "assignmentId", a.ID)
		return
	}
	eligible, err := s.drivers.ListEligibleForBid(ctx, orgID, weekStart)
	if err != nil {
		s.log.Error(err, "bidding: list eligible drivers failed", "assignmentId", a.ID)
		return
	}
	typ := notify.TypeBidOpen
	userIDs := make([]types.ID, 0, len(eligible))
	for _, d := range eligible {
		userIDs = append(userIDs, d.ID)
	}
	s.notifier.SendBulk(ctx, userIDs, typ, notify.Opts{
		OrganizationID: &orgID,
		Data:           notify.Data{"assignmentId": string(a.ID), "mode": string(mode)},
	})
}

// scoreForBid gathers the pure scoring inputs for one driver/route pair
// and applies CalculateBidScoreParts.
func (s *Service) scoreForBid(ctx context.Context, driverID, routeID, orgID types.ID) (float64, error) {
	d, err := s.drivers.Get(ctx, driverID, orgID)
	if err != nil {
		return 0, err
	}
	healthScore, err := s.health.CurrentScore(ctx, driverID)
	if err != nil {
		return 0, err
	}
	completion, err := s.drivers.GetRouteCompletion(ctx, driverID, routeID)
	if err != nil {
		return 0, err
	}
	prefs, err := s.drivers.GetPreferences(ctx, driverID)
	if err != nil {
		return 0, err
	}
	tenureMonths := s.clock.Now().Sub(d.CreatedAt).Hours() / 24 / 30

	return CalculateBidScoreParts(ScoreParts{
		HealthScore:           float64(healthScore),
		RouteFamiliarityCount: completion.CompletionCount,
		TenureMonths:          tenureMonths,
		PreferredRouteBonus:   prefs.HasRoute(routeID),
	}), nil
}

type scoredBid struct {
	bid   Bid
	score float64
}

// ResolveBidWindow implements resolveBidWindow.
func (s *Service) ResolveBidWindow(ctx context.Context, windowID, orgID, actorID types.ID) (string, error) {
	window, err := s.store.GetWindow(ctx, windowID, orgID)
	if err != nil {
		return "", err
	}
	if window.Status != WindowOpen {
		return "", ErrWindowNotOpen
	}
	a, err := s.assigns.Get(ctx, window.AssignmentID, orgID)
	if err != nil {
		return "", err
	}

	pending, err := s.store.ListPendingBids(ctx, windowID)
	if err != nil {
		return "", err
	}
	if len(pending) == 0 {
		return s.finalizeNoWinner(ctx, window, a, orgID)
	}

	scored := make([]scoredBid, 0, len(pending))
	for _, b := range pending {
		score, err := s.scoreForBid(ctx, b.UserID, a.RouteID, orgID)
		if err != nil {
			return "", err
		}
		scored = append(scored, scoredBid{bid: b, score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		if !scored[i].bid.BidAt.Equal(scored[j].bid.BidAt) {
			return scored[i].bid.BidAt.Before(scored[j].bid.BidAt)
		}
		return scored[i].bid.ID < scored[j].bid.ID
	})

	scoreByBidID := make(map[types.ID]float64, len(scored))
	for _, sb := range scored {
		scoreByBidID[sb.bid.ID] = sb.score
	}

	tried := make(map[types.ID]bool, len(scored))
	for {
		var winner *scoredBid
		for i := range scored {
			candidate := scored[i]
			if tried[candidate.bid.ID] {
				continue
			}
			conflict, err := s.hasConflictNonTx(ctx, candidate.bid.UserID, a.Date, a.ID)
			if err != nil {
				return "", err
			}
			if !conflict {
				winner = &scored[i]
				break
			}
			tried[candidate.bid.ID] = true
		}
		if winner == nil {
			return s.finalizeNoWinner(ctx, window, a, orgID)
		}

		now := s.clock.Now()
		var conflictRace bool
		err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
			locked, err := s.store.GetWindowForUpdate(ctx, tx, windowID, orgID)
			if err != nil {
				return err
			}
			if locked.Status != WindowOpen {
				return ErrWindowNotOpen
			}
			if err := s.store.ResolveWindow(ctx, tx, windowID, winner.bid.UserID); err != nil {
				return err
			}
			if err := s.assigns.AssignWinner(ctx, tx, a.ID, winner.bid.UserID, assignment.AssignedByBid, now); err != nil {
				if dbutil.IsUniqueViolation(err, dbutil.ConstraintActiveAssignmentPerUserDate) {
					conflictRace = true
					return err
				}
				return err
			}
			if err := s.store.ResolveBidOutcomes(ctx, tx, windowID, winner.bid.ID, scoreByBidID, now); err != nil {
				return err
			}
			return s.audit.Record(ctx, tx, "assignment", a.ID, "assign", audit.SystemActor,
				map[string]any{"before": map[string]any{"status": "unfilled", "userId": nil}, "after": map[string]any{"status": "scheduled", "userId": winner.bid.UserID, "assignedBy": "bid"}})
		})
		if conflictRace {
			tried[winner.bid.ID] = true
			continue
		}
		if err != nil {
			return "", err
		}

		s.postResolveNotify(ctx, orgID, windowID, a.ID, winner.bid.UserID, scored)
		return "resolved", nil
	}
}

func (s *Service) hasConflictNonTx(ctx context.Context, userID types.ID, date string, excludeAssignmentID types.ID) (bool, error) {
	var conflict bool
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		conflict, err = s.assigns.HasSameDayConflict(ctx, tx, userID, date, excludeAssignmentID)
		return err
	})
	return conflict, err
}

func (s *Service) postResolveNotify(ctx context.Context, orgID, windowID, assignmentID, winnerID types.ID, scored []scoredBid) {
	s.notifier.Send(ctx, winnerID, notify.TypeBidWon, notify.Opts{OrganizationID: &orgID, Data: notify.Data{"assignmentId": string(assignmentID)}})
	for _, sb := range scored {
		if sb.bid.UserID == winnerID {
			continue
		}
		s.notifier.Send(ctx, sb.bid.UserID, notify.TypeBidLost, notify.Opts{OrganizationID: &orgID, Data: notify.Data{"assignmentId": string(assignmentID)}})
	}
	s.bcast.Publish(ctx, orgID, realtime.Event{Type: realtime.EventBidWindowClosed, Payload: map[string]any{"windowId": windowID, "assignmentId": assignmentID}})
	s.bcast.Publish(ctx, orgID, realtime.Event{Type: realtime.EventAssignmentUpdated, Payload: map[string]any{"assignmentId": assignmentID, "status": "scheduled"}})
}

// finalizeNoWinner is the shared fallback for "no usable bids": a
// competitive window attempts the instant-mode transition; any other
// mode closes and alerts the route's manager.
func (s *Service) finalizeNoWinner(ctx context.Context, window *Window, a *assignment.Assignment, orgID types.ID) (string, error) {
	if window.Mode == ModeCompetitive {
		transitioned, err := s.TransitionToInstantMode(ctx, window.ID, orgID)
		if err != nil {
			return "", err
		}
		if transitioned {
			return "transitioned_to_instant", nil
		}
		return "not_open", nil
	}

	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		return s.store.CloseNoBids(ctx, tx, window.ID)
	})
	if err != nil {
		return "", err
	}

	if ok, alertErr := s.notifier.SendManagerAlert(ctx, a.RouteID, orgID, notify.TypeRouteUnfilled, notify.Opts{
		Data: notify.Data{"assignmentId": string(a.ID)},
	}); alertErr != nil {
		s.log.Error(alertErr, "bidding: manager alert failed", "assignmentId", a.ID)
	} else if !ok {
		s.log.Info("bidding: no manager assigned for route_unfilled alert", "routeId", a.RouteID)
	}
	return "no_bids", nil
}

// TransitionToInstantMode implements transitionToInstantMode.
func (s *Service) TransitionToInstantMode(ctx context.Context, windowID, orgID types.ID) (bool, error) {
	var transitioned bool
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		window, err := s.store.GetWindowForUpdate(ctx, tx, windowID, orgID)
		if err != nil {
			return err
		}
		if window.Status != WindowOpen || window.Mode != ModeCompetitive {
			return nil
		}
		a, err := s.assigns.GetForUpdate(ctx, tx, window.AssignmentID, orgID)
		if err != nil {
			return err
		}
		shiftStart, err := s.shiftStartFor(ctx, a)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if !shiftStart.After(now) {
			return s.store.UpdateWindowClosed(ctx, tx, windowID)
		}
		if err := s.store.UpdateWindowMode(ctx, tx, windowID, ModeInstant, shiftStart); err != nil {
			return err
		}
		transitioned = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if transitioned {
		window, err := s.store.GetWindow(ctx, windowID, orgID)
		if err == nil {
			a, err := s.assigns.Get(ctx, window.AssignmentID, orgID)
			if err == nil {
				s.notifyEligibleDrivers(ctx, orgID, a, ModeInstant)
			}
		}
	}
	return transitioned, nil
}

// InstantAssign implements instantAssign: first-come-first-served for
// instant/emergency windows.
func (s *Service) InstantAssign(ctx context.Context, assignmentID, userID, windowID, orgID types.ID) error {
	now := s.clock.Now()
	var mode Mode

	err := s.db.WithTxRetryTransient(ctx, 0, func(tx pgx.Tx) error {
		window, err := s.store.GetWindowForUpdate(ctx, tx, windowID, orgID)
		if err != nil {
			return err
		}
		if window.Status != WindowOpen {
			return ErrAlreadyAssigned
		}
		mode = window.Mode

		a, err := s.assigns.GetForUpdate(ctx, tx, assignmentID, orgID)
		if err != nil {
			return err
		}
		conflict, err := s.assigns.HasSameDayConflict(ctx, tx, userID, a.Date, assignmentID)
		if err != nil {
			return err
		}
		if conflict {
			return ErrDuplicateDateBid
		}

		bidID, err := s.store.InsertWinningBid(ctx, tx, windowID, userID, now)
		if err != nil {
			return err
		}
		if err := s.assigns.AssignWinner(ctx, tx, assignmentID, userID, assignment.AssignedByBid, now); err != nil {
			if dbutil.IsUniqueViolation(err, dbutil.ConstraintActiveAssignmentPerUserDate) {
				return ErrDuplicateDateBid
			}
			return err
		}
		if err := s.store.ResolveWindow(ctx, tx, windowID, userID); err != nil {
			return err
		}
		if err := s.store.MarkOtherPendingBidsLost(ctx, tx, windowID, &bidID, now); err != nil {
			return err
		}
		if err := s.assigns.DeleteShift(ctx, tx, assignmentID); err != nil {
			return err
		}
		if err := s.drivers.IncrementBidPickups(ctx, tx, userID); err != nil {
			return err
		}
		if mode == ModeInstant || mode == ModeEmergency {
			if err := s.drivers.IncrementUrgentPickups(ctx, tx, userID); err != nil {
				return err
			}
		}
		return s.audit.Record(ctx, tx, "assignment", assignmentID, "instant_assign", audit.Actor{Type: audit.ActorUser, ID: &userID},
			map[string]any{"windowId": windowID})
	})

	switch {
	case errors.Is(err, ErrAlreadyAssigned), errors.Is(err, ErrDuplicateDateBid):
		return err
	case dbutil.IsTransient(err):
		return ErrAlreadyAssigned
	case err != nil:
		return ErrUnavailable
	}

	s.bcast.Publish(ctx, orgID, realtime.Event{Type: realtime.EventBidWindowClosed, Payload: map[string]any{"windowId": windowID, "assignmentId": assignmentID}})
	s.bcast.Publish(ctx, orgID, realtime.Event{Type: realtime.EventAssignmentUpdated, Payload: map[string]any{"assignmentId": assignmentID, "status": "scheduled"}})
	return nil
}

// ManualAssignDriverToAssignment implements manualAssignDriverToAssignment.
func (s *Service) ManualAssignDriverToAssignment(ctx context.Context, assignmentID, driverID, managerID, orgID types.ID) error {
	a, err := s.assigns.Get(ctx, assignmentID, orgID)
	if err != nil {
		return err
	}
	canAccess, err := s.orgs.CanManagerAccessWarehouse(ctx, managerID, a.WarehouseID, orgID)
	if err != nil {
		return err
	}
	if !canAccess {
		return ErrForbidden
	}
	d, err := s.drivers.Get(ctx, driverID, orgID)
	if err != nil {
		return err
	}
	if d.IsFlagged {
		return ErrForbidden
	}
	weekStart, err := s.zone.WeekStart(a.Date)
	if err != nil {
		return err
	}
	count, err := s.drivers.WeeklyAssignmentCount(ctx, driverID, weekStart)
	if err != nil {
		return err
	}
	if count >= d.WeeklyCap {
		return ErrForbidden
	}

	now := s.clock.Now()
	var losers []Bid
	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.assigns.AssignWinner(ctx, tx, assignmentID, driverID, assignment.AssignedByManager, now); err != nil {
			return err
		}
		existing, err := s.store.GetOpenWindowForAssignment(ctx, assignmentID)
		if err != nil {
			return err
		}
		if existing != nil {
			pending, err := s.store.ListPendingBids(ctx, existing.ID)
			if err != nil {
				return err
			}
			losers = pending
			if err := s.store.ResolveWindowWinnerless(ctx, tx, existing.ID); err != nil {
				return err
			}
			if err := s.store.MarkOtherPendingBidsLost(ctx, tx, existing.ID, nil, now); err != nil {
				return err
			}
		}
		return s.audit.Record(ctx, tx, "assignment", assignmentID, "manual_assign", audit.Actor{Type: audit.ActorUser, ID: &managerID},
			map[string]any{"driverId": driverID})
	})
	if err != nil {
		return err
	}

	s.notifier.Send(ctx, driverID, notify.TypeAssignmentConfirmed, notify.Opts{OrganizationID: &orgID, Data: notify.Data{"assignmentId": string(assignmentID)}})
	for _, b := range losers {
		s.notifier.Send(ctx, b.UserID, notify.TypeBidLost, notify.Opts{OrganizationID: &orgID})
	}
	s.bcast.Publish(ctx, orgID, realtime.Event{Type: realtime.EventAssignmentUpdated, Payload: map[string]any{"assignmentId": assignmentID, "status": "scheduled"}})
	return nil
}
