// README: Weekly schedule generator. Deterministic and idempotent: given
// the same inputs it always proposes the same (route,date)->driver
// assignment, and re-running it against a week that already has coverage
// never duplicates an assignment.
package schedule

import (
	"context"
	"sort"

	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/orro3790/dispatch/internal/audit"
	"github.com/orro3790/dispatch/internal/dbutil"
	"github.com/orro3790/dispatch/internal/modules/assignment"
	"github.com/orro3790/dispatch/internal/modules/driver"
	"github.com/orro3790/dispatch/internal/modules/org"
	"github.com/orro3790/dispatch/internal/timepolicy"
	"github.com/orro3790/dispatch/internal/types"
)

// Result is generateWeekSchedule's return value.
type Result struct {
	Created int
	Skipped int
	Unfilled int
	Errors  []PairError
}

// PairError records a per-(route,date) failure without aborting the rest
// of the week.
type PairError struct {
	RouteID types.ID
	Date    string
	Err     error
}

type candidate struct {
	driverID        types.ID
	familiarityCount int
	completionRate  float64
	attendanceRate  float64
}

type Service struct {
	db      *dbutil.DB
	orgs    *org.Store
	drivers *driver.Store
	assigns *assignment.Store
	audit   *audit.Sink
	zone    *timepolicy.Zone
	log     logr.Logger
}

func NewService(db *dbutil.DB, orgs *org.Store, drivers *driver.Store, assigns *assignment.Store, auditSink *audit.Sink, zone *timepolicy.Zone, log logr.Logger) *Service {
	return &Service{db: db, orgs: orgs, drivers: drivers, assigns: assigns, audit: auditSink, zone: zone, log: log}
}

// GenerateWeekSchedule implements generateWeekSchedule.
func (s *Service) GenerateWeekSchedule(ctx context.Context, orgID types.ID, weekMonday string) (Result, error) {
	weekStart, err := s.zone.WeekStart(weekMonday)
	if err != nil {
		return Result{}, err
	}

	routes, err := s.orgs.ListRoutesByOrg(ctx, orgID)
	if err != nil {
		return Result{}, err
	}
	drivers, err := s.drivers.ListNonFlaggedByOrg(ctx, orgID)
	if err != nil {
		return Result{}, err
	}
	existing, err := s.assigns.ListExistingInWeek(ctx, orgID, weekStart)
	if err != nil {
		return Result{}, err
	}

	type pairKey struct {
		routeID types.ID
		date    string
	}
	covered := make(map[pairKey]bool, len(existing))
	tally := make(map[types.ID]int, len(drivers))
	for _, a := range existing {
		covered[pairKey{routeID: a.RouteID, date: a.Date}] = true
		if a.UserID != nil {
			tally[*a.UserID]++
		}
	}

	prefsByDriver := make(map[types.ID]driver.Preferences, len(drivers))
	for _, d := range drivers {
		p, err := s.drivers.GetPreferences(ctx, d.ID)
		if err != nil {
			return Result{}, err
		}
		prefsByDriver[d.ID] = *p
	}

	var result Result
	var errs error

	dates := make([]string, 7)
	for i := range dates {
		dt, err := s.zone.AddDays(weekStart, i)
		if err != nil {
			return Result{}, err
		}
		dates[i] = dt
	}

	for _, date := range dates {
		dayOfWeek, err := s.zone.DayOfWeek(date)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}

		for _, route := range routes {
			key := pairKey{routeID: route.ID, date: date}
			if covered[key] {
				result.Skipped++
				continue
			}

			picked, pickErr := s.pickCandidate(ctx, drivers, prefsByDriver, tally, route.ID, dayOfWeek)
			if pickErr != nil {
				result.Errors = append(result.Errors, PairError{RouteID: route.ID, Date: date, Err: pickErr})
				errs = multierr.Append(errs, pickErr)
				continue
			}

			var assignmentID types.ID
			err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
				var insertErr error
				if picked != nil {
					assignmentID, insertErr = s.assigns.InsertScheduled(ctx, tx, string(route.WarehouseID), string(route.ID), date, picked.driverID)
					if insertErr != nil {
						return insertErr
					}
					return s.audit.Record(ctx, tx, "assignment", assignmentID, "create", audit.SystemActor,
						map[string]any{"routeId": route.ID, "date": date, "userId": picked.driverID, "status": "scheduled"})
				}
				assignmentID, insertErr = s.assigns.InsertUnfilled(ctx, tx, string(route.WarehouseID), string(route.ID), date)
				if insertErr != nil {
					return insertErr
				}
				return s.audit.Record(ctx, tx, "assignment", assignmentID, "create", audit.SystemActor,
					map[string]any{"routeId": route.ID, "date": date, "status": "unfilled"})
			})
			if err != nil {
				result.Errors = append(result.Errors, PairError{RouteID: route.ID, Date: date, Err: err})
				errs = multierr.Append(errs, err)
				continue
			}

			if picked != nil {
				tally[picked.driverID]++
				result.Created++
			} else {
				result.Unfilled++
			}
		}
	}

	if errs != nil {
		s.log.Info("generateWeekSchedule: completed with per-pair errors", "orgId", orgID, "errors", multierr.Errors(errs))
	}
	return result, nil
}

// pickCandidate builds the candidate list for (route, dayOfWeek) and
// returns the top-sorted driver, or nil if none qualify.
func (s *Service) pickCandidate(ctx context.Context, drivers []driver.Driver, prefsByDriver map[types.ID]driver.Preferences, tally map[types.ID]int, routeID types.ID, dayOfWeek int) (*candidate, error) {
	eligible := lo.Filter(drivers, func(d driver.Driver, _ int) bool {
		prefs := prefsByDriver[d.ID]
		return prefs.HasDay(dayOfWeek) && prefs.HasRoute(routeID) && tally[d.ID] < d.WeeklyCap
	})

	var candidates []candidate
	for _, d := range eligible {
		metrics, err := s.drivers.GetMetrics(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		completion, err := s.drivers.GetRouteCompletion(ctx, d.ID, routeID)
		if err != nil {
			return nil, err
		}

		candidates = append(candidates, candidate{
			driverID:        d.ID,
			familiarityCount: completion.CompletionCount,
			completionRate:  metrics.CompletionRate,
			attendanceRate:  metrics.AttendanceRate,
		})
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.familiarityCount != b.familiarityCount {
			return a.familiarityCount > b.familiarityCount
		}
		if a.completionRate != b.completionRate {
			return a.completionRate > b.completionRate
		}
		if a.attendanceRate != b.attendanceRate {
			return a.attendanceRate > b.attendanceRate
		}
		return a.driverID < b.driverID
	})
	return lo.ToPtr(candidates[0]), nil
}
