// README: Driver store. Aggregate fields (TotalShifts, CompletionRate,
// AttendanceRate, AvgParcelsDelivered) are always recomputed wholesale
// from assignment/shift history via RecomputeAggregates; the four event
// counters (ConfirmedShifts, NoShows, BidPickups, UrgentPickups) are
// incremented directly by the lifecycle and bidding operations that
// observe the event as it happens.
package driver

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orro3790/dispatch/internal/dbutil"
	"github.com/orro3790/dispatch/internal/notify"
	"github.com/orro3790/dispatch/internal/types"
)

var ErrNotFound = errors.New("driver: not found")

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, id, orgID types.ID) (*Driver, error) {
	row := s.db.QueryRow(ctx, `
        SELECT id, org_id, weekly_cap, is_flagged, flag_warning_date, preferred_locale, fcm_token, created_at
        FROM users
        WHERE id = $1 AND org_id = $2 AND role = 'driver'`, string(id), string(orgID),
	)
	d, err := scanDriver(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, dbutil.Classify(err)
	}
	return d, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDriver(row rowScanner) (*Driver, error) {
	var d Driver
	var flagWarningDate sql.NullTime
	var fcmToken sql.NullString
	if err := row.Scan(&d.ID, &d.OrgID, &d.WeeklyCap, &d.IsFlagged, &flagWarningDate, &d.PreferredLocale, &fcmToken, &d.CreatedAt); err != nil {
		return nil, err
	}
	if flagWarningDate.Valid {
		d.FlagWarningDate = &flagWarningDate.Time
	}
	if fcmToken.Valid {
		d.FCMToken = &fcmToken.String
	}
	return &d, nil
}

// ListNonFlaggedByOrg returns every non-flagged driver in the org, the
// schedule generator's candidate universe before per-route filtering.
func (s *Store) ListNonFlaggedByOrg(ctx context.Context, orgID types.ID) ([]Driver, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, org_id, weekly_cap, is_flagged, flag_warning_date, preferred_locale, fcm_token, created_at
        FROM users
        WHERE org_id = $1 AND role = 'driver' AND is_flagged = false
        ORDER BY id`, string(orgID),
	)
	if err != nil {
		return nil, dbutil.Classify(err)
	}
	defer rows.Close()

	var out []Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// ListAllByOrg returns every driver in the org regardless of flag state,
// the batch universe for daily/weekly health evaluation, which runs
// independently of the attendance-flag track.
func (s *Store) ListAllByOrg(ctx context.Context, orgID types.ID) ([]Driver, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, org_id, weekly_cap, is_flagged, flag_warning_date, preferred_locale, fcm_token, created_at
        FROM users
        WHERE org_id = $1 AND role = 'driver'
        ORDER BY id`, string(orgID),
	)
	if err != nil {
		return nil, dbutil.Classify(err)
	}
	defer rows.Close()

	var out []Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *Store) GetPreferences(ctx context.Context, driverID types.ID) (*Preferences, error) {
	var days []int32
	var routes []string
	err := s.db.QueryRow(ctx, `
        SELECT preferred_days, preferred_routes FROM driver_preferences WHERE driver_id = $1`,
		string(driverID),
	).Scan(&days, &routes)
	if errors.Is(err, pgx.ErrNoRows) {
		return &Preferences{DriverID: driverID}, nil
	}
	if err != nil {
		return nil, dbutil.Classify(err)
	}
	p := &Preferences{DriverID: driverID}
	for _, d := range days {
		p.PreferredDays = append(p.PreferredDays, int(d))
	}
	for _, r := range routes {
		p.PreferredRoutes = append(p.PreferredRoutes, types.ID(r))
	}
	return p, nil
}

func (s *Store) GetMetrics(ctx context.Context, driverID types.ID) (*Metrics, error) {
	m := &Metrics{DriverID: driverID}
	err := s.db.QueryRow(ctx, `
        SELECT total_shifts, completed_shifts, attendance_rate, completion_rate,
               avg_parcels_delivered, no_shows, bid_pickups, urgent_pickups, confirmed_shifts
        FROM driver_metrics WHERE driver_id = $1`, string(driverID),
	).Scan(&m.TotalShifts, &m.CompletedShifts, &m.AttendanceRate, &m.CompletionRate,
		&m.AvgParcelsDelivered, &m.NoShows, &m.BidPickups, &m.UrgentPickups, &m.ConfirmedShifts)
	if errors.Is(err, pgx.ErrNoRows) {
		return m, nil
	}
	if err != nil {
		return nil, dbutil.Classify(err)
	}
	return m, nil
}

func (s *Store) GetRouteCompletion(ctx context.Context, driverID, routeID types.ID) (*RouteCompletion, error) {
	rc := &RouteCompletion{DriverID: driverID, RouteID: routeID}
	var lastCompletedAt sql.NullTime
	err := s.db.QueryRow(ctx, `
        SELECT completion_count, last_completed_at FROM route_completions
        WHERE driver_id = $1 AND route_id = $2`, string(driverID), string(routeID),
	).Scan(&rc.CompletionCount, &lastCompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return rc, nil
	}
	if err != nil {
		return nil, dbutil.Classify(err)
	}
	if lastCompletedAt.Valid {
		rc.LastCompletedAt = &lastCompletedAt.Time
	}
	return rc, nil
}

// BumpRouteCompletion increments the (driver,route) completion counter,
// keeping it monotone non-decreasing by construction.
func (s *Store) BumpRouteCompletion(ctx context.Context, tx pgx.Tx, driverID, routeID types.ID, at time.Time) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO route_completions (driver_id, route_id, completion_count, last_completed_at)
        VALUES ($1, $2, 1, $3)
        ON CONFLICT (driver_id, route_id) DO UPDATE
        SET completion_count = route_completions.completion_count + 1, last_completed_at = EXCLUDED.last_completed_at`,
		string(driverID), string(routeID), at,
	)
	return dbutil.Classify(err)
}

// WeeklyAssignmentCount counts the driver's non-cancelled assignments in
// the week beginning at weekStart, used by the weekly-cap eligibility
// checks of the bid manager and of this store's eligible-driver listings.
// The schedule generator keeps its own in-memory tally.
func (s *Store) WeeklyAssignmentCount(ctx context.Context, driverID types.ID, weekStart string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `
        SELECT COUNT(*) FROM assignments
        WHERE user_id = $1 AND status != 'cancelled'
          AND date >= $2::date AND date < ($2::date + INTERVAL '7 days')`,
		string(driverID), weekStart,
	).Scan(&count)
	if err != nil {
		return 0, dbutil.Classify(err)
	}
	return count, nil
}

// IsOnActiveShiftToday reports whether the driver already has a
// scheduled-or-active assignment for the given date.
func (s *Store) IsOnActiveShiftToday(ctx context.Context, driverID types.ID, date string) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM assignments
            WHERE user_id = $1 AND date = $2::date AND status IN ('scheduled', 'active')
        )`, string(driverID), date,
	).Scan(&ok)
	if err != nil {
		return false, dbutil.Classify(err)
	}
	return ok, nil
}

// ListEligibleForBid returns drivers eligible to be notified about a new
// bid window: role=driver, non-flagged, same org, under weekly cap for
// the assignment's week.
func (s *Store) ListEligibleForBid(ctx context.Context, orgID types.ID, weekStart string) ([]Driver, error) {
	candidates, err := s.ListNonFlaggedByOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}
	var out []Driver
	for _, d := range candidates {
		count, err := s.WeeklyAssignmentCount(ctx, d.ID, weekStart)
		if err != nil {
			return nil, err
		}
		if count < d.WeeklyCap {
			out = append(out, d)
		}
	}
	return out, nil
}

// ListEligibleForEmergencyFanout is ListEligibleForBid further restricted
// to drivers not already on an active shift on date.
func (s *Store) ListEligibleForEmergencyFanout(ctx context.Context, orgID types.ID, date, weekStart string) ([]Driver, error) {
	candidates, err := s.ListEligibleForBid(ctx, orgID, weekStart)
	if err != nil {
		return nil, err
	}
	var out []Driver
	for _, d := range candidates {
		busy, err := s.IsOnActiveShiftToday(ctx, d.ID, date)
		if err != nil {
			return nil, err
		}
		if !busy {
			out = append(out, d)
		}
	}
	return out, nil
}

// IncrementConfirmedShifts, IncrementNoShows, IncrementBidPickups, and
// IncrementUrgentPickups bump their respective counters by one inside the
// caller's transaction.
func (s *Store) IncrementConfirmedShifts(ctx context.Context, tx pgx.Tx, driverID types.ID) error {
	return s.incrementMetric(ctx, tx, driverID, "confirmed_shifts")
}

func (s *Store) IncrementNoShows(ctx context.Context, tx pgx.Tx, driverID types.ID) error {
	return s.incrementMetric(ctx, tx, driverID, "no_shows")
}

func (s *Store) IncrementBidPickups(ctx context.Context, tx pgx.Tx, driverID types.ID) error {
	return s.incrementMetric(ctx, tx, driverID, "bid_pickups")
}

func (s *Store) IncrementUrgentPickups(ctx context.Context, tx pgx.Tx, driverID types.ID) error {
	return s.incrementMetric(ctx, tx, driverID, "urgent_pickups")
}

func (s *Store) incrementMetric(ctx context.Context, tx pgx.Tx, driverID types.ID, column string) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO driver_metrics (driver_id, `+column+`)
        VALUES ($1, 1)
        ON CONFLICT (driver_id) DO UPDATE SET `+column+` = driver_metrics.`+column+` + 1`,
		string(driverID),
	)
	return dbutil.Classify(err)
}

// RecomputeAggregates rebuilds TotalShifts, CompletedShifts,
// AttendanceRate, CompletionRate, and AvgParcelsDelivered wholesale from
// assignment and shift history; it never applies a partial delta.
func (s *Store) RecomputeAggregates(ctx context.Context, tx pgx.Tx, driverID types.ID) error {
	var total, completed, noShowCount int
	var avgParcels sql.NullFloat64
	var completionRate sql.NullFloat64
	err := tx.QueryRow(ctx, `
        SELECT
            COUNT(*) FILTER (WHERE a.status != 'cancelled'),
            COUNT(*) FILTER (WHERE a.status = 'completed'),
            AVG(sh.parcels_delivered::float / NULLIF(sh.parcels_start, 0)) FILTER (WHERE a.status = 'completed'),
            AVG(sh.parcels_delivered) FILTER (WHERE a.status = 'completed')
        FROM assignments a
        LEFT JOIN shifts sh ON sh.assignment_id = a.id
        WHERE a.user_id = $1`, string(driverID),
	).Scan(&total, &completed, &completionRate, &avgParcels)
	if err != nil {
		return dbutil.Classify(err)
	}

	err = tx.QueryRow(ctx, `SELECT no_shows FROM driver_metrics WHERE driver_id = $1`, string(driverID)).Scan(&noShowCount)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return dbutil.Classify(err)
	}

	attendanceRate := 1.0
	if total > 0 {
		attendanceRate = float64(total-noShowCount) / float64(total)
	}

	_, err = tx.Exec(ctx, `
        INSERT INTO driver_metrics (driver_id, total_shifts, completed_shifts, attendance_rate, completion_rate, avg_parcels_delivered)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (driver_id) DO UPDATE SET
            total_shifts = EXCLUDED.total_shifts,
            completed_shifts = EXCLUDED.completed_shifts,
            attendance_rate = EXCLUDED.attendance_rate,
            completion_rate = COALESCE(EXCLUDED.completion_rate, driver_metrics.completion_rate),
            avg_parcels_delivered = COALESCE(EXCLUDED.avg_parcels_delivered, driver_metrics.avg_parcels_delivered)`,
		string(driverID), total, completed, attendanceRate, completionRate, avgParcels,
	)
	return dbutil.Classify(err)
}

// UpdateFlagState persists a driver's flagging transition.
func (s *Store) UpdateFlagState(ctx context.Context, driverID types.ID, isFlagged bool, flagWarningDate *time.Time, weeklyCap int) error {
	_, err := s.db.Exec(ctx, `
        UPDATE users SET is_flagged = $2, flag_warning_date = $3, weekly_cap = $4
        WHERE id = $1`, string(driverID), isFlagged, flagWarningDate, weeklyCap,
	)
	return dbutil.Classify(err)
}

// ClearFCMTokenIfMatches implements notify.Directory: it clears the
// stored push token only if it still equals the one that just failed,
// avoiding a race against a driver re-registering a new token.
func (s *Store) ClearFCMTokenIfMatches(ctx context.Context, userID types.ID, token string) error {
	_, err := s.db.Exec(ctx, `
        UPDATE users SET fcm_token = NULL WHERE id = $1 AND fcm_token = $2`,
		string(userID), token,
	)
	return dbutil.Classify(err)
}

// GetRecipient implements notify.Directory.
func (s *Store) GetRecipient(ctx context.Context, userID types.ID) (*notify.Recipient, error) {
	d, err := s.getByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &notify.Recipient{
		UserID:   d.ID,
		OrgID:    d.OrgID,
		FCMToken: d.FCMToken,
		Locale:   d.PreferredLocale,
	}, nil
}

func (s *Store) getByID(ctx context.Context, id types.ID) (*Driver, error) {
	row := s.db.QueryRow(ctx, `
        SELECT id, org_id, weekly_cap, is_flagged, flag_warning_date, preferred_locale, fcm_token, created_at
        FROM users WHERE id = $1 AND role = 'driver'`, string(id),
	)
	d, err := scanDriver(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, dbutil.Classify(err)
	}
	return d, nil
}
