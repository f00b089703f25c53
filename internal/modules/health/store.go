// README: DriverHealthState/Snapshot store, plus the dated event queries
// the daily evaluator tallies into Contributions. Event counts are read
// straight from assignments/shifts/bid_windows rather than a separate
// ledger table; the one event that loses its driver linkage when the
// assignment is coerced unfilled (a no-show) is instead counted from the
// audit log, which already records it at the moment of detection.
package health

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orro3790/dispatch/internal/audit"
	"github.com/orro3790/dispatch/internal/dbutil"
	"github.com/orro3790/dispatch/internal/types"
)

var ErrNotFound = errors.New("health: not found")

type Store struct {
	db    *pgxpool.Pool
	audit *audit.Sink
}

func NewStore(db *pgxpool.Pool, auditSink *audit.Sink) *Store {
	return &Store{db: db, audit: auditSink}
}

const selectStateCols = `
    driver_id, current_score, stars, streak_weeks, next_milestone_stars,
    assignment_pool_eligible, requires_manager_intervention, last_score_reset_at,
    reinstated_at, last_qualified_week_start`

func scanState(row interface{ Scan(...any) error }) (*State, error) {
	var st State
	var reinstatedAt sql.NullTime
	var lastQualified sql.NullString
	if err := row.Scan(&st.DriverID, &st.CurrentScore, &st.Stars, &st.StreakWeeks, &st.NextMilestoneStars,
		&st.AssignmentPoolEligible, &st.RequiresManagerIntervention, &st.LastScoreResetAt,
		&reinstatedAt, &lastQualified); err != nil {
		return nil, err
	}
	if reinstatedAt.Valid {
		st.ReinstatedAt = &reinstatedAt.Time
	}
	if lastQualified.Valid {
		st.LastQualifiedWeekStart = &lastQualified.String
	}
	return &st, nil
}

// Get returns driverID's health state, creating the default row (pool
// eligible, zero score, zero streak) on first read.
func (s *Store) Get(ctx context.Context, driverID types.ID) (*State, error) {
	row := s.db.QueryRow(ctx, `SELECT `+selectStateCols+` FROM driver_health_state WHERE driver_id = $1`, string(driverID))
	st, err := scanState(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.createDefault(ctx, driverID)
	}
	if err != nil {
		return nil, dbutil.Classify(err)
	}
	return st, nil
}

func (s *Store) createDefault(ctx context.Context, driverID types.ID) (*State, error) {
	now := time.Now().UTC()
	_, err := s.db.Exec(ctx, `
        INSERT INTO driver_health_state (driver_id, current_score, stars, streak_weeks, next_milestone_stars,
            assignment_pool_eligible, requires_manager_intervention, last_score_reset_at)
        VALUES ($1, 0, 0, 0, 1, true, false, $2)
        ON CONFLICT (driver_id) DO NOTHING`,
		string(driverID), now,
	)
	if err != nil {
		return nil, dbutil.Classify(err)
	}
	return &State{DriverID: driverID, AssignmentPoolEligible: true, NextMilestoneStars: 1, LastScoreResetAt: now}, nil
}

// GetForUpdate row-locks driverID's state within tx, the daily
// evaluator's stale-write guard.
func (s *Store) GetForUpdate(ctx context.Context, tx pgx.Tx, driverID types.ID) (*State, error) {
	row := tx.QueryRow(ctx, `SELECT `+selectStateCols+` FROM driver_health_state WHERE driver_id = $1 FOR UPDATE`, string(driverID))
	st, err := scanState(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, dbutil.Classify(err)
	}
	return st, nil
}

// UpdateState persists the full state row inside tx, guarded on
// lastScoreResetAt still matching expectedResetAt: a mismatch means
// another writer reset the score mid-evaluation, and the caller must
// recompute and retry rather than overwrite blindly.
func (s *Store) UpdateState(ctx context.Context, tx pgx.Tx, st State, expectedResetAt time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
        UPDATE driver_health_state SET
            current_score = $2, stars = $3, streak_weeks = $4, next_milestone_stars = $5,
            assignment_pool_eligible = $6, requires_manager_intervention = $7,
            last_score_reset_at = $8, reinstated_at = $9, last_qualified_week_start = $10
        WHERE driver_id = $1 AND last_score_reset_at = $11`,
		string(st.DriverID), st.CurrentScore, st.Stars, st.StreakWeeks, st.NextMilestoneStars,
		st.AssignmentPoolEligible, st.RequiresManagerIntervention, st.LastScoreResetAt,
		st.ReinstatedAt, st.LastQualifiedWeekStart, expectedResetAt,
	)
	if err != nil {
		return false, dbutil.Classify(err)
	}
	return tag.RowsAffected() == 1, nil
}

// Reinstate clears requiresManagerIntervention and marks the driver pool
// eligible again, the only path back in for a manager-intervention driver.
func (s *Store) Reinstate(ctx context.Context, driverID types.ID, now time.Time) error {
	_, err := s.db.Exec(ctx, `
        UPDATE driver_health_state
        SET requires_manager_intervention = false, assignment_pool_eligible = true, reinstated_at = $2
        WHERE driver_id = $1`, string(driverID), now,
	)
	return dbutil.Classify(err)
}

// InsertSnapshot upserts the daily evaluation snapshot on (driverId, evaluatedAt).
func (s *Store) InsertSnapshot(ctx context.Context, tx pgx.Tx, snap Snapshot) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO driver_health_snapshots (driver_id, evaluated_at, score, hard_stop, reasons)
        VALUES ($1, $2::date, $3, $4, $5)
        ON CONFLICT (driver_id, evaluated_at) DO UPDATE SET
            score = EXCLUDED.score, hard_stop = EXCLUDED.hard_stop, reasons = EXCLUDED.reasons`,
		string(snap.DriverID), snap.EvaluatedAt, snap.Score, snap.HardStop, snap.Reasons,
	)
	return dbutil.Classify(err)
}

// ComputeContributions tallies every dated event class since `since` for
// driverID, the daily evaluator's scoring input.
func (s *Store) ComputeContributions(ctx context.Context, driverID types.ID, since time.Time) (Contributions, error) {
	var c Contributions

	err := s.db.QueryRow(ctx, `
        SELECT COUNT(*) FILTER (WHERE a.confirmed_at IS NOT NULL AND a.confirmed_at >= $2),
               COUNT(*) FILTER (WHERE sh.arrived_at IS NOT NULL AND sh.arrived_at >= $2),
               COUNT(*) FILTER (WHERE a.status = 'completed' AND sh.completed_at >= $2),
               COUNT(*) FILTER (WHERE sh.completed_at >= $2 AND sh.parcels_start > 0
                   AND (sh.parcels_start - COALESCE(sh.parcels_returned,0) + COALESCE(sh.excepted_returns,0))::float / sh.parcels_start >= 0.95),
               COUNT(*) FILTER (WHERE a.cancel_type = 'auto_drop' AND a.cancelled_at >= $2),
               COUNT(*) FILTER (WHERE a.cancel_type = 'late' AND a.cancelled_at >= $2)
        FROM assignments a
        LEFT JOIN shifts sh ON sh.assignment_id = a.id
        WHERE a.user_id = $1`, string(driverID), since,
	).Scan(&c.ConfirmedOnTime, &c.ArrivedOnTime, &c.Completed, &c.HighDelivery, &c.AutoDrops, &c.LateCancels)
	if err != nil {
		return Contributions{}, dbutil.Classify(err)
	}

	err = s.db.QueryRow(ctx, `
        SELECT
            COUNT(*) FILTER (WHERE bw.mode = 'competitive'),
            COUNT(*) FILTER (WHERE bw.mode IN ('instant', 'emergency'))
        FROM assignments a
        JOIN bid_windows bw ON bw.assignment_id = a.id AND bw.winner_id = a.user_id
        WHERE a.user_id = $1 AND a.assigned_by = 'bid' AND a.assigned_at >= $2`,
		string(driverID), since,
	).Scan(&c.BidPickups, &c.UrgentPickups)
	if err != nil {
		return Contributions{}, dbutil.Classify(err)
	}

	noShows, err := s.audit.CountSince(ctx, "driver", driverID, "no_show", since)
	if err != nil {
		return Contributions{}, dbutil.Classify(err)
	}
	c.NoShows = noShows

	return c, nil
}

// CountLateCancelsInWindow counts late cancels for driverID in
// [since, now), used by the hard-stop check's rolling window
// independently of the score's own reset-anchored window.
func (s *Store) CountLateCancelsInWindow(ctx context.Context, driverID types.ID, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `
        SELECT COUNT(*) FROM assignments
        WHERE user_id = $1 AND cancel_type = 'late' AND cancelled_at >= $2`,
		string(driverID), since,
	).Scan(&count)
	return count, dbutil.Classify(err)
}

// WeekAssignments returns the driver's assignments, cancelled ones
// included, dated in [weekStart, weekStart+7d), the weekly evaluator's
// per-driver input.
type WeekAssignmentRow struct {
	AssignmentID types.ID
	Status       string
	CancelType   *string
	DeliveryRate *float64
	HasDelivery  bool
}

func (s *Store) WeekAssignments(ctx context.Context, driverID types.ID, weekStart string) ([]WeekAssignmentRow, error) {
	rows, err := s.db.Query(ctx, `
        SELECT a.id, a.status, a.cancel_type,
               CASE WHEN sh.parcels_start > 0 THEN
                   (sh.parcels_start - COALESCE(sh.parcels_returned,0) + COALESCE(sh.excepted_returns,0))::float / sh.parcels_start
               END
        FROM assignments a
        LEFT JOIN shifts sh ON sh.assignment_id = a.id
        WHERE a.user_id = $1 AND a.date >= $2::date AND a.date < ($2::date + INTERVAL '7 days')`,
		string(driverID), weekStart,
	)
	if err != nil {
		return nil, dbutil.Classify(err)
	}
	defer rows.Close()

	var out []WeekAssignmentRow
	for rows.Next() {
		var r WeekAssignmentRow
		var cancelType sql.NullString
		var rate sql.NullFloat64
		if err := rows.Scan(&r.AssignmentID, &r.Status, &cancelType, &rate); err != nil {
			return nil, err
		}
		if cancelType.Valid {
			r.CancelType = &cancelType.String
		}
		if rate.Valid {
			v := rate.Float64
			r.DeliveryRate = &v
			r.HasDelivery = true
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
