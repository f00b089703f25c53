// README: Assignment/Shift store. Guarded UPDATEs (`WHERE status = ...`)
// are the store's primary concurrency primitive, mirrored from the same
// pattern used for optimistic order-status transitions: RowsAffected()==0
// is a conflict, not an error, and callers translate it to a
// state-changed response rather than retrying blindly.
package assignment

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orro3790/dispatch/internal/dbutil"
	"github.com/orro3790/dispatch/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const selectAssignmentCols = `
    a.id, w.org_id, a.route_id, a.warehouse_id, a.date, a.user_id, a.status,
    a.confirmed_at, a.cancelled_at, a.cancel_type, a.assigned_by, a.assigned_at`

func scanAssignment(row interface{ Scan(...any) error }) (*Assignment, error) {
	var a Assignment
	var userID, cancelType, assignedBy sql.NullString
	var confirmedAt, cancelledAt, assignedAt sql.NullTime
	err := row.Scan(&a.ID, &a.OrgID, &a.RouteID, &a.WarehouseID, &a.Date, &userID, &a.Status,
		&confirmedAt, &cancelledAt, &cancelType, &assignedBy, &assignedAt)
	if err != nil {
		return nil, err
	}
	if userID.Valid {
		id := types.ID(userID.String)
		a.UserID = &id
	}
	if confirmedAt.Valid {
		a.ConfirmedAt = &confirmedAt.Time
	}
	if cancelledAt.Valid {
		a.CancelledAt = &cancelledAt.Time
	}
	if cancelType.Valid {
		ct := CancelType(cancelType.String)
		a.CancelType = &ct
	}
	if assignedBy.Valid {
		ab := AssignedBy(assignedBy.String)
		a.AssignedBy = &ab
	}
	if assignedAt.Valid {
		a.AssignedAt = &assignedAt.Time
	}
	return &a, nil
}

func (s *Store) Get(ctx context.Context, id, orgID types.ID) (*Assignment, error) {
	row := s.db.QueryRow(ctx, `
        SELECT `+selectAssignmentCols+`
        FROM assignments a JOIN warehouses w ON w.id = a.warehouse_id
        WHERE a.id = $1 AND w.org_id = $2`, string(id), string(orgID),
	)
	a, err := scanAssignment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, dbutil.Classify(err)
	}
	return a, nil
}

// GetForUpdate row-locks the assignment within tx, scoped to orgID.
func (s *Store) GetForUpdate(ctx context.Context, tx pgx.Tx, id, orgID types.ID) (*Assignment, error) {
	row := tx.QueryRow(ctx, `
        SELECT `+selectAssignmentCols+`
        FROM assignments a JOIN warehouses w ON w.id = a.warehouse_id
        WHERE a.id = $1 AND w.org_id = $2
        FOR UPDATE OF a`, string(id), string(orgID),
	)
	a, err := scanAssignment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, dbutil.Classify(err)
	}
	return a, nil
}

// ListExistingInWeek returns the non-cancelled assignments for orgID whose
// date falls in [weekStart, weekStart+7d) — the schedule generator's
// already-covered set and weekly-tally seed.
func (s *Store) ListExistingInWeek(ctx context.Context, orgID types.ID, weekStart string) ([]Assignment, error) {
	rows, err := s.db.Query(ctx, `
        SELECT `+selectAssignmentCols+`
        FROM assignments a JOIN warehouses w ON w.id = a.warehouse_id
        WHERE w.org_id = $1 AND a.status != 'cancelled'
          AND a.date >= $2::date AND a.date < ($2::date + INTERVAL '7 days')`,
		string(orgID), weekStart,
	)
	if err != nil {
		return nil, dbutil.Classify(err)
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// InsertScheduled creates a scheduled, algorithm-assigned assignment.
func (s *Store) InsertScheduled(ctx context.Context, tx pgx.Tx, warehouseID, routeID, date string, userID types.ID) (types.ID, error) {
	id := types.NewID()
	_, err := tx.Exec(ctx, `
        INSERT INTO assignments (id, warehouse_id, route_id, date, user_id, status, assigned_by, assigned_at)
        VALUES ($1, $2, $3, $4::date, $5, 'scheduled', 'algorithm', NOW())`,
		string(id), warehouseID, routeID, date, string(userID),
	)
	return id, dbutil.Classify(err)
}

// InsertUnfilled creates an unfilled, driverless assignment.
func (s *Store) InsertUnfilled(ctx context.Context, tx pgx.Tx, warehouseID, routeID, date string) (types.ID, error) {
	id := types.NewID()
	_, err := tx.Exec(ctx, `
        INSERT INTO assignments (id, warehouse_id, route_id, date, user_id, status, assigned_by)
        VALUES ($1, $2, $3, $4::date, NULL, 'unfilled', 'algorithm')`,
		string(id), warehouseID, routeID, date,
	)
	return id, dbutil.Classify(err)
}

// Confirm performs the guarded confirmation update. rowsAffected==0 means
// the assignment was not in the expected state (already confirmed, or no
// longer scheduled) — a StateChanged condition, not an error.
func (s *Store) Confirm(ctx context.Context, id types.ID, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE assignments SET confirmed_at = $2
        WHERE id = $1 AND confirmed_at IS NULL AND status = 'scheduled'`,
		string(id), now,
	)
	if err != nil {
		return false, dbutil.Classify(err)
	}
	return tag.RowsAffected() == 1, nil
}

// ConfirmTx is Confirm run inside the caller's transaction, so the
// confirmation and its audit record commit or abort together.
func (s *Store) ConfirmTx(ctx context.Context, tx pgx.Tx, id types.ID, now time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
        UPDATE assignments SET confirmed_at = $2
        WHERE id = $1 AND confirmed_at IS NULL AND status = 'scheduled'`,
		string(id), now,
	)
	if err != nil {
		return false, dbutil.Classify(err)
	}
	return tag.RowsAffected() == 1, nil
}

// Cancel marks the assignment cancelled with the given cancel type,
// guarded on the assignment not already being cancelled.
func (s *Store) Cancel(ctx context.Context, id types.ID, cancelType CancelType, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE assignments SET status = 'cancelled', cancelled_at = $2, cancel_type = $3
        WHERE id = $1 AND status != 'cancelled'`,
		string(id), now, string(cancelType),
	)
	if err != nil {
		return false, dbutil.Classify(err)
	}
	return tag.RowsAffected() == 1, nil
}

// CancelTx is Cancel run inside the caller's transaction, for compound
// operations (CancelAssignment) that record their audit entry in the same
// transaction.
func (s *Store) CancelTx(ctx context.Context, tx pgx.Tx, id types.ID, cancelType CancelType, now time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
        UPDATE assignments SET status = 'cancelled', cancelled_at = $2, cancel_type = $3
        WHERE id = $1 AND status != 'cancelled'`,
		string(id), now, string(cancelType),
	)
	if err != nil {
		return false, dbutil.Classify(err)
	}
	return tag.RowsAffected() == 1, nil
}

// Arrive transitions a confirmed, not-yet-arrived assignment to active and
// stamps the shift's arrivedAt.
func (s *Store) Arrive(ctx context.Context, tx pgx.Tx, id types.ID, now time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
        UPDATE assignments SET status = 'active'
        WHERE id = $1 AND status = 'scheduled' AND confirmed_at IS NOT NULL`,
		string(id),
	)
	if err != nil {
		return false, dbutil.Classify(err)
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	_, err = tx.Exec(ctx, `
        INSERT INTO shifts (assignment_id, arrived_at)
        VALUES ($1, $2)
        ON CONFLICT (assignment_id) DO UPDATE SET arrived_at = COALESCE(shifts.arrived_at, EXCLUDED.arrived_at)`,
		string(id), now,
	)
	return true, dbutil.Classify(err)
}

// Start stamps the shift's startedAt and parcelsStart, guarded on the
// assignment being active with no parcelsStart recorded yet.
func (s *Store) Start(ctx context.Context, id types.ID, now time.Time, parcelsStart int) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE shifts SET started_at = $2, parcels_start = $3
        FROM assignments a
        WHERE shifts.assignment_id = a.id AND a.id = $1
          AND a.status = 'active' AND shifts.arrived_at IS NOT NULL AND shifts.parcels_start IS NULL`,
		string(id), now, parcelsStart,
	)
	if err != nil {
		return false, dbutil.Classify(err)
	}
	return tag.RowsAffected() == 1, nil
}

// Complete stamps the shift's completedAt/delivery counts and marks the
// assignment completed in one transaction.
func (s *Store) Complete(ctx context.Context, tx pgx.Tx, id types.ID, now time.Time, delivered, returned, excepted int, notes *string) (bool, error) {
	tag, err := tx.Exec(ctx, `
        UPDATE shifts SET completed_at = $2, parcels_delivered = $3, parcels_returned = $4,
            excepted_returns = $5, exception_notes = $6
        FROM assignments a
        WHERE shifts.assignment_id = a.id AND a.id = $1
          AND a.status = 'active' AND shifts.parcels_start IS NOT NULL AND shifts.completed_at IS NULL`,
		string(id), now, delivered, returned, excepted, notes,
	)
	if err != nil {
		return false, dbutil.Classify(err)
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	tag, err = tx.Exec(ctx, `UPDATE assignments SET status = 'completed' WHERE id = $1`, string(id))
	if err != nil {
		return false, dbutil.Classify(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) GetShift(ctx context.Context, assignmentID types.ID) (*Shift, error) {
	row := s.db.QueryRow(ctx, `
        SELECT assignment_id, arrived_at, started_at, completed_at, parcels_start,
               parcels_delivered, parcels_returned, excepted_returns, exception_notes
        FROM shifts WHERE assignment_id = $1`, string(assignmentID),
	)
	var sh Shift
	var arrivedAt, startedAt, completedAt sql.NullTime
	var parcelsStart, parcelsDelivered, parcelsReturned, exceptedReturns sql.NullInt64
	var notes sql.NullString
	err := row.Scan(&sh.AssignmentID, &arrivedAt, &startedAt, &completedAt, &parcelsStart,
		&parcelsDelivered, &parcelsReturned, &exceptedReturns, &notes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbutil.Classify(err)
	}
	if arrivedAt.Valid {
		sh.ArrivedAt = &arrivedAt.Time
	}
	if startedAt.Valid {
		sh.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		sh.CompletedAt = &completedAt.Time
	}
	if parcelsStart.Valid {
		v := int(parcelsStart.Int64)
		sh.ParcelsStart = &v
	}
	if parcelsDelivered.Valid {
		v := int(parcelsDelivered.Int64)
		sh.ParcelsDelivered = &v
	}
	if parcelsReturned.Valid {
		v := int(parcelsReturned.Int64)
		sh.ParcelsReturned = &v
	}
	if exceptedReturns.Valid {
		v := int(exceptedReturns.Int64)
		sh.ExceptedReturns = &v
	}
	if notes.Valid {
		sh.ExceptionNotes = &notes.String
	}
	return &sh, nil
}

// DeleteShift removes any partial shift row, used by instantAssign when a
// prior cancellation left a stale shift behind on this assignment.
func (s *Store) DeleteShift(ctx context.Context, tx pgx.Tx, assignmentID types.ID) error {
	_, err := tx.Exec(ctx, `DELETE FROM shifts WHERE assignment_id = $1`, string(assignmentID))
	return dbutil.Classify(err)
}

// ListTodayConfirmedNotArrived returns today's confirmed assignments
// still missing an arrival, the no-show sweep's input set.
func (s *Store) ListTodayConfirmedNotArrived(ctx context.Context, orgID types.ID, today string) ([]Assignment, error) {
	rows, err := s.db.Query(ctx, `
        SELECT `+selectAssignmentCols+`
        FROM assignments a
        JOIN warehouses w ON w.id = a.warehouse_id
        LEFT JOIN shifts sh ON sh.assignment_id = a.id
        WHERE w.org_id = $1 AND a.date = $2::date AND a.status = 'scheduled'
          AND a.confirmed_at IS NOT NULL AND sh.arrived_at IS NULL`,
		string(orgID), today,
	)
	if err != nil {
		return nil, dbutil.Classify(err)
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ListStaleUnconfirmed returns scheduled assignments that are still
// unconfirmed, the auto-drop sweep's input set. It does not compare them
// against the confirmation deadline; the sweep does that per assignment.
func (s *Store) ListStaleUnconfirmed(ctx context.Context, orgID types.ID, now time.Time) ([]Assignment, error) {
	rows, err := s.db.Query(ctx, `
        SELECT `+selectAssignmentCols+`
        FROM assignments a JOIN warehouses w ON w.id = a.warehouse_id
        WHERE w.org_id = $1 AND a.status = 'scheduled' AND a.confirmed_at IS NULL`,
		string(orgID),
	)
	if err != nil {
		return nil, dbutil.Classify(err)
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ListTodayScheduledNotStarted returns today's scheduled assignments with
// no recorded shift start, the shift-reminder sweep's input set.
func (s *Store) ListTodayScheduledNotStarted(ctx context.Context, orgID types.ID, today string) ([]Assignment, error) {
	rows, err := s.db.Query(ctx, `
        SELECT `+selectAssignmentCols+`
        FROM assignments a
        JOIN warehouses w ON w.id = a.warehouse_id
        LEFT JOIN shifts sh ON sh.assignment_id = a.id
        WHERE w.org_id = $1 AND a.date = $2::date AND a.status IN ('scheduled', 'active')
          AND sh.started_at IS NULL`,
		string(orgID), today,
	)
	if err != nil {
		return nil, dbutil.Classify(err)
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// HasSameDayConflict reports whether userID already holds a non-cancelled
// assignment on date, other than excludeID.
func (s *Store) HasSameDayConflict(ctx context.Context, tx pgx.Tx, userID types.ID, date string, excludeID types.ID) (bool, error) {
	var ok bool
	err := tx.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM assignments
            WHERE user_id = $1 AND date = $2::date AND status != 'cancelled' AND id != $3
        )`, string(userID), date, string(excludeID),
	).Scan(&ok)
	if err != nil {
		return false, dbutil.Classify(err)
	}
	return ok, nil
}

// AssignWinner sets the assignment's userId/status/assignedBy/assignedAt
// inside tx. A UniqueViolation on uq_assignments_active_user_date signals
// a same-day conflict race the caller must retry against.
func (s *Store) AssignWinner(ctx context.Context, tx pgx.Tx, id, userID types.ID, by AssignedBy, now time.Time) error {
	_, err := tx.Exec(ctx, `
        UPDATE assignments SET user_id = $2, status = 'scheduled', assigned_by = $3, assigned_at = $4
        WHERE id = $1`, string(id), string(userID), string(by), now,
	)
	return dbutil.Classify(err)
}

// CoerceUnfilled forces the assignment to (status=unfilled, userId=null),
// used before opening a replacement bid window.
func (s *Store) CoerceUnfilled(ctx context.Context, tx pgx.Tx, id types.ID) error {
	_, err := tx.Exec(ctx, `
        UPDATE assignments SET status = 'unfilled', user_id = NULL WHERE id = $1`,
		string(id),
	)
	return dbutil.Classify(err)
}
