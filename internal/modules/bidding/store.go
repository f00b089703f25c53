// README: BidWindow/Bid store. createBidWindow's uniqueness race and
// resolveBidWindow/instantAssign's row-lock-then-guarded-update pattern
// are both first-class here: a UniqueViolation or a zero-rows update is
// something the service maps to a clean user-facing outcome, not an error.
package bidding

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

var ErrNotFound = errors.New("bidding: not found")

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const selectWindowCols = `
    bw.id, bw.assignment_id, bw.mode, bw.trigger, bw.pay_bonus_percent,
    bw.opens_at, bw.closes_at, bw.status, bw.winner_id`

func scanWindow(row interface{ Scan(...any) error }) (*Window, error) {
	var w Window
	var winnerID sql.NullString
	if err := row.Scan(&w.ID, &w.AssignmentID, &w.Mode, &w.Trigger, &w.PayBonusPercent,
		&w.OpensAt, &w.ClosesAt, &w.Status, &winnerID); err != nil {
		return nil, err
	}
	if winnerID.Valid {
		id := types.ID(winnerID.String)
		w.WinnerID = &id
	}
	return &w, nil
}

// CreateWindow inserts a new bid window inside tx. A UniqueViolation on
// dbutil.ConstraintOpenBidWindowPerAssignment means another window is
// already open for this assignment — the caller's "already exists" path.
func (s *Store) CreateWindow(ctx context.Context, tx pgx.Tx, assignmentID types.ID, mode Mode, trigger Trigger, payBonusPercent int, opensAt, closesAt time.Time) (types.ID, error) {
	id := types.NewID()
	_, err := tx.Exec(ctx, `
        INSERT INTO bid_windows (id, assignment_id, mode, trigger, pay_bonus_percent, opens_at, closes_at, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, 'open')`,
		string(id), string(assignmentID), string(mode), string(trigger), payBonusPercent, opensAt, closesAt,
	)
	return id, dbutil.Classify(err)
}

// GetWindow loads a window, scoped to orgID via its assignment's warehouse.
func (s *Store) GetWindow(ctx context.Context, windowID, orgID types.ID) (*Window, error) {
	row := s.db.QueryRow(ctx, `
        SELECT `+selectWindowCols+`
        FROM bid_windows bw
        JOIN assignments a ON a.id = bw.assignment_id
        JOIN warehouses wh ON wh.id = a.warehouse_id
        WHERE bw.id = $1 AND wh.org_id = $2`, string(windowID), string(orgID),
	)
	w, err := scanWindow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, dbutil.Classify(err)
	}
	return w, nil
}

// GetWindowForUpdate row-locks the window within tx.
func (s *Store) GetWindowForUpdate(ctx context.Context, tx pgx.Tx, windowID, orgID types.ID) (*Window, error) {
	row := tx.QueryRow(ctx, `
        SELECT `+selectWindowCols+`
        FROM bid_windows bw
        JOIN assignments a ON a.id = bw.assignment_id
        JOIN warehouses wh ON wh.id = a.warehouse_id
        WHERE bw.id = $1 AND wh.org_id = $2
        FOR UPDATE OF bw`, string(windowID), string(orgID),
	)
	w, err := scanWindow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, dbutil.Classify(err)
	}
	return w, nil
}

// GetOpenWindowForAssignment returns the open window on assignmentID, if any.
func (s *Store) GetOpenWindowForAssignment(ctx context.Context, assignmentID types.ID) (*Window, error) {
	row := s.db.QueryRow(ctx, `
        SELECT `+selectWindowCols+` FROM bid_windows bw
        WHERE bw.assignment_id = $1 AND bw.status = 'open'`, string(assignmentID),
	)
	w, err := scanWindow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbutil.Classify(err)
	}
	return w, nil
}

// ListExpiredOpenWindows returns org-scoped open windows whose closesAt
// has passed, the closeBidWindows cron's input set.
func (s *Store) ListExpiredOpenWindows(ctx context.Context, orgID types.ID, now time.Time) ([]Window, error) {
	rows, err := s.db.Query(ctx, `
        SELECT `+selectWindowCols+`
        FROM bid_windows bw
        JOIN assignments a ON a.id = bw.assignment_id
        JOIN warehouses wh ON wh.id = a.warehouse_id
        WHERE wh.org_id = $1 AND bw.status = 'open' AND bw.closes_at <= $2`,
		string(orgID), now,
	)
	if err != nil {
		return nil, dbutil.Classify(err)
	}
	defer rows.Close()

	var out []Window
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func (s *Store) UpdateWindowClosed(ctx context.Context, tx pgx.Tx, windowID types.ID) error {
	_, err := tx.Exec(ctx, `UPDATE bid_windows SET status = 'closed' WHERE id = $1 AND status = 'open'`, string(windowID))
	return dbutil.Classify(err)
}

// UpdateWindowMode transitions a window's mode/closesAt in place
// (competitive -> instant).
func (s *Store) UpdateWindowMode(ctx context.Context, tx pgx.Tx, windowID types.ID, mode Mode, closesAt time.Time) error {
	_, err := tx.Exec(ctx, `UPDATE bid_windows SET mode = $2, closes_at = $3 WHERE id = $1`, string(windowID), string(mode), closesAt)
	return dbutil.Classify(err)
}

// ResolveWindow marks the window resolved with the given winner inside tx.
func (s *Store) ResolveWindow(ctx context.Context, tx pgx.Tx, windowID, winnerID types.ID) error {
	_, err := tx.Exec(ctx, `UPDATE bid_windows SET status = 'resolved', winner_id = $2 WHERE id = $1`, string(windowID), string(winnerID))
	return dbutil.Classify(err)
}

// ResolveWindowWinnerless marks the window resolved with no winner,
// distinguishing a manager's manual assignment from a bid-driven win.
func (s *Store) ResolveWindowWinnerless(ctx context.Context, tx pgx.Tx, windowID types.ID) error {
	_, err := tx.Exec(ctx, `UPDATE bid_windows SET status = 'resolved', winner_id = NULL WHERE id = $1`, string(windowID))
	return dbutil.Classify(err)
}

const selectBidCols = `id, window_id, user_id, score, bid_at, status, resolved_at`

func scanBid(row interface{ Scan(...any) error }) (*Bid, error) {
	var b Bid
	var score sql.NullFloat64
	var resolvedAt sql.NullTime
	if err := row.Scan(&b.ID, &b.WindowID, &b.UserID, &score, &b.BidAt, &b.Status, &resolvedAt); err != nil {
		return nil, err
	}
	if score.Valid {
		v := score.Float64
		b.Score = &v
	}
	if resolvedAt.Valid {
		b.ResolvedAt = &resolvedAt.Time
	}
	return &b, nil
}

// ListPendingBids returns a window's pending bids ordered by bidAt then id
// ascending, the same keys resolveBidWindow's own sort uses as its
// tie-break after score.
func (s *Store) ListPendingBids(ctx context.Context, windowID types.ID) ([]Bid, error) {
	rows, err := s.db.Query(ctx, `
        SELECT `+selectBidCols+` FROM bids
        WHERE window_id = $1 AND status = 'pending'
        ORDER BY bid_at ASC, id ASC`, string(windowID),
	)
	if err != nil {
		return nil, dbutil.Classify(err)
	}
	defer rows.Close()

	var out []Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// InsertPendingBid records a driver's bid in a competitive window.
func (s *Store) InsertPendingBid(ctx context.Context, windowID, userID types.ID, now time.Time) (types.ID, error) {
	id := types.NewID()
	_, err := s.db.Exec(ctx, `
        INSERT INTO bids (id, window_id, user_id, bid_at, status)
        VALUES ($1, $2, $3, $4, 'pending')`, string(id), string(windowID), string(userID), now,
	)
	return id, dbutil.Classify(err)
}

// InsertWinningBid records a first-come-first-served winning bid
// (instant/emergency) with no score, inside tx.
func (s *Store) InsertWinningBid(ctx context.Context, tx pgx.Tx, windowID, userID types.ID, now time.Time) (types.ID, error) {
	id := types.NewID()
	_, err := tx.Exec(ctx, `
        INSERT INTO bids (id, window_id, user_id, bid_at, status, resolved_at)
        VALUES ($1, $2, $3, $4, 'won', $4)`, string(id), string(windowID), string(userID), now,
	)
	return id, dbutil.Classify(err)
}

// ResolveBidOutcomes finalizes every bid in a window: winnerID's bid
// becomes won with its score; every other pending bid becomes lost with
// its own score. scores maps bid id -> computed score.
func (s *Store) ResolveBidOutcomes(ctx context.Context, tx pgx.Tx, windowID types.ID, winnerBidID types.ID, scores map[types.ID]float64, now time.Time) error {
	for bidID, score := range scores {
		status := BidLost
		if bidID == winnerBidID {
			status = BidWon
		}
		_, err := tx.Exec(ctx, `
            UPDATE bids SET status = $2, score = $3, resolved_at = $4 WHERE id = $1`,
			string(bidID), string(status), score, now,
		)
		if err != nil {
			return dbutil.Classify(err)
		}
	}
	return nil
}

// MarkOtherPendingBidsLost marks every pending bid in a window other than
// excludeBidID (if set) as lost, used by instantAssign and manualAssign
// where only one bid ever had a real score computed.
func (s *Store) MarkOtherPendingBidsLost(ctx context.Context, tx pgx.Tx, windowID types.ID, excludeBidID *types.ID, now time.Time) error {
	if excludeBidID == nil {
		_, err := tx.Exec(ctx, `
            UPDATE bids SET status = 'lost', resolved_at = $2 WHERE window_id = $1 AND status = 'pending'`,
			string(windowID), now,
		)
		return dbutil.Classify(err)
	}
	_, err := tx.Exec(ctx, `
        UPDATE bids SET status = 'lost', resolved_at = $3
        WHERE window_id = $1 AND status = 'pending' AND id != $2`,
		string(windowID), string(*excludeBidID), now,
	)
	return dbutil.Classify(err)
}

// CloseNoBids closes a window with no pending bids (status=closed).
func (s *Store) CloseNoBids(ctx context.Context, tx pgx.Tx, windowID types.ID) error {
	_, err := tx.Exec(ctx, `UPDATE bid_windows SET status = 'closed' WHERE id = $1 AND status = 'open'`, string(windowID))
	return dbutil.Classify(err)
}
