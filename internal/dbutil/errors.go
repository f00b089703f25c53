// README: Shared store-error classification. Every module store funnels
// pgx errors through Classify so unique-constraint races and
// serialization failures become first-class control flow instead of
// opaque SQL errors leaking to callers.
package dbutil

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// UniqueViolation is returned when an insert/update collided with one of
// the two load-bearing unique constraints (or any other). Callers treat
// this as a race-loss, not a crash.
type UniqueViolation struct {
	Constraint string
}

func (e *UniqueViolation) Error() string {
	return "unique violation: " + e.Constraint
}

// TransientStore wraps a serialization failure or deadlock; callers may
// retry the operation once.
type TransientStore struct {
	Cause error
}

func (e *TransientStore) Error() string {
	return "transient store error: " + e.Cause.Error()
}

func (e *TransientStore) Unwrap() error { return e.Cause }

const (
	pgCodeUniqueViolation    = "23505"
	pgCodeSerializationFail  = "40001"
	pgCodeDeadlockDetected   = "40P01"
)

// Classify translates a raw pgx error into a distinguishable UniqueViolation
// or TransientStore when applicable, returning the original error otherwise.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgCodeUniqueViolation:
			return &UniqueViolation{Constraint: pgErr.ConstraintName}
		case pgCodeSerializationFail, pgCodeDeadlockDetected:
			return &TransientStore{Cause: err}
		}
	}
	return err
}

// IsUniqueViolation reports whether err is (or wraps) a UniqueViolation,
// optionally matching a specific constraint name when constraint != "".
func IsUniqueViolation(err error, constraint string) bool {
	var uv *UniqueViolation
	if !errors.As(err, &uv) {
		return false
	}
	return constraint == "" || uv.Constraint == constraint
}

// IsTransient reports whether err is (or wraps) a TransientStore error.
func IsTransient(err error) bool {
	var t *TransientStore
	return errors.As(err, &t)
}

// Known constraint names, shared so callers can match IsUniqueViolation
// against a specific race rather than any unique violation.
const (
	ConstraintOpenBidWindowPerAssignment = "uq_bid_windows_open_assignment"
	ConstraintActiveAssignmentPerUserDate = "uq_assignments_active_user_date"
)
