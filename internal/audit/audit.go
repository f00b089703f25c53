// README: Append-only audit sink. Writes participate in the caller's
// transaction when one is supplied; a failure here aborts the enclosing
// transaction rather than being swallowed.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orro3790/dispatch/internal/types"
)

// ActorType distinguishes a human-triggered mutation from a system one.
type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorSystem ActorType = "system"
)

// Actor identifies who (or what) caused a mutation.
type Actor struct {
	Type ActorType
	ID   *types.ID
}

// SystemActor is the conventional actor for cron/background mutations.
var SystemActor = Actor{Type: ActorSystem}

// Record is one append-only audit row.
type Record struct {
	ID         int64
	EntityType string
	EntityID   types.ID
	Action     string
	Actor      Actor
	Changes    any
	CreatedAt  time.Time
}

// Sink is the audit log. Construct with NewSink(pool).
type Sink struct {
	pool *pgxpool.Pool
}

func NewSink(pool *pgxpool.Pool) *Sink {
	return &Sink{pool: pool}
}

// Record writes one audit row. Pass tx to participate in an existing
// transaction (the expected path for any state-mutating operation); pass
// nil to write standalone, for read-side or best-effort contexts that
// have no enclosing transaction.
func (s *Sink) Record(ctx context.Context, tx pgx.Tx, entityType string, entityID types.ID, action string, actor Actor, changes any) error {
	payload, err := json.Marshal(changes)
	if err != nil {
		return err
	}
	var actorID *string
	if actor.ID != nil {
		v := string(*actor.ID)
		actorID = &v
	}

	const q = `
        INSERT INTO audit_logs (entity_type, entity_id, action, actor_type, actor_id, changes, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW())`

	if tx != nil {
		_, err = tx.Exec(ctx, q, entityType, string(entityID), action, string(actor.Type), actorID, payload)
		return err
	}
	_, err = s.pool.Exec(ctx, q, entityType, string(entityID), action, string(actor.Type), actorID, payload)
	return err
}

// CountSince counts audit rows for (entityType, entityID, action) recorded
// at or after since. Health evaluation reuses the audit log as the dated
// event source for occurrences (like a no-show) that clear other state
// before a dated query against it would still find them.
func (s *Sink) CountSince(ctx context.Context, entityType string, entityID types.ID, action string, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
        SELECT COUNT(*) FROM audit_logs
        WHERE entity_type = $1 AND entity_id = $2 AND action = $3 AND created_at >= $4`,
		entityType, string(entityID), action, since,
	).Scan(&count)
	return count, err
}

// CountBetween is CountSince bounded above by until as well, used by the
// weekly health evaluator to count an event within exactly one week.
func (s *Sink) CountBetween(ctx context.Context, entityType string, entityID types.ID, action string, since, until time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
        SELECT COUNT(*) FROM audit_logs
        WHERE entity_type = $1 AND entity_id = $2 AND action = $3 AND created_at >= $4 AND created_at < $5`,
		entityType, string(entityID), action, since, until,
	).Scan(&count)
	return count, err
}
