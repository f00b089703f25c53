// README: In-app notification persistence, the InAppStore half of the
// Notifier's two channels.
package notify

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orro3790/dispatch/internal/types"
)

// Store persists notification rows, implementing InAppStore.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Insert implements InAppStore.
func (s *Store) Insert(ctx context.Context, userID types.ID, typ Type, opts Opts) error {
	payload, err := json.Marshal(opts.Data)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
        INSERT INTO notifications (id, user_id, type, title, body, data, read_at, created_at)
        VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, NULL, NOW())`,
		string(userID), string(typ), opts.RenderTitle, opts.RenderBody, payload,
	)
	return err
}
