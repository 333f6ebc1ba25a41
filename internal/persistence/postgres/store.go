// Package postgres persists the engine's state in Postgres. Every user-scoped
// statement runs inside a transaction with app.user_id set for row level security,
// and state changes append their outbox events in that same transaction.
package postgres

import (
	"context"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/fittrack/internal/domain"
)

var (
	_ domain.ProfileGateway     = (*Store)(nil)
	_ domain.PreferencesGateway = (*Store)(nil)
	_ domain.ActivityLedger     = (*Store)(nil)
	_ domain.PlanStore          = (*Store)(nil)
	_ domain.FeastConfigStore   = (*Store)(nil)
	_ domain.MealOverrideStore  = (*Store)(nil)
)

// Store implements every engine gateway on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// withUserTx runs fn in a transaction scoped to userID and commits when fn succeeds.
func (s *Store) withUserTx(ctx context.Context, userID string, fn func(pgx.Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT set_config('app.user_id', $1, true)", userID); err != nil {
		return err
	}
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// dateArg converts a calendar day to the value bound to DATE columns.
func dateArg(d civil.Date) time.Time {
	return d.In(time.UTC)
}

func dateOf(t time.Time) civil.Date {
	return civil.DateOf(t)
}
