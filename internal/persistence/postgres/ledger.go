package postgres

import (
	"context"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"

	"example.com/fittrack/internal/domain"
)

const logColumns = `log_id, user_id, kind, name, log_date, calories, duration_min, logged_at`

func (s *Store) ListForDate(ctx context.Context, userID string, kind domain.PlanKind, date civil.Date) ([]domain.ActivityLogEntry, error) {
	return s.ListRange(ctx, userID, kind, date, date)
}

func (s *Store) ListRange(ctx context.Context, userID string, kind domain.PlanKind, from, to civil.Date) ([]domain.ActivityLogEntry, error) {
	const query = `SELECT ` + logColumns + `
        FROM activity_logs
        WHERE user_id = $1 AND kind = $2 AND log_date BETWEEN $3 AND $4
        ORDER BY log_date, logged_at`

	var entries []domain.ActivityLogEntry
	err := s.withUserTx(ctx, userID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, userID, string(kind), dateArg(from), dateArg(to))
		if err != nil {
			return err
		}
		entries, err = pgx.CollectRows(rows, scanLogEntry)
		return err
	})
	return entries, err
}

func scanLogEntry(row pgx.CollectableRow) (domain.ActivityLogEntry, error) {
	var (
		entry domain.ActivityLogEntry
		kind  string
		date  time.Time
	)
	if err := row.Scan(&entry.ID, &entry.UserID, &kind, &entry.Name, &date, &entry.Calories, &entry.DurationMin, &entry.LoggedAt); err != nil {
		return entry, err
	}
	entry.Kind = domain.PlanKind(kind)
	entry.Date = dateOf(date)
	return entry, nil
}

func (s *Store) HasHistory(ctx context.Context, userID string, kind domain.PlanKind) (bool, error) {
	var exists bool
	err := s.withUserTx(ctx, userID, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM activity_logs WHERE user_id = $1 AND kind = $2)`, userID, string(kind)).Scan(&exists)
	})
	return exists, err
}

func (s *Store) CompletedSessions(ctx context.Context, userID string, from, to civil.Date) (map[civil.Date]bool, error) {
	const query = `SELECT session_date FROM workout_sessions
        WHERE user_id = $1 AND completed AND session_date BETWEEN $2 AND $3`

	out := make(map[civil.Date]bool)
	err := s.withUserTx(ctx, userID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, userID, dateArg(from), dateArg(to))
		if err != nil {
			return err
		}
		dates, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
		if err != nil {
			return err
		}
		for _, d := range dates {
			out[dateOf(d)] = true
		}
		return nil
	})
	return out, err
}

func (s *Store) DeleteForDate(ctx context.Context, userID string, kind domain.PlanKind, date civil.Date) error {
	return s.withUserTx(ctx, userID, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM activity_logs WHERE user_id = $1 AND kind = $2 AND log_date = $3`, userID, string(kind), dateArg(date)); err != nil {
			return err
		}
		if kind != domain.PlanKindWorkout {
			return nil
		}
		_, err := tx.Exec(ctx, `DELETE FROM workout_sessions WHERE user_id = $1 AND session_date = $2`, userID, dateArg(date))
		return err
	})
}

func (s *Store) DeleteAll(ctx context.Context, userID string, kind domain.PlanKind) error {
	return s.withUserTx(ctx, userID, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM activity_logs WHERE user_id = $1 AND kind = $2`, userID, string(kind)); err != nil {
			return err
		}
		if kind != domain.PlanKindWorkout {
			return nil
		}
		_, err := tx.Exec(ctx, `DELETE FROM workout_sessions WHERE user_id = $1`, userID)
		return err
	})
}

func (s *Store) Delete(ctx context.Context, userID, entryID string) error {
	return s.withUserTx(ctx, userID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM activity_logs WHERE user_id = $1 AND log_id = $2`, userID, entryID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}
