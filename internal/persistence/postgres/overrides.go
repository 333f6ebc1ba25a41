package postgres

import (
	"context"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"

	"example.com/fittrack/internal/domain"
	"example.com/fittrack/internal/events"
	"example.com/fittrack/internal/outbox"
)

const overrideColumns = `user_id, override_date, meal_id, status, adjusted_calories, source_meal_id, updated_at`

func (s *Store) OverridesForDate(ctx context.Context, userID string, date civil.Date) (map[string]domain.MealOverride, error) {
	list, err := s.OverridesInRange(ctx, userID, date, date)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.MealOverride, len(list))
	for _, o := range list {
		out[o.MealID] = o
	}
	return out, nil
}

func (s *Store) OverridesInRange(ctx context.Context, userID string, from, to civil.Date) ([]domain.MealOverride, error) {
	const query = `SELECT ` + overrideColumns + `
        FROM meal_overrides
        WHERE user_id = $1 AND override_date BETWEEN $2 AND $3
        ORDER BY override_date, meal_id`

	var out []domain.MealOverride
	err := s.withUserTx(ctx, userID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, userID, dateArg(from), dateArg(to))
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, scanOverride)
		return err
	})
	return out, err
}

func scanOverride(row pgx.CollectableRow) (domain.MealOverride, error) {
	var (
		o      domain.MealOverride
		date   time.Time
		status string
	)
	if err := row.Scan(&o.UserID, &date, &o.MealID, &status, &o.AdjustedCalories, &o.SourceMealID, &o.UpdatedAt); err != nil {
		return o, err
	}
	o.Date = dateOf(date)
	o.Status = domain.OverrideStatus(status)
	return o, nil
}

// UpsertOverrides writes overrides for date and records a meal.skipped event per skipped meal.
func (s *Store) UpsertOverrides(ctx context.Context, userID string, date civil.Date, overrides []domain.MealOverride) error {
	const upsert = `INSERT INTO meal_overrides (` + overrideColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (user_id, override_date, meal_id) DO UPDATE
           SET status = EXCLUDED.status,
               adjusted_calories = EXCLUDED.adjusted_calories,
               source_meal_id = EXCLUDED.source_meal_id,
               updated_at = EXCLUDED.updated_at`

	now := s.now()
	return s.withUserTx(ctx, userID, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, o := range overrides {
			updatedAt := o.UpdatedAt
			if updatedAt.IsZero() {
				updatedAt = now
			}
			batch.Queue(upsert, userID, dateArg(date), o.MealID, string(o.Status), o.AdjustedCalories, o.SourceMealID, updatedAt)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}

		for _, o := range overrides {
			if !o.Status.Skipped() {
				continue
			}
			if err := outbox.Insert(ctx, tx, outbox.Record{
				UserID:        userID,
				AggregateType: "meal_override",
				AggregateID:   date.String() + ":" + o.MealID,
				EventType:     events.TypeMealSkipped,
				DedupeKey:     userID + ":" + date.String() + ":" + o.MealID + ":" + events.TypeMealSkipped,
				Payload: events.MealSkipped{
					UserID:     userID,
					Date:       date.String(),
					MealID:     o.MealID,
					Status:     string(o.Status),
					Calories:   -o.AdjustedCalories,
					Recipients: recipientsOf(o.MealID, overrides),
					SkippedAt:  now,
				},
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func recipientsOf(source string, overrides []domain.MealOverride) []string {
	var out []string
	for _, o := range overrides {
		if o.Status == domain.OverrideAdjusted && o.SourceMealID == source {
			out = append(out, o.MealID)
		}
	}
	return out
}

func (s *Store) DeleteOverridesFrom(ctx context.Context, userID string, from civil.Date) error {
	return s.withUserTx(ctx, userID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM meal_overrides WHERE user_id = $1 AND override_date >= $2`, userID, dateArg(from))
		return err
	})
}
