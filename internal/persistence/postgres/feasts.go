package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/fittrack/internal/domain"
	"example.com/fittrack/internal/events"
	"example.com/fittrack/internal/observability"
	"example.com/fittrack/internal/outbox"
)

func (s *Store) GetFeastConfig(ctx context.Context, userID string) (*domain.FeastConfig, error) {
	const query = `SELECT user_id, event_name, event_date, target_bank_calories, daily_deduction, created_on, workout_boost, activated_at
        FROM feast_configs WHERE user_id = $1`

	var (
		cfg                  domain.FeastConfig
		eventDate, createdOn time.Time
	)
	err := s.withUserTx(ctx, userID, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, query, userID).Scan(&cfg.UserID, &cfg.EventName, &eventDate, &cfg.TargetBankCalories, &cfg.DailyDeduction, &createdOn, &cfg.WorkoutBoost, &cfg.ActivatedAt)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cfg.EventDate = dateOf(eventDate)
	cfg.CreatedOn = dateOf(createdOn)
	return &cfg, nil
}

// SaveFeastConfig inserts cfg. An existing row is never replaced; the caller gets ErrBankingActive.
func (s *Store) SaveFeastConfig(ctx context.Context, cfg domain.FeastConfig) error {
	const insert = `INSERT INTO feast_configs (user_id, event_name, event_date, target_bank_calories, daily_deduction, created_on, workout_boost, activated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (user_id) DO NOTHING`

	err := s.withUserTx(ctx, cfg.UserID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, insert, cfg.UserID, cfg.EventName, dateArg(cfg.EventDate), cfg.TargetBankCalories, cfg.DailyDeduction, dateArg(cfg.CreatedOn), cfg.WorkoutBoost, cfg.ActivatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrBankingActive
		}
		return outbox.Insert(ctx, tx, outbox.Record{
			UserID:        cfg.UserID,
			AggregateType: "feast_config",
			AggregateID:   cfg.UserID,
			EventType:     events.TypeFeastActivated,
			DedupeKey:     fmt.Sprintf("%s:%s:%d", cfg.UserID, events.TypeFeastActivated, cfg.ActivatedAt.UnixNano()),
			Payload: events.FeastActivated{
				UserID:             cfg.UserID,
				EventName:          cfg.EventName,
				EventDate:          cfg.EventDate.String(),
				CreatedOn:          cfg.CreatedOn.String(),
				DailyDeduction:     cfg.DailyDeduction,
				TargetBankCalories: cfg.TargetBankCalories,
				WorkoutBoost:       cfg.WorkoutBoost,
				ActivatedAt:        cfg.ActivatedAt,
			},
		})
	})
	if err != nil {
		return err
	}
	observability.RecordFeastTransition(string(domain.BankingActive))
	return nil
}

// ClearFeastConfig deletes the user's config, recording why. Clearing an absent config is a no-op.
func (s *Store) ClearFeastConfig(ctx context.Context, userID string, reason domain.BankingState) error {
	eventType := events.TypeFeastCancelled
	if reason == domain.BankingExpired {
		eventType = events.TypeFeastExpired
	}
	clearedAt := s.now()

	cleared := false
	err := s.withUserTx(ctx, userID, func(tx pgx.Tx) error {
		var (
			name        string
			eventDate   time.Time
			activatedAt time.Time
		)
		err := tx.QueryRow(ctx, `DELETE FROM feast_configs WHERE user_id = $1 RETURNING event_name, event_date, activated_at`, userID).Scan(&name, &eventDate, &activatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		cleared = true
		return outbox.Insert(ctx, tx, outbox.Record{
			UserID:        userID,
			AggregateType: "feast_config",
			AggregateID:   userID,
			EventType:     eventType,
			DedupeKey:     fmt.Sprintf("%s:%s:%d", userID, eventType, activatedAt.UnixNano()),
			Payload: events.FeastCleared{
				UserID:    userID,
				EventName: name,
				EventDate: dateOf(eventDate).String(),
				Reason:    string(reason),
				ClearedAt: clearedAt,
			},
		})
	})
	if err != nil {
		return err
	}
	if cleared {
		observability.RecordFeastTransition(string(reason))
	}
	return nil
}
