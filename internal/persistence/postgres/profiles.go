package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"example.com/fittrack/internal/domain"
)

func (s *Store) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	const query = `SELECT user_id, weight_kg::float8, height_cm::float8, goal_weight_kg::float8, activity_level, diet_type, last_physical_update, updated_at
        FROM profiles WHERE user_id = $1`

	var p domain.Profile
	err := s.withUserTx(ctx, userID, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, query, userID).Scan(&p.UserID, &p.WeightKg, &p.HeightCm, &p.GoalWeightKg, &p.ActivityLevel, &p.DietType, &p.LastPhysicalUpdate, &p.UpdatedAt)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetPreferences(ctx context.Context, userID string) (*domain.WorkoutPreferences, error) {
	const query = `SELECT user_id, experience_level, days_per_week, session_minutes, restrictions, updated_at
        FROM workout_preferences WHERE user_id = $1`

	var p domain.WorkoutPreferences
	err := s.withUserTx(ctx, userID, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, query, userID).Scan(&p.UserID, &p.ExperienceLevel, &p.DaysPerWeek, &p.SessionMinutes, &p.Restrictions, &p.UpdatedAt)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPreferencesNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
