package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"example.com/fittrack/internal/domain"
	"example.com/fittrack/internal/events"
	"example.com/fittrack/internal/observability"
	"example.com/fittrack/internal/outbox"
)

func (s *Store) GetPlan(ctx context.Context, userID string, kind domain.PlanKind) (*domain.Plan, error) {
	const query = `SELECT plan_id, user_id, kind, primary_goal, schedule, created_at, updated_at
        FROM plans WHERE user_id = $1 AND kind = $2`

	var (
		plan     domain.Plan
		rawKind  string
		schedule []byte
	)
	err := s.withUserTx(ctx, userID, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, query, userID, string(kind)).Scan(&plan.ID, &plan.UserID, &rawKind, &plan.PrimaryGoal, &schedule, &plan.CreatedAt, &plan.UpdatedAt)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	plan.Kind = domain.PlanKind(rawKind)
	if err := json.Unmarshal(schedule, &plan.Schedule); err != nil {
		return nil, fmt.Errorf("decode plan %s schedule: %w", plan.ID, err)
	}
	return &plan, nil
}

// SavePlan replaces the user's plan of plan.Kind and records plan.regenerated.
func (s *Store) SavePlan(ctx context.Context, plan domain.Plan) error {
	schedule, err := json.Marshal(plan.Schedule)
	if err != nil {
		return fmt.Errorf("encode plan schedule: %w", err)
	}

	const upsert = `INSERT INTO plans (user_id, kind, plan_id, primary_goal, schedule, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (user_id, kind) DO UPDATE
           SET plan_id = EXCLUDED.plan_id,
               primary_goal = EXCLUDED.primary_goal,
               schedule = EXCLUDED.schedule,
               created_at = EXCLUDED.created_at,
               updated_at = EXCLUDED.updated_at`

	err = s.withUserTx(ctx, plan.UserID, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsert, plan.UserID, string(plan.Kind), plan.ID, plan.PrimaryGoal, schedule, plan.CreatedAt, plan.UpdatedAt); err != nil {
			return err
		}
		return outbox.Insert(ctx, tx, outbox.Record{
			UserID:        plan.UserID,
			AggregateType: "plan",
			AggregateID:   plan.ID,
			EventType:     events.TypePlanRegenerated,
			DedupeKey:     plan.ID + ":" + events.TypePlanRegenerated,
			Payload: events.PlanRegenerated{
				PlanID:      plan.ID,
				UserID:      plan.UserID,
				Kind:        string(plan.Kind),
				PrimaryGoal: plan.PrimaryGoal,
				GeneratedAt: plan.LastModified(),
			},
		})
	})
	if err != nil {
		return err
	}
	observability.RecordPlanSaved(string(plan.Kind), plan.LastModified())
	return nil
}
