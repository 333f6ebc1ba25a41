package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/fittrack/internal/domain"
	"example.com/fittrack/internal/events"
	"example.com/fittrack/internal/logger"
)

// EventLogHandler records consumed events in consumed_event_log. Redelivered
// offsets are ignored.
type EventLogHandler struct {
	pool *pgxpool.Pool
}

// NewEventLogHandler constructs a handler backed by the provided pool.
func NewEventLogHandler(pool *pgxpool.Pool) *EventLogHandler {
	return &EventLogHandler{pool: pool}
}

func (h *EventLogHandler) Handle(ctx context.Context, msg Message) error {
	_, err := h.pool.Exec(ctx,
		`INSERT INTO consumed_event_log (topic, partition, "offset", user_id, event_type, schema_id, schema_subject, payload, received_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
         ON CONFLICT (topic, partition, "offset") DO NOTHING`,
		msg.Topic,
		msg.Partition,
		msg.Offset,
		msg.UserID,
		msg.EventType,
		msg.SchemaID,
		msg.SchemaSubject,
		msg.Payload,
		msg.Timestamp,
	)
	return err
}

// StalenessChecker re-evaluates plan freshness and signals clients when a plan went stale.
type StalenessChecker interface {
	NotifyIfStale(ctx context.Context, userID string, kinds ...domain.PlanKind) ([]domain.PlanKind, error)
}

// StalenessHandler reacts to upstream profile and preference changes.
type StalenessHandler struct {
	checker StalenessChecker
	log     *logger.Logger
}

// NewStalenessHandler constructs a StalenessHandler.
func NewStalenessHandler(checker StalenessChecker, log *logger.Logger) *StalenessHandler {
	return &StalenessHandler{checker: checker, log: log.With("component", "staleness_handler")}
}

// Handle ignores event types other than profile.updated and workout_preferences.updated.
func (h *StalenessHandler) Handle(ctx context.Context, msg Message) error {
	var kinds []domain.PlanKind
	switch msg.EventType {
	case events.TypeProfileUpdated:
		kinds = []domain.PlanKind{domain.PlanKindDiet, domain.PlanKindWorkout}
	case events.TypePreferencesUpdated:
		kinds = []domain.PlanKind{domain.PlanKindWorkout}
	default:
		return nil
	}

	userID := msg.UserID
	if userID == "" {
		var body struct {
			UserID string `json:"user_id"`
		}
		if err := json.Unmarshal(msg.Payload, &body); err != nil {
			return fmt.Errorf("decode %s payload: %w", msg.EventType, err)
		}
		userID = body.UserID
	}
	if userID == "" {
		h.log.Warn("event without user id", "event_type", msg.EventType, "offset", msg.Offset)
		return nil
	}

	stale, err := h.checker.NotifyIfStale(ctx, userID, kinds...)
	if err != nil {
		return err
	}
	for _, kind := range stale {
		recordStaleSignal(msg.EventType, string(kind))
		h.log.Info("plan stale after upstream change", "user_id", userID, "kind", kind, "event_type", msg.EventType)
	}
	return nil
}
