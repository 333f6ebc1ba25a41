package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"example.com/fittrack/internal/events"
)

// Route describes where an event type is published and which schema frames it.
type Route struct {
	Topic         string
	SchemaSubject string
	Schema        string
}

var catalog = map[string]Route{
	events.TypePlanRegenerated: {Topic: "plan_events", SchemaSubject: "plan_events-value", Schema: planRegeneratedSchema},
	events.TypeFeastActivated:  {Topic: "feast_events", SchemaSubject: "feast_activated-value", Schema: feastActivatedSchema},
	events.TypeFeastCancelled:  {Topic: "feast_events", SchemaSubject: "feast_cleared-value", Schema: feastClearedSchema},
	events.TypeFeastExpired:    {Topic: "feast_events", SchemaSubject: "feast_cleared-value", Schema: feastClearedSchema},
	events.TypeMealSkipped:     {Topic: "meal_override_events", SchemaSubject: "meal_override_events-value", Schema: mealSkippedSchema},
}

// RouteFor returns the route for eventType.
func RouteFor(eventType string) (Route, bool) {
	route, ok := catalog[eventType]
	return route, ok
}

// Record is an event to append to the outbox inside a caller's transaction.
type Record struct {
	UserID        string
	AggregateType string
	AggregateID   string
	EventType     string
	DedupeKey     string
	Payload       any
}

// Insert appends rec to the outbox using tx. Events are partitioned by user so
// a consumer sees each user's changes in order.
func Insert(ctx context.Context, tx pgx.Tx, rec Record) error {
	route, ok := RouteFor(rec.EventType)
	if !ok {
		return fmt.Errorf("unknown event type: %s", rec.EventType)
	}
	body, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", rec.EventType, err)
	}

	const stmt = `INSERT INTO outbox (user_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = tx.Exec(ctx, stmt,
		rec.UserID,
		rec.AggregateType,
		rec.AggregateID,
		rec.EventType,
		route.Topic,
		route.SchemaSubject,
		rec.UserID,
		body,
		nullIfEmpty(rec.DedupeKey),
	)
	return err
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
