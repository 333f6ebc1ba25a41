package outbox

const planRegeneratedSchema = `{
  "type": "object",
  "title": "PlanRegenerated",
  "properties": {
    "plan_id": {"type": "string"},
    "user_id": {"type": "string"},
    "kind": {"type": "string", "enum": ["diet", "workout"]},
    "primary_goal": {"type": "string"},
    "generated_at": {"type": "string", "format": "date-time"}
  },
  "required": ["plan_id", "user_id", "kind", "generated_at"],
  "additionalProperties": false
}`

const feastActivatedSchema = `{
  "type": "object",
  "title": "FeastActivated",
  "properties": {
    "user_id": {"type": "string"},
    "event_name": {"type": "string"},
    "event_date": {"type": "string", "format": "date"},
    "created_on": {"type": "string", "format": "date"},
    "daily_deduction": {"type": "integer", "minimum": 1},
    "target_bank_calories": {"type": "integer", "minimum": 1},
    "workout_boost": {"type": "boolean"},
    "activated_at": {"type": "string", "format": "date-time"}
  },
  "required": ["user_id", "event_name", "event_date", "created_on", "daily_deduction", "target_bank_calories", "activated_at"],
  "additionalProperties": false
}`

const feastClearedSchema = `{
  "type": "object",
  "title": "FeastCleared",
  "properties": {
    "user_id": {"type": "string"},
    "event_name": {"type": "string"},
    "event_date": {"type": "string", "format": "date"},
    "reason": {"type": "string", "enum": ["CANCELLED", "EXPIRED"]},
    "cleared_at": {"type": "string", "format": "date-time"}
  },
  "required": ["user_id", "event_date", "reason", "cleared_at"],
  "additionalProperties": false
}`

const mealSkippedSchema = `{
  "type": "object",
  "title": "MealSkipped",
  "properties": {
    "user_id": {"type": "string"},
    "date": {"type": "string", "format": "date"},
    "meal_id": {"type": "string"},
    "status": {"type": "string", "enum": ["BANKED", "REDISTRIBUTED", "SKIPPED"]},
    "calories": {"type": "integer", "minimum": 0},
    "recipients": {"type": "array", "items": {"type": "string"}},
    "skipped_at": {"type": "string", "format": "date-time"}
  },
  "required": ["user_id", "date", "meal_id", "status", "calories", "skipped_at"],
  "additionalProperties": false
}`
