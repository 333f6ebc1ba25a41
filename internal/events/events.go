// Package events defines event payloads shared by the outbox relay and the consumer.
package events

import "time"

// Event types emitted through the transactional outbox.
const (
	TypePlanRegenerated = "plan.regenerated"
	TypeFeastActivated  = "feast.activated"
	TypeFeastCancelled  = "feast.cancelled"
	TypeFeastExpired    = "feast.expired"
	TypeMealSkipped     = "meal.skipped"
)

// Event types consumed from upstream profile services.
const (
	TypeProfileUpdated     = "profile.updated"
	TypePreferencesUpdated = "workout_preferences.updated"
)

// PlanRegenerated is emitted when a plan is replaced by a fresh generation.
type PlanRegenerated struct {
	PlanID      string    `json:"plan_id"`
	UserID      string    `json:"user_id"`
	Kind        string    `json:"kind"`
	PrimaryGoal string    `json:"primary_goal,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// FeastActivated is emitted when a banking window is persisted.
type FeastActivated struct {
	UserID             string    `json:"user_id"`
	EventName          string    `json:"event_name"`
	EventDate          string    `json:"event_date"`
	CreatedOn          string    `json:"created_on"`
	DailyDeduction     int       `json:"daily_deduction"`
	TargetBankCalories int       `json:"target_bank_calories"`
	WorkoutBoost       bool      `json:"workout_boost"`
	ActivatedAt        time.Time `json:"activated_at"`
}

// FeastCleared is emitted when a banking window is cancelled or expires.
type FeastCleared struct {
	UserID    string    `json:"user_id"`
	EventName string    `json:"event_name"`
	EventDate string    `json:"event_date"`
	Reason    string    `json:"reason"`
	ClearedAt time.Time `json:"cleared_at"`
}

// MealSkipped is emitted for every meal skip with the resulting overrides.
type MealSkipped struct {
	UserID     string    `json:"user_id"`
	Date       string    `json:"date"`
	MealID     string    `json:"meal_id"`
	Status     string    `json:"status"`
	Calories   int       `json:"calories"`
	Recipients []string  `json:"recipients,omitempty"`
	SkippedAt  time.Time `json:"skipped_at"`
}

// ProfileUpdated is published upstream when physical attributes change.
type ProfileUpdated struct {
	UserID    string    `json:"user_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PreferencesUpdated is published upstream when workout preferences change.
type PreferencesUpdated struct {
	UserID    string    `json:"user_id"`
	UpdatedAt time.Time `json:"updated_at"`
}
