package domain

import (
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"example.com/fittrack/internal/clock"
)

// PlanKind distinguishes diet plans from workout plans.
type PlanKind string

const (
	PlanKindDiet    PlanKind = "diet"
	PlanKindWorkout PlanKind = "workout"
)

// Valid reports whether k is a known plan kind.
func (k PlanKind) Valid() bool {
	return k == PlanKindDiet || k == PlanKindWorkout
}

// ParsePlanKind normalises user input into a PlanKind.
func ParsePlanKind(raw string) (PlanKind, error) {
	kind := PlanKind(strings.ToLower(strings.TrimSpace(raw)))
	if !kind.Valid() {
		return "", &ValidationError{Field: "kind", Reason: "must be diet or workout"}
	}
	return kind, nil
}

// Profile holds the physical attributes a plan is generated from. Read-only to the engine.
type Profile struct {
	UserID             string     `json:"user_id"`
	WeightKg           float64    `json:"weight_kg"`
	HeightCm           float64    `json:"height_cm"`
	GoalWeightKg       float64    `json:"goal_weight_kg"`
	ActivityLevel      string     `json:"activity_level"`
	DietType           string     `json:"diet_type"`
	LastPhysicalUpdate *time.Time `json:"last_physical_update,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// WorkoutPreferences holds training preferences. Read-only to the engine.
type WorkoutPreferences struct {
	UserID          string    `json:"user_id"`
	ExperienceLevel string    `json:"experience_level"`
	DaysPerWeek     int       `json:"days_per_week"`
	SessionMinutes  int       `json:"session_minutes"`
	Restrictions    []string  `json:"restrictions,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// PlanItem is a single planned meal or exercise.
type PlanItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Calories    int    `json:"calories"`
	DurationMin int    `json:"duration_min,omitempty"`
}

// DayPlan is one weekday of a plan schedule.
type DayPlan struct {
	Day               string     `json:"day"`
	Items             []PlanItem `json:"items"`
	TargetCalories    int        `json:"target_calories"`
	TargetDurationMin int        `json:"target_duration_min,omitempty"`
	IsRest            bool       `json:"is_rest"`
}

// Baseline is the day's calorie target, falling back to the sum of planned items.
func (d DayPlan) Baseline() int {
	if d.TargetCalories > 0 {
		return d.TargetCalories
	}
	total := 0
	for _, item := range d.Items {
		total += item.Calories
	}
	return total
}

// Item returns the planned item with the given ID.
func (d DayPlan) Item(id string) (PlanItem, int, bool) {
	for i, item := range d.Items {
		if item.ID == id {
			return item, i, true
		}
	}
	return PlanItem{}, -1, false
}

// Plan is a generated diet or workout plan. Replaced wholesale on regeneration.
type Plan struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Kind        PlanKind  `json:"kind"`
	PrimaryGoal string    `json:"primary_goal"`
	Schedule    []DayPlan `json:"schedule"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LastModified is UpdatedAt when set, otherwise CreatedAt.
func (p Plan) LastModified() time.Time {
	if !p.UpdatedAt.IsZero() {
		return p.UpdatedAt
	}
	return p.CreatedAt
}

// DayFor returns the schedule entry for the weekday of date.
func (p Plan) DayFor(date civil.Date) (DayPlan, bool) {
	key := clock.WeekdayKey(date)
	for _, day := range p.Schedule {
		if clock.NormalizeWeekdayKey(day.Day) == key {
			return day, true
		}
	}
	return DayPlan{}, false
}

// ActivityLogEntry is a logged meal or workout owned by the activity ledger.
type ActivityLogEntry struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Kind        PlanKind   `json:"kind"`
	Name        string     `json:"name"`
	Date        civil.Date `json:"date"`
	Calories    int        `json:"calories"`
	DurationMin *int       `json:"duration_min,omitempty"`
	LoggedAt    time.Time  `json:"logged_at"`
}

// FeastConfig is an activated calorie banking window. Immutable once saved.
type FeastConfig struct {
	UserID             string     `json:"user_id"`
	EventName          string     `json:"event_name"`
	EventDate          civil.Date `json:"event_date"`
	TargetBankCalories int        `json:"target_bank_calories"`
	DailyDeduction     int        `json:"daily_deduction"`
	CreatedOn          civil.Date `json:"created_on"`
	WorkoutBoost       bool       `json:"workout_boost"`
	ActivatedAt        time.Time  `json:"activated_at"`
}

// Covers reports whether date falls within [CreatedOn, EventDate].
func (c FeastConfig) Covers(date civil.Date) bool {
	return clock.InRange(date, c.CreatedOn, c.EventDate)
}

// OverrideStatus records what happened to a meal on a given date.
type OverrideStatus string

const (
	// OverrideBanked marks a skipped meal whose calories were banked toward the feast day.
	OverrideBanked OverrideStatus = "BANKED"
	// OverrideRedistributed marks a skipped feast-day meal whose calories moved to other meals.
	OverrideRedistributed OverrideStatus = "REDISTRIBUTED"
	// OverrideSkipped marks a skipped meal outside any banking window.
	OverrideSkipped OverrideStatus = "SKIPPED"
	// OverrideAdjusted marks a meal that received redistributed calories.
	OverrideAdjusted OverrideStatus = "ADJUSTED"
)

// Skipped reports whether the status removes the meal from the day.
func (s OverrideStatus) Skipped() bool {
	return s == OverrideBanked || s == OverrideRedistributed || s == OverrideSkipped
}

// MealOverride adjusts one meal of one date. AdjustedCalories is a signed delta on the planned calories.
type MealOverride struct {
	UserID           string         `json:"user_id"`
	Date             civil.Date     `json:"date"`
	MealID           string         `json:"meal_id"`
	Status           OverrideStatus `json:"status"`
	AdjustedCalories int            `json:"adjusted_calories"`
	SourceMealID     string         `json:"source_meal_id,omitempty"`
	UpdatedAt        time.Time      `json:"updated_at"`
}
