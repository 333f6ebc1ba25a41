package domain

import (
	"context"

	"cloud.google.com/go/civil"
)

// ProfileGateway reads the user's profile. Returns ErrNotFound when absent.
type ProfileGateway interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
}

// PreferencesGateway reads workout preferences. Returns ErrNotFound when absent.
type PreferencesGateway interface {
	GetPreferences(ctx context.Context, userID string) (*WorkoutPreferences, error)
}

// ActivityLedger reads and deletes logged meals and workouts.
type ActivityLedger interface {
	ListForDate(ctx context.Context, userID string, kind PlanKind, date civil.Date) ([]ActivityLogEntry, error)
	ListRange(ctx context.Context, userID string, kind PlanKind, from, to civil.Date) ([]ActivityLogEntry, error)
	HasHistory(ctx context.Context, userID string, kind PlanKind) (bool, error)
	CompletedSessions(ctx context.Context, userID string, from, to civil.Date) (map[civil.Date]bool, error)
	DeleteForDate(ctx context.Context, userID string, kind PlanKind, date civil.Date) error
	DeleteAll(ctx context.Context, userID string, kind PlanKind) error
	Delete(ctx context.Context, userID, entryID string) error
}

// GenerationRequest is what the engine sends to the plan oracle.
type GenerationRequest struct {
	Kind          PlanKind            `json:"kind"`
	UserID        string              `json:"user_id"`
	Profile       Profile             `json:"profile"`
	Preferences   *WorkoutPreferences `json:"preferences,omitempty"`
	Adjustment    string              `json:"adjustment,omitempty"`
	IgnoreHistory bool                `json:"ignore_history"`
	PreserveItems []string            `json:"preserve_items,omitempty"`
}

// PlanOracle generates plan content. The engine never inspects how.
type PlanOracle interface {
	Generate(ctx context.Context, req GenerationRequest) (*Plan, error)
}

// PlanStore holds the current plan per user and kind. Returns ErrNotFound when absent.
type PlanStore interface {
	GetPlan(ctx context.Context, userID string, kind PlanKind) (*Plan, error)
	SavePlan(ctx context.Context, plan Plan) error
}

// FeastConfigStore persists the active banking window. GetFeastConfig returns nil, nil when inactive.
type FeastConfigStore interface {
	GetFeastConfig(ctx context.Context, userID string) (*FeastConfig, error)
	SaveFeastConfig(ctx context.Context, cfg FeastConfig) error
	ClearFeastConfig(ctx context.Context, userID string, reason BankingState) error
}

// MealOverrideStore persists per-date meal overrides.
type MealOverrideStore interface {
	OverridesForDate(ctx context.Context, userID string, date civil.Date) (map[string]MealOverride, error)
	OverridesInRange(ctx context.Context, userID string, from, to civil.Date) ([]MealOverride, error)
	UpsertOverrides(ctx context.Context, userID string, date civil.Date, overrides []MealOverride) error
	DeleteOverridesFrom(ctx context.Context, userID string, from civil.Date) error
}

// Guard enforces at most one in-flight operation per key. Acquire fails fast with ErrBusy.
type Guard interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// PlanChange describes why dependent views should recompute.
type PlanChange struct {
	UserID string   `json:"user_id"`
	Kind   PlanKind `json:"kind"`
	Reason string   `json:"reason"`
	Date   string   `json:"date,omitempty"`
}

// RefreshNotifier publishes plan-refresh signals.
type RefreshNotifier interface {
	PlanChanged(ctx context.Context, change PlanChange) error
}
