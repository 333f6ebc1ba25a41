package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveConflictLoggedTodayOffersThreeChoices(t *testing.T) {
	logs := []ActivityLogEntry{{Name: "Oatmeal"}, {Name: "Greek Yogurt"}}
	pending := PendingRegeneration{Kind: PlanKindDiet, UserID: "user-1", Adjustment: "more protein"}

	res, err := ResolveConflict(pending, logs, true, "")
	require.NoError(t, err)
	require.True(t, res.NeedsChoice)
	require.False(t, res.Submit)
	require.Equal(t, SituationLoggedToday, res.Situation)
	require.Equal(t, []Action{ActionClearToday, ActionMerge, ActionCancel}, res.Options)
	require.Equal(t, ClearNone, res.Clear)

	merged, err := ResolveConflict(pending, logs, true, ActionMerge)
	require.NoError(t, err)
	require.True(t, merged.Submit)
	require.Equal(t, ClearNone, merged.Clear)
	require.False(t, merged.Request.IgnoreHistory)
	require.Equal(t, "more protein; already completed: Oatmeal, Greek Yogurt; keep these, regenerate the rest", merged.Request.Adjustment)
	require.Equal(t, []string{"Oatmeal", "Greek Yogurt"}, merged.Request.PreserveItems)
}

func TestResolveConflictClearTodayIgnoresHistory(t *testing.T) {
	logs := []ActivityLogEntry{{Name: "Run"}}
	res, err := ResolveConflict(PendingRegeneration{Kind: PlanKindWorkout, Adjustment: "shorter"}, logs, true, ActionClearToday)
	require.NoError(t, err)
	require.Equal(t, ClearToday, res.Clear)
	require.True(t, res.Request.IgnoreHistory)
	require.Equal(t, "shorter", res.Request.Adjustment)
}

func TestResolveConflictCancelSubmitsNothing(t *testing.T) {
	res, err := ResolveConflict(PendingRegeneration{}, []ActivityLogEntry{{Name: "Run"}}, true, ActionCancel)
	require.NoError(t, err)
	require.False(t, res.Submit)
	require.Equal(t, ClearNone, res.Clear)
}

func TestResolveConflictHistoryOnly(t *testing.T) {
	res, err := ResolveConflict(PendingRegeneration{}, nil, true, "")
	require.NoError(t, err)
	require.True(t, res.NeedsChoice)
	require.Equal(t, SituationHistoryOnly, res.Situation)
	require.Equal(t, []Action{ActionClearHistory, ActionKeepHistory}, res.Options)

	keep, err := ResolveConflict(PendingRegeneration{Adjustment: " vegan "}, nil, true, ActionKeepHistory)
	require.NoError(t, err)
	require.Equal(t, ClearNone, keep.Clear)
	require.False(t, keep.Request.IgnoreHistory)
	require.Equal(t, "vegan", keep.Request.Adjustment)

	cleared, err := ResolveConflict(PendingRegeneration{}, nil, true, ActionClearHistory)
	require.NoError(t, err)
	require.Equal(t, ClearHistory, cleared.Clear)
	require.True(t, cleared.Request.IgnoreHistory)
}

func TestResolveConflictCleanSubmitsImmediately(t *testing.T) {
	res, err := ResolveConflict(PendingRegeneration{IgnoreHistory: true}, nil, false, "")
	require.NoError(t, err)
	require.False(t, res.NeedsChoice)
	require.True(t, res.Submit)
	require.Equal(t, ActionSubmit, res.Action)
	require.True(t, res.Request.IgnoreHistory, "explicit ignore-history flag is preserved")
}

func TestResolveConflictRejectsUnavailableChoice(t *testing.T) {
	_, err := ResolveConflict(PendingRegeneration{}, nil, true, ActionMerge)
	require.True(t, errors.Is(err, ErrValidation))

	_, err = ResolveConflict(PendingRegeneration{}, nil, false, ActionClearHistory)
	require.ErrorIs(t, err, ErrValidation)
}

func TestResolveConflictRetryNeverClears(t *testing.T) {
	res, err := ResolveConflict(PendingRegeneration{}, []ActivityLogEntry{{Name: "Run"}}, true, ActionRetry)
	require.NoError(t, err)
	require.Equal(t, ClearNone, res.Clear)
	require.True(t, res.Submit)
	require.True(t, res.Request.IgnoreHistory)
}

func TestLoggedNamesDeduplicates(t *testing.T) {
	names := LoggedNames([]ActivityLogEntry{{Name: "Eggs"}, {Name: "eggs "}, {Name: ""}, {Name: "Toast"}})
	require.Equal(t, []string{"Eggs", "Toast"}, names)
}
