package domain

import (
	"slices"
	"strings"
)

// Action is a caller choice when regeneration collides with logged activity.
type Action string

const (
	ActionSubmit       Action = "submit"
	ActionClearToday   Action = "clear_today_and_regenerate"
	ActionMerge        Action = "merge_and_regenerate"
	ActionCancel       Action = "cancel"
	ActionClearHistory Action = "clear_history_and_regenerate"
	ActionKeepHistory  Action = "keep_history_and_regenerate"
	// ActionRetry resubmits after a PartialFailure without deleting anything.
	ActionRetry Action = "retry_generation"
)

// Situation classifies the logged activity found when regeneration is requested.
type Situation string

const (
	SituationLoggedToday Situation = "logged_today"
	SituationHistoryOnly Situation = "history_only"
	SituationClean       Situation = "clean"
)

// ClearScope is which logs a resolution deletes before generating.
type ClearScope string

const (
	ClearNone    ClearScope = "none"
	ClearToday   ClearScope = "today"
	ClearHistory ClearScope = "history"
)

// PendingRegeneration is a regeneration request before conflict resolution.
type PendingRegeneration struct {
	Kind          PlanKind
	UserID        string
	Profile       Profile
	Preferences   *WorkoutPreferences
	Adjustment    string
	IgnoreHistory bool
}

// Resolution is the outcome of ResolveConflict.
type Resolution struct {
	Situation   Situation
	Options     []Action
	NeedsChoice bool
	Action      Action
	Clear       ClearScope
	Submit      bool
	Request     GenerationRequest
}

// ConflictOptions returns the situation and the choices to offer for it.
func ConflictOptions(todayCount int, anyHistory bool) (Situation, []Action) {
	switch {
	case todayCount > 0:
		return SituationLoggedToday, []Action{ActionClearToday, ActionMerge, ActionCancel}
	case anyHistory:
		return SituationHistoryOnly, []Action{ActionClearHistory, ActionKeepHistory}
	default:
		return SituationClean, []Action{ActionSubmit}
	}
}

// ResolveConflict applies the regeneration decision table. It never deletes
// anything itself: a Resolution with Clear != ClearNone is only produced when
// the caller explicitly chose a clearing action.
func ResolveConflict(pending PendingRegeneration, todayLogs []ActivityLogEntry, anyHistory bool, choice Action) (Resolution, error) {
	situation, options := ConflictOptions(len(todayLogs), anyHistory)
	res := Resolution{
		Situation: situation,
		Options:   options,
		Clear:     ClearNone,
		Request:   baseRequest(pending),
	}

	if choice == ActionRetry {
		res.Action = ActionRetry
		res.Submit = true
		res.Request.IgnoreHistory = true
		return res, nil
	}

	if choice == "" {
		if situation == SituationClean {
			res.Action = ActionSubmit
			res.Submit = true
			return res, nil
		}
		res.NeedsChoice = true
		return res, nil
	}

	if !slices.Contains(options, choice) {
		return Resolution{}, invalid("action", "is not available when "+string(situation))
	}

	res.Action = choice
	switch choice {
	case ActionSubmit, ActionKeepHistory:
		res.Submit = true
	case ActionClearToday:
		res.Clear = ClearToday
		res.Submit = true
		res.Request.IgnoreHistory = true
	case ActionClearHistory:
		res.Clear = ClearHistory
		res.Submit = true
		res.Request.IgnoreHistory = true
	case ActionMerge:
		names := LoggedNames(todayLogs)
		res.Submit = true
		res.Request.Adjustment = MergeAdjustment(pending.Adjustment, names)
		res.Request.PreserveItems = names
	case ActionCancel:
	}
	return res, nil
}

// MergeAdjustment appends the keep-logged-items instruction to a free-text adjustment.
func MergeAdjustment(adjustment string, names []string) string {
	clause := "already completed: " + strings.Join(names, ", ") + "; keep these, regenerate the rest"
	adjustment = strings.TrimSpace(adjustment)
	if adjustment == "" {
		return clause
	}
	return adjustment + "; " + clause
}

// LoggedNames returns distinct entry names in log order.
func LoggedNames(entries []ActivityLogEntry) []string {
	seen := make(map[string]struct{}, len(entries))
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, name)
	}
	return names
}

func baseRequest(p PendingRegeneration) GenerationRequest {
	req := GenerationRequest{
		Kind:          p.Kind,
		UserID:        p.UserID,
		Profile:       p.Profile,
		Adjustment:    strings.TrimSpace(p.Adjustment),
		IgnoreHistory: p.IgnoreHistory,
	}
	if p.Preferences != nil {
		prefs := *p.Preferences
		req.Preferences = &prefs
	}
	return req
}
