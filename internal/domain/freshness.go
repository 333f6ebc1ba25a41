package domain

import "time"

// FreshnessGrace absorbs clock skew and profile touches made by generation itself
// moments before the plan is written.
const FreshnessGrace = 5 * time.Second

// LatestSourceChange is the most recent change among the plan's inputs.
// The profile contributes LastPhysicalUpdate, or UpdatedAt when that is unset.
func LatestSourceChange(profile *Profile, prefs *WorkoutPreferences) time.Time {
	var latest time.Time
	if profile != nil {
		if profile.LastPhysicalUpdate != nil && !profile.LastPhysicalUpdate.IsZero() {
			latest = *profile.LastPhysicalUpdate
		} else {
			latest = profile.UpdatedAt
		}
	}
	if prefs != nil && prefs.UpdatedAt.After(latest) {
		latest = prefs.UpdatedAt
	}
	return latest
}

// EvaluateFreshness reports whether plan is stale relative to profile and prefs.
// Missing inputs give no staleness signal.
func EvaluateFreshness(plan *Plan, profile *Profile, prefs *WorkoutPreferences) bool {
	if plan == nil {
		return false
	}
	latest := LatestSourceChange(profile, prefs)
	if latest.IsZero() {
		return false
	}
	generated := plan.LastModified()
	if generated.IsZero() {
		return false
	}
	return latest.After(generated.Add(FreshnessGrace))
}
