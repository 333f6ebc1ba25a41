package domain

import (
	"strings"

	"cloud.google.com/go/civil"
)

// DayStatus is the derived completion state of a scheduled day.
type DayStatus string

const (
	DayRest       DayStatus = "REST"
	DayUpcoming   DayStatus = "UPCOMING"
	DayCompleted  DayStatus = "COMPLETED"
	DaySkipped    DayStatus = "SKIPPED"
	DayIncomplete DayStatus = "INCOMPLETE"
)

// DayInput carries everything DeriveDayStatus needs for one calendar day.
type DayInput struct {
	Plan             DayPlan
	Date             civil.Date
	Today            civil.Date
	LoggedCount      int
	TotalCount       int
	SessionCompleted bool
}

// DeriveDayStatus computes the status of a single day. It keeps no cross-day state.
func DeriveDayStatus(in DayInput) DayStatus {
	if in.Plan.IsRest || in.TotalCount <= 0 {
		return DayRest
	}
	if in.SessionCompleted {
		return DayCompleted
	}
	// Logging ahead of schedule is neither penalised nor counted as done.
	if in.Date.After(in.Today) {
		return DayUpcoming
	}
	if in.LoggedCount >= in.TotalCount {
		return DayCompleted
	}
	if in.Date.Before(in.Today) {
		if in.LoggedCount <= 0 {
			return DaySkipped
		}
		return DayIncomplete
	}
	if in.LoggedCount > 0 {
		return DayIncomplete
	}
	return DayUpcoming
}

// CountLogged counts distinct planned items that have at least one matching log by name.
func CountLogged(day DayPlan, logs []ActivityLogEntry) int {
	logged := make(map[string]struct{}, len(logs))
	for _, entry := range logs {
		logged[normalizeName(entry.Name)] = struct{}{}
	}
	count := 0
	seen := make(map[string]struct{}, len(day.Items))
	for _, item := range day.Items {
		key := normalizeName(item.Name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if _, ok := logged[key]; ok {
			count++
		}
	}
	return count
}

// DistinctItemCount counts planned items by distinct name, matching CountLogged.
func DistinctItemCount(day DayPlan) int {
	seen := make(map[string]struct{}, len(day.Items))
	for _, item := range day.Items {
		seen[normalizeName(item.Name)] = struct{}{}
	}
	return len(seen)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
