package clock

import (
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// DaysPerWeek is the length of a plan schedule.
const DaysPerWeek = 7

var weekdayKeys = [DaysPerWeek]string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// WeekdayIndex returns the day-of-week index with Monday = 0 and Sunday = 6.
func WeekdayIndex(d civil.Date) int {
	wd := d.In(time.UTC).Weekday()
	return (int(wd) + 6) % DaysPerWeek
}

// WeekdayKey returns the lower-case weekday name used as a schedule key.
func WeekdayKey(d civil.Date) string {
	return weekdayKeys[WeekdayIndex(d)]
}

// WeekdayKeys lists schedule keys from Monday to Sunday.
func WeekdayKeys() []string {
	out := make([]string, DaysPerWeek)
	copy(out, weekdayKeys[:])
	return out
}

// NormalizeWeekdayKey lower-cases and trims a day name, accepting three-letter abbreviations.
func NormalizeWeekdayKey(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if len(key) >= 3 {
		for _, candidate := range weekdayKeys {
			if strings.HasPrefix(candidate, key) {
				return candidate
			}
		}
	}
	return key
}

// WeekStart returns the Monday of the week containing d.
func WeekStart(d civil.Date) civil.Date {
	return d.AddDays(-WeekdayIndex(d))
}

// WeekOf returns the seven dates, Monday first, of the week containing d.
func WeekOf(d civil.Date) []civil.Date {
	start := WeekStart(d)
	out := make([]civil.Date, DaysPerWeek)
	for i := range out {
		out[i] = start.AddDays(i)
	}
	return out
}

// DaysBetween counts calendar days from a to b. Negative when b is before a.
func DaysBetween(a, b civil.Date) int {
	return b.DaysSince(a)
}

// InRange reports whether d lies within [from, to] inclusive.
func InRange(d, from, to civil.Date) bool {
	return !d.Before(from) && !d.After(to)
}
