package domain

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"example.com/fittrack/internal/clock"
)

// BankingState is the lifecycle of a FeastConfig.
type BankingState string

const (
	BankingInactive  BankingState = "INACTIVE"
	BankingProposed  BankingState = "PROPOSED"
	BankingActive    BankingState = "ACTIVE"
	BankingCancelled BankingState = "CANCELLED"
	BankingExpired   BankingState = "EXPIRED"
)

// DefaultBankCalories is the surplus banked when no custom deduction is given.
const DefaultBankCalories = 1000

// MaxDailyDeduction caps the calories removed from any single banking day.
const MaxDailyDeduction = 10000

// BankingPolicy holds the tunables used to build proposals.
type BankingPolicy struct {
	DefaultBankCalories int
}

// Proposal is a computed banking plan that has not been persisted.
type Proposal struct {
	EventName       string     `json:"event_name"`
	EventDate       civil.Date `json:"event_date"`
	ProposedOn      civil.Date `json:"proposed_on"`
	DaysRemaining   int        `json:"days_remaining"`
	DailyDeduction  int        `json:"daily_deduction"`
	TotalBanked     int        `json:"total_banked"`
	CustomDeduction bool       `json:"custom_deduction"`
}

// Propose computes a banking proposal for an event. Nothing is persisted.
func (p BankingPolicy) Propose(today civil.Date, eventName string, eventDate civil.Date, customDeduction *int) (Proposal, error) {
	name := strings.TrimSpace(eventName)
	if name == "" {
		return Proposal{}, invalid("event_name", "is required")
	}
	if !eventDate.IsValid() {
		return Proposal{}, invalid("event_date", "is required")
	}
	if eventDate.Before(today) {
		return Proposal{}, invalid("event_date", "is in the past")
	}

	days := max(1, clock.DaysBetween(today, eventDate))
	proposal := Proposal{
		EventName:     name,
		EventDate:     eventDate,
		ProposedOn:    today,
		DaysRemaining: days,
	}

	if customDeduction != nil {
		if *customDeduction <= 0 {
			return Proposal{}, invalid("custom_deduction", "must be positive")
		}
		if !deductionFits(*customDeduction, days) {
			return Proposal{}, invalid("custom_deduction", fmt.Sprintf("exceeds %d calories per day", MaxDailyDeduction))
		}
		proposal.CustomDeduction = true
		proposal.DailyDeduction = *customDeduction
		proposal.TotalBanked = *customDeduction * days
		return proposal, nil
	}

	total := p.DefaultBankCalories
	if total <= 0 {
		total = DefaultBankCalories
	}
	proposal.TotalBanked = total
	proposal.DailyDeduction = ceilDiv(total, days)
	return proposal, nil
}

// Validate re-checks a proposal handed back by a client before it is activated.
func (p Proposal) Validate(today civil.Date) error {
	if strings.TrimSpace(p.EventName) == "" {
		return invalid("event_name", "is required")
	}
	if !p.EventDate.IsValid() || !p.ProposedOn.IsValid() {
		return invalid("event_date", "is required")
	}
	if p.EventDate.Before(today) {
		return invalid("event_date", "is in the past")
	}
	if p.ProposedOn.After(today) || p.ProposedOn.After(p.EventDate) {
		return invalid("proposed_on", "is after the event or today")
	}
	if p.DaysRemaining != max(1, clock.DaysBetween(p.ProposedOn, p.EventDate)) {
		return invalid("days_remaining", "does not match the proposal window")
	}
	if p.DailyDeduction <= 0 {
		return invalid("daily_deduction", "must be positive")
	}
	if !deductionFits(p.DailyDeduction, p.DaysRemaining) {
		return invalid("daily_deduction", fmt.Sprintf("exceeds %d calories per day", MaxDailyDeduction))
	}
	if p.TotalBanked <= 0 {
		return invalid("total_banked", "must be positive")
	}
	if drift := p.DailyDeduction*p.DaysRemaining - p.TotalBanked; drift < 0 || drift >= p.DaysRemaining {
		return invalid("total_banked", "does not reconcile with daily_deduction")
	}
	return nil
}

// FeastConfig materialises the proposal verbatim.
func (p Proposal) FeastConfig(userID string, workoutBoost bool, now time.Time) FeastConfig {
	return FeastConfig{
		UserID:             userID,
		EventName:          p.EventName,
		EventDate:          p.EventDate,
		TargetBankCalories: p.TotalBanked,
		DailyDeduction:     p.DailyDeduction,
		CreatedOn:          p.ProposedOn,
		WorkoutBoost:       workoutBoost,
		ActivatedAt:        now,
	}
}

// BankingStatus derives the lifecycle state of a stored config.
func BankingStatus(cfg *FeastConfig, today civil.Date) BankingState {
	if cfg == nil {
		return BankingInactive
	}
	if today.After(cfg.EventDate) {
		return BankingExpired
	}
	return BankingActive
}

// Phase is the role a date plays in the banking window.
type Phase string

const (
	PhaseNone    Phase = "none"
	PhaseBanking Phase = "banking"
	PhaseFeast   Phase = "feast"
)

// MealTarget is one meal's calories after overrides.
type MealTarget struct {
	MealID     string         `json:"meal_id"`
	Name       string         `json:"name"`
	Planned    int            `json:"planned"`
	Adjustment int            `json:"adjustment"`
	Effective  int            `json:"effective"`
	Status     OverrideStatus `json:"status,omitempty"`
}

// DayTarget is the effective calorie target for a date.
type DayTarget struct {
	Date        civil.Date   `json:"date"`
	Baseline    int          `json:"baseline"`
	Calories    int          `json:"calories"`
	Phase       Phase        `json:"phase"`
	Note        string       `json:"note,omitempty"`
	BankedExtra int          `json:"banked_extra,omitempty"`
	Meals       []MealTarget `json:"meals,omitempty"`
}

// EffectiveTarget applies an active banking window to a day's baseline.
// bankedExtra is the sum of meals banked during the window; it only matters on the feast day.
func EffectiveTarget(cfg *FeastConfig, date civil.Date, baseline, bankedExtra int) DayTarget {
	target := DayTarget{Date: date, Baseline: baseline, Calories: baseline, Phase: PhaseNone}
	if cfg == nil || !cfg.Covers(date) {
		return target
	}

	if date == cfg.EventDate {
		target.Phase = PhaseFeast
		target.BankedExtra = bankedExtra
		target.Calories = baseline + cfg.TargetBankCalories + bankedExtra
		target.Note = fmt.Sprintf("Feast day for %s: +%d kcal banked", cfg.EventName, cfg.TargetBankCalories+bankedExtra)
		if cfg.WorkoutBoost {
			target.Note += "; recovery workout scheduled this morning"
		}
		return target
	}

	target.Phase = PhaseBanking
	target.Calories = max(0, baseline-cfg.DailyDeduction)
	remaining := clock.DaysBetween(date, cfg.EventDate)
	target.Note = fmt.Sprintf("Banking for %s: -%d kcal today, %d day(s) to go", cfg.EventName, cfg.DailyDeduction, remaining)
	return target
}

// BankedExtra sums calories banked from skipped meals on banking days of the window.
func BankedExtra(cfg *FeastConfig, overrides []MealOverride) int {
	if cfg == nil {
		return 0
	}
	total := 0
	for _, o := range overrides {
		if o.Status != OverrideBanked || !o.Date.Before(cfg.EventDate) || o.Date.Before(cfg.CreatedOn) {
			continue
		}
		total += -o.AdjustedCalories
	}
	return total
}

// MealTargets lists the day's meals in plan order with overrides applied.
func MealTargets(day DayPlan, overrides map[string]MealOverride) []MealTarget {
	out := make([]MealTarget, 0, len(day.Items))
	for _, item := range day.Items {
		target := MealTarget{MealID: item.ID, Name: item.Name, Planned: item.Calories, Effective: item.Calories}
		if o, ok := overrides[item.ID]; ok {
			target.Status = o.Status
			target.Adjustment = o.AdjustedCalories
			target.Effective = max(0, item.Calories+o.AdjustedCalories)
		}
		out = append(out, target)
	}
	return out
}

// SkipInput is everything PlanSkip needs to decide a meal skip.
type SkipInput struct {
	UserID         string
	Date           civil.Date
	Day            DayPlan
	Overrides      map[string]MealOverride
	Logged         []ActivityLogEntry
	MealID         string
	RedistributeTo []string
	IsFeastDay     bool
	BankingActive  bool
	Now            time.Time
}

// SkipOutcome lists the overrides to upsert for a skip.
type SkipOutcome struct {
	Status     OverrideStatus `json:"status"`
	Calories   int            `json:"calories"`
	Banked     int            `json:"banked"`
	Recipients []string       `json:"recipients,omitempty"`
	Overrides  []MealOverride `json:"overrides"`
}

// PlanSkip decides what happens to a skipped meal's calories. On a feast day they
// are split across recipients, elsewhere they are banked while a window is active
// and simply dropped otherwise.
func PlanSkip(in SkipInput) (SkipOutcome, error) {
	meal, _, ok := in.Day.Item(in.MealID)
	if !ok {
		return SkipOutcome{}, invalid("meal_id", "is not planned for "+in.Date.String())
	}
	if o, exists := in.Overrides[meal.ID]; exists && o.Status.Skipped() {
		return SkipOutcome{}, invalid("meal_id", "is already skipped")
	}
	logged := loggedNameSet(in.Logged)
	if _, done := logged[normalizeName(meal.Name)]; done {
		return SkipOutcome{}, invalid("meal_id", "is already logged")
	}

	calories := effectiveCalories(meal, in.Overrides)
	skipped := MealOverride{
		UserID:           in.UserID,
		Date:             in.Date,
		MealID:           meal.ID,
		AdjustedCalories: -calories,
		UpdatedAt:        in.Now,
	}

	switch {
	case in.IsFeastDay:
		recipients, err := selectRecipients(in, meal.ID, logged)
		if err != nil {
			return SkipOutcome{}, err
		}
		skipped.Status = OverrideRedistributed
		out := SkipOutcome{Status: OverrideRedistributed, Calories: calories, Overrides: []MealOverride{skipped}}
		shares := Distribute(calories, len(recipients))
		for i, recipient := range recipients {
			delta := shares[i]
			if prior, ok := in.Overrides[recipient.ID]; ok && prior.Status == OverrideAdjusted {
				delta += prior.AdjustedCalories
			}
			out.Recipients = append(out.Recipients, recipient.ID)
			out.Overrides = append(out.Overrides, MealOverride{
				UserID:           in.UserID,
				Date:             in.Date,
				MealID:           recipient.ID,
				Status:           OverrideAdjusted,
				AdjustedCalories: delta,
				SourceMealID:     meal.ID,
				UpdatedAt:        in.Now,
			})
		}
		return out, nil
	case in.BankingActive:
		skipped.Status = OverrideBanked
		return SkipOutcome{Status: OverrideBanked, Calories: calories, Banked: calories, Overrides: []MealOverride{skipped}}, nil
	default:
		skipped.Status = OverrideSkipped
		return SkipOutcome{Status: OverrideSkipped, Calories: calories, Overrides: []MealOverride{skipped}}, nil
	}
}

// Distribute splits total into n non-negative shares that sum exactly to total.
// The remainder goes to the first share.
func Distribute(total, n int) []int {
	if n <= 0 {
		return nil
	}
	shares := make([]int, n)
	base, rem := total/n, total%n
	for i := range shares {
		shares[i] = base
	}
	shares[0] += rem
	return shares
}

func selectRecipients(in SkipInput, skippedID string, logged map[string]struct{}) ([]PlanItem, error) {
	eligible := func(item PlanItem) bool {
		if item.ID == skippedID {
			return false
		}
		if o, ok := in.Overrides[item.ID]; ok && o.Status.Skipped() {
			return false
		}
		_, done := logged[normalizeName(item.Name)]
		return !done
	}

	var recipients []PlanItem
	if len(in.RedistributeTo) > 0 {
		for _, id := range in.RedistributeTo {
			item, _, ok := in.Day.Item(id)
			if !ok {
				return nil, invalid("redistribute_to", fmt.Sprintf("meal %q is not planned for %s", id, in.Date))
			}
			if !eligible(item) {
				return nil, invalid("redistribute_to", fmt.Sprintf("meal %q cannot receive calories", id))
			}
		}
		// Plan order keeps the remainder assignment deterministic.
		for _, item := range in.Day.Items {
			if slices.Contains(in.RedistributeTo, item.ID) {
				recipients = append(recipients, item)
			}
		}
	} else {
		for _, item := range in.Day.Items {
			if eligible(item) && effectiveCalories(item, in.Overrides) > 0 {
				recipients = append(recipients, item)
			}
		}
	}
	if len(recipients) == 0 {
		return nil, invalid("redistribute_to", "no remaining meals to receive calories")
	}
	return recipients, nil
}

func effectiveCalories(item PlanItem, overrides map[string]MealOverride) int {
	o, ok := overrides[item.ID]
	if !ok {
		return item.Calories
	}
	if o.Status.Skipped() {
		return 0
	}
	return max(0, item.Calories+o.AdjustedCalories)
}

func loggedNameSet(entries []ActivityLogEntry) map[string]struct{} {
	set := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		set[normalizeName(entry.Name)] = struct{}{}
	}
	return set
}

// deductionFits reports whether daily is within MaxDailyDeduction and daily*days cannot overflow.
func deductionFits(daily, days int) bool {
	return daily <= MaxDailyDeduction && daily <= math.MaxInt/max(1, days)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
