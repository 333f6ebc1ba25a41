package domain_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/require"

	"example.com/fittrack/internal/clock"
	"example.com/fittrack/internal/domain"
	"example.com/fittrack/internal/guard"
	"example.com/fittrack/internal/notify"
	"example.com/fittrack/internal/persistence/memory"
)

const userID = "user-1"

// Monday 2024-03-11, 09:00 UTC.
var now = time.Date(2024, time.March, 11, 9, 0, 0, 0, time.UTC)

var today = civil.DateOf(now)

type oracleStub struct {
	mu       sync.Mutex
	requests []domain.GenerationRequest
	err      error
	plan     domain.Plan
}

func (o *oracleStub) Generate(_ context.Context, req domain.GenerationRequest) (*domain.Plan, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests = append(o.requests, req)
	if o.err != nil {
		return nil, o.err
	}
	plan := o.plan
	return &plan, nil
}

func (o *oracleStub) calls() []domain.GenerationRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.GenerationRequest(nil), o.requests...)
}

type fixture struct {
	store  *memory.Store
	oracle *oracleStub
	guard  *guard.Memory
	notes  *notify.Recorder
	svc    *domain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  memory.NewStore(),
		oracle: &oracleStub{plan: dietPlan()},
		guard:  guard.NewMemory(),
		notes:  &notify.Recorder{},
	}
	f.store.PutProfile(domain.Profile{UserID: userID, WeightKg: 80, UpdatedAt: now.Add(-48 * time.Hour)})
	f.svc = domain.NewService(domain.Dependencies{
		Profiles:    f.store,
		Preferences: f.store,
		Ledger:      f.store,
		Oracle:      f.oracle,
		Plans:       f.store,
		Feasts:      f.store,
		Overrides:   f.store,
		Guard:       f.guard,
		Notifier:    f.notes,
		Window:      clock.NewDateWindow(time.UTC, clock.Fixed(now)),
		Policy:      domain.BankingPolicy{DefaultBankCalories: 1000},
	})
	return f
}

func dietPlan() domain.Plan {
	plan := domain.Plan{PrimaryGoal: "lose fat"}
	for _, key := range clock.WeekdayKeys() {
		plan.Schedule = append(plan.Schedule, domain.DayPlan{
			Day: key,
			Items: []domain.PlanItem{
				{ID: "breakfast", Name: "Oatmeal", Calories: 500},
				{ID: "lunch", Name: "Chicken Salad", Calories: 700},
				{ID: "snack", Name: "Protein Bar", Calories: 400},
				{ID: "dinner", Name: "Salmon", Calories: 700},
			},
		})
	}
	return plan
}

func (f *fixture) seedDietPlan(t *testing.T, createdAt time.Time) {
	t.Helper()
	plan := dietPlan()
	plan.ID = "plan-1"
	plan.UserID = userID
	plan.Kind = domain.PlanKindDiet
	plan.CreatedAt = createdAt
	require.NoError(t, f.store.SavePlan(context.Background(), plan))
}

func (f *fixture) logMeal(name string, date civil.Date) {
	f.store.AddLog(domain.ActivityLogEntry{UserID: userID, Kind: domain.PlanKindDiet, Name: name, Date: date})
}

func (f *fixture) mealCount(t *testing.T, date civil.Date) int {
	t.Helper()
	logs, err := f.store.ListForDate(context.Background(), userID, domain.PlanKindDiet, date)
	require.NoError(t, err)
	return len(logs)
}

func TestGetStateFreshnessFollowsGraceWindow(t *testing.T) {
	ctx := context.Background()
	created := now.Add(-time.Hour)

	f := newFixture(t)
	f.seedDietPlan(t, created)
	update := created.Add(3 * time.Second)
	f.store.PutProfile(domain.Profile{UserID: userID, LastPhysicalUpdate: &update, UpdatedAt: update})
	state, err := f.svc.GetState(ctx, userID, domain.PlanKindDiet)
	require.NoError(t, err)
	require.False(t, state.IsStale)
	require.Equal(t, domain.BankingInactive, state.Banking.State)

	update = created.Add(10 * time.Second)
	f.store.PutProfile(domain.Profile{UserID: userID, LastPhysicalUpdate: &update, UpdatedAt: update})
	state, err = f.svc.GetState(ctx, userID, domain.PlanKindDiet)
	require.NoError(t, err)
	require.True(t, state.IsStale)
}

func TestGetStateWithoutPlanOrProfileIsNotAnError(t *testing.T) {
	f := newFixture(t)
	state, err := f.svc.GetState(context.Background(), "nobody", domain.PlanKindWorkout)
	require.NoError(t, err)
	require.Nil(t, state.Plan)
	require.False(t, state.IsStale)
}

func TestRequestRegenerationCleanSubmitsImmediately(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.oracle.plan.CreatedAt = now.Add(time.Hour)

	out, err := f.svc.RequestRegeneration(ctx, userID, domain.RegenerationRequest{Kind: domain.PlanKindDiet, Adjustment: "more protein"})
	require.NoError(t, err)
	require.Equal(t, domain.RegenerationGenerated, out.Status)
	require.Equal(t, domain.SituationClean, out.Situation)
	require.NotEmpty(t, out.Plan.ID)
	require.False(t, out.Plan.CreatedAt.After(now), "createdAt never postdates the request")

	stored, err := f.store.GetPlan(ctx, userID, domain.PlanKindDiet)
	require.NoError(t, err)
	require.Equal(t, out.Plan.ID, stored.ID)
	require.Equal(t, "more protein", f.oracle.calls()[0].Adjustment)
	require.Equal(t, []domain.PlanChange{{UserID: userID, Kind: domain.PlanKindDiet, Reason: domain.ReasonRegenerated}}, f.notes.Changes())

	state, err := f.svc.GetState(ctx, userID, domain.PlanKindDiet)
	require.NoError(t, err)
	require.False(t, state.IsStale)
}

func TestRequestRegenerationNeverDeletesWithoutChoice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.logMeal("Oatmeal", today)
	f.logMeal("Chicken Salad", today)

	out, err := f.svc.RequestRegeneration(ctx, userID, domain.RegenerationRequest{Kind: domain.PlanKindDiet})
	require.NoError(t, err)
	require.Equal(t, domain.RegenerationChoiceRequired, out.Status)
	require.Equal(t, []domain.Action{domain.ActionClearToday, domain.ActionMerge, domain.ActionCancel}, out.Options)
	require.Empty(t, f.oracle.calls())
	require.Equal(t, 2, f.mealCount(t, today))

	out, err = f.svc.RequestRegeneration(ctx, userID, domain.RegenerationRequest{Kind: domain.PlanKindDiet, Action: domain.ActionCancel})
	require.NoError(t, err)
	require.Equal(t, domain.RegenerationCancelled, out.Status)
	require.Empty(t, f.oracle.calls())
	require.Equal(t, 2, f.mealCount(t, today))
}

func TestRequestRegenerationMergeKeepsLogs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.logMeal("Oatmeal", today)
	f.logMeal("Chicken Salad", today)

	out, err := f.svc.RequestRegeneration(ctx, userID, domain.RegenerationRequest{Kind: domain.PlanKindDiet, Adjustment: "vegetarian dinner", Action: domain.ActionMerge})
	require.NoError(t, err)
	require.Equal(t, domain.RegenerationGenerated, out.Status)
	require.Equal(t, domain.ClearNone, out.Cleared)
	require.Equal(t, 2, f.mealCount(t, today))

	req := f.oracle.calls()[0]
	require.Equal(t, "vegetarian dinner; already completed: Oatmeal, Chicken Salad; keep these, regenerate the rest", req.Adjustment)
	require.Equal(t, []string{"Oatmeal", "Chicken Salad"}, req.PreserveItems)
	require.False(t, req.IgnoreHistory)
}

func TestRequestRegenerationClearTodayKeepsEarlierDays(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.logMeal("Oatmeal", today)
	f.logMeal("Salmon", today.AddDays(-1))

	out, err := f.svc.RequestRegeneration(ctx, userID, domain.RegenerationRequest{Kind: domain.PlanKindDiet, Action: domain.ActionClearToday})
	require.NoError(t, err)
	require.Equal(t, domain.ClearToday, out.Cleared)
	require.Zero(t, f.mealCount(t, today))
	require.Equal(t, 1, f.mealCount(t, today.AddDays(-1)))
	require.True(t, f.oracle.calls()[0].IgnoreHistory)
}

func TestRequestRegenerationPartialFailureThenRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.logMeal("Salmon", today.AddDays(-3))
	f.oracle.err = errors.New("oracle unavailable")

	_, err := f.svc.RequestRegeneration(ctx, userID, domain.RegenerationRequest{Kind: domain.PlanKindDiet, Action: domain.ActionClearHistory})
	require.ErrorIs(t, err, domain.ErrPartialFailure)
	var partial *domain.PartialFailureError
	require.ErrorAs(t, err, &partial)
	require.Equal(t, domain.ClearHistory, partial.Cleared)
	require.Zero(t, f.mealCount(t, today.AddDays(-3)))

	f.oracle.err = nil
	out, err := f.svc.RequestRegeneration(ctx, userID, domain.RegenerationRequest{Kind: domain.PlanKindDiet, Action: domain.ActionRetry})
	require.NoError(t, err)
	require.Equal(t, domain.RegenerationGenerated, out.Status)
	require.Equal(t, domain.ClearNone, out.Cleared)
	require.True(t, f.oracle.calls()[1].IgnoreHistory)
}

func TestRequestRegenerationFailureWithoutClearingIsPlainError(t *testing.T) {
	f := newFixture(t)
	f.oracle.err = errors.New("boom")
	_, err := f.svc.RequestRegeneration(context.Background(), userID, domain.RegenerationRequest{Kind: domain.PlanKindDiet})
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrPartialFailure)
}

func TestRequestRegenerationRejectsConcurrentRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	release, err := f.guard.Acquire(ctx, "regenerate:"+userID)
	require.NoError(t, err)

	_, err = f.svc.RequestRegeneration(ctx, userID, domain.RegenerationRequest{Kind: domain.PlanKindDiet})
	require.ErrorIs(t, err, domain.ErrBusy)
	require.Empty(t, f.oracle.calls())

	release()
	_, err = f.svc.RequestRegeneration(ctx, userID, domain.RegenerationRequest{Kind: domain.PlanKindDiet})
	require.NoError(t, err)
}

func TestRequestWorkoutRegenerationNeedsPreferences(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RequestRegeneration(context.Background(), userID, domain.RegenerationRequest{Kind: domain.PlanKindWorkout})
	require.ErrorIs(t, err, domain.ErrPreferencesNotFound)
	require.ErrorIs(t, err, domain.ErrNotFound)

	f.store.PutPreferences(domain.WorkoutPreferences{UserID: userID, DaysPerWeek: 3, UpdatedAt: now})
	_, err = f.svc.RequestRegeneration(context.Background(), userID, domain.RegenerationRequest{Kind: domain.PlanKindWorkout})
	require.NoError(t, err)
	require.Equal(t, 3, f.oracle.calls()[0].Preferences.DaysPerWeek)
}

func TestPreviewRegenerationHistoryOnly(t *testing.T) {
	f := newFixture(t)
	f.logMeal("Salmon", today.AddDays(-2))
	preview, err := f.svc.PreviewRegeneration(context.Background(), userID, domain.PlanKindDiet)
	require.NoError(t, err)
	require.Equal(t, domain.SituationHistoryOnly, preview.Situation)
	require.Empty(t, preview.LoggedToday)
}

func activate(t *testing.T, f *fixture, eventDate civil.Date) *domain.FeastConfig {
	t.Helper()
	proposal, err := f.svc.ProposeBanking(context.Background(), domain.ProposeInput{EventName: "Wedding", EventDate: eventDate})
	require.NoError(t, err)
	cfg, err := f.svc.ActivateBanking(context.Background(), userID, proposal, true)
	require.NoError(t, err)
	return cfg
}

func TestBankingLifecycleTargets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedDietPlan(t, now.Add(-time.Hour))
	event := today.AddDays(5)

	cfg := activate(t, f, event)
	require.Equal(t, 200, cfg.DailyDeduction)
	require.Equal(t, 1000, cfg.TargetBankCalories)
	require.Equal(t, today, cfg.CreatedOn)

	day3, err := f.svc.EffectiveTargetsForDate(ctx, userID, today.AddDays(2))
	require.NoError(t, err)
	require.Equal(t, 2100, day3.Calories)
	require.Equal(t, domain.PhaseBanking, day3.Phase)

	feast, err := f.svc.EffectiveTargetsForDate(ctx, userID, event)
	require.NoError(t, err)
	require.Equal(t, 3300, feast.Calories)
	require.Contains(t, feast.Note, "recovery workout")

	state, err := f.svc.GetState(ctx, userID, domain.PlanKindDiet)
	require.NoError(t, err)
	require.Equal(t, domain.BankingActive, state.Banking.State)
	require.Equal(t, 5, state.Banking.DaysRemaining)
	require.Equal(t, 2100, state.Banking.Today.Calories)
}

func TestActivateBankingTwiceIsConflict(t *testing.T) {
	f := newFixture(t)
	activate(t, f, today.AddDays(3))

	proposal, err := f.svc.ProposeBanking(context.Background(), domain.ProposeInput{EventName: "Party", EventDate: today.AddDays(4)})
	require.NoError(t, err)
	_, err = f.svc.ActivateBanking(context.Background(), userID, proposal, false)
	require.ErrorIs(t, err, domain.ErrConflict)

	cfg, err := f.store.GetFeastConfig(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, "Wedding", cfg.EventName, "existing config is not overwritten")
}

func TestActivateBankingRejectsInvalidProposal(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ActivateBanking(context.Background(), userID, domain.Proposal{EventName: "Party", EventDate: today.AddDays(-1), ProposedOn: today.AddDays(-3), DaysRemaining: 2, DailyDeduction: 100, TotalBanked: 200}, false)
	require.ErrorIs(t, err, domain.ErrValidation)

	cfg, err := f.store.GetFeastConfig(context.Background(), userID)
	require.NoError(t, err)
	require.Nil(t, cfg)
}

func TestSkipMealBanksTowardFeastDay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedDietPlan(t, now.Add(-time.Hour))
	event := today.AddDays(5)
	activate(t, f, event)

	out, err := f.svc.SkipMeal(ctx, userID, domain.SkipMealInput{MealID: "snack"})
	require.NoError(t, err)
	require.Equal(t, domain.OverrideBanked, out.Status)
	require.Equal(t, 400, out.Banked)

	target, err := f.svc.EffectiveTargetsForDate(ctx, userID, today)
	require.NoError(t, err)
	require.Equal(t, 2100, target.Calories, "day target is unchanged by a skip")
	require.Equal(t, 0, target.Meals[2].Effective)
	require.Equal(t, 700, target.Meals[1].Effective)

	feast, err := f.svc.EffectiveTargetsForDate(ctx, userID, event)
	require.NoError(t, err)
	require.Equal(t, 3700, feast.Calories)
	require.Equal(t, 400, feast.BankedExtra)

	_, err = f.svc.SkipMeal(ctx, userID, domain.SkipMealInput{MealID: "snack"})
	require.ErrorIs(t, err, domain.ErrValidation, "already skipped")

	changes := f.notes.Changes()
	require.Equal(t, domain.ReasonMealSkipped, changes[len(changes)-1].Reason)
}

func TestSkipMealRedistributesOnFeastDay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedDietPlan(t, now.Add(-time.Hour))
	event := today.AddDays(2)
	activate(t, f, event)

	out, err := f.svc.SkipMeal(ctx, userID, domain.SkipMealInput{Date: event, MealID: "snack"})
	require.NoError(t, err)
	require.Equal(t, domain.OverrideRedistributed, out.Status)
	require.Equal(t, []string{"breakfast", "lunch", "dinner"}, out.Recipients)

	target, err := f.svc.EffectiveTargetsForDate(ctx, userID, event)
	require.NoError(t, err)
	sum := 0
	for _, meal := range target.Meals {
		sum += meal.Effective
	}
	require.Equal(t, 2300, sum, "redistribution preserves the day's total")
	require.Equal(t, 634, target.Meals[0].Effective)
	require.Equal(t, 833, target.Meals[1].Effective)
	require.Equal(t, 833, target.Meals[3].Effective)
}

func TestSkipMealWithoutBankingIsPlainSkip(t *testing.T) {
	f := newFixture(t)
	f.seedDietPlan(t, now.Add(-time.Hour))

	out, err := f.svc.SkipMeal(context.Background(), userID, domain.SkipMealInput{MealID: "lunch"})
	require.NoError(t, err)
	require.Equal(t, domain.OverrideSkipped, out.Status)

	_, err = f.svc.SkipMeal(context.Background(), userID, domain.SkipMealInput{Date: today.AddDays(-1), MealID: "lunch"})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestSkipMealWithoutPlanIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SkipMeal(context.Background(), userID, domain.SkipMealInput{MealID: "lunch"})
	require.ErrorIs(t, err, domain.ErrPlanNotFound)
}

func TestCancelBankingKeepsPastOverrides(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedDietPlan(t, now.Add(-time.Hour))
	activate(t, f, today.AddDays(4))

	yesterday := []domain.MealOverride{{MealID: "snack", Status: domain.OverrideBanked, AdjustedCalories: -400}}
	require.NoError(t, f.store.UpsertOverrides(ctx, userID, today.AddDays(-1), yesterday))
	_, err := f.svc.SkipMeal(ctx, userID, domain.SkipMealInput{MealID: "snack"})
	require.NoError(t, err)

	require.NoError(t, f.svc.CancelBanking(ctx, userID))

	kept, err := f.store.OverridesInRange(ctx, userID, today.AddDays(-7), today.AddDays(7))
	require.NoError(t, err)
	require.Len(t, kept, 1)
	require.Equal(t, today.AddDays(-1), kept[0].Date)

	state, err := f.svc.GetState(ctx, userID, domain.PlanKindDiet)
	require.NoError(t, err)
	require.Equal(t, domain.BankingInactive, state.Banking.State)

	require.ErrorIs(t, f.svc.CancelBanking(ctx, userID), domain.ErrBankingInactive)
}

func TestGetStateExpiresPastEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.SaveFeastConfig(ctx, domain.FeastConfig{
		UserID:             userID,
		EventName:          "Birthday",
		EventDate:          today.AddDays(-1),
		CreatedOn:          today.AddDays(-4),
		DailyDeduction:     250,
		TargetBankCalories: 750,
	}))

	state, err := f.svc.GetState(ctx, userID, domain.PlanKindDiet)
	require.NoError(t, err)
	require.Equal(t, domain.BankingExpired, state.Banking.State)

	cfg, err := f.store.GetFeastConfig(ctx, userID)
	require.NoError(t, err)
	require.Nil(t, cfg)

	// A new window can be activated once the old one expired.
	activate(t, f, today.AddDays(2))
}

func TestWeekScheduleDerivesStatuses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	plan := domain.Plan{ID: "w1", UserID: userID, Kind: domain.PlanKindWorkout, CreatedAt: now.Add(-24 * time.Hour)}
	for i, key := range clock.WeekdayKeys() {
		day := domain.DayPlan{Day: key, Items: []domain.PlanItem{{ID: "squat", Name: "Squat"}, {ID: "row", Name: "Row"}}}
		if i == 2 || i == 6 {
			day = domain.DayPlan{Day: key, IsRest: true}
		}
		plan.Schedule = append(plan.Schedule, day)
	}
	require.NoError(t, f.store.SavePlan(ctx, plan))

	// Anchor on Wednesday; today is Monday.
	f.store.AddLog(domain.ActivityLogEntry{UserID: userID, Kind: domain.PlanKindWorkout, Name: "squat", Date: today})
	f.store.AddLog(domain.ActivityLogEntry{UserID: userID, Kind: domain.PlanKindWorkout, Name: "Squat", Date: today.AddDays(1)})
	f.store.AddLog(domain.ActivityLogEntry{UserID: userID, Kind: domain.PlanKindWorkout, Name: "Row", Date: today.AddDays(1)})

	views, err := f.svc.WeekSchedule(ctx, userID, domain.PlanKindWorkout, today.AddDays(2))
	require.NoError(t, err)
	require.Len(t, views, 7)
	require.Equal(t, today, views[0].Date)
	require.Equal(t, domain.DayIncomplete, views[0].Status)
	require.Equal(t, domain.DayUpcoming, views[1].Status, "future days stay upcoming even when logged")
	require.Equal(t, domain.DayRest, views[2].Status)
	require.Equal(t, domain.DayUpcoming, views[3].Status)
	require.Equal(t, domain.DayRest, views[6].Status)

	f.store.MarkSessionCompleted(userID, today)
	views, err = f.svc.WeekSchedule(ctx, userID, domain.PlanKindWorkout, today)
	require.NoError(t, err)
	require.Equal(t, domain.DayCompleted, views[0].Status)

	lastWeek, err := f.svc.WeekSchedule(ctx, userID, domain.PlanKindWorkout, today.AddDays(-7))
	require.NoError(t, err)
	require.Equal(t, domain.DaySkipped, lastWeek[0].Status)
}

func TestNotifyIfStalePublishesForStaleKinds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedDietPlan(t, now.Add(-time.Hour))
	update := now
	f.store.PutProfile(domain.Profile{UserID: userID, LastPhysicalUpdate: &update, UpdatedAt: update})

	stale, err := f.svc.NotifyIfStale(ctx, userID, domain.PlanKindDiet, domain.PlanKindWorkout)
	require.NoError(t, err)
	require.Equal(t, []domain.PlanKind{domain.PlanKindDiet}, stale)
	require.Equal(t, domain.ReasonPlanStale, f.notes.Changes()[0].Reason)
}
