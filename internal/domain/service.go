// Package domain defines the plan lifecycle and calorie banking engine.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"example.com/fittrack/internal/clock"
	"example.com/fittrack/internal/logger"
)

// Refresh reasons published through RefreshNotifier.
const (
	ReasonRegenerated    = "plan_regenerated"
	ReasonFeastActivated = "feast_activated"
	ReasonFeastCancelled = "feast_cancelled"
	ReasonFeastExpired   = "feast_expired"
	ReasonMealSkipped    = "meal_skipped"
	ReasonPlanStale      = "plan_stale"
)

// Dependencies are the collaborators a Service coordinates.
type Dependencies struct {
	Profiles    ProfileGateway
	Preferences PreferencesGateway
	Ledger      ActivityLedger
	Oracle      PlanOracle
	Plans       PlanStore
	Feasts      FeastConfigStore
	Overrides   MealOverrideStore
	Guard       Guard
	Notifier    RefreshNotifier
	Window      clock.DateWindow
	Policy      BankingPolicy
	Logger      *logger.Logger
}

// Service orchestrates plan lifecycle workflows.
type Service struct {
	profiles  ProfileGateway
	prefs     PreferencesGateway
	ledger    ActivityLedger
	oracle    PlanOracle
	plans     PlanStore
	feasts    FeastConfigStore
	overrides MealOverrideStore
	guard     Guard
	notifier  RefreshNotifier
	window    clock.DateWindow
	policy    BankingPolicy
	log       *logger.Logger
}

// NewService constructs a Service.
func NewService(deps Dependencies) *Service {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		profiles:  deps.Profiles,
		prefs:     deps.Preferences,
		ledger:    deps.Ledger,
		oracle:    deps.Oracle,
		plans:     deps.Plans,
		feasts:    deps.Feasts,
		overrides: deps.Overrides,
		guard:     deps.Guard,
		notifier:  deps.Notifier,
		window:    deps.Window,
		policy:    deps.Policy,
		log:       log.With("component", "plan_service"),
	}
}

// Today is the current calendar day in the configured location.
func (s *Service) Today() civil.Date {
	return s.window.Today()
}

// BankingSummary describes the user's banking window as of today.
type BankingSummary struct {
	State         BankingState `json:"state"`
	Config        *FeastConfig `json:"config,omitempty"`
	DaysRemaining int          `json:"days_remaining"`
	Today         *DayTarget   `json:"today,omitempty"`
}

// State is what GetState reports.
type State struct {
	Plan    *Plan          `json:"plan"`
	IsStale bool           `json:"is_stale"`
	Banking BankingSummary `json:"banking"`
}

// GetState composes the current plan, its freshness and the banking status.
// An expired FeastConfig is cleared here.
func (s *Service) GetState(ctx context.Context, userID string, kind PlanKind) (*State, error) {
	if !kind.Valid() {
		return nil, invalid("kind", "must be diet or workout")
	}
	plan, err := s.optionalPlan(ctx, userID, kind)
	if err != nil {
		return nil, err
	}
	profile, prefs, err := s.freshnessInputs(ctx, userID, kind)
	if err != nil {
		return nil, err
	}

	state := &State{Plan: plan, IsStale: EvaluateFreshness(plan, profile, prefs)}
	today := s.window.Today()
	cfg, status, err := s.currentFeast(ctx, userID, today)
	if err != nil {
		return nil, err
	}
	state.Banking = BankingSummary{State: status, Config: cfg}
	if status == BankingActive {
		state.Banking.DaysRemaining = clock.DaysBetween(today, cfg.EventDate)
		if kind == PlanKindDiet && plan != nil {
			target, err := s.targetFor(ctx, userID, plan, cfg, today)
			if err != nil {
				return nil, err
			}
			state.Banking.Today = &target
		}
	}
	return state, nil
}

// IsStale reports whether the user's plan of kind predates their latest profile change.
// Missing plans or profiles yield false.
func (s *Service) IsStale(ctx context.Context, userID string, kind PlanKind) (bool, error) {
	plan, err := s.optionalPlan(ctx, userID, kind)
	if err != nil || plan == nil {
		return false, err
	}
	profile, prefs, err := s.freshnessInputs(ctx, userID, kind)
	if err != nil {
		return false, err
	}
	return EvaluateFreshness(plan, profile, prefs), nil
}

// Preview is the conflict situation a regeneration would face right now.
type Preview struct {
	Kind        PlanKind  `json:"kind"`
	Situation   Situation `json:"situation"`
	Options     []Action  `json:"options"`
	LoggedToday []string  `json:"logged_today,omitempty"`
}

// PreviewRegeneration inspects logged activity without side effects.
func (s *Service) PreviewRegeneration(ctx context.Context, userID string, kind PlanKind) (*Preview, error) {
	if !kind.Valid() {
		return nil, invalid("kind", "must be diet or workout")
	}
	todayLogs, anyHistory, err := s.activitySnapshot(ctx, userID, kind)
	if err != nil {
		return nil, err
	}
	situation, options := ConflictOptions(len(todayLogs), anyHistory)
	return &Preview{Kind: kind, Situation: situation, Options: options, LoggedToday: LoggedNames(todayLogs)}, nil
}

// RegenerationRequest captures a caller's regeneration request.
type RegenerationRequest struct {
	Kind          PlanKind
	Adjustment    string
	IgnoreHistory bool
	Action        Action
}

// RegenerationStatus is the outcome class of RequestRegeneration.
type RegenerationStatus string

const (
	RegenerationGenerated      RegenerationStatus = "generated"
	RegenerationChoiceRequired RegenerationStatus = "choice_required"
	RegenerationCancelled      RegenerationStatus = "cancelled"
)

// RegenerationOutcome reports what RequestRegeneration did.
type RegenerationOutcome struct {
	Status    RegenerationStatus `json:"status"`
	Situation Situation          `json:"situation"`
	Options   []Action           `json:"options,omitempty"`
	Action    Action             `json:"action,omitempty"`
	Cleared   ClearScope         `json:"cleared"`
	Plan      *Plan              `json:"plan,omitempty"`
}

// RequestRegeneration resolves conflicts with logged activity, clears logs only
// when the caller chose a clearing action, and replaces the plan. A second
// request for the same user while one is running fails with ErrBusy.
func (s *Service) RequestRegeneration(ctx context.Context, userID string, req RegenerationRequest) (*RegenerationOutcome, error) {
	if !req.Kind.Valid() {
		return nil, invalid("kind", "must be diet or workout")
	}
	requestedAt := s.window.Now()

	release, err := s.guard.Acquire(ctx, "regenerate:"+userID)
	if err != nil {
		return nil, err
	}
	defer release()

	pending := PendingRegeneration{
		Kind:          req.Kind,
		UserID:        userID,
		Adjustment:    req.Adjustment,
		IgnoreHistory: req.IgnoreHistory,
	}
	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, requiredLookup(err, ErrProfileNotFound)
	}
	pending.Profile = *profile
	if req.Kind == PlanKindWorkout {
		prefs, err := s.prefs.GetPreferences(ctx, userID)
		if err != nil {
			return nil, requiredLookup(err, ErrPreferencesNotFound)
		}
		pending.Preferences = prefs
	}

	today := s.window.DateOf(requestedAt)
	var todayLogs []ActivityLogEntry
	anyHistory := false
	if req.Action != ActionRetry {
		todayLogs, anyHistory, err = s.activitySnapshot(ctx, userID, req.Kind)
		if err != nil {
			return nil, err
		}
	}

	res, err := ResolveConflict(pending, todayLogs, anyHistory, req.Action)
	if err != nil {
		return nil, err
	}
	outcome := &RegenerationOutcome{Situation: res.Situation, Action: res.Action, Cleared: ClearNone}
	if res.NeedsChoice {
		outcome.Status = RegenerationChoiceRequired
		outcome.Options = res.Options
		return outcome, nil
	}
	if !res.Submit {
		outcome.Status = RegenerationCancelled
		return outcome, nil
	}

	log := s.log.With("user_id", userID, "kind", req.Kind, "action", res.Action)
	switch res.Clear {
	case ClearToday:
		if err := s.ledger.DeleteForDate(ctx, userID, req.Kind, today); err != nil {
			return nil, fmt.Errorf("clear today's %s logs: %w", req.Kind, err)
		}
		log.Info("cleared logs for today", "date", today.String())
	case ClearHistory:
		if err := s.ledger.DeleteAll(ctx, userID, req.Kind); err != nil {
			return nil, fmt.Errorf("clear %s history: %w", req.Kind, err)
		}
		log.Info("cleared log history")
	}
	outcome.Cleared = res.Clear

	plan, err := s.oracle.Generate(ctx, res.Request)
	if err == nil && plan == nil {
		err = errors.New("oracle returned no plan")
	}
	if err != nil {
		return nil, s.generationFailure(log, res.Clear, req.Kind, fmt.Errorf("generate %s plan: %w", req.Kind, err))
	}

	stamped := stampPlan(*plan, userID, req.Kind, requestedAt)
	if err := s.plans.SavePlan(ctx, stamped); err != nil {
		return nil, s.generationFailure(log, res.Clear, req.Kind, fmt.Errorf("save %s plan: %w", req.Kind, err))
	}
	log.Info("plan regenerated", "plan_id", stamped.ID)
	s.publish(ctx, PlanChange{UserID: userID, Kind: req.Kind, Reason: ReasonRegenerated})

	outcome.Status = RegenerationGenerated
	outcome.Plan = &stamped
	return outcome, nil
}

func (s *Service) generationFailure(log *logger.Logger, cleared ClearScope, kind PlanKind, err error) error {
	if cleared == ClearNone {
		return err
	}
	log.Error("logs cleared but generation failed", "cleared", cleared, "error", err)
	return &PartialFailureError{Cleared: cleared, Kind: kind, Err: err}
}

// stampPlan fixes ownership and timestamps so CreatedAt never postdates the request.
func stampPlan(plan Plan, userID string, kind PlanKind, requestedAt time.Time) Plan {
	plan.UserID = userID
	plan.Kind = kind
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	plan.CreatedAt = requestedAt
	plan.UpdatedAt = requestedAt
	return plan
}

// ProposeInput is the caller's banking proposal request.
type ProposeInput struct {
	EventName       string
	EventDate       civil.Date
	CustomDeduction *int
}

// ProposeBanking computes a proposal. Nothing is persisted.
func (s *Service) ProposeBanking(_ context.Context, in ProposeInput) (Proposal, error) {
	return s.policy.Propose(s.window.Today(), in.EventName, in.EventDate, in.CustomDeduction)
}

// ActivateBanking persists the proposal as the user's FeastConfig.
func (s *Service) ActivateBanking(ctx context.Context, userID string, proposal Proposal, workoutBoost bool) (*FeastConfig, error) {
	release, err := s.guard.Acquire(ctx, "activate:"+userID)
	if err != nil {
		return nil, err
	}
	defer release()

	today := s.window.Today()
	if err := proposal.Validate(today); err != nil {
		return nil, err
	}
	if _, status, err := s.currentFeast(ctx, userID, today); err != nil {
		return nil, err
	} else if status == BankingActive {
		return nil, ErrBankingActive
	}

	cfg := proposal.FeastConfig(userID, workoutBoost, s.window.Now())
	if err := s.feasts.SaveFeastConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("save feast config: %w", err)
	}
	s.log.Info("feast mode activated", "user_id", userID, "event_date", cfg.EventDate.String(), "daily_deduction", cfg.DailyDeduction)
	s.publish(ctx, PlanChange{UserID: userID, Kind: PlanKindDiet, Reason: ReasonFeastActivated})
	return &cfg, nil
}

// CancelBanking discards the FeastConfig and every override dated today or later.
func (s *Service) CancelBanking(ctx context.Context, userID string) error {
	today := s.window.Today()
	cfg, status, err := s.currentFeast(ctx, userID, today)
	if err != nil {
		return err
	}
	if cfg == nil || status != BankingActive {
		return ErrBankingInactive
	}
	if err := s.overrides.DeleteOverridesFrom(ctx, userID, today); err != nil {
		return fmt.Errorf("delete overrides from %s: %w", today, err)
	}
	if err := s.feasts.ClearFeastConfig(ctx, userID, BankingCancelled); err != nil {
		return fmt.Errorf("clear feast config: %w", err)
	}
	s.log.Info("feast mode cancelled", "user_id", userID)
	s.publish(ctx, PlanChange{UserID: userID, Kind: PlanKindDiet, Reason: ReasonFeastCancelled})
	return nil
}

// EffectiveTargetsForDate returns the day's calorie target and meal targets after banking and overrides.
func (s *Service) EffectiveTargetsForDate(ctx context.Context, userID string, date civil.Date) (*DayTarget, error) {
	if !date.IsValid() {
		date = s.window.Today()
	}
	plan, err := s.requiredPlan(ctx, userID, PlanKindDiet)
	if err != nil {
		return nil, err
	}
	cfg, err := s.feasts.GetFeastConfig(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load feast config: %w", err)
	}
	target, err := s.targetFor(ctx, userID, plan, cfg, date)
	if err != nil {
		return nil, err
	}
	return &target, nil
}

// SkipMealInput is a meal-skip request. A zero Date means today; a nil
// IsFeastDay is derived from the active FeastConfig.
type SkipMealInput struct {
	Date           civil.Date
	MealID         string
	RedistributeTo []string
	IsFeastDay     *bool
}

// SkipMeal records a skipped meal and banks or redistributes its calories.
func (s *Service) SkipMeal(ctx context.Context, userID string, in SkipMealInput) (*SkipOutcome, error) {
	today := s.window.Today()
	date := in.Date
	if !date.IsValid() {
		date = today
	}
	if date.Before(today) {
		return nil, invalid("date", "is in the past")
	}
	if strings.TrimSpace(in.MealID) == "" {
		return nil, invalid("meal_id", "is required")
	}

	release, err := s.guard.Acquire(ctx, "overrides:"+userID)
	if err != nil {
		return nil, err
	}
	defer release()

	plan, err := s.requiredPlan(ctx, userID, PlanKindDiet)
	if err != nil {
		return nil, err
	}
	day, ok := plan.DayFor(date)
	if !ok || day.IsRest {
		return nil, invalid("date", "has no planned meals")
	}

	cfg, status, err := s.currentFeast(ctx, userID, today)
	if err != nil {
		return nil, err
	}
	inWindow := status == BankingActive && cfg.Covers(date)
	isFeastDay := inWindow && date == cfg.EventDate
	if in.IsFeastDay != nil {
		isFeastDay = *in.IsFeastDay
	}

	overrides, err := s.overrides.OverridesForDate(ctx, userID, date)
	if err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}
	logged, err := s.ledger.ListForDate(ctx, userID, PlanKindDiet, date)
	if err != nil {
		return nil, fmt.Errorf("list meal logs: %w", err)
	}

	out, err := PlanSkip(SkipInput{
		UserID:         userID,
		Date:           date,
		Day:            day,
		Overrides:      overrides,
		Logged:         logged,
		MealID:         in.MealID,
		RedistributeTo: in.RedistributeTo,
		IsFeastDay:     isFeastDay,
		BankingActive:  inWindow && date.Before(cfg.EventDate),
		Now:            s.window.Now(),
	})
	if err != nil {
		return nil, err
	}
	if err := s.overrides.UpsertOverrides(ctx, userID, date, out.Overrides); err != nil {
		return nil, fmt.Errorf("save overrides: %w", err)
	}
	s.log.Info("meal skipped", "user_id", userID, "meal_id", in.MealID, "date", date.String(), "status", out.Status, "calories", out.Calories)
	s.publish(ctx, PlanChange{UserID: userID, Kind: PlanKindDiet, Reason: ReasonMealSkipped, Date: date.String()})
	return &out, nil
}

// DayView is one day of a week schedule.
type DayView struct {
	Date    civil.Date `json:"date"`
	Day     string     `json:"day"`
	Status  DayStatus  `json:"status"`
	Logged  int        `json:"logged"`
	Planned int        `json:"planned"`
	Items   []PlanItem `json:"items,omitempty"`
}

// WeekSchedule derives day statuses for the Monday-Sunday week containing anchor.
func (s *Service) WeekSchedule(ctx context.Context, userID string, kind PlanKind, anchor civil.Date) ([]DayView, error) {
	if !kind.Valid() {
		return nil, invalid("kind", "must be diet or workout")
	}
	today := s.window.Today()
	if !anchor.IsValid() {
		anchor = today
	}
	plan, err := s.requiredPlan(ctx, userID, kind)
	if err != nil {
		return nil, err
	}

	dates := clock.WeekOf(anchor)
	from, to := dates[0], dates[len(dates)-1]
	entries, err := s.ledger.ListRange(ctx, userID, kind, from, to)
	if err != nil {
		return nil, fmt.Errorf("list %s logs: %w", kind, err)
	}
	byDate := make(map[civil.Date][]ActivityLogEntry, len(dates))
	for _, entry := range entries {
		byDate[entry.Date] = append(byDate[entry.Date], entry)
	}
	var sessions map[civil.Date]bool
	if kind == PlanKindWorkout {
		if sessions, err = s.ledger.CompletedSessions(ctx, userID, from, to); err != nil {
			return nil, fmt.Errorf("list completed sessions: %w", err)
		}
	}

	views := make([]DayView, 0, len(dates))
	for _, date := range dates {
		day, ok := plan.DayFor(date)
		if !ok {
			day = DayPlan{Day: clock.WeekdayKey(date)}
		}
		view := DayView{Date: date, Day: clock.WeekdayKey(date), Items: day.Items}
		if !day.IsRest {
			view.Planned = DistinctItemCount(day)
			view.Logged = CountLogged(day, byDate[date])
		}
		view.Status = DeriveDayStatus(DayInput{
			Plan:             day,
			Date:             date,
			Today:            today,
			LoggedCount:      view.Logged,
			TotalCount:       view.Planned,
			SessionCompleted: sessions[date],
		})
		views = append(views, view)
	}
	return views, nil
}

// NotifyIfStale publishes a refresh signal for every plan kind that went stale.
// It returns the kinds that were stale.
func (s *Service) NotifyIfStale(ctx context.Context, userID string, kinds ...PlanKind) ([]PlanKind, error) {
	var stale []PlanKind
	for _, kind := range kinds {
		isStale, err := s.IsStale(ctx, userID, kind)
		if err != nil {
			return stale, err
		}
		if !isStale {
			continue
		}
		stale = append(stale, kind)
		s.publish(ctx, PlanChange{UserID: userID, Kind: kind, Reason: ReasonPlanStale})
	}
	return stale, nil
}

func (s *Service) targetFor(ctx context.Context, userID string, plan *Plan, cfg *FeastConfig, date civil.Date) (DayTarget, error) {
	day, _ := plan.DayFor(date)
	bankedExtra := 0
	if cfg != nil && date == cfg.EventDate && cfg.EventDate.After(cfg.CreatedOn) {
		window, err := s.overrides.OverridesInRange(ctx, userID, cfg.CreatedOn, cfg.EventDate.AddDays(-1))
		if err != nil {
			return DayTarget{}, fmt.Errorf("load banked overrides: %w", err)
		}
		bankedExtra = BankedExtra(cfg, window)
	}
	target := EffectiveTarget(cfg, date, day.Baseline(), bankedExtra)

	overrides, err := s.overrides.OverridesForDate(ctx, userID, date)
	if err != nil {
		return DayTarget{}, fmt.Errorf("load overrides: %w", err)
	}
	target.Meals = MealTargets(day, overrides)
	return target, nil
}

// currentFeast loads the FeastConfig and clears it once the event has passed.
func (s *Service) currentFeast(ctx context.Context, userID string, today civil.Date) (*FeastConfig, BankingState, error) {
	cfg, err := s.feasts.GetFeastConfig(ctx, userID)
	if err != nil {
		return nil, "", fmt.Errorf("load feast config: %w", err)
	}
	status := BankingStatus(cfg, today)
	if status == BankingExpired {
		if err := s.feasts.ClearFeastConfig(ctx, userID, BankingExpired); err != nil {
			return nil, "", fmt.Errorf("expire feast config: %w", err)
		}
		s.log.Info("feast mode expired", "user_id", userID, "event_date", cfg.EventDate.String())
		s.publish(ctx, PlanChange{UserID: userID, Kind: PlanKindDiet, Reason: ReasonFeastExpired})
	}
	return cfg, status, nil
}

func (s *Service) activitySnapshot(ctx context.Context, userID string, kind PlanKind) ([]ActivityLogEntry, bool, error) {
	todayLogs, err := s.ledger.ListForDate(ctx, userID, kind, s.window.Today())
	if err != nil {
		return nil, false, fmt.Errorf("list today's %s logs: %w", kind, err)
	}
	if len(todayLogs) > 0 {
		return todayLogs, true, nil
	}
	anyHistory, err := s.ledger.HasHistory(ctx, userID, kind)
	if err != nil {
		s.log.Warn("history probe failed, assuming none", "user_id", userID, "kind", kind, "error", err)
		return todayLogs, false, nil
	}
	return todayLogs, anyHistory, nil
}

func (s *Service) freshnessInputs(ctx context.Context, userID string, kind PlanKind) (*Profile, *WorkoutPreferences, error) {
	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, nil, fmt.Errorf("load profile: %w", err)
		}
		profile = nil
	}
	if kind != PlanKindWorkout {
		return profile, nil, nil
	}
	prefs, err := s.prefs.GetPreferences(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, nil, fmt.Errorf("load preferences: %w", err)
		}
		prefs = nil
	}
	return profile, prefs, nil
}

func (s *Service) optionalPlan(ctx context.Context, userID string, kind PlanKind) (*Plan, error) {
	plan, err := s.plans.GetPlan(ctx, userID, kind)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s plan: %w", kind, err)
	}
	return plan, nil
}

func (s *Service) requiredPlan(ctx context.Context, userID string, kind PlanKind) (*Plan, error) {
	plan, err := s.plans.GetPlan(ctx, userID, kind)
	if err != nil {
		return nil, requiredLookup(err, ErrPlanNotFound)
	}
	return plan, nil
}

func (s *Service) publish(ctx context.Context, change PlanChange) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.PlanChanged(ctx, change); err != nil {
		s.log.Warn("plan refresh signal failed", "user_id", change.UserID, "reason", change.Reason, "error", err)
	}
}

func requiredLookup(err, notFound error) error {
	if errors.Is(err, ErrNotFound) {
		return notFound
	}
	return err
}
