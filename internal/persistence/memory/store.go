// Package memory implements the engine's gateways in process memory for
// local development and tests.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"example.com/fittrack/internal/domain"
)

var (
	_ domain.ProfileGateway     = (*Store)(nil)
	_ domain.PreferencesGateway = (*Store)(nil)
	_ domain.ActivityLedger     = (*Store)(nil)
	_ domain.PlanStore          = (*Store)(nil)
	_ domain.FeastConfigStore   = (*Store)(nil)
	_ domain.MealOverrideStore  = (*Store)(nil)
)

type planKey struct {
	userID string
	kind   domain.PlanKind
}

// Store holds every gateway's state behind one lock.
type Store struct {
	mu        sync.RWMutex
	profiles  map[string]domain.Profile
	prefs     map[string]domain.WorkoutPreferences
	logs      map[string][]domain.ActivityLogEntry
	sessions  map[string]map[civil.Date]bool
	plans     map[planKey]domain.Plan
	feasts    map[string]domain.FeastConfig
	overrides map[string]map[civil.Date]map[string]domain.MealOverride
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		profiles:  make(map[string]domain.Profile),
		prefs:     make(map[string]domain.WorkoutPreferences),
		logs:      make(map[string][]domain.ActivityLogEntry),
		sessions:  make(map[string]map[civil.Date]bool),
		plans:     make(map[planKey]domain.Plan),
		feasts:    make(map[string]domain.FeastConfig),
		overrides: make(map[string]map[civil.Date]map[string]domain.MealOverride),
	}
}

// PutProfile stores a profile.
func (s *Store) PutProfile(p domain.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
}

// PutPreferences stores workout preferences.
func (s *Store) PutPreferences(p domain.WorkoutPreferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[p.UserID] = p
}

// AddLog appends a ledger entry, assigning an ID when missing.
func (s *Store) AddLog(entry domain.ActivityLogEntry) domain.ActivityLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.LoggedAt.IsZero() {
		entry.LoggedAt = time.Now().UTC()
	}
	s.logs[entry.UserID] = append(s.logs[entry.UserID], entry)
	return entry
}

// MarkSessionCompleted records an explicit workout session for date.
func (s *Store) MarkSessionCompleted(userID string, date civil.Date) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[userID] == nil {
		s.sessions[userID] = make(map[civil.Date]bool)
	}
	s.sessions[userID][date] = true
}

func (s *Store) GetProfile(_ context.Context, userID string) (*domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	return &p, nil
}

func (s *Store) GetPreferences(_ context.Context, userID string) (*domain.WorkoutPreferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prefs[userID]
	if !ok {
		return nil, domain.ErrPreferencesNotFound
	}
	p.Restrictions = slices.Clone(p.Restrictions)
	return &p, nil
}

func (s *Store) ListForDate(_ context.Context, userID string, kind domain.PlanKind, date civil.Date) ([]domain.ActivityLogEntry, error) {
	return s.filterLogs(userID, kind, date, date), nil
}

func (s *Store) ListRange(_ context.Context, userID string, kind domain.PlanKind, from, to civil.Date) ([]domain.ActivityLogEntry, error) {
	return s.filterLogs(userID, kind, from, to), nil
}

func (s *Store) filterLogs(userID string, kind domain.PlanKind, from, to civil.Date) []domain.ActivityLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ActivityLogEntry
	for _, entry := range s.logs[userID] {
		if entry.Kind == kind && !entry.Date.Before(from) && !entry.Date.After(to) {
			out = append(out, entry)
		}
	}
	return out
}

func (s *Store) HasHistory(_ context.Context, userID string, kind domain.PlanKind) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.ContainsFunc(s.logs[userID], func(e domain.ActivityLogEntry) bool { return e.Kind == kind }), nil
}

func (s *Store) CompletedSessions(_ context.Context, userID string, from, to civil.Date) (map[civil.Date]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[civil.Date]bool)
	for date, done := range s.sessions[userID] {
		if done && !date.Before(from) && !date.After(to) {
			out[date] = true
		}
	}
	return out, nil
}

func (s *Store) DeleteForDate(_ context.Context, userID string, kind domain.PlanKind, date civil.Date) error {
	s.deleteLogs(userID, func(e domain.ActivityLogEntry) bool { return e.Kind == kind && e.Date == date })
	if kind == domain.PlanKindWorkout {
		s.mu.Lock()
		delete(s.sessions[userID], date)
		s.mu.Unlock()
	}
	return nil
}

func (s *Store) DeleteAll(_ context.Context, userID string, kind domain.PlanKind) error {
	s.deleteLogs(userID, func(e domain.ActivityLogEntry) bool { return e.Kind == kind })
	if kind == domain.PlanKindWorkout {
		s.mu.Lock()
		delete(s.sessions, userID)
		s.mu.Unlock()
	}
	return nil
}

func (s *Store) Delete(_ context.Context, userID, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.logs[userID])
	s.logs[userID] = slices.DeleteFunc(s.logs[userID], func(e domain.ActivityLogEntry) bool { return e.ID == entryID })
	if len(s.logs[userID]) == before {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) deleteLogs(userID string, match func(domain.ActivityLogEntry) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[userID] = slices.DeleteFunc(s.logs[userID], match)
}

func (s *Store) GetPlan(_ context.Context, userID string, kind domain.PlanKind) (*domain.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plan, ok := s.plans[planKey{userID, kind}]
	if !ok {
		return nil, domain.ErrPlanNotFound
	}
	plan = clonePlan(plan)
	return &plan, nil
}

func (s *Store) SavePlan(_ context.Context, plan domain.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[planKey{plan.UserID, plan.Kind}] = clonePlan(plan)
	return nil
}

func (s *Store) GetFeastConfig(_ context.Context, userID string) (*domain.FeastConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.feasts[userID]
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

func (s *Store) SaveFeastConfig(_ context.Context, cfg domain.FeastConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.feasts[cfg.UserID]; exists {
		return domain.ErrBankingActive
	}
	s.feasts[cfg.UserID] = cfg
	return nil
}

func (s *Store) ClearFeastConfig(_ context.Context, userID string, _ domain.BankingState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.feasts, userID)
	return nil
}

func (s *Store) OverridesForDate(_ context.Context, userID string, date civil.Date) (map[string]domain.MealOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.MealOverride)
	for id, o := range s.overrides[userID][date] {
		out[id] = o
	}
	return out, nil
}

func (s *Store) OverridesInRange(_ context.Context, userID string, from, to civil.Date) ([]domain.MealOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.MealOverride
	for date, byMeal := range s.overrides[userID] {
		if date.Before(from) || date.After(to) {
			continue
		}
		for _, o := range byMeal {
			out = append(out, o)
		}
	}
	slices.SortFunc(out, func(a, b domain.MealOverride) int {
		if a.Date != b.Date {
			if a.Date.Before(b.Date) {
				return -1
			}
			return 1
		}
		switch {
		case a.MealID < b.MealID:
			return -1
		case a.MealID > b.MealID:
			return 1
		}
		return 0
	})
	return out, nil
}

func (s *Store) UpsertOverrides(_ context.Context, userID string, date civil.Date, overrides []domain.MealOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overrides[userID] == nil {
		s.overrides[userID] = make(map[civil.Date]map[string]domain.MealOverride)
	}
	if s.overrides[userID][date] == nil {
		s.overrides[userID][date] = make(map[string]domain.MealOverride)
	}
	for _, o := range overrides {
		o.UserID = userID
		o.Date = date
		s.overrides[userID][date][o.MealID] = o
	}
	return nil
}

func (s *Store) DeleteOverridesFrom(_ context.Context, userID string, from civil.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for date := range s.overrides[userID] {
		if !date.Before(from) {
			delete(s.overrides[userID], date)
		}
	}
	return nil
}

func clonePlan(plan domain.Plan) domain.Plan {
	plan.Schedule = slices.Clone(plan.Schedule)
	for i := range plan.Schedule {
		plan.Schedule[i].Items = slices.Clone(plan.Schedule[i].Items)
	}
	return plan
}
