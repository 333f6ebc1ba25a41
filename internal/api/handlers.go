// Package api exposes the plan engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"cloud.google.com/go/civil"

	"example.com/fittrack/internal/auth"
	"example.com/fittrack/internal/domain"
	"example.com/fittrack/internal/logger"
	"example.com/fittrack/internal/observability"
)

// RefreshFeed streams plan-refresh signals.
type RefreshFeed interface {
	Subscribe(ctx context.Context) <-chan domain.PlanChange
}

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
	feed    RefreshFeed
	log     *logger.Logger
}

// Option configures optional Handler behaviour.
type Option func(*Handler)

// WithRefreshFeed enables GET /v1/events.
func WithRefreshFeed(feed RefreshFeed) Option {
	return func(h *Handler) { h.feed = feed }
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, log *logger.Logger, opts ...Option) *Handler {
	h := &Handler{service: service, log: log.With("component", "api")}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/plans/{kind}", h.getState)
	mux.HandleFunc("GET /v1/plans/{kind}/preview", h.previewRegeneration)
	mux.HandleFunc("POST /v1/plans/{kind}/regenerate", h.regenerate)
	mux.HandleFunc("GET /v1/plans/{kind}/week", h.weekSchedule)
	mux.HandleFunc("POST /v1/banking/proposals", h.proposeBanking)
	mux.HandleFunc("POST /v1/banking", h.activateBanking)
	mux.HandleFunc("DELETE /v1/banking", h.cancelBanking)
	mux.HandleFunc("GET /v1/targets", h.effectiveTargets)
	mux.HandleFunc("POST /v1/meals/skip", h.skipMeal)
	if h.feed != nil {
		mux.HandleFunc("GET /v1/events", h.refreshEvents)
	}
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) getState(w http.ResponseWriter, r *http.Request) {
	userID, ok := authorize(w, r, auth.ScopePlansRead)
	if !ok {
		return
	}
	kind, ok := pathKind(w, r)
	if !ok {
		return
	}

	state, err := h.service.GetState(r.Context(), userID, kind)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) previewRegeneration(w http.ResponseWriter, r *http.Request) {
	userID, ok := authorize(w, r, auth.ScopePlansRead)
	if !ok {
		return
	}
	kind, ok := pathKind(w, r)
	if !ok {
		return
	}

	preview, err := h.service.PreviewRegeneration(r.Context(), userID, kind)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (h *Handler) regenerate(w http.ResponseWriter, r *http.Request) {
	userID, ok := authorize(w, r, auth.ScopePlansWrite)
	if !ok {
		return
	}
	kind, ok := pathKind(w, r)
	if !ok {
		return
	}

	var req RegenerateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	outcome, err := h.service.RequestRegeneration(r.Context(), userID, domain.RegenerationRequest{
		Kind:          kind,
		Adjustment:    req.Adjustment,
		IgnoreHistory: req.IgnoreHistory,
		Action:        domain.Action(req.Action),
	})
	if err != nil {
		observability.RecordRegeneration(string(kind), regenerationFailure(err))
		h.writeDomainError(w, err)
		return
	}
	observability.RecordRegeneration(string(kind), string(outcome.Status))
	writeJSON(w, http.StatusOK, outcome)
}

func regenerationFailure(err error) string {
	switch {
	case errors.Is(err, domain.ErrPartialFailure):
		return "partial_failure"
	case errors.Is(err, domain.ErrBusy):
		return "busy"
	default:
		return "failed"
	}
}

func (h *Handler) weekSchedule(w http.ResponseWriter, r *http.Request) {
	userID, ok := authorize(w, r, auth.ScopePlansRead)
	if !ok {
		return
	}
	kind, ok := pathKind(w, r)
	if !ok {
		return
	}
	anchor, ok := queryDate(w, r, "anchor")
	if !ok {
		return
	}
	if !anchor.IsValid() {
		anchor = h.service.Today()
	}

	days, err := h.service.WeekSchedule(r.Context(), userID, kind, anchor)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WeekResponse{Kind: kind, Days: days})
}

func (h *Handler) proposeBanking(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, auth.ScopePlansWrite); !ok {
		return
	}

	var req ProposeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	proposal, err := h.service.ProposeBanking(r.Context(), domain.ProposeInput{
		EventName:       req.EventName,
		EventDate:       req.EventDate,
		CustomDeduction: req.CustomDeduction,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

func (h *Handler) activateBanking(w http.ResponseWriter, r *http.Request) {
	userID, ok := authorize(w, r, auth.ScopePlansWrite)
	if !ok {
		return
	}

	var req ActivateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	cfg, err := h.service.ActivateBanking(r.Context(), userID, req.Proposal, req.WorkoutBoost)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (h *Handler) cancelBanking(w http.ResponseWriter, r *http.Request) {
	userID, ok := authorize(w, r, auth.ScopePlansWrite)
	if !ok {
		return
	}
	if err := h.service.CancelBanking(r.Context(), userID); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) effectiveTargets(w http.ResponseWriter, r *http.Request) {
	userID, ok := authorize(w, r, auth.ScopePlansRead)
	if !ok {
		return
	}
	date, ok := queryDate(w, r, "date")
	if !ok {
		return
	}

	target, err := h.service.EffectiveTargetsForDate(r.Context(), userID, date)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, target)
}

func (h *Handler) skipMeal(w http.ResponseWriter, r *http.Request) {
	userID, ok := authorize(w, r, auth.ScopePlansWrite)
	if !ok {
		return
	}

	var req SkipMealRequest
	if !decodeBody(w, r, &req) {
		return
	}

	outcome, err := h.service.SkipMeal(r.Context(), userID, domain.SkipMealInput{
		Date:           req.Date,
		MealID:         req.MealID,
		RedistributeTo: req.RedistributeTo,
		IsFeastDay:     req.IsFeastDay,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	observability.RecordMealSkip(string(outcome.Status))
	writeJSON(w, http.StatusOK, outcome)
}

// RegenerateRequest is the payload for POST /v1/plans/{kind}/regenerate.
type RegenerateRequest struct {
	Adjustment    string `json:"adjustment"`
	IgnoreHistory bool   `json:"ignore_history"`
	Action        string `json:"action"`
}

// ProposeRequest is the payload for POST /v1/banking/proposals.
type ProposeRequest struct {
	EventName       string     `json:"event_name"`
	EventDate       civil.Date `json:"event_date"`
	CustomDeduction *int       `json:"custom_deduction,omitempty"`
}

// ActivateRequest is the payload for POST /v1/banking. Proposal is sent back
// exactly as returned by the proposals endpoint.
type ActivateRequest struct {
	Proposal     domain.Proposal `json:"proposal"`
	WorkoutBoost bool            `json:"workout_boost"`
}

// SkipMealRequest is the payload for POST /v1/meals/skip. An omitted date means today.
type SkipMealRequest struct {
	Date           civil.Date `json:"date"`
	MealID         string     `json:"meal_id"`
	RedistributeTo []string   `json:"redistribute_to,omitempty"`
	IsFeastDay     *bool      `json:"is_feast_day,omitempty"`
}

// WeekResponse lists the derived status of each day in a week.
type WeekResponse struct {
	Kind domain.PlanKind  `json:"kind"`
	Days []domain.DayView `json:"days"`
}

func authorize(w http.ResponseWriter, r *http.Request, scope string) (string, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return "", false
	}
	if !claims.HasScope(scope) && !(scope == auth.ScopePlansRead && claims.HasScope(auth.ScopePlansWrite)) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return "", false
	}
	return claims.Subject, true
}

func pathKind(w http.ResponseWriter, r *http.Request) (domain.PlanKind, bool) {
	kind, err := domain.ParsePlanKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return "", false
	}
	return kind, true
}

// queryDate parses an optional YYYY-MM-DD query parameter. A missing value yields the zero Date.
func queryDate(w http.ResponseWriter, r *http.Request, name string) (civil.Date, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return civil.Date{}, true
	}
	date, err := civil.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", name+" must be YYYY-MM-DD")
		return civil.Date{}, false
	}
	return date, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return false
	}
	return true
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var partial *domain.PartialFailureError
	switch {
	case errors.As(err, &partial):
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"type":    "partial_failure",
			"detail":  err.Error(),
			"cleared": string(partial.Cleared),
			"retry":   string(domain.ActionRetry),
		})
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrBusy):
		writeError(w, http.StatusConflict, "busy", err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	default:
		h.log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
