// Package oracle calls the external plan generation service.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/fittrack/internal/domain"
	"example.com/fittrack/internal/logger"
	"example.com/fittrack/internal/observability"
)

var _ domain.PlanOracle = (*Client)(nil)

// ErrEmptyPlan is returned when the oracle answers without a schedule.
var ErrEmptyPlan = errors.New("oracle returned an empty schedule")

// Client is an HTTP/JSON PlanOracle.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger
}

// NewClient constructs a Client. A non-positive timeout falls back to 90 seconds.
func NewClient(baseURL string, timeout time.Duration, log *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With("component", "plan_oracle"),
	}
}

type generatedPlan struct {
	PrimaryGoal string           `json:"primary_goal"`
	Schedule    []domain.DayPlan `json:"schedule"`
}

// Generate posts req to /v1/plans/{kind}:generate and returns the generated plan
// without ID or timestamps; the caller stamps those.
func (c *Client) Generate(ctx context.Context, req domain.GenerationRequest) (plan *domain.Plan, err error) {
	start := time.Now()
	defer func() { observability.RecordOracleCall(string(req.Kind), start, err) }()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/v1/plans/%s:generate", c.baseURL, req.Kind)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generate %s plan: %w", req.Kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("oracle %s generator: %w", req.Kind, domain.ErrNotFound)
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		c.log.Warn("plan generation rejected", "kind", req.Kind, "status", resp.StatusCode, "request_id", requestID)
		return nil, fmt.Errorf("generate %s plan: status %d: %s", req.Kind, resp.StatusCode, bytes.TrimSpace(data))
	}

	var out generatedPlan
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode generated plan: %w", err)
	}
	if len(out.Schedule) == 0 {
		return nil, ErrEmptyPlan
	}
	return &domain.Plan{
		UserID:      req.UserID,
		Kind:        req.Kind,
		PrimaryGoal: out.PrimaryGoal,
		Schedule:    out.Schedule,
	}, nil
}
