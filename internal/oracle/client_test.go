package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/fittrack/internal/domain"
	"example.com/fittrack/internal/logger"
)

func TestGeneratePostsRequestAndDecodesPlan(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/plans/diet:generate", r.URL.Path)
		require.NotEmpty(t, r.Header.Get("X-Request-ID"))

		var req domain.GenerationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "u1", req.UserID)
		require.True(t, req.IgnoreHistory)
		require.Equal(t, []string{"Oats"}, req.PreserveItems)

		_, _ = w.Write([]byte(`{"primary_goal":"cut","schedule":[{"day":"monday","target_calories":2000,"items":[{"id":"b","name":"Oats","calories":400}]}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", time.Second, logger.Nop())
	plan, err := client.Generate(context.Background(), domain.GenerationRequest{
		Kind:          domain.PlanKindDiet,
		UserID:        "u1",
		IgnoreHistory: true,
		PreserveItems: []string{"Oats"},
	})
	require.NoError(t, err)
	require.Equal(t, "u1", plan.UserID)
	require.Equal(t, domain.PlanKindDiet, plan.Kind)
	require.Equal(t, "cut", plan.PrimaryGoal)
	require.Len(t, plan.Schedule, 1)
	require.Equal(t, 2000, plan.Schedule[0].TargetCalories)
	require.Empty(t, plan.ID)
}

func TestGenerateMapsStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "not found",
			status: http.StatusNotFound,
			check:  func(t *testing.T, err error) { require.ErrorIs(t, err, domain.ErrNotFound) },
		},
		{
			name:   "server error",
			status: http.StatusBadGateway,
			body:   "model unavailable",
			check: func(t *testing.T, err error) {
				require.ErrorContains(t, err, "status 502")
				require.ErrorContains(t, err, "model unavailable")
			},
		},
		{
			name:   "empty schedule",
			status: http.StatusOK,
			body:   `{"primary_goal":"cut","schedule":[]}`,
			check:  func(t *testing.T, err error) { require.ErrorIs(t, err, ErrEmptyPlan) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, time.Second, logger.Nop()).Generate(context.Background(), domain.GenerationRequest{Kind: domain.PlanKindWorkout, UserID: "u1"})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestGenerateHonoursTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewClient(srv.URL, 50*time.Millisecond, logger.Nop()).Generate(context.Background(), domain.GenerationRequest{Kind: domain.PlanKindDiet, UserID: "u1"})
	require.Error(t, err)
}
