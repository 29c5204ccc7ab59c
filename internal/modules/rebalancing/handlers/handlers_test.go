package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/rebalancing"
	testingpkg "github.com/aristath/rebalancer/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "cron-secret"

type stubRunner struct {
	result *rebalancing.RunResult
	err    error
	calls  int
}

func (s *stubRunner) Run(context.Context) (*rebalancing.RunResult, error) {
	s.calls++
	return s.result, s.err
}

type stubRuns struct {
	runs      []rebalancing.Run
	err       error
	lastLimit int
}

func (s *stubRuns) GetRecent(_ context.Context, limit int) ([]rebalancing.Run, error) {
	s.lastLimit = limit
	return s.runs, s.err
}

func newRouter(h *Handler) chi.Router {
	router := chi.NewRouter()
	router.Route("/api", h.RegisterRoutes)
	return router
}

func trigger(t *testing.T, router http.Handler, authorization string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/cron/trigger-rebalance", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w, body
}

func TestHandleTriggerRebalance_Unauthorized(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)

	tests := []struct {
		name          string
		secret        string
		authorization string
	}{
		{name: "missing header", secret: testSecret},
		{name: "wrong secret", secret: testSecret, authorization: "Bearer wrong"},
		{name: "wrong scheme", secret: testSecret, authorization: testSecret},
		{name: "no secret configured", secret: "", authorization: "Bearer "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &stubRunner{}
			router := newRouter(NewHandler(runner, &stubRuns{}, tt.secret, log))

			w, body := trigger(t, router, tt.authorization)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, map[string]interface{}{"message": "Unauthorized"}, body)
			assert.Zero(t, runner.calls, "engine must not run without authorization")
		})
	}
}

func TestHandleTriggerRebalance_Success(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	report := domain.NewRebalanceReport()
	report.SoldByStopLoss = []string{"X"}
	report.Bought = []string{"Y"}
	report.Errors = []domain.RebalanceError{{Ticker: "Z", Message: rebalancing.MissingBuyPriceMessage}}

	runner := &stubRunner{result: &rebalancing.RunResult{
		RunID:       "run-1",
		Message:     rebalancing.MessageSuccess,
		Report:      &report,
		SignalCount: 2,
	}}
	router := newRouter(NewHandler(runner, &stubRuns{}, testSecret, log))

	w, body := trigger(t, router, "Bearer "+testSecret)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "Cron job executed successfully.", body["message"])
	assert.Equal(t, "run-1", body["run_id"])

	reportBody, ok := body["report"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"X"}, reportBody["soldByStopLoss"])
	assert.Equal(t, []interface{}{}, reportBody["soldBySignal"])
	assert.Equal(t, []interface{}{"Y"}, reportBody["bought"])
	assert.Equal(t, []interface{}{
		map[string]interface{}{"ticker": "Z", "message": "Could not fetch price for buy order."},
	}, reportBody["errors"])
}

func TestHandleTriggerRebalance_NoPendingSignals(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	runner := &stubRunner{result: &rebalancing.RunResult{RunID: "run-2", Message: rebalancing.MessageNoPendingSignals}}
	router := newRouter(NewHandler(runner, &stubRuns{}, testSecret, log))

	w, body := trigger(t, router, "Bearer "+testSecret)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "No pending signals to process.", body["message"])
	assert.NotContains(t, body, "report")
}

func TestHandleTriggerRebalance_Failure(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	runner := &stubRunner{err: errors.New("rebalance failed: price lookup failed")}
	router := newRouter(NewHandler(runner, &stubRuns{}, testSecret, log))

	w, body := trigger(t, router, "Bearer "+testSecret)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Cron job failed.", body["message"])
	assert.Equal(t, "rebalance failed: price lookup failed", body["error"])
}

func TestHandleTriggerRebalance_InProgress(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	runner := &stubRunner{err: rebalancing.ErrRebalanceInProgress}
	router := newRouter(NewHandler(runner, &stubRuns{}, testSecret, log))

	w, body := trigger(t, router, "Bearer "+testSecret)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, InProgressMessage, body["message"])
}

func TestHandleGetRuns(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	runs := &stubRuns{runs: []rebalancing.Run{
		{ID: "b", Status: rebalancing.RunStatusSkipped, StartedAt: testingpkg.FixtureTime},
		{ID: "a", Status: rebalancing.RunStatusSuccess, StartedAt: testingpkg.FixtureTime, SignalCount: 3},
	}}
	router := newRouter(NewHandler(&stubRunner{}, runs, testSecret, log))

	req := httptest.NewRequest(http.MethodGet, "/api/rebalance/runs?limit=5", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, runs.lastLimit)

	var body struct {
		Runs  []rebalancing.Run `json:"runs"`
		Count int               `json:"count"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "b", body.Runs[0].ID)
	assert.Equal(t, rebalancing.RunStatusSuccess, body.Runs[1].Status)
}

func TestHandleGetRuns_Errors(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)

	router := newRouter(NewHandler(&stubRunner{}, &stubRuns{}, testSecret, log))
	req := httptest.NewRequest(http.MethodGet, "/api/rebalance/runs?limit=abc", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	router = newRouter(NewHandler(&stubRunner{}, &stubRuns{err: errors.New("db closed")}, testSecret, log))
	req = httptest.NewRequest(http.MethodGet, "/api/rebalance/runs", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
