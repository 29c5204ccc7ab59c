package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/snapshots"
	testingpkg "github.com/aristath/rebalancer/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleGetSnapshots(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := snapshots.NewRepository(testingpkg.NewMemoryDB(t, "portfolio"), log)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := repo.Create(ctx, domain.Snapshot{
			Date:  testingpkg.FixtureTime.AddDate(0, 0, i),
			Value: decimal.NewFromInt(int64(1000 + i*10)),
		})
		require.NoError(t, err)
	}

	router := chi.NewRouter()
	router.Route("/api", NewHandler(repo, log).RegisterRoutes)

	req := httptest.NewRequest(http.MethodGet, "/api/portfolio/snapshots?limit=2", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Snapshots []domain.Snapshot `json:"snapshots"`
		Count     int               `json:"count"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Equal(t, 2, body.Count)
	assert.True(t, decimal.NewFromInt(1020).Equal(body.Snapshots[0].Value))
	assert.True(t, body.Snapshots[0].Date.After(body.Snapshots[1].Date))
	assert.WithinDuration(t, testingpkg.FixtureTime.AddDate(0, 0, 2), body.Snapshots[0].Date, time.Second)
}

func TestHandleGetSnapshots_InvalidLimit(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := snapshots.NewRepository(testingpkg.NewMemoryDB(t, "portfolio"), log)

	router := chi.NewRouter()
	router.Route("/api", NewHandler(repo, log).RegisterRoutes)

	req := httptest.NewRequest(http.MethodGet, "/api/portfolio/snapshots?limit=x", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
