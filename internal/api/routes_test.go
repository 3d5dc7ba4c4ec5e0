package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/bo-pricewatch/internal/models"
	"github.com/kjannette/bo-pricewatch/internal/portal"
	"github.com/kjannette/bo-pricewatch/internal/reconcile"
	"github.com/kjannette/bo-pricewatch/internal/repository"
)

type fakeScheduler struct{}

func (fakeScheduler) Running() bool                { return true }
func (fakeScheduler) Stats() (int64, int64, int64) { return 3, 1, 0 }

func newTestServer(t *testing.T, apiKey string) (*Server, *repository.MemoryStore, *RunLog) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := repository.NewMemoryStore()
	runs := NewRunLog(2)
	fiat := models.FiatSchema("CRYPTO")
	s := NewServer(store, []models.TableSchema{fiat, models.USDTSchema("USDT")}, runs, fakeScheduler{},
		Options{APIKey: apiKey, Location: time.UTC}, logger)
	return s, store, runs
}

func get(t *testing.T, h http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandleLatestRun(t *testing.T) {
	s, _, runs := newTestServer(t, "")
	h := s.Handler("")

	rr := get(t, h, "/v1/runs/latest", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	runs.Record(reconcile.Summary{
		RunID: "r1", Date: "2026-03-01", Succeeded: true, FiatRows: 4,
		Brands: []portal.BrandOutcome{
			{Brand: "ALPHA", State: portal.StateAuthenticated, Settings: 4},
			{Brand: "BETA", State: portal.StateFailed, Err: models.NewFailure(models.KindAuth, "bad password")},
		},
	})

	rr = get(t, h, "/v1/runs/latest", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var run RunRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &run))
	require.Equal(t, "r1", run.RunID)
	require.True(t, run.Succeeded)
	require.Len(t, run.Brands, 2)
	require.Equal(t, "auth: bad password", run.Brands[1].Error)
}

func TestHandleRuns_KeepsNewestFirst(t *testing.T) {
	s, _, runs := newTestServer(t, "")
	for _, id := range []string{"r1", "r2", "r3"} {
		runs.Record(reconcile.Summary{RunID: id})
	}

	rr := get(t, s.Handler(""), "/v1/runs", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var resp runsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, int64(3), resp.Succeeded)
	require.Len(t, resp.Runs, 2)
	require.Equal(t, "r3", resp.Runs[0].RunID)
	require.Equal(t, "r2", resp.Runs[1].RunID)
}

func TestHandleDeviationsByDay(t *testing.T) {
	s, store, _ := newTestServer(t, "secret")
	ctx := t.Context()
	require.NoError(t, store.EnsureTable(ctx, "CRYPTO", models.FiatHeader))
	require.NoError(t, store.Append(ctx, "CRYPTO", [][]string{
		{"2026-02-28", "ALPHA", "BTC", "BDT", "1", "2", "3", "4.00", "Positive"},
		{"2026-03-01", "ALPHA", "BTC", "BDT", "1", "2", "3", "-1.00", "Negative"},
	}))
	h := s.Handler("")

	rr := get(t, h, "/v1/deviations/CRYPTO/day/2026-03-01", "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = get(t, h, "/v1/deviations/CRYPTO/day/2026-03-01", "secret")
	require.Equal(t, http.StatusOK, rr.Code)
	var rows []map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	require.Equal(t, "Negative", rows[0]["Exchange Rate Sign"])

	rr = get(t, h, "/v1/deviations/CRYPTO/day/2026-3-1", "secret")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = get(t, h, "/v1/deviations/OTHER/day/2026-03-01", "secret")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleDeviationsToday_Empty(t *testing.T) {
	s, _, _ := newTestServer(t, "")

	rr := get(t, s.Handler(""), "/v1/deviations/USDT/today", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, "[]", rr.Body.String())
}

func TestHandleHealth(t *testing.T) {
	s, _, runs := newTestServer(t, "secret")
	runs.Record(reconcile.Summary{RunID: "r1"})

	rr := get(t, s.Handler(""), "/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "running", resp.Services.Scheduler)
	require.Equal(t, "failed", resp.Services.LastRun)
}
