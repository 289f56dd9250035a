package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmethakanbesel/quotekeeper/internal/extract"
	"github.com/ahmethakanbesel/quotekeeper/internal/job"
	"github.com/ahmethakanbesel/quotekeeper/internal/platform/metrics"
	"github.com/ahmethakanbesel/quotekeeper/internal/platform/sqlite"
	"github.com/ahmethakanbesel/quotekeeper/internal/quote"
	quoterepo "github.com/ahmethakanbesel/quotekeeper/internal/repository/quote"
	runrepo "github.com/ahmethakanbesel/quotekeeper/internal/repository/run"
	"github.com/ahmethakanbesel/quotekeeper/internal/scraper"
	"github.com/ahmethakanbesel/quotekeeper/internal/server"
)

type stubStrategy struct {
	value string
	err   error
}

func (s stubStrategy) Name() string { return "stub" }

func (s stubStrategy) Resolve(context.Context, string) (*scraper.Observation, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &scraper.Observation{
		Value:         decimal.RequireFromString(s.value),
		Change:        decimal.Zero,
		PercentChange: decimal.Zero,
		ObservedAt:    time.Now(),
	}, nil
}

type fixture struct {
	srv    *httptest.Server
	quotes *quote.Service
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	now := time.Date(2026, 10, 15, 18, 0, 0, 0, loc)
	clock := func() time.Time { return now }

	rng := extract.NewRange(20000, 200000)
	registry := scraper.NewRegistry()
	registry.Register(scraper.NewChain("SENSEX", rng, stubStrategy{value: "81234.55"}))
	registry.Register(scraper.NewChain("NIFTY50", rng, stubStrategy{err: errors.New("connection refused")}))

	quotes := quote.NewService(quoterepo.NewRepository(db.DB, quoterepo.WithNow(clock)), registry, []quote.Instrument{
		{Key: "SENSEX", Name: "BSE Sensex", Family: quote.FamilyMarket, Range: rng},
		{Key: "NIFTY50", Name: "NIFTY 50", Family: quote.FamilyMarket, Range: rng},
	}, quote.WithLocation(loc), quote.WithNow(clock))

	runs := runrepo.NewRepository(db.DB)
	sched, err := job.NewScheduler(loc, []job.Definition{{
		Name:   "markets",
		Cron:   "30 16 * * 1-5",
		Target: string(quote.FamilyMarket),
		Task: func(ctx context.Context) (map[string]string, error) {
			return quotes.Refresh(ctx, "SENSEX")
		},
	}}, job.WithNow(clock), job.WithRunRepository(runs), job.WithRecordChecker(quotes))
	require.NoError(t, err)

	srv := httptest.NewServer(server.NewHandler(server.Services{
		Quotes:    quotes,
		Scheduler: sched,
		Runs:      job.NewService(runs),
		Metrics:   metrics.New().Handler(),
	}))
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, quotes: quotes}
}

func (f *fixture) do(t *testing.T, method, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) server.APIResponse[T] {
	t.Helper()
	var out server.APIResponse[T]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	f := setup(t)

	resp := f.do(t, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "ok", decode[map[string]string](t, resp).Data["status"])
}

func TestListInstruments(t *testing.T) {
	f := setup(t)

	resp := f.do(t, http.MethodGet, "/api/v1/instruments")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[[]quote.Instrument](t, resp)
	require.Len(t, body.Data, 2)
	assert.Equal(t, "NIFTY50", body.Data[0].Key)
}

func TestResolveAndLatest(t *testing.T) {
	f := setup(t)

	resp := f.do(t, http.MethodGet, "/api/v1/quotes/SENSEX")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/quotes/sensex/resolve")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var resolved struct {
		Quote      quote.Quote `json:"quote"`
		AnsweredBy string      `json:"answeredBy"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&server.APIResponse[any]{Data: &resolved}))
	assert.Equal(t, "stub", resolved.AnsweredBy)
	assert.Equal(t, "2026-10-15", resolved.Quote.Day)

	resp = f.do(t, http.MethodGet, "/api/v1/quotes/SENSEX")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	latest := decode[quote.Quote](t, resp)
	assert.True(t, latest.Data.Value.Equal(decimal.RequireFromString("81234.55")))
}

func TestResolve_AllSourcesFailed(t *testing.T) {
	f := setup(t)

	resp := f.do(t, http.MethodPost, "/api/v1/quotes/NIFTY50/resolve")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, decode[string](t, resp).Message, "connection refused")
}

func TestResolve_UnknownInstrument(t *testing.T) {
	f := setup(t)

	resp := f.do(t, http.MethodPost, "/api/v1/quotes/DOGE/resolve")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func seedHistory(t *testing.T, f *fixture) {
	t.Helper()
	for day, v := range map[string]string{"2026-10-13": "81000", "2026-10-14": "81500"} {
		_, err := f.quotes.Upsert(context.Background(), "SENSEX", day, scraper.Observation{
			Value:      decimal.RequireFromString(v),
			Source:     "stub",
			ObservedAt: time.Now(),
		})
		require.NoError(t, err)
	}
}

func TestHistory(t *testing.T) {
	f := setup(t)
	seedHistory(t, f)

	resp := f.do(t, http.MethodGet, "/api/v1/quotes/SENSEX/history?from=2026-10-13&to=2026-10-14")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[quote.GetHistoryResponse](t, resp)
	require.Len(t, body.Data.Quotes, 2)
	assert.Equal(t, "2026-10-14", body.Data.Quotes[1].Day)
	assert.True(t, body.Data.Quotes[1].Change.Equal(decimal.NewFromInt(500)))
}

func TestHistory_CSV(t *testing.T) {
	f := setup(t)
	seedHistory(t, f)

	resp := f.do(t, http.MethodGet, "/api/v1/quotes/SENSEX/history?from=2026-10-13&format=csv")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "Entity,Day,Value"))
	assert.True(t, strings.HasPrefix(lines[2], "SENSEX,2026-10-14,81500,500,"), lines[2])
}

func TestHistory_BadRequest(t *testing.T) {
	f := setup(t)

	for _, q := range []string{"", "?from=13-10-2026", "?from=2026-10-14&to=2026-10-13", "?from=2026-10-13&format=xml"} {
		resp := f.do(t, http.MethodGet, "/api/v1/quotes/SENSEX/history"+q)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestScheduler(t *testing.T) {
	f := setup(t)

	resp := f.do(t, http.MethodGet, "/api/v1/scheduler")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := decode[[]job.Entry](t, resp).Data
	require.Len(t, entries, 1)
	assert.Equal(t, "markets", entries[0].Name)
	assert.Equal(t, "Asia/Kolkata", entries[0].Timezone)

	resp = f.do(t, http.MethodPost, "/api/v1/scheduler/unknown/run")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/scheduler/markets/run")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	assert.Eventually(t, func() bool {
		resp := f.do(t, http.MethodGet, "/api/v1/runs?job=markets")
		runs := decode[[]job.Run](t, resp).Data
		return len(runs) == 1 && runs[0].Status == job.StatusSucceeded
	}, 2*time.Second, 20*time.Millisecond)

	resp = f.do(t, http.MethodGet, "/api/v1/runs?job=markets&limit=1")
	run := decode[[]job.Run](t, resp).Data[0]
	assert.Equal(t, "stub", run.Sources["SENSEX"])
}

func TestRuns_BadLimit(t *testing.T) {
	f := setup(t)

	for _, q := range []string{"?limit=abc", "?limit=1000", "?limit=-1"} {
		resp := f.do(t, http.MethodGet, "/api/v1/runs"+q)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestMetricsAndNotFound(t *testing.T) {
	f := setup(t)

	resp := f.do(t, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not found", decode[string](t, resp).Message)
}

func TestRequestIDPropagated(t *testing.T) {
	f := setup(t)

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "abc123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, "abc123", resp.Header.Get("X-Request-ID"))
}
