package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentigrade/sentigrade/internal/agent"
	"github.com/sentigrade/sentigrade/internal/persistence"
	"github.com/sentigrade/sentigrade/internal/portfolio"
)

// fakeArchive serves canned records and counts calls.
type fakeArchive struct {
	runs    []persistence.RunRecord
	trades  []persistence.TradeRecord
	cycles  []persistence.CycleRecord
	pingErr error
	failAll bool
}

func (f *fakeArchive) SaveRun(ctx context.Context, run persistence.RunRecord) error { return nil }
func (f *fakeArchive) SaveTrades(ctx context.Context, trades []persistence.TradeRecord) error {
	return nil
}

func (f *fakeArchive) Run(ctx context.Context, runID string) (*persistence.RunRecord, error) {
	if f.failAll {
		return nil, fmt.Errorf("archive down")
	}
	for i := range f.runs {
		if f.runs[i].RunID == runID {
			return &f.runs[i], nil
		}
	}
	return nil, nil
}

func (f *fakeArchive) ListRuns(ctx context.Context, account string, limit int) ([]persistence.RunRecord, error) {
	if f.failAll {
		return nil, fmt.Errorf("archive down")
	}
	return f.runs, nil
}

func (f *fakeArchive) TradesByRun(ctx context.Context, runID string) ([]persistence.TradeRecord, error) {
	return f.trades, nil
}

func (f *fakeArchive) SaveCycle(ctx context.Context, cycle persistence.CycleRecord) error { return nil }

func (f *fakeArchive) RecentCycles(ctx context.Context, account string, limit int) ([]persistence.CycleRecord, error) {
	return f.cycles, nil
}

func (f *fakeArchive) Ping(ctx context.Context) error { return f.pingErr }
func (f *fakeArchive) Close() error                   { return nil }

func getJSON(t *testing.T, server *httptest.Server, path string, out interface{}) *http.Response {
	t.Helper()
	resp, err := server.Client().Get(server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestServer_Health(t *testing.T) {
	server := New(DefaultConfig(), Deps{Version: "1.2.3"})
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	var health healthResponse
	resp := getJSON(t, ts, "/health", &health)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "1.2.3", health.Version)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestServer_HealthDegradedWhenArchiveDown(t *testing.T) {
	archive := &fakeArchive{pingErr: fmt.Errorf("connection refused")}
	server := New(DefaultConfig(), Deps{Archive: archive})
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	var health healthResponse
	resp := getJSON(t, ts, "/health", &health)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "degraded", health.Status)
	assert.Contains(t, health.Checks["archive"], "connection refused")
}

func TestServer_StatusReflectsLastCycle(t *testing.T) {
	metrics := NewMetrics()
	server := New(DefaultConfig(), Deps{
		Metrics: metrics,
		Account: "paper",
		Mode:    "paper",
		Portfolio: func() *portfolio.Portfolio {
			p, _ := portfolio.New("paper", 9000)
			return p
		},
	})

	report := agent.CycleReport{Sequence: 4, Account: "paper", Equity: 10100, Cash: 9000, Submitted: 1}
	server.OnCycle(report)
	metrics.OnCycle(report)
	metrics.OnCycle(agent.CycleReport{Sequence: 5, Err: "price source: timeout"})

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	var status statusResponse
	resp := getJSON(t, ts, "/status", &status)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "paper", status.Account)
	require.NotNil(t, status.LastCycle)
	assert.Equal(t, 4, status.LastCycle.Sequence)
	assert.Equal(t, 1.0, status.Cycles["clean"])
	assert.Equal(t, 1.0, status.Cycles["abandoned"])
	require.NotNil(t, status.Cash)
	assert.Equal(t, 9000.0, *status.Cash)
}

func TestServer_RunsEndpoints(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	archive := &fakeArchive{
		runs: []persistence.RunRecord{{
			RunID: "run-1", Account: "backtest", Start: start, End: start.AddDate(0, 0, 30),
			FinalEquity: 10100, TradeCount: 2,
		}},
		trades: []persistence.TradeRecord{
			{ID: "t-1", RunID: "run-1", Asset: "BTC", Side: "buy"},
			{ID: "t-2", RunID: "run-1", Asset: "BTC", Side: "sell"},
		},
		cycles: []persistence.CycleRecord{{Account: "paper", Sequence: 9}},
	}
	server := New(DefaultConfig(), Deps{Archive: archive, Account: "paper"})
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	var list struct {
		Runs  []persistence.RunRecord `json:"runs"`
		Count int                     `json:"count"`
	}
	resp := getJSON(t, ts, "/runs?limit=5", &list)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "run-1", list.Runs[0].RunID)

	var run persistence.RunRecord
	resp = getJSON(t, ts, "/runs/run-1", &run)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 10100.0, run.FinalEquity)

	resp = getJSON(t, ts, "/runs/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var trades struct {
		RunID  string                    `json:"run_id"`
		Trades []persistence.TradeRecord `json:"trades"`
		Count  int                       `json:"count"`
	}
	resp = getJSON(t, ts, "/runs/run-1/trades", &trades)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, trades.Count)

	var cycles struct {
		Account string                    `json:"account"`
		Cycles  []persistence.CycleRecord `json:"cycles"`
	}
	resp = getJSON(t, ts, "/cycles", &cycles)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "paper", cycles.Account)
	require.Len(t, cycles.Cycles, 1)
	assert.Equal(t, 9, cycles.Cycles[0].Sequence)
}

func TestServer_ArchiveDisabled(t *testing.T) {
	server := New(DefaultConfig(), Deps{})
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	for _, path := range []string{"/runs", "/runs/x", "/runs/x/trades", "/cycles"} {
		resp := getJSON(t, ts, path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, path)
	}
}

func TestServer_ArchiveErrorIs500(t *testing.T) {
	server := New(DefaultConfig(), Deps{Archive: &fakeArchive{failAll: true}})
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp := getJSON(t, ts, "/runs", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestServer_NotFoundIsJSON(t *testing.T) {
	server := New(DefaultConfig(), Deps{})
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	var body map[string]string
	resp := getJSON(t, ts, "/no/such/route", &body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not found", body["error"])
}

func TestServer_RunShutsDownOnCancel(t *testing.T) {
	config := DefaultConfig()
	config.Addr = "127.0.0.1:0"
	server := New(config, Deps{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestQueryLimit(t *testing.T) {
	request := httptest.NewRequest("GET", "/runs?limit=7", nil)
	assert.Equal(t, 7, queryLimit(request, 20))

	request = httptest.NewRequest("GET", "/runs", nil)
	assert.Equal(t, 20, queryLimit(request, 20))

	request = httptest.NewRequest("GET", "/runs?limit=-3", nil)
	assert.Equal(t, 20, queryLimit(request, 20))

	request = httptest.NewRequest("GET", "/runs?limit=99999", nil)
	assert.Equal(t, 20, queryLimit(request, 20))
}
