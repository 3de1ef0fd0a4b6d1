package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/atlas-desktop/excursion-lab/internal/api"
	"github.com/atlas-desktop/excursion-lab/internal/data"
	"github.com/atlas-desktop/excursion-lab/internal/events"
	"github.com/atlas-desktop/excursion-lab/internal/metrics"
	"github.com/atlas-desktop/excursion-lab/internal/orchestrator"
	"github.com/atlas-desktop/excursion-lab/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ladderCSV has MAE 10..0 and MFE 0..10
func ladderCSV() string {
	var b strings.Builder
	b.WriteString("MAE,MFE\n")
	for i := 0; i <= 10; i++ {
		fmt.Fprintf(&b, "%d,%d\n", 10-i, i)
	}
	return b.String()
}

type testEnv struct {
	ts  *httptest.Server
	bus *events.EventBus
}

func setupTestServer(t *testing.T, mutate func(cfg *types.ServerConfig)) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	cfg := types.DefaultServerConfig()
	cfg.RequestsPerSecond = 1000
	cfg.Burst = 1000
	if mutate != nil {
		mutate(cfg)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	bus := events.NewEventBus(logger, events.DefaultEventBusConfig())
	hub := api.NewHub(logger)
	hub.RelayEvents(bus)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	defaults := types.DefaultAnalysisConfig()
	defaults.Ruin.NumSimulations = 200
	defaults.Ruin.Seed = 3

	server := api.NewServer(logger, cfg, api.Dependencies{
		Store:    data.NewStore(logger, 8),
		Analyzer: orchestrator.NewAnalyzer(logger, m, bus),
		Bus:      bus,
		Hub:      hub,
		Metrics:  m,
		Gatherer: reg,
		Defaults: defaults,
	})
	ts := httptest.NewServer(server.Handler())

	t.Cleanup(func() {
		ts.Close()
		cancel()
		bus.Stop()
	})
	return &testEnv{ts: ts, bus: bus}
}

func (e *testEnv) upload(t *testing.T, body string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(e.ts.URL+"/api/v1/datasets?name=ladder.csv", "text/csv", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (e *testEnv) uploadLadder(t *testing.T) string {
	t.Helper()
	status, out := e.upload(t, ladderCSV())
	require.Equal(t, http.StatusCreated, status)
	id, ok := out["id"].(string)
	require.True(t, ok)
	return id
}

func (e *testEnv) post(t *testing.T, path string, body interface{}, out interface{}) int {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(e.ts.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	env := setupTestServer(t, nil)

	resp, err := http.Get(env.ts.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var result map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, "healthy", result["status"])
}

func TestDatasetLifecycle(t *testing.T) {
	env := setupTestServer(t, nil)

	status, out := env.upload(t, ladderCSV())
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "ladder.csv", out["name"])
	assert.Equal(t, 11.0, out["trades"])
	assert.Equal(t, 11.0, out["classifiable"])
	id := out["id"].(string)

	resp, err := http.Get(env.ts.URL + "/api/v1/datasets/" + id)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(env.ts.URL + "/api/v1/datasets")
	require.NoError(t, err)
	var list map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	assert.Equal(t, 1.0, list["count"])

	req, err := http.NewRequest(http.MethodDelete, env.ts.URL+"/api/v1/datasets/"+id, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(env.ts.URL + "/api/v1/datasets/" + id)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadRejectsBadCSV(t *testing.T) {
	env := setupTestServer(t, nil)

	status, out := env.upload(t, "Datetime,MAE\n2024-01-01,0.5\n")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, out["error"], "MFE")

	status, _ = env.upload(t, "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestUploadTooLarge(t *testing.T) {
	env := setupTestServer(t, func(cfg *types.ServerConfig) {
		cfg.MaxUploadBytes = 16
	})

	status, _ := env.upload(t, ladderCSV())
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
}

func TestEvaluateEndpoint(t *testing.T) {
	env := setupTestServer(t, nil)
	id := env.uploadLadder(t)

	var out struct {
		Summary types.EvaluationSummary `json:"summary"`
	}
	status := env.post(t, "/api/v1/datasets/"+id+"/evaluate",
		map[string]interface{}{"stopLoss": 1, "takeProfit": 5, "stake": 100}, &out)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 6, out.Summary.WinCount)
	assert.Equal(t, 5, out.Summary.LossCount)
	assert.InDelta(t, 100.0/11.0, out.Summary.ExpectedValue.InexactFloat64(), 1e-9)

	// no trade carries a day label, so the filter leaves nothing to classify
	status = env.post(t, "/api/v1/datasets/"+id+"/evaluate",
		map[string]interface{}{"stopLoss": 1, "takeProfit": 5, "filter": map[string]interface{}{"days": []string{"Monday"}}}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status = env.post(t, "/api/v1/datasets/"+id+"/evaluate",
		map[string]interface{}{"stopLoss": -1, "takeProfit": 5}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = env.post(t, "/api/v1/datasets/unknown/evaluate",
		map[string]interface{}{"stopLoss": 1, "takeProfit": 5}, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestOptimizeEndpoint(t *testing.T) {
	env := setupTestServer(t, nil)
	id := env.uploadLadder(t)

	var out orchestrator.OptimizeResult
	status := env.post(t, "/api/v1/datasets/"+id+"/optimize", map[string]interface{}{}, &out)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, out.Best)
	assert.Equal(t, types.ThresholdPair{StopLoss: 1, TakeProfit: 1}, out.Best.BestPair)
	assert.Equal(t, 81, out.Best.CandidatesEvaluated)
	assert.Len(t, out.Ratios, 3)

	status = env.post(t, "/api/v1/datasets/"+id+"/optimize",
		map[string]interface{}{"filter": map[string]interface{}{"days": []string{"Monday"}}}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status = env.post(t, "/api/v1/datasets/"+id+"/optimize",
		map[string]interface{}{"percentiles": []float64{120}}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestStreaksEndpoint(t *testing.T) {
	env := setupTestServer(t, nil)
	id := env.uploadLadder(t)

	var out struct {
		Streaks types.StreakStats `json:"streaks"`
	}
	status := env.post(t, "/api/v1/datasets/"+id+"/streaks",
		map[string]interface{}{"stopLoss": 1, "takeProfit": 6}, &out)
	require.Equal(t, http.StatusOK, status)
	// MFE 0..5 lose, 6..10 win
	assert.Equal(t, 6, out.Streaks.MaxLossStreak)
	assert.Equal(t, 5, out.Streaks.MaxWinStreak)
	assert.Equal(t, 5, out.Streaks.CurrentStreak)
}

func TestAnalyzeEndpoint(t *testing.T) {
	env := setupTestServer(t, nil)
	id := env.uploadLadder(t)

	var report types.AnalysisReport
	status := env.post(t, "/api/v1/datasets/"+id+"/analyze", map[string]interface{}{
		"pair": map[string]float64{"stopLoss": 2, "takeProfit": 5},
		"ruin": map[string]interface{}{"numSimulations": 300, "seed": 9},
	}, &report)
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, id, report.DatasetID)
	assert.False(t, report.NoOptimum)
	require.NotNil(t, report.Evaluation)
	assert.Equal(t, 6, report.Evaluation.WinCount)
	require.NotNil(t, report.Risk)
	assert.Len(t, report.Risk.Estimates, 2)
	require.NotNil(t, report.Risk.MonteCarlo)
	assert.Equal(t, 300, report.Risk.MonteCarlo.Simulations)
	assert.Equal(t, int64(9), report.Risk.MonteCarlo.Seed)
}

func TestRiskEndpoint(t *testing.T) {
	env := setupTestServer(t, nil)

	var report types.RiskReport
	status := env.post(t, "/api/v1/risk", map[string]interface{}{
		"winRate": 0.6, "rewardToRisk": 2, "numSimulations": 100, "seed": 1,
	}, &report)
	require.Equal(t, http.StatusOK, status)
	assert.InDelta(t, 0.4, report.KellyEdge, 1e-12)
	assert.Len(t, report.Estimates, 2)

	status = env.post(t, "/api/v1/risk", map[string]interface{}{"winRate": 1.5, "rewardToRisk": 2}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = env.post(t, "/api/v1/risk", map[string]interface{}{"winRate": 0.5, "bogus": true}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = env.post(t, "/api/v1/risk", map[string]interface{}{
		"winRate": 0.5, "rewardToRisk": 1, "numSimulations": 1_000_000_000,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = env.post(t, "/api/v1/risk", map[string]interface{}{
		"winRate": 0.5, "rewardToRisk": 1, "numTrades": types.MaxNumTrades + 1,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRateLimit(t *testing.T) {
	env := setupTestServer(t, func(cfg *types.ServerConfig) {
		cfg.RequestsPerSecond = 0.001
		cfg.Burst = 1
	})

	resp, err := http.Get(env.ts.URL + "/api/v1/datasets")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(env.ts.URL + "/api/v1/datasets")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// health sits outside the limiter
	resp, err = http.Get(env.ts.URL + "/api/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestServer(t, nil)
	env.uploadLadder(t)

	resp, err := http.Get(env.ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "excursion_datasets_loaded_total 1")
	assert.Contains(t, string(body), "excursion_trades_loaded_total 11")
}

func TestWebSocketRelaysAnalysisEvents(t *testing.T) {
	env := setupTestServer(t, nil)
	id := env.uploadLadder(t)

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(api.WSMessage{Type: api.MsgTypeSubscribe, Channel: api.ChannelAnalysis}))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ack api.WSMessage
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, api.MsgTypeSubscribed, ack.Type)

	status := env.post(t, "/api/v1/datasets/"+id+"/evaluate",
		map[string]interface{}{"stopLoss": 1, "takeProfit": 5}, nil)
	require.Equal(t, http.StatusOK, status)

	var seen []api.MessageType
	for len(seen) < 2 {
		var msg api.WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == api.MsgTypeHeartbeat {
			continue
		}
		assert.Equal(t, api.ChannelAnalysis, msg.Channel)
		seen = append(seen, msg.Type)
	}
	assert.ElementsMatch(t, []api.MessageType{api.MsgTypeAnalysisStarted, api.MsgTypeAnalysisCompleted}, seen)
}
