package learnhttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnagent/internal/bias"
	"learnagent/internal/learning"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(ServerConfig{
		Addr: ":0",
		Handlers: &Handlers{
			Orchestrator: learning.NewOrchestrator(nil, 0),
			Biases:       bias.NewStore(nil),
		},
	})
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	rec := doJSON(t, newTestServer(t), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestLearnEmptyHistory(t *testing.T) {
	rec := doJSON(t, newTestServer(t), http.MethodPost, "/api/learning/learn", `{"trade_history":[]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))

	var resp learning.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, learning.StateInsufficientData, resp.LearningState)
}

func TestLearnEchoesCorrelationID(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/learning/learn", strings.NewReader(`{"trade_history":[]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-ID", "corr-42")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, "corr-42", rec.Header().Get("X-Correlation-ID"))
}

func TestMarketRegimeShortHistory(t *testing.T) {
	rec := doJSON(t, newTestServer(t), http.MethodPost, "/api/learning/market-regime", `{"price_history":[]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "undefined")
	assert.Contains(t, rec.Body.String(), "Insufficient data.")
}

func TestUpdateBiasesSingle(t *testing.T) {
	rec := doJSON(t, newTestServer(t), http.MethodPost, "/api/learning/update-biases",
		`{"asset_id":"BTC-USD","bias_delta":{"bull_bias":0.1}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []biasUpdateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "BTC-USD", resp[0].AssetID)
	assert.InDelta(t, 0.1, resp[0].CurrentBias.Bull, 1e-9)
	assert.True(t, resp[0].Updated)
}

func TestUpdateBiasesBatchAndClamp(t *testing.T) {
	srv := newTestServer(t)
	body := `[
		{"asset_id":"BTC-USD","bias_delta":{"bull_bias":0.9}},
		{"asset_id":"BTC-USD","bias_delta":{"bull_bias":0.9}},
		{"asset_id":"ETH-USD","bias_delta":{"vol_bias":-0.2}}
	]`
	rec := doJSON(t, srv, http.MethodPost, "/api/learning/update-biases", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []biasUpdateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 3)
	assert.InDelta(t, 1.0, resp[1].CurrentBias.Bull, 1e-9)
	assert.InDelta(t, -0.2, resp[2].CurrentBias.Vol, 1e-9)
}

func TestUpdateBiasesRejectsEmptyAsset(t *testing.T) {
	rec := doJSON(t, newTestServer(t), http.MethodPost, "/api/learning/update-biases",
		`{"asset_id":"","bias_delta":{"bull_bias":0.1}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetBias(t *testing.T) {
	srv := newTestServer(t)
	doJSON(t, srv, http.MethodPost, "/api/learning/update-biases",
		`{"asset_id":"BTC-USD","bias_delta":{"bear_bias":-0.3}}`)

	rec := doJSON(t, srv, http.MethodGet, "/api/learning/bias?asset_id=BTC-USD", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"bear_bias":-0.3`)

	all := doJSON(t, srv, http.MethodGet, "/api/learning/bias", "")
	require.Equal(t, http.StatusOK, all.Code)
	assert.Contains(t, all.Body.String(), "BTC-USD")
}

func TestEquityChartHTML(t *testing.T) {
	rec := doJSON(t, newTestServer(t), http.MethodPost, "/api/learning/equity-chart",
		`{"asset_id":"BTC-USD","pnl_history":[0.1,-0.05,0.2]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "echarts")
}

func TestRunsWithoutStore(t *testing.T) {
	rec := doJSON(t, newTestServer(t), http.MethodGet, "/api/learning/runs", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
