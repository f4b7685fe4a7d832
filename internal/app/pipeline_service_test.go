package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lacfg "learnagent/internal/config"
	"learnagent/internal/learning"
	"learnagent/internal/market"
	"learnagent/internal/policy"
	"learnagent/internal/types"
)

type fakeSource struct {
	candles []market.Candle
	err     error
	calls   int
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) FetchHistory(_ context.Context, _, _ string, _ int) ([]market.Candle, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.candles, nil
}

type fakeHistory struct {
	trades map[string][]types.Trade
}

func (f *fakeHistory) FetchTrades(_ context.Context, assetID string) ([]types.Trade, error) {
	return f.trades[assetID], nil
}

func winningTrades(asset string, n int) []types.Trade {
	out := make([]types.Trade, 0, n)
	for i := 0; i < n; i++ {
		pnl := decimal.NewFromFloat(0.10)
		out = append(out, types.Trade{
			TradeID:    fmt.Sprintf("%s-%d", asset, i),
			AssetID:    asset,
			Side:       types.SideBuy,
			Quantity:   decimal.NewFromInt(1),
			Price:      decimal.NewFromInt(100),
			ExecutedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour),
			PnLPct:     &pnl,
		})
	}
	return out
}

func writeProfiles(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "learning_profiles.yaml")
	content := `learning_profiles:
  BTC-USD:
    symbol: BTCUSDT
    interval: 1h
    history_limit: 50
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testConfig(t *testing.T, profilesPath string) *lacfg.Config {
	t.Helper()
	dir := t.TempDir()
	return &lacfg.Config{
		App:      lacfg.AppConfig{LogLevel: "error", HTTPAddr: ":0"},
		Manager:  lacfg.ManagerConfig{BaseURL: "http://manager.test", FetchTimeoutSeconds: 1},
		Store:    lacfg.StoreConfig{DBPath: filepath.Join(dir, "learning.db"), CandleCacheDir: filepath.Join(dir, "candles")},
		Learning: lacfg.LearningConfig{ProfilesPath: profilesPath, WindowSize: 10},
		Pipeline: lacfg.PipelineConfig{Enabled: true, Interval: "1h", OffsetSeconds: 1, HistoryLimit: 50},
	}
}

func buildTestApp(t *testing.T, cfg *lacfg.Config, src *fakeSource, hist *fakeHistory) *App {
	t.Helper()
	b := NewAppBuilder(cfg,
		func(b *AppBuilder) {
			b.sourceFn = func(lacfg.MarketConfig) (market.Source, error) { return src, nil }
		},
		func(b *AppBuilder) {
			b.providerFn = func(lacfg.ManagerConfig) learning.HistoryProvider { return hist }
		},
	)
	app, err := b.Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(app.Close)
	return app
}

func TestPipelineRunOnceAppliesBias(t *testing.T) {
	src := &fakeSource{candles: []market.Candle{
		{Timestamp: 1, Open: 100, High: 101, Low: 99, Close: 100, Volume: 1},
	}}
	hist := &fakeHistory{trades: map[string][]types.Trade{
		"BTC-USD": winningTrades("BTC-USD", 12),
	}}
	app := buildTestApp(t, testConfig(t, writeProfiles(t)), src, hist)
	p := app.Pipeline()
	require.NotNil(t, p)

	p.runOnce(context.Background())

	assert.Equal(t, 1, src.calls)
	got := p.biases.Get("BTC-USD")
	assert.InDelta(t, 0.05, got.Bull, 1e-9)
	assert.Zero(t, got.Bear)

	runs, err := app.store.ListRecentRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "success", runs[0].State)
	assert.Contains(t, runs[0].CorrelationID, "pipeline-")
}

func TestPipelineFallsBackToCache(t *testing.T) {
	seed := []market.Candle{{Timestamp: 2, Open: 50, High: 51, Low: 49, Close: 50, Volume: 1}}
	src := &fakeSource{err: fmt.Errorf("rest down")}
	hist := &fakeHistory{trades: map[string][]types.Trade{}}
	app := buildTestApp(t, testConfig(t, writeProfiles(t)), src, hist)
	p := app.Pipeline()
	require.NotNil(t, p)
	require.NotNil(t, p.cache)
	_, err := p.cache.InsertCandles(context.Background(), "BTCUSDT", "1h", seed)
	require.NoError(t, err)

	candles := p.loadCandles(context.Background(), policy.Profile{
		AssetID: "BTC-USD", Symbol: "BTCUSDT", Interval: "1h", HistoryLimit: 50,
	})
	require.Len(t, candles, 1)
	assert.Equal(t, int64(2), candles[0].Timestamp)
}

func TestPipelineDisabledRunReturnsNil(t *testing.T) {
	p := &PipelineService{}
	assert.NoError(t, p.Run(context.Background()))
}

func TestBuildWithoutPipeline(t *testing.T) {
	cfg := testConfig(t, writeProfiles(t))
	cfg.Pipeline.Enabled = false
	src := &fakeSource{}
	app := buildTestApp(t, cfg, src, &fakeHistory{})
	assert.Nil(t, app.Pipeline())
}
