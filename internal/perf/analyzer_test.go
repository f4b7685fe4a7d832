package perf

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyzeEmpty(t *testing.T) {
	s := Analyze(nil)
	assert.Zero(t, s.TradeCount)
	assert.Zero(t, s.WinRate)
	assert.Zero(t, s.ProfitFactor)
	assert.Zero(t, s.MaxDrawdown)
	assert.Zero(t, s.Volatility)
}

func TestAnalyzeAllWins(t *testing.T) {
	s := Analyze([]float64{0.1, 0.05})
	assert.Equal(t, 2, s.TradeCount)
	assert.InDelta(t, 1.0, s.WinRate, 1e-9)
	assert.True(t, math.IsInf(s.ProfitFactor, 1))
	assert.Zero(t, s.MaxDrawdown)
	assert.InDelta(t, 0.0353553, s.Volatility, 1e-6)
}

func TestAnalyzeAllLosses(t *testing.T) {
	s := Analyze([]float64{-0.02, -0.03})
	assert.Zero(t, s.WinRate)
	assert.Zero(t, s.ProfitFactor)
	assert.Greater(t, s.MaxDrawdown, 0.0)
}

func TestAnalyzeMixed(t *testing.T) {
	s := Analyze([]float64{0.1, -0.05, 0.2, -0.1})
	assert.Equal(t, 4, s.TradeCount)
	assert.InDelta(t, 0.5, s.WinRate, 1e-9)
	assert.InDelta(t, 2.0, s.ProfitFactor, 1e-9)
	assert.InDelta(t, 0.1, s.MaxDrawdown, 1e-9)
	assert.InDelta(t, 10.0, s.DrawdownPct(), 1e-9)
	assert.InDelta(t, 0.1376893, s.Volatility, 1e-6)
}

func TestAnalyzeSingleTradeHasZeroVolatility(t *testing.T) {
	s := Analyze([]float64{0.05})
	assert.Equal(t, 1, s.TradeCount)
	assert.Zero(t, s.Volatility)
}

func TestAnalyzeAllZeroPnls(t *testing.T) {
	s := Analyze([]float64{0, 0, 0})
	assert.Zero(t, s.WinRate)
	assert.Zero(t, s.ProfitFactor)
	assert.Zero(t, s.MaxDrawdown)
}

func TestWindowDrawdown(t *testing.T) {
	assert.InDelta(t, 0.1, WindowDrawdown([]float64{-0.1}), 1e-9)
	assert.Zero(t, WindowDrawdown(nil))
}
