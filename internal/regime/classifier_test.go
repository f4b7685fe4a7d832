package regime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnagent/internal/analysis/indicator"
	"learnagent/internal/market"
)

func baseSnapshot() indicator.RegimeSnapshot {
	return indicator.RegimeSnapshot{
		LastClose:     100,
		CloseMean:     100,
		TrendAvg:      100,
		TrendStrength: 20,
		StrengthPrev5: 20,
		Slope:         0.1,
		SlopePrev3:    0.1,
		VolRatio:      1.0,
	}
}

func rampCandles(n int) []market.Candle {
	candles := make([]market.Candle, n)
	for i := range candles {
		close := 100 + float64(i)*0.1
		candles[i] = market.Candle{
			Timestamp: int64(i) * 86_400_000,
			Open:      close,
			High:      close + 1,
			Low:       close - 1,
			Close:     close,
			Volume:    1000,
		}
	}
	return candles
}

func TestClassifyStrongUptrend(t *testing.T) {
	snap := baseSnapshot()
	snap.LastClose = 110
	snap.TrendStrength = 30
	snap.Slope = 1.5

	result := classifyFromSnapshot(snap)
	require.Equal(t, Uptrend, result.Regime)
	assert.InDelta(t, 0.6, result.Confidence, 1e-9)
	assert.Contains(t, result.Explanation, "Final regime is 'uptrend'")
}

func TestClassifyStrongDowntrend(t *testing.T) {
	snap := baseSnapshot()
	snap.LastClose = 90
	snap.TrendStrength = 30
	snap.Slope = -1.5

	result := classifyFromSnapshot(snap)
	require.Equal(t, Downtrend, result.Regime)
	assert.InDelta(t, 0.6, result.Confidence, 1e-9)
	assert.Contains(t, result.Explanation, "Final regime is 'downtrend'")
}

func TestClassifyRanging(t *testing.T) {
	snap := baseSnapshot()
	snap.LastClose = 100.1
	snap.TrendStrength = 15
	snap.Slope = 0.01

	result := classifyFromSnapshot(snap)
	require.Equal(t, Ranging, result.Regime)
	assert.InDelta(t, 0.4, result.Confidence, 1e-9)
	assert.Contains(t, result.Explanation, "Final regime is 'ranging'")
}

func TestClassifyVolatileOverride(t *testing.T) {
	snap := baseSnapshot()
	snap.VolRatio = 2.0
	snap.TrendStrength = 30

	result := classifyFromSnapshot(snap)
	require.Equal(t, Volatile, result.Regime)
	assert.InDelta(t, 1.0, result.Confidence, 1e-9)
	assert.Contains(t, result.Explanation, "Volatility override was triggered")
}

func TestClassifyAccelerationAloneStaysUndefined(t *testing.T) {
	snap := baseSnapshot()
	snap.TrendStrength = 25
	snap.StrengthPrev5 = 19

	result := classifyFromSnapshot(snap)
	require.Equal(t, Undefined, result.Regime)
	assert.Contains(t, result.Explanation, "Volatile=0.30")
}

func TestClassifyDefinedAtWinningScoreThreshold(t *testing.T) {
	snap := baseSnapshot()
	snap.LastClose = 101
	snap.TrendStrength = 22

	result := classifyFromSnapshot(snap)
	require.Equal(t, Uptrend, result.Regime)
	assert.Contains(t, result.Explanation, "Final regime is 'uptrend'")
}

func TestClassifyUndefinedLowConfidence(t *testing.T) {
	snap := baseSnapshot()
	snap.LastClose = 100.2
	snap.TrendStrength = 22
	snap.Slope = 0.01

	result := classifyFromSnapshot(snap)
	require.Equal(t, Undefined, result.Regime)
	assert.Contains(t, result.Explanation, "confidence was < 0.15")
}

func TestClassifyExplanationEnumeratesAllScores(t *testing.T) {
	result := classifyFromSnapshot(baseSnapshot())
	assert.Contains(t, result.Explanation, "Uptrend=")
	assert.Contains(t, result.Explanation, "Downtrend=")
	assert.Contains(t, result.Explanation, "Ranging=")
	assert.Contains(t, result.Explanation, "Volatile=")
}

func TestClassifyInsufficientData(t *testing.T) {
	result := Classify(rampCandles(199))
	require.Equal(t, Undefined, result.Regime)
	assert.Zero(t, result.Confidence)
	assert.Contains(t, result.Explanation, "Insufficient data")
}

func TestClassifyFullRunDoesNotPanic(t *testing.T) {
	result := Classify(rampCandles(250))
	assert.Contains(t, []Regime{Uptrend, Downtrend, Ranging, Volatile, Undefined}, result.Regime)
	assert.GreaterOrEqual(t, result.Confidence, 0.0)
	assert.LessOrEqual(t, result.Confidence, 1.0)
}
