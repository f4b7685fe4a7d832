package indicator

import (
	"errors"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"learnagent/internal/market"
)

// ErrInsufficientHistory 表示有效指标点不足以支撑历史回看。
var ErrInsufficientHistory = errors.New("有效指标点不足")

const (
	trendPeriod    = 200
	strengthPeriod = 14
	rangePeriod    = 14
	ratioWindow    = 20

	// 历史回看（斜率差分、强度加速度）至少需要 6 个有效指标点。
	minLookback = 6
)

// RegimeSnapshot 汇总行情状态分类所需的全部派生指标值。
type RegimeSnapshot struct {
	LastClose     float64
	CloseMean     float64
	TrendAvg      float64 // EMA200 最新值
	TrendStrength float64 // ADX14 最新值
	StrengthPrev5 float64 // 5 周期前的 ADX14
	Slope         float64 // EMA200 当前值减 2 周期前
	SlopePrev3    float64 // 3 周期前的同口径斜率
	VolRatio      float64 // ATR14 / 其 20 周期均值
}

// ComputeRegimeSnapshot 基于 OHLCV 序列计算派生指标。任何指标失败都以 error
// 返回，由调用方降级为 undefined，而不是 panic。
func ComputeRegimeSnapshot(candles []market.Candle) (RegimeSnapshot, error) {
	if len(candles) < trendPeriod {
		return RegimeSnapshot{}, fmt.Errorf("需要至少 %d 个价格点，当前 %d", trendPeriod, len(candles))
	}
	highs, lows, closes := market.Series(candles)

	ema := validSeries(talib.Ema(closes, trendPeriod))
	adx := validSeries(talib.Adx(highs, lows, closes, strengthPeriod))
	atr := validSeries(talib.Atr(highs, lows, closes, rangePeriod))
	if len(ema) == 0 || len(adx) == 0 || len(atr) == 0 {
		return RegimeSnapshot{}, fmt.Errorf("指标计算失败（EMA=%d ADX=%d ATR=%d 个有效点）", len(ema), len(adx), len(atr))
	}
	if len(ema) < minLookback || len(adx) < minLookback {
		return RegimeSnapshot{}, fmt.Errorf("%w：EMA=%d ADX=%d（需 >= %d）", ErrInsufficientHistory, len(ema), len(adx), minLookback)
	}

	snap := RegimeSnapshot{
		LastClose:     closes[len(closes)-1],
		CloseMean:     mean(closes),
		TrendAvg:      ema[len(ema)-1],
		TrendStrength: adx[len(adx)-1],
		StrengthPrev5: adx[len(adx)-6],
		Slope:         ema[len(ema)-1] - ema[len(ema)-3],
		SlopePrev3:    ema[len(ema)-4] - ema[len(ema)-6],
		VolRatio:      1.0,
	}
	if len(atr) >= ratioWindow {
		if m := mean(atr[len(atr)-ratioWindow:]); m > 0 {
			snap.VolRatio = atr[len(atr)-1] / m
		}
	}
	return snap, nil
}

// validSeries 去掉 talib 输出中前导的零填充与 NaN/Inf，只保留有效点。
func validSeries(src []float64) []float64 {
	start := 0
	for start < len(src) && (src[start] == 0 || math.IsNaN(src[start])) {
		start++
	}
	out := make([]float64, 0, len(src)-start)
	for _, v := range src[start:] {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func mean(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range series {
		sum += v
	}
	return sum / float64(len(series))
}
