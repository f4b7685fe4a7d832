package regime

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"learnagent/internal/analysis/indicator"
	"learnagent/internal/logger"
	"learnagent/internal/market"
)

// Regime 表示市场状态分类结果。
type Regime string

const (
	Uptrend   Regime = "uptrend"
	Downtrend Regime = "downtrend"
	Ranging   Regime = "ranging"
	Volatile  Regime = "volatile"
	Undefined Regime = "undefined"
)

const minPricePoints = 200

// Result 携带分类结果、置信度与可审计的打分说明。
type Result struct {
	Regime      Regime  `json:"regime"`
	Confidence  float64 `json:"confidence_score"`
	Explanation string  `json:"explanation"`
}

func undefinedResult(explanation string) Result {
	return Result{Regime: Undefined, Confidence: 0.0, Explanation: explanation}
}

// Classify 根据价格序列判定市场状态。任何指标失败都降级为 undefined，不会 panic。
func Classify(candles []market.Candle) Result {
	if len(candles) < minPricePoints {
		logger.Warnf("市场状态分类：价格点不足（%d < %d）", len(candles), minPricePoints)
		return undefinedResult("Insufficient data.")
	}
	snap, err := indicator.ComputeRegimeSnapshot(candles)
	if err != nil {
		logger.Warnf("市场状态分类：指标计算失败: %v", err)
		if errors.Is(err, indicator.ErrInsufficientHistory) {
			return undefinedResult("Not enough data for historical indicator analysis.")
		}
		return undefinedResult("Failed to calculate indicators.")
	}
	return classifyFromSnapshot(snap)
}

type scored struct {
	regime Regime
	score  float64
}

// classifyFromSnapshot 在已算好的指标值上执行加权打分与决策。
func classifyFromSnapshot(snap indicator.RegimeSnapshot) Result {
	var up, down, rng, vol float64

	if snap.TrendStrength > 25 {
		up += 0.4
	}
	if snap.Slope > 0 {
		up += 0.4
	}
	if snap.LastClose > snap.TrendAvg {
		up += 0.2
	}

	if snap.TrendStrength > 25 {
		down += 0.4
	}
	if snap.Slope < 0 {
		down += 0.4
	}
	if snap.LastClose < snap.TrendAvg {
		down += 0.2
	}

	slopeThreshold := snap.CloseMean * 0.0005
	proximity := 0.0
	if snap.TrendAvg != 0 {
		proximity = math.Abs(snap.LastClose-snap.TrendAvg) / snap.TrendAvg
	}
	if snap.TrendStrength < 20 {
		rng += 0.5
	}
	if math.Abs(snap.Slope) < slopeThreshold {
		rng += 0.3
	}
	if proximity < 0.01 {
		rng += 0.2
	}

	if snap.VolRatio >= 1.5 {
		vol += 0.7
	}
	accelerating := snap.TrendStrength > snap.StrengthPrev5+5
	flipped := (snap.Slope > 0 && snap.SlopePrev3 < 0) || (snap.Slope < 0 && snap.SlopePrev3 > 0)
	if accelerating || flipped {
		vol += 0.3
	}

	scoreLine := fmt.Sprintf("Scores: Uptrend=%.2f, Downtrend=%.2f, Ranging=%.2f, Volatile=%.2f.", up, down, rng, vol)

	if vol >= 0.7 {
		confidence := math.Min(1.0, vol)
		explanation := strings.Join([]string{
			scoreLine,
			"Volatility override was triggered (ATR spike >= 1.5x mean).",
			fmt.Sprintf("Final regime is 'volatile' with confidence %.2f.", confidence),
		}, " ")
		return Result{Regime: Volatile, Confidence: confidence, Explanation: explanation}
	}

	// 并列分数按固定顺序取先出现者，保持决策可复现。
	ranked := []scored{
		{Uptrend, up},
		{Downtrend, down},
		{Ranging, rng},
		{Volatile, vol},
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	winner, runnerUp := ranked[0], ranked[1]

	confidence := math.Max(0.0, math.Min(1.0, winner.score-runnerUp.score))
	ambiguous := winner.score < 0.6 || confidence < 0.15

	parts := []string{
		scoreLine,
		fmt.Sprintf("Winning regime before ambiguity check: %s (Score: %.2f).", winner.regime, winner.score),
		fmt.Sprintf("Runner-up: %s (Score: %.2f).", runnerUp.regime, runnerUp.score),
		fmt.Sprintf("Confidence calculation: max(0, min(1, %.2f - %.2f)) = %.2f.", winner.score, runnerUp.score, confidence),
	}
	final := winner.regime
	if ambiguous {
		final = Undefined
		reason := "winning score was < 0.6"
		if winner.score >= 0.6 {
			reason = "confidence was < 0.15"
		}
		parts = append(parts, fmt.Sprintf("Final regime is 'undefined' because %s.", reason))
	} else {
		parts = append(parts, fmt.Sprintf("Final regime is '%s'.", final))
	}
	return Result{Regime: final, Confidence: confidence, Explanation: strings.Join(parts, " ")}
}
