package learning

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"learnagent/internal/bias"
	"learnagent/internal/logger"
	"learnagent/internal/market"
	"learnagent/internal/perf"
	"learnagent/internal/types"
)

const (
	assetMinTradesWarmup   = 10
	recentTradesWindow     = 10
	consecutiveLossLimit   = 3
	recentDrawdownLimit    = 0.08
	riskPerTradeAdjustment = -0.005

	upperScoreThreshold = 0.70
	lowerScoreThreshold = 0.45
	biasIncrement       = 0.05

	weightWinRate    = 0.50
	weightDrawdown   = 0.35
	weightVolatility = 0.15

	maxAcceptableDrawdown   = 0.20
	maxAcceptableVolatility = 0.10
)

// Orchestrator 执行单次学习周期。自身无状态，仅读取注入的偏置快照，
// 并发安全，可被多个请求同时调用。
type Orchestrator struct {
	provider     HistoryProvider
	fetchTimeout time.Duration
}

func NewOrchestrator(provider HistoryProvider, fetchTimeout time.Duration) *Orchestrator {
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}
	return &Orchestrator{provider: provider, fetchTimeout: fetchTimeout}
}

// Run 执行一次学习周期：合并执行回报与历史成交、逐资产打分、
// 检测回撤聚集，产出策略增量与推理轨迹。
func (o *Orchestrator) Run(ctx context.Context, req Request, biases map[string]bias.Triple, correlationID string) Response {
	if correlationID == "" {
		correlationID = "not-provided"
	}
	logger.Infof("[correlation_id=%s] 学习周期开始，提交成交数=%d", correlationID, len(req.TradeHistory))

	resp := Response{
		LearningState: StateSuccess,
		PolicyDeltas:  newPolicyDeltas(),
		Reasoning:     []string{},
	}

	applyExecutionResult(req.TradeHistory, req.ExecutionResult)

	merged := o.mergeWithFetched(ctx, req, correlationID)
	if len(merged) == 0 {
		resp.LearningState = StateInsufficientData
		resp.Reasoning = append(resp.Reasoning, "No trades available for learning.")
		logger.Infof("[correlation_id=%s] 学习周期结束：无可用成交", correlationID)
		return resp
	}

	groups := make(map[string][]types.Trade)
	for _, t := range merged {
		groups[t.AssetID] = append(groups[t.AssetID], t)
	}
	assetIDs := make([]string, 0, len(groups))
	for id := range groups {
		assetIDs = append(assetIDs, id)
	}
	sort.Strings(assetIDs)

	window := req.WindowSize
	if window <= 0 {
		window = recentTradesWindow
	}

	riskFlagged := false
	warmupCount := 0
	for _, assetID := range assetIDs {
		trades := groups[assetID]
		if len(trades) < assetMinTradesWarmup {
			warmupCount++
			resp.Reasoning = append(resp.Reasoning,
				fmt.Sprintf("Asset '%s' is in warmup (%d/%d trades). No bias will be applied.", assetID, len(trades), assetMinTradesWarmup))
			continue
		}

		sort.SliceStable(trades, func(i, j int) bool {
			return trades[i].ExecutedAt.Before(trades[j].ExecutedAt)
		})
		pnls := resolvePnLs(trades, req.PriceHistory[assetID])

		summary := perf.Analyze(pnls)
		assetBias := biases[assetID]

		wrScore := summary.WinRate
		ddScore := 1.0 - minFloat(1.0, summary.MaxDrawdown/maxAcceptableDrawdown)
		volScore := 1.0 - minFloat(1.0, summary.Volatility/maxAcceptableVolatility)
		volScore = clamp01(volScore + assetBias.Vol)

		score := weightWinRate*wrScore + weightDrawdown*ddScore + weightVolatility*volScore
		if score > 0.5 {
			score += assetBias.Bull
		} else {
			score -= assetBias.Bear
		}
		score = clamp01(score)

		switch {
		case score > upperScoreThreshold:
			resp.PolicyDeltas.AssetBiases[assetID] = biasIncrement
			resp.Reasoning = append(resp.Reasoning,
				fmt.Sprintf("Asset '%s' performance score (%.2f) is above 0.70. Applying positive bias.", assetID, score))
		case score < lowerScoreThreshold:
			resp.PolicyDeltas.AssetBiases[assetID] = -biasIncrement
			resp.Reasoning = append(resp.Reasoning,
				fmt.Sprintf("Asset '%s' performance score (%.2f) is below 0.45. Applying negative bias.", assetID, score))
		}

		// 回撤聚集检测在最近窗口上进行，窗口按时间倒序。
		recent := pnls
		if len(recent) > window {
			recent = recent[len(recent)-window:]
		}
		recentDesc := reversed(recent)

		consecutive := 0
		for _, pnl := range recentDesc {
			if pnl < 0 {
				consecutive++
				if consecutive >= consecutiveLossLimit {
					riskFlagged = true
					resp.Reasoning = append(resp.Reasoning,
						fmt.Sprintf("Asset '%s' has %d consecutive losses. Flagging for risk review.", assetID, consecutive))
					break
				}
			} else {
				consecutive = 0
			}
		}

		if dd := perf.WindowDrawdown(recentDesc); dd > recentDrawdownLimit {
			riskFlagged = true
			resp.Reasoning = append(resp.Reasoning,
				fmt.Sprintf("Asset '%s' has a high recent drawdown of %.2f%%. Flagging for risk review.", assetID, dd*100))
		}
	}

	if riskFlagged {
		resp.PolicyDeltas.Risk["risk_per_trade"] = riskPerTradeAdjustment
		resp.Reasoning = append(resp.Reasoning,
			fmt.Sprintf("Applying a global risk reduction of %v due to drawdown clustering.", riskPerTradeAdjustment))
	}

	if warmupCount == len(groups) {
		resp.LearningState = StateWarmup
	}
	logger.Infof("[correlation_id=%s] 学习周期结束 state=%s 偏置增量数=%d", correlationID, resp.LearningState, len(resp.PolicyDeltas.AssetBiases))
	return resp
}

// mergeWithFetched 并发拉取各资产的历史成交并与提交的成交按 trade_id 去重合并，
// 冲突时提交的成交优先。拉取失败仅降级为空结果。
func (o *Orchestrator) mergeWithFetched(ctx context.Context, req Request, correlationID string) []types.Trade {
	assetSet := make(map[string]struct{})
	for _, t := range req.TradeHistory {
		if t.AssetID != "" {
			assetSet[t.AssetID] = struct{}{}
		}
	}
	for id := range req.PriceHistory {
		assetSet[id] = struct{}{}
	}
	assetIDs := make([]string, 0, len(assetSet))
	for id := range assetSet {
		assetIDs = append(assetIDs, id)
	}
	sort.Strings(assetIDs)

	fetched := make(map[string][]types.Trade, len(assetIDs))
	if o.provider != nil && len(assetIDs) > 0 {
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		for _, assetID := range assetIDs {
			assetID := assetID
			g.Go(func() error {
				fetchCtx, cancel := context.WithTimeout(gctx, o.fetchTimeout)
				defer cancel()
				trades, err := o.provider.FetchTrades(fetchCtx, assetID)
				if err != nil {
					logger.Warnf("[correlation_id=%s] 拉取历史成交失败 asset=%s，降级为空: %v", correlationID, assetID, err)
					return nil
				}
				mu.Lock()
				fetched[assetID] = trades
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	byID := make(map[string]types.Trade)
	var keyless []types.Trade
	add := func(t types.Trade) {
		if t.TradeID == "" {
			keyless = append(keyless, t)
			return
		}
		byID[t.TradeID] = t
	}
	for _, assetID := range assetIDs {
		for _, t := range fetched[assetID] {
			add(t)
		}
	}
	for _, t := range req.TradeHistory {
		add(t)
	}

	merged := make([]types.Trade, 0, len(byID)+len(keyless))
	for _, t := range byID {
		merged = append(merged, t)
	}
	merged = append(merged, keyless...)
	return merged
}

// resolvePnLs 逐笔解析收益率：优先成交自带值，其次 entry/exit，
// 再次以资产最近收盘价推导，否则计 0。
func resolvePnLs(trades []types.Trade, candles []market.Candle) []float64 {
	var latestClose decimal.Decimal
	hasClose := false
	if close, ok := market.LatestClose(candles); ok && close > 0 {
		latestClose = decimal.NewFromFloat(close)
		hasClose = true
	}
	pnls := make([]float64, 0, len(trades))
	for _, t := range trades {
		if pnl, ok := t.PnLFraction(); ok {
			pnls = append(pnls, pnl.InexactFloat64())
			continue
		}
		if hasClose {
			if pnl, ok := t.PnLAgainstClose(latestClose); ok {
				pnls = append(pnls, pnl.InexactFloat64())
				continue
			}
		}
		pnls = append(pnls, 0)
	}
	return pnls
}

func reversed(src []float64) []float64 {
	out := make([]float64, len(src))
	for i, v := range src {
		out[len(src)-1-i] = v
	}
	return out
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
