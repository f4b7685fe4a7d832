package perf

import "math"

// Summary 汇总一组交易收益率（小数）的绩效指标。MaxDrawdown 内部统一用小数，
// 对外报表用 DrawdownPct 转百分比。
type Summary struct {
	TradeCount   int     `json:"trade_count"`
	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	Volatility   float64 `json:"volatility"`
}

// DrawdownPct 返回百分比口径的最大回撤。
func (s Summary) DrawdownPct() float64 {
	return s.MaxDrawdown * 100
}

// Analyze 计算胜率、盈亏比、最大回撤与收益波动。输入按时间升序。
func Analyze(pnls []float64) Summary {
	summary := Summary{TradeCount: len(pnls)}
	if len(pnls) == 0 {
		return summary
	}

	wins := 0
	grossProfit, grossLoss := 0.0, 0.0
	for _, pnl := range pnls {
		if pnl > 0 {
			wins++
			grossProfit += pnl
		} else if pnl < 0 {
			grossLoss += -pnl
		}
	}
	summary.WinRate = float64(wins) / float64(len(pnls))
	switch {
	case grossLoss > 0:
		summary.ProfitFactor = grossProfit / grossLoss
	case grossProfit > 0:
		summary.ProfitFactor = math.Inf(1)
	}

	// 权益曲线从 1.0 起步，按 (1+pnl) 连乘；回撤相对运行峰值。
	equity, peak := 1.0, 1.0
	for _, pnl := range pnls {
		equity *= 1 + pnl
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > summary.MaxDrawdown {
				summary.MaxDrawdown = dd
			}
		}
	}

	if len(pnls) >= 2 {
		mean := 0.0
		for _, pnl := range pnls {
			mean += pnl
		}
		mean /= float64(len(pnls))
		variance := 0.0
		for _, pnl := range pnls {
			variance += (pnl - mean) * (pnl - mean)
		}
		variance /= float64(len(pnls) - 1)
		summary.Volatility = math.Sqrt(variance)
	}
	return summary
}

// WindowDrawdown 对给定窗口重新计算最大回撤（小数口径）。
func WindowDrawdown(pnls []float64) float64 {
	return Analyze(pnls).MaxDrawdown
}
