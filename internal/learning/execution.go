package learning

import (
	"encoding/json"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"learnagent/internal/logger"
	"learnagent/internal/types"
)

// applyExecutionResult 把最近一次执行回报合并进交易历史：仅当 status 为
// executed 时，找到时间戳最新的交易，并只覆盖回报中实际出现的字段。
// 单个畸形字段跳过，不影响其余字段与整个周期。
func applyExecutionResult(trades []types.Trade, raw json.RawMessage) {
	if len(trades) == 0 || len(raw) == 0 {
		return
	}
	result := gjson.ParseBytes(raw)
	if !result.IsObject() || result.Get("status").String() != "executed" {
		return
	}

	latest := 0
	for i := 1; i < len(trades); i++ {
		if trades[i].ExecutedAt.After(trades[latest].ExecutedAt) {
			latest = i
		}
	}
	target := &trades[latest]

	if v := result.Get("pnl_pct"); v.Exists() {
		if d, ok := toDecimal(v); ok {
			target.PnLPct = &d
		} else {
			logger.Warnf("执行回报 pnl_pct 无法解析，已跳过: %s", v.Raw)
		}
	}
	if v := result.Get("entry_price"); v.Exists() {
		if d, ok := toDecimal(v); ok {
			target.EntryPrice = &d
		} else {
			logger.Warnf("执行回报 entry_price 无法解析，已跳过: %s", v.Raw)
		}
	}
	if v := result.Get("exit_price"); v.Exists() {
		if d, ok := toDecimal(v); ok {
			target.ExitPrice = &d
		} else {
			logger.Warnf("执行回报 exit_price 无法解析，已跳过: %s", v.Raw)
		}
	}
}

func toDecimal(v gjson.Result) (decimal.Decimal, bool) {
	switch v.Type {
	case gjson.Number:
		return decimal.NewFromFloat(v.Num), true
	case gjson.String:
		d, err := decimal.NewFromString(v.Str)
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	default:
		return decimal.Decimal{}, false
	}
}
