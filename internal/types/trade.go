package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side 表示交易方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Trade 是 Manager 回传的单笔历史成交。金额字段在入口层保持 decimal 精度，
// 仅在绩效统计内部转为 float64。
type Trade struct {
	TradeID    string           `json:"trade_id"`
	AccountID  string           `json:"account_id,omitempty"`
	AssetID    string           `json:"asset_id"`
	Symbol     string           `json:"symbol,omitempty"`
	Side       Side             `json:"side"`
	Quantity   decimal.Decimal  `json:"quantity"`
	Price      decimal.Decimal  `json:"price"`
	ExecutedAt time.Time        `json:"executed_at"`
	PnLPct     *decimal.Decimal `json:"pnl_pct,omitempty"`
	EntryPrice *decimal.Decimal `json:"entry_price,omitempty"`
	ExitPrice  *decimal.Decimal `json:"exit_price,omitempty"`
}

// NormalizedSide 返回小写方向，未识别时原样返回。
func (t Trade) NormalizedSide() Side {
	return Side(strings.ToLower(strings.TrimSpace(string(t.Side))))
}

// PnLFraction 解析本笔交易的收益率（小数）。优先使用上游提供的 pnl_pct；
// 否则由 entry/exit 推导（sell 方向取反）。不可推导时返回 false。
func (t Trade) PnLFraction() (decimal.Decimal, bool) {
	if t.PnLPct != nil {
		return *t.PnLPct, true
	}
	if t.EntryPrice == nil || t.ExitPrice == nil {
		return decimal.Zero, false
	}
	return signedReturn(*t.EntryPrice, *t.ExitPrice, t.NormalizedSide())
}

// PnLAgainstClose 以资产最近收盘价作为退出价推导收益率，用于未平仓交易。
func (t Trade) PnLAgainstClose(close decimal.Decimal) (decimal.Decimal, bool) {
	if t.EntryPrice == nil {
		return decimal.Zero, false
	}
	return signedReturn(*t.EntryPrice, close, t.NormalizedSide())
}

func signedReturn(entry, exit decimal.Decimal, side Side) (decimal.Decimal, bool) {
	if entry.IsZero() || entry.IsNegative() {
		return decimal.Zero, false
	}
	diff := exit.Sub(entry)
	if side == SideSell {
		diff = entry.Sub(exit)
	}
	return diff.Div(entry), true
}
