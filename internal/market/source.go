package market

import "context"

// Source 抽象价格历史来源（REST K 线拉取）。
type Source interface {
	// FetchHistory 返回最近 limit 根 K 线（按时间升序）。
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	Name() string
}
