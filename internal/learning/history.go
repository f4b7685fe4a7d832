package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"learnagent/internal/types"
)

// HistoryProvider 抽象按资产拉取历史成交的能力。
type HistoryProvider interface {
	FetchTrades(ctx context.Context, assetID string) ([]types.Trade, error)
}

// HTTPHistoryProvider 通过 Manager 的 REST 端点拉取历史成交。
type HTTPHistoryProvider struct {
	baseURL string
	client  *http.Client
}

const defaultFetchTimeout = 10 * time.Second

func NewHTTPHistoryProvider(baseURL string, timeout time.Duration) *HTTPHistoryProvider {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &HTTPHistoryProvider{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *HTTPHistoryProvider) FetchTrades(ctx context.Context, assetID string) ([]types.Trade, error) {
	if p == nil || p.baseURL == "" {
		return nil, fmt.Errorf("history provider 未配置")
	}
	endpoint := fmt.Sprintf("%s/trades?asset_id=%s", p.baseURL, url.QueryEscape(assetID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("拉取历史成交失败 asset=%s status=%d", assetID, resp.StatusCode)
	}
	var trades []types.Trade
	if err := json.NewDecoder(resp.Body).Decode(&trades); err != nil {
		return nil, fmt.Errorf("历史成交响应解析失败: %w", err)
	}
	return trades, nil
}
