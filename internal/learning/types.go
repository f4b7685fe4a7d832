package learning

import (
	"encoding/json"

	"learnagent/internal/market"
	"learnagent/internal/types"
)

// State 是一次学习周期的终态判别。
type State string

const (
	StateInsufficientData State = "insufficient_data"
	StateWarmup           State = "warmup"
	StateSuccess          State = "success"
)

// Request 是一次学习周期的全部输入。PriceHistory 按 asset_id 提供行情序列，
// ExecutionResult 为上游最近一次执行回报的原始 JSON（可缺省、可部分畸形）。
type Request struct {
	LearningMode    string                     `json:"learning_mode,omitempty"`
	WindowSize      int                        `json:"window_size,omitempty"`
	TradeHistory    []types.Trade              `json:"trade_history"`
	PriceHistory    map[string][]market.Candle `json:"price_history,omitempty"`
	ExecutionResult json.RawMessage            `json:"execution_result,omitempty"`
}

// PolicyDeltas 是推荐给上游策略的增量调整。
type PolicyDeltas struct {
	AssetBiases map[string]float64 `json:"asset_biases"`
	Risk        map[string]float64 `json:"risk"`
}

func newPolicyDeltas() PolicyDeltas {
	return PolicyDeltas{
		AssetBiases: make(map[string]float64),
		Risk:        make(map[string]float64),
	}
}

// Response 携带终态、策略增量与可审计的推理轨迹。
type Response struct {
	LearningState State        `json:"learning_state"`
	PolicyDeltas  PolicyDeltas `json:"policy_deltas"`
	Reasoning     []string     `json:"reasoning"`
}
