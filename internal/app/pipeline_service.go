package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"learnagent/internal/bias"
	lacfg "learnagent/internal/config"
	"learnagent/internal/learning"
	"learnagent/internal/logger"
	"learnagent/internal/market"
	"learnagent/internal/policy"
	"learnagent/internal/regime"
	"learnagent/internal/scheduler"
	"learnagent/internal/store/gormstore"
)

type runRecorder interface {
	AppendLearningRun(ctx context.Context, rec gormstore.LearningRunRecord) error
}

// PipelineService 周期性地为配置的资产跑一轮学习：拉取行情并写缓存、
// 判定市况、执行学习周期，并把产出的偏置增量写回偏置存储。
type PipelineService struct {
	cfg      lacfg.PipelineConfig
	window   int
	registry *policy.Registry
	source   market.Source
	cache    *market.CandleCache
	orch     *learning.Orchestrator
	biases   *bias.Store
	runs     runRecorder
}

// Run 阻塞执行流水线，直到 ctx 取消。未启用时直接返回。
func (p *PipelineService) Run(ctx context.Context) error {
	if p == nil || !p.cfg.Enabled {
		logger.Infof("学习流水线未启用，跳过")
		return nil
	}
	if p.registry == nil {
		logger.Warnf("学习流水线：没有可用的画像注册表，跳过")
		return nil
	}
	interval, ok := scheduler.ParseIntervalDuration(p.cfg.Interval)
	if !ok {
		return fmt.Errorf("学习流水线 interval 非法: %s", p.cfg.Interval)
	}
	sched := scheduler.NewAlignedScheduler(ctx, interval, time.Duration(p.cfg.OffsetSeconds)*time.Second)
	sched.RunImmediately = p.cfg.RunImmediately
	sched.Start(func() { p.runOnce(ctx) })
	return nil
}

func (p *PipelineService) runOnce(ctx context.Context) {
	profiles := p.registry.Snapshot().Enabled()
	if len(profiles) == 0 {
		logger.Warnf("学习流水线：没有启用的资产画像，跳过本轮")
		return
	}
	correlationID := "pipeline-" + uuid.NewString()

	priceHistory := make(map[string][]market.Candle, len(profiles))
	for _, prof := range profiles {
		candles := p.loadCandles(ctx, prof)
		priceHistory[prof.AssetID] = candles

		res := regime.Classify(candles)
		logger.Infof("[correlation_id=%s] 市况判定 asset=%s regime=%s confidence=%.2f",
			correlationID, prof.AssetID, res.Regime, res.Confidence)
	}

	req := learning.Request{
		WindowSize:   p.window,
		PriceHistory: priceHistory,
	}
	resp := p.orch.Run(ctx, req, p.biases.Snapshot(), correlationID)

	for assetID, delta := range resp.PolicyDeltas.AssetBiases {
		t := bias.Triple{}
		if delta >= 0 {
			t.Bull = delta
		} else {
			t.Bear = -delta
		}
		if _, err := p.biases.ApplyDelta(ctx, assetID, t); err != nil {
			logger.Warnf("[correlation_id=%s] 偏置增量应用失败 asset=%s: %v", correlationID, assetID, err)
		}
	}

	p.persistRun(ctx, correlationID, resp)
}

// loadCandles 先走行情源并写穿缓存，失败时回退本地缓存。
func (p *PipelineService) loadCandles(ctx context.Context, prof policy.Profile) []market.Candle {
	limit := prof.HistoryLimit
	if limit <= 0 {
		limit = p.cfg.HistoryLimit
	}
	if p.source != nil {
		candles, err := p.source.FetchHistory(ctx, prof.Symbol, prof.Interval, limit)
		if err == nil && len(candles) > 0 {
			if p.cache != nil {
				if _, cErr := p.cache.InsertCandles(ctx, prof.Symbol, prof.Interval, candles); cErr != nil {
					logger.Warnf("K线缓存写入失败 symbol=%s interval=%s: %v", prof.Symbol, prof.Interval, cErr)
				}
			}
			return candles
		}
		if err != nil {
			logger.Warnf("行情拉取失败 symbol=%s interval=%s，回退本地缓存: %v", prof.Symbol, prof.Interval, err)
		}
	}
	if p.cache == nil {
		return nil
	}
	candles, err := p.cache.RecentCandles(ctx, prof.Symbol, prof.Interval, limit)
	if err != nil {
		logger.Warnf("K线缓存读取失败 symbol=%s interval=%s: %v", prof.Symbol, prof.Interval, err)
		return nil
	}
	return candles
}

func (p *PipelineService) persistRun(ctx context.Context, correlationID string, resp learning.Response) {
	if p.runs == nil {
		return
	}
	deltas, _ := json.Marshal(resp.PolicyDeltas)
	reasoning, _ := json.Marshal(resp.Reasoning)
	rec := gormstore.LearningRunRecord{
		RunID:         uuid.NewString(),
		CorrelationID: correlationID,
		State:         string(resp.LearningState),
		DeltasJSON:    deltas,
		ReasoningJSON: reasoning,
		CreatedAt:     time.Now().UTC(),
	}
	if err := p.runs.AppendLearningRun(ctx, rec); err != nil {
		logger.Warnf("学习运行审计落库失败 correlation_id=%s: %v", correlationID, err)
	}
}
