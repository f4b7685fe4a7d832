package app

import (
	"context"
	"fmt"
	"time"

	"learnagent/internal/bias"
	lacfg "learnagent/internal/config"
	binancegw "learnagent/internal/gateway/binance"
	"learnagent/internal/learning"
	"learnagent/internal/logger"
	"learnagent/internal/market"
	"learnagent/internal/policy"
	"learnagent/internal/store/gormstore"
	learnhttp "learnagent/internal/transport/http"
)

// AppBuilder 把配置装配成可运行的 App，构建函数可在测试中替换。
type AppBuilder struct {
	cfg *lacfg.Config

	sourceFn   func(lacfg.MarketConfig) (market.Source, error)
	storeFn    func(string) (*gormstore.GormStore, error)
	cacheFn    func(string) (*market.CandleCache, error)
	registryFn func(string) (*policy.Registry, error)
	providerFn func(lacfg.ManagerConfig) learning.HistoryProvider
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *lacfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		sourceFn:   buildMarketSource,
		storeFn:    gormstore.NewGormStore,
		cacheFn:    market.NewCandleCache,
		registryFn: policy.NewRegistry,
		providerFn: buildHistoryProvider,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	// 持久层打开失败只降级：偏置留在内存里，审计不落库。
	var persister bias.Persister
	var runs *gormstore.GormStore
	store, err := b.storeFn(cfg.Store.DBPath)
	if err != nil {
		logger.Warnf("学习存储打开失败，偏置与审计将不持久化: %v", err)
		store = nil
	} else {
		persister = store
		runs = store
	}

	biasStore := bias.NewStore(persister)
	if err := biasStore.Load(ctx); err != nil {
		logger.Warnf("偏置加载失败，以空偏置启动: %v", err)
	}

	provider := b.providerFn(cfg.Manager)
	orch := learning.NewOrchestrator(provider, time.Duration(cfg.Manager.FetchTimeoutSeconds)*time.Second)

	handlers := &learnhttp.Handlers{
		Orchestrator: orch,
		Biases:       biasStore,
	}
	if runs != nil {
		handlers.Runs = runs
	}
	httpSrv, err := learnhttp.NewServer(learnhttp.ServerConfig{
		Addr:     cfg.App.HTTPAddr,
		Handlers: handlers,
	})
	if err != nil {
		return nil, err
	}

	app := &App{
		cfg:     cfg,
		httpSrv: httpSrv,
		store:   store,
	}

	if !cfg.Pipeline.Enabled {
		logger.Infof("学习流水线未启用，仅提供 HTTP 服务")
		return app, nil
	}

	registry, err := b.registryFn(cfg.Learning.ProfilesPath)
	if err != nil {
		return nil, fmt.Errorf("学习画像加载失败: %w", err)
	}
	source, err := b.sourceFn(cfg.Market)
	if err != nil {
		return nil, fmt.Errorf("行情源初始化失败: %w", err)
	}
	cache, err := b.cacheFn(cfg.Store.CandleCacheDir)
	if err != nil {
		logger.Warnf("K线缓存初始化失败，流水线将仅依赖行情源: %v", err)
		cache = nil
	}

	pipeline := &PipelineService{
		cfg:      cfg.Pipeline,
		window:   cfg.Learning.WindowSize,
		registry: registry,
		source:   source,
		cache:    cache,
		orch:     orch,
		biases:   biasStore,
	}
	if runs != nil {
		pipeline.runs = runs
	}
	app.pipeline = pipeline
	app.cache = cache
	return app, nil
}

func buildMarketSource(cfg lacfg.MarketConfig) (market.Source, error) {
	src, err := binancegw.New(binancegw.Config{
		RESTBaseURL:  cfg.RESTBaseURL,
		HTTPTimeout:  time.Duration(cfg.TimeoutSeconds) * time.Second,
		ProxyEnabled: cfg.Proxy.Enabled,
		RESTProxyURL: cfg.Proxy.RESTURL,
	})
	if err != nil {
		return nil, err
	}
	return src, nil
}

func buildHistoryProvider(cfg lacfg.ManagerConfig) learning.HistoryProvider {
	return learning.NewHTTPHistoryProvider(cfg.BaseURL, time.Duration(cfg.FetchTimeoutSeconds)*time.Second)
}
