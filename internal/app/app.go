package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	lacfg "learnagent/internal/config"
	"learnagent/internal/logger"
	"learnagent/internal/market"
	"learnagent/internal/store/gormstore"
	learnhttp "learnagent/internal/transport/http"
)

// App 负责应用级编排：加载配置→初始化依赖→启动 HTTP 服务与学习流水线。
type App struct {
	cfg      *lacfg.Config
	httpSrv  *learnhttp.Server
	pipeline *PipelineService
	store    *gormstore.GormStore
	cache    *market.CandleCache
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *lacfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动 HTTP 服务与学习流水线，直到 ctx 取消或出错。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.httpSrv == nil {
		return fmt.Errorf("http server not initialized")
	}
	defer a.Close()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Infof("学习 HTTP 服务启动 addr=%s", a.httpSrv.Addr())
		if err := a.httpSrv.Start(ctx); err != nil {
			return fmt.Errorf("learning http server error: %w", err)
		}
		return nil
	})
	if a.pipeline != nil {
		group.Go(func() error {
			return a.pipeline.Run(ctx)
		})
	}
	return group.Wait()
}

// Close 释放持久层资源。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("学习存储关闭失败: %v", err)
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			logger.Warnf("K线缓存关闭失败: %v", err)
		}
	}
}

// Pipeline 暴露流水线实例（测试与回放用）。
func (a *App) Pipeline() *PipelineService {
	if a == nil {
		return nil
	}
	return a.pipeline
}
