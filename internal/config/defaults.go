package config

import "strings"

// 默认值常量
const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppHTTPAddr      = ":9980"
	defaultAppLogPath       = "/data/logs/learnagent.log"
	defaultManagerBaseURL   = "http://manager:9500/api/manager"
	defaultManagerTimeout   = 10
	defaultMarketREST       = "https://fapi.binance.com"
	defaultMarketTimeout    = 15
	defaultStoreDBPath      = "/data/db/learning.db"
	defaultCandleCacheDir   = "/data/db/candles"
	defaultProfilesPath     = "configs/learning_profiles.yaml"
	defaultLearningWindow   = 10
	defaultPipelineInterval = "1h"
	defaultPipelineOffset   = 30
	defaultPipelineHistory  = 300
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Manager.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Learning.applyDefaults(keys)
	c.Pipeline.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (m *ManagerConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("manager.base_url", &m.BaseURL, defaultManagerBaseURL),
		fieldDefault{
			key:   "manager.fetch_timeout_seconds",
			need:  func() bool { return m.FetchTimeoutSeconds <= 0 },
			apply: func() { m.FetchTimeoutSeconds = defaultManagerTimeout },
		},
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	m.Proxy.normalize()
	applyFieldDefaults(keys,
		stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, defaultMarketREST),
		fieldDefault{
			key:   "market.timeout_seconds",
			need:  func() bool { return m.TimeoutSeconds <= 0 },
			apply: func() { m.TimeoutSeconds = defaultMarketTimeout },
		},
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.db_path", &s.DBPath, defaultStoreDBPath),
		stringFieldDefault("store.candle_cache_dir", &s.CandleCacheDir, defaultCandleCacheDir),
	)
}

func (l *LearningConfig) applyDefaults(keys keySet) {
	if l == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("learning.profiles_path", &l.ProfilesPath, defaultProfilesPath),
		fieldDefault{
			key:   "learning.window_size",
			need:  func() bool { return l.WindowSize <= 0 },
			apply: func() { l.WindowSize = defaultLearningWindow },
		},
	)
}

func (p *PipelineConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("pipeline.enabled", &p.Enabled, true),
		stringFieldDefault("pipeline.interval", &p.Interval, defaultPipelineInterval),
		fieldDefault{
			key:   "pipeline.offset_seconds",
			need:  func() bool { return p.OffsetSeconds <= 0 },
			apply: func() { p.OffsetSeconds = defaultPipelineOffset },
		},
		fieldDefault{
			key:   "pipeline.history_limit",
			need:  func() bool { return p.HistoryLimit <= 0 },
			apply: func() { p.HistoryLimit = defaultPipelineHistory },
		},
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
