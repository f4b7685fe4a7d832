package config

import "strings"

// Config 是学习代理的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Manager  ManagerConfig  `toml:"manager"`
	Market   MarketConfig   `toml:"market"`
	Store    StoreConfig    `toml:"store"`
	Learning LearningConfig `toml:"learning"`
	Pipeline PipelineConfig `toml:"pipeline"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// ManagerConfig 描述交易管理端（成交历史来源）的访问方式。
type ManagerConfig struct {
	BaseURL             string `toml:"base_url"`
	FetchTimeoutSeconds int    `toml:"fetch_timeout_seconds"`
}

type MarketConfig struct {
	RESTBaseURL    string      `toml:"rest_base_url"`
	TimeoutSeconds int         `toml:"timeout_seconds"`
	Proxy          ProxyConfig `toml:"proxy"`
}

type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	RESTURL string `toml:"rest_url"`
}

func (p *ProxyConfig) normalize() {
	if p == nil {
		return
	}
	p.RESTURL = strings.TrimSpace(p.RESTURL)
}

type StoreConfig struct {
	DBPath         string `toml:"db_path"`
	CandleCacheDir string `toml:"candle_cache_dir"`
}

// LearningConfig 控制学习周期的统计口径。
type LearningConfig struct {
	ProfilesPath string `toml:"profiles_path"`
	WindowSize   int    `toml:"window_size"`
}

// PipelineConfig 控制周期性自学习流水线。
type PipelineConfig struct {
	Enabled        bool   `toml:"enabled"`
	Interval       string `toml:"interval"`
	OffsetSeconds  int    `toml:"offset_seconds"`
	RunImmediately bool   `toml:"run_immediately"`
	HistoryLimit   int    `toml:"history_limit"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
