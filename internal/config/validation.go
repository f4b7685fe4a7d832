package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Manager.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Learning.validate(); err != nil {
		return err
	}
	if err := c.Pipeline.validate(); err != nil {
		return err
	}
	return nil
}

func (m *ManagerConfig) validate() error {
	if strings.TrimSpace(m.BaseURL) == "" {
		return fmt.Errorf("manager.base_url cannot be empty")
	}
	if m.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("manager.fetch_timeout_seconds must be > 0")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if strings.TrimSpace(m.RESTBaseURL) == "" {
		return fmt.Errorf("market.rest_base_url cannot be empty")
	}
	if m.Proxy.Enabled && m.Proxy.RESTURL == "" {
		return fmt.Errorf("market proxy enabled but no rest_url")
	}
	return nil
}

func (l *LearningConfig) validate() error {
	if strings.TrimSpace(l.ProfilesPath) == "" {
		return fmt.Errorf("learning.profiles_path cannot be empty")
	}
	if l.WindowSize <= 0 {
		return fmt.Errorf("learning.window_size must be > 0")
	}
	return nil
}

func (p *PipelineConfig) validate() error {
	if !p.Enabled {
		return nil
	}
	if !IsValidInterval(strings.TrimSpace(p.Interval)) {
		return fmt.Errorf("pipeline.interval is not a valid interval: %s", p.Interval)
	}
	if p.OffsetSeconds < 0 {
		return fmt.Errorf("pipeline.offset_seconds must be >= 0")
	}
	if p.HistoryLimit <= 0 {
		return fmt.Errorf("pipeline.history_limit must be > 0")
	}
	return nil
}

// IsValidInterval 简易校验：以数字开头，以 m/h/d/w 结尾
func IsValidInterval(s string) bool {
	if s == "" {
		return false
	}
	suf := s[len(s)-1]
	if suf != 'm' && suf != 'h' && suf != 'd' && suf != 'w' {
		return false
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
