package policy

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"learnagent/internal/logger"
)

// Profile 描述一个参与周期性学习的资产画像。
type Profile struct {
	AssetID      string         `mapstructure:"asset_id" yaml:"asset_id"`
	Symbol       string         `mapstructure:"symbol" yaml:"symbol"`
	Interval     string         `mapstructure:"interval" yaml:"interval"`
	Enabled      *bool          `mapstructure:"enabled" yaml:"enabled"`
	HistoryLimit int            `mapstructure:"history_limit" yaml:"history_limit"`
	Params       map[string]any `mapstructure:"params" yaml:"params"`
}

// IsEnabled 默认启用，显式 false 才关闭。
func (p Profile) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// FileConfig 映射 learning_profiles。
type FileConfig struct {
	LearningProfiles map[string]Profile `yaml:"learning_profiles"`
}

// Snapshot 公开的画像快照。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Profiles map[string]Profile
}

// Enabled 按 asset_id 升序返回启用的画像。
func (s Snapshot) Enabled() []Profile {
	out := make([]Profile, 0, len(s.Profiles))
	for _, p := range s.Profiles {
		if p.IsEnabled() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}

// ChangeListener 在 registry 重载时触发。
type ChangeListener func(Snapshot)

// Registry 管理学习画像，配置文件变更时热重载。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// profileSchema 约束 params 中调度器关心的可选字段。
const profileSchema = `{
  "type": "object",
  "properties": {
    "window_size": {"type": "number", "minimum": 1},
    "learning_mode": {"type": "string"},
    "min_confidence": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

var compiledProfileSchema = jsonschema.MustCompileString("profile.json", profileSchema)

// NewRegistry 读取画像文件并监听更新。
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("learning profile registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read learning profile config failed: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("learning profile reload failed: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// Snapshot 返回当前画像集。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// Profile 返回指定 asset_id 的画像。
func (r *Registry) Profile(assetID string) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.snapshot.Profiles[strings.TrimSpace(assetID)]
	return p, ok
}

// OnChange 注册重载回调。
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) reload() error {
	cfg, err := readProfileFile(r.path)
	if err != nil {
		return err
	}
	profiles := make(map[string]Profile, len(cfg.LearningProfiles))
	for name, p := range cfg.LearningProfiles {
		norm, err := normalizeProfile(name, p)
		if err != nil {
			logger.Errorf("learning profile 校验失败 asset=%s: %v", name, err)
			continue
		}
		profiles[norm.AssetID] = norm
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profiles: profiles,
	}
	r.mu.Unlock()
	logger.Infof("Learning profile registry loaded %d profiles from %s", len(profiles), filepath.Base(r.path))
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer safeRecover("learning profile listener")
			cb(snap)
		}(fn)
	}
}

func normalizeProfile(name string, p Profile) (Profile, error) {
	p.AssetID = strings.TrimSpace(p.AssetID)
	if p.AssetID == "" {
		p.AssetID = strings.TrimSpace(name)
	}
	if p.AssetID == "" {
		return Profile{}, fmt.Errorf("asset_id 不能为空")
	}
	p.Symbol = strings.ToUpper(strings.TrimSpace(p.Symbol))
	if p.Symbol == "" {
		p.Symbol = strings.ToUpper(p.AssetID)
	}
	p.Interval = strings.TrimSpace(p.Interval)
	if p.Interval == "" {
		p.Interval = "1h"
	}
	if p.HistoryLimit <= 0 {
		p.HistoryLimit = 300
	}
	if len(p.Params) > 0 {
		if err := compiledProfileSchema.Validate(normalizeYAMLValue(p.Params)); err != nil {
			return Profile{}, err
		}
	}
	return p, nil
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Profiles: make(map[string]Profile, len(src.Profiles)),
	}
	for id, p := range src.Profiles {
		dst.Profiles[id] = p
	}
	return dst
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}

// normalizeYAMLValue 把 yaml 解出的 map[any]any 与整数统一成 jsonschema
// 能处理的 JSON 形态。
func normalizeYAMLValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = normalizeYAMLValue(child)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[fmt.Sprintf("%v", k)] = normalizeYAMLValue(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = normalizeYAMLValue(child)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return val
	}
}

func readProfileFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read learning profile config failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse learning profile config failed: %w", err)
	}
	return cfg, nil
}
