package bias

import (
	"context"
	"fmt"
	"sync"
	"time"

	"learnagent/internal/logger"
)

// Triple 是单个资产的偏置三元组，各分量始终位于 [-1, 1]。
type Triple struct {
	Bull float64 `json:"bull_bias"`
	Bear float64 `json:"bear_bias"`
	Vol  float64 `json:"vol_bias"`
}

// Add 返回逐分量相加并钳制后的结果。
func (t Triple) Add(delta Triple) Triple {
	return Triple{
		Bull: clamp(t.Bull + delta.Bull),
		Bear: clamp(t.Bear + delta.Bear),
		Vol:  clamp(t.Vol + delta.Vol),
	}
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// Record 是持久层的一行偏置记录。
type Record struct {
	AssetID     string
	Bias        Triple
	LastUpdated time.Time
}

// Persister 抽象偏置持久层：启动时全量加载，变更时逐资产 upsert。
type Persister interface {
	LoadAllBiases(ctx context.Context) ([]Record, error)
	UpsertBias(ctx context.Context, rec Record) error
}

type entry struct {
	mu    sync.Mutex
	value Triple
}

// Store 持有进程内偏置副本。变更对同一资产串行（读-改-钳-写不交错），
// 不同资产互不阻塞；每次变更写穿到持久层，写失败只告警不回滚。
type Store struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	persister Persister
}

func NewStore(persister Persister) *Store {
	return &Store{
		entries:   make(map[string]*entry),
		persister: persister,
	}
}

// Load 从持久层加载全部偏置，替换进程内副本。加载失败时保持空副本并降级运行。
func (s *Store) Load(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("bias store 未初始化")
	}
	if s.persister == nil {
		return nil
	}
	records, err := s.persister.LoadAllBiases(ctx)
	if err != nil {
		return fmt.Errorf("加载偏置失败: %w", err)
	}
	entries := make(map[string]*entry, len(records))
	for _, rec := range records {
		entries[rec.AssetID] = &entry{value: rec.Bias}
	}
	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
	logger.Infof("偏置已加载，资产数=%d", len(records))
	return nil
}

func (s *Store) entryFor(assetID string) *entry {
	s.mu.RLock()
	e := s.entries[assetID]
	s.mu.RUnlock()
	if e != nil {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e = s.entries[assetID]; e == nil {
		e = &entry{}
		s.entries[assetID] = e
	}
	return e
}

// Get 返回资产当前偏置，未出现过的资产返回零值。
func (s *Store) Get(assetID string) Triple {
	if s == nil {
		return Triple{}
	}
	s.mu.RLock()
	e := s.entries[assetID]
	s.mu.RUnlock()
	if e == nil {
		return Triple{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// Snapshot 返回全部偏置的拷贝。
func (s *Store) Snapshot() map[string]Triple {
	if s == nil {
		return map[string]Triple{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Triple, len(s.entries))
	for id, e := range s.entries {
		e.mu.Lock()
		out[id] = e.value
		e.mu.Unlock()
	}
	return out
}

// ApplyDelta 对单个资产原子地执行加法、钳制与写穿，返回新值。
// 零增量是幂等的，但同样会刷新持久层的 last_updated。
func (s *Store) ApplyDelta(ctx context.Context, assetID string, delta Triple) (Triple, error) {
	if s == nil {
		return Triple{}, fmt.Errorf("bias store 未初始化")
	}
	if assetID == "" {
		return Triple{}, fmt.Errorf("asset_id 不能为空")
	}
	e := s.entryFor(assetID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value = e.value.Add(delta)
	if s.persister != nil {
		rec := Record{AssetID: assetID, Bias: e.value, LastUpdated: time.Now().UTC()}
		if err := s.persister.UpsertBias(ctx, rec); err != nil {
			logger.Warnf("偏置写穿失败 asset=%s: %v", assetID, err)
		}
	}
	return e.value, nil
}
