package gormstore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"learnagent/internal/bias"
)

// GormStore 基于 Gorm + SQLite 持久化资产偏置与学习运行审计记录。
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 打开（或创建）数据库文件并迁移表结构。
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(&sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&assetBiasModel{}, &learningRunModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP reads
	// while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

// Close 关闭底层数据库连接。
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ bias.Persister = (*GormStore)(nil)

// --------------------- 偏置持久化 -------------------------

func (s *GormStore) LoadAllBiases(ctx context.Context) ([]bias.Record, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var models []assetBiasModel
	if err := s.db.WithContext(ctx).Find(&models).Error; err != nil {
		return nil, err
	}
	records := make([]bias.Record, 0, len(models))
	for _, m := range models {
		records = append(records, bias.Record{
			AssetID: m.AssetID,
			Bias: bias.Triple{
				Bull: m.BullBias,
				Bear: m.BearBias,
				Vol:  m.VolBias,
			},
			LastUpdated: millisToTime(m.LastUpdated),
		})
	}
	return records, nil
}

func (s *GormStore) UpsertBias(ctx context.Context, rec bias.Record) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	rec.AssetID = strings.TrimSpace(rec.AssetID)
	if rec.AssetID == "" {
		return fmt.Errorf("asset_id 必填")
	}
	if rec.LastUpdated.IsZero() {
		rec.LastUpdated = time.Now().UTC()
	}
	model := assetBiasModel{
		AssetID:     rec.AssetID,
		BullBias:    rec.Bias.Bull,
		BearBias:    rec.Bias.Bear,
		VolBias:     rec.Bias.Vol,
		LastUpdated: rec.LastUpdated.UnixMilli(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "asset_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"bull_bias", "bear_bias", "vol_bias", "last_updated"}),
		}).
		Create(&model).Error
}

// --------------------- 学习运行审计 -------------------------

// LearningRunRecord 是一次学习周期的审计快照。
type LearningRunRecord struct {
	RunID         string
	CorrelationID string
	State         string
	DeltasJSON    []byte
	ReasoningJSON []byte
	CreatedAt     time.Time
}

func (s *GormStore) AppendLearningRun(ctx context.Context, rec LearningRunRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if strings.TrimSpace(rec.RunID) == "" {
		return fmt.Errorf("run_id 必填")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	model := learningRunModel{
		RunID:         strings.TrimSpace(rec.RunID),
		CorrelationID: strings.TrimSpace(rec.CorrelationID),
		State:         strings.TrimSpace(rec.State),
		Deltas:        datatypes.JSON(jsonOrEmptyObject(rec.DeltasJSON)),
		Reasoning:     datatypes.JSON(jsonOrEmptyArray(rec.ReasoningJSON)),
		CreatedAtUnix: rec.CreatedAt.UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *GormStore) ListRecentRuns(ctx context.Context, limit int) ([]LearningRunRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var models []learningRunModel
	if err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]LearningRunRecord, 0, len(models))
	for _, m := range models {
		out = append(out, LearningRunRecord{
			RunID:         m.RunID,
			CorrelationID: m.CorrelationID,
			State:         m.State,
			DeltasJSON:    []byte(m.Deltas),
			ReasoningJSON: []byte(m.Reasoning),
			CreatedAt:     millisToTime(m.CreatedAtUnix),
		})
	}
	return out, nil
}

// --------------------------- 模型 ------------------------------------

type assetBiasModel struct {
	AssetID     string  `gorm:"column:asset_id;primaryKey"`
	BullBias    float64 `gorm:"column:bull_bias"`
	BearBias    float64 `gorm:"column:bear_bias"`
	VolBias     float64 `gorm:"column:vol_bias"`
	LastUpdated int64   `gorm:"column:last_updated"`
}

func (assetBiasModel) TableName() string { return "asset_biases" }

type learningRunModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	RunID         string         `gorm:"column:run_id;index"`
	CorrelationID string         `gorm:"column:correlation_id"`
	State         string         `gorm:"column:state"`
	Deltas        datatypes.JSON `gorm:"column:deltas"`
	Reasoning     datatypes.JSON `gorm:"column:reasoning"`
	CreatedAtUnix int64          `gorm:"column:created_at;index"`
}

func (learningRunModel) TableName() string { return "learning_runs" }

// --------------------------- 辅助函数 ------------------------------------

func ensureDir(path string) error {
	dir := filepathDir(path)
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func filepathDir(path string) string {
	last := strings.LastIndex(path, "/")
	if last == -1 {
		last = strings.LastIndex(path, "\\")
	}
	if last == -1 {
		return ""
	}
	return path[:last]
}

func jsonOrEmptyObject(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}

func jsonOrEmptyArray(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("[]")
	}
	return raw
}

func millisToTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}
