package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stemlab-dev/idonat/internal/models"
)

// Sweep 一次巡检的结果快照
type Sweep struct {
	CompletedAt time.Time              `json:"completed_at"`
	Alerts      []models.ShortageAlert `json:"alerts"`
}

// LatestStore 保存最近一次巡检结果（供管理 API 查询）
type LatestStore struct {
	kv     KVStore
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

// NewLatestStore 创建巡检结果存储；ttl 为 0 表示不过期
func NewLatestStore(kv KVStore, key string, ttl time.Duration, logger *zap.Logger) *LatestStore {
	return &LatestStore{
		kv:     kv,
		key:    key,
		ttl:    ttl,
		logger: logger,
	}
}

// SaveSweep 覆盖保存巡检结果
func (s *LatestStore) SaveSweep(ctx context.Context, alerts []models.ShortageAlert, at time.Time) error {
	if alerts == nil {
		alerts = []models.ShortageAlert{}
	}
	data, err := json.Marshal(Sweep{CompletedAt: at, Alerts: alerts})
	if err != nil {
		return fmt.Errorf("failed to marshal sweep: %w", err)
	}
	if err := s.kv.Set(ctx, s.key, string(data), s.ttl); err != nil {
		return fmt.Errorf("failed to save sweep: %w", err)
	}

	s.logger.Debug("Saved latest shortage sweep",
		zap.String("key", s.key),
		zap.Int("alerts", len(alerts)),
	)
	return nil
}

// Latest 读取最近一次巡检结果，尚无巡检时返回 nil
func (s *LatestStore) Latest(ctx context.Context) (*Sweep, error) {
	raw, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read sweep: %w", err)
	}

	var sweep Sweep
	if err := json.Unmarshal([]byte(raw), &sweep); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sweep: %w", err)
	}
	return &sweep, nil
}
