package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pwava/databaseattendacetracker/internal/domain"
	"github.com/pwava/databaseattendacetracker/internal/store"
)

// CacheManager 聚合结果缓存管理器
// 每次全量重算后整体覆盖缓存，读取方（HTTP 层）永远看不到陈旧的部分更新
type CacheManager struct {
	kv        store.KV
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewCacheManager 创建缓存管理器
func NewCacheManager(kv store.KV, keyPrefix string, ttl time.Duration, logger *zap.Logger) *CacheManager {
	return &CacheManager{
		kv:        kv,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger,
	}
}

// UpdateAggregates 写入每人聚合缓存及整表快照
func (c *CacheManager) UpdateAggregates(ctx context.Context, aggregates []domain.AttendanceAggregate) error {
	for _, agg := range aggregates {
		key := fmt.Sprintf("%s%d:stats", c.keyPrefix, agg.PersonID)
		jsonData, err := json.Marshal(agg)
		if err != nil {
			return fmt.Errorf("failed to marshal aggregate: %w", err)
		}
		if err := c.kv.Set(ctx, key, string(jsonData), c.ttl); err != nil {
			return fmt.Errorf("failed to set cache: %w", err)
		}
	}

	snapshot, err := json.Marshal(aggregates)
	if err != nil {
		return fmt.Errorf("failed to marshal aggregate snapshot: %w", err)
	}
	if err := c.kv.Set(ctx, c.snapshotKey(), string(snapshot), c.ttl); err != nil {
		return fmt.Errorf("failed to set snapshot cache: %w", err)
	}

	c.logger.Debug("Updated aggregate cache",
		zap.Int("persons", len(aggregates)),
	)
	return nil
}

// GetAggregates 读取整表快照缓存；未命中返回 store.ErrMiss
func (c *CacheManager) GetAggregates(ctx context.Context) ([]domain.AttendanceAggregate, error) {
	raw, err := c.kv.Get(ctx, c.snapshotKey())
	if err != nil {
		return nil, err
	}
	var aggregates []domain.AttendanceAggregate
	if err := json.Unmarshal([]byte(raw), &aggregates); err != nil {
		return nil, fmt.Errorf("failed to decode aggregate snapshot: %w", err)
	}
	return aggregates, nil
}

func (c *CacheManager) snapshotKey() string {
	return c.keyPrefix + "all:stats"
}
