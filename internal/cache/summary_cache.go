package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bloodcore/internal/models"

	"go.uber.org/zap"
)

// SummaryCache 库存摘要缓存管理器
//
// 失效契约：任何改变单元状态的操作（reserve/issue/release/discard/expire）
// 必须在操作完成前失效对应机构的缓存条目，过期 TTL 只是兜底
type SummaryCache struct {
	kv        KVStore
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

func NewSummaryCache(kv KVStore, keyPrefix string, ttl time.Duration, logger *zap.Logger) *SummaryCache {
	return &SummaryCache{
		kv:        kv,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger,
	}
}

func (c *SummaryCache) key(facilityID string) string {
	return c.keyPrefix + facilityID
}

// Get 读取机构摘要，未命中返回 ErrCacheMiss
func (c *SummaryCache) Get(ctx context.Context, facilityID string) (*models.InventorySummary, error) {
	raw, err := c.kv.Get(ctx, c.key(facilityID))
	if err != nil {
		return nil, err
	}

	var summary models.InventorySummary
	if err := json.Unmarshal([]byte(raw), &summary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal inventory summary: %w", err)
	}
	return &summary, nil
}

// Put 写入机构摘要
func (c *SummaryCache) Put(ctx context.Context, facilityID string, summary *models.InventorySummary) error {
	jsonData, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal inventory summary: %w", err)
	}

	if err := c.kv.Set(ctx, c.key(facilityID), string(jsonData), c.ttl); err != nil {
		return fmt.Errorf("failed to set summary cache: %w", err)
	}

	c.logger.Debug("Updated inventory summary cache",
		zap.String("facility_id", facilityID),
	)
	return nil
}

// Invalidate 失效单个机构的缓存条目
func (c *SummaryCache) Invalidate(ctx context.Context, facilityID string) error {
	if err := c.kv.Del(ctx, c.key(facilityID)); err != nil {
		return fmt.Errorf("failed to invalidate summary cache: %w", err)
	}

	c.logger.Debug("Invalidated inventory summary cache",
		zap.String("facility_id", facilityID),
	)
	return nil
}

// InvalidateAll 清空全部摘要缓存（批量/管理性修正后使用）
func (c *SummaryCache) InvalidateAll(ctx context.Context) error {
	if err := c.kv.DelByPrefix(ctx, c.keyPrefix); err != nil {
		return fmt.Errorf("failed to invalidate all summary cache: %w", err)
	}

	c.logger.Info("Invalidated all inventory summary cache")
	return nil
}
