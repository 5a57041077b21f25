package service

import (
	"context"
	"fmt"
	"time"

	"bloodcore/internal/cache"
	"bloodcore/internal/clock"
	"bloodcore/internal/models"
	"bloodcore/internal/repository"

	"bloodcore/internal/domain"

	"go.uber.org/zap"
)

// SummaryService 库存摘要聚合服务
//
// 缓存是派生的加速层，不作权威数据：未命中时穿透回 Unit Store 重新聚合
type SummaryService struct {
	unitsRepo         repository.UnitsRepository
	summaryCache      *cache.SummaryCache
	clk               clock.Clock
	lowStockThreshold int
	expiryWarningDays int
	logger            *zap.Logger
}

func NewSummaryService(
	unitsRepo repository.UnitsRepository,
	summaryCache *cache.SummaryCache,
	clk clock.Clock,
	lowStockThreshold int,
	expiryWarningDays int,
	logger *zap.Logger,
) *SummaryService {
	return &SummaryService{
		unitsRepo:         unitsRepo,
		summaryCache:      summaryCache,
		clk:               clk,
		lowStockThreshold: lowStockThreshold,
		expiryWarningDays: expiryWarningDays,
		logger:            logger,
	}
}

// FacilitySummary 机构库存摘要（缓存优先，未命中重新聚合并回填）
func (s *SummaryService) FacilitySummary(ctx context.Context, facilityID string) (*models.InventorySummary, error) {
	if s.summaryCache != nil {
		summary, err := s.summaryCache.Get(ctx, facilityID)
		if err == nil {
			return summary, nil
		}
		if err != cache.ErrCacheMiss {
			// 缓存故障降级为直接聚合
			s.logger.Warn("Summary cache read failed, falling through",
				zap.String("facility_id", facilityID),
				zap.Error(err),
			)
		}
	}

	summary, err := s.computeSummary(ctx, facilityID)
	if err != nil {
		return nil, err
	}

	if s.summaryCache != nil {
		if err := s.summaryCache.Put(ctx, facilityID, summary); err != nil {
			s.logger.Warn("Failed to write summary cache",
				zap.String("facility_id", facilityID),
				zap.Error(err),
			)
		}
	}
	return summary, nil
}

// computeSummary 从 Unit Store 聚合
func (s *SummaryService) computeSummary(ctx context.Context, facilityID string) (*models.InventorySummary, error) {
	now := s.clk.Now()

	units, err := s.unitsRepo.ByFacility(ctx, facilityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load facility units: %w", err)
	}

	summary := &models.InventorySummary{
		FacilityID:     facilityID,
		GroupCount:     map[string]int{},
		ComponentCount: map[string]int{},
		GeneratedAt:    now,
	}

	var nextExpiry *time.Time
	for _, unit := range units {
		switch unit.Status {
		case domain.UnitReserved:
			summary.TotalReserved++
		case domain.UnitIssued:
			summary.TotalIssued++
		case domain.UnitDiscarded:
			summary.TotalDiscarded++
		case domain.UnitAvailable:
			if unit.IsExpired(now) {
				continue // 已过期但还没被清扫的单元不计入可用
			}
			summary.TotalAvailable++
			summary.GroupCount[unit.BloodGroup.DisplayName()]++
			summary.ComponentCount[unit.ComponentType.DisplayName()]++
			if unit.IsExpiringSoon(now, s.expiryWarningDays) {
				summary.ExpiringSoon++
			}
			if nextExpiry == nil || unit.ExpiryDate.Before(*nextExpiry) {
				expiry := unit.ExpiryDate
				nextExpiry = &expiry
			}
		}
	}

	summary.NextExpiryDate = nextExpiry
	summary.IsStockLow = summary.TotalAvailable < s.lowStockThreshold
	return summary, nil
}

// InvalidateFacility 失效单个机构条目
func (s *SummaryService) InvalidateFacility(ctx context.Context, facilityID string) error {
	if s.summaryCache == nil {
		return nil
	}
	return s.summaryCache.Invalidate(ctx, facilityID)
}

// InvalidateAll 清空摘要缓存（批量/管理性修正后使用）
func (s *SummaryService) InvalidateAll(ctx context.Context) error {
	if s.summaryCache == nil {
		return nil
	}
	return s.summaryCache.InvalidateAll(ctx)
}
