package service

import (
	"context"
	"fmt"
	"time"

	"bloodcore/internal/cache"
	"bloodcore/internal/clock"
	"bloodcore/internal/domain"
	"bloodcore/internal/repository"

	"go.uber.org/zap"
)

// SearchCriteria 可用单元检索条件（封闭的判别联合）
type SearchCriteria interface {
	isSearchCriteria()
}

// ByGroup 按血型检索
type ByGroup struct {
	Group domain.BloodGroup
}

// ByComponent 按成分类型检索
type ByComponent struct {
	Component domain.ComponentType
}

// ByFacility 按机构检索
type ByFacility struct {
	FacilityID string
}

// Combined 组合检索
type Combined struct {
	Group      domain.BloodGroup
	Component  domain.ComponentType
	FacilityID string
}

func (ByGroup) isSearchCriteria()     {}
func (ByComponent) isSearchCriteria() {}
func (ByFacility) isSearchCriteria()  {}
func (Combined) isSearchCriteria()    {}

// InventoryService 血液单元库存服务（预留状态机 + 可用检索）
//
// 状态机：AVAILABLE -> RESERVED -> ISSUED -> IN_TRANSIT -> TRANSFERRED
// AVAILABLE -> EXPIRED（终态）；任意非终态 -> DISCARDED（终态，人工）
// 每次迁移都是仓库层的单条 compare-and-set，并发竞争恰有一个成功
type InventoryService struct {
	unitsRepo      repository.UnitsRepository
	summaryCache   *cache.SummaryCache
	clk            clock.Clock
	reservationTTL time.Duration
	logger         *zap.Logger
}

func NewInventoryService(
	unitsRepo repository.UnitsRepository,
	summaryCache *cache.SummaryCache,
	clk clock.Clock,
	reservationTTL time.Duration,
	logger *zap.Logger,
) *InventoryService {
	return &InventoryService{
		unitsRepo:      unitsRepo,
		summaryCache:   summaryCache,
		clk:            clk,
		reservationTTL: reservationTTL,
		logger:         logger,
	}
}

// ReserveUnit 预留血液单元（AVAILABLE -> RESERVED）
// 仅当单元可用且未过期时成功；预留保持 reservationTTL，超时由清扫器自动释放
func (s *InventoryService) ReserveUnit(ctx context.Context, unitID, requestID string) (*domain.BloodUnit, error) {
	now := s.clk.Now()
	until := now.Add(s.reservationTTL)

	swapped, err := s.unitsRepo.ReserveCAS(ctx, unitID, requestID, until, now)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve unit: %w", err)
	}

	unit, err := s.unitsRepo.Get(ctx, unitID)
	if err != nil {
		return nil, err // NotFoundError 原样上抛
	}

	if !swapped {
		return nil, &domain.InvalidStateError{
			Entity: "blood_unit",
			ID:     unitID,
			Status: string(unit.Status),
			Op:     "reserve",
		}
	}

	s.invalidateSummary(ctx, unit.FacilityID)
	s.logger.Info("Blood unit reserved",
		zap.String("unit_id", unitID),
		zap.String("request_id", requestID),
		zap.Time("reserved_until", until),
	)
	return unit, nil
}

// IssueUnit 发放血液单元（RESERVED -> ISSUED）
func (s *InventoryService) IssueUnit(ctx context.Context, unitID, destFacilityID string) (*domain.BloodUnit, error) {
	now := s.clk.Now()

	swapped, err := s.unitsRepo.IssueCAS(ctx, unitID, destFacilityID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to issue unit: %w", err)
	}

	unit, err := s.unitsRepo.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}

	if !swapped {
		return nil, &domain.InvalidStateError{
			Entity: "blood_unit",
			ID:     unitID,
			Status: string(unit.Status),
			Op:     "issue",
		}
	}

	s.invalidateSummary(ctx, unit.FacilityID)
	s.logger.Info("Blood unit issued",
		zap.String("unit_id", unitID),
		zap.String("issued_to", destFacilityID),
	)
	return unit, nil
}

// ReleaseUnit 释放预留（RESERVED -> AVAILABLE）
// 显式取消与预留超时清扫共用此路径
func (s *InventoryService) ReleaseUnit(ctx context.Context, unitID string) (*domain.BloodUnit, error) {
	now := s.clk.Now()

	swapped, err := s.unitsRepo.ReleaseCAS(ctx, unitID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to release unit: %w", err)
	}

	unit, err := s.unitsRepo.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}

	if !swapped {
		return nil, &domain.InvalidStateError{
			Entity: "blood_unit",
			ID:     unitID,
			Status: string(unit.Status),
			Op:     "release",
		}
	}

	s.invalidateSummary(ctx, unit.FacilityID)
	s.logger.Info("Blood unit reservation released",
		zap.String("unit_id", unitID),
	)
	return unit, nil
}

// DiscardUnit 废弃血液单元（任意非终态 -> DISCARDED）
func (s *InventoryService) DiscardUnit(ctx context.Context, unitID, reason, operator string) (*domain.BloodUnit, error) {
	// 观察到的状态可能被并发迁移改变，有限重试
	for attempt := 0; attempt < 3; attempt++ {
		unit, err := s.unitsRepo.Get(ctx, unitID)
		if err != nil {
			return nil, err
		}
		if unit.Status.Terminal() {
			return nil, &domain.InvalidStateError{
				Entity: "blood_unit",
				ID:     unitID,
				Status: string(unit.Status),
				Op:     "discard",
			}
		}

		swapped, err := s.unitsRepo.DiscardCAS(ctx, unitID, unit.Status, reason, operator, s.clk.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to discard unit: %w", err)
		}
		if !swapped {
			continue // 状态已被并发修改，重读后重试
		}

		discarded, err := s.unitsRepo.Get(ctx, unitID)
		if err != nil {
			return nil, err
		}
		s.invalidateSummary(ctx, discarded.FacilityID)
		s.logger.Info("Blood unit discarded",
			zap.String("unit_id", unitID),
			zap.String("reason", reason),
			zap.String("operator", operator),
		)
		return discarded, nil
	}

	return nil, fmt.Errorf("failed to discard unit %s: too many concurrent status changes", unitID)
}

// MarkInTransit 标记运输中（ISSUED -> IN_TRANSIT）
func (s *InventoryService) MarkInTransit(ctx context.Context, unitID string) (*domain.BloodUnit, error) {
	return s.transit(ctx, unitID, domain.UnitIssued, domain.UnitInTransit, "mark_in_transit")
}

// MarkTransferred 标记转运完成（IN_TRANSIT -> TRANSFERRED，终态）
func (s *InventoryService) MarkTransferred(ctx context.Context, unitID string) (*domain.BloodUnit, error) {
	return s.transit(ctx, unitID, domain.UnitInTransit, domain.UnitTransferred, "mark_transferred")
}

func (s *InventoryService) transit(ctx context.Context, unitID string, expected, next domain.UnitStatus, op string) (*domain.BloodUnit, error) {
	swapped, err := s.unitsRepo.TransitionCAS(ctx, unitID, expected, next, s.clk.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}

	unit, err := s.unitsRepo.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}

	if !swapped {
		return nil, &domain.InvalidStateError{
			Entity: "blood_unit",
			ID:     unitID,
			Status: string(unit.Status),
			Op:     op,
		}
	}

	s.invalidateSummary(ctx, unit.FacilityID)
	return unit, nil
}

// SearchAvailableUnits 检索可用且未过期的单元（按到期日升序）
func (s *InventoryService) SearchAvailableUnits(ctx context.Context, criteria SearchCriteria) ([]*domain.BloodUnit, error) {
	now := s.clk.Now()

	var filters repository.AvailableFilters
	switch c := criteria.(type) {
	case ByGroup:
		filters.BloodGroup = c.Group
	case ByComponent:
		filters.ComponentType = c.Component
	case ByFacility:
		filters.FacilityID = c.FacilityID
	case Combined:
		filters.BloodGroup = c.Group
		filters.ComponentType = c.Component
		filters.FacilityID = c.FacilityID
	default:
		return nil, &domain.ValidationError{Field: "criteria", Reason: "unknown search criteria"}
	}

	return s.unitsRepo.FindAvailable(ctx, filters, now)
}

// RegisterUnit 登记新血液单元（由捐献处理流程调用）
// 到期日由采集日期与成分保质期推导，不接受外部传入
func (s *InventoryService) RegisterUnit(ctx context.Context, unit *domain.BloodUnit) (*domain.BloodUnit, error) {
	if !unit.BloodGroup.Valid() {
		return nil, &domain.ValidationError{Field: "blood_group", Reason: "invalid blood group: " + string(unit.BloodGroup)}
	}
	if !unit.ComponentType.Valid() {
		return nil, &domain.ValidationError{Field: "component_type", Reason: "invalid component type: " + string(unit.ComponentType)}
	}
	if unit.VolumeML <= 0 {
		return nil, &domain.ValidationError{Field: "volume_ml", Reason: "volume must be positive"}
	}

	now := s.clk.Now()
	unit.Status = domain.UnitAvailable
	unit.ExpiryDate = domain.ExpiryDate(unit.CollectionDate, unit.ComponentType)
	unit.CreatedAt = now
	unit.UpdatedAt = now

	if err := s.unitsRepo.Create(ctx, unit); err != nil {
		return nil, fmt.Errorf("failed to register unit: %w", err)
	}

	s.invalidateSummary(ctx, unit.FacilityID)
	s.logger.Info("Blood unit registered",
		zap.String("unit_id", unit.UnitID),
		zap.String("blood_group", unit.BloodGroup.DisplayName()),
		zap.String("component_type", unit.ComponentType.DisplayName()),
		zap.Time("expiry_date", unit.ExpiryDate),
	)
	return unit, nil
}

// GetUnit 查询单元
func (s *InventoryService) GetUnit(ctx context.Context, unitID string) (*domain.BloodUnit, error) {
	return s.unitsRepo.Get(ctx, unitID)
}

// invalidateSummary 失效机构摘要缓存
// 缓存是派生的加速层，失效失败只记日志（TTL 兜底），不影响已完成的状态迁移
func (s *InventoryService) invalidateSummary(ctx context.Context, facilityID string) {
	if s.summaryCache == nil {
		return
	}
	if err := s.summaryCache.Invalidate(ctx, facilityID); err != nil {
		s.logger.Warn("Failed to invalidate summary cache",
			zap.String("facility_id", facilityID),
			zap.Error(err),
		)
	}
}
