package service

import (
	"context"
	"errors"
	"fmt"

	"bloodcore/internal/domain"
	"bloodcore/internal/repository"

	"go.uber.org/zap"
)

// AllocationResult 分配结果（部分成功也返回，是否接受由调用方决定）
type AllocationResult struct {
	RequestID string
	Requested int      // 本次需要的数量
	Reserved  int      // 本次实际预留成功的数量
	UnitIDs   []string // 预留成功的单元，按到期日升序
	Skipped   int      // 候选中被并发竞争抢走或状态已变的数量
}

// AllocationMatcher 分配匹配器
//
// 匹配策略：血型与成分类型精确匹配（不做相容性替代），
// 机构范围为外部预先解析的候选集；排序策略 first-expire-first-out，
// 最先到期的库存最先被消耗以减少报废
type AllocationMatcher struct {
	unitsRepo repository.UnitsRepository
	inventory *InventoryService
	logger    *zap.Logger
}

func NewAllocationMatcher(
	unitsRepo repository.UnitsRepository,
	inventory *InventoryService,
	logger *zap.Logger,
) *AllocationMatcher {
	return &AllocationMatcher{
		unitsRepo: unitsRepo,
		inventory: inventory,
		logger:    logger,
	}
}

// FindCandidates 查找请求的候选单元（AVAILABLE、未过期、精确匹配、按到期日升序）
// facilityScope 为可供货机构候选集，为空表示仅请求方机构自身
func (m *AllocationMatcher) FindCandidates(ctx context.Context, req *domain.BloodRequest, facilityScope []string) ([]*domain.BloodUnit, error) {
	filters := repository.AvailableFilters{
		BloodGroup:    req.BloodGroup,
		ComponentType: req.ComponentType,
	}
	if len(facilityScope) > 0 {
		filters.FacilityIDs = facilityScope
	} else {
		filters.FacilityID = req.FacilityID
	}

	candidates, err := m.unitsRepo.FindAvailable(ctx, filters, m.inventory.clk.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to find candidate units: %w", err)
	}
	return candidates, nil
}

// AllocateForRequest 为请求预留单元
//
// 按到期日升序逐个尝试预留；与并发调用方竞争失败的候选直接跳过，
// 凑够 quantity 或候选耗尽即停。允许部分分配。
func (m *AllocationMatcher) AllocateForRequest(ctx context.Context, req *domain.BloodRequest, facilityScope []string, quantity int) (*AllocationResult, error) {
	result := &AllocationResult{
		RequestID: req.RequestID,
		Requested: quantity,
		UnitIDs:   []string{},
	}
	if quantity <= 0 {
		return result, nil
	}

	candidates, err := m.FindCandidates(ctx, req, facilityScope)
	if err != nil {
		return nil, err
	}

	for _, candidate := range candidates {
		if result.Reserved >= quantity {
			break
		}

		_, err := m.inventory.ReserveUnit(ctx, candidate.UnitID, req.RequestID)
		if err != nil {
			// 竞争失败或状态已变：跳过该候选继续，不使整次分配失败
			var stateErr *domain.InvalidStateError
			if errors.As(err, &stateErr) {
				result.Skipped++
				m.logger.Debug("Candidate unit lost to concurrent caller",
					zap.String("unit_id", candidate.UnitID),
					zap.String("request_id", req.RequestID),
				)
				continue
			}
			return nil, err
		}

		result.Reserved++
		result.UnitIDs = append(result.UnitIDs, candidate.UnitID)
	}

	m.logger.Info("Allocation matching completed",
		zap.String("request_id", req.RequestID),
		zap.Int("requested", result.Requested),
		zap.Int("reserved", result.Reserved),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}
