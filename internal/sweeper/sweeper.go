package sweeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"bloodcore/internal/clock"
	"bloodcore/internal/domain"
	"bloodcore/internal/notification"
	"bloodcore/internal/repository"
	"bloodcore/internal/service"

	"go.uber.org/zap"
)

// SweepResult 一次清扫的聚合结果
type SweepResult struct {
	Scanned      int // 扫描谓词命中的单元数
	Transitioned int // 实际完成迁移的单元数
	Skipped      int // 状态已被并发迁移改变而跳过的单元数
	Failed       int // 单元级错误（记日志后继续）
}

// Sweeper 过期清扫器
//
// 两条独立周期：物理过期清扫（默认每日）与预留超时清扫（默认每 5 分钟）。
// 单次清扫幂等、可安全重跑：已被前次运行迁移过的单元因状态不再匹配而被跳过；
// 同一清扫的并发实例通过 run-lock 跳过（CAS 本身也保证重叠无害）。
type Sweeper struct {
	unitsRepo        repository.UnitsRepository
	inventory        *service.InventoryService
	summaries        *service.SummaryService
	notifier         notification.Notifier
	clk              clock.Clock
	physicalEvery    time.Duration
	reservationEvery time.Duration
	warningDays      int
	logger           *zap.Logger

	physicalRunning    sync.Mutex
	reservationRunning sync.Mutex
}

func NewSweeper(
	unitsRepo repository.UnitsRepository,
	inventory *service.InventoryService,
	summaries *service.SummaryService,
	notifier notification.Notifier,
	clk clock.Clock,
	physicalEvery time.Duration,
	reservationEvery time.Duration,
	warningDays int,
	logger *zap.Logger,
) *Sweeper {
	return &Sweeper{
		unitsRepo:        unitsRepo,
		inventory:        inventory,
		summaries:        summaries,
		notifier:         notifier,
		clk:              clk,
		physicalEvery:    physicalEvery,
		reservationEvery: reservationEvery,
		warningDays:      warningDays,
		logger:           logger,
	}
}

// Start 启动两条清扫循环（阻塞直到 ctx 取消）
func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.Info("Sweeper started",
		zap.Duration("physical_interval", s.physicalEvery),
		zap.Duration("reservation_interval", s.reservationEvery),
	)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.loop(ctx, s.physicalEvery, s.physicalTick)
	}()
	go func() {
		defer wg.Done()
		s.loop(ctx, s.reservationEvery, s.reservationTick)
	}()

	wg.Wait()
	s.logger.Info("Sweeper stopped")
	return nil
}

func (s *Sweeper) loop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// 启动时立即执行一次
	tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

func (s *Sweeper) physicalTick(ctx context.Context) {
	// 上一次还没跑完则跳过本次（skip-if-already-running）
	if !s.physicalRunning.TryLock() {
		s.logger.Warn("Physical sweep still running, skipping tick")
		return
	}
	defer s.physicalRunning.Unlock()

	if _, err := s.RunPhysicalSweep(ctx); err != nil {
		s.logger.Error("Physical sweep failed", zap.Error(err))
	}
	if err := s.RunExpiryWarning(ctx); err != nil {
		s.logger.Error("Expiry warning check failed", zap.Error(err))
	}
}

func (s *Sweeper) reservationTick(ctx context.Context) {
	if !s.reservationRunning.TryLock() {
		s.logger.Warn("Reservation sweep still running, skipping tick")
		return
	}
	defer s.reservationRunning.Unlock()

	if _, err := s.RunReservationSweep(ctx); err != nil {
		s.logger.Error("Reservation sweep failed", zap.Error(err))
	}
}

// RunPhysicalSweep 物理过期清扫
// 扫描 AVAILABLE 且到期日已过的单元，逐个 CAS 迁移到 EXPIRED。
// 只处理 AVAILABLE：RESERVED/ISSUED 单元不在流转库存内，过期另由废弃流程处理。
func (s *Sweeper) RunPhysicalSweep(ctx context.Context) (*SweepResult, error) {
	now := s.clk.Now()
	result := &SweepResult{}

	expired, err := s.unitsRepo.ExpiredAvailable(ctx, now)
	if err != nil {
		return nil, err
	}
	result.Scanned = len(expired)

	// 受影响机构，清扫后统一失效摘要缓存
	facilities := map[string]int{}

	for _, unit := range expired {
		swapped, err := s.unitsRepo.ExpireCAS(ctx, unit.UnitID, now)
		if err != nil {
			// 单元级故障不中断批次
			result.Failed++
			s.logger.Error("Failed to expire unit",
				zap.String("unit_id", unit.UnitID),
				zap.Error(err),
			)
			continue
		}
		if !swapped {
			// 已被并发运行或其他操作迁走
			result.Skipped++
			continue
		}
		result.Transitioned++
		facilities[unit.FacilityID]++
	}

	for facilityID, count := range facilities {
		if err := s.summaries.InvalidateFacility(ctx, facilityID); err != nil {
			s.logger.Warn("Failed to invalidate summary cache after sweep",
				zap.String("facility_id", facilityID),
				zap.Error(err),
			)
		}
		s.notifier.Notify(ctx, notification.Event{
			Kind:       notification.EventUnitsExpired,
			FacilityID: facilityID,
			Payload: map[string]any{
				"expired_units": count,
			},
		})
	}

	if result.Scanned > 0 {
		s.logger.Info("Physical expiry sweep completed",
			zap.Int("scanned", result.Scanned),
			zap.Int("transitioned", result.Transitioned),
			zap.Int("skipped", result.Skipped),
			zap.Int("failed", result.Failed),
		)
	}
	return result, nil
}

// RunReservationSweep 预留超时清扫
// 扫描 RESERVED 且 reserved_until 已过的单元，释放回 AVAILABLE
func (s *Sweeper) RunReservationSweep(ctx context.Context) (*SweepResult, error) {
	now := s.clk.Now()
	result := &SweepResult{}

	timedOut, err := s.unitsRepo.ExpiredReservations(ctx, now)
	if err != nil {
		return nil, err
	}
	result.Scanned = len(timedOut)

	for _, unit := range timedOut {
		_, err := s.inventory.ReleaseUnit(ctx, unit.UnitID)
		if err != nil {
			var stateErr *domain.InvalidStateError
			if errors.As(err, &stateErr) {
				// 状态不再是 RESERVED：已被并发释放或发放，跳过
				result.Skipped++
				continue
			}
			result.Failed++
			s.logger.Error("Failed to release timed-out reservation",
				zap.String("unit_id", unit.UnitID),
				zap.Error(err),
			)
			continue
		}
		result.Transitioned++

		s.notifier.Notify(ctx, notification.Event{
			Kind:       notification.EventReservationReleased,
			FacilityID: unit.FacilityID,
			Payload: map[string]any{
				"unit_id":      unit.UnitID,
				"reserved_for": strValue(unit.ReservedFor),
			},
		})
	}

	if result.Scanned > 0 {
		s.logger.Info("Reservation timeout sweep completed",
			zap.Int("scanned", result.Scanned),
			zap.Int("transitioned", result.Transitioned),
			zap.Int("skipped", result.Skipped),
			zap.Int("failed", result.Failed),
		)
	}
	return result, nil
}

// RunExpiryWarning 到期预警（纯只读，不做任何状态变更）
// 预警窗口内到期的可用单元按机构分组发出通知
func (s *Sweeper) RunExpiryWarning(ctx context.Context) error {
	now := s.clk.Now()
	warningEnd := now.AddDate(0, 0, s.warningDays)

	expiring, err := s.unitsRepo.ExpiringBetween(ctx, now, warningEnd)
	if err != nil {
		return err
	}
	if len(expiring) == 0 {
		return nil
	}

	byFacility := map[string]int{}
	for _, unit := range expiring {
		byFacility[unit.FacilityID]++
	}

	for facilityID, count := range byFacility {
		s.notifier.Notify(ctx, notification.Event{
			Kind:       notification.EventExpiryWarning,
			FacilityID: facilityID,
			Payload: map[string]any{
				"expiring_units": count,
				"warning_days":   s.warningDays,
			},
		})
	}

	s.logger.Warn("Units expiring soon",
		zap.Int("total", len(expiring)),
		zap.Int("warning_days", s.warningDays),
	)
	return nil
}

func strValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
