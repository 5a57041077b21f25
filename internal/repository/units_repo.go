package repository

import (
	"context"
	"time"

	"bloodcore/internal/domain"
)

// UnitsRepository 血液单元仓库接口
// 使用强类型领域模型，不使用map[string]any
//
// 所有状态迁移方法均为单次 compare-and-set：以期望状态为条件的条件更新，
// 返回值 bool 表示本次调用是否真正完成了迁移（false = 状态不匹配或记录不存在，
// 由调用方通过 Get 区分两者）。并发竞争同一单元时恰有一个调用方得到 true。
type UnitsRepository interface {
	// 基础操作
	Get(ctx context.Context, unitID string) (*domain.BloodUnit, error)
	Create(ctx context.Context, unit *domain.BloodUnit) error

	// 状态迁移（CAS）
	// ReserveCAS: AVAILABLE -> RESERVED，条件中同时校验未过期（按日判定）
	ReserveCAS(ctx context.Context, unitID, requestID string, until time.Time, now time.Time) (bool, error)
	// IssueCAS: RESERVED -> ISSUED，清预留字段，记录发放目的地与时间
	IssueCAS(ctx context.Context, unitID, destFacilityID string, issuedAt time.Time) (bool, error)
	// ReleaseCAS: RESERVED -> AVAILABLE，清预留字段
	ReleaseCAS(ctx context.Context, unitID string, now time.Time) (bool, error)
	// DiscardCAS: expected（非终态） -> DISCARDED，写审计字段
	DiscardCAS(ctx context.Context, unitID string, expected domain.UnitStatus, reason, operator string, at time.Time) (bool, error)
	// ExpireCAS: AVAILABLE 且到期日已过 -> EXPIRED，写审计字段（扫描与条件在同一语句内）
	ExpireCAS(ctx context.Context, unitID string, now time.Time) (bool, error)
	// TransitionCAS: expected -> next（用于 ISSUED -> IN_TRANSIT -> TRANSFERRED 等运输迁移）
	TransitionCAS(ctx context.Context, unitID string, expected, next domain.UnitStatus, at time.Time) (bool, error)

	// 扫描查询
	// FindAvailable: AVAILABLE 且未过期，按到期日升序（first-expire-first-out）
	FindAvailable(ctx context.Context, filters AvailableFilters, now time.Time) ([]*domain.BloodUnit, error)
	ByFacility(ctx context.Context, facilityID string) ([]*domain.BloodUnit, error)
	ByFacilityAndStatus(ctx context.Context, facilityID string, status domain.UnitStatus) ([]*domain.BloodUnit, error)
	ByDonor(ctx context.Context, donorID string) ([]*domain.BloodUnit, error)
	// ExpiredAvailable: AVAILABLE 且到期日在 now 之前（物理过期清扫的输入）
	ExpiredAvailable(ctx context.Context, now time.Time) ([]*domain.BloodUnit, error)
	// ExpiringBetween: AVAILABLE 且到期日落在 [from, to]（到期预警的输入，只读）
	ExpiringBetween(ctx context.Context, from, to time.Time) ([]*domain.BloodUnit, error)
	// ExpiredReservations: RESERVED 且 reserved_until < now（预留超时清扫的输入）
	ExpiredReservations(ctx context.Context, now time.Time) ([]*domain.BloodUnit, error)
}

// AvailableFilters 可用单元查询过滤器（零值字段表示不过滤）
type AvailableFilters struct {
	BloodGroup    domain.BloodGroup
	ComponentType domain.ComponentType
	FacilityID    string
	FacilityIDs   []string // 机构候选集（分配匹配用，优先于 FacilityID）
}
