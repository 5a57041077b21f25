package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"bloodcore/internal/domain"
)

// MemoryUnitsRepo: 用于 DB 未就绪时的联测与单元测试
// - CAS 语义与 PostgreSQL 实现一致（同一单元并发 reserve 恰有一个成功）
// - 返回值均为副本，调用方修改不影响仓库内状态
type MemoryUnitsRepo struct {
	mu    sync.RWMutex
	units map[string]*domain.BloodUnit
}

func NewMemoryUnitsRepo() *MemoryUnitsRepo {
	return &MemoryUnitsRepo{
		units: map[string]*domain.BloodUnit{},
	}
}

func (r *MemoryUnitsRepo) Get(_ context.Context, unitID string) (*domain.BloodUnit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	unit, ok := r.units[unitID]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "blood_unit", ID: unitID}
	}
	return copyUnit(unit), nil
}

func (r *MemoryUnitsRepo) Create(_ context.Context, unit *domain.BloodUnit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.units[unit.UnitID] = copyUnit(unit)
	return nil
}

// ============================================
// 状态迁移（CAS，整个检查-替换在锁内完成）
// ============================================

func (r *MemoryUnitsRepo) ReserveCAS(_ context.Context, unitID, requestID string, until time.Time, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	unit, ok := r.units[unitID]
	if !ok || !unit.CanBeReserved(now) {
		return false, nil
	}
	unit.Status = domain.UnitReserved
	unit.ReservedFor = strPtr(requestID)
	unit.ReservedUntil = timePtr(until)
	unit.UpdatedAt = now
	return true, nil
}

func (r *MemoryUnitsRepo) IssueCAS(_ context.Context, unitID, destFacilityID string, issuedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	unit, ok := r.units[unitID]
	if !ok || unit.Status != domain.UnitReserved {
		return false, nil
	}
	unit.Status = domain.UnitIssued
	unit.IssuedTo = strPtr(destFacilityID)
	unit.IssuedDate = timePtr(issuedAt)
	unit.ReservedFor = nil
	unit.ReservedUntil = nil
	unit.UpdatedAt = issuedAt
	return true, nil
}

func (r *MemoryUnitsRepo) ReleaseCAS(_ context.Context, unitID string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	unit, ok := r.units[unitID]
	if !ok || unit.Status != domain.UnitReserved {
		return false, nil
	}
	unit.Status = domain.UnitAvailable
	unit.ReservedFor = nil
	unit.ReservedUntil = nil
	unit.UpdatedAt = now
	return true, nil
}

func (r *MemoryUnitsRepo) DiscardCAS(_ context.Context, unitID string, expected domain.UnitStatus, reason, operator string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	unit, ok := r.units[unitID]
	if !ok || unit.Status != expected {
		return false, nil
	}
	unit.Status = domain.UnitDiscarded
	unit.DiscardedReason = strPtr(reason)
	unit.DiscardedBy = strPtr(operator)
	unit.DiscardedDate = timePtr(at)
	unit.ReservedFor = nil
	unit.ReservedUntil = nil
	unit.UpdatedAt = at
	return true, nil
}

func (r *MemoryUnitsRepo) ExpireCAS(_ context.Context, unitID string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	unit, ok := r.units[unitID]
	if !ok || unit.Status != domain.UnitAvailable || !unit.IsExpired(now) {
		return false, nil
	}
	unit.Status = domain.UnitExpired
	unit.DiscardedReason = strPtr("Auto-expired")
	unit.DiscardedBy = strPtr("System")
	unit.DiscardedDate = timePtr(now)
	unit.UpdatedAt = now
	return true, nil
}

func (r *MemoryUnitsRepo) TransitionCAS(_ context.Context, unitID string, expected, next domain.UnitStatus, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	unit, ok := r.units[unitID]
	if !ok || unit.Status != expected {
		return false, nil
	}
	unit.Status = next
	unit.UpdatedAt = at
	return true, nil
}

// ============================================
// 扫描查询
// ============================================

func (r *MemoryUnitsRepo) FindAvailable(_ context.Context, filters AvailableFilters, now time.Time) ([]*domain.BloodUnit, error) {
	return r.scan(func(u *domain.BloodUnit) bool {
		if u.Status != domain.UnitAvailable || u.IsExpired(now) {
			return false
		}
		if filters.BloodGroup != "" && u.BloodGroup != filters.BloodGroup {
			return false
		}
		if filters.ComponentType != "" && u.ComponentType != filters.ComponentType {
			return false
		}
		if len(filters.FacilityIDs) > 0 {
			found := false
			for _, id := range filters.FacilityIDs {
				if u.FacilityID == id {
					found = true
					break
				}
			}
			return found
		}
		if filters.FacilityID != "" && u.FacilityID != filters.FacilityID {
			return false
		}
		return true
	}), nil
}

func (r *MemoryUnitsRepo) ByFacility(_ context.Context, facilityID string) ([]*domain.BloodUnit, error) {
	return r.scan(func(u *domain.BloodUnit) bool {
		return u.FacilityID == facilityID
	}), nil
}

func (r *MemoryUnitsRepo) ByFacilityAndStatus(_ context.Context, facilityID string, status domain.UnitStatus) ([]*domain.BloodUnit, error) {
	return r.scan(func(u *domain.BloodUnit) bool {
		return u.FacilityID == facilityID && u.Status == status
	}), nil
}

func (r *MemoryUnitsRepo) ByDonor(_ context.Context, donorID string) ([]*domain.BloodUnit, error) {
	return r.scan(func(u *domain.BloodUnit) bool {
		return u.DonorID == donorID
	}), nil
}

func (r *MemoryUnitsRepo) ExpiredAvailable(_ context.Context, now time.Time) ([]*domain.BloodUnit, error) {
	return r.scan(func(u *domain.BloodUnit) bool {
		return u.Status == domain.UnitAvailable && u.IsExpired(now)
	}), nil
}

func (r *MemoryUnitsRepo) ExpiringBetween(_ context.Context, from, to time.Time) ([]*domain.BloodUnit, error) {
	windowDays := int(to.Sub(from).Hours() / 24)
	return r.scan(func(u *domain.BloodUnit) bool {
		return u.Status == domain.UnitAvailable && u.IsExpiringSoon(from, windowDays)
	}), nil
}

func (r *MemoryUnitsRepo) ExpiredReservations(_ context.Context, now time.Time) ([]*domain.BloodUnit, error) {
	return r.scan(func(u *domain.BloodUnit) bool {
		return u.Status == domain.UnitReserved && u.ReservedUntil != nil && u.ReservedUntil.Before(now)
	}), nil
}

// scan 过滤并按到期日升序返回副本（与 PostgreSQL 实现同序）
func (r *MemoryUnitsRepo) scan(match func(*domain.BloodUnit) bool) []*domain.BloodUnit {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*domain.BloodUnit{}
	for _, unit := range r.units {
		if match(unit) {
			out = append(out, copyUnit(unit))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiryDate.Equal(out[j].ExpiryDate) {
			return out[i].UnitID < out[j].UnitID
		}
		return out[i].ExpiryDate.Before(out[j].ExpiryDate)
	})
	return out
}

func copyUnit(u *domain.BloodUnit) *domain.BloodUnit {
	cp := *u
	cp.ReservedFor = copyStrPtr(u.ReservedFor)
	cp.ReservedUntil = copyTimePtr(u.ReservedUntil)
	cp.IssuedTo = copyStrPtr(u.IssuedTo)
	cp.IssuedDate = copyTimePtr(u.IssuedDate)
	cp.DiscardedReason = copyStrPtr(u.DiscardedReason)
	cp.DiscardedBy = copyStrPtr(u.DiscardedBy)
	cp.DiscardedDate = copyTimePtr(u.DiscardedDate)
	return &cp
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func copyStrPtr(p *string) *string {
	if p == nil {
		return nil
	}
	s := *p
	return &s
}

func copyTimePtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	t := *p
	return &t
}
