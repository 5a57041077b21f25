package domain

import "time"

// UnitStatus 血液单元状态
type UnitStatus string

const (
	UnitAvailable   UnitStatus = "AVAILABLE"
	UnitReserved    UnitStatus = "RESERVED"
	UnitIssued      UnitStatus = "ISSUED"
	UnitInTransit   UnitStatus = "IN_TRANSIT"
	UnitTransferred UnitStatus = "TRANSFERRED"
	UnitDiscarded   UnitStatus = "DISCARDED"
	UnitExpired     UnitStatus = "EXPIRED"
)

// Terminal 是否终态（终态单元仅保留作审计，不再变更）
func (s UnitStatus) Terminal() bool {
	switch s {
	case UnitTransferred, UnitDiscarded, UnitExpired:
		return true
	}
	return false
}

// Valid 状态是否合法
func (s UnitStatus) Valid() bool {
	switch s {
	case UnitAvailable, UnitReserved, UnitIssued, UnitInTransit,
		UnitTransferred, UnitDiscarded, UnitExpired:
		return true
	}
	return false
}

// BloodUnit 血液单元领域模型（对应 blood_units 表）
//
// 不变量：
// - status == RESERVED 当且仅当 ReservedFor/ReservedUntil 同时有值
// - ExpiryDate = CollectionDate + 成分保质期
// - 单元同一时刻至多被一个请求预留
type BloodUnit struct {
	UnitID         string        `db:"unit_id"`
	DonationID     string        `db:"donation_id"`
	DonorID        string        `db:"donor_id"`
	BloodGroup     BloodGroup    `db:"blood_group"`
	ComponentType  ComponentType `db:"component_type"`
	VolumeML       int           `db:"volume_ml"`
	CollectionDate time.Time     `db:"collection_date"`
	ExpiryDate     time.Time     `db:"expiry_date"`

	Status     UnitStatus `db:"status"`
	FacilityID string     `db:"facility_id"` // 归属机构（血库）

	StorageLocation string `db:"storage_location"`
	BatchNumber     string `db:"batch_number"`

	// 预留字段（仅 RESERVED 状态有值）
	ReservedFor   *string    `db:"reserved_for"`
	ReservedUntil *time.Time `db:"reserved_until"`

	// 发放字段（ISSUED 后有值）
	IssuedTo   *string    `db:"issued_to"`
	IssuedDate *time.Time `db:"issued_date"`

	// 废弃/过期审计字段
	DiscardedReason *string    `db:"discarded_reason"`
	DiscardedBy     *string    `db:"discarded_by"`
	DiscardedDate   *time.Time `db:"discarded_date"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// IsExpired 是否已物理过期（到期日在 now 的日期之前）
func (u *BloodUnit) IsExpired(now time.Time) bool {
	return dateOf(now).After(dateOf(u.ExpiryDate))
}

// IsExpiringSoon 是否即将过期（到期日落在 [today, today+windowDays] 内）
// 纯只读判定，用于预警，不做任何状态变更
func (u *BloodUnit) IsExpiringSoon(now time.Time, windowDays int) bool {
	today := dateOf(now)
	warningDate := today.AddDate(0, 0, windowDays)
	expiry := dateOf(u.ExpiryDate)
	return !expiry.After(warningDate) && !expiry.Before(today)
}

// CanBeReserved 是否可被预留（AVAILABLE 且未过期）
func (u *BloodUnit) CanBeReserved(now time.Time) bool {
	return u.Status == UnitAvailable && !u.IsExpired(now)
}

// dateOf 截断到日期（过期判定按日，不按时刻）
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
