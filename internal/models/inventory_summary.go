package models

import "time"

// InventorySummary 机构库存摘要（缓存与上报用的聚合结果）
type InventorySummary struct {
	FacilityID string `json:"facility_id"`

	TotalAvailable int `json:"total_available"` // 可用且未过期
	TotalReserved  int `json:"total_reserved"`
	TotalIssued    int `json:"total_issued"`
	TotalDiscarded int `json:"total_discarded"`
	ExpiringSoon   int `json:"expiring_soon"` // 预警窗口内到期的可用单元

	// 仅统计可用单元，键为显示名称（如 "A+" / "Whole Blood"）
	GroupCount     map[string]int `json:"group_count"`
	ComponentCount map[string]int `json:"component_count"`

	NextExpiryDate *time.Time `json:"next_expiry_date"` // 可用单元中最近的到期日
	IsStockLow     bool       `json:"is_stock_low"`

	GeneratedAt time.Time `json:"generated_at"`
}
