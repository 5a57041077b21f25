package domain

import (
	"strings"
	"time"
)

// UrgencyLevel 请求紧急级别
// 紧急级别影响通知路由，不影响分配排序
type UrgencyLevel string

const (
	UrgencyCritical  UrgencyLevel = "CRITICAL"
	UrgencyUrgent    UrgencyLevel = "URGENT"
	UrgencyHigh      UrgencyLevel = "HIGH"
	UrgencyNormal    UrgencyLevel = "NORMAL"
	UrgencyScheduled UrgencyLevel = "SCHEDULED"
)

var urgencyDisplay = map[UrgencyLevel]string{
	UrgencyCritical:  "Critical - Immediate",
	UrgencyUrgent:    "Urgent - Within 2 hours",
	UrgencyHigh:      "High - Within 6 hours",
	UrgencyNormal:    "Normal - Within 24 hours",
	UrgencyScheduled: "Scheduled - Planned",
}

// DisplayName 显示名称
func (u UrgencyLevel) DisplayName() string {
	if name, ok := urgencyDisplay[u]; ok {
		return name
	}
	return string(u)
}

// Valid 紧急级别是否合法
func (u UrgencyLevel) Valid() bool {
	_, ok := urgencyDisplay[u]
	return ok
}

// Emergency 是否属于应急级别（应急请求查询与通知路由使用）
func (u UrgencyLevel) Emergency() bool {
	return u == UrgencyCritical || u == UrgencyUrgent
}

// ParseUrgencyLevel 解析紧急级别字符串
func ParseUrgencyLevel(value string) (UrgencyLevel, error) {
	level := UrgencyLevel(strings.ToUpper(strings.TrimSpace(value)))
	if !level.Valid() {
		return "", &ValidationError{Field: "urgency_level", Reason: "invalid urgency level: " + value}
	}
	return level, nil
}

// RequestStatus 血液请求状态
type RequestStatus string

const (
	RequestPending    RequestStatus = "PENDING"
	RequestApproved   RequestStatus = "APPROVED"
	RequestAllocated  RequestStatus = "ALLOCATED"
	RequestDispatched RequestStatus = "DISPATCHED"
	RequestDelivered  RequestStatus = "DELIVERED"
	RequestRejected   RequestStatus = "REJECTED"
	RequestCancelled  RequestStatus = "CANCELLED"
)

// Terminal 是否终态（终态请求不可再变更）
func (s RequestStatus) Terminal() bool {
	switch s {
	case RequestDelivered, RequestRejected, RequestCancelled:
		return true
	}
	return false
}

// BloodRequest 血液请求领域模型（对应 blood_requests 表）
//
// 不变量：len(AllocatedUnits) <= QuantityUnits；
// AllocatedUnits 中每个 ID 对应的单元必须处于为本请求 RESERVED 或 ISSUED 状态
type BloodRequest struct {
	RequestID  string `db:"request_id"`
	FacilityID string `db:"facility_id"` // 请求方机构（医院）

	PatientID     string `db:"patient_id"`
	PatientName   string `db:"patient_name"`
	PatientAge    int    `db:"patient_age"`
	PatientGender string `db:"patient_gender"`

	BloodGroup    BloodGroup    `db:"blood_group"`
	ComponentType ComponentType `db:"component_type"`
	QuantityUnits int           `db:"quantity_units"`
	RequiredBy    time.Time     `db:"required_by"`
	Reason        string        `db:"reason"`
	UrgencyLevel  UrgencyLevel  `db:"urgency_level"`

	DoctorName    string `db:"doctor_name"`
	DoctorContact string `db:"doctor_contact"`
	RequestedBy   string `db:"requested_by"`

	Status          RequestStatus `db:"status"`
	AllocatedUnits  []string      `db:"allocated_units"` // 有序的已分配单元 ID 列表
	RejectionReason *string       `db:"rejection_reason"`
	CompletedAt     *time.Time    `db:"completed_at"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// RemainingQuantity 尚未分配的数量
func (r *BloodRequest) RemainingQuantity() int {
	remaining := r.QuantityUnits - len(r.AllocatedUnits)
	if remaining < 0 {
		return 0
	}
	return remaining
}
