package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bloodcore/internal/clock"
	"bloodcore/internal/domain"
	"bloodcore/internal/idgen"
	"bloodcore/internal/notification"
	"bloodcore/internal/repository"

	"go.uber.org/zap"
)

// CreateRequestInput 创建血液请求入参
type CreateRequestInput struct {
	FacilityID    string
	PatientID     string
	PatientName   string
	PatientAge    int
	PatientGender string
	BloodGroup    string // 原始字符串，内部解析
	ComponentType string
	QuantityUnits int
	RequiredBy    time.Time
	Reason        string
	UrgencyLevel  string
	DoctorName    string
	DoctorContact string
	RequestedBy   string
}

// RequestService 血液请求生命周期服务
//
// 状态机：PENDING -> APPROVED -> ALLOCATED -> DISPATCHED -> DELIVERED
// REJECTED/CANCELLED 可从 PENDING/APPROVED 进入；终态请求不可再变更
type RequestService struct {
	requestsRepo repository.RequestsRepository
	inventory    *InventoryService
	matcher      *AllocationMatcher
	notifier     notification.Notifier
	ids          idgen.Generator
	clk          clock.Clock
	logger       *zap.Logger
}

func NewRequestService(
	requestsRepo repository.RequestsRepository,
	inventory *InventoryService,
	matcher *AllocationMatcher,
	notifier notification.Notifier,
	ids idgen.Generator,
	clk clock.Clock,
	logger *zap.Logger,
) *RequestService {
	return &RequestService{
		requestsRepo: requestsRepo,
		inventory:    inventory,
		matcher:      matcher,
		notifier:     notifier,
		ids:          ids,
		clk:          clk,
		logger:       logger,
	}
}

// CreateRequest 创建血液请求（初始状态 PENDING）
// CRITICAL 请求立即发出应急通知（尽力送达，不阻塞）
func (s *RequestService) CreateRequest(ctx context.Context, input CreateRequestInput) (*domain.BloodRequest, error) {
	if input.QuantityUnits < 1 {
		return nil, &domain.ValidationError{Field: "quantity_units", Reason: "quantity must be at least 1"}
	}
	bloodGroup, err := domain.ParseBloodGroup(input.BloodGroup)
	if err != nil {
		return nil, err
	}
	componentType, err := domain.ParseComponentType(input.ComponentType)
	if err != nil {
		return nil, err
	}
	urgency, err := domain.ParseUrgencyLevel(input.UrgencyLevel)
	if err != nil {
		return nil, err
	}
	if input.FacilityID == "" {
		return nil, &domain.ValidationError{Field: "facility_id", Reason: "facility id is required"}
	}

	now := s.clk.Now()
	req := &domain.BloodRequest{
		RequestID:      s.ids.Next("REQ"),
		FacilityID:     input.FacilityID,
		PatientID:      input.PatientID,
		PatientName:    input.PatientName,
		PatientAge:     input.PatientAge,
		PatientGender:  input.PatientGender,
		BloodGroup:     bloodGroup,
		ComponentType:  componentType,
		QuantityUnits:  input.QuantityUnits,
		RequiredBy:     input.RequiredBy,
		Reason:         input.Reason,
		UrgencyLevel:   urgency,
		DoctorName:     input.DoctorName,
		DoctorContact:  input.DoctorContact,
		RequestedBy:    input.RequestedBy,
		Status:         domain.RequestPending,
		AllocatedUnits: []string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.requestsRepo.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to create blood request: %w", err)
	}

	if urgency == domain.UrgencyCritical {
		s.notifier.Notify(ctx, notification.Event{
			Kind:       notification.EventEmergencyRequest,
			FacilityID: req.FacilityID,
			Payload: map[string]any{
				"request_id":     req.RequestID,
				"patient_name":   req.PatientName,
				"blood_group":    req.BloodGroup.DisplayName(),
				"component_type": req.ComponentType.DisplayName(),
				"quantity_units": req.QuantityUnits,
				"urgency_level":  req.UrgencyLevel.DisplayName(),
			},
		})
	}

	s.logger.Info("Blood request created",
		zap.String("request_id", req.RequestID),
		zap.String("facility_id", req.FacilityID),
		zap.String("urgency_level", string(req.UrgencyLevel)),
		zap.Int("quantity_units", req.QuantityUnits),
	)
	return req, nil
}

// ApproveRequest 审批通过（PENDING -> APPROVED）
func (s *RequestService) ApproveRequest(ctx context.Context, requestID string) (*domain.BloodRequest, error) {
	return s.advance(ctx, requestID, "approve", []domain.RequestStatus{domain.RequestPending},
		func(req *domain.BloodRequest) {
			req.Status = domain.RequestApproved
		})
}

// RejectRequest 驳回（PENDING/APPROVED -> REJECTED，终态）
func (s *RequestService) RejectRequest(ctx context.Context, requestID, reason string) (*domain.BloodRequest, error) {
	return s.advance(ctx, requestID, "reject",
		[]domain.RequestStatus{domain.RequestPending, domain.RequestApproved},
		func(req *domain.BloodRequest) {
			req.Status = domain.RequestRejected
			req.RejectionReason = &reason
		})
}

// CancelRequest 取消（PENDING/APPROVED -> CANCELLED，终态）
// 已有预留单元时先释放回库存
func (s *RequestService) CancelRequest(ctx context.Context, requestID string) (*domain.BloodRequest, error) {
	req, err := s.requestsRepo.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.RequestPending && req.Status != domain.RequestApproved {
		return nil, &domain.InvalidStateError{
			Entity: "blood_request",
			ID:     requestID,
			Status: string(req.Status),
			Op:     "cancel",
		}
	}

	// 释放已预留的单元（逐个，失败记日志继续；超时清扫兜底）
	for _, unitID := range req.AllocatedUnits {
		if _, err := s.inventory.ReleaseUnit(ctx, unitID); err != nil {
			s.logger.Warn("Failed to release unit on request cancel",
				zap.String("request_id", requestID),
				zap.String("unit_id", unitID),
				zap.Error(err),
			)
		}
	}

	req.Status = domain.RequestCancelled
	req.AllocatedUnits = []string{}
	req.UpdatedAt = s.clk.Now()
	if err := s.requestsRepo.Update(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to cancel request: %w", err)
	}

	s.logger.Info("Blood request cancelled",
		zap.String("request_id", requestID),
	)
	return req, nil
}

// AllocateRequest 匹配并预留单元（PENDING/APPROVED/ALLOCATED -> ALLOCATED）
//
// 运行匹配器补足剩余数量；部分分配允许，至少预留到一个单元时置为
// ALLOCATED（缺口通过 len(AllocatedUnits) < QuantityUnits 可见），
// 一个都没预留到则状态保持不变。对 ALLOCATED 请求重复调用为补配。
func (s *RequestService) AllocateRequest(ctx context.Context, requestID string, facilityScope []string) (*domain.BloodRequest, *AllocationResult, error) {
	req, err := s.requestsRepo.Get(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.allocatable(req); err != nil {
		return nil, nil, err
	}

	result, err := s.matcher.AllocateForRequest(ctx, req, facilityScope, req.RemainingQuantity())
	if err != nil {
		return nil, nil, err
	}

	return s.recordAllocation(ctx, req, result)
}

// AllocateUnits 按显式候选列表预留单元
// 逐个尝试预留，累计成功子集；与 AllocateRequest 相同的部分分配策略
func (s *RequestService) AllocateUnits(ctx context.Context, requestID string, unitIDs []string) (*domain.BloodRequest, *AllocationResult, error) {
	req, err := s.requestsRepo.Get(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.allocatable(req); err != nil {
		return nil, nil, err
	}

	result := &AllocationResult{
		RequestID: requestID,
		Requested: req.RemainingQuantity(),
		UnitIDs:   []string{},
	}
	for _, unitID := range unitIDs {
		if result.Reserved >= result.Requested {
			break
		}
		if _, err := s.inventory.ReserveUnit(ctx, unitID, requestID); err != nil {
			var stateErr *domain.InvalidStateError
			var notFound *domain.NotFoundError
			if errors.As(err, &stateErr) || errors.As(err, &notFound) {
				result.Skipped++
				continue
			}
			return nil, nil, err
		}
		result.Reserved++
		result.UnitIDs = append(result.UnitIDs, unitID)
	}

	return s.recordAllocation(ctx, req, result)
}

func (s *RequestService) allocatable(req *domain.BloodRequest) error {
	switch req.Status {
	case domain.RequestPending, domain.RequestApproved, domain.RequestAllocated:
		return nil
	}
	return &domain.InvalidStateError{
		Entity: "blood_request",
		ID:     req.RequestID,
		Status: string(req.Status),
		Op:     "allocate",
	}
}

func (s *RequestService) recordAllocation(ctx context.Context, req *domain.BloodRequest, result *AllocationResult) (*domain.BloodRequest, *AllocationResult, error) {
	if result.Reserved == 0 {
		// 一个都没预留到：状态保持不变，结果交由调用方判断
		return req, result, nil
	}

	req.AllocatedUnits = append(req.AllocatedUnits, result.UnitIDs...)
	req.Status = domain.RequestAllocated
	req.UpdatedAt = s.clk.Now()

	if err := s.requestsRepo.Update(ctx, req); err != nil {
		return nil, nil, fmt.Errorf("failed to record allocation: %w", err)
	}

	s.notifier.Notify(ctx, notification.Event{
		Kind:       notification.EventRequestAllocated,
		FacilityID: req.FacilityID,
		Payload: map[string]any{
			"request_id":      req.RequestID,
			"allocated_units": len(req.AllocatedUnits),
			"quantity_units":  req.QuantityUnits,
		},
	})

	s.logger.Info("Blood request allocated",
		zap.String("request_id", req.RequestID),
		zap.Int("allocated_units", len(req.AllocatedUnits)),
		zap.Int("quantity_units", req.QuantityUnits),
	)
	return req, result, nil
}

// IssueRequest 发放请求的全部已分配单元（ALLOCATED -> DISPATCHED）
func (s *RequestService) IssueRequest(ctx context.Context, requestID string) (*domain.BloodRequest, error) {
	req, err := s.requestsRepo.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.RequestAllocated {
		return nil, &domain.InvalidStateError{
			Entity: "blood_request",
			ID:     requestID,
			Status: string(req.Status),
			Op:     "issue",
		}
	}

	for _, unitID := range req.AllocatedUnits {
		if _, err := s.inventory.IssueUnit(ctx, unitID, req.FacilityID); err != nil {
			// 单个失败记日志继续（如已被超时清扫释放的单元），聚合结果以请求记录为准
			s.logger.Error("Failed to issue allocated unit",
				zap.String("request_id", requestID),
				zap.String("unit_id", unitID),
				zap.Error(err),
			)
		}
	}

	req.Status = domain.RequestDispatched
	req.UpdatedAt = s.clk.Now()
	if err := s.requestsRepo.Update(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to dispatch request: %w", err)
	}

	s.notifier.Notify(ctx, notification.Event{
		Kind:       notification.EventRequestDispatched,
		FacilityID: req.FacilityID,
		Payload: map[string]any{
			"request_id":      req.RequestID,
			"allocated_units": len(req.AllocatedUnits),
		},
	})

	s.logger.Info("Blood request dispatched",
		zap.String("request_id", requestID),
	)
	return req, nil
}

// MarkDelivered 确认送达（DISPATCHED -> DELIVERED，终态）
func (s *RequestService) MarkDelivered(ctx context.Context, requestID string) (*domain.BloodRequest, error) {
	return s.advance(ctx, requestID, "deliver",
		[]domain.RequestStatus{domain.RequestDispatched},
		func(req *domain.BloodRequest) {
			req.Status = domain.RequestDelivered
			completedAt := s.clk.Now()
			req.CompletedAt = &completedAt
		})
}

// advance 推进请求状态（合法前置状态检查 + 整行更新）
func (s *RequestService) advance(ctx context.Context, requestID, op string, allowed []domain.RequestStatus, mutate func(*domain.BloodRequest)) (*domain.BloodRequest, error) {
	req, err := s.requestsRepo.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}

	legal := false
	for _, status := range allowed {
		if req.Status == status {
			legal = true
			break
		}
	}
	if !legal {
		return nil, &domain.InvalidStateError{
			Entity: "blood_request",
			ID:     requestID,
			Status: string(req.Status),
			Op:     op,
		}
	}

	mutate(req)
	req.UpdatedAt = s.clk.Now()
	if err := s.requestsRepo.Update(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to %s request: %w", op, err)
	}
	return req, nil
}

// ============================================
// 查询（纯读，无副作用)
// ============================================

// GetRequest 查询请求
func (s *RequestService) GetRequest(ctx context.Context, requestID string) (*domain.BloodRequest, error) {
	return s.requestsRepo.Get(ctx, requestID)
}

// EmergencyRequests 应急请求（CRITICAL/URGENT 且 PENDING/APPROVED）
func (s *RequestService) EmergencyRequests(ctx context.Context) ([]*domain.BloodRequest, error) {
	return s.requestsRepo.EmergencyRequests(ctx)
}

// FacilityRequests 按机构查询
func (s *RequestService) FacilityRequests(ctx context.Context, facilityID string) ([]*domain.BloodRequest, error) {
	return s.requestsRepo.ByFacility(ctx, facilityID)
}

// PatientRequests 按患者查询
func (s *RequestService) PatientRequests(ctx context.Context, patientID string) ([]*domain.BloodRequest, error) {
	return s.requestsRepo.ByPatient(ctx, patientID)
}

// RequestsBetween 按创建时间区间查询
func (s *RequestService) RequestsBetween(ctx context.Context, from, to time.Time) ([]*domain.BloodRequest, error) {
	return s.requestsRepo.ByDateRange(ctx, from, to)
}
