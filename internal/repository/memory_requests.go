package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"bloodcore/internal/domain"
)

// MemoryRequestsRepo: 用于 DB 未就绪时的联测与单元测试
type MemoryRequestsRepo struct {
	mu       sync.RWMutex
	requests map[string]*domain.BloodRequest
}

func NewMemoryRequestsRepo() *MemoryRequestsRepo {
	return &MemoryRequestsRepo{
		requests: map[string]*domain.BloodRequest{},
	}
}

func (r *MemoryRequestsRepo) Get(_ context.Context, requestID string) (*domain.BloodRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, ok := r.requests[requestID]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "blood_request", ID: requestID}
	}
	return copyRequest(req), nil
}

func (r *MemoryRequestsRepo) Create(_ context.Context, req *domain.BloodRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requests[req.RequestID] = copyRequest(req)
	return nil
}

func (r *MemoryRequestsRepo) Update(_ context.Context, req *domain.BloodRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.requests[req.RequestID]; !ok {
		return &domain.NotFoundError{Entity: "blood_request", ID: req.RequestID}
	}
	r.requests[req.RequestID] = copyRequest(req)
	return nil
}

func (r *MemoryRequestsRepo) ByFacility(_ context.Context, facilityID string) ([]*domain.BloodRequest, error) {
	return r.scan(func(req *domain.BloodRequest) bool {
		return req.FacilityID == facilityID
	}), nil
}

func (r *MemoryRequestsRepo) ByStatus(_ context.Context, status domain.RequestStatus) ([]*domain.BloodRequest, error) {
	return r.scan(func(req *domain.BloodRequest) bool {
		return req.Status == status
	}), nil
}

func (r *MemoryRequestsRepo) ByPatient(_ context.Context, patientID string) ([]*domain.BloodRequest, error) {
	return r.scan(func(req *domain.BloodRequest) bool {
		return req.PatientID == patientID
	}), nil
}

func (r *MemoryRequestsRepo) EmergencyRequests(_ context.Context) ([]*domain.BloodRequest, error) {
	return r.scan(func(req *domain.BloodRequest) bool {
		if !req.UrgencyLevel.Emergency() {
			return false
		}
		return req.Status == domain.RequestPending || req.Status == domain.RequestApproved
	}), nil
}

func (r *MemoryRequestsRepo) ByDateRange(_ context.Context, from, to time.Time) ([]*domain.BloodRequest, error) {
	return r.scan(func(req *domain.BloodRequest) bool {
		return !req.CreatedAt.Before(from) && !req.CreatedAt.After(to)
	}), nil
}

func (r *MemoryRequestsRepo) scan(match func(*domain.BloodRequest) bool) []*domain.BloodRequest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*domain.BloodRequest{}
	for _, req := range r.requests {
		if match(req) {
			out = append(out, copyRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RequestID < out[j].RequestID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func copyRequest(req *domain.BloodRequest) *domain.BloodRequest {
	cp := *req
	cp.AllocatedUnits = append([]string{}, req.AllocatedUnits...)
	cp.RejectionReason = copyStrPtr(req.RejectionReason)
	cp.CompletedAt = copyTimePtr(req.CompletedAt)
	return &cp
}
