package repository

import (
	"context"
	"time"

	"bloodcore/internal/domain"
)

// RequestsRepository 血液请求仓库接口
type RequestsRepository interface {
	Get(ctx context.Context, requestID string) (*domain.BloodRequest, error)
	Create(ctx context.Context, req *domain.BloodRequest) error
	// Update 整行更新（请求无并发预留语义，生命周期由 RequestService 串行推进）
	Update(ctx context.Context, req *domain.BloodRequest) error

	ByFacility(ctx context.Context, facilityID string) ([]*domain.BloodRequest, error)
	ByStatus(ctx context.Context, status domain.RequestStatus) ([]*domain.BloodRequest, error)
	ByPatient(ctx context.Context, patientID string) ([]*domain.BloodRequest, error)
	// EmergencyRequests: urgency ∈ {CRITICAL, URGENT} 且 status ∈ {PENDING, APPROVED}
	EmergencyRequests(ctx context.Context) ([]*domain.BloodRequest, error)
	ByDateRange(ctx context.Context, from, to time.Time) ([]*domain.BloodRequest, error)
}
