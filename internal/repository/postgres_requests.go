package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"bloodcore/internal/domain"
)

// PostgresRequestsRepository 血液请求仓库 PostgreSQL 实现
type PostgresRequestsRepository struct {
	db *sql.DB
}

func NewPostgresRequestsRepository(db *sql.DB) *PostgresRequestsRepository {
	return &PostgresRequestsRepository{db: db}
}

const requestColumns = `
	request_id, facility_id, patient_id, patient_name, patient_age, patient_gender,
	blood_group, component_type, quantity_units, required_by, reason, urgency_level,
	doctor_name, doctor_contact, requested_by, status, allocated_units,
	rejection_reason, completed_at, created_at, updated_at
`

func (r *PostgresRequestsRepository) Get(ctx context.Context, requestID string) (*domain.BloodRequest, error) {
	q := `SELECT ` + requestColumns + ` FROM blood_requests WHERE request_id = $1`

	req, err := scanRequest(r.db.QueryRowContext(ctx, q, requestID))
	if err == sql.ErrNoRows {
		return nil, &domain.NotFoundError{Entity: "blood_request", ID: requestID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blood request: %w", err)
	}
	return req, nil
}

func (r *PostgresRequestsRepository) Create(ctx context.Context, req *domain.BloodRequest) error {
	allocated, err := marshalAllocated(req.AllocatedUnits)
	if err != nil {
		return err
	}

	q := `
		INSERT INTO blood_requests (
			request_id, facility_id, patient_id, patient_name, patient_age, patient_gender,
			blood_group, component_type, quantity_units, required_by, reason, urgency_level,
			doctor_name, doctor_contact, requested_by, status, allocated_units,
			rejection_reason, completed_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21
		)
	`
	_, err = r.db.ExecContext(ctx, q,
		req.RequestID, req.FacilityID, req.PatientID, req.PatientName, req.PatientAge, req.PatientGender,
		string(req.BloodGroup), string(req.ComponentType), req.QuantityUnits, req.RequiredBy, req.Reason, string(req.UrgencyLevel),
		req.DoctorName, req.DoctorContact, req.RequestedBy, string(req.Status), allocated,
		req.RejectionReason, req.CompletedAt, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create blood request: %w", err)
	}
	return nil
}

func (r *PostgresRequestsRepository) Update(ctx context.Context, req *domain.BloodRequest) error {
	allocated, err := marshalAllocated(req.AllocatedUnits)
	if err != nil {
		return err
	}

	q := `
		UPDATE blood_requests
		SET status = $2,
		    allocated_units = $3,
		    rejection_reason = $4,
		    completed_at = $5,
		    updated_at = $6
		WHERE request_id = $1
	`
	result, err := r.db.ExecContext(ctx, q,
		req.RequestID, string(req.Status), allocated, req.RejectionReason, req.CompletedAt, req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update blood request: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &domain.NotFoundError{Entity: "blood_request", ID: req.RequestID}
	}
	return nil
}

func (r *PostgresRequestsRepository) ByFacility(ctx context.Context, facilityID string) ([]*domain.BloodRequest, error) {
	q := `SELECT ` + requestColumns + ` FROM blood_requests WHERE facility_id = $1 ORDER BY created_at DESC`
	return r.queryRequests(ctx, q, facilityID)
}

func (r *PostgresRequestsRepository) ByStatus(ctx context.Context, status domain.RequestStatus) ([]*domain.BloodRequest, error) {
	q := `SELECT ` + requestColumns + ` FROM blood_requests WHERE status = $1 ORDER BY created_at DESC`
	return r.queryRequests(ctx, q, string(status))
}

func (r *PostgresRequestsRepository) ByPatient(ctx context.Context, patientID string) ([]*domain.BloodRequest, error) {
	q := `SELECT ` + requestColumns + ` FROM blood_requests WHERE patient_id = $1 ORDER BY created_at DESC`
	return r.queryRequests(ctx, q, patientID)
}

func (r *PostgresRequestsRepository) EmergencyRequests(ctx context.Context) ([]*domain.BloodRequest, error) {
	q := `SELECT ` + requestColumns + ` FROM blood_requests
		WHERE urgency_level IN ('CRITICAL', 'URGENT')
		  AND status IN ('PENDING', 'APPROVED')
		ORDER BY required_by ASC`
	return r.queryRequests(ctx, q)
}

func (r *PostgresRequestsRepository) ByDateRange(ctx context.Context, from, to time.Time) ([]*domain.BloodRequest, error) {
	q := `SELECT ` + requestColumns + ` FROM blood_requests
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at DESC`
	return r.queryRequests(ctx, q, from, to)
}

func (r *PostgresRequestsRepository) queryRequests(ctx context.Context, query string, args ...any) ([]*domain.BloodRequest, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query blood requests: %w", err)
	}
	defer rows.Close()

	out := []*domain.BloodRequest{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan blood request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func scanRequest(row rowScanner) (*domain.BloodRequest, error) {
	var req domain.BloodRequest
	var bloodGroup, componentType, urgency, status string
	var allocated []byte
	var rejectionReason sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&req.RequestID, &req.FacilityID, &req.PatientID, &req.PatientName, &req.PatientAge, &req.PatientGender,
		&bloodGroup, &componentType, &req.QuantityUnits, &req.RequiredBy, &req.Reason, &urgency,
		&req.DoctorName, &req.DoctorContact, &req.RequestedBy, &status, &allocated,
		&rejectionReason, &completedAt, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	req.BloodGroup = domain.BloodGroup(bloodGroup)
	req.ComponentType = domain.ComponentType(componentType)
	req.UrgencyLevel = domain.UrgencyLevel(urgency)
	req.Status = domain.RequestStatus(status)
	req.RejectionReason = nullStringPtr(rejectionReason)
	req.CompletedAt = nullTimePtr(completedAt)

	// allocated_units 存为 JSONB 数组
	req.AllocatedUnits = []string{}
	if len(allocated) > 0 {
		if err := json.Unmarshal(allocated, &req.AllocatedUnits); err != nil {
			return nil, fmt.Errorf("failed to unmarshal allocated_units: %w", err)
		}
	}
	return &req, nil
}

func marshalAllocated(unitIDs []string) ([]byte, error) {
	if unitIDs == nil {
		unitIDs = []string{}
	}
	data, err := json.Marshal(unitIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal allocated_units: %w", err)
	}
	return data, nil
}
