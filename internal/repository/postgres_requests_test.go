package repository

import (
	"context"
	"database/sql/driver"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloodcore/internal/domain"
)

var requestRowColumns = []string{
	"request_id", "facility_id", "patient_id", "patient_name", "patient_age", "patient_gender",
	"blood_group", "component_type", "quantity_units", "required_by", "reason", "urgency_level",
	"doctor_name", "doctor_contact", "requested_by", "status", "allocated_units",
	"rejection_reason", "completed_at", "created_at", "updated_at",
}

func pendingRequestRow(requestID string, allocated string) []driver.Value {
	return []driver.Value{
		requestID, "HOSP-1", "PAT-1", "Jane Doe", 42, "F",
		"A_POSITIVE", "PLASMA", 3, repoNow.AddDate(0, 0, 1), "Surgery", "URGENT",
		"Dr. Rao", "+91-9000000000", "staff-1", "PENDING", []byte(allocated),
		nil, nil, repoNow, repoNow,
	}
}

func TestPostgresRequestsRepository_Get_UnmarshalsAllocatedUnits(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM blood_requests WHERE request_id`).
		WithArgs("REQ-1").
		WillReturnRows(sqlmock.NewRows(requestRowColumns).
			AddRow(pendingRequestRow("REQ-1", `["UNIT-1","UNIT-2"]`)...))

	repo := NewPostgresRequestsRepository(db)
	req, err := repo.Get(context.Background(), "REQ-1")
	require.NoError(t, err)
	assert.Equal(t, domain.UrgencyUrgent, req.UrgencyLevel)
	assert.Equal(t, []string{"UNIT-1", "UNIT-2"}, req.AllocatedUnits)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRequestsRepository_Get_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM blood_requests WHERE request_id`).
		WithArgs("REQ-NONE").
		WillReturnRows(sqlmock.NewRows(requestRowColumns))

	repo := NewPostgresRequestsRepository(db)
	_, err = repo.Get(context.Background(), "REQ-NONE")
	require.Error(t, err)

	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRequestsRepository_Update_MarshalsAllocatedUnits(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE blood_requests`).
		WithArgs("REQ-1", "ALLOCATED", []byte(`["UNIT-1"]`), nil, nil, repoNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewPostgresRequestsRepository(db)
	err = repo.Update(context.Background(), &domain.BloodRequest{
		RequestID:      "REQ-1",
		Status:         domain.RequestAllocated,
		AllocatedUnits: []string{"UNIT-1"},
		UpdatedAt:      repoNow,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRequestsRepository_Update_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE blood_requests`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewPostgresRequestsRepository(db)
	err = repo.Update(context.Background(), &domain.BloodRequest{RequestID: "REQ-NONE", UpdatedAt: repoNow})
	require.Error(t, err)

	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}
