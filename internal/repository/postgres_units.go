package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bloodcore/internal/domain"
)

// PostgresUnitsRepository 血液单元仓库 PostgreSQL 实现
type PostgresUnitsRepository struct {
	db *sql.DB
}

func NewPostgresUnitsRepository(db *sql.DB) *PostgresUnitsRepository {
	return &PostgresUnitsRepository{db: db}
}

// unitColumns 查询列清单（与 scanUnit 顺序一致）
const unitColumns = `
	unit_id, donation_id, donor_id, blood_group, component_type, volume_ml,
	collection_date, expiry_date, status, facility_id, storage_location, batch_number,
	reserved_for, reserved_until, issued_to, issued_date,
	discarded_reason, discarded_by, discarded_date, created_at, updated_at
`

// ============================================
// 基础操作
// ============================================

func (r *PostgresUnitsRepository) Get(ctx context.Context, unitID string) (*domain.BloodUnit, error) {
	q := `SELECT ` + unitColumns + ` FROM blood_units WHERE unit_id = $1`

	unit, err := scanUnit(r.db.QueryRowContext(ctx, q, unitID))
	if err == sql.ErrNoRows {
		return nil, &domain.NotFoundError{Entity: "blood_unit", ID: unitID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blood unit: %w", err)
	}
	return unit, nil
}

func (r *PostgresUnitsRepository) Create(ctx context.Context, unit *domain.BloodUnit) error {
	q := `
		INSERT INTO blood_units (
			unit_id, donation_id, donor_id, blood_group, component_type, volume_ml,
			collection_date, expiry_date, status, facility_id, storage_location, batch_number,
			reserved_for, reserved_until, issued_to, issued_date,
			discarded_reason, discarded_by, discarded_date, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21
		)
	`
	_, err := r.db.ExecContext(ctx, q,
		unit.UnitID, unit.DonationID, unit.DonorID, string(unit.BloodGroup), string(unit.ComponentType), unit.VolumeML,
		unit.CollectionDate, unit.ExpiryDate, string(unit.Status), unit.FacilityID, unit.StorageLocation, unit.BatchNumber,
		unit.ReservedFor, unit.ReservedUntil, unit.IssuedTo, unit.IssuedDate,
		unit.DiscardedReason, unit.DiscardedBy, unit.DiscardedDate, unit.CreatedAt, unit.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create blood unit: %w", err)
	}
	return nil
}

// ============================================
// 状态迁移（CAS）
// 所有迁移都是单条带状态条件的 UPDATE，靠 RowsAffected 判定是否赢得迁移
// ============================================

func (r *PostgresUnitsRepository) ReserveCAS(ctx context.Context, unitID, requestID string, until time.Time, now time.Time) (bool, error) {
	q := `
		UPDATE blood_units
		SET status = 'RESERVED',
		    reserved_for = $2,
		    reserved_until = $3,
		    updated_at = $4
		WHERE unit_id = $1
		  AND status = 'AVAILABLE'
		  AND expiry_date >= $5::date
	`
	return r.execCAS(ctx, q, unitID, requestID, until, now, now)
}

func (r *PostgresUnitsRepository) IssueCAS(ctx context.Context, unitID, destFacilityID string, issuedAt time.Time) (bool, error) {
	q := `
		UPDATE blood_units
		SET status = 'ISSUED',
		    issued_to = $2,
		    issued_date = $3,
		    reserved_for = NULL,
		    reserved_until = NULL,
		    updated_at = $3
		WHERE unit_id = $1
		  AND status = 'RESERVED'
	`
	return r.execCAS(ctx, q, unitID, destFacilityID, issuedAt)
}

func (r *PostgresUnitsRepository) ReleaseCAS(ctx context.Context, unitID string, now time.Time) (bool, error) {
	q := `
		UPDATE blood_units
		SET status = 'AVAILABLE',
		    reserved_for = NULL,
		    reserved_until = NULL,
		    updated_at = $2
		WHERE unit_id = $1
		  AND status = 'RESERVED'
	`
	return r.execCAS(ctx, q, unitID, now)
}

func (r *PostgresUnitsRepository) DiscardCAS(ctx context.Context, unitID string, expected domain.UnitStatus, reason, operator string, at time.Time) (bool, error) {
	q := `
		UPDATE blood_units
		SET status = 'DISCARDED',
		    discarded_reason = $3,
		    discarded_by = $4,
		    discarded_date = $5,
		    reserved_for = NULL,
		    reserved_until = NULL,
		    updated_at = $5
		WHERE unit_id = $1
		  AND status = $2
	`
	return r.execCAS(ctx, q, unitID, string(expected), reason, operator, at)
}

func (r *PostgresUnitsRepository) ExpireCAS(ctx context.Context, unitID string, now time.Time) (bool, error) {
	q := `
		UPDATE blood_units
		SET status = 'EXPIRED',
		    discarded_reason = 'Auto-expired',
		    discarded_by = 'System',
		    discarded_date = $2,
		    updated_at = $2
		WHERE unit_id = $1
		  AND status = 'AVAILABLE'
		  AND expiry_date < $2::date
	`
	return r.execCAS(ctx, q, unitID, now)
}

func (r *PostgresUnitsRepository) TransitionCAS(ctx context.Context, unitID string, expected, next domain.UnitStatus, at time.Time) (bool, error) {
	q := `
		UPDATE blood_units
		SET status = $3,
		    updated_at = $4
		WHERE unit_id = $1
		  AND status = $2
	`
	return r.execCAS(ctx, q, unitID, string(expected), string(next), at)
}

func (r *PostgresUnitsRepository) execCAS(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update unit status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// ============================================
// 扫描查询
// ============================================

func (r *PostgresUnitsRepository) FindAvailable(ctx context.Context, filters AvailableFilters, now time.Time) ([]*domain.BloodUnit, error) {
	where := "status = 'AVAILABLE' AND expiry_date >= $1::date"
	args := []any{now}
	argIdx := 2

	if filters.BloodGroup != "" {
		where += fmt.Sprintf(" AND blood_group = $%d", argIdx)
		args = append(args, string(filters.BloodGroup))
		argIdx++
	}
	if filters.ComponentType != "" {
		where += fmt.Sprintf(" AND component_type = $%d", argIdx)
		args = append(args, string(filters.ComponentType))
		argIdx++
	}
	if len(filters.FacilityIDs) > 0 {
		placeholders := ""
		for i, id := range filters.FacilityIDs {
			if i > 0 {
				placeholders += ", "
			}
			placeholders += fmt.Sprintf("$%d", argIdx)
			args = append(args, id)
			argIdx++
		}
		where += " AND facility_id IN (" + placeholders + ")"
	} else if filters.FacilityID != "" {
		where += fmt.Sprintf(" AND facility_id = $%d", argIdx)
		args = append(args, filters.FacilityID)
		argIdx++
	}

	q := `SELECT ` + unitColumns + ` FROM blood_units WHERE ` + where + `
		ORDER BY expiry_date ASC, unit_id ASC`
	return r.queryUnits(ctx, q, args...)
}

func (r *PostgresUnitsRepository) ByFacility(ctx context.Context, facilityID string) ([]*domain.BloodUnit, error) {
	q := `SELECT ` + unitColumns + ` FROM blood_units WHERE facility_id = $1 ORDER BY expiry_date ASC, unit_id ASC`
	return r.queryUnits(ctx, q, facilityID)
}

func (r *PostgresUnitsRepository) ByFacilityAndStatus(ctx context.Context, facilityID string, status domain.UnitStatus) ([]*domain.BloodUnit, error) {
	q := `SELECT ` + unitColumns + ` FROM blood_units WHERE facility_id = $1 AND status = $2 ORDER BY expiry_date ASC, unit_id ASC`
	return r.queryUnits(ctx, q, facilityID, string(status))
}

func (r *PostgresUnitsRepository) ByDonor(ctx context.Context, donorID string) ([]*domain.BloodUnit, error) {
	q := `SELECT ` + unitColumns + ` FROM blood_units WHERE donor_id = $1 ORDER BY collection_date DESC`
	return r.queryUnits(ctx, q, donorID)
}

func (r *PostgresUnitsRepository) ExpiredAvailable(ctx context.Context, now time.Time) ([]*domain.BloodUnit, error) {
	q := `SELECT ` + unitColumns + ` FROM blood_units
		WHERE status = 'AVAILABLE' AND expiry_date < $1::date
		ORDER BY expiry_date ASC, unit_id ASC`
	return r.queryUnits(ctx, q, now)
}

func (r *PostgresUnitsRepository) ExpiringBetween(ctx context.Context, from, to time.Time) ([]*domain.BloodUnit, error) {
	q := `SELECT ` + unitColumns + ` FROM blood_units
		WHERE status = 'AVAILABLE' AND expiry_date >= $1::date AND expiry_date <= $2::date
		ORDER BY expiry_date ASC, unit_id ASC`
	return r.queryUnits(ctx, q, from, to)
}

func (r *PostgresUnitsRepository) ExpiredReservations(ctx context.Context, now time.Time) ([]*domain.BloodUnit, error) {
	q := `SELECT ` + unitColumns + ` FROM blood_units
		WHERE status = 'RESERVED' AND reserved_until < $1
		ORDER BY reserved_until ASC, unit_id ASC`
	return r.queryUnits(ctx, q, now)
}

func (r *PostgresUnitsRepository) queryUnits(ctx context.Context, query string, args ...any) ([]*domain.BloodUnit, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query blood units: %w", err)
	}
	defer rows.Close()

	out := []*domain.BloodUnit{}
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan blood unit: %w", err)
		}
		out = append(out, unit)
	}
	return out, rows.Err()
}

// rowScanner 兼容 *sql.Row 与 *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnit(row rowScanner) (*domain.BloodUnit, error) {
	var u domain.BloodUnit
	var bloodGroup, componentType, status string
	var reservedFor, issuedTo, discardedReason, discardedBy sql.NullString
	var reservedUntil, issuedDate, discardedDate sql.NullTime

	err := row.Scan(
		&u.UnitID, &u.DonationID, &u.DonorID, &bloodGroup, &componentType, &u.VolumeML,
		&u.CollectionDate, &u.ExpiryDate, &status, &u.FacilityID, &u.StorageLocation, &u.BatchNumber,
		&reservedFor, &reservedUntil, &issuedTo, &issuedDate,
		&discardedReason, &discardedBy, &discardedDate, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.BloodGroup = domain.BloodGroup(bloodGroup)
	u.ComponentType = domain.ComponentType(componentType)
	u.Status = domain.UnitStatus(status)
	u.ReservedFor = nullStringPtr(reservedFor)
	u.ReservedUntil = nullTimePtr(reservedUntil)
	u.IssuedTo = nullStringPtr(issuedTo)
	u.IssuedDate = nullTimePtr(issuedDate)
	u.DiscardedReason = nullStringPtr(discardedReason)
	u.DiscardedBy = nullStringPtr(discardedBy)
	u.DiscardedDate = nullTimePtr(discardedDate)
	return &u, nil
}

func nullStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
