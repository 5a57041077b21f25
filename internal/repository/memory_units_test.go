package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloodcore/internal/domain"
)

var repoNow = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func seedUnit(t *testing.T, repo *MemoryUnitsRepo, unitID, facilityID string, expiry time.Time) *domain.BloodUnit {
	t.Helper()
	unit := &domain.BloodUnit{
		UnitID:         unitID,
		DonationID:     "DON-" + unitID,
		DonorID:        "DONOR-1",
		BloodGroup:     domain.OPositive,
		ComponentType:  domain.RedBloodCells,
		VolumeML:       350,
		CollectionDate: expiry.AddDate(0, 0, -42),
		ExpiryDate:     expiry,
		Status:         domain.UnitAvailable,
		FacilityID:     facilityID,
		CreatedAt:      repoNow,
		UpdatedAt:      repoNow,
	}
	require.NoError(t, repo.Create(context.Background(), unit))
	return unit
}

func TestMemoryUnitsRepo_ConcurrentReserve_ExactlyOneWinner(t *testing.T) {
	repo := NewMemoryUnitsRepo()
	seedUnit(t, repo, "UNIT-1", "BANK-1", repoNow.AddDate(0, 0, 10))

	const contenders = 16
	var wg sync.WaitGroup
	wins := make(chan string, contenders)

	for i := 0; i < contenders; i++ {
		requestID := "REQ-" + string(rune('A'+i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			swapped, err := repo.ReserveCAS(context.Background(), "UNIT-1", requestID, repoNow.Add(2*time.Hour), repoNow)
			if assert.NoError(t, err) && swapped {
				wins <- requestID
			}
		}()
	}
	wg.Wait()
	close(wins)

	winners := []string{}
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1)

	unit, err := repo.Get(context.Background(), "UNIT-1")
	require.NoError(t, err)
	assert.Equal(t, domain.UnitReserved, unit.Status)
	require.NotNil(t, unit.ReservedFor)
	assert.Equal(t, winners[0], *unit.ReservedFor)
	require.NotNil(t, unit.ReservedUntil)
}

func TestMemoryUnitsRepo_ReserveCAS_RejectsExpired(t *testing.T) {
	repo := NewMemoryUnitsRepo()
	seedUnit(t, repo, "UNIT-OLD", "BANK-1", repoNow.AddDate(0, 0, -1))

	swapped, err := repo.ReserveCAS(context.Background(), "UNIT-OLD", "REQ-1", repoNow.Add(2*time.Hour), repoNow)
	require.NoError(t, err)
	assert.False(t, swapped)

	unit, err := repo.Get(context.Background(), "UNIT-OLD")
	require.NoError(t, err)
	assert.Equal(t, domain.UnitAvailable, unit.Status)
}

func TestMemoryUnitsRepo_ReleaseCAS_ClearsReservation(t *testing.T) {
	repo := NewMemoryUnitsRepo()
	seedUnit(t, repo, "UNIT-1", "BANK-1", repoNow.AddDate(0, 0, 10))

	swapped, err := repo.ReserveCAS(context.Background(), "UNIT-1", "REQ-1", repoNow.Add(2*time.Hour), repoNow)
	require.NoError(t, err)
	require.True(t, swapped)

	swapped, err = repo.ReleaseCAS(context.Background(), "UNIT-1", repoNow.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, swapped)

	unit, err := repo.Get(context.Background(), "UNIT-1")
	require.NoError(t, err)
	assert.Equal(t, domain.UnitAvailable, unit.Status)
	assert.Nil(t, unit.ReservedFor)
	assert.Nil(t, unit.ReservedUntil)

	// 已释放的单元再次 release 失败
	swapped, err = repo.ReleaseCAS(context.Background(), "UNIT-1", repoNow)
	require.NoError(t, err)
	assert.False(t, swapped)
}

func TestMemoryUnitsRepo_IssueCAS_RequiresReserved(t *testing.T) {
	repo := NewMemoryUnitsRepo()
	seedUnit(t, repo, "UNIT-1", "BANK-1", repoNow.AddDate(0, 0, 10))

	swapped, err := repo.IssueCAS(context.Background(), "UNIT-1", "HOSP-1", repoNow)
	require.NoError(t, err)
	assert.False(t, swapped)

	_, err = repo.ReserveCAS(context.Background(), "UNIT-1", "REQ-1", repoNow.Add(2*time.Hour), repoNow)
	require.NoError(t, err)

	swapped, err = repo.IssueCAS(context.Background(), "UNIT-1", "HOSP-1", repoNow)
	require.NoError(t, err)
	require.True(t, swapped)

	unit, err := repo.Get(context.Background(), "UNIT-1")
	require.NoError(t, err)
	assert.Equal(t, domain.UnitIssued, unit.Status)
	require.NotNil(t, unit.IssuedTo)
	assert.Equal(t, "HOSP-1", *unit.IssuedTo)
	assert.Nil(t, unit.ReservedFor)
}

func TestMemoryUnitsRepo_ExpireCAS(t *testing.T) {
	repo := NewMemoryUnitsRepo()
	seedUnit(t, repo, "UNIT-1", "BANK-1", repoNow.AddDate(0, 0, -3))
	seedUnit(t, repo, "UNIT-2", "BANK-1", repoNow.AddDate(0, 0, 3))

	swapped, err := repo.ExpireCAS(context.Background(), "UNIT-1", repoNow)
	require.NoError(t, err)
	require.True(t, swapped)

	unit, err := repo.Get(context.Background(), "UNIT-1")
	require.NoError(t, err)
	assert.Equal(t, domain.UnitExpired, unit.Status)
	require.NotNil(t, unit.DiscardedReason)
	assert.Equal(t, "Auto-expired", *unit.DiscardedReason)
	require.NotNil(t, unit.DiscardedBy)
	assert.Equal(t, "System", *unit.DiscardedBy)

	// 未到期单元不允许标记过期
	swapped, err = repo.ExpireCAS(context.Background(), "UNIT-2", repoNow)
	require.NoError(t, err)
	assert.False(t, swapped)
}

func TestMemoryUnitsRepo_FindAvailable_FEFOOrder(t *testing.T) {
	repo := NewMemoryUnitsRepo()
	seedUnit(t, repo, "UNIT-A", "BANK-1", repoNow.AddDate(0, 0, 10))
	seedUnit(t, repo, "UNIT-B", "BANK-1", repoNow.AddDate(0, 0, 2))
	seedUnit(t, repo, "UNIT-C", "BANK-1", repoNow.AddDate(0, 0, 5))
	seedUnit(t, repo, "UNIT-D", "BANK-1", repoNow.AddDate(0, 0, -1)) // 已过期，应排除

	units, err := repo.FindAvailable(context.Background(), AvailableFilters{
		BloodGroup:    domain.OPositive,
		ComponentType: domain.RedBloodCells,
		FacilityID:    "BANK-1",
	}, repoNow)
	require.NoError(t, err)
	require.Len(t, units, 3)
	assert.Equal(t, "UNIT-B", units[0].UnitID)
	assert.Equal(t, "UNIT-C", units[1].UnitID)
	assert.Equal(t, "UNIT-A", units[2].UnitID)
}

func TestMemoryUnitsRepo_FindAvailable_FacilityScope(t *testing.T) {
	repo := NewMemoryUnitsRepo()
	seedUnit(t, repo, "UNIT-A", "BANK-1", repoNow.AddDate(0, 0, 5))
	seedUnit(t, repo, "UNIT-B", "BANK-2", repoNow.AddDate(0, 0, 5))
	seedUnit(t, repo, "UNIT-C", "BANK-3", repoNow.AddDate(0, 0, 5))

	units, err := repo.FindAvailable(context.Background(), AvailableFilters{
		FacilityIDs: []string{"BANK-1", "BANK-3"},
	}, repoNow)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "UNIT-A", units[0].UnitID)
	assert.Equal(t, "UNIT-C", units[1].UnitID)
}

func TestMemoryUnitsRepo_ExpiredReservations(t *testing.T) {
	repo := NewMemoryUnitsRepo()
	seedUnit(t, repo, "UNIT-A", "BANK-1", repoNow.AddDate(0, 0, 10))
	seedUnit(t, repo, "UNIT-B", "BANK-1", repoNow.AddDate(0, 0, 10))

	_, err := repo.ReserveCAS(context.Background(), "UNIT-A", "REQ-1", repoNow.Add(2*time.Hour), repoNow)
	require.NoError(t, err)
	_, err = repo.ReserveCAS(context.Background(), "UNIT-B", "REQ-2", repoNow.Add(6*time.Hour), repoNow)
	require.NoError(t, err)

	// 3 小时后：UNIT-A 预留过期，UNIT-B 仍在有效期内
	later := repoNow.Add(3 * time.Hour)
	expired, err := repo.ExpiredReservations(context.Background(), later)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "UNIT-A", expired[0].UnitID)
}

func TestMemoryUnitsRepo_Get_ReturnsCopy(t *testing.T) {
	repo := NewMemoryUnitsRepo()
	seedUnit(t, repo, "UNIT-1", "BANK-1", repoNow.AddDate(0, 0, 10))

	unit, err := repo.Get(context.Background(), "UNIT-1")
	require.NoError(t, err)
	unit.Status = domain.UnitDiscarded

	fresh, err := repo.Get(context.Background(), "UNIT-1")
	require.NoError(t, err)
	assert.Equal(t, domain.UnitAvailable, fresh.Status)
}

func TestMemoryUnitsRepo_Get_NotFound(t *testing.T) {
	repo := NewMemoryUnitsRepo()

	_, err := repo.Get(context.Background(), "UNIT-NONE")
	require.Error(t, err)

	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}
