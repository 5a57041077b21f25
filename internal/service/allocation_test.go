package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloodcore/internal/domain"
)

func matchingRequest(facilityID string, quantity int) *domain.BloodRequest {
	return &domain.BloodRequest{
		RequestID:     "REQ-1",
		FacilityID:    facilityID,
		BloodGroup:    domain.OPositive,
		ComponentType: domain.RedBloodCells,
		QuantityUnits: quantity,
		Status:        domain.RequestApproved,
	}
}

func TestAllocationMatcher_FEFOOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// 到期日乱序入库：D+10、D+2、D+5
	mustCreateUnit(t, env.unitsRepo, newUnit("UNIT-A", "BANK-1", domain.OPositive, domain.RedBloodCells, testNow.AddDate(0, 0, 10)))
	mustCreateUnit(t, env.unitsRepo, newUnit("UNIT-B", "BANK-1", domain.OPositive, domain.RedBloodCells, testNow.AddDate(0, 0, 2)))
	mustCreateUnit(t, env.unitsRepo, newUnit("UNIT-C", "BANK-1", domain.OPositive, domain.RedBloodCells, testNow.AddDate(0, 0, 5)))

	result, err := env.matcher.AllocateForRequest(ctx, matchingRequest("BANK-1", 2), nil, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Reserved)
	// 最先到期的两个被选中
	assert.Equal(t, []string{"UNIT-B", "UNIT-C"}, result.UnitIDs)

	// 落选的单元仍然可用
	unit, err := env.unitsRepo.Get(ctx, "UNIT-A")
	require.NoError(t, err)
	assert.Equal(t, domain.UnitAvailable, unit.Status)
}

func TestAllocationMatcher_PartialAllocation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	mustCreateUnit(t, env.unitsRepo, newUnit("UNIT-A", "BANK-1", domain.OPositive, domain.RedBloodCells, testNow.AddDate(0, 0, 5)))

	result, err := env.matcher.AllocateForRequest(ctx, matchingRequest("BANK-1", 3), nil, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Requested)
	assert.Equal(t, 1, result.Reserved)
	assert.Equal(t, []string{"UNIT-A"}, result.UnitIDs)
}

func TestAllocationMatcher_ExactMatchOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// 血型和成分类型都必须精确匹配，不做相容性替代
	mustCreateUnit(t, env.unitsRepo, newUnit("UNIT-A", "BANK-1", domain.ONegative, domain.RedBloodCells, testNow.AddDate(0, 0, 5)))
	mustCreateUnit(t, env.unitsRepo, newUnit("UNIT-B", "BANK-1", domain.OPositive, domain.WholeBlood, testNow.AddDate(0, 0, 5)))

	result, err := env.matcher.AllocateForRequest(ctx, matchingRequest("BANK-1", 1), nil, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Reserved)
}

func TestAllocationMatcher_ExcludesExpiredAndForeignFacility(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	mustCreateUnit(t, env.unitsRepo, newUnit("UNIT-EXPIRED", "BANK-1", domain.OPositive, domain.RedBloodCells, testNow.AddDate(0, 0, -1)))
	mustCreateUnit(t, env.unitsRepo, newUnit("UNIT-OTHER", "BANK-2", domain.OPositive, domain.RedBloodCells, testNow.AddDate(0, 0, 5)))

	// 范围为空时只看请求方机构
	result, err := env.matcher.AllocateForRequest(ctx, matchingRequest("BANK-1", 1), nil, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Reserved)
}

func TestAllocationMatcher_FacilityScope(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	mustCreateUnit(t, env.unitsRepo, newUnit("UNIT-A", "BANK-2", domain.OPositive, domain.RedBloodCells, testNow.AddDate(0, 0, 5)))
	mustCreateUnit(t, env.unitsRepo, newUnit("UNIT-B", "BANK-3", domain.OPositive, domain.RedBloodCells, testNow.AddDate(0, 0, 2)))

	result, err := env.matcher.AllocateForRequest(ctx, matchingRequest("BANK-1", 2), []string{"BANK-2", "BANK-3"}, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Reserved)
	assert.Equal(t, []string{"UNIT-B", "UNIT-A"}, result.UnitIDs)
}

func TestAllocationMatcher_SkipsContestedCandidates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	mustCreateUnit(t, env.unitsRepo, newUnit("UNIT-A", "BANK-1", domain.OPositive, domain.RedBloodCells, testNow.AddDate(0, 0, 2)))
	mustCreateUnit(t, env.unitsRepo, newUnit("UNIT-B", "BANK-1", domain.OPositive, domain.RedBloodCells, testNow.AddDate(0, 0, 5)))

	req := matchingRequest("BANK-1", 1)
	candidates, err := env.matcher.FindCandidates(ctx, req, nil)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	// 候选列举后、预留执行前被别的请求抢走
	_, err = env.inventory.ReserveUnit(ctx, "UNIT-A", "REQ-OTHER")
	require.NoError(t, err)

	result, err := env.matcher.AllocateForRequest(ctx, req, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Reserved)
	assert.Equal(t, []string{"UNIT-B"}, result.UnitIDs)
	assert.Equal(t, 1, result.Skipped)
}

func TestAllocationMatcher_ZeroQuantity(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.matcher.AllocateForRequest(context.Background(), matchingRequest("BANK-1", 0), nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Reserved)
	assert.Empty(t, result.UnitIDs)
}
