package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bloodcore/internal/cache"
	"bloodcore/internal/domain"
)

func newSummaryEnv(t *testing.T) (*testEnv, *SummaryService, *cache.SummaryCache) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := zap.NewNop()
	summaryCache := cache.NewSummaryCache(cache.NewRedisKVStore(client), "blood-inventory:summary:", 5*time.Minute, logger)

	env := newTestEnv(t)
	summaries := NewSummaryService(env.unitsRepo, summaryCache, env.clk, 50, 3, logger)
	return env, summaries, summaryCache
}

func TestSummaryService_FacilitySummary(t *testing.T) {
	env, summaries, _ := newSummaryEnv(t)
	ctx := context.Background()

	mustCreateUnit(t, env.unitsRepo, newUnit("UNIT-1", "BANK-1", domain.OPositive, domain.RedBloodCells, testNow.AddDate(0, 0, 10)))
	mustCreateUnit(t, env.unitsRepo, newUnit("UNIT-2", "BANK-1", domain.OPositive, domain.Plasma, testNow.AddDate(0, 0, 2))) // 预警窗口内
	mustCreateUnit(t, env.unitsRepo, newUnit("UNIT-3", "BANK-1", domain.ABPositive, domain.RedBloodCells, testNow.AddDate(0, 0, 20)))
	mustCreateUnit(t, env.unitsRepo, newUnit("UNIT-4", "BANK-1", domain.OPositive, domain.RedBloodCells, testNow.AddDate(0, 0, -1))) // 已过期未清扫
	mustCreateUnit(t, env.unitsRepo, newUnit("UNIT-5", "BANK-2", domain.OPositive, domain.RedBloodCells, testNow.AddDate(0, 0, 10)))

	_, err := env.inventory.ReserveUnit(ctx, "UNIT-3", "REQ-1")
	require.NoError(t, err)

	summary, err := summaries.FacilitySummary(ctx, "BANK-1")
	require.NoError(t, err)
	assert.Equal(t, "BANK-1", summary.FacilityID)
	assert.Equal(t, 2, summary.TotalAvailable) // UNIT-1、UNIT-2；过期与预留不计入
	assert.Equal(t, 1, summary.TotalReserved)
	assert.Equal(t, 1, summary.ExpiringSoon)
	assert.Equal(t, 2, summary.GroupCount["O+"])
	assert.Equal(t, 1, summary.ComponentCount["Red Blood Cells"])
	assert.Equal(t, 1, summary.ComponentCount["Plasma"])
	require.NotNil(t, summary.NextExpiryDate)
	assert.True(t, summary.NextExpiryDate.Equal(testNow.AddDate(0, 0, 2)))
	assert.True(t, summary.IsStockLow)
}

func TestSummaryService_LowStockBoundary(t *testing.T) {
	env := newTestEnv(t)
	logger := zap.NewNop()
	summaries := NewSummaryService(env.unitsRepo, nil, env.clk, 2, 3, logger)
	ctx := context.Background()

	mustCreateUnit(t, env.unitsRepo, newUnit("UNIT-1", "BANK-1", domain.OPositive, domain.RedBloodCells, testNow.AddDate(0, 0, 10)))

	summary, err := summaries.FacilitySummary(ctx, "BANK-1")
	require.NoError(t, err)
	assert.True(t, summary.IsStockLow) // 1 < 2

	mustCreateUnit(t, env.unitsRepo, newUnit("UNIT-2", "BANK-1", domain.OPositive, domain.RedBloodCells, testNow.AddDate(0, 0, 10)))

	summary, err = summaries.FacilitySummary(ctx, "BANK-1")
	require.NoError(t, err)
	assert.False(t, summary.IsStockLow) // 2 >= 2，阈值为严格小于
}

func TestSummaryService_CachesResult(t *testing.T) {
	env, summaries, summaryCache := newSummaryEnv(t)
	ctx := context.Background()

	mustCreateUnit(t, env.unitsRepo, newUnit("UNIT-1", "BANK-1", domain.OPositive, domain.RedBloodCells, testNow.AddDate(0, 0, 10)))

	_, err := summaryCache.Get(ctx, "BANK-1")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	first, err := summaries.FacilitySummary(ctx, "BANK-1")
	require.NoError(t, err)
	assert.Equal(t, 1, first.TotalAvailable)

	// 第二次命中缓存：直接入库更多单元不会反映，直到失效
	mustCreateUnit(t, env.unitsRepo, newUnit("UNIT-2", "BANK-1", domain.OPositive, domain.RedBloodCells, testNow.AddDate(0, 0, 10)))

	cached, err := summaries.FacilitySummary(ctx, "BANK-1")
	require.NoError(t, err)
	assert.Equal(t, 1, cached.TotalAvailable)

	require.NoError(t, summaries.InvalidateFacility(ctx, "BANK-1"))

	fresh, err := summaries.FacilitySummary(ctx, "BANK-1")
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.TotalAvailable)
}

func TestSummaryService_EmptyFacility(t *testing.T) {
	_, summaries, _ := newSummaryEnv(t)

	summary, err := summaries.FacilitySummary(context.Background(), "BANK-EMPTY")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.TotalAvailable)
	assert.Nil(t, summary.NextExpiryDate)
	assert.True(t, summary.IsStockLow)
	assert.Empty(t, summary.GroupCount)
}
