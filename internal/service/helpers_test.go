package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bloodcore/internal/domain"
	"bloodcore/internal/notification"
	"bloodcore/internal/repository"
)

var testNow = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

// fakeClock 可手动拨动的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// captureNotifier 记录发出的事件
type captureNotifier struct {
	mu     sync.Mutex
	events []notification.Event
}

func (n *captureNotifier) Notify(_ context.Context, event notification.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *captureNotifier) Events() []notification.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification.Event{}, n.events...)
}

func (n *captureNotifier) Kinds() []notification.EventKind {
	kinds := []notification.EventKind{}
	for _, e := range n.Events() {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

// seqGenerator 顺序 ID 生成器（确定性）
type seqGenerator struct {
	mu sync.Mutex
	n  int
}

func (g *seqGenerator) Next(kind string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%03d", kind, g.n)
}

func newUnit(unitID, facilityID string, group domain.BloodGroup, component domain.ComponentType, expiry time.Time) *domain.BloodUnit {
	return &domain.BloodUnit{
		UnitID:         unitID,
		DonationID:     "DON-" + unitID,
		DonorID:        "DONOR-1",
		BloodGroup:     group,
		ComponentType:  component,
		VolumeML:       350,
		CollectionDate: expiry.AddDate(0, 0, -component.Spec().ShelfLifeDays),
		ExpiryDate:     expiry,
		Status:         domain.UnitAvailable,
		FacilityID:     facilityID,
		CreatedAt:      testNow,
		UpdatedAt:      testNow,
	}
}

func mustCreateUnit(t *testing.T, repo *repository.MemoryUnitsRepo, unit *domain.BloodUnit) {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), unit))
}

type testEnv struct {
	unitsRepo    *repository.MemoryUnitsRepo
	requestsRepo *repository.MemoryRequestsRepo
	clk          *fakeClock
	notifier     *captureNotifier
	inventory    *InventoryService
	matcher      *AllocationMatcher
	requests     *RequestService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		unitsRepo:    repository.NewMemoryUnitsRepo(),
		requestsRepo: repository.NewMemoryRequestsRepo(),
		clk:          newFakeClock(testNow),
		notifier:     &captureNotifier{},
	}
	logger := zap.NewNop()
	env.inventory = NewInventoryService(env.unitsRepo, nil, env.clk, 2*time.Hour, logger)
	env.matcher = NewAllocationMatcher(env.unitsRepo, env.inventory, logger)
	env.requests = NewRequestService(env.requestsRepo, env.inventory, env.matcher, env.notifier, &seqGenerator{}, env.clk, logger)
	return env
}
