package notification

import "context"

// EventKind 通知事件类型
type EventKind string

const (
	EventEmergencyRequest    EventKind = "emergency_request"
	EventRequestAllocated    EventKind = "request_allocated"
	EventRequestDispatched   EventKind = "request_dispatched"
	EventExpiryWarning       EventKind = "expiry_warning"
	EventUnitsExpired        EventKind = "units_expired"
	EventReservationReleased EventKind = "reservation_released"
)

// Event 通知事件
type Event struct {
	Kind       EventKind      `json:"kind"`
	FacilityID string         `json:"facility_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Notifier 通知网关接口
// 尽力送达：失败只记日志，永不向核心逻辑传播，也不重试阻塞调用方
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// NopNotifier 空实现（测试与禁用通知时使用）
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) {}
