package domain

import "fmt"

// NotFoundError 记录不存在（单元或请求 ID 未知）
type NotFoundError struct {
	Entity string // "blood_unit" / "blood_request"
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// InvalidStateError 当前状态不允许该操作（如对非 RESERVED 单元执行 issue）
type InvalidStateError struct {
	Entity string
	ID     string
	Status string // 操作时观察到的状态
	Op     string // 被拒绝的操作
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s: cannot %s in status %s", e.Entity, e.ID, e.Op, e.Status)
}

// ValidationError 输入校验失败（如数量 < 1、未知血型）
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}
