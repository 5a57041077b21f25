package clock

import "time"

// Clock 可注入的时间源
// 清扫器与预留 TTL 均通过 Clock 取当前时间，测试中可替换为假时钟
type Clock interface {
	Now() time.Time
}

// SystemClock 系统时钟
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// System 返回系统时钟实例
func System() Clock {
	return SystemClock{}
}
