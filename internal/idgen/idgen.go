package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// Generator ID 生成器
// kind 为业务前缀（如 "REQ" / "UNIT" / "DON"），仅要求全局唯一，不约定格式
type Generator interface {
	Next(kind string) string
}

// UUIDGenerator 基于 uuid 的实现
type UUIDGenerator struct{}

func NewUUIDGenerator() *UUIDGenerator {
	return &UUIDGenerator{}
}

func (g *UUIDGenerator) Next(kind string) string {
	id := uuid.New().String()
	if kind == "" {
		return id
	}
	return strings.ToUpper(kind) + "-" + id
}
