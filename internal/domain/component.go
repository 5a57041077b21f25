package domain

import (
	"strings"
	"time"
)

// ComponentType 血液成分类型
type ComponentType string

const (
	WholeBlood     ComponentType = "WHOLE_BLOOD"
	Plasma         ComponentType = "PLASMA"
	Platelets      ComponentType = "PLATELETS"
	RedBloodCells  ComponentType = "RED_BLOOD_CELLS"
	Cryoprecipitate ComponentType = "CRYOPRECIPITATE"
)

// AllComponentTypes 全部成分类型（固定顺序，用于摘要统计输出）
var AllComponentTypes = []ComponentType{
	WholeBlood, Plasma, Platelets, RedBloodCells, Cryoprecipitate,
}

// ComponentSpec 成分规格（保质期与储存温度）
type ComponentSpec struct {
	DisplayName        string
	ShelfLifeDays      int
	StorageTemperature string
}

// componentSpecs 成分规格静态表
// 保质期/储存温度为行业固定值，不做配置
var componentSpecs = map[ComponentType]ComponentSpec{
	WholeBlood:      {DisplayName: "Whole Blood", ShelfLifeDays: 35, StorageTemperature: "1-6°C"},
	Plasma:          {DisplayName: "Plasma", ShelfLifeDays: 365, StorageTemperature: "-25°C or below"},
	Platelets:       {DisplayName: "Platelets", ShelfLifeDays: 5, StorageTemperature: "20-24°C"},
	RedBloodCells:   {DisplayName: "Red Blood Cells", ShelfLifeDays: 42, StorageTemperature: "1-6°C"},
	Cryoprecipitate: {DisplayName: "Cryoprecipitate", ShelfLifeDays: 365, StorageTemperature: "-25°C or below"},
}

// Spec 获取成分规格
func (c ComponentType) Spec() ComponentSpec {
	return componentSpecs[c]
}

// DisplayName 显示名称
func (c ComponentType) DisplayName() string {
	return componentSpecs[c].DisplayName
}

// Valid 成分类型是否合法
func (c ComponentType) Valid() bool {
	_, ok := componentSpecs[c]
	return ok
}

// ExpiryDate 计算到期日期（采集日期 + 成分保质期）
func ExpiryDate(collectionDate time.Time, component ComponentType) time.Time {
	return collectionDate.AddDate(0, 0, componentSpecs[component].ShelfLifeDays)
}

// ParseComponentType 解析成分类型字符串（大小写、空格不敏感）
func ParseComponentType(value string) (ComponentType, error) {
	normalized := strings.ToUpper(value)
	normalized = strings.ReplaceAll(normalized, " ", "_")

	switch normalized {
	case "WHOLE_BLOOD", "WHOLEBLOOD":
		return WholeBlood, nil
	case "PLASMA":
		return Plasma, nil
	case "PLATELETS":
		return Platelets, nil
	case "RED_BLOOD_CELLS", "REDBLOODCELLS":
		return RedBloodCells, nil
	case "CRYOPRECIPITATE":
		return Cryoprecipitate, nil
	default:
		return "", &ValidationError{Field: "component_type", Reason: "invalid component type: " + value}
	}
}
