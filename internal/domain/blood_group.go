package domain

import "strings"

// BloodGroup 血型（8值枚举）
type BloodGroup string

const (
	APositive  BloodGroup = "A_POSITIVE"
	ANegative  BloodGroup = "A_NEGATIVE"
	BPositive  BloodGroup = "B_POSITIVE"
	BNegative  BloodGroup = "B_NEGATIVE"
	ABPositive BloodGroup = "AB_POSITIVE"
	ABNegative BloodGroup = "AB_NEGATIVE"
	OPositive  BloodGroup = "O_POSITIVE"
	ONegative  BloodGroup = "O_NEGATIVE"
)

// AllBloodGroups 全部血型（固定顺序，用于摘要统计输出）
var AllBloodGroups = []BloodGroup{
	APositive, ANegative,
	BPositive, BNegative,
	ABPositive, ABNegative,
	OPositive, ONegative,
}

var bloodGroupDisplay = map[BloodGroup]string{
	APositive:  "A+",
	ANegative:  "A-",
	BPositive:  "B+",
	BNegative:  "B-",
	ABPositive: "AB+",
	ABNegative: "AB-",
	OPositive:  "O+",
	ONegative:  "O-",
}

// DisplayName 显示名称（如 "A+"）
func (g BloodGroup) DisplayName() string {
	if name, ok := bloodGroupDisplay[g]; ok {
		return name
	}
	return string(g)
}

// Valid 血型是否合法
func (g BloodGroup) Valid() bool {
	_, ok := bloodGroupDisplay[g]
	return ok
}

// ParseBloodGroup 解析血型字符串
// 接受 "A+" / "APOSITIVE" / "A_POSITIVE" 等形式（大小写、空格不敏感）
func ParseBloodGroup(value string) (BloodGroup, error) {
	normalized := strings.ToUpper(value)
	normalized = strings.ReplaceAll(normalized, " ", "")
	normalized = strings.ReplaceAll(normalized, "_", "")

	switch normalized {
	case "A+", "APOSITIVE":
		return APositive, nil
	case "A-", "ANEGATIVE":
		return ANegative, nil
	case "B+", "BPOSITIVE":
		return BPositive, nil
	case "B-", "BNEGATIVE":
		return BNegative, nil
	case "AB+", "ABPOSITIVE":
		return ABPositive, nil
	case "AB-", "ABNEGATIVE":
		return ABNegative, nil
	case "O+", "OPOSITIVE":
		return OPositive, nil
	case "O-", "ONEGATIVE":
		return ONegative, nil
	default:
		return "", &ValidationError{Field: "blood_group", Reason: "invalid blood group: " + value}
	}
}
