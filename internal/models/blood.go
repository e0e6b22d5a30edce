package models

// BloodType ABO/Rh 血型
type BloodType string

const (
	BloodTypeAPos  BloodType = "A+"
	BloodTypeANeg  BloodType = "A-"
	BloodTypeBPos  BloodType = "B+"
	BloodTypeBNeg  BloodType = "B-"
	BloodTypeABPos BloodType = "AB+"
	BloodTypeABNeg BloodType = "AB-"
	BloodTypeOPos  BloodType = "O+"
	BloodTypeONeg  BloodType = "O-"
)

// AllBloodTypes 全部 8 种血型
var AllBloodTypes = []BloodType{
	BloodTypeAPos, BloodTypeANeg,
	BloodTypeBPos, BloodTypeBNeg,
	BloodTypeABPos, BloodTypeABNeg,
	BloodTypeOPos, BloodTypeONeg,
}

// Valid 是否为合法血型
func (b BloodType) Valid() bool {
	for _, t := range AllBloodTypes {
		if b == t {
			return true
		}
	}
	return false
}

// Urgency 紧急程度
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// SearchParams 按紧急程度决定的搜索半径与通知人数
type SearchParams struct {
	MaxDistanceMeters float64
	DonorLimit        int
}

var urgencySearchParams = map[Urgency]SearchParams{
	UrgencyCritical: {MaxDistanceMeters: 100000, DonorLimit: 30},
	UrgencyHigh:     {MaxDistanceMeters: 50000, DonorLimit: 20},
	UrgencyMedium:   {MaxDistanceMeters: 30000, DonorLimit: 15},
	UrgencyLow:      {MaxDistanceMeters: 10000, DonorLimit: 10},
}

var defaultSearchParams = SearchParams{MaxDistanceMeters: 30000, DonorLimit: 15}

// SearchParams 返回该紧急程度的搜索参数；未知值使用默认值
func (u Urgency) SearchParams() SearchParams {
	if p, ok := urgencySearchParams[u]; ok {
		return p
	}
	return defaultSearchParams
}

// Valid 是否为合法紧急程度
func (u Urgency) Valid() bool {
	_, ok := urgencySearchParams[u]
	return ok
}
