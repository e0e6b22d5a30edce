package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Severity 短缺严重程度（有序：none < low < medium < high < critical）
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"none", "low", "medium", "high", "critical"}

func (s Severity) String() string {
	if s < SeverityNone || s > SeverityCritical {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// Escalate 提升一级，且不低于 medium；critical 保持不变
func (s Severity) Escalate() Severity {
	next := s + 1
	if next > SeverityCritical {
		next = SeverityCritical
	}
	if next < SeverityMedium {
		next = SeverityMedium
	}
	return next
}

// ParseSeverity 字符串转 Severity
func ParseSeverity(v string) (Severity, error) {
	for i, name := range severityNames {
		if name == v {
			return Severity(i), nil
		}
	}
	return SeverityNone, fmt.Errorf("unknown severity %q", v)
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	parsed, err := ParseSeverity(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Trend 请求量趋势
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendStable     Trend = "stable"
	TrendDecreasing Trend = "decreasing"
)

// Multiplier 趋势对日用量的修正系数
func (t Trend) Multiplier() float64 {
	switch t {
	case TrendIncreasing:
		return 1.2
	case TrendDecreasing:
		return 0.8
	default:
		return 1.0
	}
}

// DailyUsage 某一自然日（UTC）的用量
type DailyUsage struct {
	Day   time.Time `json:"day"`
	Units int       `json:"units"`
}

// ScheduledProcedure 医院排程中的预计用血
type ScheduledProcedure struct {
	Date        time.Time `json:"date"`
	UnitsNeeded int       `json:"units_needed"`
}

// ScheduledDemand 排程需求汇总
type ScheduledDemand struct {
	TotalScheduled int                 `json:"total_scheduled"`
	NextProcedure  *ScheduledProcedure `json:"next_procedure,omitempty"`
}

// HistoricalUsage 历史用量统计
type HistoricalUsage struct {
	Period        string  `json:"period"`
	TotalUnits    int     `json:"total_units"`
	AvgDailyUsage float64 `json:"avg_daily_usage"`
	PeakUsage     int     `json:"peak_usage"`
	LowUsage      int     `json:"low_usage"`
}

// RequestTrend 趋势分析结果
type RequestTrend struct {
	Trend            Trend   `json:"trend"`
	RecentCount      int     `json:"recent_period_count"`
	PreviousCount    int     `json:"previous_period_count"`
	ChangePercentage float64 `json:"change_percentage"`
}

// Recommendation 建议动作
type Recommendation struct {
	Priority        Severity `json:"priority"`
	Action          string   `json:"action"`
	Message         string   `json:"message"`
	SuggestedDonors int      `json:"suggested_donors,omitempty"`
	SuggestedOrder  int      `json:"suggested_order,omitempty"`
}

// ShortagePrediction 某医院某血型的短缺预测（计算结果，不落库）
type ShortagePrediction struct {
	HospitalID          string           `json:"hospital_id"`
	BloodType           BloodType        `json:"blood_type"`
	CurrentStock        int              `json:"current_stock"`
	PredictedDailyUsage float64          `json:"predicted_daily_usage"`
	DaysUntilShortage   int              `json:"days_until_shortage"`
	Unbounded           bool             `json:"unbounded"` // 预测用量 <= 0，不会短缺
	IsLikely            bool             `json:"is_likely"`
	Severity            Severity         `json:"severity"`
	Confidence          float64          `json:"confidence"`
	NextCriticalDate    *time.Time       `json:"next_critical_date,omitempty"`
	SeasonalFactor      float64          `json:"seasonal_factor"`
	HistoricalUsage     HistoricalUsage  `json:"historical_usage"`
	RequestTrend        RequestTrend     `json:"request_trend"`
	ScheduledDemand     ScheduledDemand  `json:"scheduled_demand"`
	Recommendations     []Recommendation `json:"recommendations"`
	LastUpdated         time.Time        `json:"last_updated"`
}

// ShortageAlert 巡检产生的告警
type ShortageAlert struct {
	AlertID           string    `json:"alert_id"`
	HospitalID        string    `json:"hospital_id"`
	HospitalName      string    `json:"hospital_name"`
	BloodType         BloodType `json:"blood_type"`
	Severity          Severity  `json:"severity"`
	Confidence        float64   `json:"confidence"`
	DaysUntilShortage int       `json:"days_until_shortage"`
	CurrentStock      int       `json:"current_stock"`
	TopAction         string    `json:"top_action,omitempty"`
	Notified          bool      `json:"notified"`
	CreatedAt         time.Time `json:"created_at"`
}
