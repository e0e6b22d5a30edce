package shortage

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/stemlab-dev/idonat/internal/models"
)

const (
	historyWindowDays = 90
	trendWindowDays   = 30

	// 库存低于该值时建议补货
	safeStockLevel = 10

	// 合并后的共享计算超时
	predictTimeout = 30 * time.Second
)

// HospitalStore 医院及库存读取
type HospitalStore interface {
	GetHospital(ctx context.Context, hospitalID string) (*models.Hospital, error)
	ListHospitals(ctx context.Context) ([]models.Hospital, error)
}

// UsageHistory 历史用量与请求计数
type UsageHistory interface {
	DailyUsage(ctx context.Context, hospitalID string, bloodType models.BloodType, since time.Time) ([]models.DailyUsage, error)
	CountRequests(ctx context.Context, hospitalID string, bloodType models.BloodType, from, to time.Time) (int, error)
}

// ScheduleSource 医院排程系统（可能不存在，返回空列表）
type ScheduleSource interface {
	Upcoming(ctx context.Context, hospitalID string, bloodType models.BloodType) ([]models.ScheduledProcedure, error)
}

// Predictor 短缺预测：只读取库存与历史，不修改数据
type Predictor struct {
	hospitals HospitalStore
	history   UsageHistory
	schedule  ScheduleSource
	logger    *zap.Logger
	now       func() time.Time

	group singleflight.Group
}

// NewPredictor 创建短缺预测器；now 为 nil 时使用 time.Now
func NewPredictor(hospitals HospitalStore, history UsageHistory, schedule ScheduleSource, now func() time.Time, logger *zap.Logger) *Predictor {
	if now == nil {
		now = time.Now
	}
	return &Predictor{
		hospitals: hospitals,
		history:   history,
		schedule:  schedule,
		logger:    logger,
		now:       now,
	}
}

// Predict 预测某医院某血型的短缺情况
// 相同 (hospital, blood type) 的并发调用合并为一次计算
func (p *Predictor) Predict(ctx context.Context, hospitalID string, bloodType models.BloodType) (*models.ShortagePrediction, error) {
	if !bloodType.Valid() {
		return nil, &models.ValidationError{Field: "blood_type", Message: "unknown blood type " + string(bloodType)}
	}

	key := hospitalID + "|" + string(bloodType)
	ch := p.group.DoChan(key, func() (interface{}, error) {
		// 共享计算不随单个调用方取消
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), predictTimeout)
		defer cancel()

		h, err := p.hospitals.GetHospital(sctx, hospitalID)
		if err != nil {
			return nil, err
		}
		return p.predict(sctx, h, bloodType)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Shared {
		p.logger.Debug("Prediction shared with concurrent caller",
			zap.String("hospital_id", hospitalID),
			zap.String("blood_type", string(bloodType)),
		)
	}

	return clonePrediction(res.Val.(*models.ShortagePrediction)), nil
}

// clonePrediction 调用方可能修改结果，返回不共享指针与切片的副本
func clonePrediction(in *models.ShortagePrediction) *models.ShortagePrediction {
	out := *in
	out.Recommendations = append([]models.Recommendation(nil), in.Recommendations...)
	if in.NextCriticalDate != nil {
		next := *in.NextCriticalDate
		out.NextCriticalDate = &next
	}
	if in.ScheduledDemand.NextProcedure != nil {
		proc := *in.ScheduledDemand.NextProcedure
		out.ScheduledDemand.NextProcedure = &proc
	}
	return &out
}

func (p *Predictor) predict(ctx context.Context, h *models.Hospital, bloodType models.BloodType) (*models.ShortagePrediction, error) {
	now := p.now().UTC()
	stock := h.Stock(bloodType)

	usage, err := p.historicalUsage(ctx, h.HospitalID, bloodType, now)
	if err != nil {
		return nil, err
	}

	demand := p.scheduledDemand(ctx, h.HospitalID, bloodType)

	trend, err := p.requestTrend(ctx, h.HospitalID, bloodType, now)
	if err != nil {
		return nil, err
	}

	seasonal := SeasonalFactor(now)
	predicted := usage.AvgDailyUsage * trend.Trend.Multiplier() * seasonal

	pred := &models.ShortagePrediction{
		HospitalID:          h.HospitalID,
		BloodType:           bloodType,
		CurrentStock:        stock,
		PredictedDailyUsage: predicted,
		SeasonalFactor:      seasonal,
		HistoricalUsage:     usage,
		RequestTrend:        trend,
		ScheduledDemand:     demand,
		LastUpdated:         now,
	}

	switch {
	case stock == 0:
		pred.DaysUntilShortage = 0
	case predicted <= 0:
		pred.Unbounded = true
	default:
		pred.DaysUntilShortage = int(math.Floor(float64(stock) / predicted))
	}
	if !pred.Unbounded {
		next := now.Add(time.Duration(pred.DaysUntilShortage) * 24 * time.Hour)
		pred.NextCriticalDate = &next
	}

	pred.IsLikely, pred.Severity, pred.Confidence = ClassifyRisk(stock, pred.DaysUntilShortage, pred.Unbounded, demand)
	pred.Recommendations = Recommend(pred.IsLikely, pred.Severity, pred.DaysUntilShortage, stock, bloodType)

	p.logger.Debug("Shortage predicted",
		zap.String("hospital_id", h.HospitalID),
		zap.String("blood_type", string(bloodType)),
		zap.Int("current_stock", stock),
		zap.Float64("predicted_daily_usage", predicted),
		zap.Int("days_until_shortage", pred.DaysUntilShortage),
		zap.Bool("unbounded", pred.Unbounded),
		zap.String("severity", pred.Severity.String()),
		zap.Float64("confidence", pred.Confidence),
	)
	return pred, nil
}

// historicalUsage 近 90 天已履约请求的日用量统计；平均值只计有用量的日期
func (p *Predictor) historicalUsage(ctx context.Context, hospitalID string, bloodType models.BloodType, now time.Time) (models.HistoricalUsage, error) {
	out := models.HistoricalUsage{Period: fmt.Sprintf("%d days", historyWindowDays)}

	days, err := p.history.DailyUsage(ctx, hospitalID, bloodType, now.AddDate(0, 0, -historyWindowDays))
	if err != nil {
		return out, fmt.Errorf("failed to load usage history: %w", err)
	}

	for i, d := range days {
		out.TotalUnits += d.Units
		if d.Units > out.PeakUsage {
			out.PeakUsage = d.Units
		}
		if i == 0 || d.Units < out.LowUsage {
			out.LowUsage = d.Units
		}
	}
	if len(days) > 0 {
		out.AvgDailyUsage = float64(out.TotalUnits) / float64(len(days))
	}
	return out, nil
}

// scheduledDemand 排程需求；排程系统出错按无需求处理
func (p *Predictor) scheduledDemand(ctx context.Context, hospitalID string, bloodType models.BloodType) models.ScheduledDemand {
	var demand models.ScheduledDemand
	if p.schedule == nil {
		return demand
	}

	procedures, err := p.schedule.Upcoming(ctx, hospitalID, bloodType)
	if err != nil {
		p.logger.Warn("Failed to load scheduled procedures",
			zap.String("hospital_id", hospitalID),
			zap.String("blood_type", string(bloodType)),
			zap.Error(err),
		)
		return demand
	}

	for i := range procedures {
		proc := procedures[i]
		if proc.UnitsNeeded <= 0 {
			continue
		}
		demand.TotalScheduled += proc.UnitsNeeded
		if demand.NextProcedure == nil || proc.Date.Before(demand.NextProcedure.Date) {
			demand.NextProcedure = &proc
		}
	}
	return demand
}

// requestTrend 比较近 30 天与之前 30 天的请求数量
func (p *Predictor) requestTrend(ctx context.Context, hospitalID string, bloodType models.BloodType, now time.Time) (models.RequestTrend, error) {
	recentFrom := now.AddDate(0, 0, -trendWindowDays)
	olderFrom := now.AddDate(0, 0, -2*trendWindowDays)

	recent, err := p.history.CountRequests(ctx, hospitalID, bloodType, recentFrom, now)
	if err != nil {
		return models.RequestTrend{}, fmt.Errorf("failed to count recent requests: %w", err)
	}
	older, err := p.history.CountRequests(ctx, hospitalID, bloodType, olderFrom, recentFrom)
	if err != nil {
		return models.RequestTrend{}, fmt.Errorf("failed to count older requests: %w", err)
	}

	return ClassifyTrend(recent, older), nil
}

// ClassifyTrend recent > 1.3×older 为上升，recent < 0.7×older 为下降（整数比较，边界精确）
func ClassifyTrend(recent, older int) models.RequestTrend {
	t := models.RequestTrend{
		Trend:         models.TrendStable,
		RecentCount:   recent,
		PreviousCount: older,
	}

	switch {
	case older == 0:
		if recent > 0 {
			t.Trend = models.TrendIncreasing
		}
	case recent*10 > older*13:
		t.Trend = models.TrendIncreasing
	case recent*10 < older*7:
		t.Trend = models.TrendDecreasing
	}

	denominator := older
	if denominator == 0 {
		denominator = 1
	}
	t.ChangePercentage = float64(recent-older) / float64(denominator) * 100
	return t
}

// SeasonalFactor 12/1 月 1.3，6–8 月 1.2，其余 1.0
func SeasonalFactor(now time.Time) float64 {
	switch now.Month() {
	case time.December, time.January:
		return 1.3
	case time.June, time.July, time.August:
		return 1.2
	default:
		return 1.0
	}
}

// ClassifyRisk 判断短缺可能性、严重程度与置信度
func ClassifyRisk(stock, days int, unbounded bool, demand models.ScheduledDemand) (bool, models.Severity, float64) {
	if stock == 0 {
		return true, models.SeverityCritical, 0.95
	}
	if demand.NextProcedure != nil && demand.NextProcedure.UnitsNeeded > stock {
		return true, models.SeverityHigh, 0.9
	}

	var (
		likely     bool
		severity   models.Severity
		confidence float64
	)
	switch {
	case unbounded:
		likely, severity, confidence = false, models.SeverityNone, 0.3
	case days <= 1:
		likely, severity, confidence = true, models.SeverityCritical, 0.95
	case days <= 3:
		likely, severity, confidence = true, models.SeverityHigh, 0.85
	case days <= 7:
		likely, severity, confidence = true, models.SeverityMedium, 0.75
	case days <= 14:
		likely, severity, confidence = false, models.SeverityLow, 0.6
	default:
		likely, severity, confidence = false, models.SeverityNone, 0.3
	}

	// 排程总需求超过库存一半
	if demand.TotalScheduled*2 > stock {
		severity = severity.Escalate()
		confidence = math.Min(confidence+0.1, 0.95)
	}
	return likely, severity, math.Round(confidence*100) / 100
}

// Recommend 按严重程度生成建议，最后总是附加献血活动建议
func Recommend(likely bool, severity models.Severity, days, stock int, bloodType models.BloodType) []models.Recommendation {
	var recs []models.Recommendation

	if !likely {
		if stock < safeStockLevel {
			recs = append(recs, models.Recommendation{
				Priority:       models.SeverityMedium,
				Action:         "restock",
				Message:        fmt.Sprintf("Consider restocking %s blood to maintain safe levels", bloodType),
				SuggestedOrder: safeStockLevel - stock,
			})
		}
	} else {
		switch severity {
		case models.SeverityCritical:
			recs = append(recs,
				models.Recommendation{
					Priority:        models.SeverityCritical,
					Action:          "emergency_request",
					Message:         fmt.Sprintf("Issue emergency blood request for %s - stock may be depleted within 24 hours", bloodType),
					SuggestedDonors: 15,
				},
				models.Recommendation{
					Priority: models.SeverityHigh,
					Action:   "contact_other_hospitals",
					Message:  fmt.Sprintf("Contact nearby hospitals for %s blood transfers", bloodType),
				},
			)
		case models.SeverityHigh:
			recs = append(recs,
				models.Recommendation{
					Priority:        models.SeverityHigh,
					Action:          "urgent_request",
					Message:         fmt.Sprintf("Issue urgent blood request for %s - stock may be depleted in %d days", bloodType, days),
					SuggestedDonors: 10,
				},
				models.Recommendation{
					Priority: models.SeverityMedium,
					Action:   "prioritize_usage",
					Message:  fmt.Sprintf("Prioritize %s blood usage for critical cases only", bloodType),
				},
			)
		case models.SeverityMedium:
			order := safeStockLevel - stock
			if order < 5 {
				order = 5
			}
			recs = append(recs,
				models.Recommendation{
					Priority:       models.SeverityMedium,
					Action:         "standard_request",
					Message:        fmt.Sprintf("Request additional %s blood units to prevent future shortage", bloodType),
					SuggestedOrder: order,
				},
				models.Recommendation{
					Priority: models.SeverityLow,
					Action:   "monitor_usage",
					Message:  fmt.Sprintf("Monitor %s blood usage closely for unexpected increases", bloodType),
				},
			)
		}
	}

	return append(recs, models.Recommendation{
		Priority: models.SeverityLow,
		Action:   "schedule_drives",
		Message:  fmt.Sprintf("Consider scheduling blood donation drives for %s blood", bloodType),
	})
}
