package shortage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stemlab-dev/idonat/internal/models"
)

// 触发告警的最低置信度（严格大于）
const alertConfidenceThreshold = 0.7

// Notifier 医院联系渠道通知
type Notifier interface {
	Send(ctx context.Context, destination, message string) error
}

// AlertSink 告警下游（Redis Stream、MQTT 等）
type AlertSink interface {
	Publish(ctx context.Context, alert models.ShortageAlert) error
}

// SweepStore 保存最近一次巡检结果
type SweepStore interface {
	SaveSweep(ctx context.Context, alerts []models.ShortageAlert, at time.Time) error
}

// Metrics 巡检指标
type Metrics interface {
	SweepCompleted(d time.Duration, alerts []models.ShortageAlert)
}

// SweepOptions 巡检可选依赖
type SweepOptions struct {
	Sinks   []AlertSink
	Store   SweepStore
	Metrics Metrics
}

// Sweeper 遍历所有医院 × 库存血型执行预测并告警
type Sweeper struct {
	predictor *Predictor
	hospitals HospitalStore
	notifier  Notifier
	sinks     []AlertSink
	store     SweepStore
	metrics   Metrics
	logger    *zap.Logger
}

// NewSweeper 创建短缺巡检
func NewSweeper(predictor *Predictor, hospitals HospitalStore, notifier Notifier, opts SweepOptions, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		predictor: predictor,
		hospitals: hospitals,
		notifier:  notifier,
		sinks:     opts.Sinks,
		store:     opts.Store,
		metrics:   opts.Metrics,
		logger:    logger,
	}
}

// CheckAllForShortages 巡检所有医院，返回本次产生的告警
// 单个医院/血型失败跳过继续；本方法不返回错误
func (s *Sweeper) CheckAllForShortages(ctx context.Context) []models.ShortageAlert {
	started := time.Now()
	alerts := []models.ShortageAlert{}

	hospitals, err := s.hospitals.ListHospitals(ctx)
	if err != nil {
		s.logger.Error("Failed to list hospitals for shortage sweep", zap.Error(err))
		return alerts
	}

	for i := range hospitals {
		h := &hospitals[i]
		for _, item := range h.Inventory {
			if ctx.Err() != nil {
				s.logger.Warn("Shortage sweep cancelled", zap.Error(ctx.Err()))
				return s.finish(ctx, started, alerts)
			}

			alert, ok := s.check(ctx, h, item.BloodType)
			if ok {
				alerts = append(alerts, alert)
			}
		}
	}

	return s.finish(ctx, started, alerts)
}

func (s *Sweeper) check(ctx context.Context, h *models.Hospital, bloodType models.BloodType) (models.ShortageAlert, bool) {
	logger := s.logger.With(
		zap.String("hospital_id", h.HospitalID),
		zap.String("blood_type", string(bloodType)),
	)

	pred, err := s.predictor.Predict(ctx, h.HospitalID, bloodType)
	if err != nil {
		logger.Error("Failed to predict shortage", zap.Error(err))
		return models.ShortageAlert{}, false
	}
	if !pred.IsLikely || pred.Confidence <= alertConfidenceThreshold {
		return models.ShortageAlert{}, false
	}

	alert := models.ShortageAlert{
		AlertID:           uuid.New().String(),
		HospitalID:        h.HospitalID,
		HospitalName:      h.Name,
		BloodType:         bloodType,
		Severity:          pred.Severity,
		Confidence:        pred.Confidence,
		DaysUntilShortage: pred.DaysUntilShortage,
		CurrentStock:      pred.CurrentStock,
		CreatedAt:         pred.LastUpdated,
	}
	if len(pred.Recommendations) > 0 {
		alert.TopAction = pred.Recommendations[0].Action
	}

	if pred.Severity >= models.SeverityHigh && s.notifier != nil && h.ContactPhone != "" {
		if err := s.notifier.Send(ctx, h.ContactPhone, AlertMessage(pred)); err != nil {
			logger.Warn("Failed to notify hospital of shortage", zap.Error(err))
		} else {
			alert.Notified = true
		}
	}

	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, alert); err != nil {
			logger.Warn("Failed to publish shortage alert",
				zap.String("alert_id", alert.AlertID),
				zap.Error(err),
			)
		}
	}

	logger.Info("Shortage alert raised",
		zap.String("alert_id", alert.AlertID),
		zap.String("severity", alert.Severity.String()),
		zap.Float64("confidence", alert.Confidence),
		zap.Int("days_until_shortage", alert.DaysUntilShortage),
		zap.Bool("notified", alert.Notified),
	)
	return alert, true
}

func (s *Sweeper) finish(ctx context.Context, started time.Time, alerts []models.ShortageAlert) []models.ShortageAlert {
	if s.store != nil {
		if err := s.store.SaveSweep(ctx, alerts, time.Now()); err != nil {
			s.logger.Warn("Failed to save shortage sweep", zap.Error(err))
		}
	}
	d := time.Since(started)
	if s.metrics != nil {
		s.metrics.SweepCompleted(d, alerts)
	}
	s.logger.Info("Shortage check completed",
		zap.Int("alerts", len(alerts)),
		zap.Duration("duration", d),
	)
	return alerts
}

// AlertMessage 医院短缺告警短信
func AlertMessage(pred *models.ShortagePrediction) string {
	action := ""
	if len(pred.Recommendations) > 0 {
		action = pred.Recommendations[0].Message
	}
	return fmt.Sprintf("ALERT: %s blood shortage predicted in %d days. Current stock: %d units. Action: %s",
		pred.BloodType, pred.DaysUntilShortage, pred.CurrentStock, action)
}
