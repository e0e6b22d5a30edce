package matching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stemlab-dev/idonat/internal/config"
	"github.com/stemlab-dev/idonat/internal/models"
)

// DonorDirectory 候选献血者检索
type DonorDirectory interface {
	FindCandidates(ctx context.Context, q models.CandidateQuery) ([]models.Donor, error)
}

// RequestLedger 用血请求存储
type RequestLedger interface {
	ListMatchable(ctx context.Context, now time.Time) ([]models.MatchableRequest, error)
	AppendMatches(ctx context.Context, requestID string, expectedVersion int64, donorIDs []string, notifiedAt time.Time) ([]string, error)
	ExpirePending(ctx context.Context, now time.Time) (int64, error)
	Get(ctx context.Context, requestID string) (*models.BloodRequest, error)
	ListPositiveResponders(ctx context.Context, requestID string) ([]models.Donor, error)
}

// HospitalDirectory 医院查询（履约通知需要医院名称）
type HospitalDirectory interface {
	GetHospital(ctx context.Context, hospitalID string) (*models.Hospital, error)
}

// Notifier 外发通知
type Notifier interface {
	Send(ctx context.Context, destination, message string) error
}

// Metrics 匹配轮次指标
type Metrics interface {
	PassCompleted(d time.Duration, attempts, notificationFailures, requestFailures, conflicts int, expired int64)
	PassSkipped()
}

type noopMetrics struct{}

func (noopMetrics) PassCompleted(time.Duration, int, int, int, int, int64) {}

func (noopMetrics) PassSkipped() {}

// PassResult 一次匹配轮次的统计
type PassResult struct {
	Skipped              bool          `json:"skipped"`
	Scanned              int           `json:"scanned"`
	Sufficient           int           `json:"sufficient"`
	Matched              int           `json:"matched_requests"`
	AttemptsCreated      int           `json:"attempts_created"`
	NotificationFailures int           `json:"notification_failures"`
	RequestFailures      int           `json:"request_failures"`
	Conflicts            int           `json:"conflicts"`
	Expired              int64         `json:"expired"`
	Duration             time.Duration `json:"duration"`
}

// Options 引擎参数
type Options struct {
	Sufficiency   config.SufficiencyPolicy
	NotifyTimeout time.Duration
	Metrics       Metrics
	Now           func() time.Time
}

// Engine 匹配引擎：为 pending 请求寻找并通知献血者，过期请求置为 expired
type Engine struct {
	directory DonorDirectory
	ledger    RequestLedger
	hospitals HospitalDirectory
	notifier  Notifier
	metrics   Metrics
	logger    *zap.Logger

	sufficiency   config.SufficiencyPolicy
	notifyTimeout time.Duration
	now           func() time.Time

	// 同一进程内的轮次互斥，已有轮次在运行时直接跳过
	running sync.Mutex
}

// NewEngine 创建匹配引擎
func NewEngine(directory DonorDirectory, ledger RequestLedger, hospitals HospitalDirectory, notifier Notifier, opts Options, logger *zap.Logger) *Engine {
	e := &Engine{
		directory:     directory,
		ledger:        ledger,
		hospitals:     hospitals,
		notifier:      notifier,
		metrics:       opts.Metrics,
		logger:        logger,
		sufficiency:   opts.Sufficiency,
		notifyTimeout: opts.NotifyTimeout,
		now:           opts.Now,
	}
	if e.metrics == nil {
		e.metrics = noopMetrics{}
	}
	if e.sufficiency == "" {
		e.sufficiency = config.SufficiencyPositive
	}
	if e.notifyTimeout <= 0 {
		e.notifyTimeout = 10 * time.Second
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// RunMatchingPass 执行一次匹配轮次
// 单个请求失败只记录日志，不影响其余请求；本方法不返回错误
func (e *Engine) RunMatchingPass(ctx context.Context) PassResult {
	if !e.running.TryLock() {
		e.logger.Info("Matching pass already running, skipping")
		e.metrics.PassSkipped()
		return PassResult{Skipped: true}
	}
	defer e.running.Unlock()

	started := time.Now()
	var result PassResult

	now := e.now()
	requests, err := e.ledger.ListMatchable(ctx, now)
	if err != nil {
		e.logger.Error("Failed to list pending requests", zap.Error(err))
		result.RequestFailures++
	}

	for i := range requests {
		if ctx.Err() != nil {
			e.logger.Warn("Matching pass cancelled", zap.Error(ctx.Err()))
			break
		}
		e.processRequest(ctx, &requests[i], &result)
	}

	expired, err := e.ledger.ExpirePending(ctx, e.now())
	if err != nil {
		e.logger.Error("Failed to expire pending requests", zap.Error(err))
	} else {
		result.Expired = expired
	}

	result.Duration = time.Since(started)
	e.metrics.PassCompleted(result.Duration, result.AttemptsCreated, result.NotificationFailures,
		result.RequestFailures, result.Conflicts, result.Expired)

	e.logger.Info("Matching pass completed",
		zap.Int("scanned", result.Scanned),
		zap.Int("sufficient", result.Sufficient),
		zap.Int("matched_requests", result.Matched),
		zap.Int("attempts_created", result.AttemptsCreated),
		zap.Int("notification_failures", result.NotificationFailures),
		zap.Int("request_failures", result.RequestFailures),
		zap.Int("conflicts", result.Conflicts),
		zap.Int64("expired", result.Expired),
		zap.Duration("duration", result.Duration),
	)
	return result
}

func (e *Engine) processRequest(ctx context.Context, req *models.MatchableRequest, result *PassResult) {
	result.Scanned++

	logger := e.logger.With(
		zap.String("request_id", req.RequestID),
		zap.String("hospital_id", req.HospitalID),
		zap.String("blood_type", string(req.BloodType)),
		zap.String("urgency", string(req.Urgency)),
	)

	if e.isSufficient(&req.BloodRequest) {
		result.Sufficient++
		logger.Debug("Request already sufficiently matched")
		return
	}

	params := req.Urgency.SearchParams()
	candidates, err := e.directory.FindCandidates(ctx, models.CandidateQuery{
		BloodType:         req.BloodType,
		Origin:            req.HospitalLocation,
		MaxDistanceMeters: params.MaxDistanceMeters,
		ExcludeDonorIDs:   req.NotifiedDonorIDs(),
		Limit:             params.DonorLimit,
	})
	if err != nil {
		result.RequestFailures++
		logger.Error("Failed to find candidate donors", zap.Error(err))
		return
	}
	if len(candidates) == 0 {
		logger.Debug("No candidate donors found")
		return
	}

	donorIDs := make([]string, 0, len(candidates))
	byID := make(map[string]models.Donor, len(candidates))
	for _, d := range candidates {
		donorIDs = append(donorIDs, d.DonorID)
		byID[d.DonorID] = d
	}

	inserted, err := e.ledger.AppendMatches(ctx, req.RequestID, req.Version, donorIDs, e.now())
	if err != nil {
		if errors.Is(err, models.ErrConcurrentModification) {
			result.Conflicts++
			logger.Warn("Request modified concurrently, leaving for next pass", zap.Error(err))
			return
		}
		result.RequestFailures++
		logger.Error("Failed to record match attempts", zap.Error(err))
		return
	}
	if len(inserted) == 0 {
		return
	}

	result.Matched++
	result.AttemptsCreated += len(inserted)

	message := MatchMessage(req.HospitalName, req.BloodType)
	for _, id := range inserted {
		donor, ok := byID[id]
		if !ok {
			continue
		}
		if err := e.send(ctx, donor.Phone, message); err != nil {
			result.NotificationFailures++
			logger.Warn("Failed to notify donor",
				zap.String("donor_id", donor.DonorID),
				zap.Error(err),
			)
		}
	}

	logger.Info("Donors matched",
		zap.Int("candidates", len(candidates)),
		zap.Int("notified", len(inserted)),
	)
}

// isSufficient 按配置的策略判断是否已满足数量
func (e *Engine) isSufficient(req *models.BloodRequest) bool {
	if e.sufficiency == config.SufficiencyDonated {
		return req.DonatedCount() >= req.Quantity
	}
	return req.PositiveCount() >= req.Quantity
}

// send 单次通知带超时
func (e *Engine) send(ctx context.Context, destination, message string) error {
	ctx, cancel := context.WithTimeout(ctx, e.notifyTimeout)
	defer cancel()
	return e.notifier.Send(ctx, destination, message)
}

// NotifyFulfilled 请求履约后感谢所有回复 positive 的献血者
// 返回成功发送的数量；单条失败只记录日志
func (e *Engine) NotifyFulfilled(ctx context.Context, requestID string) (int, error) {
	req, err := e.ledger.Get(ctx, requestID)
	if err != nil {
		return 0, err
	}

	hospitalName := req.HospitalID
	if e.hospitals != nil {
		h, err := e.hospitals.GetHospital(ctx, req.HospitalID)
		if err != nil {
			e.logger.Warn("Failed to load hospital for fulfillment notice",
				zap.String("request_id", requestID),
				zap.String("hospital_id", req.HospitalID),
				zap.Error(err),
			)
		} else {
			hospitalName = h.Name
		}
	}

	donors, err := e.ledger.ListPositiveResponders(ctx, requestID)
	if err != nil {
		return 0, fmt.Errorf("failed to list positive responders: %w", err)
	}

	message := FulfilledMessage(hospitalName, req.BloodType)
	sent := 0
	for _, d := range donors {
		if err := e.send(ctx, d.Phone, message); err != nil {
			e.logger.Warn("Failed to send fulfillment notice",
				zap.String("request_id", requestID),
				zap.String("donor_id", d.DonorID),
				zap.Error(err),
			)
			continue
		}
		sent++
	}

	e.logger.Info("Fulfillment notices sent",
		zap.String("request_id", requestID),
		zap.Int("responders", len(donors)),
		zap.Int("sent", sent),
	)
	return sent, nil
}

// MatchMessage 献血邀请短信
func MatchMessage(hospitalName string, bloodType models.BloodType) string {
	return fmt.Sprintf("URGENT: %s needs %s blood. Can you donate within 24 hours? Reply YES or NO.", hospitalName, bloodType)
}

// FulfilledMessage 履约感谢短信
func FulfilledMessage(hospitalName string, bloodType models.BloodType) string {
	return fmt.Sprintf("Update: The %s blood request at %s has been fulfilled. Thank you for your willingness to help!", bloodType, hospitalName)
}
