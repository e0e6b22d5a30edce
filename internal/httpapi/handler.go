package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/stemlab-dev/idonat/internal/alerts"
	"github.com/stemlab-dev/idonat/internal/models"
)

// RequestStore 用血请求读写
type RequestStore interface {
	Create(ctx context.Context, req *models.BloodRequest, now time.Time) error
	Get(ctx context.Context, requestID string) (*models.BloodRequest, error)
	UpdateStatus(ctx context.Context, requestID string, status models.RequestStatus, now time.Time) (models.RequestStatus, error)
	RecordResponse(ctx context.Context, requestID, donorID string, response models.Response, donated bool, now time.Time) error
}

// HospitalStore 医院与库存
type HospitalStore interface {
	GetHospital(ctx context.Context, hospitalID string) (*models.Hospital, error)
	ListHospitals(ctx context.Context) ([]models.Hospital, error)
	UpsertInventory(ctx context.Context, hospitalID string, bloodType models.BloodType, quantity int, now time.Time) error
}

// DonorStore 献血者查询
type DonorStore interface {
	GetDonor(ctx context.Context, donorID string) (*models.Donor, error)
}

// Predictor 短缺预测
type Predictor interface {
	Predict(ctx context.Context, hospitalID string, bloodType models.BloodType) (*models.ShortagePrediction, error)
}

// FulfillmentNotifier 请求履约后感谢献血者
type FulfillmentNotifier interface {
	NotifyFulfilled(ctx context.Context, requestID string) (int, error)
}

// SweepReader 最近一次短缺巡检结果
type SweepReader interface {
	Latest(ctx context.Context) (*alerts.Sweep, error)
}

// Trigger 触发一次后台任务（不阻塞）
type Trigger interface {
	Trigger()
}

// Deps 管理 API 依赖
type Deps struct {
	Requests  RequestStore
	Hospitals HospitalStore
	Donors    DonorStore // 可为 nil，不校验 donor_id
	Predictor Predictor
	Fulfill   FulfillmentNotifier
	Sweeps    SweepReader
	Matching  Trigger // 可为 nil
	Now       func() time.Time
}

// Handler 管理 API Handler
type Handler struct {
	requests  RequestStore
	hospitals HospitalStore
	donors    DonorStore
	predictor Predictor
	fulfill   FulfillmentNotifier
	sweeps    SweepReader
	matching  Trigger
	now       func() time.Time
	logger    *zap.Logger
}

// NewHandler 创建管理 API Handler
func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		requests:  deps.Requests,
		hospitals: deps.Hospitals,
		donors:    deps.Donors,
		predictor: deps.Predictor,
		fulfill:   deps.Fulfill,
		sweeps:    deps.Sweeps,
		matching:  deps.Matching,
		now:       now,
		logger:    logger,
	}
}

// Health 存活检查
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(map[string]any{"status": "ok"}))
}

func (h *Handler) triggerMatching() {
	if h.matching != nil {
		h.matching.Trigger()
	}
}

// writeError 按错误类型映射 HTTP 状态码
func (h *Handler) writeError(w http.ResponseWriter, err error, msg string, fields ...zap.Field) {
	switch {
	case models.IsValidationError(err):
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, Fail(err.Error()))
	case errors.Is(err, models.ErrConcurrentModification):
		writeJSON(w, http.StatusConflict, Fail(err.Error()))
	default:
		h.logger.Error(msg, append(fields, zap.Error(err))...)
		writeJSON(w, http.StatusInternalServerError, Fail(msg))
	}
}
