package schedule

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/stemlab-dev/idonat/internal/models"
)

// EmptySource 未接入排程系统时使用，始终返回空列表
type EmptySource struct{}

// Upcoming 返回空列表
func (EmptySource) Upcoming(context.Context, string, models.BloodType) ([]models.ScheduledProcedure, error) {
	return []models.ScheduledProcedure{}, nil
}

// proceduresResponse 排程系统响应
type proceduresResponse struct {
	Procedures []models.ScheduledProcedure `json:"procedures"`
}

// HTTPSource 医院排程系统 HTTP 客户端
// GET /hospitals/{hospital_id}/procedures?blood_type=O-
type HTTPSource struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewHTTPSource 创建排程系统客户端
func NewHTTPSource(baseURL string, logger *zap.Logger) *HTTPSource {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Accept", "application/json")

	return &HTTPSource{
		httpClient: client,
		logger:     logger,
	}
}

// Upcoming 获取即将进行的手术用血需求
func (s *HTTPSource) Upcoming(ctx context.Context, hospitalID string, bloodType models.BloodType) ([]models.ScheduledProcedure, error) {
	var response proceduresResponse
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetQueryParam("blood_type", string(bloodType)).
		SetResult(&response).
		Get("/hospitals/" + url.PathEscape(hospitalID) + "/procedures")
	if err != nil {
		return nil, fmt.Errorf("failed to call scheduling system: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("scheduling system error: status %d", resp.StatusCode())
	}

	s.logger.Debug("Loaded scheduled procedures",
		zap.String("hospital_id", hospitalID),
		zap.String("blood_type", string(bloodType)),
		zap.Int("procedures", len(response.Procedures)),
	)

	if response.Procedures == nil {
		return []models.ScheduledProcedure{}, nil
	}
	return response.Procedures, nil
}
