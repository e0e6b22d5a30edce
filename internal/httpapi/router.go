package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（Go 1.22+ 方法与路径参数模式）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 支持 http.Handler 接口（用于 /metrics）
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterRoutes 注册管理 API 路由
func (r *Router) RegisterRoutes(h *Handler) {
	r.Handle("GET /healthz", h.Health)

	r.Handle("POST /api/v1/blood-requests", h.CreateRequest)
	r.Handle("GET /api/v1/blood-requests/{id}", h.GetRequest)
	r.Handle("POST /api/v1/blood-requests/{id}/match", h.MatchRequest)
	r.Handle("POST /api/v1/blood-requests/{id}/status", h.UpdateStatus)
	r.Handle("POST /api/v1/blood-requests/{id}/responses", h.RecordResponse)

	r.Handle("PUT /api/v1/hospitals/{id}/inventory", h.UpdateInventory)
	r.Handle("GET /api/v1/hospitals/{id}/shortage", h.GetShortage)

	r.Handle("GET /api/v1/shortage/alerts", h.LatestAlerts)
	r.Handle("GET /api/v1/shortage/report.xlsx", h.ShortageReport)
}

// RegisterMetrics 注册 Prometheus 指标端点
func (r *Router) RegisterMetrics(metrics http.Handler) {
	r.HandleHandler("GET /metrics", metrics)
}
