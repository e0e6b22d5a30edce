package httpapi

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/stemlab-dev/idonat/internal/models"
)

type createRequestBody struct {
	HospitalID string    `json:"hospital_id"`
	BloodType  string    `json:"blood_type"`
	Quantity   int       `json:"quantity"`
	Urgency    string    `json:"urgency"`
	RequiredBy time.Time `json:"required_by"`
	Notes      *string   `json:"notes"`
}

type statusBody struct {
	Status string `json:"status"`
}

type responseBody struct {
	DonorID  string `json:"donor_id"`
	Response string `json:"response"`
	Donated  bool   `json:"donated"`
}

// CreateRequest 创建用血请求，成功后立即触发一次匹配
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}

	req := &models.BloodRequest{
		HospitalID: body.HospitalID,
		BloodType:  models.BloodType(body.BloodType),
		Quantity:   body.Quantity,
		Urgency:    models.Urgency(body.Urgency),
		RequiredBy: body.RequiredBy,
		Notes:      body.Notes,
	}
	if err := h.requests.Create(r.Context(), req, h.now()); err != nil {
		h.writeError(w, err, "failed to create blood request",
			zap.String("hospital_id", body.HospitalID),
		)
		return
	}

	h.triggerMatching()
	writeJSON(w, http.StatusCreated, Ok(req))
}

// GetRequest 获取用血请求及匹配记录
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	req, err := h.requests.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "failed to get blood request", zap.String("request_id", id))
		return
	}
	writeJSON(w, http.StatusOK, Ok(req))
}

// MatchRequest 手动触发匹配；只有 pending 请求可以匹配
func (h *Handler) MatchRequest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	req, err := h.requests.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "failed to get blood request", zap.String("request_id", id))
		return
	}
	if req.Status != models.StatusPending {
		writeJSON(w, http.StatusBadRequest, Fail("blood request is "+string(req.Status)))
		return
	}
	if req.IsExpired(h.now()) {
		writeJSON(w, http.StatusBadRequest, Fail("blood request is past required_by"))
		return
	}
	if h.matching == nil {
		writeJSON(w, http.StatusServiceUnavailable, Fail("matching is not running"))
		return
	}

	h.matching.Trigger()
	writeJSON(w, http.StatusAccepted, Ok(map[string]any{
		"request_id": id,
		"triggered":  true,
	}))
}

// UpdateStatus 更新请求状态；首次变为 fulfilled 时感谢所有同意的献血者
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body statusBody
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}

	status := models.RequestStatus(body.Status)
	previous, err := h.requests.UpdateStatus(r.Context(), id, status, h.now())
	if err != nil {
		h.writeError(w, err, "failed to update blood request status", zap.String("request_id", id))
		return
	}

	thanked := 0
	if status == models.StatusFulfilled && previous != models.StatusFulfilled && h.fulfill != nil {
		n, err := h.fulfill.NotifyFulfilled(r.Context(), id)
		if err != nil {
			h.logger.Warn("Failed to notify donors of fulfillment",
				zap.String("request_id", id),
				zap.Error(err),
			)
		}
		thanked = n
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"request_id":      id,
		"previous_status": previous,
		"status":          status,
		"donors_thanked":  thanked,
	}))
}

// RecordResponse 记录献血者回复
func (h *Handler) RecordResponse(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body responseBody
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	if body.DonorID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("donor_id is required"))
		return
	}
	if h.donors != nil {
		if _, err := h.donors.GetDonor(r.Context(), body.DonorID); err != nil {
			h.writeError(w, err, "failed to get donor", zap.String("donor_id", body.DonorID))
			return
		}
	}

	err := h.requests.RecordResponse(r.Context(), id, body.DonorID, models.Response(body.Response), body.Donated, h.now())
	if err != nil {
		h.writeError(w, err, "failed to record donor response",
			zap.String("request_id", id),
			zap.String("donor_id", body.DonorID),
		)
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"request_id": id,
		"donor_id":   body.DonorID,
		"response":   body.Response,
		"donated":    body.Donated,
	}))
}
