package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/stemlab-dev/idonat/internal/models"
	"github.com/stemlab-dev/idonat/internal/report"
)

type inventoryBody struct {
	BloodType string `json:"blood_type"`
	Quantity  *int   `json:"quantity"`
}

// UpdateInventory 更新库存，随后对该血型做一次即时预测并记录可能的短缺
func (h *Handler) UpdateInventory(w http.ResponseWriter, r *http.Request) {
	hospitalID := r.PathValue("id")
	var body inventoryBody
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	if body.Quantity == nil {
		writeJSON(w, http.StatusBadRequest, Fail("quantity is required"))
		return
	}

	bloodType := models.BloodType(body.BloodType)
	if err := h.hospitals.UpsertInventory(r.Context(), hospitalID, bloodType, *body.Quantity, h.now()); err != nil {
		h.writeError(w, err, "failed to update inventory",
			zap.String("hospital_id", hospitalID),
			zap.String("blood_type", body.BloodType),
		)
		return
	}

	resp := map[string]any{
		"hospital_id": hospitalID,
		"blood_type":  bloodType,
		"quantity":    *body.Quantity,
	}

	pred, err := h.predictor.Predict(r.Context(), hospitalID, bloodType)
	if err != nil {
		h.logger.Warn("Failed to predict shortage after inventory update",
			zap.String("hospital_id", hospitalID),
			zap.String("blood_type", body.BloodType),
			zap.Error(err),
		)
	} else {
		if pred.IsLikely {
			h.logger.Warn("Shortage likely after inventory update",
				zap.String("hospital_id", hospitalID),
				zap.String("blood_type", body.BloodType),
				zap.String("severity", pred.Severity.String()),
				zap.Int("days_until_shortage", pred.DaysUntilShortage),
			)
		}
		resp["prediction"] = pred
	}

	writeJSON(w, http.StatusOK, Ok(resp))
}

// GetShortage 预测某医院某血型
func (h *Handler) GetShortage(w http.ResponseWriter, r *http.Request) {
	hospitalID := r.PathValue("id")
	bloodType := r.URL.Query().Get("blood_type")
	if bloodType == "" {
		writeJSON(w, http.StatusBadRequest, Fail("blood_type is required"))
		return
	}

	pred, err := h.predictor.Predict(r.Context(), hospitalID, models.BloodType(bloodType))
	if err != nil {
		h.writeError(w, err, "failed to predict shortage",
			zap.String("hospital_id", hospitalID),
			zap.String("blood_type", bloodType),
		)
		return
	}
	writeJSON(w, http.StatusOK, Ok(pred))
}

// LatestAlerts 最近一次巡检的告警；尚无巡检时返回空列表
func (h *Handler) LatestAlerts(w http.ResponseWriter, r *http.Request) {
	sweep, err := h.sweeps.Latest(r.Context())
	if err != nil {
		h.writeError(w, err, "failed to read shortage alerts")
		return
	}

	resp := map[string]any{
		"completed_at": nil,
		"alerts":       []models.ShortageAlert{},
	}
	if sweep != nil {
		resp["completed_at"] = sweep.CompletedAt
		if sweep.Alerts != nil {
			resp["alerts"] = sweep.Alerts
		}
	}
	writeJSON(w, http.StatusOK, Ok(resp))
}

// ShortageReport 导出 xlsx：库存中每个血型的预测 + 最近一次巡检告警
// hospital_id 为空时导出所有医院
func (h *Handler) ShortageReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hospitalID := r.URL.Query().Get("hospital_id")

	var hospitals []models.Hospital
	if hospitalID != "" {
		hospital, err := h.hospitals.GetHospital(ctx, hospitalID)
		if err != nil {
			h.writeError(w, err, "failed to load hospital", zap.String("hospital_id", hospitalID))
			return
		}
		hospitals = []models.Hospital{*hospital}
	} else {
		var err error
		hospitals, err = h.hospitals.ListHospitals(ctx)
		if err != nil {
			h.writeError(w, err, "failed to list hospitals")
			return
		}
	}

	predictions := make([]models.ShortagePrediction, 0)
	for i := range hospitals {
		for _, item := range hospitals[i].Inventory {
			pred, err := h.predictor.Predict(ctx, hospitals[i].HospitalID, item.BloodType)
			if err != nil {
				h.logger.Warn("Failed to predict shortage for report",
					zap.String("hospital_id", hospitals[i].HospitalID),
					zap.String("blood_type", string(item.BloodType)),
					zap.Error(err),
				)
				continue
			}
			predictions = append(predictions, *pred)
		}
	}

	var latest []models.ShortageAlert
	sweep, err := h.sweeps.Latest(ctx)
	if err != nil {
		h.logger.Warn("Failed to read shortage alerts for report", zap.Error(err))
	} else if sweep != nil {
		for _, a := range sweep.Alerts {
			if hospitalID == "" || a.HospitalID == hospitalID {
				latest = append(latest, a)
			}
		}
	}

	data, err := report.ShortageWorkbook(predictions, latest)
	if err != nil {
		h.writeError(w, err, "failed to generate shortage report")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=shortage-report.xlsx")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
