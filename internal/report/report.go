package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/stemlab-dev/idonat/internal/models"
)

const (
	PredictionsSheet = "Predictions"
	AlertsSheet      = "Alerts"

	timeLayout = "2006-01-02 15:04:05"
)

// PredictionHeader 预测表表头
var PredictionHeader = []string{
	"Hospital ID",
	"Blood Type",
	"Current Stock",
	"Predicted Daily Usage",
	"Days Until Shortage",
	"Likely",
	"Severity",
	"Confidence",
	"Trend",
	"Scheduled Units",
	"Next Critical Date",
	"Top Action",
	"Last Updated",
}

// AlertHeader 告警表表头
var AlertHeader = []string{
	"Alert ID",
	"Hospital ID",
	"Hospital Name",
	"Blood Type",
	"Severity",
	"Confidence",
	"Days Until Shortage",
	"Current Stock",
	"Top Action",
	"Notified",
	"Created At",
}

var predictionWidths = []float64{38, 10, 14, 22, 20, 8, 10, 12, 12, 16, 20, 24, 20}

var alertWidths = []float64{38, 38, 24, 10, 10, 12, 20, 14, 24, 10, 20}

// ShortageWorkbook 生成短缺报表（Predictions + Alerts 两个工作表）
func ShortageWorkbook(predictions []models.ShortagePrediction, alerts []models.ShortageAlert) ([]byte, error) {
	f := excelize.NewFile()
	// WriteTo 之前不能关闭文件

	index, err := f.NewSheet(PredictionsSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if _, err := f.NewSheet(AlertsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	// 删除默认的 Sheet1
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeSheet(f, PredictionsSheet, PredictionHeader, predictionWidths, headerStyle, predictionRows(predictions)); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeSheet(f, AlertsSheet, AlertHeader, alertWidths, headerStyle, alertRows(alerts)); err != nil {
		f.Close()
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, sheet string, headers []string, widths []float64, headerStyle int, rows [][]any) error {
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
	}

	for i := 0; i < len(headers) && i < len(widths); i++ {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(sheet, col, col, widths[i]); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}

	// 数据从第2行开始
	for rowIdx, values := range rows {
		row := rowIdx + 2
		for colIdx, value := range values {
			if value == nil || value == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(colIdx+1, row)
			if err != nil {
				return fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return fmt.Errorf("failed to set cell value at row %d, col %d: %w", row, colIdx+1, err)
			}
		}
	}

	// 冻结表头
	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze panes: %w", err)
	}
	return nil
}

func predictionRows(predictions []models.ShortagePrediction) [][]any {
	rows := make([][]any, 0, len(predictions))
	for i := range predictions {
		p := &predictions[i]
		days := any(p.DaysUntilShortage)
		if p.Unbounded {
			days = "none"
		}
		topAction := ""
		if len(p.Recommendations) > 0 {
			topAction = p.Recommendations[0].Action
		}
		rows = append(rows, []any{
			p.HospitalID,
			string(p.BloodType),
			p.CurrentStock,
			p.PredictedDailyUsage,
			days,
			yesNo(p.IsLikely),
			p.Severity.String(),
			p.Confidence,
			string(p.RequestTrend.Trend),
			p.ScheduledDemand.TotalScheduled,
			formatTime(p.NextCriticalDate),
			topAction,
			formatTime(&p.LastUpdated),
		})
	}
	return rows
}

func alertRows(alerts []models.ShortageAlert) [][]any {
	rows := make([][]any, 0, len(alerts))
	for i := range alerts {
		a := &alerts[i]
		rows = append(rows, []any{
			a.AlertID,
			a.HospitalID,
			a.HospitalName,
			string(a.BloodType),
			a.Severity.String(),
			a.Confidence,
			a.DaysUntilShortage,
			a.CurrentStock,
			a.TopAction,
			yesNo(a.Notified),
			formatTime(&a.CreatedAt),
		})
	}
	return rows
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}
