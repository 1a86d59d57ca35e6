package httpapi

import (
	"fmt"
	"net/http"

	"github.com/xuri/excelize/v2"

	"branchpos/backend/internal/domain"
)

const collectibleSheet = "Collectible"

var collectibleHeaders = []string{"Paid At", "Payment Type", "Customer", "Source", "Source ID", "Amount"}

// buildCollectibleWorkbook lays out one row per collected item followed by a
// total row.
func buildCollectibleWorkbook(report domain.CollectibleReport) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", collectibleSheet); err != nil {
		_ = f.Close()
		return nil, err
	}

	if err := f.SetCellValue(collectibleSheet, "A1", fmt.Sprintf("Collectible %s to %s", report.StartDate, report.EndDate)); err != nil {
		_ = f.Close()
		return nil, err
	}
	for i, h := range collectibleHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 3)
		if err := f.SetCellValue(collectibleSheet, cell, h); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	row := 4
	for _, item := range report.Items {
		amount, _ := item.Amount.Round(2).Float64()
		values := []any{
			item.PaidAt.UTC().Format("2006-01-02 15:04"),
			item.PaymentType,
			item.CustomerName,
			item.SourceType,
			item.SourceID,
			amount,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(collectibleSheet, cell, v); err != nil {
				_ = f.Close()
				return nil, err
			}
		}
		row++
	}

	total, _ := report.Total.Round(2).Float64()
	if err := f.SetCellValue(collectibleSheet, fmt.Sprintf("E%d", row), "Total"); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := f.SetCellValue(collectibleSheet, fmt.Sprintf("F%d", row), total); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

func (a *API) writeCollectibleWorkbook(w http.ResponseWriter, r *http.Request, report domain.CollectibleReport) {
	f, err := buildCollectibleWorkbook(report)
	if err != nil {
		a.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	defer func() { _ = f.Close() }()

	filename := fmt.Sprintf("collectible-%s-%s.xlsx", report.StartDate, report.EndDate)
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := f.Write(w); err != nil {
		a.logger.WithError(err).Warn("failed to stream collectible workbook")
	}
}
