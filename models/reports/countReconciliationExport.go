package reports

import (
	"fmt"
	"strings"

	"github.com/mmdatafocus/stockcount_backend/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	reconciliationSheet = "Reconciliation"
	summarySheet        = "Summary"
)

var reconciliationHeadings = []string{
	"ItemId", "Warehouse", "Sku", "Product", "Barcode", "Unit",
	"Theoretical", "Count1", "Count2", "Count3", "Final",
	"Variance", "Variance%", "Resolution", "Flagged", "FlagReason",
	"ThirdCountRequested", "Unexpected", "Notes",
}

// ReconciliationWorkbookName is the file name used for downloads and archives.
func ReconciliationWorkbookName(session *models.CountingSession) string {
	ref := strings.NewReplacer("/", "-", " ", "_").Replace(session.ReferenceNumber)
	if ref == "" {
		ref = fmt.Sprint(session.ID)
	}
	return fmt.Sprintf("count-%s-%s.xlsx", ref, strings.ToLower(string(session.Status)))
}

// ReconciliationWorkbook renders the admin reconciliation as a workbook with a
// line sheet and a summary sheet.
func ReconciliationWorkbook(rec *models.Reconciliation, summary *models.CountingSummary) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", reconciliationSheet); err != nil {
		return nil, err
	}

	for i, h := range reconciliationHeadings {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(reconciliationSheet, cell, h); err != nil {
			return nil, err
		}
	}
	for i, item := range rec.Items {
		row := []interface{}{
			item.ItemId, item.WarehouseId, item.Product.Sku, item.Product.Name, item.Product.Barcode, item.Product.Unit,
			item.TheoreticalQty.InexactFloat64(),
			nullDecimalCell(item.Count1Qty), nullDecimalCell(item.Count2Qty), nullDecimalCell(item.Count3Qty),
			nullDecimalCell(item.FinalQty), nullDecimalCell(item.VarianceQty), nullDecimalCell(item.VariancePercent),
			string(item.ResolutionMethod), item.IsFlagged, string(item.FlagReason),
			item.ThirdCountRequested, item.IsUnexpected, item.Notes,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(reconciliationSheet, cell, &row); err != nil {
			return nil, err
		}
	}

	if summary != nil {
		if _, err := f.NewSheet(summarySheet); err != nil {
			return nil, err
		}
		rows := [][]interface{}{
			{"Session", rec.Session.ReferenceNumber},
			{"Status", string(summary.Status)},
			{"TotalItems", summary.TotalItems},
			{"AutoResolved", summary.AutoResolved},
			{"ManuallyOverridden", summary.ManuallyOverridden},
			{"Pending", summary.Pending},
			{"Flagged", summary.Flagged},
			{"Critical", summary.Critical},
			{"NeedingAttention", summary.NeedingAttention},
			{"Unexpected", summary.Unexpected},
		}
		for i := range rows {
			if err := f.SetSheetRow(summarySheet, "A"+fmt.Sprint(i+1), &rows[i]); err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}

// ReconciliationWorkbookBytes is ReconciliationWorkbook serialized as xlsx.
func ReconciliationWorkbookBytes(rec *models.Reconciliation, summary *models.CountingSummary) ([]byte, error) {
	f, err := ReconciliationWorkbook(rec, summary)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func nullDecimalCell(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return ""
	}
	return d.Decimal.InexactFloat64()
}
