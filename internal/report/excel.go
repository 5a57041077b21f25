package report

import (
	"context"
	"fmt"

	"bloodcore/internal/repository"
	"bloodcore/internal/service"

	"github.com/xuri/excelize/v2"
)

// UnitExportHeader 单元清单导出表头
var UnitExportHeader = []string{
	"Unit ID",
	"Blood Group",
	"Component",
	"Status",
	"Volume (ml)",
	"Collection Date",
	"Expiry Date",
	"Storage Location",
	"Storage Temperature",
	"Batch Number",
}

// ExcelExporter 库存报表导出器（管理侧报表，xlsx 格式）
type ExcelExporter struct {
	unitsRepo repository.UnitsRepository
	summaries *service.SummaryService
}

func NewExcelExporter(unitsRepo repository.UnitsRepository, summaries *service.SummaryService) *ExcelExporter {
	return &ExcelExporter{
		unitsRepo: unitsRepo,
		summaries: summaries,
	}
}

// FacilityInventory 生成机构库存报表（摘要页 + 单元清单页）
func (e *ExcelExporter) FacilityInventory(ctx context.Context, facilityID string) ([]byte, error) {
	summary, err := e.summaries.FacilitySummary(ctx, facilityID)
	if err != nil {
		return nil, err
	}
	units, err := e.unitsRepo.ByFacility(ctx, facilityID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	// Note: Don't defer Close() here, because WriteTo needs the file to be open

	summarySheet := "Summary"
	index, err := f.NewSheet(summarySheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create summary sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	// ==== 摘要页 ====
	summaryRows := [][]any{
		{"Facility ID", summary.FacilityID},
		{"Generated At", summary.GeneratedAt.Format("2006-01-02 15:04:05")},
		{"Available Units", summary.TotalAvailable},
		{"Reserved Units", summary.TotalReserved},
		{"Issued Units", summary.TotalIssued},
		{"Discarded Units", summary.TotalDiscarded},
		{"Expiring Soon", summary.ExpiringSoon},
		{"Stock Low", summary.IsStockLow},
	}
	if summary.NextExpiryDate != nil {
		summaryRows = append(summaryRows, []any{"Next Expiry Date", summary.NextExpiryDate.Format("2006-01-02")})
	}
	for groupName, count := range summary.GroupCount {
		summaryRows = append(summaryRows, []any{"Available " + groupName, count})
	}
	for componentName, count := range summary.ComponentCount {
		summaryRows = append(summaryRows, []any{"Available " + componentName, count})
	}

	for i, row := range summaryRows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write summary row: %w", err)
		}
	}
	labelRange, _ := excelize.CoordinatesToCellName(1, 1)
	labelEnd, _ := excelize.CoordinatesToCellName(1, len(summaryRows))
	_ = f.SetCellStyle(summarySheet, labelRange, labelEnd, headerStyle)

	// ==== 单元清单页 ====
	unitsSheet := "Units"
	if _, err := f.NewSheet(unitsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create units sheet: %w", err)
	}

	header := make([]any, len(UnitExportHeader))
	for i, h := range UnitExportHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(unitsSheet, "A1", &header); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write units header: %w", err)
	}
	headerEnd, _ := excelize.CoordinatesToCellName(len(UnitExportHeader), 1)
	_ = f.SetCellStyle(unitsSheet, "A1", headerEnd, headerStyle)

	for i, unit := range units {
		spec := unit.ComponentType.Spec()
		row := []any{
			unit.UnitID,
			unit.BloodGroup.DisplayName(),
			unit.ComponentType.DisplayName(),
			string(unit.Status),
			unit.VolumeML,
			unit.CollectionDate.Format("2006-01-02"),
			unit.ExpiryDate.Format("2006-01-02"),
			unit.StorageLocation,
			spec.StorageTemperature,
			unit.BatchNumber,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(unitsSheet, cell, &row); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write unit row: %w", err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write excel buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close excel file: %w", err)
	}
	return buf.Bytes(), nil
}
