package rowstore

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/pwava/databaseattendacetracker/internal/domain"
)

// StatsExportHeader 聚合统计导出表头
var StatsExportHeader = []string{
	"Person ID",
	"Full Name",
	"Events This Month",
	"Events Trailing Window",
	"Volunteer Count",
	"Last Attended Date",
	"Last Attended Event",
	"Total Events",
	"Activity Level",
	"Prior Year Count",
}

// ImportWorkbook 解析上传的 .xlsx 工作簿
// 每个 sheet 视为一张逻辑表，sheet 名即表名；返回表名到行的映射
func ImportWorkbook(data []byte) (map[string][]Row, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	tables := make(map[string][]Row)
	for _, sheetName := range f.GetSheetList() {
		raw, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", sheetName, err)
		}
		rows := make([]Row, 0, len(raw))
		for _, cells := range raw {
			rows = append(rows, Row{Cells: cells})
		}
		tables[sheetName] = rows
	}

	return tables, nil
}

// ExportStats 生成聚合统计的 .xlsx 导出文件
// aggregates 为空时只生成表头
func ExportStats(aggregates []domain.AttendanceAggregate) ([]byte, error) {
	f := excelize.NewFile()
	// 注意：不能在这里 defer Close()，WriteTo 需要文件保持打开

	sheetName := "Attendance Stats"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	// 删除默认的 Sheet1
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	// 表头样式
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
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

	// 写入表头
	for col, header := range StatsExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	// 列宽
	columnWidths := []float64{
		12, // Person ID
		25, // Full Name
		18, // Events This Month
		20, // Events Last N Months
		16, // Volunteer Count
		18, // Last Attended Date
		25, // Last Attended Event
		14, // Total Events
		15, // Activity Level
		16, // Prior Year Count
	}
	for col, width := range columnWidths {
		colName, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(sheetName, colName, colName, width); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	// 写入数据行
	for i, agg := range aggregates {
		rowNum := i + 2
		lastAttended := ""
		if !agg.LastAttendedDate.IsZero() {
			lastAttended = agg.LastAttendedDate.Format("2006-01-02")
		}
		values := []any{
			agg.PersonID,
			agg.FullName,
			agg.EventsThisMonth,
			agg.EventsInTrailing,
			agg.VolunteerCount,
			lastAttended,
			agg.LastAttendedEventName,
			agg.TotalEventsAttended,
			agg.ActivityLevel,
			agg.PriorCalendarYearCount,
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, rowNum)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell %s: %w", cell, err)
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close workbook: %w", err)
	}

	return buf.Bytes(), nil
}

// 保留便于测试时生成固定日期的导出文件名
func ExportFileName(asOf time.Time) string {
	return fmt.Sprintf("attendance-stats-%s.xlsx", asOf.Format("20060102"))
}
