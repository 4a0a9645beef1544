// Package export writes chart data to spreadsheet files.
package export

import (
	"bytes"
	"fmt"
	"regexp"
	"time"

	"airq-dashboard/internal/models"

	"github.com/xuri/excelize/v2"
)

// SheetName 历史数据工作表名
const SheetName = "History"

// HistoryHeader 导出表头
var HistoryHeader = []string{
	"Timestamp",
	"TVOC (ppb)",
	"eCO2 (ppm)",
}

const timeLayout = "2006-01-02 15:04:05"

// HistoryWorkbook builds an .xlsx with one row per history point, oldest
// first as given. Missing readings are left as empty cells.
func HistoryWorkbook(deviceID string, points []models.HistoryPoint) ([]byte, error) {
	f := excelize.NewFile()
	// Note: Don't defer Close() here, because WriteTo needs the file to be open

	index, err := f.NewSheet(SheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	if err := f.SetDocProps(&excelize.DocProperties{
		Title:   fmt.Sprintf("Air quality history %s", deviceID),
		Subject: deviceID,
		Creator: "airq-dashboard",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set document properties: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range HistoryHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(SheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(SheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}
	if err := f.SetColWidth(SheetName, "A", "A", 22); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}
	if err := f.SetColWidth(SheetName, "B", "C", 14); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}

	for i, p := range points {
		row := i + 2 // 第1行是表头
		values := []interface{}{timestampValue(p.TS), floatValue(p.TVOC), floatValue(p.ECO2)}
		for col, v := range values {
			if v == nil {
				continue
			}
			if err := setCellValue(f, col+1, row, v); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell value at row %d, col %d: %w", row, col+1, err)
			}
		}
	}

	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
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

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName 下载文件名，例如 history_node-001_20240501-100000.xlsx
func FileName(deviceID string, now time.Time) string {
	id := unsafeName.ReplaceAllString(deviceID, "_")
	if id == "" {
		id = "device"
	}
	return fmt.Sprintf("history_%s_%s.xlsx", id, now.UTC().Format("20060102-150405"))
}

func setCellValue(f *excelize.File, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(SheetName, cell, value)
}

func timestampValue(ts models.Timestamp) interface{} {
	if ts.IsZero() {
		return nil
	}
	return ts.UTC().Format(timeLayout)
}

func floatValue(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
