// Package export renders prediction history as spreadsheets.
package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/heartrisk-server/internal/analysis"
	"github.com/heartrisk-server/internal/domain"
)

// SheetName is the name of the worksheet holding the history rows.
const SheetName = "History"

// ContentType is the MIME type of the generated workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var fixedHeaders = []string{"ID", "Created At", "Prediction", "Confidence"}

// HistoryWorkbook renders records as an XLSX workbook with one row per
// record and one column per feature. Values outside their normal range on
// HighRisk records are highlighted. classifier may be nil.
func HistoryWorkbook(records []*domain.HistoryRecord, features []string, classifier *analysis.Classifier) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(SheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

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

	abnormalStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold:  true,
			Color: "#9C0006",
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#FFC7CE"},
			Pattern: 1,
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create highlight style: %w", err)
	}

	headers := append(append([]string(nil), fixedHeaders...), features...)
	for col, header := range headers {
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

	if err := f.SetColWidth(SheetName, "A", "A", 38); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}
	if err := f.SetColWidth(SheetName, "B", "C", 22); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}

	for i, rec := range records {
		if rec == nil {
			continue
		}
		row := i + 2
		fixed := []any{
			rec.ID,
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.Prediction.String(),
			rec.Confidence,
		}
		for col, value := range fixed {
			if err := setCellValue(f, col+1, row, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell value at row %d, col %d: %w", row, col+1, err)
			}
		}

		for j, feature := range features {
			value, ok := rec.Input[feature]
			if !ok || value == nil {
				continue
			}
			col := len(fixedHeaders) + j + 1
			if err := setCellValue(f, col, row, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell value at row %d, col %d: %w", row, col, err)
			}
			if classifier != nil && rec.Prediction.IsHigh() && classifier.IsAbnormal(feature, value) {
				cell, _ := excelize.CoordinatesToCellName(col, row)
				if err := f.SetCellStyle(SheetName, cell, cell, abnormalStyle); err != nil {
					f.Close()
					return nil, fmt.Errorf("failed to highlight cell %s: %w", cell, err)
				}
			}
		}
	}

	// Freeze the header row
	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		Split:       false,
		XSplit:      0,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	// File must remain open during WriteTo
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

func setCellValue(f *excelize.File, col, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(SheetName, cell, value)
}
