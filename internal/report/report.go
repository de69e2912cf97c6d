// Package report renders a machine's day as an xlsx workbook.
package report

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"factory-dashboard-backend/internal/dashboard"
	"factory-dashboard-backend/internal/timeline"
)

const (
	// ContentType is the MIME type of the generated workbook.
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	ProductionSheet = "Production"
	TimelineSheet   = "Timeline"
)

var (
	productionHeader = []string{"Hour", "Produced", "Target", "Percent"}
	timelineHeader   = []string{"Start", "End", "Duration (s)", "Status", "Marker"}
)

// Filename returns the download name for a machine and day.
func Filename(machine, date string) string {
	return fmt.Sprintf("%s_%s.xlsx", machine, date)
}

// Shift builds a workbook with hourly production, shift totals and the day's
// segments.
func Shift(shift dashboard.ShiftView, tl dashboard.TimelineView) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(ProductionSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if _, err := f.NewSheet(TimelineSheet); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeHeader(f, ProductionSheet, productionHeader, headerStyle); err != nil {
		return nil, err
	}
	row := 2
	for _, h := range shift.Hours {
		if err := writeRow(f, ProductionSheet, row, fmt.Sprintf("%02d:00", h.Hour), h.Produced, h.Target, h.Percent); err != nil {
			return nil, err
		}
		row++
	}
	if err := writeRow(f, ProductionSheet, row, "Total", shift.Shift.Produced, shift.Shift.Target, shift.Shift.Percent); err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(ProductionSheet, cellName(1, row), cellName(len(productionHeader), row), headerStyle); err != nil {
		return nil, fmt.Errorf("failed to style totals: %w", err)
	}
	if err := writeRow(f, ProductionSheet, row+2, "Health", shift.Health, string(shift.Status)); err != nil {
		return nil, err
	}

	if err := writeHeader(f, TimelineSheet, timelineHeader, headerStyle); err != nil {
		return nil, err
	}
	for i, seg := range tl.Segments {
		if err := writeRow(f, TimelineSheet, i+2,
			clock(tl.Window, seg.TimeStart),
			clock(tl.Window, seg.TimeEnd),
			seg.Duration(),
			string(seg.Status),
			seg.HasMarker,
		); err != nil {
			return nil, err
		}
	}

	for _, sheet := range []string{ProductionSheet, TimelineSheet} {
		if err := f.SetColWidth(sheet, "A", "E", 14); err != nil {
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
		if err := f.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			return nil, fmt.Errorf("failed to freeze panes: %w", err)
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeHeader(f *excelize.File, sheet string, header []string, style int) error {
	for col, title := range header {
		cell := cellName(col+1, 1)
		if err := f.SetCellValue(sheet, cell, title); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
	}
	if err := f.SetCellStyle(sheet, cellName(1, 1), cellName(len(header), 1), style); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) error {
	for col, v := range values {
		cell := cellName(col+1, row)
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("failed to set cell %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}

func cellName(col, row int) string {
	// col and row are always positive here
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

func clock(w timeline.Window, offset int64) string {
	if w.Origin.IsZero() {
		return fmt.Sprintf("%02d:%02d:%02d", offset/3600, offset%3600/60, offset%60)
	}
	t := w.At(offset)
	if offset > 0 && offset == w.End && t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		return "24:00:00"
	}
	return t.Format("15:04:05")
}
