package reports

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// ExcelExporter is one spreadsheet row.
type ExcelExporter interface {
	GetCellValues() []interface{}
}

type Sheet struct {
	Name     string
	Headings []string
	Rows     []ExcelExporter
}

func newWorkbook(sheets []Sheet) (*excelize.File, error) {
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook needs at least one sheet")
	}
	f := excelize.NewFile()
	for i, sheet := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet.Name); err != nil {
				return nil, err
			}
		} else if _, err := f.NewSheet(sheet.Name); err != nil {
			return nil, err
		}
		if err := writeSheet(f, sheet); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func writeSheet(f *excelize.File, sheet Sheet) error {
	for col, h := range sheet.Headings {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet.Name, cell, h); err != nil {
			return err
		}
	}
	for rowNo, row := range sheet.Rows {
		for col, value := range row.GetCellValues() {
			cell, err := excelize.CoordinatesToCellName(col+1, rowNo+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet.Name, cell, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteWorkbook renders sheets into xlsx bytes, ready for upload.
func WriteWorkbook(sheets ...Sheet) ([]byte, error) {
	f, err := newWorkbook(sheets)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func SaveWorkbook(filename string, sheets ...Sheet) error {
	f, err := newWorkbook(sheets)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.SaveAs(filename)
}
