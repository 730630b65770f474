package output

import (
	"fmt"
	"io"

	"prodcat/catalog"

	"github.com/xuri/excelize/v2"
)

type ExcelWriter struct{}

func (w *ExcelWriter) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func (w *ExcelWriter) Extension() string { return ".xlsx" }

func (w *ExcelWriter) Write(out io.Writer, products []catalog.Product) error {
	file := excelize.NewFile()
	defer file.Close()

	sheet := file.GetSheetName(0)
	if err := writeSheetRow(file, sheet, 1, catalog.Fields); err != nil {
		return fmt.Errorf("set excel header: %w", err)
	}

	for i, product := range products {
		if err := writeSheetRow(file, sheet, i+2, product.Values()); err != nil {
			return fmt.Errorf("set excel row %d: %w", i+2, err)
		}
	}

	if _, err := file.WriteTo(out); err != nil {
		return fmt.Errorf("write excel output: %w", err)
	}

	return nil
}

func writeSheetRow(file *excelize.File, sheet string, row int, values []string) error {
	for col, value := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return err
		}
		if err := file.SetCellStr(sheet, cell, value); err != nil {
			return fmt.Errorf("set excel value %s: %w", cell, err)
		}
	}
	return nil
}
