package importer

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// excelSource streams the first sheet of a workbook. Workbooks carry their
// own encoding, so byte and dialect sniffing are skipped.
type excelSource struct {
	file *excelize.File
	rows *excelize.Rows
	line int
}

func openExcelSource(path string) (*excelSource, error) {
	file, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open excel file %s: %w", path, err)
	}

	sheetName := file.GetSheetName(0)
	if sheetName == "" {
		_ = file.Close()
		return nil, fmt.Errorf("excel file has no sheets: %s", path)
	}

	rows, err := file.Rows(sheetName)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("read rows from sheet %s: %w", sheetName, err)
	}

	return &excelSource{file: file, rows: rows}, nil
}

func (s *excelSource) Format() string     { return FormatExcel }
func (s *excelSource) Encoding() Encoding { return Encoding{Name: "xlsx"} }
func (s *excelSource) Sniff() Dialect     { return DefaultDialect }

func (s *excelSource) ReadHeader() ([]string, error) {
	row, _, err := s.Next()
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *excelSource) Next() ([]string, int, error) {
	if !s.rows.Next() {
		if err := s.rows.Error(); err != nil {
			return nil, 0, fmt.Errorf("read excel row %d: %w", s.line+1, err)
		}
		if s.line == 0 {
			return nil, 0, ErrNoHeader
		}
		return nil, 0, io.EOF
	}
	s.line++

	row, err := s.rows.Columns()
	if err != nil {
		return nil, 0, fmt.Errorf("read excel row %d: %w", s.line, err)
	}
	return row, s.line, nil
}

func (s *excelSource) Close() error {
	_ = s.rows.Close()
	return s.file.Close()
}
