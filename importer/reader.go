package importer

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	FormatCSV   = "csv"
	FormatExcel = "excel"
)

// Source yields the rows of one import file.
type Source interface {
	Format() string
	Encoding() Encoding
	// Sniff determines the dialect. It must be called before ReadHeader.
	Sniff() Dialect
	ReadHeader() ([]string, error)
	// Next returns the next row and its 1-based line number in the file, or
	// io.EOF when the input is exhausted.
	Next() ([]string, int, error)
	Close() error
}

// OpenSource opens path with the reader for its format. An empty format is
// inferred from the file extension.
func OpenSource(path, format string) (Source, error) {
	switch inferFormat(path, format) {
	case FormatCSV:
		return openCSVSource(path)
	case FormatExcel:
		return openExcelSource(path)
	default:
		return nil, fmt.Errorf("unsupported input format: %s", format)
	}
}

func inferFormat(path, format string) string {
	switch normalizeHeader(format) {
	case "":
	case "csv", "text", "delimited":
		return FormatCSV
	case "excel", "xlsx", "xlsm":
		return FormatExcel
	default:
		return format
	}

	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "xlsx", "xlsm":
		return FormatExcel
	default:
		return FormatCSV
	}
}
