package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"prodcat/catalog"
)

// Writer serializes products with the canonical header row.
type Writer interface {
	Write(w io.Writer, products []catalog.Product) error
	ContentType() string
	Extension() string
}

func WriterForFormat(format string) (Writer, error) {
	switch normalizeFormat(format) {
	case "csv", "":
		return &CSVWriter{}, nil
	case "excel", "xlsx":
		return &ExcelWriter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// WriteFile writes products to path, replacing any existing file.
func WriteFile(path string, writer Writer, products []catalog.Product) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output %s: %w", path, err)
	}
	defer file.Close()

	if err := writer.Write(file, products); err != nil {
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close output %s: %w", path, err)
	}
	return nil
}

func normalizeFormat(value string) string {
	return strings.TrimSpace(strings.ToLower(value))
}
