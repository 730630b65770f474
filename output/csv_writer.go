package output

import (
	"encoding/csv"
	"fmt"
	"io"

	"prodcat/catalog"
)

type CSVWriter struct{}

func (w *CSVWriter) ContentType() string { return "text/csv; charset=utf-8" }
func (w *CSVWriter) Extension() string   { return ".csv" }

func (w *CSVWriter) Write(out io.Writer, products []catalog.Product) error {
	writer := csv.NewWriter(out)

	if err := writer.Write(catalog.Fields); err != nil {
		return fmt.Errorf("write csv headers: %w", err)
	}

	for _, product := range products {
		if err := writer.Write(product.Values()); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv output: %w", err)
	}

	return nil
}
