package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"prodcat/catalog"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const uncategorized = "(uncategorized)"

// CategorySummary aggregates the products of one category.
type CategorySummary struct {
	Category     string          `json:"category"`
	Products     int             `json:"products"`
	Units        int64           `json:"units"`
	OutOfStock   int             `json:"out_of_stock"`
	StockValue   decimal.Decimal `json:"stock_value"`
	AveragePrice decimal.Decimal `json:"average_price"`
}

var categorySummaryHeaders = []string{"Category", "Products", "Units", "OutOfStock", "StockValue", "AveragePrice"}

// BuildCategorySummaries groups products by category, ordered by name with
// uncategorized products last. Categories differing only in case are merged
// under the first spelling seen.
func BuildCategorySummaries(products []catalog.Product) []CategorySummary {
	if len(products) == 0 {
		return []CategorySummary{}
	}

	byKey := make(map[string]*CategorySummary)
	priceTotals := make(map[string]decimal.Decimal)
	keys := make([]string, 0, 16)
	for _, p := range products {
		key := strings.ToLower(strings.TrimSpace(p.Category))
		summary, ok := byKey[key]
		if !ok {
			name := strings.TrimSpace(p.Category)
			if name == "" {
				name = uncategorized
			}
			summary = &CategorySummary{Category: name}
			byKey[key] = summary
			keys = append(keys, key)
		}

		summary.Products++
		if p.Stock > 0 {
			summary.Units += p.Stock
			summary.StockValue = summary.StockValue.Add(p.Price.Mul(decimal.NewFromInt(p.Stock)))
		} else {
			summary.OutOfStock++
		}
		priceTotals[key] = priceTotals[key].Add(p.Price)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i] == "" || keys[j] == "" {
			return keys[j] == "" && keys[i] != ""
		}
		return keys[i] < keys[j]
	})

	summaries := make([]CategorySummary, 0, len(keys))
	for _, key := range keys {
		summary := *byKey[key]
		summary.AveragePrice = priceTotals[key].Div(decimal.NewFromInt(int64(summary.Products))).Round(2)
		summaries = append(summaries, summary)
	}
	return summaries
}

func WriteCategorySummaries(w io.Writer, format string, summaries []CategorySummary) error {
	switch normalizeFormat(format) {
	case "csv", "":
		return writeCategorySummariesCSV(w, summaries)
	case "excel", "xlsx":
		return writeCategorySummariesExcel(w, summaries)
	default:
		return fmt.Errorf("unsupported output format for category summaries: %s", format)
	}
}

func categorySummaryValues(summary CategorySummary) []string {
	return []string{
		summary.Category,
		strconv.Itoa(summary.Products),
		strconv.FormatInt(summary.Units, 10),
		strconv.Itoa(summary.OutOfStock),
		summary.StockValue.StringFixed(2),
		summary.AveragePrice.StringFixed(2),
	}
}

func writeCategorySummariesCSV(w io.Writer, summaries []CategorySummary) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(categorySummaryHeaders); err != nil {
		return fmt.Errorf("write csv headers: %w", err)
	}

	for _, summary := range summaries {
		if err := writer.Write(categorySummaryValues(summary)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv output: %w", err)
	}
	return nil
}

func writeCategorySummariesExcel(w io.Writer, summaries []CategorySummary) error {
	file := excelize.NewFile()
	defer file.Close()

	sheet := file.GetSheetName(0)
	if err := writeSheetRow(file, sheet, 1, categorySummaryHeaders); err != nil {
		return fmt.Errorf("set excel header: %w", err)
	}
	for i, summary := range summaries {
		if err := writeSheetRow(file, sheet, i+2, categorySummaryValues(summary)); err != nil {
			return fmt.Errorf("set excel row %d: %w", i+2, err)
		}
	}

	if _, err := file.WriteTo(w); err != nil {
		return fmt.Errorf("write excel output: %w", err)
	}
	return nil
}
