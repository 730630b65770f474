package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"prodcat/catalog"
	"prodcat/output"
	"prodcat/view"

	"github.com/spf13/cobra"
)

var (
	exportFormat  string
	exportOutput  string
	exportDBPath  string
	exportSummary bool
	exportQuery   string
	exportSort    string
	exportDesc    bool
	exportPage    int
	exportPerPage int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export catalog products to CSV/Excel",
	Long: `Export the catalog, or the subset matching --query, in canonical column order.
With --page, only that page of the filtered and sorted set is written.

With --summary, one row per category is written instead: product count, units in stock,
out-of-stock count, stock value and average price.

Output format can be selected explicitly via --format or inferred from --output extension.
Exported files can be imported again without loss.`,
	Example: `
  # Export all products to CSV
  prodcat export --output ./products.csv

  # Export tools sorted by price to Excel
  prodcat export -q tools --sort price --output ./tools.xlsx

  # Export the second page of 20 rows, as shown by "prodcat list --page 2 --page-size 20"
  prodcat export --page 2 --page-size 20 --output ./page2.csv

  # Export per-category summary
  prodcat export --summary --output ./summary.csv

  # Force Excel format independent of extension
  prodcat export --format excel --output ./products.out
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format := exportFormat
		if strings.TrimSpace(format) == "" {
			format = detectExportFormat(exportOutput)
		}

		cfg, err := loadRuntimeConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg, exportDBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		products, err := store.ListProducts(cmd.Context())
		if err != nil {
			return err
		}
		model := view.NewModel(cfg.View.PageSize)
		model.Reload(products)
		if err := applyViewFlags(model, exportQuery, exportSort, exportDesc); err != nil {
			return err
		}
		selected, err := selectExportRows(model, exportPage, exportPerPage)
		if err != nil {
			return err
		}

		writer, err := output.WriterForFormat(format)
		if err != nil {
			return err
		}
		if exportSummary {
			summaries := output.BuildCategorySummaries(selected)
			if err := writeSummaryFile(exportOutput, format, summaries); err != nil {
				return err
			}
			fmt.Printf("Export completed. Categories: %d, Mode: summary, Format: %s, File: %s\n", len(summaries), format, exportOutput)
			return nil
		}

		if err := output.WriteFile(exportOutput, writer, selected); err != nil {
			return err
		}
		fmt.Printf("Export completed. Rows: %d, Format: %s, File: %s\n", len(selected), format, exportOutput)
		return nil
	},
}

// selectExportRows returns the 1-based page of the model, or the whole
// filtered set when page is 0. A pageSize of 0 keeps the model's size.
func selectExportRows(model *view.Model, page, pageSize int) ([]catalog.Product, error) {
	if page < 0 {
		return nil, fmt.Errorf("page must be >= 0, got %d", page)
	}
	if pageSize > 0 {
		if err := model.SetPageSize(pageSize); err != nil {
			return nil, err
		}
	}
	if page == 0 {
		return model.Filtered(), nil
	}
	return model.Page(page - 1), nil
}

func detectExportFormat(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case "csv":
		return "csv"
	case "xlsx", "xlsm":
		return "excel"
	default:
		return "csv"
	}
}

func writeSummaryFile(path, format string, summaries []output.CategorySummary) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create summary file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close summary file: %w", closeErr)
		}
	}()
	return output.WriteCategorySummaries(file, format, summaries)
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "", "Output format: csv|excel (optional, inferred from output extension)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file path")
	exportCmd.Flags().StringVar(&exportDBPath, "db", "", "Path to the catalog database (overrides database.dsn)")
	exportCmd.Flags().BoolVar(&exportSummary, "summary", false, "Export one row per category instead of products")
	addViewFlags(exportCmd, &exportQuery, &exportSort, &exportDesc)
	exportCmd.Flags().IntVar(&exportPage, "page", 0, "Export only this page, starting at 1 (0 exports all matching rows)")
	exportCmd.Flags().IntVar(&exportPerPage, "page-size", 0, "Rows per page (overrides view.page_size)")

	_ = exportCmd.MarkFlagRequired("output")
}
