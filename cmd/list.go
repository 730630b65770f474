package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"prodcat/catalog"
	"prodcat/view"

	"github.com/spf13/cobra"
)

var (
	listDBPath   string
	listQuery    string
	listSort     string
	listDesc     bool
	listPage     int
	listPageSize int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog products one page at a time",
	Long: `Print one page of the catalog as a table.

The filter matches SKU, name and category case-insensitively. Sorting is stable;
products without a value in the sort field are listed first in both directions.
Pages are numbered from 1 and clamp to the last page.`,
	Example: `
  # First page with the configured page size
  prodcat list

  # Second page of all tools, most expensive first
  prodcat list -q tools --sort price --desc --page 2

  # 50 rows per page sorted by SKU
  prodcat list --sort sku --page-size 50
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRuntimeConfig()
		if err != nil {
			return err
		}
		pageSize := cfg.View.PageSize
		if cmd.Flags().Changed("page-size") {
			pageSize = listPageSize
		}

		store, err := openStore(cfg, listDBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		products, err := store.ListProducts(cmd.Context())
		if err != nil {
			return err
		}

		model := view.NewModel(pageSize)
		if err := model.SetPageSize(pageSize); err != nil {
			return err
		}
		model.Reload(products)
		if err := applyViewFlags(model, listQuery, listSort, listDesc); err != nil {
			return err
		}

		rows := model.Page(listPage - 1)
		if err := writeProductTable(os.Stdout, rows); err != nil {
			return err
		}
		fmt.Printf("Page %d/%d, Products: %d of %d\n", model.CurrentPage()+1, model.TotalPages(), model.Len(), model.Total())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVar(&listDBPath, "db", "", "Path to the catalog database (overrides database.dsn)")
	addViewFlags(listCmd, &listQuery, &listSort, &listDesc)
	listCmd.Flags().IntVar(&listPage, "page", 1, "Page number, starting at 1")
	listCmd.Flags().IntVar(&listPageSize, "page-size", 0, "Rows per page (overrides view.page_size)")
}

func addViewFlags(cmd *cobra.Command, query, sortField *string, desc *bool) {
	cmd.Flags().StringVarP(query, "query", "q", "", "Filter text matched against SKU, name and category")
	cmd.Flags().StringVar(sortField, "sort", "", "Sort field: "+strings.Join(append([]string{view.FieldID}, catalog.Fields...), "|"))
	cmd.Flags().BoolVar(desc, "desc", false, "Sort descending")
}

func applyViewFlags(model *view.Model, query, sortField string, desc bool) error {
	model.ApplyFilter(query)
	if strings.TrimSpace(sortField) == "" {
		return nil
	}
	return model.SetSort(sortField, desc)
}

func writeProductTable(out io.Writer, products []catalog.Product) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSKU\tNAME\tPRICE\tSTOCK\tCATEGORY\tSTATUS")
	for _, p := range products {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			strconv.FormatInt(p.ID, 10),
			p.SKU,
			oneLine(p.Name),
			p.Price.StringFixed(2),
			p.Stock,
			oneLine(p.Category),
			oneLine(p.Status),
		)
	}
	return w.Flush()
}

func oneLine(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
