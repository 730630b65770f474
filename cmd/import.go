package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"prodcat/importer"

	"github.com/spf13/cobra"
)

var (
	importInputs    []string
	importFormat    string
	importDBPath    string
	importBatchSize int
	importFallback  bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import CSV/Excel product files into the catalog database",
	Long: `Read product files, map their headers onto the catalog schema and upsert every row by SKU.

Each file is imported in its own transaction: either all of its rows are committed or none are.
The encoding (UTF-8, UTF-16, Windows-1252, Latin-1) and the CSV delimiter are detected automatically.
Rows without SKU or name are skipped and listed in a diagnostic log written next to the source
file (<file>.import.log by default).

When --format is omitted, format is inferred from each input file extension.`,
	Example: `
  # Import one CSV file
  prodcat import -i ./supplier.csv

  # Import several files into an explicit database
  prodcat import -i ./a.csv -i ./b.xlsx --db ./products.db

  # Force the manual lookup-then-write path and smaller batches
  prodcat import -i ./supplier.csv --fallback --batch-size 100

  # Import with custom config file
  prodcat --configFile ./custom-prodcat.yaml import -i ./supplier.csv
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRuntimeConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("batch-size") {
			if importBatchSize <= 0 {
				return fmt.Errorf("--batch-size must be > 0")
			}
			cfg.Import.BatchSize = importBatchSize
		}
		if importFallback {
			cfg.Import.ForceFallback = true
		}

		store, err := openStore(cfg, importDBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		coordinator := importer.NewCoordinator(store, importOptions(cfg, importFormat))
		for _, input := range importInputs {
			result, err := coordinator.Run(cmd.Context(), input)
			if err != nil {
				return fmt.Errorf("import %s: %w", input, err)
			}
			printImportSummary(os.Stdout, result)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringArrayVarP(&importInputs, "input", "i", nil, "Input file path (repeatable)")
	importCmd.Flags().StringVarP(&importFormat, "format", "f", "", "Input format: csv|excel (optional, inferred from extension when omitted)")
	importCmd.Flags().StringVar(&importDBPath, "db", "", "Path to the catalog database (overrides database.dsn)")
	importCmd.Flags().IntVar(&importBatchSize, "batch-size", 0, "Rows per write batch (overrides import.batch_size)")
	importCmd.Flags().BoolVar(&importFallback, "fallback", false, "Always use the manual lookup-then-write path")

	_ = importCmd.MarkFlagRequired("input")
}

func printImportSummary(out io.Writer, result *importer.Result) {
	fmt.Fprintf(out,
		"Import completed. Rows read: %d, Inserted: %d, Updated: %d, Skipped: %d, Mode: %s, Encoding: %s, Elapsed: %s\n",
		result.RowsRead,
		result.Inserted,
		result.Updated,
		result.Skipped,
		result.Mode,
		result.Encoding,
		result.Elapsed.Round(time.Millisecond),
	)
	if result.LogPath != "" {
		fmt.Fprintf(out, "Diagnostics: %d, Log: %s\n", result.DiagnosticCount(), result.LogPath)
	}
}
