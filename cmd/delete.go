package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"prodcat/catalog"
	"prodcat/storage"

	"github.com/spf13/cobra"
)

var (
	deleteDBPath string
	deleteSKU    string
	deleteAll    bool
)

var (
	deletePromptInput  io.Reader = os.Stdin
	deletePromptOutput io.Writer = os.Stdout
)

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete one product, or the complete SQLite catalog file",
	Long: `Destructive cleanup command.

With --sku, the product with exactly that SKU is removed from the catalog.
With --all, the complete SQLite database file is deleted.
Before deletion, an interactive security prompt requires typing exactly "Y".`,
	Example: `
  # Delete one product (requires interactive confirmation)
  prodcat delete --sku ABC-1

  # Delete the complete SQLite file
  prodcat delete --all --db ./products.db
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		hasSKU := strings.TrimSpace(deleteSKU) != ""
		if hasSKU == deleteAll {
			return fmt.Errorf("exactly one of --sku or --all is required")
		}

		cfg, err := loadRuntimeConfig()
		if err != nil {
			return err
		}

		if deleteAll {
			path := cfg.Database.DSN
			if strings.TrimSpace(deleteDBPath) != "" {
				path = deleteDBPath
			}
			if cfg.Database.Driver != storage.DriverSQLite {
				return fmt.Errorf("--all only deletes sqlite database files (driver: %s)", cfg.Database.Driver)
			}

			confirmed, err := confirmDeletePrompt(deletePromptInput, deletePromptOutput, fmt.Sprintf("Delete database file %q?", path))
			if err != nil {
				return err
			}
			if !confirmed {
				return fmt.Errorf("delete aborted: confirmation was not 'Y'")
			}
			if err := removeDatabaseFile(path); err != nil {
				return err
			}
			fmt.Printf("Deleted database file: %s\n", path)
			return nil
		}

		store, err := openStore(cfg, deleteDBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		product, err := deleteProductBySKU(cmd.Context(), store, strings.TrimSpace(deleteSKU), deletePromptInput, deletePromptOutput)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted product %s (%s)\n", product.SKU, product.Name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)

	deleteCmd.Flags().StringVar(&deleteDBPath, "db", "", "Path to the catalog database (overrides database.dsn)")
	deleteCmd.Flags().StringVar(&deleteSKU, "sku", "", "SKU of the product to delete")
	deleteCmd.Flags().BoolVar(&deleteAll, "all", false, "Delete the complete SQLite database file")
}

func deleteProductBySKU(ctx context.Context, store catalog.Store, sku string, input io.Reader, output io.Writer) (catalog.Product, error) {
	product, found, err := store.GetProductBySKU(ctx, sku)
	if err != nil {
		return catalog.Product{}, err
	}
	if !found {
		return catalog.Product{}, fmt.Errorf("%w: sku %s", catalog.ErrProductNotFound, sku)
	}

	confirmed, err := confirmDeletePrompt(input, output, fmt.Sprintf("Delete product %s (%s)?", product.SKU, product.Name))
	if err != nil {
		return catalog.Product{}, err
	}
	if !confirmed {
		return catalog.Product{}, fmt.Errorf("delete aborted: confirmation was not 'Y'")
	}

	deleted, err := store.DeleteProduct(ctx, product.ID)
	if err != nil {
		return catalog.Product{}, err
	}
	if !deleted {
		return catalog.Product{}, fmt.Errorf("%w: sku %s", catalog.ErrProductNotFound, sku)
	}
	return product, nil
}

func confirmDeletePrompt(input io.Reader, output io.Writer, question string) (bool, error) {
	if input == nil {
		return false, fmt.Errorf("delete confirmation input is not available")
	}

	if output == nil {
		output = io.Discard
	}

	if _, err := fmt.Fprintf(output, "%s Type Y to confirm: ", question); err != nil {
		return false, fmt.Errorf("write delete confirmation prompt: %w", err)
	}

	line, err := bufio.NewReader(input).ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			line = strings.TrimSpace(line)
			return line == "Y", nil
		}
		return false, fmt.Errorf("read delete confirmation: %w", err)
	}
	return strings.TrimSpace(line) == "Y", nil
}

func removeDatabaseFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("database file not found: %s", path)
		}
		return fmt.Errorf("stat database file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("database path is a directory: %s", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete database file: %w", err)
	}
	return nil
}
