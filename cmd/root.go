/*
Copyright © 2025 riad@rsworld.eu

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"prodcat/config"
	"prodcat/internal/logging"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "PRODCAT"

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "prodcat",
	Short: "Import, browse, and export a product catalog from CSV and Excel sources.",
	Long: `
**********************************************
*                 PRODCAT                    *
**********************************************

This CLI imports product spreadsheets (CSV, Excel) into a local catalog database,
lets you browse, edit and delete products, and exports the catalog back to CSV or Excel.

Imports detect the file encoding and CSV delimiter, map headers by synonym
(e.g. "Product Code" -> sku) and upsert rows by SKU in one transaction.
Skipped rows are written to a diagnostic log next to the source file.

Supported input formats:
- Excel: .xlsx, .xlsm
- CSV and other delimited text: .csv, .txt, .tsv
`,
	Example: `
  # Create configuration file
  prodcat config create

  # Import a supplier price list
  prodcat import -i ./supplier.csv

  # Browse page 2 of all tools, most expensive first
  prodcat list -q tools --sort price --desc --page 2

  # Export the filtered catalog to Excel
  prodcat export -q tools --output ./tools.xlsx

  # Export per-category stock summary
  prodcat export --summary --output ./summary.csv

  # Start the local JSON API
  prodcat serve --port 8080
`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	config.SetDefaults()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "configFile", "", "Config file override (default discovery: $HOME/.prodcat.yaml, then ./.prodcat.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override: trace|debug|info|warn|error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format override: console|json")
}

// initConfig reads in .env, the config file and PRODCAT_* environment variables.
func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
	}

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".prodcat" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".prodcat")
	}

	// PRODCAT_DATABASE_DSN overrides database.dsn and so on.
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintln(os.Stderr, "No config file found, using defaults. Create one with: prodcat config create")
	}
}

// loadRuntimeConfig validates the active configuration, applies the global
// log flags and configures logging.
func loadRuntimeConfig() (*config.Config, error) {
	cfg, err := config.LoadAndValidate()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(logLevel) != "" {
		cfg.Log.Level = logLevel
	}
	if strings.TrimSpace(logFormat) != "" {
		cfg.Log.Format = logFormat
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, err
	}
	return cfg, nil
}
