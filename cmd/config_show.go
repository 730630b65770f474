package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"prodcat/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show active configuration values.",
	Long: `Display the currently loaded configuration and the resolved config file path.

This command validates the configuration before printing values.`,
	Example: `
  # Show active configuration
  prodcat config show
`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.LoadAndValidate()
		if err != nil {
			fmt.Println("Invalid config:", err)
			return
		}

		if configPath := viper.ConfigFileUsed(); configPath != "" {
			fmt.Println("Config file loaded from:", configPath)
		} else {
			fmt.Println("No config file loaded; showing defaults and environment overrides.")
		}
		fmt.Println("Configuration:")
		printConfig(os.Stdout, cfg)
	},
}

func printConfig(out io.Writer, cfg *config.Config) {
	fmt.Fprintf(out, "database.driver: %s\n", cfg.Database.Driver)
	fmt.Fprintf(out, "database.dsn: %s\n", cfg.Database.DSN)
	fmt.Fprintf(out, "import.batch_size: %d\n", cfg.Import.BatchSize)
	fmt.Fprintf(out, "import.max_log_lines: %d\n", cfg.Import.MaxLogLines)
	fmt.Fprintf(out, "import.log_suffix: %s\n", cfg.Import.LogSuffix)
	fmt.Fprintf(out, "import.force_fallback: %t\n", cfg.Import.ForceFallback)

	fields := make([]string, 0, len(cfg.Import.Synonyms))
	for field := range cfg.Import.Synonyms {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	fmt.Fprintf(out, "import.synonyms: %d\n", len(fields))
	for _, field := range fields {
		fmt.Fprintf(out, "import.synonyms.%s: %s\n", field, strings.Join(cfg.Import.Synonyms[field], ", "))
	}

	fmt.Fprintf(out, "view.page_size: %d\n", cfg.View.PageSize)
	fmt.Fprintf(out, "thumbnail.cache_dir: %s\n", cfg.Thumbnail.CacheDir)
	fmt.Fprintf(out, "thumbnail.max_size: %d\n", cfg.Thumbnail.MaxSize)
	fmt.Fprintf(out, "thumbnail.fetch_timeout: %s\n", cfg.Thumbnail.FetchTimeout)
	fmt.Fprintf(out, "server.port: %d\n", cfg.Server.Port)
	fmt.Fprintf(out, "log.level: %s\n", cfg.Log.Level)
	fmt.Fprintf(out, "log.format: %s\n", cfg.Log.Format)
}

func init() {
	configCmd.AddCommand(configShowCmd)
}
