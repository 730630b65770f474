package cmd

import "github.com/spf13/cobra"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage prodcat configuration file values.",
	Long: `Create, edit and display the prodcat configuration file.

The configuration stores application-wide values:
- database.driver / database.dsn
- import.batch_size / max_log_lines / log_suffix / force_fallback / synonyms
- view.page_size
- thumbnail.cache_dir / max_size / fetch_timeout
- server.port
- log.level / log.format

Every key can be overridden by an environment variable, e.g. PRODCAT_DATABASE_DSN.`,
	Example: `
  # Create default config in $HOME/.prodcat.yaml
  prodcat config create

  # Show active config and source file
  prodcat config show

  # Open active config in editor (creates example if missing)
  prodcat config edit
`,
}

func init() {
	rootCmd.AddCommand(configCmd)
}
