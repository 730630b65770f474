package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"prodcat/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const templateDSNLine = `dsn: "./products.db"`

var (
	configCreateDSN    string
	configCreateStdout bool
)

var configCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a configuration file from the example template.",
	Long: `Create a new configuration file from the same example template used by "config edit".

--dsn points the new file at an existing catalog database. If a configuration file is
already in use it is left untouched.`,
	Example: `
  # Create default config at $HOME/.prodcat.yaml
  prodcat config create

  # Create a project config for an existing catalog
  prodcat --configFile ./.prodcat.yaml config create --dsn ./shop/products.db

  # Print the template instead of writing it
  prodcat config create --stdout
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := renderConfigTemplate(configCreateDSN)
		if err != nil {
			return err
		}
		if configCreateStdout {
			_, err := fmt.Fprint(cmd.OutOrStdout(), content)
			return err
		}

		configPath, err := activeConfigPath(cfgFile, viper.ConfigFileUsed())
		if err != nil {
			return err
		}
		created, err := writeConfigTemplate(configPath, content)
		if err != nil {
			return err
		}
		if !created {
			fmt.Printf("Config file already exists at: %s\n", configPath)
			return nil
		}
		fmt.Printf("New config file created at: %s\n", configPath)
		return nil
	},
}

// renderConfigTemplate returns the example config, pointed at dsn when set.
// The result is validated so a bad dsn never reaches disk.
func renderConfigTemplate(dsn string) (string, error) {
	content := config.ExampleYAML()
	if dsn = strings.TrimSpace(dsn); dsn != "" {
		content = strings.Replace(content, templateDSNLine, fmt.Sprintf("dsn: %q", dsn), 1)
	}
	if _, err := config.ValidateYAMLContent([]byte(content)); err != nil {
		return "", fmt.Errorf("render config template: %w", err)
	}
	return content, nil
}

// writeConfigTemplate creates path with content unless it already exists.
func writeConfigTemplate(path, content string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("check config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return false, fmt.Errorf("write config file: %w", err)
	}
	return true, nil
}

func init() {
	configCmd.AddCommand(configCreateCmd)

	configCreateCmd.Flags().StringVar(&configCreateDSN, "dsn", "", "Catalog database path or connection string for the new file")
	configCreateCmd.Flags().BoolVar(&configCreateStdout, "stdout", false, "Print the template instead of writing a file")
}
