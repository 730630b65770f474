package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"prodcat/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const rejectedConfigSuffix = ".rejected"

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the active config in an editor.",
	Long: `Open the active prodcat config file in $VISUAL, $EDITOR or vi.

A missing file is created from the example template first. When the edited file does not
validate, the previous content is restored and the rejected edit is kept next to it with
a .rejected suffix, so imports never run against a broken config.`,
	Example: `
  # Edit active config
  prodcat config edit

  # Add header synonyms to a project config
  prodcat --configFile ./.prodcat.yaml config edit
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, err := activeConfigPath(cfgFile, viper.ConfigFileUsed())
		if err != nil {
			return err
		}
		created, err := writeConfigTemplate(configPath, config.ExampleYAML())
		if err != nil {
			return err
		}
		if created {
			fmt.Printf("No config file found. Created example config at: %s\n", configPath)
		}

		previous, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("read config before edit: %w", err)
		}

		editor, err := editorCommand(pickEditor(os.Getenv("VISUAL"), os.Getenv("EDITOR")), configPath)
		if err != nil {
			return err
		}
		editor.Stdin = os.Stdin
		editor.Stdout = os.Stdout
		editor.Stderr = os.Stderr
		if err := editor.Run(); err != nil {
			return fmt.Errorf("run editor: %w", err)
		}

		cfg, err := checkEditedConfig(configPath, previous)
		if err != nil {
			return err
		}
		fmt.Printf("Configuration saved and validated: %s (database: %s %s, synonym fields: %d)\n",
			configPath, cfg.Database.Driver, cfg.Database.DSN, len(cfg.Import.Synonyms))
		return nil
	},
}

// activeConfigPath prefers --configFile, then the file viper loaded, then
// $HOME/.prodcat.yaml.
func activeConfigPath(flagValue, loaded string) (string, error) {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue, nil
	}
	if strings.TrimSpace(loaded) != "" {
		return loaded, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".prodcat.yaml"), nil
}

// checkEditedConfig validates the file at path. An invalid edit is moved to
// path+".rejected" and previous is written back.
func checkEditedConfig(path string, previous []byte) (*config.Config, error) {
	edited, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read edited config: %w", err)
	}
	cfg, validateErr := config.ValidateYAMLContent(edited)
	if validateErr == nil {
		return cfg, nil
	}

	rejected := path + rejectedConfigSuffix
	if err := os.WriteFile(rejected, edited, 0o600); err != nil {
		return nil, fmt.Errorf("config validation failed in %s: %w (keeping rejected edit failed: %v)", path, validateErr, err)
	}
	if err := os.WriteFile(path, previous, 0o600); err != nil {
		return nil, fmt.Errorf("config validation failed in %s: %w (restoring previous config failed: %v)", path, validateErr, err)
	}
	return nil, fmt.Errorf("config validation failed in %s: %w; previous config restored, edit kept in %s", path, validateErr, rejected)
}

func pickEditor(visual, editor string) string {
	for _, candidate := range []string{visual, editor} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return "vi"
}

// editorCommand splits an editor value such as "code --wait" and appends
// the config path.
func editorCommand(editor, configPath string) (*exec.Cmd, error) {
	fields := strings.Fields(editor)
	if len(fields) == 0 {
		return nil, fmt.Errorf("editor command is empty")
	}
	args := append(fields[1:], configPath)
	return exec.Command(fields[0], args...), nil
}

func init() {
	configCmd.AddCommand(configEditCmd)
}
