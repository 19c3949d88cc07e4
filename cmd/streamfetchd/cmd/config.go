package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/brightwavehq/streamfetch/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing streamfetchd configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  streamfetchd config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml, ./configs/config.yaml, /etc/streamfetch/config.yaml)
  - Environment variables (STREAMFETCH_SERVER_PORT, STREAMFETCH_DATABASE_DSN, etc.)
  - Command-line flags (for some options)

Environment variables use the STREAMFETCH_ prefix and underscores for nesting.
Example: server.port -> STREAMFETCH_SERVER_PORT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# streamfetchd Configuration File")
	fmt.Println("# ===============================")
	fmt.Println("#")
	fmt.Println("# All values shown below are defaults.")
	fmt.Println("# Duration format: 30s, 5m, 1h, 30d")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides:")
	fmt.Println("#   STREAMFETCH_SERVER_HOST, STREAMFETCH_SERVER_PORT")
	fmt.Println("#   STREAMFETCH_DATABASE_DRIVER, STREAMFETCH_DATABASE_DSN")
	fmt.Println("#   STREAMFETCH_ENGINE_SCRATCH_ROOT")
	fmt.Println("#   STREAMFETCH_LOGGING_LEVEL, STREAMFETCH_LOGGING_FORMAT")
	fmt.Println("#   etc.")
	fmt.Println("#")
	fmt.Println()
	fmt.Print(string(yamlData))

	return nil
}
