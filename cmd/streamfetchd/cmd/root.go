// Package cmd implements the streamfetchd CLI commands.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/brightwavehq/streamfetch/internal/config"
	"github.com/brightwavehq/streamfetch/internal/observability"
	"github.com/brightwavehq/streamfetch/internal/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "streamfetchd",
	Short:   "Segmented HLS download daemon",
	Version: version.Short(),
	Long: `streamfetchd downloads segmented media streams (HLS playlists) to
local files, with priority scheduling, adaptive retry, bandwidth-aware
concurrency, and a REST/SSE control plane for pausing, resuming,
cancelling, and reprioritizing in-flight downloads.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initLogging()
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")

	mustBindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("/etc/streamfetch")
	}

	viper.SetEnvPrefix("STREAMFETCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func initLogging() error {
	var logCfg config.LoggingConfig
	if err := viper.UnmarshalKey("logging", &logCfg); err != nil {
		return fmt.Errorf("unmarshaling logging config: %w", err)
	}
	slog.SetDefault(observability.NewLogger(logCfg))
	return nil
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
