package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	appconfig "github.com/brightwavehq/streamfetch/internal/config"
	"github.com/brightwavehq/streamfetch/internal/database"
	"github.com/brightwavehq/streamfetch/internal/engine"
	"github.com/brightwavehq/streamfetch/internal/httpapi"
	"github.com/brightwavehq/streamfetch/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the streamfetchd daemon",
	Long: `Start the download engine and its REST/SSE control plane.

The server provides:
- POST /tasks and /batches to submit downloads
- pause/resume/cancel/priority controls per task
- GET /history for completed-task queries
- GET /events for a live SSE progress stream`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "host to bind to")
	serveCmd.Flags().Int("port", 8090, "port to listen on")
	serveCmd.Flags().String("database", "streamfetch.db", "database DSN (sqlite file path, or postgres/mysql DSN)")
	serveCmd.Flags().String("scratch-root", "./scratch", "scratch directory for in-flight segment assembly")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database"))
	mustBindPFlag("engine.scratch_root", serveCmd.Flags().Lookup("scratch-root"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	var cfg appconfig.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	eng, err := engine.New(cfg.ToEngineConfig(db.DB), logger)
	if err != nil {
		return fmt.Errorf("constructing engine: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	eng.Start(ctx)
	defer eng.Stop()

	serverConfig := httpapi.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ShutdownTimeout = cfg.Server.ShutdownTimeout.Duration()

	server := httpapi.NewServer(serverConfig, eng, logger, version.Version)
	server.Start()

	logger.Info("streamfetchd started",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.String("version", version.Version),
	)

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}
