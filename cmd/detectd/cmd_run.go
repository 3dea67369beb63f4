package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/care/detectd/internal/core"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the capture → detect → publish pipeline (default)",
	RunE:  runPipeline,
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	slog.Info("starting detectd service",
		"config", configPath,
		"max_ticks", cfg.Pipeline.MaxTicks,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := core.NewService(cfg)
	if err != nil {
		slog.Error("failed to create detectd service", "error", err)
		return err
	}

	runErr := svc.Run(ctx)
	if runErr != nil {
		slog.Error("service error", "error", runErr)
	} else if ctx.Err() != nil {
		slog.Info("received shutdown signal")
	}

	// Graceful shutdown
	shutdownTimeout := svc.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
		return err
	}
	if runErr != nil {
		return fmt.Errorf("pipeline stopped: %w", runErr)
	}

	slog.Info("detectd service stopped successfully")
	return nil
}
