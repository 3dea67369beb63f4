package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/care/detectd/internal/connectivity"
)

func init() {
	rootCmd.AddCommand(probeCmd)
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check wide-area reachability once (exit 1 when unreachable)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		prober := connectivity.NewProber(cfg.Connectivity.URL, cfg.ProbeTimeout())
		if !prober.IsReachable(context.Background()) {
			slog.Info("network unreachable", "url", cfg.Connectivity.URL)
			return fmt.Errorf("%s is unreachable", cfg.Connectivity.URL)
		}

		slog.Info("network reachable", "url", cfg.Connectivity.URL)
		return nil
	},
}
