package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/audiolibrelab/disconium/internal/server"
	"github.com/audiolibrelab/disconium/internal/service"
	"github.com/audiolibrelab/disconium/internal/telemetry"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the Disconium web server so listening can be started and stopped from
a phone or any device on the same network.

The server also exposes /metrics, /healthz and /readyz, and publishes
discoveries on NATS when the bus is enabled.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			cfg.Server.Port = port
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		shutdownTelemetry, metrics, err := telemetry.Setup(ctx, cfg.Telemetry, slog.Default())
		if err != nil {
			return fmt.Errorf("failed to set up telemetry: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(flushCtx); err != nil {
				slog.Warn("Telemetry shutdown failed", "error", err)
			}
		}()

		svc, err := service.New(ctx, cfg, service.Options{Logger: slog.Default()})
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		defer svc.Close()

		opts := server.Options{
			Bind:    cfg.Server.Bind,
			Port:    cfg.Server.Port,
			Metrics: metrics,
			Ready:   svc.Ready,
			Logger:  slog.Default(),
		}
		if svc.History().Enabled() {
			opts.History = svc.History()
		}
		srv := server.New(svc.Controller(), opts)

		slog.Info("Disconium web server starting", "port", cfg.Server.Port, "bucket", cfg.Recognition.Bucket)
		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "port for the web server (overrides server.port)")
}
