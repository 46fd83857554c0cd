package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/audiolibrelab/disconium/internal/controller"
	"github.com/audiolibrelab/disconium/internal/service"

	"github.com/spf13/cobra"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Record a short clip from the microphone and identify it",
	Long: `Record from the configured input until the maximum duration (10 seconds at
most) or until Ctrl+C, then identify the clip. The private bucket is
searched first and the general database only when it has no match.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if d, _ := cmd.Flags().GetDuration("duration"); d > 0 {
			cfg.Recorder.MaxDurationMs = int(d / time.Millisecond)
		}

		ctx := cmd.Context()
		svc, err := service.New(ctx, cfg, service.Options{Logger: slog.Default()})
		if err != nil {
			return err
		}
		defer svc.Close()

		ctrl := svc.Controller()
		if err := ctrl.Start(ctx); err != nil {
			return userError(err)
		}
		slog.Info("Listening... press Ctrl+C to stop early", "max_duration", cfg.Recorder.MaxDuration())

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		settled := make(chan controller.Snapshot, 1)
		go func() {
			snap, _ := ctrl.Wait(context.Background())
			settled <- snap
		}()

		var snap controller.Snapshot
		select {
		case <-sigChan:
			slog.Info("Stopping recording...")
			snap = ctrl.Stop(ctx)
			if snap.Busy() {
				// The auto-stop won the race and is still identifying
				snap = <-settled
			}
		case snap = <-settled:
		}

		return printSnapshot(snap)
	},
}

func init() {
	listenCmd.Flags().Duration("duration", 0, "stop after this long (capped at 10s, default from config)")
}
