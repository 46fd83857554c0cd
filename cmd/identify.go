package cmd

import (
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/disconium/internal/service"

	"github.com/spf13/cobra"
)

var identifyCmd = &cobra.Command{
	Use:   "identify [file]",
	Short: "Identify an existing audio file",
	Long:  `Send a .webm, .m4a, .mp4 or .wav file through the same two-tier lookup used for live listening.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := service.New(ctx, cfg, service.Options{Logger: slog.Default()})
		if err != nil {
			return err
		}
		defer svc.Close()

		res, err := svc.Identify(ctx, args[0])
		if err != nil {
			return userError(err)
		}

		if jsonOutput {
			return printJSON(res)
		}
		if res.Track == nil {
			fmt.Println("No music match found.")
			return nil
		}
		printTrack(res.Track)
		return nil
	},
}
