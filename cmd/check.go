package cmd

import (
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/disconium/internal/service"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate credentials and the capture setup",
	Long:  `Check credentials, the bucket setting, the microphone and local history without sending audio to the provider.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := service.New(ctx, cfg, service.Options{Logger: slog.Default()})
		if err != nil {
			return err
		}
		defer svc.Close()

		results := svc.Check(ctx)
		if jsonOutput {
			if err := printJSON(results); err != nil {
				return err
			}
		}

		failed := 0
		for _, r := range results {
			if !r.OK {
				failed++
			}
			if jsonOutput {
				continue
			}
			mark := "✅"
			if !r.OK {
				mark = "❌"
			}
			fmt.Printf("%s %-12s %s\n", mark, r.Name, r.Detail)
		}
		if failed > 0 {
			return fmt.Errorf("%d check(s) failed", failed)
		}
		return nil
	},
}
