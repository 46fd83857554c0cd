package cmd

import (
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/disconium/internal/history"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently discovered tracks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		ctx := cmd.Context()

		if !cfg.History.Enabled {
			return fmt.Errorf("history is disabled (history.enabled: false)")
		}
		store, err := history.Open(ctx, cfg.History, slog.Default())
		if err != nil {
			return err
		}
		defer store.Close()

		found, err := store.Discoveries(ctx, limit)
		if err != nil {
			return fmt.Errorf("failed to read history: %w", err)
		}
		if jsonOutput {
			return printJSON(found)
		}
		if len(found) == 0 {
			fmt.Println("No discoveries yet.")
			return nil
		}
		for i, d := range found {
			fmt.Printf("%2d. %s  %s - %s (%s)\n", i+1, d.DetectedAt.Local().Format("2006-01-02 15:04"), d.Artists, d.Title, d.Source)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "number of discoveries to show")
}
