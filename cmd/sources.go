package cmd

import (
	"fmt"
	"runtime"

	"github.com/audiolibrelab/disconium/internal/audio"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available audio input devices",
	Long:  `List the capture devices ffmpeg can open with the configured device format (recorder.device_format).`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format := cfg.Recorder.DeviceFormat
		sources, err := audio.ListSources(cfg.Recorder.FFmpeg, format)
		if err != nil {
			return fmt.Errorf("failed to get %s sources: %w", format, err)
		}
		if jsonOutput {
			return printJSON(sources)
		}

		fmt.Printf("🎵 Audio Sources (%s, %s)\n", runtime.GOOS, format)
		fmt.Printf("═══════════════════════════════════════\n\n")

		fmt.Printf("📋 INPUT DEVICES (%d found):\n", len(sources))
		for i, src := range sources {
			marker := " "
			if src.Default {
				marker = "*"
			}
			if src.Description != "" {
				fmt.Printf(" %s%d. %s [%s]\n", marker, i+1, src.Name, src.Description)
			} else {
				fmt.Printf(" %s%d. %s\n", marker, i+1, src.Name)
			}
		}

		if len(sources) > 0 {
			fmt.Printf("\n💡 Usage:\n")
			fmt.Printf("  • Configure recorder.input, for example:\n")
			fmt.Printf("    input: '%s'\n\n", audio.InputArgs(format, sources[0]))
		}
		return nil
	},
}
