package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/audiolibrelab/disconium/internal/config"
	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	envFile      string
	verboseLevel int
	jsonOutput   bool
	logFormat    string
)

var rootCmd = &cobra.Command{
	Use:   "disconium",
	Short: "Identify the music playing around you",
	Long: `Disconium listens to a short clip from the microphone and identifies the
track with ACRCloud, checking the curated private bucket before the
general music database.

Results include links to Spotify, Apple Music and YouTube when the
provider knows them, and every match is kept in a local history.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(verboseLevel, logFormat)

		if err := loadEnvFile(envFile); err != nil {
			return err
		}

		// Fall back to the per-user file only when it exists
		path := cfgFile
		if path == "" {
			if _, err := os.Stat(config.DefaultPath()); err == nil {
				path = config.DefaultPath()
			}
		}

		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		slog.Debug("Configuration loaded", "file", path)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/disconium.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with provider credentials, ignored when missing")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")

	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(identifyCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
}

// loadEnvFile exports the dotenv file into the process environment. Values
// already set in the environment win.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	slog.Debug("Loaded env file", "path", path)
	return nil
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int, format string) {
	var slogLevel slog.Level
	switch level {
	case 0:
		slogLevel = slog.LevelInfo
	default:
		slogLevel = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
