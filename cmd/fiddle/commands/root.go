package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cbegin/fiddle-go"
)

var (
	// Global flags
	verbose    bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "fiddle",
	Short: "Practice player for fiddle tunes",
	Long: `fiddle - play fiddle tunes for practice.

Tunes are YAML or JSON documents with sections of timed notes. Sections with
a pickup measure drop the pickup when they repeat.

Examples:
  # Play at 90 BPM with the metronome, B part only
  fiddle play tunes/swallowtail.yaml --bpm 90 --metronome --part B

  # Export two times through as MIDI
  fiddle export tunes/swallowtail.yaml -o swallowtail.mid --repeats 2`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (YAML)")

	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(timelineCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(riskCmd)
}

func loadConfig() (fiddle.Config, error) {
	if configPath == "" {
		return fiddle.DefaultConfig(), nil
	}
	cfg, err := fiddle.LoadConfig(configPath)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
