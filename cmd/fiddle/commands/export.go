package commands

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cbegin/fiddle-go"
	"github.com/cbegin/fiddle-go/internal/midifile"
	"github.com/cbegin/fiddle-go/internal/timeline"
	"github.com/cbegin/fiddle-go/internal/tune"
)

var (
	exportFlags   playbackFlags
	exportOutput  string
	exportProgram int
)

var exportCmd = &cobra.Command{
	Use:   "export <tune.yaml>",
	Short: "Write the performance as a Standard MIDI File",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

func init() {
	exportFlags.register(exportCmd)
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output .mid path (required)")
	exportCmd.Flags().IntVar(&exportProgram, "program", 40, "General MIDI melody program (zero-based)")
	_ = exportCmd.MarkFlagRequired("output")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	t, err := fiddle.LoadTune(args[0])
	if err != nil {
		return err
	}
	subset, err := exportFlags.subset()
	if err != nil {
		return err
	}
	num, den := tune.ParseTimeSignature(t.TimeSignature)
	tl := timeline.Build(t.Select(subset), t.BeatsPerMeasure())
	err = midifile.WriteFile(exportOutput, tl, midifile.Options{
		Params:      exportFlags.params(t),
		Sequencer:   cfg.SequencerOptions(),
		Numerator:   num,
		Denominator: den,
		Title:       t.Title,
		Program:     &exportProgram,
	})
	if err != nil {
		return err
	}
	info, err := os.Stat(exportOutput)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s)\n", exportOutput, humanize.Bytes(uint64(info.Size())))
	return nil
}
