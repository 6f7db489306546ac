package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cbegin/fiddle-go"
)

var (
	renderFlags  playbackFlags
	renderOutput string
	renderTail   float64
	renderFont   string
)

var renderCmd = &cobra.Command{
	Use:   "render <tune.yaml>",
	Short: "Render the performance to a WAV file",
	Long: `Render the performance offline to a 32-bit float stereo WAV file. Looping
renders a single pass.`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	renderFlags.register(renderCmd)
	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "", "output .wav path (required)")
	renderCmd.Flags().Float64Var(&renderTail, "tail", 1, "seconds rendered after the last note")
	renderCmd.Flags().StringVar(&renderFont, "soundfont", "", "render through an SF2 SoundFont")
	_ = renderCmd.MarkFlagRequired("output")
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if renderFont != "" {
		cfg.Synth = fiddle.SynthSoundFont
		cfg.SoundFont = renderFont
	}
	t, err := fiddle.LoadTune(args[0])
	if err != nil {
		return err
	}
	subset, err := renderFlags.subset()
	if err != nil {
		return err
	}
	start := time.Now()
	samples, err := fiddle.RenderSamples(t, fiddle.RenderOptions{
		Config: cfg,
		Params: renderFlags.params(t),
		Subset: subset,
		Tail:   renderTail,
	})
	if err != nil {
		return err
	}
	wav := fiddle.EncodeWAVFloat32LE(samples, cfg.SampleRate, 2)
	if err := os.WriteFile(renderOutput, wav, 0o644); err != nil {
		return err
	}
	length := seconds(float64(len(samples)/2) / float64(cfg.SampleRate))
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s, %s audio in %s)\n",
		renderOutput, humanize.Bytes(uint64(len(wav))), clock(length), time.Since(start).Round(time.Millisecond))
	return nil
}
