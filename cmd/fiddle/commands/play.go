package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cbegin/fiddle-go"
)

var (
	playFlags   playbackFlags
	playOffset  float64
	playMarkers int
	playLayout  string
	playFont    string
	playLoops   int
)

var playCmd = &cobra.Command{
	Use:   "play <tune.yaml>",
	Short: "Play a tune",
	Long: `Play a tune through the audio device and follow along in the terminal.

The status line shows the section pass, beat and the note a score display
would highlight. Press Ctrl-C to stop.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

func init() {
	playFlags.register(playCmd)
	playCmd.Flags().Float64Var(&playOffset, "offset", 0, "highlight lead (+) or lag (-) in beats")
	playCmd.Flags().IntVar(&playMarkers, "markers", -1, "number of note markers in the score display (-1 = follow the tune)")
	playCmd.Flags().StringVar(&playLayout, "layout", "", "marker layout: performance|notated (default from config)")
	playCmd.Flags().StringVar(&playFont, "soundfont", "", "play through an SF2 SoundFont")
	playCmd.Flags().IntVar(&playLoops, "loops", 0, "with --loop, stop after N passes (0 = forever)")
}

func runPlay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if playFont != "" {
		cfg.Synth = fiddle.SynthSoundFont
		cfg.SoundFont = playFont
	}
	if playLayout != "" {
		cfg.Layout = playLayout
	}
	t, err := fiddle.LoadTune(args[0])
	if err != nil {
		return err
	}
	subset, err := playFlags.subset()
	if err != nil {
		return err
	}

	s, err := fiddle.NewSession(t, fiddle.WithConfig(cfg), fiddle.WithLogger(slog.Default()))
	if err != nil {
		return err
	}
	defer s.Close()

	p := playFlags.params(t)
	s.SetSectionSubset(subset)
	s.SetBPM(p.BPM)
	s.SetTranspose(p.Transpose)
	s.SetOctaveShift(p.Octave)
	s.SetMetronome(p.Metronome)
	s.SetRepeatCount(p.Repeats)
	s.SetLooping(p.Loop)
	s.SetHighlightOffset(playOffset)
	s.SetVisualMarkers(playMarkers)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s  %s\n", titleStyle.Render(t.Title), dimStyle.Render(fmt.Sprintf(
		"%s  %s  %.0f bpm  %s", t.Key, t.TimeSignature, s.Params().BPM, clock(s.Duration()))))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := s.Watch()
	if err := s.Play(); err != nil {
		return err
	}
	if s.State() != fiddle.StatePlaying {
		return fmt.Errorf("nothing to play in part %s", subset)
	}

	pollCtx, cancelPoll := context.WithCancel(ctx)
	defer cancelPoll()
	statuses := s.Poll(pollCtx, 0)
	markers := len(s.VisualUnits())
	if playMarkers >= 0 {
		markers = playMarkers
	}

	passes := 0
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			fmt.Fprintln(out)
			return nil
		case ev := <-events:
			switch ev.Kind {
			case fiddle.EventLoopCompleted:
				passes++
				if p.Loop && playLoops > 0 && passes >= playLoops {
					s.Stop()
				}
			case fiddle.EventPlaybackEnded:
				fmt.Fprintf(out, "\n%s\n", dimStyle.Render("playback completed"))
				return nil
			}
		case st, ok := <-statuses:
			if !ok {
				return nil
			}
			fmt.Fprintf(out, "\r%s %-10s beat %6.2f  note %3d/%d  %s / %s   ",
				labelStyle.Render(st.Section), fmt.Sprintf("pass %d", st.SectionPass+1),
				st.Beat, st.Highlight+1, markers, clock(st.Elapsed), clock(st.Duration))
		}
	}
}
