package commands

import (
	"github.com/spf13/cobra"

	"github.com/cbegin/fiddle-go"
	"github.com/cbegin/fiddle-go/internal/sequencer"
)

// playbackFlags are shared by the commands that schedule a performance.
type playbackFlags struct {
	bpm       float64
	transpose int
	octave    int
	metronome bool
	repeats   int
	loop      bool
	part      string
}

func (f *playbackFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.bpm, "bpm", 0, "tempo in beats per minute (default: the tune's tempo)")
	cmd.Flags().IntVarP(&f.transpose, "transpose", "t", 0, "transpose by semitones")
	cmd.Flags().IntVar(&f.octave, "octave", 0, "shift by octaves")
	cmd.Flags().BoolVarP(&f.metronome, "metronome", "m", false, "add a metronome click")
	cmd.Flags().IntVarP(&f.repeats, "repeats", "r", 1, "times through the whole tune")
	cmd.Flags().BoolVar(&f.loop, "loop", false, "loop until interrupted")
	cmd.Flags().StringVarP(&f.part, "part", "p", "full", "sections to play: full|A|B")
}

func (f *playbackFlags) subset() (fiddle.Subset, error) {
	return fiddle.ParseSubset(f.part)
}

func (f *playbackFlags) params(t *fiddle.Tune) sequencer.Params {
	bpm := f.bpm
	if bpm <= 0 {
		bpm = 120
		if t.DefaultTempo > 0 {
			bpm = float64(t.DefaultTempo)
		}
	}
	return sequencer.Params{
		BPM:       bpm,
		Transpose: f.transpose,
		Octave:    f.octave,
		Metronome: f.metronome,
		Repeats:   f.repeats,
		Loop:      f.loop,
	}
}
