package fiddle

import (
	"fmt"

	"github.com/cbegin/fiddle-go/internal/sequencer"
	"github.com/cbegin/fiddle-go/internal/soundfont"
	"github.com/cbegin/fiddle-go/internal/tone"
)

// newEngineForConfig builds the melody engine named by cfg.Synth and routes
// the metronome to its own tone engine.
func newEngineForConfig(cfg Config) (sequencer.VoiceEngine, error) {
	var melody sequencer.VoiceEngine
	switch cfg.Synth {
	case SynthTone, "":
		params := tone.DefaultParams()
		params.MasterGain *= cfg.MasterGain
		melody = tone.New(cfg.SampleRate, params)
	case SynthSoundFont:
		opts := soundfont.DefaultOptions()
		opts.Program = cfg.Program
		opts.MasterGain = cfg.MasterGain
		sf, err := soundfont.Open(cfg.SoundFont, cfg.SampleRate, opts)
		if err != nil {
			return nil, err
		}
		melody = sf
	default:
		return nil, fmt.Errorf("unknown synth %q", cfg.Synth)
	}

	params := tone.DefaultParams()
	params.Voices = 4
	params.MasterGain *= cfg.ClickGain
	click := tone.New(cfg.SampleRate, params)

	mixer := sequencer.NewMixer(melody)
	mixer.Route(sequencer.ProgramClick, click)
	return mixer, nil
}
