package fiddle

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/cbegin/fiddle-go/internal/sequencer"
	"github.com/cbegin/fiddle-go/internal/timeline"
)

// Synth backends.
const (
	SynthTone      = "tone"
	SynthSoundFont = "soundfont"
)

// Config holds session bounds and backend selection. Zero fields fall back to
// DefaultConfig values.
type Config struct {
	SampleRate     int     `yaml:"sample_rate"`
	MinBPM         float64 `yaml:"min_bpm"`
	MaxBPM         float64 `yaml:"max_bpm"`
	MinNoteSeconds float64 `yaml:"min_note_seconds"`
	ClickSeconds   float64 `yaml:"click_seconds"`
	MaxTranspose   int     `yaml:"max_transpose"`
	MaxOctaveShift int     `yaml:"max_octave_shift"`
	MaxRepeats     int     `yaml:"max_repeats"`
	// MaxHighlightOffset bounds the highlight lead/lag correction, in beats.
	MaxHighlightOffset float64 `yaml:"max_highlight_offset"`
	PollIntervalMS     int     `yaml:"poll_interval_ms"`

	Synth      string  `yaml:"synth"`
	SoundFont  string  `yaml:"soundfont"`
	Program    int     `yaml:"program"`
	Layout     string  `yaml:"layout"`
	MasterGain float64 `yaml:"master_gain"`
	ClickGain  float64 `yaml:"click_gain"`
	BufferMS   int     `yaml:"buffer_ms"`
}

func DefaultConfig() Config {
	return Config{
		SampleRate:         48000,
		MinBPM:             30,
		MaxBPM:             200,
		MinNoteSeconds:     0.1,
		ClickSeconds:       0.03,
		MaxTranspose:       12,
		MaxOctaveShift:     2,
		MaxRepeats:         16,
		MaxHighlightOffset: 0.5,
		PollIntervalMS:     50,
		Synth:              SynthTone,
		Program:            40,
		Layout:             "performance",
		MasterGain:         1,
		ClickGain:          1,
	}
}

// LoadConfig reads a YAML config file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg = cfg.withDefaults()
	return cfg, cfg.Validate()
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	if c.MinBPM <= 0 {
		c.MinBPM = d.MinBPM
	}
	if c.MaxBPM <= 0 {
		c.MaxBPM = d.MaxBPM
	}
	if c.MinNoteSeconds <= 0 {
		c.MinNoteSeconds = d.MinNoteSeconds
	}
	if c.ClickSeconds <= 0 {
		c.ClickSeconds = d.ClickSeconds
	}
	if c.MaxTranspose <= 0 {
		c.MaxTranspose = d.MaxTranspose
	}
	if c.MaxOctaveShift <= 0 {
		c.MaxOctaveShift = d.MaxOctaveShift
	}
	if c.MaxRepeats <= 0 {
		c.MaxRepeats = d.MaxRepeats
	}
	if c.MaxHighlightOffset <= 0 {
		c.MaxHighlightOffset = d.MaxHighlightOffset
	}
	if c.PollIntervalMS <= 0 {
		c.PollIntervalMS = d.PollIntervalMS
	}
	if c.Synth == "" {
		c.Synth = d.Synth
	}
	if c.Layout == "" {
		c.Layout = d.Layout
	}
	if c.MasterGain <= 0 {
		c.MasterGain = d.MasterGain
	}
	if c.ClickGain <= 0 {
		c.ClickGain = d.ClickGain
	}
	return c
}

// Validate reports settings that cannot be used.
func (c Config) Validate() error {
	var errs []error
	if c.MinBPM > c.MaxBPM {
		errs = append(errs, fmt.Errorf("min_bpm %v exceeds max_bpm %v", c.MinBPM, c.MaxBPM))
	}
	switch c.Synth {
	case SynthTone:
	case SynthSoundFont:
		if c.SoundFont == "" {
			errs = append(errs, errors.New("synth soundfont needs a soundfont path"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown synth %q", c.Synth))
	}
	if _, err := ParseLayout(c.Layout); err != nil {
		errs = append(errs, err)
	}
	if c.Program < 0 || c.Program > 127 {
		errs = append(errs, fmt.Errorf("program %d out of range 0-127", c.Program))
	}
	return errors.Join(errs...)
}

// ParseLayout accepts "performance" or "notated".
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "performance":
		return timeline.LayoutPerformance, nil
	case "notated":
		return timeline.LayoutNotated, nil
	default:
		return timeline.LayoutPerformance, fmt.Errorf("invalid layout %q (expected performance|notated)", s)
	}
}

// SequencerOptions maps the config onto scheduler settings.
func (c Config) SequencerOptions() sequencer.Options {
	opts := sequencer.DefaultOptions()
	opts.MinBPM = c.MinBPM
	opts.MaxBPM = c.MaxBPM
	opts.MaxRepeats = c.MaxRepeats
	opts.MinNoteSeconds = c.MinNoteSeconds
	opts.ClickSeconds = c.ClickSeconds
	return opts
}
