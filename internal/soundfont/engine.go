// Package soundfont plays notes through a General MIDI SoundFont (SF2) using
// meltysynth.
package soundfont

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"sync/atomic"

	meltysynth "github.com/sinshu/go-meltysynth/meltysynth"

	"github.com/cbegin/fiddle-go/internal/sequencer"
)

const (
	melodyChannel = 0
	clickChannel  = 9

	// ProgramViolin is the General MIDI program number (zero-based) for violin.
	ProgramViolin = 40
)

// synthesizer abstracts the subset of meltysynth.Synthesizer the engine uses.
type synthesizer interface {
	ProcessMidiMessage(channel int32, command int32, data1, data2 int32)
	NoteOn(channel, key, vel int32)
	NoteOff(channel, key int32)
	Render(left, right []float32)
}

var newSynthesizer = func(sf *meltysynth.SoundFont, settings *meltysynth.SynthesizerSettings) (synthesizer, error) {
	s, err := meltysynth.NewSynthesizer(sf, settings)
	if err != nil {
		return nil, err
	}
	return s, nil
}

type Options struct {
	// Program is the General MIDI melody program (zero-based).
	Program int
	// Block is the render block size in frames. Note events land on block
	// boundaries.
	Block      int
	MasterGain float64
}

func DefaultOptions() Options {
	return Options{Program: ProgramViolin, Block: 64, MasterGain: 1}
}

type voiceKey struct {
	channel int32
	key     int32
}

// Engine adapts a meltysynth synthesizer to sequencer.VoiceEngine.
type Engine struct {
	synth      synthesizer
	voices     map[int]voiceKey
	held       map[voiceKey]int
	nextID     int
	left       []float32
	right      []float32
	pos        int
	masterGain uint64
}

var _ sequencer.VoiceEngine = (*Engine)(nil)

// Open loads the SoundFont at path.
func Open(path string, sampleRate int, opts Options) (*Engine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("soundfont: %w", err)
	}
	defer f.Close()
	return Load(bufio.NewReader(f), sampleRate, opts)
}

// Load reads a SoundFont from r and builds a synthesizer at sampleRate.
func Load(r io.Reader, sampleRate int, opts Options) (*Engine, error) {
	sf, err := meltysynth.NewSoundFont(r)
	if err != nil {
		return nil, fmt.Errorf("soundfont: parse: %w", err)
	}
	settings := meltysynth.NewSynthesizerSettings(int32(sampleRate))
	synth, err := newSynthesizer(sf, settings)
	if err != nil {
		return nil, fmt.Errorf("soundfont: synthesizer: %w", err)
	}
	return newEngine(synth, opts), nil
}

func newEngine(synth synthesizer, opts Options) *Engine {
	d := DefaultOptions()
	if opts.Block <= 0 {
		opts.Block = d.Block
	}
	if opts.Program < 0 || opts.Program > 127 {
		opts.Program = d.Program
	}
	if opts.MasterGain <= 0 {
		opts.MasterGain = d.MasterGain
	}
	synth.ProcessMidiMessage(melodyChannel, 0xC0, int32(opts.Program), 0)
	return &Engine{
		synth:      synth,
		voices:     make(map[int]voiceKey),
		held:       make(map[voiceKey]int),
		left:       make([]float32, opts.Block),
		right:      make([]float32, opts.Block),
		pos:        opts.Block,
		masterGain: math.Float64bits(opts.MasterGain),
	}
}

func (e *Engine) NoteOn(note int, velocity int, pan int, program int) int {
	k := voiceKey{channel: melodyChannel, key: int32(note)}
	if program == sequencer.ProgramClick {
		k.channel = clickChannel
	}
	e.synth.NoteOn(k.channel, k.key, int32(min(max(velocity, 1), 127)))
	e.held[k]++
	id := e.nextID
	e.nextID++
	e.voices[id] = k
	return id
}

// NoteOff releases a voice. The synthesizer keys releases by channel and
// key, so overlapping notes of the same pitch only release on the last off.
func (e *Engine) NoteOff(id int) {
	k, ok := e.voices[id]
	if !ok {
		return
	}
	delete(e.voices, id)
	e.held[k]--
	if e.held[k] > 0 {
		return
	}
	delete(e.held, k)
	e.synth.NoteOff(k.channel, k.key)
}

func (e *Engine) RenderFrame() (float32, float32) {
	if e.pos >= len(e.left) {
		e.synth.Render(e.left, e.right)
		e.pos = 0
	}
	g := float32(math.Float64frombits(atomic.LoadUint64(&e.masterGain)))
	l, r := e.left[e.pos]*g, e.right[e.pos]*g
	e.pos++
	return l, r
}

func (e *Engine) SetMasterGain(gain float64) {
	if gain < 0 {
		gain = 0
	}
	atomic.StoreUint64(&e.masterGain, math.Float64bits(gain))
}

// ActiveVoiceCount counts held notes; release tails inside the synthesizer
// are not visible.
func (e *Engine) ActiveVoiceCount() int { return len(e.voices) }
