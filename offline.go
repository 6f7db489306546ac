package fiddle

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cbegin/fiddle-go/internal/sequencer"
	"github.com/cbegin/fiddle-go/internal/timeline"
)

// RenderOptions control an offline render.
type RenderOptions struct {
	Config Config
	Params sequencer.Params
	Subset Subset
	// Tail is extra time rendered after the last pass so releases ring out.
	Tail float64
	// Engine overrides the voice engine built from Config.
	Engine sequencer.VoiceEngine
}

// RenderSamples plays t through a sequencer without an audio device and
// returns interleaved stereo frames covering every pass plus the tail.
// Looping renders a single pass.
func RenderSamples(t *Tune, opts RenderOptions) ([]float32, error) {
	if t == nil {
		return nil, ErrNoTune
	}
	cfg := opts.Config.withDefaults()
	engine := opts.Engine
	if engine == nil {
		var err error
		if engine, err = newEngineForConfig(cfg); err != nil {
			return nil, fmt.Errorf("voice engine: %w", err)
		}
	}
	p := opts.Params
	if p.BPM <= 0 {
		p.BPM = 120
		if t.DefaultTempo > 0 {
			p.BPM = float64(t.DefaultTempo)
		}
	}
	if p.Loop {
		p.Loop = false
		p.Repeats = 1
	}
	subset := opts.Subset
	if subset == "" {
		subset = SubsetFull
	}

	seq := sequencer.New(engine, cfg.SampleRate, cfg.SequencerOptions())
	p = seq.SetParams(p)
	seq.Load(timeline.Build(t.Select(subset), t.BeatsPerMeasure()))
	if !seq.Start() {
		return nil, errors.New("render: nothing to play")
	}
	// Each pass spans its end frame inclusive.
	passFrames := max(1, int(math.Round(seq.Duration()*float64(cfg.SampleRate)))) + 1
	frames := passFrames*p.Repeats + int(max(0, opts.Tail)*float64(cfg.SampleRate))
	out := make([]float32, frames*2)
	seq.Process(out)
	return out, nil
}

func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	byteRate := sampleRate * channels * 4
	blockAlign := channels * 4
	chunkSize := 36 + dataSize
	out := make([]byte, 44+dataSize)
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(chunkSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}
