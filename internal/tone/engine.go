// Package tone is the built-in polyphonic voice engine: a bowed-string style
// oscillator for the melody and a short percussive blip for the metronome.
package tone

import (
	"math"
	"sync/atomic"

	"github.com/cbegin/fiddle-go/internal/lfo"
	"github.com/cbegin/fiddle-go/internal/sequencer"
)

const twoPi = math.Pi * 2

type Params struct {
	Voices      int
	MasterGain  float64
	AttackSec   float64
	DecaySec    float64
	SustainLvl  float64
	ReleaseSec  float64
	VelocityAmp float64
	// SawMix blends the bowed saw with a triangle for body (1 = pure saw).
	SawMix       float64
	LPFCutoff    float64 // lowpass filter cutoff in Hz (0 = disabled)
	VibratoDepth float64 // semitones
	VibratoRate  float64 // Hz
	VibratoDelay float64 // seconds after note-on
	ClickDecay   float64 // seconds for the metronome blip to fall by 1/e
	ClickGain    float64
}

func DefaultParams() Params {
	return Params{
		Voices:       12,
		MasterGain:   0.3,
		AttackSec:    0.03,
		DecaySec:     0.12,
		SustainLvl:   0.75,
		ReleaseSec:   0.12,
		VelocityAmp:  0.85,
		SawMix:       0.7,
		LPFCutoff:    5000,
		VibratoDepth: 0.12,
		VibratoRate:  5.5,
		VibratoDelay: 0.25,
		ClickDecay:   0.008,
		ClickGain:    0.8,
	}
}

type envState int

const (
	envAttack envState = iota
	envDecay
	envSustain
	envRelease
	envOff
)

type voice struct {
	active    bool
	id        int
	age       int
	click     bool
	freq      float64
	phase     float64
	velocity  float64
	env       float64
	envState  envState
	pan       float64
	vibrato   lfo.LFO
	noiseLFSR uint16
}

type Engine struct {
	sampleRate float64
	params     Params
	voices     []voice
	nextID     int
	masterGain uint64
	clickCoef  float64
	dcPrevInL  float64
	dcPrevOutL float64
	dcPrevInR  float64
	dcPrevOutR float64
	lpfL       float64
	lpfR       float64
	lpfAlpha   float64
}

var _ sequencer.VoiceEngine = (*Engine)(nil)

func New(sampleRate int, params Params) *Engine {
	if params.Voices <= 0 {
		params.Voices = 12
	}
	if params.ClickDecay <= 0 {
		params.ClickDecay = 0.008
	}
	e := &Engine{
		sampleRate: float64(sampleRate),
		params:     params,
		voices:     make([]voice, params.Voices),
		masterGain: math.Float64bits(params.MasterGain),
		clickCoef:  math.Exp(-1 / (params.ClickDecay * float64(sampleRate))),
	}
	for i := range e.voices {
		e.voices[i].noiseLFSR = uint16(0xACE1 + i*97)
	}
	if params.LPFCutoff > 0 && params.LPFCutoff < float64(sampleRate)/2 {
		rc := 1.0 / (twoPi * params.LPFCutoff)
		dt := 1.0 / float64(sampleRate)
		e.lpfAlpha = dt / (rc + dt)
	}
	return e
}

func (e *Engine) NoteOn(note int, velocity int, pan int, program int) int {
	slot := e.stealVoice()
	id := e.nextID
	e.nextID++
	v := &e.voices[slot]
	v.active = true
	v.id = id
	v.age = 0
	v.click = program == sequencer.ProgramClick
	v.phase = 0
	v.velocity = clamp(float64(velocity)/127.0, 0, 1)
	v.pan = clamp(float64(pan), -64, 64)
	if v.click {
		v.freq = 1320
		if note == sequencer.AccentNote {
			v.freq = 1760
		}
		v.env = 1
		v.envState = envSustain
	} else {
		v.freq = midiToFreq(note)
		v.env = 0
		v.envState = envAttack
		v.vibrato.Set(e.params.VibratoDepth, e.params.VibratoRate, lfo.WaveSine)
		v.vibrato.SetOnset(e.params.VibratoDelay, e.params.VibratoDelay)
		v.vibrato.Reset()
	}
	if v.noiseLFSR == 0 {
		v.noiseLFSR = 0xACE1
	}
	return id
}

// NoteOff releases a melody voice. Clicks decay on their own.
func (e *Engine) NoteOff(id int) {
	for i := range e.voices {
		v := &e.voices[i]
		if v.active && v.id == id && !v.click && v.envState != envRelease {
			v.envState = envRelease
		}
	}
}

func (e *Engine) RenderFrame() (float32, float32) {
	gain := e.masterGainValue()
	var l, r float64
	for i := range e.voices {
		v := &e.voices[i]
		if !v.active {
			continue
		}
		v.age++
		var sig float64
		if v.click {
			sig = e.renderClick(v) * e.params.ClickGain
		} else {
			env := e.advanceEnv(v)
			if !v.active {
				continue
			}
			sig = e.renderBowed(v) * env * (0.15 + v.velocity*e.params.VelocityAmp)
		}
		angle := ((v.pan + 64.0) / 128.0) * (math.Pi / 2.0)
		l += sig * math.Cos(angle) * gain
		r += sig * math.Sin(angle) * gain
	}
	l = e.dcBlockL(l)
	r = e.dcBlockR(r)
	if e.lpfAlpha > 0 {
		e.lpfL += e.lpfAlpha * (l - e.lpfL)
		e.lpfR += e.lpfAlpha * (r - e.lpfR)
		l = e.lpfL
		r = e.lpfR
	}
	return float32(clamp(l, -1, 1)), float32(clamp(r, -1, 1))
}

func (e *Engine) dcBlockL(x float64) float64 {
	const r = 0.995
	y := x - e.dcPrevInL + r*e.dcPrevOutL
	e.dcPrevInL = x
	e.dcPrevOutL = y
	return y
}

func (e *Engine) dcBlockR(x float64) float64 {
	const r = 0.995
	y := x - e.dcPrevInR + r*e.dcPrevOutR
	e.dcPrevInR = x
	e.dcPrevOutR = y
	return y
}

// polyBLEP reduces aliasing at waveform discontinuities.
// t is the phase position [0,1), dt is the phase increment per sample.
func polyBLEP(t, dt float64) float64 {
	if t < dt {
		t /= dt
		return t + t - t*t - 1
	}
	if t > 1-dt {
		t = (t - 1) / dt
		return t*t + t + t + 1
	}
	return 0
}

func (e *Engine) renderBowed(v *voice) float64 {
	freq := v.freq
	if m := v.vibrato.Sample(e.sampleRate); m != 0 {
		freq *= math.Pow(2, m/12.0)
	}
	dt := freq / e.sampleRate
	v.phase += dt
	if v.phase >= 1 {
		v.phase -= 1
	}
	saw := 2*v.phase - 1 - polyBLEP(v.phase, dt)
	tri := 2*math.Abs(2*v.phase-1) - 1
	return saw*e.params.SawMix + tri*(1-e.params.SawMix)
}

func (e *Engine) renderClick(v *voice) float64 {
	v.phase += v.freq / e.sampleRate
	if v.phase >= 1 {
		v.phase -= 1
	}
	bit := (v.noiseLFSR ^ (v.noiseLFSR >> 1)) & 1
	v.noiseLFSR = (v.noiseLFSR >> 1) | (bit << 15)
	noise := -1.0
	if v.noiseLFSR&1 == 1 {
		noise = 1
	}
	out := (0.7*math.Sin(twoPi*v.phase) + 0.3*noise) * v.env * v.velocity
	v.env *= e.clickCoef
	if v.env < 1e-4 {
		v.env = 0
		v.envState = envOff
		v.active = false
	}
	return out
}

func (e *Engine) stealVoice() int {
	// Prefer an inactive slot.
	for i := range e.voices {
		if !e.voices[i].active {
			return i
		}
	}
	// Steal the oldest releasing voice, or failing that the oldest active voice.
	oldestRelease := -1
	oldestReleaseAge := -1
	oldestActive := 0
	oldestActiveAge := -1
	for i := range e.voices {
		v := &e.voices[i]
		if v.envState == envRelease && v.age > oldestReleaseAge {
			oldestRelease = i
			oldestReleaseAge = v.age
		}
		if v.age > oldestActiveAge {
			oldestActive = i
			oldestActiveAge = v.age
		}
	}
	if oldestRelease >= 0 {
		return oldestRelease
	}
	return oldestActive
}

func (e *Engine) advanceEnv(v *voice) float64 {
	switch v.envState {
	case envAttack:
		step := 1.0 / (e.params.AttackSec * e.sampleRate)
		if step <= 0 || math.IsInf(step, 0) {
			step = 1
		}
		v.env += step
		if v.env >= 1 {
			v.env = 1
			v.envState = envDecay
		}
	case envDecay:
		step := (1 - e.params.SustainLvl) / (e.params.DecaySec * e.sampleRate)
		if step <= 0 || math.IsInf(step, 0) {
			step = 1
		}
		v.env -= step
		if v.env <= e.params.SustainLvl {
			v.env = e.params.SustainLvl
			v.envState = envSustain
		}
	case envSustain:
	case envRelease:
		step := e.params.SustainLvl / (e.params.ReleaseSec * e.sampleRate)
		if step <= 0 || math.IsInf(step, 0) {
			step = 1
		}
		v.env -= step
		if v.env <= 0.0001 {
			v.env = 0
			v.envState = envOff
			v.active = false
		}
	case envOff:
		v.active = false
		v.env = 0
	}
	return v.env
}

func midiToFreq(note int) float64 {
	return 440 * math.Pow(2, float64(note-69)/12)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (e *Engine) SetMasterGain(gain float64) {
	if gain < 0 {
		gain = 0
	}
	atomic.StoreUint64(&e.masterGain, math.Float64bits(gain))
}

func (e *Engine) ActiveVoiceCount() int {
	n := 0
	for i := range e.voices {
		if e.voices[i].active {
			n++
		}
	}
	return n
}

func (e *Engine) masterGainValue() float64 {
	return math.Float64frombits(atomic.LoadUint64(&e.masterGain))
}
