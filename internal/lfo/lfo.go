// Package lfo provides the low-frequency oscillator used for vibrato.
package lfo

import "math"

const (
	WaveSine     = 0
	WaveTriangle = 1
)

// LFO produces per-sample modulation in [-depth, +depth]. Each voice owns
// one, so Reset at note-on restarts the onset delay. A delay holds the
// output at zero, after which depth fades in linearly.
type LFO struct {
	depth    float64
	rateHz   float64
	waveform int
	delay    float64 // seconds before modulation starts
	fade     float64 // seconds to reach full depth after the delay
	phase    float64
	elapsed  float64
}

// Set configures depth, rate and waveform.
func (l *LFO) Set(depth, rateHz float64, waveform int) {
	l.depth = depth
	l.rateHz = rateHz
	if waveform != WaveTriangle {
		waveform = WaveSine
	}
	l.waveform = waveform
}

// SetOnset sets the onset delay and fade-in, both in seconds.
func (l *LFO) SetOnset(delay, fade float64) {
	l.delay = math.Max(0, delay)
	l.fade = math.Max(0, fade)
}

// Sample advances by one sample and returns the current value.
func (l *LFO) Sample(sampleRate float64) float64 {
	if !l.Active() || sampleRate <= 0 {
		return 0
	}
	dt := 1 / sampleRate
	l.elapsed += dt
	if l.elapsed < l.delay {
		return 0
	}
	var v float64
	if l.waveform == WaveTriangle {
		if l.phase < 0.5 {
			v = 4*l.phase - 1
		} else {
			v = 3 - 4*l.phase
		}
	} else {
		v = math.Sin(2 * math.Pi * l.phase)
	}
	l.phase += l.rateHz * dt
	for l.phase >= 1 {
		l.phase--
	}
	scale := 1.0
	if l.fade > 0 {
		scale = math.Min(1, (l.elapsed-l.delay)/l.fade)
	}
	return v * l.depth * scale
}

// Active returns true if the LFO has non-zero depth and rate.
func (l *LFO) Active() bool {
	return l.depth != 0 && l.rateHz != 0
}

// Reset restarts phase and onset.
func (l *LFO) Reset() {
	l.phase = 0
	l.elapsed = 0
}
