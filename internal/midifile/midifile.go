// Package midifile exports a timeline as a Standard MIDI File using the same
// cue plan the live sequencer plays, so exported timing matches playback.
package midifile

import (
	"bufio"
	"cmp"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/cbegin/fiddle-go/internal/sequencer"
	"github.com/cbegin/fiddle-go/internal/timeline"
)

// TicksPerBeat is the file resolution.
const TicksPerBeat = 960

const (
	melodyChannel = 0
	clickChannel  = 9
	violin        = 40
)

var ErrEmptyTimeline = errors.New("midifile: nothing to export")

type Options struct {
	Params sequencer.Params
	// Sequencer supplies tempo bounds and note length minimums.
	Sequencer   sequencer.Options
	Numerator   int
	Denominator int
	Title       string
	// Program is the General MIDI melody program (zero-based). Nil selects
	// violin.
	Program *int
}

// span is one sounding of a key.
type span struct {
	on, off  uint32
	channel  uint8
	key      uint8
	velocity uint8
}

// events converts spans to note messages. A NoteOff releases the key no
// matter how many NoteOns preceded it, so a span is cut where the next span
// of the same key begins; a span fully shadowed by one starting on the same
// tick is dropped.
func events(spans []span) []event {
	type chanKey struct{ channel, key uint8 }
	slices.SortStableFunc(spans, func(a, b span) int { return cmp.Compare(a.on, b.on) })
	next := make(map[chanKey]uint32)
	out := make([]event, 0, 2*len(spans))
	for i := len(spans) - 1; i >= 0; i-- {
		sp := spans[i]
		k := chanKey{sp.channel, sp.key}
		if n, ok := next[k]; ok {
			if n <= sp.on {
				continue
			}
			sp.off = min(sp.off, n)
		}
		next[k] = sp.on
		out = append(out,
			event{tick: sp.on, msg: midi.NoteOn(sp.channel, sp.key, sp.velocity)},
			event{tick: sp.off, off: true, msg: midi.NoteOff(sp.channel, sp.key)})
	}
	return out
}

type event struct {
	tick uint32
	off  bool
	msg  midi.Message
}

// Build lays out Params.Repeats passes of tl. Looping exports one pass.
func Build(tl *timeline.Timeline, opts Options) (*smf.SMF, error) {
	plan := sequencer.BuildPlan(tl, opts.Params, opts.Sequencer)
	if plan.Empty() {
		return nil, ErrEmptyTimeline
	}
	passes := max(1, opts.Params.Repeats)
	if opts.Params.Loop {
		passes = 1
	}
	toTicks := func(seconds float64) uint32 {
		return uint32(math.Round(seconds * plan.BPM / 60 * TicksPerBeat))
	}
	passTicks := toTicks(plan.Seconds)

	var melody, clicks []span
	for pass := 0; pass < passes; pass++ {
		base := uint32(pass) * passTicks
		for _, c := range plan.Cues {
			if c.Note < 0 || c.Note > 127 {
				continue
			}
			on := base + toTicks(c.At)
			sp := span{
				on:  on,
				off: min(base+passTicks, on+max(1, toTicks(c.Duration))),
				key: uint8(c.Note),
			}
			switch c.Kind {
			case sequencer.CueNote:
				sp.channel, sp.velocity = melodyChannel, 100
				melody = append(melody, sp)
			case sequencer.CueClick:
				sp.channel, sp.velocity = clickChannel, 70
				if c.Downbeat {
					sp.velocity = 110
				}
				clicks = append(clicks, sp)
			}
		}
	}

	num, den := opts.Numerator, opts.Denominator
	if num <= 0 {
		num = max(1, tl.BeatsPerMeasure)
	}
	if den <= 0 {
		den = 4
	}
	title := opts.Title
	if title == "" {
		title = "Untitled"
	}

	sm := smf.New()
	sm.TimeFormat = smf.MetricTicks(TicksPerBeat)

	var meta smf.Track
	meta.Add(0, smf.MetaTrackSequenceName(title))
	meta.Add(0, smf.MetaMeter(uint8(num), uint8(den)))
	meta.Add(0, smf.MetaTempo(plan.BPM))
	meta.Close(0)
	if err := sm.Add(meta); err != nil {
		return nil, fmt.Errorf("midifile: tempo track: %w", err)
	}

	program := violin
	if opts.Program != nil && *opts.Program >= 0 && *opts.Program <= 127 {
		program = *opts.Program
	}
	head := []smf.Message{smf.MetaTrackSequenceName("Melody"), smf.Message(midi.ProgramChange(melodyChannel, uint8(program)))}
	if err := sm.Add(track(head, events(melody), uint32(passes)*passTicks)); err != nil {
		return nil, fmt.Errorf("midifile: melody track: %w", err)
	}
	if len(clicks) > 0 {
		head := []smf.Message{smf.MetaTrackSequenceName("Metronome")}
		if err := sm.Add(track(head, events(clicks), uint32(passes)*passTicks)); err != nil {
			return nil, fmt.Errorf("midifile: metronome track: %w", err)
		}
	}
	return sm, nil
}

// track sorts events by tick, note-offs first at equal ticks, and converts
// them to deltas.
func track(head []smf.Message, events []event, end uint32) smf.Track {
	slices.SortStableFunc(events, func(a, b event) int {
		if a.tick != b.tick {
			if a.tick < b.tick {
				return -1
			}
			return 1
		}
		if a.off != b.off {
			if a.off {
				return -1
			}
			return 1
		}
		return 0
	})
	var tr smf.Track
	for _, m := range head {
		tr.Add(0, m)
	}
	var last uint32
	for _, e := range events {
		tr.Add(e.tick-last, e.msg)
		last = e.tick
	}
	var tail uint32
	if end > last {
		tail = end - last
	}
	tr.Close(tail)
	return tr
}

// Write encodes the file to w.
func Write(w io.Writer, tl *timeline.Timeline, opts Options) error {
	sm, err := Build(tl, opts)
	if err != nil {
		return err
	}
	if _, err := sm.WriteTo(w); err != nil {
		return fmt.Errorf("midifile: write: %w", err)
	}
	return nil
}

// WriteFile writes the file to path.
func WriteFile(path string, tl *timeline.Timeline, opts Options) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("midifile: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	bw := bufio.NewWriter(f)
	if err := Write(bw, tl, opts); err != nil {
		return err
	}
	return bw.Flush()
}
