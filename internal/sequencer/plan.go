package sequencer

import (
	"cmp"
	"slices"

	"github.com/cbegin/fiddle-go/internal/pitch"
	"github.com/cbegin/fiddle-go/internal/timeline"
	"github.com/cbegin/fiddle-go/internal/util"
)

// General MIDI percussion keys used for the metronome.
const (
	ClickNote  = 77 // low wood block
	AccentNote = 76 // high wood block
)

// Params are the user-facing playback settings a plan is built from.
type Params struct {
	BPM       float64
	Transpose int
	Octave    int
	Metronome bool
	// Repeats is how many times the whole tune plays before stopping.
	Repeats int
	// Loop plays the tune indefinitely and overrides Repeats.
	Loop bool
}

type CueKind int

const (
	CueNote CueKind = iota
	CueClick
	CueEnd
)

func (k CueKind) String() string {
	switch k {
	case CueNote:
		return "note"
	case CueClick:
		return "click"
	case CueEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Cue is one scheduled action of a single pass through the tune. Times are
// seconds from the start of the pass.
type Cue struct {
	Kind     CueKind
	Beat     float64
	At       float64
	Duration float64
	// Entry indexes Timeline.Entries for note cues and is -1 otherwise.
	Entry int
	// Pitch is the sounding pitch after transposition.
	Pitch string
	// Note is the MIDI key, or -1 when Pitch could not be parsed.
	Note     int
	Downbeat bool
}

// Plan is the ordered cue list for one pass through a timeline.
type Plan struct {
	Cues    []Cue
	BPM     float64
	Seconds float64
}

// Empty reports whether the plan would produce no events at all.
func (p Plan) Empty() bool { return len(p.Cues) == 0 }

// Notes returns the number of note cues.
func (p Plan) Notes() int {
	n := 0
	for _, c := range p.Cues {
		if c.Kind == CueNote {
			n++
		}
	}
	return n
}

func BeatsToSeconds(beats, bpm float64) float64 {
	if bpm <= 0 {
		return 0
	}
	return beats * 60 / bpm
}

// ClampBPM limits bpm to [lo, hi]. A non-positive bound is ignored.
func ClampBPM(bpm, lo, hi float64) float64 {
	if lo > 0 && bpm < lo {
		bpm = lo
	}
	if hi > 0 && bpm > hi {
		bpm = hi
	}
	return bpm
}

// BuildPlan derives the cues for one pass of tl under p. The result depends
// only on its inputs. An empty or zero-length timeline yields an empty plan.
func BuildPlan(tl *timeline.Timeline, p Params, opts Options) Plan {
	opts = opts.withDefaults()
	bpm := ClampBPM(p.BPM, opts.MinBPM, opts.MaxBPM)
	plan := Plan{BPM: bpm}
	if tl.Empty() || tl.TotalBeats <= 0 || bpm <= 0 {
		return plan
	}
	plan.Seconds = BeatsToSeconds(tl.TotalBeats, bpm)

	cues := make([]Cue, 0, len(tl.Entries)+int(tl.TotalBeats)+1)
	for i, e := range tl.Entries {
		sounding := pitch.Transpose(e.Pitch, p.Transpose, p.Octave)
		note, ok := pitch.MIDI(sounding)
		if !ok {
			note = -1
		}
		cues = append(cues, Cue{
			Kind:     CueNote,
			Beat:     e.Start,
			At:       BeatsToSeconds(e.Start, bpm),
			Duration: max(BeatsToSeconds(e.End-e.Start, bpm), opts.MinNoteSeconds),
			Entry:    i,
			Pitch:    sounding,
			Note:     note,
		})
	}
	if p.Metronome {
		for b := 0; float64(b) < tl.TotalBeats; b++ {
			down := tl.BeatsPerMeasure > 0 && b%tl.BeatsPerMeasure == 0
			note := ClickNote
			if down {
				note = AccentNote
			}
			cues = append(cues, Cue{
				Kind:     CueClick,
				Beat:     float64(b),
				At:       BeatsToSeconds(float64(b), bpm),
				Duration: opts.ClickSeconds,
				Entry:    -1,
				Note:     note,
				Downbeat: down,
			})
		}
	}
	// Stable so that at equal times notes stay ahead of clicks and keep
	// timeline order.
	slices.SortStableFunc(cues, func(a, b Cue) int { return cmp.Compare(a.At, b.At) })
	cues = append(cues, Cue{Kind: CueEnd, Beat: tl.TotalBeats, At: plan.Seconds, Entry: -1, Note: -1})
	plan.Cues = cues
	return plan
}

// NormalizeParams clamps p to the ranges in opts.
func NormalizeParams(p Params, opts Options) Params {
	opts = opts.withDefaults()
	p.BPM = ClampBPM(p.BPM, opts.MinBPM, opts.MaxBPM)
	p.Repeats = util.Clamp(p.Repeats, 1, max(1, opts.MaxRepeats))
	return p
}
