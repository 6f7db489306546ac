// Package fiddle plays fiddle tunes for practice: it lays a tune's sections
// and repeats out on a beat timeline, schedules them against a sample clock
// with an optional metronome, and maps playback progress back to the note a
// score display should highlight.
package fiddle

import (
	"errors"

	"github.com/cbegin/fiddle-go/internal/sequencer"
	"github.com/cbegin/fiddle-go/internal/timeline"
	"github.com/cbegin/fiddle-go/internal/tune"
)

type (
	Tune    = tune.Tune
	Section = tune.Section
	Note    = tune.Note
	Subset  = tune.Subset
	Layout  = timeline.Layout
)

const (
	SubsetFull = tune.SubsetFull
	SubsetA    = tune.SubsetA
	SubsetB    = tune.SubsetB

	LayoutPerformance = timeline.LayoutPerformance
	LayoutNotated     = timeline.LayoutNotated
)

var (
	// ErrNoTune is returned when a session is created or loaded without a tune.
	ErrNoTune = errors.New("fiddle: no tune")
	// ErrAudioInit wraps failures to open the audio output.
	ErrAudioInit = errors.New("fiddle: audio initialization failed")
	// ErrClosed is returned by Play after Close.
	ErrClosed = errors.New("fiddle: session closed")
)

// ParseSubset accepts "full", "A" or "B".
func ParseSubset(s string) (Subset, error) {
	return tune.ParseSubset(s)
}

// LoadTune reads a YAML or JSON tune document.
func LoadTune(path string) (*Tune, error) {
	return tune.Load(path)
}

// State is the transport state reported to displays.
type State int32

const (
	StateStopped State = iota
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// PlaybackEvent carries playback events from Watch().
type PlaybackEvent struct {
	Kind  int // EventLoopCompleted, EventPlaybackEnded, EventNote or EventClick
	Pass  int // whole-tune pass, for note and click events
	Entry int // timeline entry index for EventNote, -1 otherwise
	Pitch string
	Beat  float64
}

const (
	EventLoopCompleted = int(sequencer.EventLoopCompleted)
	EventPlaybackEnded = int(sequencer.EventPlaybackEnded)
	EventNote          = int(sequencer.EventNote)
	EventClick         = int(sequencer.EventClick)
)
