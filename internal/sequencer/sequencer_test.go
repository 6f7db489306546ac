package sequencer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbegin/fiddle-go/internal/timeline"
	"github.com/cbegin/fiddle-go/internal/tune"
)

type noteOn struct {
	note, velocity, program int
}

type countingEngine struct {
	ons      []noteOn
	noteOffs []int
	nextID   int
	gain     float64
}

func (e *countingEngine) NoteOn(note int, velocity int, pan int, program int) int {
	e.ons = append(e.ons, noteOn{note, velocity, program})
	id := e.nextID
	e.nextID++
	return id
}
func (e *countingEngine) NoteOff(id int)                  { e.noteOffs = append(e.noteOffs, id) }
func (e *countingEngine) RenderFrame() (float32, float32) { return 0.25, -0.25 }
func (e *countingEngine) SetMasterGain(gain float64)      { e.gain = gain }
func (e *countingEngine) ActiveVoiceCount() int           { return len(e.ons) - len(e.noteOffs) }

func (e *countingEngine) melody() []int {
	var out []int
	for _, on := range e.ons {
		if on.program == ProgramMelody {
			out = append(out, on.note)
		}
	}
	return out
}

// fourBeats is D4 E4 F#4 G4, one beat each, in 4/4.
func fourBeats() *timeline.Timeline {
	sec := tune.Section{Name: "A", Notes: []tune.Note{
		{Pitch: "D4", Duration: 1, StartTime: 0},
		{Pitch: "E4", Duration: 1, StartTime: 1},
		{Pitch: "F#4", Duration: 1, StartTime: 2},
		{Pitch: "G4", Duration: 1, StartTime: 3},
	}}
	return timeline.Build([]tune.Section{sec}, 4)
}

// At 1000 Hz and 60 BPM one beat is 1000 frames.
const testRate = 1000

func newTestSequencer(t *testing.T, p Params) (*Sequencer, *countingEngine, *[]EventKind) {
	t.Helper()
	engine := &countingEngine{}
	var events []EventKind
	seq := New(engine, testRate, Options{OnEvent: func(k EventKind) { events = append(events, k) }})
	seq.Load(fourBeats())
	seq.SetParams(p)
	return seq, engine, &events
}

func run(seq *Sequencer, frames int) []float32 {
	buf := make([]float32, frames*2)
	seq.Process(buf)
	return buf
}

func TestBuildPlan(t *testing.T) {
	plan := BuildPlan(fourBeats(), Params{BPM: 60, Metronome: true, Repeats: 1}, Options{})
	require.Len(t, plan.Cues, 9)
	assert.Equal(t, 4, plan.Notes())
	assert.InDelta(t, 4.0, plan.Seconds, 1e-9)

	first := plan.Cues[0]
	assert.Equal(t, CueNote, first.Kind)
	assert.Equal(t, 62, first.Note)
	assert.Equal(t, CueClick, plan.Cues[1].Kind)
	assert.True(t, plan.Cues[1].Downbeat)
	assert.Equal(t, AccentNote, plan.Cues[1].Note)
	assert.False(t, plan.Cues[3].Downbeat)

	last := plan.Cues[len(plan.Cues)-1]
	assert.Equal(t, CueEnd, last.Kind)
	assert.InDelta(t, 4.0, last.At, 1e-9)
	for i := 1; i < len(plan.Cues); i++ {
		if plan.Cues[i].At < plan.Cues[i-1].At {
			t.Fatalf("cue %d at %v before cue %d at %v", i, plan.Cues[i].At, i-1, plan.Cues[i-1].At)
		}
	}
}

func TestBuildPlanTransposesAndClampsTempo(t *testing.T) {
	plan := BuildPlan(fourBeats(), Params{BPM: 500, Transpose: 2, Octave: -1}, Options{})
	assert.Equal(t, 200.0, plan.BPM)
	assert.Equal(t, "E3", plan.Cues[0].Pitch)
	assert.Equal(t, 52, plan.Cues[0].Note)
	assert.Equal(t, "G#3", plan.Cues[2].Pitch)
	assert.InDelta(t, 1.2, plan.Seconds, 1e-9)

	slow := BuildPlan(fourBeats(), Params{BPM: 1}, Options{})
	assert.Equal(t, 30.0, slow.BPM)
}

func TestBuildPlanMinimumNoteLength(t *testing.T) {
	sec := tune.Section{Name: "A", Notes: []tune.Note{
		{Pitch: "A4", Duration: 0.1, StartTime: 0},
		{Pitch: "B4", Duration: 3.9, StartTime: 0.1},
	}}
	plan := BuildPlan(timeline.Build([]tune.Section{sec}, 4), Params{BPM: 120}, Options{MinNoteSeconds: 0.1})
	assert.InDelta(t, 0.1, plan.Cues[0].Duration, 1e-9)
	assert.InDelta(t, 1.95, plan.Cues[1].Duration, 1e-9)
}

func TestBuildPlanEmpty(t *testing.T) {
	assert.True(t, BuildPlan(timeline.Build(nil, 4), Params{BPM: 120, Metronome: true}, Options{}).Empty())
	assert.True(t, BuildPlan(nil, Params{BPM: 120}, Options{}).Empty())
}

func TestBuildPlanUnparseablePitch(t *testing.T) {
	sec := tune.Section{Name: "A", Notes: []tune.Note{{Pitch: "x", Duration: 1}}}
	plan := BuildPlan(timeline.Build([]tune.Section{sec}, 4), Params{BPM: 120, Transpose: 3}, Options{})
	assert.Equal(t, "x", plan.Cues[0].Pitch)
	assert.Equal(t, -1, plan.Cues[0].Note)
}

func TestBeatsToSeconds(t *testing.T) {
	assert.InDelta(t, 0.5, BeatsToSeconds(1, 120), 1e-12)
	assert.InDelta(t, 3.0, BeatsToSeconds(6, 120), 1e-12)
	assert.Zero(t, BeatsToSeconds(4, 0))
}

func TestSequencerPlaysOnceAndStops(t *testing.T) {
	seq, engine, events := newTestSequencer(t, Params{BPM: 60, Repeats: 1})
	require.True(t, seq.Start())

	buf := run(seq, 4001)
	if buf[0] != 0.25 || buf[1] != -0.25 {
		t.Fatalf("expected rendered engine output, got %v %v", buf[0], buf[1])
	}
	assert.Equal(t, []int{62, 64, 66, 67}, engine.melody())
	assert.Len(t, engine.noteOffs, 4)
	assert.Equal(t, []EventKind{EventPlaybackEnded}, *events)

	st := seq.Status()
	assert.False(t, st.Active)
	assert.False(t, st.Running)
	assert.Zero(t, st.Progress)

	run(seq, 2000)
	assert.Len(t, engine.ons, 4, "no events after playback ended")
}

func TestSequencerRepeatsWholeTune(t *testing.T) {
	seq, engine, events := newTestSequencer(t, Params{BPM: 60, Repeats: 2})
	seq.Start()
	run(seq, 4001)
	assert.Equal(t, []EventKind{EventLoopCompleted}, *events)
	assert.Equal(t, 1, seq.Status().Pass)
	run(seq, 4001)
	assert.Equal(t, []EventKind{EventLoopCompleted, EventPlaybackEnded}, *events)
	assert.Len(t, engine.melody(), 8)
}

func TestSequencerLoopsUntilStopped(t *testing.T) {
	seq, engine, events := newTestSequencer(t, Params{BPM: 60, Repeats: 1, Loop: true})
	seq.Start()
	run(seq, 4001*3)
	assert.Equal(t, []EventKind{EventLoopCompleted, EventLoopCompleted, EventLoopCompleted}, *events)
	assert.True(t, seq.Status().Running)
	seq.Stop()
	assert.Equal(t, len(engine.ons), len(engine.noteOffs), "stop releases every voice")
	assert.Zero(t, seq.Progress())
}

func TestSequencerMetronome(t *testing.T) {
	seq, engine, _ := newTestSequencer(t, Params{BPM: 60, Repeats: 1, Metronome: true})
	seq.Start()
	run(seq, 4001)
	var clicks []noteOn
	for _, on := range engine.ons {
		if on.program == ProgramClick {
			clicks = append(clicks, on)
		}
	}
	require.Len(t, clicks, 4)
	opts := DefaultOptions()
	assert.Equal(t, noteOn{AccentNote, opts.AccentVelocity, ProgramClick}, clicks[0])
	assert.Equal(t, noteOn{ClickNote, opts.ClickVelocity, ProgramClick}, clicks[1])
}

func TestSequencerReschedulesInPlace(t *testing.T) {
	seq, engine, events := newTestSequencer(t, Params{BPM: 60, Repeats: 1})
	seq.Start()
	run(seq, 2000)
	assert.InDelta(t, 0.5, seq.Progress(), 1e-9)
	require.Equal(t, []int{62, 64}, engine.melody())

	applied := seq.SetParams(Params{BPM: 120, Repeats: 1, Transpose: 2})
	assert.Equal(t, 120.0, applied.BPM)
	assert.InDelta(t, 0.5, seq.Progress(), 1e-9, "progress fraction survives the tempo change")
	assert.Len(t, engine.noteOffs, 2, "sounding note released on reschedule")

	run(seq, 1001)
	assert.Equal(t, []int{62, 64, 68, 69}, engine.melody())
	assert.Equal(t, []EventKind{EventPlaybackEnded}, *events)
}

func TestSequencerPauseResumeRestartsStraddlingNote(t *testing.T) {
	seq, engine, _ := newTestSequencer(t, Params{BPM: 60, Repeats: 1})
	seq.Start()
	run(seq, 1500)
	seq.Pause()
	assert.Len(t, engine.noteOffs, 2)
	frame := seq.Status().Frame
	run(seq, 500)
	assert.Equal(t, frame, seq.Status().Frame, "paused clock holds")

	seq.Start()
	run(seq, 1)
	assert.Equal(t, []int{62, 64, 64}, engine.melody())
	run(seq, 2600)
	assert.Equal(t, []int{62, 64, 64, 66, 67}, engine.melody())
}

func TestSequencerLoadWhilePlaying(t *testing.T) {
	seq, engine, _ := newTestSequencer(t, Params{BPM: 60, Repeats: 1})
	seq.Start()
	run(seq, 1000)

	sec := tune.Section{Name: "B", Notes: []tune.Note{
		{Pitch: "A4", Duration: 2, StartTime: 0},
		{Pitch: "B4", Duration: 2, StartTime: 2},
		{Pitch: "C#5", Duration: 4, StartTime: 4},
	}}
	seq.Load(timeline.Build([]tune.Section{sec}, 4))
	assert.InDelta(t, 0.25, seq.Progress(), 1e-9)
	run(seq, 1)
	// Beat 2 of 8 lands on the start of B4.
	assert.Equal(t, []int{62, 71}, engine.melody())
}

func TestSequencerEmptyTimeline(t *testing.T) {
	engine := &countingEngine{}
	seq := New(engine, testRate, Options{})
	assert.False(t, seq.Start())
	seq.Load(timeline.Build(nil, 4))
	assert.False(t, seq.Start())
	run(seq, 100)
	assert.Zero(t, seq.Progress())
	assert.Zero(t, seq.Duration())
	assert.Empty(t, engine.ons)
}

func TestSequencerLoadEmptyWhilePlayingStops(t *testing.T) {
	seq, _, _ := newTestSequencer(t, Params{BPM: 60, Repeats: 1})
	seq.Start()
	run(seq, 1000)
	seq.Load(timeline.Build(nil, 4))
	st := seq.Status()
	assert.False(t, st.Active)
	assert.Zero(t, st.Progress)
}

func TestSequencerNoteEvents(t *testing.T) {
	engine := &countingEngine{}
	var notes []NoteEvent
	seq := New(engine, testRate, Options{OnNote: func(e NoteEvent) { notes = append(notes, e) }})
	seq.Load(fourBeats())
	seq.SetParams(Params{BPM: 60, Metronome: true})
	seq.Start()
	run(seq, 1001)
	require.Len(t, notes, 4)
	assert.Equal(t, EventNote, notes[0].Kind)
	assert.Equal(t, "D4", notes[0].Pitch)
	assert.Equal(t, 0, notes[0].Entry)
	assert.Equal(t, EventClick, notes[1].Kind)
	assert.True(t, notes[1].Downbeat)
	assert.Equal(t, 1.0, notes[2].Beat)
}

func TestNormalizeParams(t *testing.T) {
	p := NormalizeParams(Params{BPM: 10, Repeats: 40}, Options{})
	assert.Equal(t, 30.0, p.BPM)
	assert.Equal(t, 16, p.Repeats)
	p = NormalizeParams(Params{BPM: 90, Repeats: 0}, Options{})
	assert.Equal(t, 1, p.Repeats)
}

func TestSequencerRescheduleWhilePaused(t *testing.T) {
	seq, engine, _ := newTestSequencer(t, Params{BPM: 60, Repeats: 1})
	seq.Start()
	run(seq, 2500)
	seq.Pause()
	seq.SetParams(Params{BPM: 120, Repeats: 1})
	st := seq.Status()
	assert.True(t, st.Active)
	assert.False(t, st.Running)
	assert.InDelta(t, 0.625, st.Progress, 1e-9)

	run(seq, 100)
	assert.Equal(t, []int{62, 64, 66}, engine.melody(), "nothing fires while paused")

	seq.Start()
	run(seq, 1)
	// F#4 was sounding at the pause point and restarts from there.
	assert.Equal(t, []int{62, 64, 66, 66}, engine.melody())
}
