package fiddle

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbegin/fiddle-go/internal/audio"
	"github.com/cbegin/fiddle-go/internal/sequencer"
)

const testRate = 1000

type noteOn struct {
	note    int
	program int
}

type countingEngine struct {
	ons    []noteOn
	offs   int
	nextID int
}

func (e *countingEngine) NoteOn(note int, velocity int, pan int, program int) int {
	e.ons = append(e.ons, noteOn{note: note, program: program})
	e.nextID++
	return e.nextID
}

func (e *countingEngine) NoteOff(int)                     { e.offs++ }
func (e *countingEngine) RenderFrame() (float32, float32) { return 0.25, -0.25 }
func (e *countingEngine) SetMasterGain(float64)           {}
func (e *countingEngine) ActiveVoiceCount() int           { return 0 }

type fakeOutput struct {
	plays  int
	closed bool
}

func (o *fakeOutput) Play()  { o.plays++ }
func (o *fakeOutput) Pause() {}
func (o *fakeOutput) Close() error {
	o.closed = true
	return nil
}

type harness struct {
	*Session
	engine *countingEngine
	output *fakeOutput
	source audio.SampleSource
}

// run renders n frames the way the audio device would.
func (h *harness) run(n int) {
	h.source.Process(make([]float32, n*2))
}

func quarterNotes(pitches ...string) []Note {
	notes := make([]Note, len(pitches))
	for i, p := range pitches {
		notes[i] = Note{Pitch: p, Duration: 1, StartTime: float64(i)}
	}
	return notes
}

// twoPartTune is A (8 beats, played twice) then B (6 beats): 22 beats.
func twoPartTune() *Tune {
	return &Tune{
		ID:            "two-part",
		Title:         "Two Part",
		TimeSignature: "4/4",
		DefaultTempo:  120,
		Sections: []Section{
			{Name: "A", Repeat: 2, Notes: quarterNotes("D4", "E4", "F#4", "G4", "A4", "B4", "C#5", "D5")},
			{Name: "B", Repeat: 1, Notes: quarterNotes("A4", "G4", "F#4", "E4", "D4", "E4")},
		},
	}
}

// shortTune is four beats, four seconds at its default tempo.
func shortTune() *Tune {
	return &Tune{
		ID:            "short",
		TimeSignature: "4/4",
		DefaultTempo:  60,
		Sections:      []Section{{Name: "A", Notes: quarterNotes("D4", "E4", "F#4", "G4")}},
	}
}

func newHarness(t *testing.T, tn *Tune, opts ...Option) *harness {
	t.Helper()
	h := &harness{engine: &countingEngine{}, output: &fakeOutput{}}
	cfg := DefaultConfig()
	cfg.SampleRate = testRate
	base := []Option{
		WithConfig(cfg),
		WithEngine(h.engine),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithOutputFactory(func(sampleRate int, src audio.SampleSource) (Output, error) {
			h.source = src
			return h.output, nil
		}),
	}
	s, err := NewSession(tn, append(base, opts...)...)
	require.NoError(t, err)
	h.Session = s
	t.Cleanup(func() { _ = s.Close() })
	return h
}

func TestNewSessionRequiresTune(t *testing.T) {
	_, err := NewSession(nil)
	assert.ErrorIs(t, err, ErrNoTune)
}

func TestNewSessionRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Synth = "organ"
	_, err := NewSession(shortTune(), WithConfig(cfg), WithEngine(&countingEngine{}))
	assert.Error(t, err)
}

func TestSessionScenarioPosition(t *testing.T) {
	h := newHarness(t, twoPartTune())
	assert.Equal(t, 22.0, h.Timeline().TotalBeats)
	assert.Equal(t, 11*time.Second, h.Duration())
	assert.Equal(t, StateStopped, h.State())
	assert.Equal(t, -1, h.HighlightIndex())

	require.NoError(t, h.Play())
	assert.Equal(t, 1, h.output.plays)
	h.run(5500)

	st := h.Status()
	assert.Equal(t, StatePlaying, st.State)
	assert.InDelta(t, 0.5, st.Progress, 1e-9)
	assert.InDelta(t, 11.0, st.Beat, 1e-9)
	assert.Equal(t, "A", st.Section)
	assert.Equal(t, 1, st.SectionPass)
	assert.Equal(t, 11, st.Highlight)
	assert.Equal(t, 11, h.HighlightIndex())
	assert.Equal(t, 5500*time.Millisecond, st.Elapsed)
}

func TestSessionSettersClamp(t *testing.T) {
	h := newHarness(t, twoPartTune())
	assert.Equal(t, 200.0, h.SetBPM(500))
	assert.Equal(t, 30.0, h.SetBPM(5))
	assert.Equal(t, 12, h.SetTranspose(20))
	assert.Equal(t, -12, h.SetTranspose(-20))
	assert.Equal(t, 2, h.SetOctaveShift(5))
	assert.Equal(t, -2, h.SetOctaveShift(-3))
	assert.Equal(t, 1, h.SetRepeatCount(0))
	assert.Equal(t, 16, h.SetRepeatCount(99))
	assert.Equal(t, 0.5, h.SetHighlightOffset(2))
	assert.Equal(t, -0.5, h.SetHighlightOffset(-2))

	p := h.Params()
	assert.Equal(t, 30.0, p.BPM)
	assert.Equal(t, -12, p.Transpose)
	assert.Equal(t, -2, p.Octave)
	assert.Equal(t, 16, p.Repeats)
}

func TestSessionTempoChangeKeepsPosition(t *testing.T) {
	h := newHarness(t, twoPartTune())
	require.NoError(t, h.Play())
	h.run(5500)

	assert.Equal(t, 60.0, h.SetBPM(60))
	assert.Equal(t, 22*time.Second, h.Duration())
	assert.InDelta(t, 0.5, h.Progress(), 1e-9)
	assert.Equal(t, StatePlaying, h.State())
	assert.Equal(t, 11, h.HighlightIndex())

	h.run(1000)
	assert.InDelta(t, 12000.0/22000.0, h.Progress(), 1e-9)
}

func TestSessionTransposeWhilePlaying(t *testing.T) {
	tn := shortTune()
	h := newHarness(t, tn)
	notes := h.WatchNotes()
	require.NoError(t, h.Play())
	h.run(1500)

	assert.Equal(t, 2, h.SetTranspose(2))
	h.run(1)
	var pitches []string
	for len(notes) > 0 {
		pitches = append(pitches, (<-notes).Pitch)
	}
	// E4 straddles the change and restarts a tone higher.
	assert.Equal(t, []string{"D4", "E4", "F#4"}, pitches)
	assert.Equal(t, 66, h.engine.ons[len(h.engine.ons)-1].note)
}

func TestSessionPauseResume(t *testing.T) {
	h := newHarness(t, twoPartTune())
	require.NoError(t, h.Play())
	h.run(2000)
	h.Pause()
	assert.Equal(t, StatePaused, h.State())
	before := h.Progress()

	h.run(3000)
	assert.Equal(t, before, h.Progress(), "paused transport must not advance")
	assert.GreaterOrEqual(t, h.HighlightIndex(), 0, "pause keeps the highlight")

	require.NoError(t, h.Play())
	assert.Equal(t, StatePlaying, h.State())
	h.run(1000)
	assert.InDelta(t, 3000.0/11000.0, h.Progress(), 1e-9)
}

func TestSessionStopRewinds(t *testing.T) {
	h := newHarness(t, twoPartTune())
	events := h.Watch()
	require.NoError(t, h.Play())
	h.run(3000)
	h.Stop()

	assert.Equal(t, StateStopped, h.State())
	assert.Equal(t, 0.0, h.Progress())
	assert.Equal(t, -1, h.HighlightIndex())
	require.Len(t, events, 1)
	assert.Equal(t, EventPlaybackEnded, (<-events).Kind)

	waited := make(chan struct{})
	go func() {
		h.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Stop")
	}
}

func TestSessionPlaysToEnd(t *testing.T) {
	h := newHarness(t, shortTune())
	events := h.Watch()
	require.NoError(t, h.Play())
	h.run(4001)

	assert.Equal(t, StateStopped, h.State())
	require.Len(t, events, 1)
	assert.Equal(t, EventPlaybackEnded, (<-events).Kind)
	h.Wait()
}

func TestSessionRepeatsWholeTune(t *testing.T) {
	h := newHarness(t, shortTune())
	events := h.Watch()
	assert.Equal(t, 2, h.SetRepeatCount(2))
	require.NoError(t, h.Play())

	h.run(4001)
	assert.Equal(t, StatePlaying, h.State())
	assert.Equal(t, 1, h.Status().Pass)
	h.run(4001)
	assert.Equal(t, StateStopped, h.State())

	var kinds []int
	for len(events) > 0 {
		kinds = append(kinds, (<-events).Kind)
	}
	assert.Equal(t, []int{EventLoopCompleted, EventPlaybackEnded}, kinds)
}

func TestSessionLooping(t *testing.T) {
	h := newHarness(t, shortTune())
	events := h.Watch()
	h.SetLooping(true)
	require.NoError(t, h.Play())
	for i := 0; i < 3; i++ {
		h.run(4001)
	}
	assert.Equal(t, StatePlaying, h.State())
	assert.Len(t, events, 3)
	for len(events) > 0 {
		assert.Equal(t, EventLoopCompleted, (<-events).Kind)
	}
}

func TestSessionMetronomeClicks(t *testing.T) {
	h := newHarness(t, shortTune())
	notes := h.WatchNotes()
	h.SetMetronome(true)
	require.NoError(t, h.Play())
	h.run(4001)

	clicks := 0
	for len(notes) > 0 {
		if ev := <-notes; ev.Kind == EventClick {
			clicks++
			assert.Equal(t, -1, ev.Entry)
		}
	}
	assert.Equal(t, 4, clicks)
	programs := map[int]int{}
	for _, on := range h.engine.ons {
		programs[on.program]++
	}
	assert.Equal(t, 4, programs[sequencer.ProgramClick])
	assert.Equal(t, 4, programs[sequencer.ProgramMelody])
}

func TestSessionSectionSubset(t *testing.T) {
	h := newHarness(t, twoPartTune())
	h.SetSectionSubset(SubsetB)
	assert.Equal(t, SubsetB, h.Subset())
	assert.Equal(t, 6.0, h.Timeline().TotalBeats)
	assert.Equal(t, 3*time.Second, h.Duration())

	h.SetSectionSubset(SubsetA)
	assert.Equal(t, 16.0, h.Timeline().TotalBeats)
	assert.Len(t, h.VisualUnits(), 16)

	h.SetSectionSubset("")
	assert.Equal(t, SubsetFull, h.Subset())
	assert.Equal(t, 22.0, h.Timeline().TotalBeats)
}

func TestSessionSubsetWithoutSectionsStops(t *testing.T) {
	h := newHarness(t, shortTune())
	require.NoError(t, h.Play())
	h.run(1000)

	h.SetSectionSubset(SubsetB)
	assert.Equal(t, StateStopped, h.State())
	assert.Equal(t, 0.0, h.Progress())
	assert.Equal(t, -1, h.HighlightIndex())
	h.Wait()

	require.NoError(t, h.Play(), "nothing to play is not an error")
	assert.Equal(t, StateStopped, h.State())
}

func TestSessionLoadResets(t *testing.T) {
	h := newHarness(t, twoPartTune())
	h.SetTranspose(3)
	h.SetOctaveShift(1)
	h.SetBPM(90)
	h.SetMetronome(true)
	require.NoError(t, h.Play())
	h.run(2000)

	require.NoError(t, h.Load(shortTune()))
	p := h.Params()
	assert.Equal(t, 0, p.Transpose)
	assert.Equal(t, 0, p.Octave)
	assert.Equal(t, 60.0, p.BPM)
	assert.True(t, p.Metronome, "metronome is a player preference")
	assert.Equal(t, StateStopped, h.State())
	assert.Equal(t, 0.0, h.Progress())
	assert.Equal(t, "short", h.Tune().ID)
	assert.Equal(t, 4.0, h.Timeline().TotalBeats)

	assert.ErrorIs(t, h.Load(nil), ErrNoTune)
}

func TestSessionVisualMarkerClamp(t *testing.T) {
	h := newHarness(t, twoPartTune())
	h.SetVisualMarkers(5)
	require.NoError(t, h.Play())
	h.run(5500)
	assert.Equal(t, 4, h.HighlightIndex())

	h.SetVisualMarkers(0)
	assert.Equal(t, -1, h.HighlightIndex())

	h.SetVisualMarkers(-1)
	assert.Equal(t, 11, h.HighlightIndex())
}

func TestSessionHighlightOffset(t *testing.T) {
	h := newHarness(t, twoPartTune())
	require.NoError(t, h.Play())
	h.run(5500)
	h.SetHighlightOffset(0.5)
	// Beat 11 less half a beat lands in the previous note.
	assert.Equal(t, 10, h.HighlightIndex())
}

func TestSessionNotatedLayout(t *testing.T) {
	h := newHarness(t, twoPartTune(), WithLayout(LayoutNotated))
	require.NoError(t, h.Play())
	h.run(5500)
	// Beat 11 is note 3 of A's second pass, drawn once as marker 3.
	assert.Equal(t, 3, h.HighlightIndex())
}

func TestSessionInitFailureIsRetryable(t *testing.T) {
	out := &fakeOutput{}
	calls := 0
	cfg := DefaultConfig()
	cfg.SampleRate = testRate
	s, err := NewSession(twoPartTune(),
		WithConfig(cfg),
		WithEngine(&countingEngine{}),
		WithOutputFactory(func(int, audio.SampleSource) (Output, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("no device")
			}
			return out, nil
		}),
	)
	require.NoError(t, err)
	defer s.Close()

	err = s.Play()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAudioInit)
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, 22.0, s.Timeline().TotalBeats)

	require.NoError(t, s.Play())
	assert.Equal(t, StatePlaying, s.State())
	assert.Equal(t, 1, out.plays)
	require.NoError(t, s.Initialize())
	assert.Equal(t, 2, calls)
}

func TestSessionCloseReleasesOutput(t *testing.T) {
	h := newHarness(t, shortTune())
	require.NoError(t, h.Play())
	require.NoError(t, h.Close())
	assert.True(t, h.output.closed)
	assert.ErrorIs(t, h.Play(), ErrClosed)
	assert.NoError(t, h.Close())
}

func TestSessionSampleTap(t *testing.T) {
	var tapped int
	h := newHarness(t, shortTune(), WithSampleTap(func(buf []float32) { tapped += len(buf) }))
	require.NoError(t, h.Play())
	h.run(100)
	assert.Equal(t, 200, tapped)
}

func TestSessionPoll(t *testing.T) {
	h := newHarness(t, twoPartTune())
	require.NoError(t, h.Play())
	h.run(5500)

	ctx, cancel := context.WithCancel(context.Background())
	ch := h.Poll(ctx, time.Millisecond)
	st, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, StatePlaying, st.State)
	assert.Equal(t, 11, st.Highlight)
	assert.True(t, st.HighlightChanged)

	st = <-ch
	assert.Equal(t, 11, st.Highlight)
	assert.False(t, st.HighlightChanged)

	cancel()
	for range ch {
	}
}

func TestSessionPollKeepsHighlightAcrossMarkerChange(t *testing.T) {
	h := newHarness(t, twoPartTune())
	require.NoError(t, h.Play())
	h.run(5500)

	ctx, cancel := context.WithCancel(context.Background())
	ch := h.Poll(ctx, time.Millisecond)
	st := <-ch
	require.Equal(t, 11, st.Highlight)
	require.True(t, st.HighlightChanged)

	h.SetVisualMarkers(30)
	for i := 0; i < 3; i++ {
		st = <-ch
		assert.Equal(t, 11, st.Highlight)
		assert.False(t, st.HighlightChanged, "status %d", i)
	}

	h.SetVisualMarkers(5)
	changed := false
	for i := 0; i < 3; i++ {
		st = <-ch
		changed = changed || st.HighlightChanged
	}
	assert.Equal(t, 4, st.Highlight)
	assert.True(t, changed, "clamping to fewer markers moves the highlight")

	cancel()
	for range ch {
	}
}

func TestSessionWarnsOnceForMarkerMismatch(t *testing.T) {
	var buf bytes.Buffer
	h := newHarness(t, twoPartTune(), WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	h.SetVisualMarkers(22)
	assert.NotContains(t, buf.String(), "marker count mismatch")

	h.SetVisualMarkers(19)
	h.SetVisualMarkers(19)
	h.SetHighlightOffset(0.5)
	assert.Equal(t, 1, strings.Count(buf.String(), "marker count mismatch"))

	h.SetVisualMarkers(20)
	assert.Equal(t, 2, strings.Count(buf.String(), "marker count mismatch"))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "playing", StatePlaying.String())
	assert.Equal(t, "paused", StatePaused.String())
	assert.Equal(t, "unknown", State(9).String())
}
