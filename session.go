package fiddle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cbegin/fiddle-go/internal/audio"
	"github.com/cbegin/fiddle-go/internal/highlight"
	"github.com/cbegin/fiddle-go/internal/sequencer"
	"github.com/cbegin/fiddle-go/internal/timeline"
	"github.com/cbegin/fiddle-go/internal/util"
)

// Output is a running audio sink pulling from the session.
type Output interface {
	Play()
	Pause()
	Close() error
}

// OutputFactory opens an Output that pulls frames from src.
type OutputFactory func(sampleRate int, src audio.SampleSource) (Output, error)

func deviceOutput(buffer time.Duration) OutputFactory {
	return func(sampleRate int, src audio.SampleSource) (Output, error) {
		p, err := audio.NewPlayer(sampleRate, src, buffer)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Status is one sample of the playback position for displays.
type Status struct {
	State    State
	Progress float64
	Beat     float64
	// Pass counts completed whole-tune passes.
	Pass int
	// Section and SectionPass locate Beat within the section layout.
	Section     string
	SectionPass int
	// Highlight is the visual marker to light, or -1.
	Highlight        int
	HighlightChanged bool
	Elapsed          time.Duration
	Duration         time.Duration
}

// snapshot pairs a timeline with the visual units derived from it. It is
// replaced whole so readers never mix generations.
type snapshot struct {
	tl      *timeline.Timeline
	units   []timeline.VisualUnit
	markers int
	offset  float64
}

// Session owns the playback state of one tune: its timeline, the scheduled
// events and the transport position.
type Session struct {
	id     uuid.UUID
	log    *slog.Logger
	cfg    Config
	layout Layout

	mu      sync.Mutex
	tune    *Tune
	subset  Subset
	params  sequencer.Params
	offset  float64
	markers int // -1 uses the unit count
	closed  bool

	snap  atomic.Pointer[snapshot]
	state atomic.Int32

	seq       *sequencer.Sequencer
	src       *sessionSource
	newOutput OutputFactory
	out       Output

	eventCh   chan PlaybackEvent
	noteCh    chan PlaybackEvent
	eventChMu sync.Mutex
	done      chan struct{}
	doneMu    sync.Mutex
}

// sessionSource feeds the output from the sequencer.
type sessionSource struct {
	seq       *sequencer.Sequencer
	sampleTap func([]float32)
}

func (w *sessionSource) Process(dst []float32) {
	w.seq.Process(dst)
	if w.sampleTap != nil {
		w.sampleTap(dst)
	}
}

// NewSession prepares playback of t. The audio output is not opened until
// Initialize or Play.
func NewSession(t *Tune, opts ...Option) (*Session, error) {
	if t == nil {
		return nil, ErrNoTune
	}
	sc := defaultSessionConfig()
	for _, opt := range opts {
		opt(&sc)
	}
	cfg := sc.cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	layout, _ := ParseLayout(cfg.Layout)
	if sc.layout != nil {
		layout = *sc.layout
	}
	logger := sc.logger
	if logger == nil {
		logger = slog.Default()
	}
	engine := sc.engine
	if engine == nil {
		var err error
		if engine, err = newEngineForConfig(cfg); err != nil {
			return nil, fmt.Errorf("voice engine: %w", err)
		}
	}
	newOutput := sc.newOutput
	if newOutput == nil {
		newOutput = deviceOutput(time.Duration(cfg.BufferMS) * time.Millisecond)
	}

	id := uuid.New()
	s := &Session{
		id:        id,
		log:       logger.With("session", id.String()),
		cfg:       cfg,
		layout:    layout,
		subset:    SubsetFull,
		markers:   -1,
		newOutput: newOutput,
	}
	seqOpts := cfg.SequencerOptions()
	seqOpts.OnEvent = s.onEvent
	seqOpts.OnNote = s.onNote
	seqOpts.Logger = s.log
	s.seq = sequencer.New(engine, cfg.SampleRate, seqOpts)
	s.src = &sessionSource{seq: s.seq, sampleTap: sc.sampleTap}
	s.params = s.seq.Params()

	s.mu.Lock()
	s.loadLocked(t)
	s.mu.Unlock()
	return s, nil
}

func (s *Session) ID() uuid.UUID { return s.id }

func (s *Session) Config() Config { return s.cfg }

// Tune returns the loaded tune.
func (s *Session) Tune() *Tune {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tune
}

// Initialize opens the audio output. It is safe to call repeatedly; a
// failure leaves the session as it was so a later call can retry.
func (s *Session) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initLocked()
}

func (s *Session) initLocked() error {
	if s.closed {
		return ErrClosed
	}
	if s.out != nil {
		return nil
	}
	out, err := s.newOutput(s.cfg.SampleRate, s.src)
	if err != nil {
		s.log.Error("audio output unavailable", "err", err)
		return fmt.Errorf("%w: %v", ErrAudioInit, err)
	}
	s.out = out
	s.out.Play()
	s.log.Info("audio output ready", "sample_rate", s.cfg.SampleRate)
	return nil
}

// Play starts from the top, or resumes after Pause. With nothing to play it
// returns nil and stays stopped.
func (s *Session) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initLocked(); err != nil {
		return err
	}
	if s.State() == StatePlaying {
		return nil
	}
	prev := s.state.Swap(int32(StatePlaying))
	s.armDone()
	if !s.seq.Start() {
		s.state.Store(prev)
		s.signalDone()
		s.log.Debug("nothing to play", "subset", s.subset)
		return nil
	}
	s.log.Debug("playing", "from", State(prev), "bpm", s.params.BPM)
	return nil
}

// Pause halts the transport. Scheduled events are kept for Play.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != StatePlaying {
		return
	}
	s.seq.Pause()
	s.state.Store(int32(StatePaused))
}

// Stop cancels everything scheduled and rewinds to the top.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Session) stopLocked() {
	prev := State(s.state.Swap(int32(StateStopped)))
	s.seq.Stop()
	if prev != StateStopped {
		s.sendEvent(PlaybackEvent{Kind: EventPlaybackEnded, Entry: -1})
		s.signalDone()
	}
}

// SetBPM sets the tempo, rescheduling in place while playing, and returns
// the clamped value.
func (s *Session) SetBPM(bpm float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params.BPM = bpm
	s.applyParamsLocked()
	return s.params.BPM
}

// SetTranspose sets the semitone shift and returns the clamped value.
func (s *Session) SetTranspose(semitones int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params.Transpose = util.Clamp(semitones, -s.cfg.MaxTranspose, s.cfg.MaxTranspose)
	s.applyParamsLocked()
	return s.params.Transpose
}

// SetOctaveShift sets the octave shift and returns the clamped value.
func (s *Session) SetOctaveShift(octaves int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params.Octave = util.Clamp(octaves, -s.cfg.MaxOctaveShift, s.cfg.MaxOctaveShift)
	s.applyParamsLocked()
	return s.params.Octave
}

func (s *Session) SetMetronome(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params.Metronome = on
	s.applyParamsLocked()
}

// SetSectionSubset rebuilds the timeline for the chosen sections.
func (s *Session) SetSectionSubset(sub Subset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub == "" {
		sub = SubsetFull
	}
	s.subset = sub
	s.rebuildLocked()
}

// SetRepeatCount sets how many times the whole tune plays and returns the
// clamped value.
func (s *Session) SetRepeatCount(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params.Repeats = n
	s.applyParamsLocked()
	return s.params.Repeats
}

func (s *Session) SetLooping(loop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params.Loop = loop
	s.applyParamsLocked()
}

// Params returns the current playback settings.
func (s *Session) Params() sequencer.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

func (s *Session) Subset() Subset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subset
}

// SetHighlightOffset sets the highlight lead/lag correction in beats and
// returns the clamped value.
func (s *Session) SetHighlightOffset(beats float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset = util.Clamp(beats, -s.cfg.MaxHighlightOffset, s.cfg.MaxHighlightOffset)
	snap := s.snap.Load()
	s.publishLocked(snap.tl, snap.units)
	return s.offset
}

// SetVisualMarkers tells the session how many note markers the display
// rendered. A negative count follows the timeline.
func (s *Session) SetVisualMarkers(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers = max(n, -1)
	snap := s.snap.Load()
	s.publishLocked(snap.tl, snap.units)
}

// Load replaces the tune. Playback stops; transpose and octave reset and the
// tempo becomes the tune's default.
func (s *Session) Load(t *Tune) error {
	if t == nil {
		return ErrNoTune
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.loadLocked(t)
	return nil
}

func (s *Session) loadLocked(t *Tune) {
	if err := t.Validate(); err != nil {
		s.log.Warn("tune has structural problems", "tune", t.ID, "err", err)
	}
	s.tune = t
	s.markers = -1
	s.params.Transpose = 0
	s.params.Octave = 0
	s.params.BPM = 120
	if t.DefaultTempo > 0 {
		s.params.BPM = float64(t.DefaultTempo)
	}
	s.params = s.seq.SetParams(s.params)
	s.rebuildLocked()
	s.log.Info("tune loaded", "tune", t.ID, "title", t.Title, "bpm", s.params.BPM, "notes", t.NoteCount())
}

func (s *Session) applyParamsLocked() {
	s.params = s.seq.SetParams(s.params)
}

func (s *Session) rebuildLocked() {
	tl := timeline.Build(s.tune.Select(s.subset), s.tune.BeatsPerMeasure())
	units := timeline.Group(tl, s.layout)
	s.publishLocked(tl, units)
	s.seq.Load(tl)
	if tl.Empty() && s.state.Swap(int32(StateStopped)) != int32(StateStopped) {
		// The sequencer stops without an event when nothing is left.
		s.signalDone()
	}
	s.log.Debug("timeline rebuilt", "subset", s.subset, "entries", len(tl.Entries), "beats", tl.TotalBeats, "units", len(units))
}

func (s *Session) publishLocked(tl *timeline.Timeline, units []timeline.VisualUnit) {
	markers := s.markers
	if markers < 0 {
		markers = timeline.MarkerCount(units)
	} else if prev := s.snap.Load(); prev == nil || prev.tl != tl || prev.markers != markers {
		highlight.CheckMarkers(units, markers, s.log)
	}
	s.snap.Store(&snapshot{tl: tl, units: units, markers: markers, offset: s.offset})
}

// Timeline returns the current timeline. It must not be modified.
func (s *Session) Timeline() *timeline.Timeline { return s.snap.Load().tl }

// VisualUnits returns the tie-merged units behind highlight indices.
func (s *Session) VisualUnits() []timeline.VisualUnit { return s.snap.Load().units }

// Progress returns the position within the current pass in [0, 1].
func (s *Session) Progress() float64 { return s.seq.Progress() }

func (s *Session) State() State { return State(s.state.Load()) }

// HighlightIndex maps the current progress to a visual marker, or -1 when
// stopped or when there is nothing to highlight.
func (s *Session) HighlightIndex() int {
	if s.State() == StateStopped {
		return -1
	}
	snap := s.snap.Load()
	return highlight.Index(snap.tl, snap.units, s.seq.Progress(), snap.offset, snap.markers)
}

// Duration returns the length of one pass at the current tempo.
func (s *Session) Duration() time.Duration {
	return seconds(s.seq.Duration())
}

func (s *Session) Status() Status {
	return s.status(s.snap.Load())
}

func (s *Session) status(snap *snapshot) Status {
	st := s.seq.Status()
	out := Status{
		State:     s.State(),
		Progress:  st.Progress,
		Beat:      st.Beat,
		Pass:      st.Pass,
		Highlight: -1,
		Elapsed:   seconds(st.Seconds),
		Duration:  s.Duration(),
	}
	if p, _, ok := snap.tl.PassAt(st.Beat); ok && st.Active {
		out.Section = p.Name
		out.SectionPass = p.Pass
	}
	if out.State != StateStopped {
		out.Highlight = highlight.Index(snap.tl, snap.units, st.Progress, snap.offset, snap.markers)
	}
	return out
}

// Poll samples the playback status every interval until ctx is done. A
// non-positive interval uses the configured poll interval. The channel is
// closed when polling ends.
func (s *Session) Poll(ctx context.Context, interval time.Duration) <-chan Status {
	if interval <= 0 {
		interval = time.Duration(s.cfg.PollIntervalMS) * time.Millisecond
	}
	ch := make(chan Status, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var (
			tracked *snapshot
			tracker *highlight.Tracker
		)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			snap := s.snap.Load()
			switch {
			case tracker == nil:
				tracker = highlight.NewTracker(snap.tl, snap.units, snap.markers, s.log)
			case snap.tl != tracked.tl || snap.markers != tracked.markers:
				tracker.Rebind(snap.tl, snap.units, snap.markers)
			}
			tracked = snap
			tracker.SetOffset(snap.offset)
			st := s.status(snap)
			before := tracker.Current()
			if st.State == StateStopped {
				tracker.Clear()
				st.Highlight = -1
			} else {
				st.Highlight, _ = tracker.Update(st.Progress, st.State == StatePlaying)
			}
			st.HighlightChanged = st.Highlight != before
			select {
			case ch <- st:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// Watch returns a channel that receives lifecycle events:
//   - EventLoopCompleted: a whole-tune pass finished and the next one began
//   - EventPlaybackEnded: the last pass finished, or Stop was called
//
// The channel is buffered (cap 8); events are dropped when it is full. Only
// the most recent Watch() channel receives events.
func (s *Session) Watch() <-chan PlaybackEvent {
	ch := make(chan PlaybackEvent, 8)
	s.eventChMu.Lock()
	s.eventCh = ch
	s.eventChMu.Unlock()
	return ch
}

// WatchNotes returns a channel that receives EventNote and EventClick as
// they sound. Events are dropped when the channel is full.
func (s *Session) WatchNotes() <-chan PlaybackEvent {
	ch := make(chan PlaybackEvent, 64)
	s.eventChMu.Lock()
	s.noteCh = ch
	s.eventChMu.Unlock()
	return ch
}

// Wait blocks until the current playback ends. When looping, Wait blocks
// until Stop. It returns immediately if nothing is playing.
func (s *Session) Wait() {
	s.doneMu.Lock()
	done := s.done
	s.doneMu.Unlock()
	if done != nil {
		<-done
	}
}

// Close stops playback and releases the audio output.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.stopLocked()
	s.closed = true
	s.signalDone()
	if s.out == nil {
		return nil
	}
	err := s.out.Close()
	s.out = nil
	return err
}

// onEvent runs on the audio thread with the sequencer locked.
func (s *Session) onEvent(kind sequencer.EventKind) {
	switch kind {
	case sequencer.EventLoopCompleted:
		s.sendEvent(PlaybackEvent{Kind: EventLoopCompleted, Entry: -1})
	case sequencer.EventPlaybackEnded:
		s.state.Store(int32(StateStopped))
		s.sendEvent(PlaybackEvent{Kind: EventPlaybackEnded, Entry: -1})
		s.signalDone()
	}
}

func (s *Session) onNote(ev sequencer.NoteEvent) {
	s.eventChMu.Lock()
	ch := s.noteCh
	s.eventChMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- PlaybackEvent{Kind: int(ev.Kind), Pass: ev.Pass, Entry: ev.Entry, Pitch: ev.Pitch, Beat: ev.Beat}:
	default:
	}
}

func (s *Session) sendEvent(ev PlaybackEvent) {
	s.eventChMu.Lock()
	ch := s.eventCh
	s.eventChMu.Unlock()
	if ch != nil {
		select {
		case ch <- ev:
		default:
			// Channel full; drop event
		}
	}
}

func (s *Session) armDone() {
	s.doneMu.Lock()
	defer s.doneMu.Unlock()
	if s.done == nil {
		s.done = make(chan struct{})
	}
}

func (s *Session) signalDone() {
	s.doneMu.Lock()
	done := s.done
	s.done = nil
	s.doneMu.Unlock()
	if done != nil {
		close(done)
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
