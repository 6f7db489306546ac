// Package sequencer turns a timeline into timed note, click and end-of-tune
// events on a sample clock and renders the voice engine frame by frame.
package sequencer

import (
	"log/slog"
	"math"
	"slices"
	"sync"

	"github.com/cbegin/fiddle-go/internal/timeline"
	"github.com/cbegin/fiddle-go/internal/transport"
)

type VoiceEngine interface {
	NoteOn(note int, velocity int, pan int, program int) int
	NoteOff(id int)
	RenderFrame() (float32, float32)
	SetMasterGain(gain float64)
	// ActiveVoiceCount returns the number of voices still sounding, release
	// tails included.
	ActiveVoiceCount() int
}

// Programs passed to VoiceEngine.NoteOn.
const (
	ProgramMelody = 0
	ProgramClick  = 128
)

// EventKind identifies sequencer lifecycle events.
type EventKind int

const (
	EventLoopCompleted EventKind = iota
	EventPlaybackEnded
	EventNote
	EventClick
)

func (k EventKind) String() string {
	switch k {
	case EventLoopCompleted:
		return "loop-completed"
	case EventPlaybackEnded:
		return "playback-ended"
	case EventNote:
		return "note"
	case EventClick:
		return "click"
	default:
		return "unknown"
	}
}

// NoteEvent describes a sounding note or click.
type NoteEvent struct {
	Kind     EventKind
	Pass     int
	Entry    int
	Pitch    string
	Note     int
	Beat     float64
	Downbeat bool
}

type Options struct {
	MinBPM         float64
	MaxBPM         float64
	MaxRepeats     int
	MinNoteSeconds float64
	ClickSeconds   float64
	Velocity       int
	ClickVelocity  int
	AccentVelocity int
	// OnEvent and OnNote run on the rendering goroutine with the sequencer
	// locked. They must not call back into the Sequencer.
	OnEvent func(EventKind)
	OnNote  func(NoteEvent)
	Logger  *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		MinBPM:         30,
		MaxBPM:         200,
		MaxRepeats:     16,
		MinNoteSeconds: 0.1,
		ClickSeconds:   0.03,
		Velocity:       100,
		ClickVelocity:  70,
		AccentVelocity: 110,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MinBPM <= 0 {
		o.MinBPM = d.MinBPM
	}
	if o.MaxBPM <= 0 {
		o.MaxBPM = d.MaxBPM
	}
	if o.MaxRepeats <= 0 {
		o.MaxRepeats = d.MaxRepeats
	}
	if o.MinNoteSeconds <= 0 {
		o.MinNoteSeconds = d.MinNoteSeconds
	}
	if o.ClickSeconds <= 0 {
		o.ClickSeconds = d.ClickSeconds
	}
	if o.Velocity <= 0 {
		o.Velocity = d.Velocity
	}
	if o.ClickVelocity <= 0 {
		o.ClickVelocity = d.ClickVelocity
	}
	if o.AccentVelocity <= 0 {
		o.AccentVelocity = d.AccentVelocity
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Status is a consistent snapshot of the playback position.
type Status struct {
	// Active is true while playing or paused mid-tune.
	Active   bool
	Running  bool
	Pass     int
	Frame    int64
	Progress float64
	Beat     float64
	Seconds  float64
}

// Sequencer schedules one plan at a time on a transport. Every method,
// including Process, takes the same mutex, so a reschedule is never observed
// half done by the audio thread.
type Sequencer struct {
	mu       sync.Mutex
	engine   VoiceEngine
	tr       *transport.Transport
	opts     Options
	log      *slog.Logger
	tl       *timeline.Timeline
	params   Params
	plan     Plan
	endFrame int64
	pass     int
	active   bool
	voices   map[int]int // cue index -> engine voice id
	held     []int       // cues silenced by Pause
}

func New(engine VoiceEngine, sampleRate int, opts Options) *Sequencer {
	opts = opts.withDefaults()
	return &Sequencer{
		engine: engine,
		tr:     transport.New(sampleRate),
		opts:   opts,
		log:    opts.Logger,
		params: NormalizeParams(Params{BPM: 120, Repeats: 1}, opts),
		voices: make(map[int]int),
	}
}

func (s *Sequencer) SampleRate() int { return s.tr.SampleRate() }

// Load replaces the timeline. While active the current position is kept as
// a fraction of the new length.
func (s *Sequencer) Load(tl *timeline.Timeline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tl = tl
	s.rescheduleLocked("load")
}

// SetParams applies new playback settings, rescheduling in place while
// active. It returns the settings after clamping.
func (s *Sequencer) SetParams(p Params) Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = NormalizeParams(p, s.opts)
	s.rescheduleLocked("params")
	return s.params
}

func (s *Sequencer) Params() Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// Plan returns the plan currently scheduled (or to be scheduled on Start).
func (s *Sequencer) Plan() Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan
}

// Start begins playback from the top, or resumes from the paused position.
// It reports false when there is nothing to play.
func (s *Sequencer) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plan.Empty() {
		return false
	}
	if s.tr.Running() {
		return true
	}
	if !s.active {
		s.active = true
		s.pass = 0
		s.held = nil
		s.tr.Seek(0)
		s.commitLocked(0)
	}
	s.tr.Start()
	for _, idx := range s.held {
		s.noteOnLocked(idx)
	}
	s.held = nil
	return true
}

// Pause halts the clock and silences sounding notes. Pending events stay
// queued; Start resumes them and re-sounds the notes that were cut off.
func (s *Sequencer) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.tr.Running() {
		return
	}
	s.held = s.held[:0]
	for idx := range s.voices {
		s.held = append(s.held, idx)
	}
	slices.Sort(s.held)
	s.releaseVoicesLocked()
	s.tr.Pause()
}

// Stop ends playback and rewinds to the top.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Sequencer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Active:   s.active,
		Running:  s.tr.Running(),
		Pass:     s.pass,
		Frame:    s.tr.Frame(),
		Progress: s.progressLocked(),
		Seconds:  s.tr.Elapsed(),
	}
	if s.tl != nil {
		st.Beat = st.Progress * s.tl.TotalBeats
	}
	return st
}

// Progress returns the position within the current pass in [0, 1]. It is 0
// when stopped or when the timeline is empty.
func (s *Sequencer) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progressLocked()
}

// Duration returns the length of one pass in seconds.
func (s *Sequencer) Duration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan.Seconds
}

// Process renders interleaved stereo frames into dst, advancing the clock
// one frame at a time so events land on exact samples.
func (s *Sequencer) Process(dst []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	frames := len(dst) / 2
	for f := 0; f < frames; f++ {
		s.tr.Step()
		l, r := s.engine.RenderFrame()
		dst[f*2] = l
		dst[f*2+1] = r
	}
}

func (s *Sequencer) progressLocked() float64 {
	if !s.active || s.endFrame <= 0 {
		return 0
	}
	return min(1, max(0, float64(s.tr.Frame())/float64(s.endFrame)))
}

func (s *Sequencer) rebuildLocked() {
	s.plan = BuildPlan(s.tl, s.params, s.opts)
	s.endFrame = 0
	if !s.plan.Empty() {
		s.endFrame = max(1, s.tr.FrameOf(s.plan.Seconds))
	}
}

func (s *Sequencer) rescheduleLocked(reason string) {
	frac := s.progressLocked()
	s.releaseVoicesLocked()
	dropped := s.tr.CancelAll()
	s.rebuildLocked()
	if !s.active {
		return
	}
	if s.plan.Empty() {
		s.log.Debug("reschedule left nothing to play", "reason", reason)
		s.stopLocked()
		return
	}
	from := int64(math.Round(frac * float64(s.endFrame)))
	s.held = nil
	s.tr.Seek(from)
	s.commitLocked(from)
	s.log.Debug("rescheduled in place",
		"reason", reason, "progress", frac, "dropped", dropped, "pending", s.tr.Pending(), "bpm", s.plan.BPM)
}

// commitLocked registers the plan's cues from frame on. Notes already
// sounding at from restart there with their remaining length.
func (s *Sequencer) commitLocked(from int64) {
	minFrames := max(1, s.tr.FrameOf(s.opts.MinNoteSeconds))
	for i := range s.plan.Cues {
		c := &s.plan.Cues[i]
		if c.Kind == CueEnd {
			s.tr.At(max(from, s.endFrame), s.finishPassLocked)
			continue
		}
		on := s.tr.FrameOf(c.At)
		off := on + max(1, s.tr.FrameOf(c.Duration))
		if on < from {
			if c.Kind == CueClick || off <= from {
				continue
			}
			on = from
			off = max(off, from+minFrames)
		}
		idx := i
		s.tr.At(on, func() { s.noteOnLocked(idx) })
		s.tr.At(off, func() { s.noteOffLocked(idx) })
	}
}

func (s *Sequencer) noteOnLocked(idx int) {
	c := s.plan.Cues[idx]
	if c.Note < 0 {
		return
	}
	program, vel, kind := ProgramMelody, s.opts.Velocity, EventNote
	if c.Kind == CueClick {
		program, vel, kind = ProgramClick, s.opts.ClickVelocity, EventClick
		if c.Downbeat {
			vel = s.opts.AccentVelocity
		}
	}
	if id, ok := s.voices[idx]; ok {
		s.engine.NoteOff(id)
	}
	s.voices[idx] = s.engine.NoteOn(c.Note, vel, 0, program)
	if s.opts.OnNote != nil {
		s.opts.OnNote(NoteEvent{
			Kind:     kind,
			Pass:     s.pass,
			Entry:    c.Entry,
			Pitch:    c.Pitch,
			Note:     c.Note,
			Beat:     c.Beat,
			Downbeat: c.Downbeat,
		})
	}
}

func (s *Sequencer) noteOffLocked(idx int) {
	if id, ok := s.voices[idx]; ok {
		s.engine.NoteOff(id)
		delete(s.voices, idx)
	}
}

func (s *Sequencer) releaseVoicesLocked() {
	for idx, id := range s.voices {
		s.engine.NoteOff(id)
		delete(s.voices, idx)
	}
}

// finishPassLocked runs at the end cue: start the next pass from the top or
// stop.
func (s *Sequencer) finishPassLocked() {
	s.releaseVoicesLocked()
	s.tr.CancelAll()
	s.pass++
	if s.params.Loop || s.pass < s.params.Repeats {
		s.emit(EventLoopCompleted)
		s.tr.Seek(0)
		s.commitLocked(0)
		return
	}
	s.stopLocked()
	s.emit(EventPlaybackEnded)
}

func (s *Sequencer) stopLocked() {
	s.releaseVoicesLocked()
	s.tr.CancelAll()
	s.tr.Pause()
	s.tr.Seek(0)
	s.active = false
	s.pass = 0
	s.held = nil
}

func (s *Sequencer) emit(kind EventKind) {
	if s.opts.OnEvent != nil {
		s.opts.OnEvent(kind)
	}
}
