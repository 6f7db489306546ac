package sequencer

import (
	"sync"
)

// Mixer routes notes to VoiceEngines by program and sums their output. The
// metronome usually gets its own engine so its level is independent of the
// melody.
type Mixer struct {
	mu       sync.Mutex
	engines  map[int]VoiceEngine
	order    []int
	list     []VoiceEngine
	fallback int
}

// NewMixer creates a Mixer whose unrouted programs go to fallback.
func NewMixer(fallback VoiceEngine) *Mixer {
	m := &Mixer{engines: make(map[int]VoiceEngine), fallback: -1}
	if fallback != nil {
		m.Route(m.fallback, fallback)
	}
	return m
}

// Route sends NoteOn calls for program to engine.
func (m *Mixer) Route(program int, engine VoiceEngine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.engines[program]; !ok {
		m.order = append(m.order, program)
	}
	m.engines[program] = engine
	list := make([]VoiceEngine, 0, len(m.order))
	seen := make(map[VoiceEngine]bool, len(m.order))
	for _, p := range m.order {
		if e := m.engines[p]; !seen[e] {
			seen[e] = true
			list = append(list, e)
		}
	}
	m.list = list
}

func (m *Mixer) engineFor(program int) (int, VoiceEngine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.engines[program]; ok {
		return program, e
	}
	return m.fallback, m.engines[m.fallback]
}

func (m *Mixer) all() []VoiceEngine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list
}

// encodeVoiceID packs the route slot and the engine's voice id into one int.
func encodeVoiceID(slot int, localID int) int {
	return (slot << 24) | (localID & 0xFFFFFF)
}

func decodeVoiceID(id int) (slot int, localID int) {
	return id >> 24, id & 0xFFFFFF
}

func (m *Mixer) slotOf(route int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.order {
		if p == route {
			return i
		}
	}
	return -1
}

func (m *Mixer) NoteOn(note int, velocity int, pan int, program int) int {
	route, e := m.engineFor(program)
	if e == nil {
		return -1
	}
	localID := e.NoteOn(note, velocity, pan, program)
	return encodeVoiceID(m.slotOf(route), localID)
}

func (m *Mixer) NoteOff(id int) {
	if id < 0 {
		return
	}
	slot, localID := decodeVoiceID(id)
	m.mu.Lock()
	var e VoiceEngine
	if slot >= 0 && slot < len(m.order) {
		e = m.engines[m.order[slot]]
	}
	m.mu.Unlock()
	if e != nil {
		e.NoteOff(localID)
	}
}

func (m *Mixer) RenderFrame() (float32, float32) {
	var l, r float32
	for _, e := range m.all() {
		el, er := e.RenderFrame()
		l += el
		r += er
	}
	return l, r
}

func (m *Mixer) SetMasterGain(gain float64) {
	for _, e := range m.all() {
		e.SetMasterGain(gain)
	}
}

func (m *Mixer) ActiveVoiceCount() int {
	n := 0
	for _, e := range m.all() {
		n += e.ActiveVoiceCount()
	}
	return n
}
