// Package transport is a sample-frame clock with a queue of cancelable
// callbacks keyed by frame. It is not safe for concurrent use; the owner
// serializes access (the sequencer holds its mutex around every call,
// including Step from the audio thread).
package transport

import (
	"container/heap"
	"math"
)

// Handle identifies a scheduled callback. The zero Handle is never issued.
type Handle uint64

type event struct {
	frame int64
	seq   uint64
	h     Handle
	fn    func()
	index int
}

type queue []*event

func (q queue) Len() int { return len(q) }
func (q queue) Less(i, j int) bool {
	if q[i].frame != q[j].frame {
		return q[i].frame < q[j].frame
	}
	return q[i].seq < q[j].seq
}
func (q queue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *queue) Push(x any) {
	e := x.(*event)
	e.index = len(*q)
	*q = append(*q, e)
}
func (q *queue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

type Transport struct {
	sampleRate int
	frame      int64
	running    bool
	seq        uint64
	q          queue
	byHandle   map[Handle]*event
}

func New(sampleRate int) *Transport {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	return &Transport{sampleRate: sampleRate, byHandle: make(map[Handle]*event)}
}

func (t *Transport) SampleRate() int { return t.sampleRate }

// FrameOf converts seconds to the nearest frame.
func (t *Transport) FrameOf(seconds float64) int64 {
	return int64(math.Round(seconds * float64(t.sampleRate)))
}

// SecondsOf converts a frame to seconds.
func (t *Transport) SecondsOf(frame int64) float64 {
	return float64(frame) / float64(t.sampleRate)
}

// At schedules fn to run when the clock reaches frame. Events at the same
// frame run in registration order. A frame already behind the clock runs on
// the next Step.
func (t *Transport) At(frame int64, fn func()) Handle {
	t.seq++
	e := &event{frame: frame, seq: t.seq, h: Handle(t.seq), fn: fn}
	heap.Push(&t.q, e)
	t.byHandle[e.h] = e
	return e.h
}

// Cancel removes a pending event. It reports false if the event already
// fired or was cancelled.
func (t *Transport) Cancel(h Handle) bool {
	e, ok := t.byHandle[h]
	if !ok {
		return false
	}
	delete(t.byHandle, h)
	if e.index >= 0 {
		heap.Remove(&t.q, e.index)
	}
	return true
}

// CancelAll drops every pending event and returns how many were dropped.
func (t *Transport) CancelAll() int {
	n := len(t.byHandle)
	for i := range t.q {
		t.q[i].index = -1
		t.q[i] = nil
	}
	t.q = t.q[:0]
	clear(t.byHandle)
	return n
}

// Pending returns the number of events not yet fired.
func (t *Transport) Pending() int { return len(t.byHandle) }

func (t *Transport) Start()        { t.running = true }
func (t *Transport) Pause()        { t.running = false }
func (t *Transport) Running() bool { return t.running }

// Seek moves the clock. Pending events keep their frames; callers usually
// CancelAll first and reschedule from the new position.
func (t *Transport) Seek(frame int64) {
	if frame < 0 {
		frame = 0
	}
	t.frame = frame
}

func (t *Transport) Frame() int64 { return t.frame }

// Elapsed returns the clock position in seconds.
func (t *Transport) Elapsed() float64 { return t.SecondsOf(t.frame) }

// Step fires every event due at the current frame and then advances the
// clock by one frame. Callbacks may schedule, cancel, seek or pause; if a
// callback seeks, the clock stays where it was put. Step does nothing while
// paused.
func (t *Transport) Step() {
	if !t.running {
		return
	}
	start := t.frame
	for len(t.q) > 0 && t.q[0].frame <= t.frame {
		e := heap.Pop(&t.q).(*event)
		delete(t.byHandle, e.h)
		e.fn()
		if t.frame != start || !t.running {
			return
		}
	}
	t.frame++
}

// Advance runs Step n times.
func (t *Transport) Advance(n int) {
	for i := 0; i < n; i++ {
		t.Step()
	}
}
