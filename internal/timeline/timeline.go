// Package timeline flattens a tune's sections and section repeats into the
// ordered list of note soundings that playback will produce. The same
// Timeline drives audio scheduling, highlight mapping and MIDI export, so
// beat positions and total length agree everywhere.
package timeline

import (
	"math"
	"sort"

	"github.com/cbegin/fiddle-go/internal/tune"
)

// Entry is one sounding of a note, in beats from the start of the performance.
type Entry struct {
	Section int
	Note    int
	Pass    int
	Pitch   string
	Start   float64
	End     float64
}

// Pass is the span covered by one performance of a section.
type Pass struct {
	Section int
	Name    string
	Pass    int
	Start   float64
	End     float64
	// Skipped is the pickup length dropped from this pass (0 on the first pass).
	Skipped float64
}

type Timeline struct {
	Entries         []Entry
	Passes          []Pass
	TotalBeats      float64
	BeatsPerMeasure int
}

// Pickup returns the partial-measure length at the start of a section and
// whether the section has one.
func Pickup(sectionBeats float64, beatsPerMeasure int) (float64, bool) {
	if beatsPerMeasure <= 0 || sectionBeats <= 0 {
		return 0, false
	}
	pickup := math.Mod(sectionBeats, float64(beatsPerMeasure))
	return pickup, pickup > 0 && pickup < float64(beatsPerMeasure)
}

// Build lays the sections out in order. On repeat passes of a section with a
// pickup, notes starting inside the pickup are dropped and the rest shift
// left by the pickup length.
func Build(sections []tune.Section, beatsPerMeasure int) *Timeline {
	tl := &Timeline{BeatsPerMeasure: beatsPerMeasure}
	offset := 0.0
	for si, sec := range sections {
		sectionBeats := sec.Beats()
		pickup, hasPickup := Pickup(sectionBeats, beatsPerMeasure)
		for rep := 0; rep < sec.Repeats(); rep++ {
			skip := 0.0
			if rep > 0 && hasPickup {
				skip = pickup
			}
			for ni, n := range sec.Notes {
				if n.StartTime < skip {
					continue
				}
				start := offset + (n.StartTime - skip)
				tl.Entries = append(tl.Entries, Entry{
					Section: si,
					Note:    ni,
					Pass:    rep,
					Pitch:   n.Pitch,
					Start:   start,
					End:     start + n.Duration,
				})
			}
			advance := sectionBeats
			if rep > 0 {
				advance = sectionBeats - skip
			}
			tl.Passes = append(tl.Passes, Pass{
				Section: si,
				Name:    sec.Name,
				Pass:    rep,
				Start:   offset,
				End:     offset + advance,
				Skipped: skip,
			})
			offset += advance
		}
	}
	tl.TotalBeats = offset
	return tl
}

// Empty reports whether nothing will sound.
func (tl *Timeline) Empty() bool {
	return tl == nil || len(tl.Entries) == 0
}

// PassAt finds the section pass containing beat and the beat offset into it.
func (tl *Timeline) PassAt(beat float64) (Pass, float64, bool) {
	if tl == nil || len(tl.Passes) == 0 || beat < 0 || beat >= tl.TotalBeats {
		return Pass{}, 0, false
	}
	i := sort.Search(len(tl.Passes), func(i int) bool { return tl.Passes[i].End > beat })
	if i == len(tl.Passes) {
		return Pass{}, 0, false
	}
	p := tl.Passes[i]
	return p, beat - p.Start, true
}
