// Package risk estimates how likely a tune is to lose highlight sync:
// notation features that make the rendered score's note markers disagree
// with the playback timeline.
package risk

import (
	"fmt"
	"math"
	"strings"

	"github.com/cbegin/fiddle-go/internal/timeline"
	"github.com/cbegin/fiddle-go/internal/tune"
	"github.com/cbegin/fiddle-go/internal/util"
)

type Level int

const (
	Low Level = iota
	Medium
	High
)

func (l Level) String() string {
	switch l {
	case Low:
		return "LOW"
	case Medium:
		return "MEDIUM"
	case High:
		return "HIGH"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

type Factor struct {
	Name        string
	Level       Level
	Description string
}

type Assessment struct {
	Path    string
	Title   string
	Overall Level
	Factors []Factor
	// TieAdjust is parsed notes minus visual notes after tie merging.
	TieAdjust int
}

// graceBeats is the longest note treated as an ornament.
const graceBeats = 0.125

// Assess scores a tune.
func Assess(t *tune.Tune) Assessment {
	a := Assessment{Title: t.Title}
	a.Factors = append(a.Factors,
		timeSignatureFactor(t.TimeSignature),
		sectionFactor(t.Sections),
		pickupFactor(t),
		complexityFactor(t.Sections),
	)
	if chords := overlapping(t.Sections); chords > 0 {
		a.Factors = append(a.Factors, Factor{"Chords", High,
			fmt.Sprintf("%d overlapping notes; marker count may mismatch", chords)})
	}
	if grace := shortNotes(t.Sections); grace > 0 {
		a.Factors = append(a.Factors, Factor{"Grace Notes", Medium,
			fmt.Sprintf("%d notes shorter than %g beat", grace, graceBeats)})
	}
	parsed, visual := noteCounts(t)
	if parsed != visual {
		a.TieAdjust = parsed - visual
		a.Factors = append(a.Factors, Factor{"Tie Adjustment", Low,
			fmt.Sprintf("%d parsed notes, %d after tie merging", parsed, visual)})
	}
	a.Overall = Overall(a.Factors)
	return a
}

// Overall is HIGH with two or more high factors, MEDIUM with one high or
// three medium, and LOW otherwise.
func Overall(factors []Factor) Level {
	var high, medium int
	for _, f := range factors {
		switch f.Level {
		case High:
			high++
		case Medium:
			medium++
		}
	}
	switch {
	case high >= 2:
		return High
	case high == 1 || medium >= 3:
		return Medium
	default:
		return Low
	}
}

func timeSignatureFactor(sig string) Factor {
	if sig == "" {
		sig = "4/4"
	}
	switch strings.TrimSpace(sig) {
	case "4/4", "C":
		return Factor{"Time Signature", Low, sig + " - standard reel time"}
	case "3/4":
		return Factor{"Time Signature", Medium, sig + " - waltz time, pickup detection may differ"}
	default:
		return Factor{"Time Signature", High, sig + " - non-standard, pickup logic may fail"}
	}
}

func sectionFactor(sections []tune.Section) Factor {
	if len(sections) == 0 {
		return Factor{"Sections", High, "No sections"}
	}
	names := make([]string, len(sections))
	repeats := make([]int, len(sections))
	repeated := false
	for i, s := range sections {
		names[i] = s.Name
		repeats[i] = s.Repeats()
		repeated = repeated || repeats[i] > 1
	}
	if !repeated {
		return Factor{"Sections", Medium, fmt.Sprintf("Sections %v all play once", names)}
	}
	return Factor{"Sections", Low, fmt.Sprintf("Sections %v with repeats %v", names, repeats)}
}

func pickupFactor(t *tune.Tune) Factor {
	bpm := t.BeatsPerMeasure()
	var with []string
	notes := 0
	for _, s := range t.Sections {
		notes += len(s.Notes)
		if p, ok := timeline.Pickup(s.Beats(), bpm); ok {
			with = append(with, fmt.Sprintf("%s (%g beats)", s.Name, p))
		}
	}
	switch {
	case notes == 0:
		return Factor{"Pickup Notes", High, "Cannot detect bar structure"}
	case len(with) > 0:
		return Factor{"Pickup Notes", Medium, "Pickup in " + strings.Join(with, ", ")}
	default:
		return Factor{"Pickup Notes", Low, "Starts on full bar - no pickup timing issues"}
	}
}

func complexityFactor(sections []tune.Section) Factor {
	var ties, dotted, triplets bool
	for _, s := range sections {
		for i, n := range s.Notes {
			if i > 0 {
				prev := s.Notes[i-1]
				if prev.Pitch == n.Pitch && util.NearlyEqual(prev.End(), n.StartTime, timeline.TieTolerance) {
					ties = true
				}
			}
			switch {
			case isDotted(n.Duration):
				dotted = true
			case isTriplet(n.Duration):
				triplets = true
			}
		}
	}
	var issues []string
	if ties {
		issues = append(issues, "ties")
	}
	if dotted {
		issues = append(issues, "dotted rhythms")
	}
	if triplets {
		issues = append(issues, "triplets")
	}
	switch len(issues) {
	case 0:
		return Factor{"Note Complexity", Low, "Simple note durations"}
	case 1:
		return Factor{"Note Complexity", Medium, "Contains: " + issues[0]}
	default:
		return Factor{"Note Complexity", High, "Contains: " + strings.Join(issues, ", ")}
	}
}

// isDotted reports durations of 1.5 times a power of two.
func isDotted(d float64) bool {
	if d <= 0 {
		return false
	}
	return isPowerOfTwo(d / 1.5)
}

// isTriplet reports durations of two thirds of a power of two.
func isTriplet(d float64) bool {
	if d <= 0 || isPowerOfTwo(d) {
		return false
	}
	return isPowerOfTwo(d * 1.5)
}

func isPowerOfTwo(v float64) bool {
	e := math.Log2(v)
	return util.NearlyEqual(e, math.Round(e), 1e-6)
}

func overlapping(sections []tune.Section) int {
	n := 0
	for _, s := range sections {
		for i := 1; i < len(s.Notes); i++ {
			if s.Notes[i].StartTime < s.Notes[i-1].End()-timeline.TieTolerance {
				n++
			}
		}
	}
	return n
}

func shortNotes(sections []tune.Section) int {
	n := 0
	for _, s := range sections {
		for _, note := range s.Notes {
			if note.Duration > 0 && note.Duration < graceBeats {
				n++
			}
		}
	}
	return n
}

// noteCounts compares the notated note count with the tie-merged count for
// a single pass through every section.
func noteCounts(t *tune.Tune) (parsed, visual int) {
	once := make([]tune.Section, len(t.Sections))
	for i, s := range t.Sections {
		s.Repeat = 1
		once[i] = s
	}
	tl := timeline.Build(once, t.BeatsPerMeasure())
	return len(tl.Entries), len(timeline.Group(tl, timeline.LayoutPerformance))
}
