// Package tune holds the melody data model handed over by the notation
// parser: a tune is a list of named sections, each a run of pitched notes
// timed in beats from the section start.
package tune

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Note struct {
	Pitch     string  `yaml:"pitch" json:"pitch"`
	Duration  float64 `yaml:"duration" json:"duration"`
	StartTime float64 `yaml:"start_time" json:"start_time"`
}

// End returns StartTime + Duration.
func (n Note) End() float64 { return n.StartTime + n.Duration }

type Section struct {
	Name         string `yaml:"name" json:"name"`
	StartMeasure int    `yaml:"start_measure" json:"start_measure"`
	EndMeasure   int    `yaml:"end_measure" json:"end_measure"`
	Notes        []Note `yaml:"notes" json:"notes"`
	Repeat       int    `yaml:"repeat" json:"repeat"`
}

// Beats returns the section length: the latest note end, or 0 when empty.
func (s Section) Beats() float64 {
	var beats float64
	for _, n := range s.Notes {
		if end := n.End(); end > beats {
			beats = end
		}
	}
	return beats
}

// Repeats returns Repeat clamped to at least 1.
func (s Section) Repeats() int {
	if s.Repeat < 1 {
		return 1
	}
	return s.Repeat
}

type Tune struct {
	ID            string    `yaml:"id" json:"id"`
	Title         string    `yaml:"title" json:"title"`
	Key           string    `yaml:"key" json:"key"`
	TimeSignature string    `yaml:"time_signature" json:"time_signature"`
	DefaultTempo  int       `yaml:"default_tempo" json:"default_tempo"`
	Sections      []Section `yaml:"sections" json:"sections"`
}

// ParseTimeSignature reads "N/D". "C" is common time and "C|" cut time.
// Anything unreadable falls back to 4/4.
func ParseTimeSignature(sig string) (num, den int) {
	sig = strings.TrimSpace(sig)
	switch sig {
	case "C":
		return 4, 4
	case "C|":
		return 2, 2
	}
	n, d, ok := strings.Cut(sig, "/")
	if !ok {
		return 4, 4
	}
	num, err1 := strconv.Atoi(strings.TrimSpace(n))
	den, err2 := strconv.Atoi(strings.TrimSpace(d))
	if err1 != nil || err2 != nil || num <= 0 || den <= 0 {
		return 4, 4
	}
	return num, den
}

// BeatsPerMeasure is the time-signature numerator. The denominator is
// ignored, so 6/8 counts six beats per measure.
func (t *Tune) BeatsPerMeasure() int {
	num, _ := ParseTimeSignature(t.TimeSignature)
	return num
}

// NoteCount returns the number of notated notes across all sections.
func (t *Tune) NoteCount() int {
	n := 0
	for _, s := range t.Sections {
		n += len(s.Notes)
	}
	return n
}

// Subset selects which sections take part in playback.
type Subset string

const (
	SubsetFull Subset = "full"
	SubsetA    Subset = "A"
	SubsetB    Subset = "B"
)

func ParseSubset(s string) (Subset, error) {
	switch strings.TrimSpace(s) {
	case "", "full", "FULL", "Full":
		return SubsetFull, nil
	case "A", "a":
		return SubsetA, nil
	case "B", "b":
		return SubsetB, nil
	default:
		return "", fmt.Errorf("invalid section subset %q (expected full|A|B)", s)
	}
}

// Select returns the sections played for the subset. Partial subsets match
// sections by name; a subset with no matching section yields nothing.
func (t *Tune) Select(sub Subset) []Section {
	if sub == SubsetFull || sub == "" {
		return t.Sections
	}
	var out []Section
	for _, s := range t.Sections {
		if s.Name == string(sub) {
			out = append(out, s)
		}
	}
	return out
}

var ErrNoSections = errors.New("tune has no sections")

// Validate reports structural problems. Playback tolerates all of them; the
// result is advisory.
func (t *Tune) Validate() error {
	if len(t.Sections) == 0 {
		return ErrNoSections
	}
	var errs []error
	for si, s := range t.Sections {
		prev := 0.0
		for ni, n := range s.Notes {
			if n.Duration <= 0 {
				errs = append(errs, fmt.Errorf("section %d (%s) note %d: non-positive duration %v", si, s.Name, ni, n.Duration))
			}
			if n.StartTime < 0 {
				errs = append(errs, fmt.Errorf("section %d (%s) note %d: negative start %v", si, s.Name, ni, n.StartTime))
			}
			if ni > 0 && n.StartTime < prev {
				errs = append(errs, fmt.Errorf("section %d (%s) note %d: start %v before previous note", si, s.Name, ni, n.StartTime))
			}
			prev = n.StartTime
		}
	}
	return errors.Join(errs...)
}
