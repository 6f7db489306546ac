// Package pitch implements note-name algebra: parsing names such as "F#4" or
// "Bb3", shifting them by semitones and octaves, and converting to MIDI
// numbers and frequencies.
package pitch

import (
	"math"
	"strconv"
)

var letterValues = map[byte]int{
	'C': 0, 'D': 2, 'E': 4, 'F': 5, 'G': 7, 'A': 9, 'B': 11,
}

// sharpNames is the fixed spelling used when rendering a semitone class.
// Flat input comes back respelled as sharp.
var sharpNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Pitch is a parsed note name.
type Pitch struct {
	Letter     byte
	Accidental int // -1 flat, 0 natural, +1 sharp
	Octave     int
}

// Parse reads <letter A-G><accidental # | b | -><octave digits>.
// A literal "-" is accepted as a flat.
func Parse(s string) (Pitch, bool) {
	if len(s) < 2 {
		return Pitch{}, false
	}
	if _, ok := letterValues[s[0]]; !ok {
		return Pitch{}, false
	}
	p := Pitch{Letter: s[0]}
	i := 1
	switch s[i] {
	case '#':
		p.Accidental = 1
		i++
	case 'b', '-':
		p.Accidental = -1
		i++
	}
	if i >= len(s) {
		return Pitch{}, false
	}
	for j := i; j < len(s); j++ {
		if s[j] < '0' || s[j] > '9' {
			return Pitch{}, false
		}
	}
	oct, err := strconv.Atoi(s[i:])
	if err != nil {
		return Pitch{}, false
	}
	p.Octave = oct
	return p, true
}

// Value returns letter + accidental + 12*octave.
func (p Pitch) Value() int {
	return letterValues[p.Letter] + p.Accidental + 12*p.Octave
}

// String renders the pitch in the canonical sharp spelling.
func (p Pitch) String() string {
	return fromValue(p.Value())
}

func fromValue(v int) string {
	class := v % 12
	octave := v / 12
	if class < 0 {
		class += 12
		octave--
	}
	return sharpNames[class] + strconv.Itoa(octave)
}

// Transpose shifts pitch by semitones + 12*octaves. Input that does not match
// the note-name grammar is returned unchanged, and so is input whose shift
// would land below octave 0: a negative octave has no spelling, and "B-1"
// would read back as B-flat 1.
func Transpose(pitch string, semitones, octaves int) string {
	p, ok := Parse(pitch)
	if !ok {
		return pitch
	}
	v := p.Value() + semitones + 12*octaves
	if v < 0 {
		return pitch
	}
	return fromValue(v)
}

// MIDI returns the MIDI note number for a note name (C4 = 60).
func MIDI(pitch string) (int, bool) {
	p, ok := Parse(pitch)
	if !ok {
		return 0, false
	}
	return p.Value() + 12, true
}

// Frequency converts a MIDI note number to Hz with A4 = 440.
func Frequency(note int) float64 {
	return 440 * math.Pow(2, float64(note-69)/12)
}
