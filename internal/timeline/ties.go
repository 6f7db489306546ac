package timeline

import "github.com/cbegin/fiddle-go/internal/util"

// TieTolerance is the largest gap, in beats, still treated as a tie.
const TieTolerance = 0.01

// Layout describes how the rendered score's note markers line up with the
// performance.
type Layout int

const (
	// LayoutPerformance expects one marker per visual unit of the whole
	// performance, repeats written out.
	LayoutPerformance Layout = iota
	// LayoutNotated expects markers for the notated music only; repeat
	// passes reuse the markers of the first pass.
	LayoutNotated
)

func (l Layout) String() string {
	if l == LayoutNotated {
		return "notated"
	}
	return "performance"
}

// VisualUnit is a run of tied entries highlighted as one note.
type VisualUnit struct {
	// Index is the marker index this unit highlights.
	Index int
	Start float64
	End   float64
	// First and Last are entry indices into Timeline.Entries.
	First int
	Last  int
}

// Group merges consecutive entries of the same pitch whose start meets the
// previous end. Merging never crosses a section pass.
func Group(tl *Timeline, layout Layout) []VisualUnit {
	if tl.Empty() {
		return nil
	}
	var units []VisualUnit
	for i, e := range tl.Entries {
		if n := len(units); n > 0 {
			last := &units[n-1]
			prev := tl.Entries[last.Last]
			if prev.Section == e.Section && prev.Pass == e.Pass && prev.Pitch == e.Pitch &&
				util.NearlyEqual(e.Start, prev.End, TieTolerance) {
				last.Last = i
				last.End = e.End
				continue
			}
		}
		units = append(units, VisualUnit{Index: len(units), Start: e.Start, End: e.End, First: i, Last: i})
	}
	if layout == LayoutNotated {
		renumberNotated(tl, units)
	}
	return units
}

type noteKey struct{ section, note int }

// renumberNotated points every unit at the first-pass unit holding the same
// notated note. Units of a section's first pass get consecutive indices.
func renumberNotated(tl *Timeline, units []VisualUnit) {
	notated := make(map[noteKey]int)
	next := 0
	for i := range units {
		u := &units[i]
		if tl.Entries[u.First].Pass != 0 {
			continue
		}
		u.Index = next
		for e := u.First; e <= u.Last; e++ {
			notated[noteKey{tl.Entries[e].Section, tl.Entries[e].Note}] = next
		}
		next++
	}
	prev := 0
	for i := range units {
		u := &units[i]
		if tl.Entries[u.First].Pass == 0 {
			prev = u.Index
			continue
		}
		u.Index = prev
		for e := u.First; e <= u.Last; e++ {
			if idx, ok := notated[noteKey{tl.Entries[e].Section, tl.Entries[e].Note}]; ok {
				u.Index = idx
				break
			}
		}
		prev = u.Index
	}
}

// MarkerCount is the number of distinct markers the units refer to.
func MarkerCount(units []VisualUnit) int {
	n := 0
	for _, u := range units {
		if u.Index+1 > n {
			n = u.Index + 1
		}
	}
	return n
}
