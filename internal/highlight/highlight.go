// Package highlight maps a playback progress fraction back to the score
// marker that should be lit.
package highlight

import (
	"sort"

	"github.com/cbegin/fiddle-go/internal/timeline"
	"github.com/cbegin/fiddle-go/internal/util"
)

// Index returns the marker index sounding at progress (0..1), or -1 when
// there is nothing to highlight. offsetBeats moves the lookup earlier
// (positive) or later (negative) to absorb output latency. The result is
// clamped to the marker count so a renderer that produced a different number
// of markers degrades to an imprecise highlight instead of a bad index.
//
// Index is pure; callers diff against the previous value.
func Index(tl *timeline.Timeline, units []timeline.VisualUnit, progress, offsetBeats float64, markers int) int {
	if tl.Empty() || len(units) == 0 || markers <= 0 {
		return -1
	}
	progress = util.Clamp(progress, 0, 1)
	beat := max(0, progress*tl.TotalBeats-offsetBeats)

	// Units are sorted by start but may overlap (double stops). Prefer the
	// latest-starting unit that contains beat; otherwise fall back to the last
	// unit starting at or before it.
	i := sort.Search(len(units), func(i int) bool { return units[i].Start > beat }) - 1
	if i < 0 {
		return util.Clamp(units[0].Index, 0, markers-1)
	}
	for j := i; j >= 0; j-- {
		if Contains(units[j], beat) {
			return util.Clamp(units[j].Index, 0, markers-1)
		}
	}
	return util.Clamp(units[i].Index, 0, markers-1)
}

// Contains reports whether beat lies within the unit's [Start, End) span.
func Contains(u timeline.VisualUnit, beat float64) bool {
	return beat >= u.Start && beat < u.End
}
