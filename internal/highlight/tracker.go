package highlight

import (
	"log/slog"

	"github.com/cbegin/fiddle-go/internal/timeline"
)

// Tracker holds the highlighted marker between progress samples. It only
// reports a change when the mapped index moves.
type Tracker struct {
	tl      *timeline.Timeline
	units   []timeline.VisualUnit
	markers int
	offset  float64
	current int
	log     *slog.Logger
}

func NewTracker(tl *timeline.Timeline, units []timeline.VisualUnit, markers int, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{tl: tl, units: units, markers: markers, current: -1, log: log}
}

// Rebind points the tracker at a new timeline or marker count. The current
// highlight is kept so the next Update only reports a real move.
func (t *Tracker) Rebind(tl *timeline.Timeline, units []timeline.VisualUnit, markers int) {
	t.tl, t.units, t.markers = tl, units, markers
}

// CheckMarkers reports whether markers agrees with the units' marker count
// and logs a warning when it does not.
func CheckMarkers(units []timeline.VisualUnit, markers int, log *slog.Logger) bool {
	want := timeline.MarkerCount(units)
	if markers == want {
		return true
	}
	if log == nil {
		log = slog.Default()
	}
	log.Warn("visual marker count mismatch; highlight may drift", "markers", markers, "expected", want)
	return false
}

// SetOffset sets the lead/lag correction in beats.
func (t *Tracker) SetOffset(beats float64) { t.offset = beats }

// Current returns the highlighted marker, or -1 when inactive.
func (t *Tracker) Current() int { return t.current }

// Active reports whether a marker is lit.
func (t *Tracker) Active() bool { return t.current >= 0 }

// Update samples progress. A stopped transport (not playing, progress 0)
// clears the highlight.
func (t *Tracker) Update(progress float64, playing bool) (int, bool) {
	next := -1
	if playing || progress > 0 {
		next = Index(t.tl, t.units, progress, t.offset, t.markers)
	}
	if next == t.current {
		return t.current, false
	}
	t.log.Debug("highlight moved", "from", t.current, "to", next, "progress", progress)
	t.current = next
	return next, true
}

// Clear drops the highlight.
func (t *Tracker) Clear() bool {
	changed := t.current != -1
	t.current = -1
	return changed
}
