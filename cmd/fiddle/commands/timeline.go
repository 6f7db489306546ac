package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cbegin/fiddle-go"
	"github.com/cbegin/fiddle-go/internal/sequencer"
	"github.com/cbegin/fiddle-go/internal/timeline"
)

var (
	timelineFlags  playbackFlags
	timelineLayout string
	timelineNotes  bool
)

var timelineCmd = &cobra.Command{
	Use:   "timeline <tune.yaml>",
	Short: "Print the performance timeline of a tune",
	Long: `Print how a tune's sections and repeats lay out in beats and seconds,
including pickups dropped on repeat passes. With --notes every sounding note
is listed with the marker it highlights.`,
	Args: cobra.ExactArgs(1),
	RunE: runTimeline,
}

func init() {
	timelineFlags.register(timelineCmd)
	timelineCmd.Flags().StringVar(&timelineLayout, "layout", "performance", "marker layout: performance|notated")
	timelineCmd.Flags().BoolVarP(&timelineNotes, "notes", "n", false, "list every note")
}

func runTimeline(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	t, err := fiddle.LoadTune(args[0])
	if err != nil {
		return err
	}
	subset, err := timelineFlags.subset()
	if err != nil {
		return err
	}
	layout, err := fiddle.ParseLayout(timelineLayout)
	if err != nil {
		return err
	}

	tl := timeline.Build(t.Select(subset), t.BeatsPerMeasure())
	units := timeline.Group(tl, layout)
	plan := sequencer.BuildPlan(tl, timelineFlags.params(t), cfg.SequencerOptions())

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s  %s\n", titleStyle.Render(t.Title), dimStyle.Render(fmt.Sprintf(
		"%s  %d beats/measure  part %s", t.TimeSignature, tl.BeatsPerMeasure, subset)))
	for _, p := range tl.Passes {
		line := fmt.Sprintf("  %-4s pass %d  beats %6.2f - %6.2f", p.Name, p.Pass+1, p.Start, p.End)
		if p.Skipped > 0 {
			line += dimStyle.Render(fmt.Sprintf("  (pickup %.2f dropped)", p.Skipped))
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(out, "%s %.2f beats, %s at %.0f bpm, %d notes, %d markers (%s)\n",
		labelStyle.Render("total"), tl.TotalBeats, clock(seconds(plan.Seconds)), plan.BPM,
		len(tl.Entries), timeline.MarkerCount(units), layout)

	if !timelineNotes {
		return nil
	}
	marker := make([]int, len(tl.Entries))
	for _, u := range units {
		for e := u.First; e <= u.Last; e++ {
			marker[e] = u.Index
		}
	}
	for _, c := range plan.Cues {
		if c.Kind != sequencer.CueNote {
			continue
		}
		e := tl.Entries[c.Entry]
		fmt.Fprintf(out, "  %7.2f  %8.3fs  %-4s %-4s marker %d\n", c.Beat, c.At, e.Pitch, c.Pitch, marker[c.Entry])
	}
	return nil
}
