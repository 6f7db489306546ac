package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"

	"github.com/spf13/cobra"

	"github.com/cbegin/fiddle-go/internal/risk"
)

var (
	riskWorkers int
	riskVerbose bool
)

var riskCmd = &cobra.Command{
	Use:   "risk <tune.yaml|dir>...",
	Short: "Assess tunes for highlight-sync risk",
	Long: `Score tunes for notation features that make a score display's note
markers drift from playback: odd meters, repeats, pickups, ties, tuplets,
chords and grace notes. Directories are searched for .yaml, .yml and .json
files.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRisk,
}

func init() {
	riskCmd.Flags().IntVarP(&riskWorkers, "workers", "w", runtime.NumCPU(), "files assessed in parallel")
	riskCmd.Flags().BoolVar(&riskVerbose, "factors", false, "print every factor")
}

func runRisk(cmd *cobra.Command, args []string) error {
	paths, err := expandTunePaths(args)
	if err != nil {
		return err
	}
	as, err := risk.AssessFiles(cmd.Context(), paths, riskWorkers)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, a := range as {
		fmt.Fprintf(out, "%-8s %s %s\n", level(a.Overall), a.Title, dimStyle.Render(a.Path))
		for _, f := range a.Factors {
			if !riskVerbose && f.Level == risk.Low {
				continue
			}
			fmt.Fprintf(out, "         %-16s %-8s %s\n", f.Name, level(f.Level), f.Description)
		}
	}
	sum := risk.Summary(as)
	fmt.Fprintf(out, "%s %d files: %d %s, %d %s, %d %s\n", labelStyle.Render("summary"), len(as),
		sum[risk.High], level(risk.High), sum[risk.Medium], level(risk.Medium), sum[risk.Low], level(risk.Low))
	return nil
}

// expandTunePaths replaces directory arguments with the tune files in them.
func expandTunePaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil || !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			switch filepath.Ext(e.Name()) {
			case ".yaml", ".yml", ".json":
				if !e.IsDir() {
					paths = append(paths, filepath.Join(arg, e.Name()))
				}
			}
		}
	}
	slices.Sort(paths)
	return slices.Compact(paths), nil
}
