package risk

import (
	"cmp"
	"context"
	"slices"

	"github.com/remeh/sizedwaitgroup"

	"github.com/cbegin/fiddle-go/internal/tune"
)

// AssessFile loads and scores one tune file. A file that fails to load is
// reported as a HIGH parse-error assessment rather than an error.
func AssessFile(path string) Assessment {
	t, err := tune.Load(path)
	if err != nil {
		factors := []Factor{{"Parse Error", High, err.Error()}}
		return Assessment{Path: path, Title: path, Overall: High, Factors: factors}
	}
	a := Assess(t)
	a.Path = path
	if a.Title == "" {
		a.Title = path
	}
	return a
}

// AssessFiles scores files with at most workers loads in flight and returns
// them riskiest first, keeping input order within a level.
func AssessFiles(ctx context.Context, paths []string, workers int) ([]Assessment, error) {
	if workers <= 0 {
		workers = 4
	}
	out := make([]Assessment, len(paths))
	swg := sizedwaitgroup.New(workers)
	for i, p := range paths {
		err := ctx.Err()
		if err == nil {
			err = swg.AddWithContext(ctx)
		}
		if err != nil {
			swg.Wait()
			return nil, err
		}
		go func(i int, p string) {
			defer swg.Done()
			out[i] = AssessFile(p)
		}(i, p)
	}
	swg.Wait()
	slices.SortStableFunc(out, func(a, b Assessment) int { return cmp.Compare(b.Overall, a.Overall) })
	return out, nil
}

// Summary counts assessments per level.
func Summary(as []Assessment) map[Level]int {
	m := map[Level]int{Low: 0, Medium: 0, High: 0}
	for _, a := range as {
		m[a.Overall]++
	}
	return m
}
