package commands

import (
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/hako/durafmt"

	"github.com/cbegin/fiddle-go/internal/risk"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f"))
	labelStyle = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681"))

	levelStyles = map[risk.Level]lipgloss.Style{
		risk.Low:    lipgloss.NewStyle().Foreground(lipgloss.Color("#3fb950")),
		risk.Medium: lipgloss.NewStyle().Foreground(lipgloss.Color("#d29922")),
		risk.High:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#f85149")),
	}

	shortUnits, _ = durafmt.DefaultUnitsCoder.Decode("y:yrs,wk:wks,d:d,h:h,m:m,s:s,ms:ms,us:us")
)

func level(l risk.Level) string {
	return levelStyles[l].Render(l.String())
}

// clock formats d for progress labels, e.g. "1m 5s".
func clock(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	return durafmt.Parse(d.Truncate(time.Second)).LimitFirstN(2).Format(shortUnits)
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
