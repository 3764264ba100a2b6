// Package cliui holds the terminal styling shared by the cartvaultd
// CLI subcommands: colored status lines and a download table, built
// on charmbracelet/lipgloss and dustin/go-humanize.
package cliui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/tanq16/cartvault/internal/model"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
)

func PrintSuccess(text string) { fmt.Println(successStyle.Render(text)) }
func PrintError(text string)   { fmt.Println(errorStyle.Render(text)) }
func PrintWarning(text string) { fmt.Println(warningStyle.Render(text)) }
func PrintInfo(text string)    { fmt.Println(infoStyle.Render(text)) }

// stateColor picks a style for a download's state, used to color the
// state column of the status table.
func stateColor(s model.State) lipgloss.Style {
	switch s {
	case model.Completed:
		return successStyle
	case model.Failed, model.Cancelled:
		return errorStyle
	case model.Paused:
		return warningStyle
	default:
		return infoStyle
	}
}

// PrintSummaries renders one row per download: id, state, progress,
// speed-free byte counts (humanized), and priority.
func PrintSummaries(summaries []model.Summary) {
	if len(summaries) == 0 {
		PrintInfo("no downloads")
		return
	}
	t := table.New().Headers("ID", "STATE", "PROGRESS", "SIZE", "PRIORITY", "URL")
	t = t.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return headerStyle.Padding(0, 1)
		}
		return lipgloss.NewStyle().Padding(0, 1)
	})
	for _, s := range summaries {
		progress := "?"
		size := humanize.Bytes(uint64(s.DownloadedBytes))
		if s.TotalBytes != nil && *s.TotalBytes > 0 {
			pct := float64(s.DownloadedBytes) / float64(*s.TotalBytes) * 100
			progress = fmt.Sprintf("%.1f%%", pct)
			size = fmt.Sprintf("%s / %s", humanize.Bytes(uint64(s.DownloadedBytes)), humanize.Bytes(uint64(*s.TotalBytes)))
		}
		t.Row(
			fmt.Sprintf("%d", s.ID),
			stateColor(s.State).Render(string(s.State)),
			progress,
			size,
			priorityLabel(s.Priority),
			truncate(s.URL, 50),
		)
	}
	fmt.Println(t)
}

func priorityLabel(p model.Priority) string {
	switch p {
	case model.PriorityHigh:
		return "high"
	case model.PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// FormatBytes is a thin wrapper over humanize so callers outside this
// package don't need an extra import for a one-line call.
func FormatBytes(n int64) string { return humanize.Bytes(uint64(n)) }
