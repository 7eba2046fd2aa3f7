package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskcore/internal/plan"
	"github.com/aristath/taskcore/internal/task"
)

// Border styles
var (
	StyleBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

// Status styles
var (
	StyleStatusSucceeded = lipgloss.NewStyle().
				Foreground(lipgloss.Color("green")).
				Bold(true)

	StyleStatusFailed = lipgloss.NewStyle().
				Foreground(lipgloss.Color("red")).
				Bold(true)

	StyleStatusSkipped = lipgloss.NewStyle().
				Foreground(lipgloss.Color("yellow"))

	StyleStatusPending = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))
)

// UI element styles
var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true)

	StyleDetail = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

const barWidth = 40

func statusStyle(s plan.Status) lipgloss.Style {
	switch s {
	case plan.StatusSucceeded:
		return StyleStatusSucceeded
	case plan.StatusFailed:
		return StyleStatusFailed
	case plan.StatusSkipped:
		return StyleStatusSkipped
	default:
		return StyleStatusPending
	}
}

// renderSummary draws one line per task, the totals, and a progress bar.
func renderSummary(report *plan.Report, runID string) string {
	var b strings.Builder

	title := StyleTitle.Render("Run summary")
	b.WriteString(title)
	if runID != "" {
		b.WriteString(" " + StyleDetail.Render(runID))
	}
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	nameWidth := 4
	for _, o := range report.Outcomes {
		nameWidth = max(nameWidth, lipgloss.Width(o.ID))
	}

	for _, o := range report.Outcomes {
		status := statusStyle(o.Status).Width(9).Render(o.Status.String())
		line := fmt.Sprintf("%-*s  %s  %8s", nameWidth, o.ID, status, o.Duration.Round(time.Millisecond))
		if d := outcomeDetail(o); d != "" {
			line += "  " + StyleDetail.Render(d)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	total := len(report.Outcomes)
	succeeded := report.Count(plan.StatusSucceeded)
	failed := report.Count(plan.StatusFailed)
	skipped := report.Count(plan.StatusSkipped)

	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("Total:     %d\n", total))
	b.WriteString(fmt.Sprintf("Succeeded: %s\n", StyleStatusSucceeded.Render(fmt.Sprintf("%d", succeeded))))
	b.WriteString(fmt.Sprintf("Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprintf("%d", failed))))
	b.WriteString(fmt.Sprintf("Skipped:   %s\n", StyleStatusSkipped.Render(fmt.Sprintf("%d", skipped))))
	b.WriteString(fmt.Sprintf("Elapsed:   %s\n", report.Duration.Round(time.Millisecond)))

	if total > 0 {
		b.WriteString("\n")
		b.WriteString(progressBar(succeeded, failed, skipped, total))
		b.WriteString("\n")
	}

	return StyleBorder.Render(strings.TrimRight(b.String(), "\n"))
}

func progressBar(succeeded, failed, skipped, total int) string {
	okWidth := succeeded * barWidth / total
	failedWidth := failed * barWidth / total
	skippedWidth := skipped * barWidth / total
	restWidth := barWidth - okWidth - failedWidth - skippedWidth

	bar := StyleStatusSucceeded.Render(strings.Repeat("=", okWidth))
	bar += StyleStatusFailed.Render(strings.Repeat("!", failedWidth))
	bar += StyleStatusSkipped.Render(strings.Repeat("-", skippedWidth))
	bar += StyleStatusPending.Render(strings.Repeat(".", max(0, restWidth)))

	return fmt.Sprintf("[%s]  %d/%d", bar, succeeded, total)
}

// outcomeDetail is the first line of a failure message or the skip reason.
func outcomeDetail(o plan.Outcome) string {
	switch o.Status {
	case plan.StatusSkipped:
		return o.Reason
	case plan.StatusFailed:
		if err := o.Result.Err(); err != nil {
			msg, _, _ := strings.Cut(err.Error(), "\n")
			if kind, ok := task.KindOf(err); ok {
				return kind.String() + ": " + msg
			}
			return msg
		}
	}
	return ""
}
