package result

import (
	"fmt"
	"slices"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"netdash/internal/runner"
	"netdash/internal/tui/styles"
)

// Model renders the terminal summary of a run.
type Model struct {
	Summary runner.Summary

	Width  int
	Height int
}

func NewModel(sum runner.Summary) Model {
	return Model{Summary: sum}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
	}
	return m, nil
}

func (m Model) View() string {
	sum := m.Summary
	s := strings.Builder{}

	s.WriteString(styles.Title.Render(fmt.Sprintf("Run %s", sum.Status)))
	s.WriteString("\n")
	if sum.Reason != "" {
		s.WriteString(styles.Subtle.Render(sum.Reason))
		s.WriteString("\n")
	}
	s.WriteString("\n")

	s.WriteString(styles.Active.Render("Overview"))
	s.WriteString("\n")
	overview := fmt.Sprintf(
		"Target:   %s\nMode:     %s\nAttempts: %d / %d in %d waves\nOK:       %d\nFailed:   %d\nVerdicts: %d\nElapsed:  %d ms",
		sum.Target, sum.Mode, sum.AttemptsSent, sum.AttemptBudget, sum.Waves,
		sum.SuccessCount, sum.FailureCount, sum.VerdictCount, sum.ElapsedMs,
	)
	s.WriteString(styles.Box.Render(overview))
	s.WriteString("\n\n")

	s.WriteString(styles.Active.Render("Latency"))
	s.WriteString("\n")
	l := sum.Latency
	s.WriteString(styles.Box.Render(fmt.Sprintf(
		"Avg: %.2f ms\nP50: %.2f ms\nP90: %.2f ms\nP99: %.2f ms\nMax: %.2f ms",
		l.MeanMs, l.P50Ms, l.P90Ms, l.P99Ms, l.MaxMs,
	)))
	s.WriteString("\n")

	if len(l.StatusCounts) > 0 {
		codes := make([]int, 0, len(l.StatusCounts))
		for c := range l.StatusCounts {
			codes = append(codes, c)
		}
		slices.Sort(codes)
		var lines []string
		for _, c := range codes {
			lines = append(lines, fmt.Sprintf("HTTP %d: %d", c, l.StatusCounts[c]))
		}
		s.WriteString(styles.Box.Render(strings.Join(lines, "\n")))
		s.WriteString("\n")
	}

	if len(l.ErrorCounts) > 0 {
		var lines []string
		for cause, n := range l.ErrorCounts {
			lines = append(lines, fmt.Sprintf("%d x %s", n, cause))
		}
		slices.Sort(lines)
		s.WriteString(styles.Error.Render(strings.Join(lines, "\n")))
		s.WriteString("\n")
	}

	if f := sum.Found; f != nil {
		s.WriteString("\n")
		s.WriteString(styles.Found.Render(fmt.Sprintf("FOUND  %s : %s", f.Username, f.Password)))
		s.WriteString("\n")
	}

	s.WriteString("\n")
	s.WriteString(styles.RenderKey("q", "quit"))
	return s.String()
}
