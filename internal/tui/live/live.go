package live

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"netdash/internal/runner"
	"netdash/internal/telemetry"
	"netdash/internal/tui/components"
	"netdash/internal/tui/styles"
)

const maxErrors = 5

// Model renders one running session from its telemetry events.
type Model struct {
	Config   runner.Config
	Progress progress.Model

	OkLine      components.Sparkline
	LatencyLine components.Sparkline

	Sent     int
	Budget   int
	OK       int
	Failed   int
	Verdicts int
	Waves    int
	Elapsed  time.Duration
	Errors   []string
	Found    *runner.Found

	Width  int
	Height int
}

func NewModel(cfg runner.Config) Model {
	return Model{
		Config:      cfg,
		Budget:      cfg.AttemptBudget,
		Progress:    progress.New(progress.WithDefaultGradient()),
		OkLine:      components.NewSparkline(40, "OK per wave", styles.Active),
		LatencyLine: components.NewSparkline(40, "Avg latency (ms)", styles.Warn),
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case telemetry.Event:
		return m.apply(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Progress.Width = msg.Width - 4

		half := max(msg.Width/2-6, 10)
		m.OkLine.Width = half
		m.LatencyLine.Width = half
		return m, nil

	case progress.FrameMsg:
		prog, cmd := m.Progress.Update(msg)
		m.Progress = prog.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func (m Model) apply(e telemetry.Event) (Model, tea.Cmd) {
	switch data := e.Data.(type) {
	case runner.Config:
		m.Config = data
		m.Budget = data.AttemptBudget

	case runner.WaveStats:
		m.Waves = data.Wave
		m.OK += data.OK
		m.Failed += data.Failed
		m.Verdicts += data.Verdicts
		m.OkLine.Add(float64(data.OK))
		m.LatencyLine.Add(data.AvgLatencyMs)
		for _, err := range data.Errors {
			m.Errors = append(m.Errors, fmt.Sprintf("wave %d: %s", data.Wave, err))
		}
		if len(m.Errors) > maxErrors {
			m.Errors = m.Errors[len(m.Errors)-maxErrors:]
		}

	case runner.Progress:
		m.Sent = data.AttemptsSent
		m.Budget = data.AttemptBudget
		m.Elapsed = time.Duration(data.ElapsedMs) * time.Millisecond
		return m, m.Progress.SetPercent(m.percent(data))

	case runner.Found:
		m.Found = &data
	}
	return m, nil
}

// percent is the larger of attempt and time progress.
func (m Model) percent(p runner.Progress) float64 {
	pct := 0.0
	if p.AttemptBudget > 0 {
		pct = float64(p.AttemptsSent) / float64(p.AttemptBudget)
	}
	if p.RemainingMs >= 0 {
		total := p.ElapsedMs + p.RemainingMs
		if total > 0 {
			pct = max(pct, float64(p.ElapsedMs)/float64(total))
		}
	}
	return min(pct, 1)
}

func (m Model) errorRate() float64 {
	if total := m.OK + m.Failed; total > 0 {
		return float64(m.Failed) / float64(total) * 100
	}
	return 0
}

func (m Model) View() string {
	s := strings.Builder{}

	errRate := m.errorRate()
	col1 := fmt.Sprintf("SENT: %d / %d\nWAVE: %d", m.Sent, m.Budget, m.Waves)
	col2 := styles.ErrorRate(errRate).Render(fmt.Sprintf("ERR: %.2f%%\nFAIL: %d", errRate, m.Failed))
	col3 := fmt.Sprintf("OK: %d\n%s: %d", m.OK, verdictLabel(m.Config.Mode), m.Verdicts)

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(col1),
		styles.Box.Render(col2),
		styles.Box.Render(col3),
	))
	s.WriteString("\n\n")

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(m.OkLine.View()),
		styles.Box.Render(m.LatencyLine.View()),
	))
	s.WriteString("\n")

	if m.Found != nil {
		s.WriteString(styles.Found.Render(fmt.Sprintf("FOUND  %s : %s  (attempt %d, HTTP %d)",
			m.Found.Username, m.Found.Password, m.Found.Index+1, m.Found.StatusCode)))
		s.WriteString("\n")
	}

	if len(m.Errors) > 0 {
		s.WriteString(styles.Error.Render(strings.Join(m.Errors, "\n")))
		s.WriteString("\n")
	}

	s.WriteString("\n")
	s.WriteString(m.Progress.View())
	s.WriteString("\n")
	s.WriteString(styles.Subtle.Render(fmt.Sprintf("elapsed %s", m.Elapsed.Round(100*time.Millisecond))))

	return s.String()
}

func verdictLabel(mode runner.Mode) string {
	switch mode {
	case runner.ModeCredential:
		return "HITS"
	case runner.ModeResilience:
		return "BLOCKED"
	}
	return "FLAGGED"
}
