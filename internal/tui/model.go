// Package tui is the interactive terminal view of a single run.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"netdash/internal/runner"
	"netdash/internal/telemetry"
	"netdash/internal/tui/live"
	"netdash/internal/tui/result"
	"netdash/internal/tui/styles"
)

type (
	closedMsg   struct{}
	finishedMsg struct{}
)

// Session is the run being followed.
type Session interface {
	ID() string
	Done() <-chan struct{}
	Summary() runner.Summary
}

// Model follows one session until its terminal event, then shows the summary.
type Model struct {
	SessionID string
	Summary   runner.Summary
	Done      bool
	Stopping  bool

	live    live.Model
	result  result.Model
	session Session
	events  <-chan telemetry.Event
	stop    func()
}

// NewModel builds the view. events may carry other sessions' events; they
// are ignored. stop is called once when the user quits a running session.
func NewModel(cfg runner.Config, session Session, events <-chan telemetry.Event, stop func()) Model {
	return Model{
		SessionID: session.ID(),
		live:      live.NewModel(cfg),
		session:   session,
		events:    events,
		stop:      stop,
	}
}

func (m Model) Init() tea.Cmd {
	return m.wait()
}

func (m Model) wait() tea.Cmd {
	events, done := m.events, m.session.Done()
	return func() tea.Msg {
		select {
		case e, ok := <-events:
			if !ok {
				return closedMsg{}
			}
			return e
		case <-done:
			// The terminal event may have been dropped by a full buffer.
			return finishedMsg{}
		}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.Done {
				return m, tea.Quit
			}
			if !m.Stopping {
				m.Stopping = true
				if m.stop != nil {
					m.stop()
				}
			}
		}
		return m, nil

	case telemetry.Event:
		if msg.SessionID != m.SessionID {
			return m, m.wait()
		}
		if msg.Type.Terminal() {
			sum, ok := msg.Data.(runner.Summary)
			if !ok {
				sum = m.session.Summary()
			}
			return m.finish(sum), nil
		}
		var cmd tea.Cmd
		m.live, cmd = m.live.Update(msg)
		return m, tea.Batch(cmd, m.wait())

	case finishedMsg:
		if m.Done {
			return m, nil
		}
		return m.finish(m.session.Summary()), nil

	case closedMsg:
		m.Done = true
		return m, nil

	case tea.WindowSizeMsg:
		m.live, _ = m.live.Update(msg)
		m.result, _ = m.result.Update(msg)
		return m, nil
	}

	var cmd tea.Cmd
	m.live, cmd = m.live.Update(msg)
	return m, cmd
}

func (m Model) finish(sum runner.Summary) Model {
	m.Summary = sum
	m.Done = true
	m.result = result.NewModel(sum)
	m.result, _ = m.result.Update(tea.WindowSizeMsg{Width: m.live.Width, Height: m.live.Height})
	return m
}

func (m Model) View() string {
	if m.Done {
		return m.result.View()
	}

	s := strings.Builder{}
	cfg := m.live.Config
	s.WriteString(styles.Title.Render(fmt.Sprintf("netdash %s", cfg.Mode)))
	s.WriteString("\n")
	s.WriteString(styles.Subtle.Render(fmt.Sprintf("%s %s | concurrency %d | wave interval %s",
		cfg.Target.Method, cfg.Target.URL, cfg.Concurrency, cfg.WaveInterval)))
	s.WriteString("\n\n")
	s.WriteString(m.live.View())
	s.WriteString("\n")
	if m.Stopping {
		s.WriteString(styles.Warn.Render("stopping after the current wave..."))
	} else {
		s.WriteString(styles.RenderKey("q", "stop"))
	}
	return s.String()
}

// Run shows the view until the user quits and returns the terminal summary.
func Run(cfg runner.Config, session Session, events <-chan telemetry.Event, stop func()) (runner.Summary, error) {
	p := tea.NewProgram(NewModel(cfg, session, events, stop), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return runner.Summary{}, err
	}
	return final.(Model).Summary, nil
}
