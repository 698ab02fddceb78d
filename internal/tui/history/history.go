package history

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"netdash/internal/storage"
	"netdash/internal/tui/styles"
)

// Lister is the read side of the history store.
type Lister interface {
	List(limit int) ([]storage.Record, error)
}

type Model struct {
	Store Lister
	Table table.Model
	Err   error

	Width  int
	Height int
}

var columns = []table.Column{
	{Title: "Finished", Width: 20},
	{Title: "Target", Width: 34},
	{Title: "Mode", Width: 11},
	{Title: "Status", Width: 10},
	{Title: "Sent", Width: 7},
	{Title: "OK", Width: 7},
	{Title: "Hits", Width: 5},
	{Title: "P99 ms", Width: 8},
}

// Headers returns the column titles in Rows order.
func Headers() []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = c.Title
	}
	return out
}

func NewModel(store Lister) Model {

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(15),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	m := Model{
		Store: store,
		Table: t,
	}
	m.Refresh()
	return m
}

// Rows converts records to table rows.
func Rows(items []storage.Record) []table.Row {
	rows := make([]table.Row, len(items))
	for i, item := range items {
		sum := item.Summary
		rows[i] = table.Row{
			sum.FinishedAt.Local().Format(time.DateTime),
			sum.Target,
			string(sum.Mode),
			string(sum.Status),
			fmt.Sprintf("%d", sum.AttemptsSent),
			fmt.Sprintf("%d", sum.SuccessCount),
			fmt.Sprintf("%d", sum.VerdictCount),
			fmt.Sprintf("%.1f", sum.Latency.P99Ms),
		}
	}
	return rows
}

func (m *Model) Refresh() {
	items, err := m.Store.List(0)
	m.Err = err
	m.Table.SetRows(Rows(items))
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Table.SetWidth(msg.Width - 4)

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			m.Refresh()
			return m, nil
		}
	}

	m.Table, cmd = m.Table.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.Err != nil {
		return styles.Error.Render(m.Err.Error()) + "\n"
	}
	return styles.Box.Render(m.Table.View()) + "\n" +
		styles.RenderKey("r", "refresh") + "  " + styles.RenderKey("q", "quit")
}
