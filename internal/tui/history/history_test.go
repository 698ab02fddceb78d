package history_test

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"netdash/internal/runner"
	"netdash/internal/stats"
	"netdash/internal/storage"
	"netdash/internal/tui/history"
)

type lister struct {
	items []storage.Record
	err   error
	calls int
}

func (l *lister) List(limit int) ([]storage.Record, error) {
	l.calls++
	return l.items, l.err
}

func TestRows(t *testing.T) {
	items := []storage.Record{{Summary: runner.Summary{
		Target:       "http://localhost:8080/login",
		Mode:         runner.ModeCredential,
		Status:       runner.StatusCompleted,
		AttemptsSent: 12,
		SuccessCount: 12,
		VerdictCount: 1,
		FinishedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Latency:      stats.Snapshot{P99Ms: 4.31},
	}}}

	rows := history.Rows(items)
	require.Len(t, rows, 1)
	require.Len(t, rows[0], len(history.Headers()))
	require.Equal(t, []string{"http://localhost:8080/login", "credential", "completed", "12", "12", "1", "4.3"}, []string(rows[0][1:]))
}

func TestRefreshAndKeys(t *testing.T) {
	l := &lister{err: errors.New("database locked")}
	m := history.NewModel(l)
	require.EqualError(t, m.Err, "database locked")
	require.Contains(t, m.View(), "database locked")

	l.err = nil
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	require.NoError(t, next.(history.Model).Err)
	require.Equal(t, 2, l.calls)

	_, cmd := next.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
}
