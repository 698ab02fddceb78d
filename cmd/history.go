package cmd

import (
	"encoding/json"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"netdash/internal/cli"
	"netdash/internal/storage"
	"netdash/internal/tui/history"
	"netdash/internal/tui/styles"
)

var historyCmd = &cobra.Command{
	Use:   "history [session-id]",
	Short: "List finished runs, or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := dataDir()
		if err != nil {
			return err
		}
		store, err := storage.Open(dir)
		if err != nil {
			return err
		}
		defer store.Close()

		asJSON, _ := cmd.Flags().GetBool("json")
		out := cmd.OutOrStdout()

		if len(args) == 1 {
			rec, err := store.Get(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, rec)
			}
			cli.PrintSummary(out, rec.Summary)
			return nil
		}

		if interactive, _ := cmd.Flags().GetBool("tui"); interactive {
			_, err := tea.NewProgram(history.NewModel(store), tea.WithAltScreen()).Run()
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		items, err := store.List(limit)
		if err != nil {
			return err
		}
		if asJSON {
			return writeJSON(cmd, items)
		}
		if len(items) == 0 {
			fmt.Fprintln(out, styles.Subtle.Render("no runs recorded yet"))
			return nil
		}

		t := table.New().
			Border(lipgloss.NormalBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
			Headers(history.Headers()...)
		for _, row := range history.Rows(items) {
			t.Row(row...)
		}
		fmt.Fprintln(out, t)
		return nil
	},
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	historyCmd.Flags().Int("limit", 20, "number of runs to list (0 = all)")
	historyCmd.Flags().Bool("json", false, "print records as JSON")
	historyCmd.Flags().Bool("tui", false, "interactive table")
}
