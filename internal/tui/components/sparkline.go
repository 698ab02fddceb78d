package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var levels = []string{" ", "▁", "▂", "▃", "▄", "▅", "▆", "▇", "█"}

// Sparkline is a one-line scrolling chart of the last Width values.
type Sparkline struct {
	Data  []float64
	Width int
	Max   float64
	Style lipgloss.Style
	Label string
}

func NewSparkline(width int, label string, style lipgloss.Style) Sparkline {
	return Sparkline{
		Width: width,
		Label: label,
		Style: style,
		Data:  make([]float64, 0, width),
	}
}

// Add appends v and rescales to the maximum of the visible window.
func (s *Sparkline) Add(v float64) {
	s.Data = append(s.Data, max(v, 0))
	if len(s.Data) > s.Width {
		s.Data = s.Data[len(s.Data)-s.Width:]
	}

	s.Max = 0
	for _, d := range s.Data {
		s.Max = max(s.Max, d)
	}
}

// Last returns the most recent value, or 0.
func (s Sparkline) Last() float64 {
	if len(s.Data) == 0 {
		return 0
	}
	return s.Data[len(s.Data)-1]
}

func (s Sparkline) View() string {
	if s.Width <= 0 {
		return ""
	}

	var graph strings.Builder
	for _, v := range s.Data {
		idx := 0
		if s.Max > 0 {
			idx = int(v / s.Max * float64(len(levels)-1))
		}
		graph.WriteString(levels[min(max(idx, 0), len(levels)-1)])
	}
	if pad := s.Width - len(s.Data); pad > 0 {
		graph.WriteString(strings.Repeat(" ", pad))
	}

	return s.Style.Render(s.Label) + "\n" + s.Style.Render(graph.String())
}
