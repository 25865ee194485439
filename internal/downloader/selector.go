package downloader

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/GoodchildTrevor/kinescope-donwloader/internal/capture"
)

var (
	selectorTitleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#0B0B0B")).
				Background(lipgloss.Color("#7FDBFF")).
				Bold(true).
				Padding(0, 1)

	selectorHelpStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#A6ADC8")).
				Faint(true)

	selectorCursorStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#0B0B0B")).
				Background(lipgloss.Color("#00F5D4")).
				Bold(true)

	selectorItemStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#EAEAEA"))
)

type quitMsg struct{}

func quitAfterDelay() tea.Cmd {
	return tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
		return quitMsg{}
	})
}

// mediaSelectorModel is a checklist over captured media titles.
type mediaSelectorModel struct {
	viewport  viewport.Model
	ready     bool
	items     []capture.Media
	checked   []bool
	cursor    int
	confirmed bool
	quitting  bool
}

func newMediaSelectorModel(items []capture.Media) *mediaSelectorModel {
	vp := viewport.New(80, 20)
	vp.MouseWheelEnabled = true
	vp.Style = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#7FDBFF"))

	m := &mediaSelectorModel{
		viewport: vp,
		items:    items,
		checked:  make([]bool, len(items)),
	}
	m.updateContent()
	return m
}

func (m *mediaSelectorModel) Init() tea.Cmd {
	return nil
}

func (m *mediaSelectorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	if m.quitting {
		if _, ok := msg.(quitMsg); ok {
			return m, tea.Quit
		}
		return m, nil
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width - 2
		m.viewport.Height = msg.Height - 6
		m.viewport, cmd = m.viewport.Update(msg)
		m.ready = true
		return m, cmd
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, quitAfterDelay()
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			} else if len(m.items) > 0 {
				m.cursor = len(m.items) - 1
			}
		case "down", "j":
			if m.cursor < len(m.items)-1 {
				m.cursor++
			} else {
				m.cursor = 0
			}
		case "home", "g":
			m.cursor = 0
		case "end", "G":
			if len(m.items) > 0 {
				m.cursor = len(m.items) - 1
			}
		case " ", "space", "x":
			if m.cursor < len(m.checked) {
				m.checked[m.cursor] = !m.checked[m.cursor]
			}
		case "a":
			all := !m.allChecked()
			for i := range m.checked {
				m.checked[i] = all
			}
		case "enter":
			m.confirmed = true
			m.quitting = true
			return m, quitAfterDelay()
		}
		m.updateContent()
		return m, nil
	case tea.MouseMsg:
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	case quitMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m *mediaSelectorModel) allChecked() bool {
	for _, c := range m.checked {
		if !c {
			return false
		}
	}
	return len(m.checked) > 0
}

func (m *mediaSelectorModel) updateContent() {
	var b strings.Builder
	for i, item := range m.items {
		mark := "[ ]"
		if m.checked[i] {
			mark = "[x]"
		}
		line := fmt.Sprintf("%s %3d  %s", mark, i+1, item.Title)
		if i == m.cursor {
			line = selectorCursorStyle.Render(line)
		} else {
			line = selectorItemStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	m.viewport.SetContent(b.String())

	if m.cursor < m.viewport.YOffset {
		m.viewport.SetYOffset(m.cursor)
	} else if bottom := m.viewport.YOffset + m.viewport.Height - 2; m.cursor >= bottom {
		m.viewport.SetYOffset(m.cursor - m.viewport.Height + 3)
	}
}

func (m *mediaSelectorModel) View() string {
	if !m.ready {
		return "Loading..."
	}
	var b strings.Builder
	b.WriteString(selectorTitleStyle.Render(fmt.Sprintf("%d video(s) found", len(m.items))))
	b.WriteString(" ")
	switch {
	case m.quitting && m.confirmed:
		b.WriteString(selectorHelpStyle.Render(fmt.Sprintf("Selected %d ✓", len(m.Selected()))))
	case m.quitting:
		b.WriteString(selectorHelpStyle.Render("Cancelled"))
	default:
		b.WriteString(selectorHelpStyle.Render("space toggle · a all · enter download · q quit"))
	}
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	return b.String()
}

// Selected returns the checked items in list order, or nil when the
// selection was cancelled.
func (m *mediaSelectorModel) Selected() []capture.Media {
	if !m.confirmed {
		return nil
	}
	var out []capture.Media
	for i, item := range m.items {
		if m.checked[i] {
			out = append(out, item)
		}
	}
	return out
}

// RunMediaSelector shows items as a checklist and returns the chosen ones.
// Cancelling returns an empty selection.
func RunMediaSelector(items []capture.Media) ([]capture.Media, error) {
	model := newMediaSelectorModel(items)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithOutput(os.Stderr))
	result, err := p.Run()
	if err != nil {
		return nil, err
	}
	if m, ok := result.(*mediaSelectorModel); ok {
		return m.Selected(), nil
	}
	return nil, nil
}
