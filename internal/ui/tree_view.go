package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"arbor/internal/diag"
	"arbor/internal/tree"
)

type treeModel struct {
	frames  <-chan Frame
	spinner spinner.Model
	prog    progress.Model
	frame   Frame
	width   int
	height  int
	done    bool
	quit    bool
}

type frameMsg Frame
type doneMsg struct{}

// NewTreeModel returns a Bubble Tea model that renders the frames it
// receives until the channel is closed.
func NewTreeModel(frames <-chan Frame) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 76

	return &treeModel{
		frames:  frames,
		spinner: sp,
		prog:    prog,
		width:   80,
		height:  24,
	}
}

func (m *treeModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForFrame())
}

func (m *treeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case frameMsg:
		m.frame = Frame(msg)
		return m, tea.Batch(m.prog.SetPercent(m.frame.Progress()), m.listenForFrame())
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quit = true
			return m, tea.Quit
		}
		return m, nil
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.prog.Width = msg.Width - 4
		}
		if msg.Height > 0 {
			m.height = msg.Height
		}
		return m, nil
	case progress.FrameMsg:
		progressModel, cmd := m.prog.Update(msg)
		m.prog = progressModel.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *treeModel) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	header := fmt.Sprintf("%s  %d/%d", m.frame.Title, m.frame.Done, m.frame.Leaves)
	if m.frame.Failed > 0 {
		header += fmt.Sprintf("  %d failed", m.frame.Failed)
	}
	switch m.frame.State {
	case tree.StateRunning, tree.StateFailed:
		header = fmt.Sprintf("%s %s", m.spinner.View(), header)
	case tree.StateFinished, tree.StateTerminated, tree.StateNotStarted:
		header = fmt.Sprintf("%s: %s", m.frame.State, header)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")

	// header, blank line, blank line, progress bar
	visible := max(1, m.height-4)
	rows := m.frame.Rows
	top := min(max(0, m.frame.ScrollTop), len(rows))
	end := min(len(rows), top+visible)
	for _, row := range rows[top:end] {
		b.WriteString(m.renderRow(row))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.done {
		b.WriteString(m.prog.ViewAs(1.0))
	} else {
		b.WriteString(m.prog.View())
	}
	b.WriteString("\n")
	return b.String()
}

func (m *treeModel) renderRow(row Row) string {
	indent := strings.Repeat("  ", row.Depth)
	marker := " "
	switch {
	case row.Kind == tree.KindDiagnostic:
		marker = "•"
	case row.Children > 0 && row.Expanded:
		marker = "▾"
	case row.Children > 0:
		marker = "▸"
	}

	var status string
	var style lipgloss.Style
	if row.Kind == tree.KindDiagnostic {
		style = styleSeverity(row.Severity)
		status = fmt.Sprintf("%-8s", strings.ToLower(row.Severity.String()))
	} else {
		style = styleState(row.State, row.Failed)
		status = fmt.Sprintf("%-10s", stateLabel(row.State, row.Failed))
	}

	suffix := ""
	if row.Kind == tree.KindLeaf && row.Duration > 0 {
		suffix = " " + row.Duration.Round(time.Millisecond).String()
	}
	prefix := fmt.Sprintf("%s%s %s ", indent, marker, status)
	nameWidth := max(10, m.width-runewidth.StringWidth(prefix)-runewidth.StringWidth(suffix)-1)
	line := prefix + truncate(row.Label, nameWidth) + suffix
	if row.Selected {
		style = style.Reverse(true)
	}
	return style.Render(line)
}

func (m *treeModel) listenForFrame() tea.Cmd {
	return func() tea.Msg {
		f, ok := <-m.frames
		if !ok {
			return doneMsg{}
		}
		return frameMsg(f)
	}
}

func stateLabel(state tree.State, failed bool) string {
	if failed && state != tree.StateFailed {
		return state.String() + "!"
	}
	return state.String()
}

func styleState(state tree.State, failed bool) lipgloss.Style {
	if failed {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	}
	switch state {
	case tree.StateFinished:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	case tree.StateTerminated:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	case tree.StateRunning:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	case tree.StateFailed:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	case tree.StateNotStarted:
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
}

func styleSeverity(sev diag.Severity) lipgloss.Style {
	switch sev {
	case diag.SevError:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	case diag.SevWarning, diag.SevWarningUnused:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	case diag.SevGoal:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
	case diag.SevInfo:
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
}

func truncate(value string, width int) string {
	if width <= 0 {
		return value
	}
	if runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width-3, "...")
}
