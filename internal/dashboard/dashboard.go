// Package dashboard is a small bubbletea TUI that polls a tracker's status
// endpoint and tails its trace log, for watching a run live instead of
// scrolling a terminal full of trace lines.
package dashboard

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cherry-wb/argos/internal/argos"
	"github.com/cherry-wb/argos/internal/colorize"
)

const pollInterval = 500 * time.Millisecond

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFC800"))
	phaseStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB"))
	lineStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#C8C8C8"))
)

// Model is the bubbletea model for the status+tail dashboard.
type Model struct {
	statusURL string
	tracePath string

	status   argos.Status
	lines    []string
	maxLines int
	err      error

	traceOffset int64
}

func New(statusURL, tracePath string) Model {
	return Model{statusURL: statusURL, tracePath: tracePath, maxLines: 20}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(pollStatusCmd(m.statusURL), pollTraceCmd(m.tracePath, 0), tickCmd())
}

type statusMsg struct {
	status argos.Status
	err    error
}

type traceMsg struct {
	lines  []string
	offset int64
	err    error
}

type tickMsg time.Time

func pollStatusCmd(url string) tea.Cmd {
	return func() tea.Msg {
		resp, err := http.Get(url)
		if err != nil {
			return statusMsg{err: err}
		}
		defer resp.Body.Close()
		var st argos.Status
		if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
			return statusMsg{err: err}
		}
		return statusMsg{status: st}
	}
}

func pollTraceCmd(path string, offset int64) tea.Cmd {
	return func() tea.Msg {
		f, err := os.Open(path)
		if err != nil {
			return traceMsg{offset: offset, err: err}
		}
		defer f.Close()

		if _, err := f.Seek(offset, 0); err != nil {
			return traceMsg{offset: offset, err: err}
		}

		var lines []string
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		newOffset, _ := f.Seek(0, 1)
		return traceMsg{lines: lines, offset: newOffset}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case statusMsg:
		if msg.err == nil {
			m.status = msg.status
		}
		m.err = msg.err
	case traceMsg:
		if msg.err == nil {
			m.traceOffset = msg.offset
			m.lines = append(m.lines, msg.lines...)
			if len(m.lines) > m.maxLines {
				m.lines = m.lines[len(m.lines)-m.maxLines:]
			}
		}
	case tickMsg:
		return m, tea.Batch(pollStatusCmd(m.statusURL), pollTraceCmd(m.tracePath, m.traceOffset), tickCmd())
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("shelltrack dashboard"))
	b.WriteString("\n")
	b.WriteString(phaseStyle.Render(fmt.Sprintf(
		"phase=%v instructions=%d stage=%d pending_syscall=%v modules=%d",
		m.status.Phase, m.status.InstructionCount, m.status.Stage, m.status.PendingSyscall, m.status.ModuleCount,
	)))
	b.WriteString("\n\n")
	if m.err != nil {
		b.WriteString(colorize.Error(m.err.Error()))
		b.WriteString("\n")
	}
	for _, l := range m.lines {
		b.WriteString(lineStyle.Render(colorize.TraceLine(l)))
		b.WriteString("\n")
	}
	b.WriteString("\n(q to quit)\n")
	return b.String()
}

// Run starts the dashboard's bubbletea program. It blocks until the user
// quits.
func Run(statusURL, tracePath string) error {
	p := tea.NewProgram(New(statusURL, tracePath))
	_, err := p.Run()
	return err
}
