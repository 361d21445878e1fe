// ABOUTME: Bubbletea model for the capture status screen
// ABOUTME: Shows capture state, block counters, level meter and listeners
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/ausculsound/micstream/pkg/capture"
	"github.com/ausculsound/micstream/pkg/stream"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const meterWidth = 24

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	clientHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("220"))

	pausedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214"))

	helpStyle = lipgloss.NewStyle().Faint(true)
)

// Info is the fixed part of the screen, known before capture starts
type Info struct {
	Name       string
	Port       int
	Codec      string
	Signal     string
	SampleRate int
	BufferSize int
	Resolution int
	Record     string
}

// Model represents the TUI state
type Model struct {
	info      Info
	startTime time.Time

	// Capture
	state    string
	sequence uint32
	blocks   uint64

	// Server
	captured  uint64
	published uint64
	dropped   uint64
	peak      int
	clients   []stream.ClientInfo

	control  *Control
	quitting bool

	width  int
	height int
}

// StatusMsg is a snapshot of capture and server counters
type StatusMsg struct {
	Capture capture.Stats
	Server  stream.ServerStats
	Clients []stream.ClientInfo
}

type tickMsg time.Time

// Init starts the uptime ticker
func (m Model) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		return m, tickEvery()
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return "Stopping capture...\n"
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("micstream"))
	b.WriteString("\n\n")

	field(&b, "Name: ", m.info.Name)
	field(&b, "Port: ", fmt.Sprintf("%d", m.info.Port))
	field(&b, "Uptime: ", time.Since(m.startTime).Round(time.Second).String())
	field(&b, "Signal: ", m.info.Signal)
	field(&b, "Format: ", fmt.Sprintf("%s %dHz mono, %d-sample blocks, %d-bit ADC",
		m.info.Codec, m.info.SampleRate, m.info.BufferSize, m.info.Resolution))
	if m.info.Record != "" {
		field(&b, "Recording: ", m.info.Record)
	}
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("State: "))
	if m.state == capture.StatePaused.String() {
		b.WriteString(pausedStyle.Render(m.state))
	} else {
		b.WriteString(valueStyle.Render(m.state))
	}
	b.WriteString("\n")

	field(&b, "Sequence: ", fmt.Sprintf("%d (buffer %d)", m.sequence, capture.BufferIndexFromSequence(m.sequence)))
	field(&b, "Blocks: ", fmt.Sprintf("%d captured, %d published, %d dropped", m.captured, m.published, m.dropped))
	field(&b, "Level: ", fmt.Sprintf("[%s] %d", renderBar(m.peak, 32768, meterWidth), m.peak))
	b.WriteString("\n")

	b.WriteString(clientHeaderStyle.Render(fmt.Sprintf("Listeners (%d)", len(m.clients))))
	b.WriteString("\n\n")

	if len(m.clients) == 0 {
		b.WriteString(valueStyle.Render("  No listeners connected"))
		b.WriteString("\n")
	} else {
		for _, c := range m.clients {
			b.WriteString(fmt.Sprintf("  • %s", truncate(c.Name, 32)))
			b.WriteString(valueStyle.Render(fmt.Sprintf(" (%s, %d dropped)", c.Codec, c.Dropped)))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("p: pause/resume  q: quit"))

	return b.String()
}

func field(b *strings.Builder, label, value string) {
	b.WriteString(headerStyle.Render(label))
	b.WriteString(valueStyle.Render(value))
	b.WriteString("\n")
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		if m.control != nil {
			select {
			case m.control.Quit <- struct{}{}:
			default:
			}
		}
		return m, tea.Quit
	case "p":
		if m.control != nil {
			select {
			case m.control.Toggle <- struct{}{}:
			default:
			}
		}
	}

	return m, nil
}

// applyStatus updates model from a status snapshot
func (m *Model) applyStatus(msg StatusMsg) {
	m.state = msg.Capture.State.String()
	m.sequence = msg.Capture.LastSequence
	m.blocks = msg.Capture.Blocks

	m.captured = msg.Server.Captured
	m.published = msg.Server.Published
	m.dropped = msg.Server.Dropped
	m.peak = msg.Server.Peak
	m.clients = msg.Clients
}

func renderBar(value, max, width int) string {
	filled := 0
	if max > 0 {
		filled = (value * width) / max
	}
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
