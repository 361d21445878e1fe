// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program for the capture daemon
package ui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Control carries key presses from the screen to the daemon
type Control struct {
	Toggle chan struct{}
	Quit   chan struct{}
}

// NewControl creates a control handler
func NewControl() *Control {
	return &Control{
		Toggle: make(chan struct{}, 1),
		Quit:   make(chan struct{}, 1),
	}
}

// NewModel creates a new TUI model
func NewModel(info Info, ctrl *Control) Model {
	return Model{
		info:      info,
		startTime: time.Now(),
		state:     "configured",
		control:   ctrl,
	}
}

// Run creates the program; the caller runs it and feeds it StatusMsg values
func Run(info Info, ctrl *Control) *tea.Program {
	return tea.NewProgram(NewModel(info, ctrl), tea.WithAltScreen())
}
