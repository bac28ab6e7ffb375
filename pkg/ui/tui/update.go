package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"snsgrab/pkg/ui"
)

// StageStartMsg is sent when a stage begins
type StageStartMsg struct {
	Stage ui.Stage
	Total int
}

// AdvanceMsg is sent for every processed item
type AdvanceMsg struct {
	Stage ui.Stage
	ID    string
	OK    bool
}

// StageFinishMsg is sent when a stage ends
type StageFinishMsg struct {
	Stage ui.Stage
}

// ResultMsg carries the final report of the run
type ResultMsg RunResult

// LogMsg is sent to add a log message
type LogMsg struct {
	Level   string
	Message string
}

// TickMsg is sent periodically to update the UI
type TickMsg time.Time

// Update handles all messages and updates the model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.mu.Lock()
		m.width = msg.Width
		m.height = msg.Height
		m.mu.Unlock()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case TickMsg:
		return m, tickCmd()

	case StageStartMsg:
		m.StartStage(msg.Stage, msg.Total)
		m.AddLogMessage("INFO", "Stage started: "+string(msg.Stage))
		return m, nil

	case AdvanceMsg:
		m.AdvanceStage(msg.Stage, msg.ID, msg.OK)
		if !msg.OK {
			m.AddLogMessage("WARN", fmt.Sprintf("%s failed: %s", msg.Stage, msg.ID))
		}
		return m, nil

	case StageFinishMsg:
		m.FinishStage(msg.Stage)
		return m, nil

	case ResultMsg:
		m.SetResult(RunResult(msg))
		if msg.Err != nil {
			m.AddLogMessage("ERROR", msg.Err.Error())
		} else {
			m.AddLogMessage("SUCCESS", "Run finished for "+msg.Subject)
		}
		return m, nil

	case LogMsg:
		m.AddLogMessage(msg.Level, msg.Message)
		return m, nil
	}

	return m, nil
}

// handleKeyPress handles keyboard input
func (m *Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "Q", "ctrl+c":
		if m.onQuit != nil && m.Result() == nil {
			m.AddLogMessage("WARN", "Cancelling run")
			m.onQuit()
		}
		return m, tea.Quit

	case "?":
		m.showHelp = !m.showHelp
		return m, nil

	case "ctrl+l":
		m.mu.Lock()
		m.logMessages = nil
		m.mu.Unlock()
		return m, nil
	}

	return m, nil
}

// tickCmd returns a command that sends a tick message
func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*100, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
