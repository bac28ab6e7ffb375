package tui

import (
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"snsgrab/pkg/ui"
)

// TUI is a full-screen ui.Reporter
type TUI struct {
	program *tea.Program
	model   *Model
}

var _ ui.Reporter = (*TUI)(nil)

// NewTUI creates a TUI for subject. onQuit is called when the user quits
// before the run has finished.
func NewTUI(subject string, onQuit func(), opts ...tea.ProgramOption) *TUI {
	model := NewModel(subject, onQuit)
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	return &TUI{
		program: tea.NewProgram(model, opts...),
		model:   model,
	}
}

// NewHeadless creates a TUI that renders to out without a terminal
func NewHeadless(subject string, out io.Writer) *TUI {
	return NewTUI(subject, nil, tea.WithInput(nil), tea.WithOutput(out))
}

// Run runs the UI loop until quit
func (t *TUI) Run() error {
	_, err := t.program.Run()
	return err
}

// Stop stops the TUI gracefully
func (t *TUI) Stop() {
	t.program.Quit()
}

// Wait blocks until the UI loop has exited
func (t *TUI) Wait() {
	t.program.Wait()
}

// Model exposes the state for inspection
func (t *TUI) Model() *Model {
	return t.model
}

func (t *TUI) Start(stage ui.Stage, total int) {
	t.program.Send(StageStartMsg{Stage: stage, Total: total})
}

func (t *TUI) Advance(stage ui.Stage, id string, ok bool) {
	t.program.Send(AdvanceMsg{Stage: stage, ID: id, OK: ok})
}

func (t *TUI) Finish(stage ui.Stage) {
	t.program.Send(StageFinishMsg{Stage: stage})
}

func (t *TUI) Result(subject string, counts map[string]int, snapshot string, err error) {
	t.program.Send(ResultMsg{Subject: subject, Counts: counts, Snapshot: snapshot, Err: err})
}

// Logf adds a line to the log panel
func (t *TUI) Logf(level, format string, args ...interface{}) {
	t.program.Send(LogMsg{Level: level, Message: fmt.Sprintf(format, args...)})
}
