package tui

import (
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"snsgrab/pkg/ui"
)

// StageState represents where a pipeline stage is
type StageState int

const (
	StagePending StageState = iota
	StageActive
	StageDone
)

// StageItem tracks progress of one pipeline stage
type StageItem struct {
	Stage     ui.Stage
	Total     int
	Done      int
	Failed    int
	State     StageState
	LastID    string
	StartTime time.Time
	EndTime   time.Time
}

// Fraction is the completed share of a stage with a known total
func (s *StageItem) Fraction() float64 {
	if s.Total <= 0 {
		return 0
	}
	f := float64(s.Done) / float64(s.Total)
	if f > 1 {
		f = 1
	}
	return f
}

// RunResult is the final report of a run
type RunResult struct {
	Subject  string
	Counts   map[string]int
	Snapshot string
	Err      error
}

// LogMessage represents a log entry
type LogMessage struct {
	Time    time.Time
	Level   string
	Message string
	Color   lipgloss.Color
}

// stageOrder is the order stages are drawn in
var stageOrder = []ui.Stage{ui.StageResume, ui.StageDiscover, ui.StageDownload, ui.StageCheckpoint}

// Model represents the TUI model
type Model struct {
	spinner  spinner.Model
	progress progress.Model

	subject string
	stages  map[ui.Stage]*StageItem
	result  *RunResult

	sessionStartTime time.Time

	width          int
	height         int
	showHelp       bool
	onQuit         func()
	logMessages    []LogMessage
	maxLogMessages int

	mu sync.RWMutex
}

// NewModel creates a new TUI model for one run
func NewModel(subject string, onQuit func()) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(neonCyan)

	p := progress.New(progress.WithDefaultGradient())
	p.Width = 40

	stages := make(map[ui.Stage]*StageItem, len(stageOrder))
	for _, st := range stageOrder {
		stages[st] = &StageItem{Stage: st}
	}

	return &Model{
		spinner:          s,
		progress:         p,
		subject:          subject,
		stages:           stages,
		sessionStartTime: time.Now(),
		onQuit:           onQuit,
		maxLogMessages:   50,
	}
}

// Init initializes the model
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

// StartStage marks a stage as active
func (m *Model) StartStage(stage ui.Stage, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.stage(stage)
	st.State = StageActive
	st.Total = total
	st.Done = 0
	st.Failed = 0
	st.StartTime = time.Now()
}

// AdvanceStage records one processed item
func (m *Model) AdvanceStage(stage ui.Stage, id string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.stage(stage)
	if st.State == StagePending {
		st.State = StageActive
		st.StartTime = time.Now()
	}
	st.Done++
	st.LastID = id
	if !ok {
		st.Failed++
	}
}

// FinishStage marks a stage as done
func (m *Model) FinishStage(stage ui.Stage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.stage(stage)
	st.State = StageDone
	st.EndTime = time.Now()
}

// SetResult stores the final report
func (m *Model) SetResult(r RunResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.result = &r
}

// Stage returns a copy of a stage's progress
func (m *Model) Stage(stage ui.Stage) StageItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.stages[stage]; ok {
		return *st
	}
	return StageItem{Stage: stage}
}

// Result returns the final report, or nil while running
func (m *Model) Result() *RunResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.result
}

func (m *Model) stage(stage ui.Stage) *StageItem {
	st, ok := m.stages[stage]
	if !ok {
		st = &StageItem{Stage: stage}
		m.stages[stage] = st
	}
	return st
}

// AddLogMessage adds a log message
func (m *Model) AddLogMessage(level, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	color := dimWhite
	switch level {
	case "ERROR":
		color = lipgloss.Color("#FF0000")
	case "WARN":
		color = neonOrange
	case "SUCCESS":
		color = neonGreen
	case "INFO":
		color = neonCyan
	}

	m.logMessages = append(m.logMessages, LogMessage{
		Time:    time.Now(),
		Level:   level,
		Message: message,
		Color:   color,
	})

	if len(m.logMessages) > m.maxLogMessages {
		m.logMessages = m.logMessages[len(m.logMessages)-m.maxLogMessages:]
	}
}

// Logs returns a copy of the retained log messages
func (m *Model) Logs() []LogMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]LogMessage(nil), m.logMessages...)
}
