package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"snsgrab/pkg/models"
	"snsgrab/pkg/ui"
)

var stageTitles = map[ui.Stage]string{
	ui.StageResume:     "Resume",
	ui.StageDiscover:   "Discover",
	ui.StageDownload:   "Download",
	ui.StageCheckpoint: "Checkpoint",
}

// View renders the entire TUI
func (m *Model) View() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	var sections []string
	sections = append(sections, logoStyle.Width(m.width).Render(ui.ASCIILogo))

	width := (m.width - 4) / 2
	left := lipgloss.JoinVertical(lipgloss.Left,
		m.renderStagesPanel(width),
		m.renderResultPanel(width),
	)
	right := m.renderLogsPanel(width)
	sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right))

	if m.showHelp {
		sections = append(sections, m.renderHelp())
	} else {
		sections = append(sections, helpStyle.Render("Press ? for help"))
	}

	return baseStyle.Width(m.width).Height(m.height).Render(
		lipgloss.JoinVertical(lipgloss.Left, sections...),
	)
}

// renderStagesPanel renders one row per pipeline stage
func (m *Model) renderStagesPanel(width int) string {
	title := titleStyle.Render(" " + strings.ToUpper(m.subject) + " ")
	elapsed := time.Since(m.sessionStartTime)

	rows := []string{
		fmt.Sprintf("%s %s", statsLabelStyle.Render("Session Time:"), statsValueStyle.Render(formatDuration(elapsed))),
	}
	for _, stage := range stageOrder {
		rows = append(rows, m.renderStage(m.stages[stage], width-6))
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(rows, "\n")),
	)
}

func (m *Model) renderStage(st *StageItem, width int) string {
	var marker string
	switch st.State {
	case StagePending:
		marker = pendingStyle.Render("·")
	case StageActive:
		marker = m.spinner.View()
	case StageDone:
		marker = successStyle.Render("✓")
	}

	label := fmt.Sprintf("%s %-10s", marker, stageTitles[st.Stage])
	var count string
	if st.Total > 0 {
		count = fmt.Sprintf("%d/%d", st.Done, st.Total)
	} else {
		count = fmt.Sprintf("%d", st.Done)
	}
	if st.Failed > 0 {
		count += " " + errorStyle.Render(fmt.Sprintf("(%d failed)", st.Failed))
	}

	line := label + " " + statsValueStyle.Render(count)
	if st.State != StageActive || st.Total <= 0 {
		return line
	}

	bar := m.progress
	bar.Width = width - 4
	if bar.Width < 10 {
		bar.Width = 10
	}
	return lipgloss.JoinVertical(lipgloss.Left, line, "  "+bar.ViewAs(st.Fraction()))
}

// renderResultPanel renders the bucket counts once the run is over
func (m *Model) renderResultPanel(width int) string {
	title := titleStyle.Render(" RESULT ")
	if m.result == nil {
		return panelStyle.Width(width).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, pendingStyle.Render("Running...")),
		)
	}

	var rows []string
	for _, k := range models.Kinds {
		n := m.result.Counts[k.String()]
		style := statsValueStyle
		if k != models.KindSucceeded && n > 0 {
			style = warningStyle
		}
		rows = append(rows, fmt.Sprintf("%s %s", statsLabelStyle.Render(fmt.Sprintf("%-22s", k.String())), style.Render(fmt.Sprint(n))))
	}
	if m.result.Snapshot != "" {
		rows = append(rows, "", warningStyle.Render("Snapshot: "+m.result.Snapshot))
	}
	if m.result.Err != nil {
		rows = append(rows, "", errorStyle.Render(m.result.Err.Error()))
	}
	rows = append(rows, "", helpStyle.Render("Press q to exit"))

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(rows, "\n")),
	)
}

// renderLogsPanel renders the logs panel
func (m *Model) renderLogsPanel(width int) string {
	title := titleStyle.Render(" LOGS ")

	start := len(m.logMessages) - 10
	if start < 0 {
		start = 0
	}

	var logs []string
	for _, log := range m.logMessages[start:] {
		timestamp := logTimestampStyle.Render(log.Time.Format("15:04:05"))
		level := lipgloss.NewStyle().Foreground(log.Color).Bold(true).Render(fmt.Sprintf("[%-7s]", log.Level))

		msg := log.Message
		if maxLen := width - 25; maxLen > 3 && len(msg) > maxLen {
			msg = msg[:maxLen-3] + "..."
		}
		logs = append(logs, fmt.Sprintf("%s %s %s", timestamp, level, logMessageStyle.Render(msg)))
	}

	content := strings.Join(logs, "\n")
	if content == "" {
		content = pendingStyle.Render("No logs yet...")
	}

	logsHeight := m.height - 20
	if logsHeight < 5 {
		logsHeight = 5
	}

	return panelStyle.Width(width).Height(logsHeight).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, content),
	)
}

// renderHelp renders the help panel
func (m *Model) renderHelp() string {
	help := `
  Keys:
    q/Q      - Cancel the run and quit
    ctrl+l   - Clear logs
    ?        - Toggle this help

  Status:
    ` + successStyle.Render("✓") + `        - Stage done
    ` + pendingStyle.Render("·") + `        - Stage pending
    ` + errorStyle.Render("(n failed)") + ` - Items that go to the resume snapshot
`
	return panelStyle.Width(m.width).Render(help)
}

// formatDuration formats a duration as [hh:]mm:ss
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "00:00"
	}

	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
