package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"snsgrab/pkg/models"
)

type stageProgress struct {
	total  int
	done   int
	failed int
	start  time.Time
}

// Console prints a single-line progress bar per stage. In verbose mode each
// item gets its own line instead.
type Console struct {
	mu      sync.Mutex
	w       io.Writer
	verbose bool
	stages  map[Stage]*stageProgress
	started time.Time
}

// NewConsole creates a console reporter writing to w
func NewConsole(w io.Writer, verbose bool) *Console {
	return &Console{
		w:       w,
		verbose: verbose,
		stages:  make(map[Stage]*stageProgress),
		started: time.Now(),
	}
}

var stageLabels = map[Stage]string{
	StageResume:     "Resuming",
	StageDiscover:   "Discovering",
	StageDownload:   "Downloading",
	StageCheckpoint: "Checkpointing",
}

func (c *Console) Start(stage Stage, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stages[stage] = &stageProgress{total: total, start: time.Now()}
	if c.verbose {
		fmt.Fprintf(c.w, "%s %s\n", Magenta("→"), stageLabels[stage])
	}
}

func (c *Console) Advance(stage Stage, id string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.stages[stage]
	if p == nil {
		p = &stageProgress{start: time.Now()}
		c.stages[stage] = p
	}
	p.done++
	if !ok {
		p.failed++
	}

	if c.verbose {
		mark := Green("✓")
		if !ok {
			mark = Red("✗")
		}
		fmt.Fprintf(c.w, "  %s %s\n", mark, id)
		return
	}
	c.printProgress(stage, p, id)
}

func (c *Console) Finish(stage Stage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.stages[stage]
	if p == nil || c.verbose {
		return
	}
	if p.done > 0 {
		fmt.Fprintln(c.w)
	}
}

// Result prints the bucket summary of a run
func (c *Console) Result(subject string, counts map[string]int, snapshot string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.started)
	mark := Green("✓")
	if err != nil {
		mark = Red("✗")
	}
	fmt.Fprintf(c.w, "\n%s %s in %s\n", mark, Cyan(subject), formatDuration(elapsed))

	for _, k := range models.Kinds {
		name := k.String()
		n := counts[name]
		line := fmt.Sprintf("%-22s %d", name, n)
		if k != models.KindSucceeded && n > 0 {
			line = Yellow(line)
		}
		fmt.Fprintf(c.w, "  %s %s\n", Dim("•"), line)
	}
	if snapshot != "" {
		fmt.Fprintf(c.w, "  %s resume with snapshot %s\n", Dim("•"), Yellow(snapshot))
	}
	if err != nil {
		fmt.Fprintf(c.w, "  %s %s\n", Dim("•"), Red(err.Error()))
	}
}

// printProgress redraws the progress line of stage
func (c *Console) printProgress(stage Stage, p *stageProgress, id string) {
	elapsed := time.Since(p.start)

	const barWidth = 20
	var bar, count string
	if p.total > 0 {
		progress := float64(p.done) / float64(p.total)
		if progress > 1 {
			progress = 1
		}
		filled := int(progress * barWidth)
		bar = strings.Repeat("━", filled) + strings.Repeat("─", barWidth-filled)
		count = fmt.Sprintf("%d/%d", p.done, p.total)
	} else {
		bar = strings.Repeat("─", barWidth)
		count = fmt.Sprintf("%d", p.done)
	}

	line := fmt.Sprintf("%s [%s] %s • %s • %s",
		Cyan(stageLabels[stage]),
		bar,
		count,
		c.rate(p, elapsed),
		eta(p, elapsed),
	)
	if id != "" {
		line += fmt.Sprintf(" • %s", id)
	}
	if p.failed > 0 {
		line += fmt.Sprintf(" • %s", Red(fmt.Sprintf("%d failed", p.failed)))
	}

	fmt.Fprintf(c.w, "\r%s\r%s", strings.Repeat(" ", 120), line)
}

func (c *Console) rate(p *stageProgress, elapsed time.Duration) string {
	if elapsed < time.Second {
		return "-/min"
	}
	return fmt.Sprintf("%.1f/min", float64(p.done)/elapsed.Minutes())
}

// eta estimates the time left in a stage with a known total
func eta(p *stageProgress, elapsed time.Duration) string {
	if p.total == 0 || p.done == 0 {
		return "calculating..."
	}
	remaining := p.total - p.done
	if remaining <= 0 {
		return "0s"
	}
	perItem := elapsed / time.Duration(p.done)
	return formatDuration(perItem * time.Duration(remaining))
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
