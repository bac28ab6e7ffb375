package ui

// Stage names a step of a pipeline run
type Stage string

const (
	StageResume     Stage = "resume_loading"
	StageDiscover   Stage = "discovering"
	StageDownload   Stage = "downloading"
	StageCheckpoint Stage = "checkpointing"
)

// Reporter receives per-stage progress. Implementations must be safe for
// concurrent Advance calls from the download workers.
type Reporter interface {
	// Start begins a stage; total is 0 when unknown
	Start(stage Stage, total int)
	Advance(stage Stage, id string, ok bool)
	Finish(stage Stage)
	// Result reports the final bucket counts and the snapshot key, if any
	Result(subject string, counts map[string]int, snapshot string, err error)
}

// Nop discards all progress
type Nop struct{}

func (Nop) Start(Stage, int) {}
func (Nop) Advance(Stage, string, bool) {}
func (Nop) Finish(Stage) {}
func (Nop) Result(string, map[string]int, string, error) {}
