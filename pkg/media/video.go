package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	goretry "github.com/sethvargo/go-retry"
	errs "snsgrab/pkg/errors"
	"snsgrab/pkg/logger"
)

// Extractor saves the video embedded in a page into dir and returns the
// basename of the written file
type Extractor interface {
	Extract(ctx context.Context, pageURL, dir string) (string, error)
}

// VideoDownloader retries an Extractor with a bounded constant backoff
type VideoDownloader struct {
	extractor  Extractor
	maxRetries int
	delay      time.Duration
	log        logger.Logger
}

// NewVideoDownloader creates a video downloader
func NewVideoDownloader(ex Extractor, maxRetries int, delay time.Duration, log logger.Logger) *VideoDownloader {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if delay <= 0 {
		delay = time.Millisecond
	}
	return &VideoDownloader{extractor: ex, maxRetries: maxRetries, delay: delay, log: log}
}

// Download extracts the video on pageURL into dir
func (v *VideoDownloader) Download(ctx context.Context, pageURL, dir string) (string, bool) {
	log := v.log.WithFields(map[string]interface{}{"page": pageURL, "dir": dir})

	var filename string
	attempt := 0
	backoff := goretry.WithMaxRetries(uint64(v.maxRetries), goretry.NewConstant(v.delay))
	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		name, err := v.extractor.Extract(ctx, pageURL, dir)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.WarnWithFields("Video extraction failed", map[string]interface{}{
				"attempt": attempt,
				"error":   err.Error(),
			})
			return goretry.RetryableError(err)
		}
		filename = name
		return nil
	})
	if err != nil {
		log.WithError(err).Error("Video download failed")
		return "", false
	}
	return filename, true
}

// CommandExtractor runs yt-dlp or a compatible tool
type CommandExtractor struct {
	Tool   string
	Format string
	// Run executes the command and returns stdout; tests replace it
	Run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewCommandExtractor creates an extractor for tool, defaulting to yt-dlp
func NewCommandExtractor(tool string) *CommandExtractor {
	if tool == "" {
		tool = "yt-dlp"
	}
	return &CommandExtractor{Tool: tool, Format: "bestvideo+bestaudio/best", Run: runCommand}
}

// Args builds the command line for one extraction
func (c *CommandExtractor) Args(pageURL, dir string) []string {
	args := []string{
		"-f", c.Format,
		"-o", filepath.Join(dir, "%(id)s.%(ext)s"),
		"--no-progress",
	}
	if !strings.Contains(filepath.Base(c.Tool), "youtube-dl") {
		args = append(args, "--print", "after_move:filepath")
	}
	return append(args, pageURL)
}

// Extract runs the tool. The written file is taken from the printed path or,
// for tools that cannot print it, from the files that appeared in dir.
func (c *CommandExtractor) Extract(ctx context.Context, pageURL, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	before := listFiles(dir)

	out, err := c.Run(ctx, c.Tool, c.Args(pageURL, dir)...)
	if err != nil {
		return "", errs.Wrap(errs.ErrorTypeDownload, err, c.Tool)
	}

	if name := lastLine(out); name != "" {
		return filepath.Base(name), nil
	}
	for name := range listFiles(dir) {
		if _, ok := before[name]; !ok && !strings.HasSuffix(name, ".part") {
			return name, nil
		}
	}
	return "", errs.New(errs.ErrorTypeDownload, "extractor reported no output file")
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return out, err
	}
	return out, nil
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

func listFiles(dir string) map[string]struct{} {
	files := make(map[string]struct{})
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if !e.IsDir() {
			files[e.Name()] = struct{}{}
		}
	}
	return files
}
