package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"snsgrab/pkg/models"
)

// Layout maps items to their place under the output directory:
// {base}/{platform}/{subject}/{kind}/{YYYY}/{MM}/{basename}{ext}
type Layout struct {
	base string
}

// NewLayout creates a layout rooted at base, creating it when missing
func NewLayout(base string) (*Layout, error) {
	if base == "" {
		base = "."
	}
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Layout{base: base}, nil
}

// Base returns the output root
func (l *Layout) Base() string {
	return l.base
}

// SubjectDir is the root for everything stored about one subject
func (l *Layout) SubjectDir(platform, subject string) string {
	return filepath.Join(l.base, platform, subject)
}

// Dir is the directory receiving media of the given kind posted at ts.
// The month is taken in UTC so a subject's tree does not depend on the
// machine's zone; an unknown timestamp maps to 0000/00.
func (l *Layout) Dir(platform, subject string, kind models.MediaKind, ts time.Time) string {
	year, month := "0000", "00"
	if !ts.IsZero() {
		utc := ts.UTC()
		year = fmt.Sprintf("%04d", utc.Year())
		month = fmt.Sprintf("%02d", int(utc.Month()))
	}
	return filepath.Join(l.SubjectDir(platform, subject), string(kind), year, month)
}

// Path is the destination file for one media ref of an item
func (l *Layout) Path(platform, subject string, item models.Item, ref models.MediaRef) string {
	return filepath.Join(l.Dir(platform, subject, ref.Kind, item.Timestamp), ref.Filename())
}

// Present reports whether every media target of item exists with non-zero
// size. Video refs without a known extension match any file sharing the
// basename.
func (l *Layout) Present(platform, subject string, item models.Item) bool {
	for _, ref := range item.Media {
		if ref.Kind == models.MediaVideo && ref.Ext == "" {
			if !l.videoPresent(l.Dir(platform, subject, ref.Kind, item.Timestamp), ref.Basename) {
				return false
			}
			continue
		}
		if !NonEmpty(l.Path(platform, subject, item, ref)) {
			return false
		}
	}
	return true
}

func (l *Layout) videoPresent(dir, basename string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasSuffix(name, ".part") {
			continue
		}
		if strings.TrimSuffix(name, filepath.Ext(name)) == basename && NonEmpty(filepath.Join(dir, name)) {
			return true
		}
	}
	return false
}

// NonEmpty reports whether path is a regular file with non-zero size
func NonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// WriteFileAtomic writes data from r to path through a temporary file and rename
func WriteFileAtomic(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile := path + ".tmp"
	out, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	_, err = io.Copy(out, r)
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to write data: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}
