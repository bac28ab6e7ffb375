package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	errs "snsgrab/pkg/errors"
	"snsgrab/pkg/logger"
	"snsgrab/pkg/metadata"
	"snsgrab/pkg/storage"
)

// FileSink writes a JSON sidecar per post under
// <base>/<platform>/<user>/metadata/<post_id>.json
type FileSink struct {
	layout   *storage.Layout
	platform string
	log      logger.Logger
	mu       sync.Mutex
}

// NewFileSink creates a file sink
func NewFileSink(layout *storage.Layout, platform string, log logger.Logger) *FileSink {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &FileSink{layout: layout, platform: platform, log: log}
}

// Path returns the sidecar location of rec
func (s *FileSink) Path(rec metadata.Record) string {
	return filepath.Join(s.layout.SubjectDir(s.platform, rec.User), "metadata", rec.PostID+".json")
}

func (s *FileSink) InsertUnique(ctx context.Context, rec metadata.Record) error {
	if rec.PostID == "" {
		return errs.New(errs.ErrorTypeInvalidInput, "record without post_id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(rec)
	if _, err := os.Stat(path); err == nil {
		return errs.New(errs.ErrorTypeDuplicate, fmt.Sprintf("post %s already recorded", rec.PostID))
	}
	if err := rec.Save(path); err != nil {
		return err
	}
	s.log.DebugWithFields("Record written", map[string]interface{}{"post_id": rec.PostID, "path": path})
	return nil
}

func (s *FileSink) Close(ctx context.Context) error { return nil }
