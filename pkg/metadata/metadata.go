package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"snsgrab/pkg/models"
	"snsgrab/pkg/storage"
)

// Record is the per-post document written to a sink
type Record struct {
	PostID    string       `json:"post_id" bson:"post_id"`
	User      string       `json:"user" bson:"user"`
	Timestamp *time.Time   `json:"timestamp" bson:"timestamp"`
	Location  string       `json:"location" bson:"location"`
	Text      string       `json:"text" bson:"text"`
	Media     []MediaEntry `json:"media" bson:"media"`
}

// MediaEntry names one stored media file
type MediaEntry struct {
	Type     string `json:"type" bson:"type"`
	Filename string `json:"filename" bson:"filename"`
}

// FromItem builds the record for an item harvested for user
func FromItem(user string, item models.Item) Record {
	rec := Record{
		PostID:   item.ID,
		User:     user,
		Location: item.Location,
		Text:     item.Text,
		Media:    make([]MediaEntry, 0, len(item.Media)),
	}
	if item.HasTimestamp() {
		ts := item.Timestamp.UTC()
		rec.Timestamp = &ts
	}
	for _, ref := range item.Media {
		rec.Media = append(rec.Media, MediaEntry{Type: string(ref.Kind), Filename: ref.Filename()})
	}
	return rec
}

// Save writes the record as indented JSON at path
func (r *Record) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := storage.WriteFileAtomic(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// Load reads a record from path
func Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata file: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &rec, nil
}

// FormattedText returns the caption truncated for display
func (r *Record) FormattedText(maxLength int) string {
	runes := []rune(r.Text)
	if len(runes) <= maxLength || maxLength < 4 {
		return r.Text
	}
	return string(runes[:maxLength-3]) + "..."
}
