package models

import (
	"fmt"
	"time"
)

// MediaKind names the type of a downloadable resource
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// ParseMediaKind accepts "image" or "video"
func ParseMediaKind(s string) (MediaKind, error) {
	switch MediaKind(s) {
	case MediaImage, MediaVideo:
		return MediaKind(s), nil
	}
	return "", fmt.Errorf("media type must be image or video, got %q", s)
}

// MediaRef is one downloadable resource belonging to an Item
type MediaRef struct {
	URL         string    `json:"url"`
	Kind        MediaKind `json:"kind"`
	Basename    string    `json:"basename"`
	Ext         string    `json:"ext,omitempty"`
	FallbackURL string    `json:"fallback_url,omitempty"`
}

// Filename is the basename plus extension
func (r MediaRef) Filename() string {
	return r.Basename + r.Ext
}

// Item is one discovered post
type Item struct {
	ID        string     `json:"id"`
	Order     int        `json:"order"`
	URL       string     `json:"url"`
	Timestamp time.Time  `json:"timestamp"`
	Text      string     `json:"text,omitempty"`
	Location  string     `json:"location,omitempty"`
	Media     []MediaRef `json:"media"`
}

// HasTimestamp reports whether the post time is known
func (i Item) HasTimestamp() bool {
	return !i.Timestamp.IsZero()
}

// WithMedia returns a copy of the item carrying only refs
func (i Item) WithMedia(refs []MediaRef) Item {
	out := i
	out.Media = append([]MediaRef(nil), refs...)
	return out
}
