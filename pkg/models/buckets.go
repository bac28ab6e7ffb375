package models

import (
	"errors"
	"fmt"
)

// Kind names one of the four outcome buckets
type Kind int

const (
	KindSucceeded Kind = iota
	KindFetchFailed
	KindDownloadFailed
	KindVideoDownloadFailed
)

var kindNames = [...]string{"succeeded", "fetch_failed", "download_failed", "video_download_failed"}

// Kinds lists every bucket in snapshot order
var Kinds = []Kind{KindSucceeded, KindFetchFailed, KindDownloadFailed, KindVideoDownloadFailed}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Buckets classifies the outcome of a pass.
// DownloadFailed and VideoDownloadFailed are projections of Succeeded items
// carrying only the refs that still fail.
type Buckets struct {
	Succeeded           []Item   `json:"succeeded"`
	FetchFailed         []string `json:"fetch_failed"`
	DownloadFailed      []Item   `json:"download_failed"`
	VideoDownloadFailed []Item   `json:"video_download_failed"`
}

// Empty reports whether every bucket is empty
func (b *Buckets) Empty() bool {
	return len(b.Succeeded) == 0 && !b.NeedsResume()
}

// NeedsResume reports whether any failure bucket holds work
func (b *Buckets) NeedsResume() bool {
	return len(b.FetchFailed) > 0 || len(b.DownloadFailed) > 0 || len(b.VideoDownloadFailed) > 0
}

// Len returns the size of one bucket
func (b *Buckets) Len(k Kind) int {
	switch k {
	case KindSucceeded:
		return len(b.Succeeded)
	case KindFetchFailed:
		return len(b.FetchFailed)
	case KindDownloadFailed:
		return len(b.DownloadFailed)
	case KindVideoDownloadFailed:
		return len(b.VideoDownloadFailed)
	}
	return 0
}

// Counts returns the size of every bucket keyed by bucket name
func (b *Buckets) Counts() map[string]int {
	counts := make(map[string]int, len(Kinds))
	for _, k := range Kinds {
		counts[k.String()] = b.Len(k)
	}
	return counts
}

// Normalize replaces nil slices with empty ones so snapshots encode [] rather than null
func (b *Buckets) Normalize() {
	if b.Succeeded == nil {
		b.Succeeded = []Item{}
	}
	if b.FetchFailed == nil {
		b.FetchFailed = []string{}
	}
	if b.DownloadFailed == nil {
		b.DownloadFailed = []Item{}
	}
	if b.VideoDownloadFailed == nil {
		b.VideoDownloadFailed = []Item{}
	}
}

// Validate checks that no identifier is both fetched and failed, that the
// download buckets only reference succeeded items, and that no bucket holds
// the same identifier twice.
func (b *Buckets) Validate() error {
	var errs []error

	succeeded := make(map[string]struct{}, len(b.Succeeded))
	for _, it := range b.Succeeded {
		if it.ID == "" {
			errs = append(errs, errors.New("succeeded: item with empty id"))
			continue
		}
		if _, dup := succeeded[it.ID]; dup {
			errs = append(errs, fmt.Errorf("succeeded: duplicate id %s", it.ID))
		}
		succeeded[it.ID] = struct{}{}
	}

	failed := make(map[string]struct{}, len(b.FetchFailed))
	for _, id := range b.FetchFailed {
		if _, dup := failed[id]; dup {
			errs = append(errs, fmt.Errorf("fetch_failed: duplicate id %s", id))
		}
		failed[id] = struct{}{}
		if _, ok := succeeded[id]; ok {
			errs = append(errs, fmt.Errorf("id %s is in both succeeded and fetch_failed", id))
		}
	}

	subset := func(kind Kind, items []Item) {
		seen := make(map[string]struct{}, len(items))
		for _, it := range items {
			if _, dup := seen[it.ID]; dup {
				errs = append(errs, fmt.Errorf("%s: duplicate id %s", kind, it.ID))
			}
			seen[it.ID] = struct{}{}
			if _, ok := succeeded[it.ID]; !ok {
				errs = append(errs, fmt.Errorf("%s: id %s is not in succeeded", kind, it.ID))
			}
		}
	}
	subset(KindDownloadFailed, b.DownloadFailed)
	subset(KindVideoDownloadFailed, b.VideoDownloadFailed)

	return errors.Join(errs...)
}

// IDs returns the identifiers of items in order
func IDs(items []Item) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}
