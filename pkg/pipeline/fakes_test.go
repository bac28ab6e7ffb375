package pipeline_test

import (
	"context"
	"errors"
	"path"
	"path/filepath"
	"sync"

	"snsgrab/pkg/checkpoint"
	errs "snsgrab/pkg/errors"
	"snsgrab/pkg/harvest"
	"snsgrab/pkg/metadata"
	"snsgrab/pkg/models"
)

// fakeHarvester emits a scripted list of outcomes per query
type fakeHarvester struct {
	outcomes map[string][]harvest.Outcome
	queries  []harvest.Query
	// afterEmit runs after every emitted outcome
	afterEmit func(n int)
	err       error
}

func (h *fakeHarvester) Run(ctx context.Context, q harvest.Query, emit func(harvest.Outcome) bool) (harvest.Stats, error) {
	h.queries = append(h.queries, q)
	var stats harvest.Stats
	for _, out := range h.outcomes[q.Account] {
		stats.Seen++
		if !emit(out) {
			return stats, nil
		}
		if h.afterEmit != nil {
			h.afterEmit(stats.Seen)
		}
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
	}
	stats.StopReason = harvest.StopExhausted
	return stats, h.err
}

type fakeResolver struct {
	mu    sync.Mutex
	items map[string]*models.Item
	calls []string
}

func (r *fakeResolver) Candidate(id string) harvest.Candidate {
	return harvest.Candidate{ID: id, URL: "/p/" + id + "/"}
}

func (r *fakeResolver) ResolveDetail(ctx context.Context, c harvest.Candidate) (*models.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c.ID)
	item, ok := r.items[c.ID]
	if !ok {
		return nil, errs.New(errs.ErrorTypeFetch, "gone")
	}
	return item, nil
}

type fakeImages struct {
	mu   sync.Mutex
	fail map[string]bool
	urls []string
}

func (d *fakeImages) DownloadRef(ctx context.Context, ref models.MediaRef, dest string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, ref.URL)
	return !d.fail[ref.URL]
}

func (d *fakeImages) downloaded() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

type fakeVideos struct {
	mu    sync.Mutex
	ok    bool
	pages []string
	// ext is appended to the last path element of the page as the file
	// the extractor wrote
	ext string
}

func (v *fakeVideos) Download(ctx context.Context, pageURL, dir string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pages = append(v.pages, pageURL)
	if !v.ok {
		return "", false
	}
	return filepath.Join(dir, path.Base(pageURL)+v.ext), true
}

// recordingSink reports the listed post ids as duplicates
type recordingSink struct {
	mu         sync.Mutex
	duplicates map[string]bool
	records    []metadata.Record
}

func (s *recordingSink) InsertUnique(ctx context.Context, rec metadata.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.duplicates[rec.PostID] {
		return errs.New(errs.ErrorTypeDuplicate, rec.PostID)
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *recordingSink) Close(ctx context.Context) error { return nil }

func (s *recordingSink) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.records))
	for _, rec := range s.records {
		ids = append(ids, rec.PostID)
	}
	return ids
}

func (s *recordingSink) record(id string) *metadata.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].PostID == id {
			rec := s.records[i]
			return &rec
		}
	}
	return nil
}

// brokenStore loads from an embedded store but never saves
type brokenStore struct {
	*checkpoint.Store
}

func (brokenStore) Save(ctx context.Context, snap *checkpoint.Snapshot) (string, error) {
	return "", errors.New("disk full")
}

func image(id string, n int) models.MediaRef {
	base := id + "-" + string(rune('a'+n))
	return models.MediaRef{URL: "https://cdn.test/" + base + ".jpg", Kind: models.MediaImage, Basename: base, Ext: ".jpg"}
}

func post(id string, refs ...models.MediaRef) *models.Item {
	return &models.Item{ID: id, URL: "/p/" + id + "/", Text: "post " + id, Media: refs}
}

func ok(item *models.Item) harvest.Outcome {
	return harvest.Outcome{Candidate: harvest.Candidate{ID: item.ID, URL: item.URL}, Item: item}
}

func failed(id string) harvest.Outcome {
	return harvest.Outcome{Candidate: harvest.Candidate{ID: id}, Err: errs.New(errs.ErrorTypeFetch, "boom")}
}
