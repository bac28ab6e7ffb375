package pipeline

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"snsgrab/internal/downloader"
	"snsgrab/pkg/checkpoint"
	errs "snsgrab/pkg/errors"
	"snsgrab/pkg/harvest"
	"snsgrab/pkg/logger"
	"snsgrab/pkg/metadata"
	"snsgrab/pkg/models"
	"snsgrab/pkg/ratelimit"
	"snsgrab/pkg/sink"
	"snsgrab/pkg/ui"
)

const (
	// DefaultFetchLimit is how many fetch failures a resume run re-attempts
	DefaultFetchLimit  = 10
	DefaultConcurrency = 3
)

// State is a step of a run
type State string

const (
	StateResumeLoading State = "resume_loading"
	StateDiscovering   State = "discovering"
	StateDownloading   State = "downloading"
	StateCheckpointing State = "checkpointing"
	StateDone          State = "done"
)

// Harvester runs one discovery pass per query
type Harvester interface {
	Run(ctx context.Context, q harvest.Query, emit func(harvest.Outcome) bool) (harvest.Stats, error)
}

// SnapshotStore persists bucketed run state
type SnapshotStore interface {
	Save(ctx context.Context, snap *checkpoint.Snapshot) (string, error)
	Load(ctx context.Context, ref string) (*checkpoint.Snapshot, error)
}

// Layout places media on disk and checks whether it is already there
type Layout interface {
	downloader.Layout
	Present(platform, subject string, item models.Item) bool
}

// Deps are the collaborators of an Orchestrator
type Deps struct {
	Harvester  Harvester
	Resolver   harvest.Resolver
	Downloader downloader.RefDownloader
	Videos     downloader.VideoDownloader
	Store      SnapshotStore
	// Sink is optional
	Sink     sink.Sink
	Layout   Layout
	Logger   logger.Logger
	Reporter ui.Reporter
	// Limiter throttles media requests across download workers; optional
	Limiter ratelimit.Limiter
}

// Options tune an Orchestrator
type Options struct {
	Concurrency int
	// FetchLimit bounds how many fetch failures a resume run re-attempts
	FetchLimit int
	// SkipOnDuplicate skips the downloads of items the sink already holds
	SkipOnDuplicate bool
	// VerifyOnDisk only skips a duplicate when all its media files exist
	VerifyOnDisk bool
	// Pause spaces detail re-fetches on resume
	Pause time.Duration
}

// DefaultOptions returns the options used by the CLI when nothing is configured
func DefaultOptions() Options {
	return Options{
		Concurrency:     DefaultConcurrency,
		FetchLimit:      DefaultFetchLimit,
		SkipOnDuplicate: true,
		Pause:           5 * time.Second,
	}
}

// RunSpec describes one run for one subject
type RunSpec struct {
	Platform string
	// Subject is the real name used for paths and snapshots
	Subject string
	// Queries are harvested in order on a fresh run
	Queries []harvest.Query
	// Stop ends a pass softly; items it fires on are discarded
	Stop harvest.StopFunc
	// ResumeFrom is a snapshot key or path; when set no query is harvested
	ResumeFrom string
}

// Summary reports what a run did
type Summary struct {
	RunID    string
	Platform string
	Subject  string
	States   []State
	// Buckets holds the size of every bucket at the end of the run
	Buckets map[string]int
	// Snapshot is the key written, or ""
	Snapshot   string
	Skipped    int
	Downloaded int
	Passes     []harvest.Stats
	Duration   time.Duration
}

func (s *Summary) enter(st State) {
	s.States = append(s.States, st)
}

// Orchestrator drives one subject through discovery, download and checkpointing
type Orchestrator struct {
	deps Deps
	opts Options
}

// New creates an orchestrator, filling unset collaborators with no-ops
func New(deps Deps, opts Options) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = logger.NewNopLogger()
	}
	if deps.Reporter == nil {
		deps.Reporter = ui.Nop{}
	}
	if deps.Sink == nil {
		deps.Sink = sink.Nop{}
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = DefaultFetchLimit
	}
	return &Orchestrator{deps: deps, opts: opts}
}

// run is the mutable state of one Run
type run struct {
	spec RunSpec
	log  logger.Logger

	succeeded []models.Item
	position  map[string]int
	// fresh are positions in succeeded discovered by this run
	fresh       []int
	fetchFailed []string
	failed      map[string]bool
	nextOrder   int
}

func newRun(spec RunSpec, log logger.Logger) *run {
	return &run{
		spec:     spec,
		log:      log,
		position: make(map[string]int),
		failed:   make(map[string]bool),
	}
}

// collect records one outcome; it never ends the pass
func (r *run) collect(out harvest.Outcome) bool {
	id := out.Candidate.ID
	if out.Failed() {
		if _, ok := r.position[id]; ok || r.failed[id] || id == "" {
			return true
		}
		r.failed[id] = true
		r.fetchFailed = append(r.fetchFailed, id)
		return true
	}

	item := *out.Item
	if item.ID == "" {
		item.ID = id
	}
	if r.spec.Stop != nil && r.spec.Stop(&item) {
		r.log.DebugWithFields("Item past stop bound", map[string]interface{}{"id": item.ID})
		return true
	}
	if _, ok := r.position[item.ID]; ok {
		return true
	}
	if r.failed[item.ID] {
		r.dropFailed(item.ID)
	}
	r.add(item)
	r.fresh = append(r.fresh, len(r.succeeded)-1)
	return true
}

func (r *run) add(item models.Item) {
	item.Order = r.nextOrder
	r.nextOrder++
	r.position[item.ID] = len(r.succeeded)
	r.succeeded = append(r.succeeded, item)
}

func (r *run) dropFailed(id string) {
	delete(r.failed, id)
	for i, f := range r.fetchFailed {
		if f == id {
			r.fetchFailed = append(r.fetchFailed[:i:i], r.fetchFailed[i+1:]...)
			return
		}
	}
}

// Run executes spec. The Summary is returned even when err is non-nil, except
// for invalid input. A snapshot write failure is returned as an
// ErrorTypeSnapshotWrite error after everything else has completed.
func (o *Orchestrator) Run(ctx context.Context, spec RunSpec) (*Summary, error) {
	if spec.Platform == "" || spec.Subject == "" {
		return nil, errs.New(errs.ErrorTypeInvalidInput, "run needs a platform and a subject")
	}
	if spec.ResumeFrom == "" && len(spec.Queries) == 0 {
		return nil, errs.New(errs.ErrorTypeInvalidInput, "run needs at least one query or a snapshot")
	}

	start := time.Now()
	sum := &Summary{
		RunID:    uuid.NewString(),
		Platform: spec.Platform,
		Subject:  spec.Subject,
	}
	log := logger.ForRun(o.deps.Logger, spec.Platform, spec.Subject, sum.RunID)
	rep := o.deps.Reporter
	r := newRun(spec, log)

	finish := func(err error) (*Summary, error) {
		sum.enter(StateDone)
		sum.Duration = time.Since(start)
		rep.Result(spec.Subject, sum.Buckets, sum.Snapshot, err)
		fields := map[string]interface{}{
			"duration":   sum.Duration,
			"downloaded": sum.Downloaded,
			"skipped":    sum.Skipped,
			"snapshot":   sum.Snapshot,
		}
		if err != nil {
			log.WithError(err).ErrorWithFields("Run finished with error", fields)
		} else {
			log.InfoWithFields("Run finished", fields)
		}
		return sum, err
	}

	log.InfoWithFields("Starting run", map[string]interface{}{
		"queries": len(spec.Queries),
		"resume":  spec.ResumeFrom,
	})

	var (
		prior   *checkpoint.Snapshot
		attempt []string
	)
	if spec.ResumeFrom != "" {
		sum.enter(StateResumeLoading)
		rep.Start(ui.StageResume, 0)
		snap, err := o.loadSnapshot(ctx, spec)
		rep.Finish(ui.StageResume)
		if err != nil {
			return finish(err)
		}
		prior = snap
		attempt = r.resumeFrom(snap, o.opts.FetchLimit)
		logger.LogBuckets(log, "Resuming from snapshot", snap.Buckets.Counts())
	}

	sum.enter(StateDiscovering)
	discErr := o.discover(ctx, r, sum, attempt)

	sum.enter(StateDownloading)
	buckets := models.Buckets{
		Succeeded:   r.succeeded,
		FetchFailed: r.fetchFailed,
	}
	buckets.DownloadFailed, buckets.VideoDownloadFailed = o.download(ctx, r, sum, prior)
	buckets.Normalize()
	sum.Buckets = buckets.Counts()
	logger.LogBuckets(log, "Run buckets", sum.Buckets)

	var writeErr error
	if buckets.NeedsResume() {
		sum.enter(StateCheckpointing)
		rep.Start(ui.StageCheckpoint, 1)
		key, err := o.deps.Store.Save(context.WithoutCancel(ctx), &checkpoint.Snapshot{
			Platform: spec.Platform,
			Subject:  spec.Subject,
			Buckets:  buckets,
		})
		rep.Advance(ui.StageCheckpoint, key, err == nil)
		rep.Finish(ui.StageCheckpoint)
		if err != nil {
			if !errs.Is(err, errs.ErrorTypeSnapshotWrite) {
				err = errs.Wrap(errs.ErrorTypeSnapshotWrite, err, "failed to write snapshot")
			}
			log.WithError(err).Error("SNAPSHOT WRITE FAILED: failed items of this run cannot be resumed")
			writeErr = err
		}
		sum.Snapshot = key
	} else {
		log.Info("Nothing left to resume, no snapshot written")
	}

	switch {
	case writeErr != nil && discErr != nil:
		return finish(errors.Join(writeErr, discErr))
	case writeErr != nil:
		return finish(writeErr)
	default:
		return finish(discErr)
	}
}

func (o *Orchestrator) loadSnapshot(ctx context.Context, spec RunSpec) (*checkpoint.Snapshot, error) {
	snap, err := o.deps.Store.Load(ctx, spec.ResumeFrom)
	if err != nil {
		if !errs.Is(err, errs.ErrorTypeSnapshotLoad) {
			err = errs.Wrap(errs.ErrorTypeSnapshotLoad, err, spec.ResumeFrom)
		}
		return nil, err
	}
	if snap.Platform != "" && snap.Platform != spec.Platform {
		return nil, errs.New(errs.ErrorTypeSnapshotLoad,
			"snapshot "+spec.ResumeFrom+" belongs to platform "+snap.Platform)
	}
	return snap, nil
}

// resumeFrom seeds the run with a prior snapshot and returns the fetch
// failures to re-attempt. The rest are carried ahead of any new failure.
func (r *run) resumeFrom(snap *checkpoint.Snapshot, limit int) []string {
	for _, item := range snap.Buckets.Succeeded {
		r.add(item)
	}
	ff := snap.Buckets.FetchFailed
	if limit > len(ff) {
		limit = len(ff)
	}
	attempt := ff[:limit]
	for _, id := range ff[limit:] {
		r.failed[id] = true
		r.fetchFailed = append(r.fetchFailed, id)
	}
	return attempt
}

// discover harvests every query, or re-fetches attempt on resume. The
// outcomes gathered before an error are kept.
func (o *Orchestrator) discover(ctx context.Context, r *run, sum *Summary, attempt []string) error {
	rep := o.deps.Reporter

	if r.spec.ResumeFrom != "" {
		rep.Start(ui.StageDiscover, len(attempt))
		defer rep.Finish(ui.StageDiscover)
		if len(attempt) == 0 {
			return nil
		}
		stats, err := harvest.ResolveAll(ctx, o.deps.Resolver, attempt, harvest.Options{
			Pause:    o.opts.Pause,
			Logger:   r.log,
			Reporter: rep,
		}, r.collect)
		sum.Passes = append(sum.Passes, stats)

		// identifiers never reached stay resumable
		for _, id := range attempt {
			if _, ok := r.position[id]; !ok && !r.failed[id] {
				r.failed[id] = true
				r.fetchFailed = append(r.fetchFailed, id)
			}
		}
		return err
	}

	rep.Start(ui.StageDiscover, 0)
	defer rep.Finish(ui.StageDiscover)
	for _, q := range r.spec.Queries {
		if q.Stop == nil {
			q.Stop = r.spec.Stop
		}
		stats, err := o.deps.Harvester.Run(ctx, q, r.collect)
		sum.Passes = append(sum.Passes, stats)
		r.log.InfoWithFields("Pass finished", map[string]interface{}{
			"query":       q.String(),
			"seen":        stats.Seen,
			"resolved":    stats.Resolved,
			"failed":      stats.Failed,
			"scrolls":     stats.Scrolls,
			"stop_reason": stats.StopReason,
		})
		if err != nil {
			r.log.WithError(err).Warn("Discovery ended early")
			return err
		}
	}
	return nil
}

// record stores item in the sink and reports whether its downloads should
// go ahead. Only a duplicate can stop them.
func (o *Orchestrator) record(ctx context.Context, r *run, item models.Item) bool {
	err := o.deps.Sink.InsertUnique(ctx, metadata.FromItem(r.spec.Subject, item))
	switch {
	case err == nil:
	case errs.Is(err, errs.ErrorTypeDuplicate):
		if o.skipDuplicate(r, item) {
			r.log.InfoWithFields("Already recorded, skipping download", map[string]interface{}{"id": item.ID})
			return false
		}
	default:
		r.log.WithError(err).WarnWithFields("Failed to record item", map[string]interface{}{"id": item.ID})
	}
	return true
}

// recordStored stores an item whose record names files only known after
// download: extracted videos get the file the extractor wrote, or no
// filename when the extraction failed
func (o *Orchestrator) recordStored(ctx context.Context, r *run, res downloader.DownloadResult) {
	stored := make(map[string]models.MediaRef, len(res.Stored))
	for _, ref := range res.Stored {
		stored[ref.URL] = ref
	}
	refs := make([]models.MediaRef, 0, len(res.Job.Item.Media))
	for _, ref := range res.Job.Item.Media {
		switch s, ok := stored[ref.URL]; {
		case ok:
			refs = append(refs, s)
		case downloader.IsExtracted(ref):
			refs = append(refs, models.MediaRef{URL: ref.URL, Kind: ref.Kind})
		default:
			refs = append(refs, ref)
		}
	}

	item := res.Job.Item.WithMedia(refs)
	err := o.deps.Sink.InsertUnique(ctx, metadata.FromItem(r.spec.Subject, item))
	switch {
	case err == nil:
	case errs.Is(err, errs.ErrorTypeDuplicate):
		r.log.DebugWithFields("Already recorded", map[string]interface{}{"id": item.ID})
	default:
		r.log.WithError(err).WarnWithFields("Failed to record item", map[string]interface{}{"id": item.ID})
	}
}

func hasExtracted(item models.Item) bool {
	for _, ref := range item.Media {
		if downloader.IsExtracted(ref) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) skipDuplicate(r *run, item models.Item) bool {
	if !o.opts.SkipOnDuplicate {
		return false
	}
	if o.opts.VerifyOnDisk && !o.deps.Layout.Present(r.spec.Platform, r.spec.Subject, item) {
		r.log.InfoWithFields("Recorded item missing on disk, downloading", map[string]interface{}{"id": item.ID})
		return false
	}
	return true
}

// download records every new item and runs one job per item with media,
// projecting the failures in discovery order. A record is written right
// before its item's job starts, or after it when the record names extracted
// files, so a crash leaves at most the items in flight recorded without
// their media.
func (o *Orchestrator) download(ctx context.Context, r *run, sum *Summary, prior *checkpoint.Snapshot) (downloadFailed, videoFailed []models.Item) {
	fresh := make(map[int]bool, len(r.fresh))
	for _, pos := range r.fresh {
		item := r.succeeded[pos]
		if len(item.Media) == 0 {
			if ctx.Err() == nil {
				o.record(ctx, r, item)
			}
			continue
		}
		fresh[pos] = true
	}
	jobs := r.jobs(prior)

	rep := o.deps.Reporter
	rep.Start(ui.StageDownload, len(jobs))
	defer rep.Finish(ui.StageDownload)
	if len(jobs) == 0 {
		return nil, nil
	}

	results := downloader.Run(ctx, downloader.Config{
		Workers:  o.opts.Concurrency,
		Images:   o.deps.Downloader,
		Videos:   o.deps.Videos,
		Layout:   o.deps.Layout,
		Platform: r.spec.Platform,
		Subject:  r.spec.Subject,
		Limiter:  o.deps.Limiter,
		Logger:   r.log,
		Before: func(ctx context.Context, job downloader.DownloadJob) bool {
			if !fresh[job.Index] || hasExtracted(job.Item) {
				return true
			}
			return o.record(ctx, r, job.Item)
		},
		OnResult: func(res downloader.DownloadResult) {
			if res.Attempted && !res.Skipped && fresh[res.Job.Index] && hasExtracted(res.Job.Item) {
				o.recordStored(context.WithoutCancel(ctx), r, res)
			}
			rep.Advance(ui.StageDownload, res.Job.Item.ID, res.OK())
		},
	}, jobs)

	for _, res := range results {
		if res.Skipped {
			sum.Skipped++
			continue
		}
		sum.Downloaded += res.Downloaded
		if len(res.FailedRefs) > 0 {
			downloadFailed = append(downloadFailed, res.Job.Item.WithMedia(res.FailedRefs))
		}
		if len(res.FailedVideos) > 0 {
			videoFailed = append(videoFailed, res.Job.Item.WithMedia(res.FailedVideos))
		}
	}
	return downloadFailed, videoFailed
}

// jobs lists the download work: the refs still failing in the prior
// snapshot and every new item, indexed by position in succeeded
func (r *run) jobs(prior *checkpoint.Snapshot) []downloader.DownloadJob {
	byPos := make(map[int]*downloader.DownloadJob)
	addRefs := func(item models.Item) {
		pos, ok := r.position[item.ID]
		if !ok || len(item.Media) == 0 {
			return
		}
		if job, ok := byPos[pos]; ok {
			job.Item = job.Item.WithMedia(append(append([]models.MediaRef{}, job.Item.Media...), item.Media...))
			return
		}
		// the succeeded entry carries this run's order
		byPos[pos] = &downloader.DownloadJob{Index: pos, Item: r.succeeded[pos].WithMedia(item.Media)}
	}

	if prior != nil {
		for _, item := range prior.Buckets.DownloadFailed {
			addRefs(item)
		}
		for _, item := range prior.Buckets.VideoDownloadFailed {
			addRefs(item)
		}
	}
	for _, pos := range r.fresh {
		addRefs(r.succeeded[pos])
	}

	jobs := make([]downloader.DownloadJob, 0, len(byPos))
	for _, job := range byPos {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Index < jobs[j].Index })
	return jobs
}
