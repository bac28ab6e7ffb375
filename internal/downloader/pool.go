package downloader

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"snsgrab/pkg/logger"
	"snsgrab/pkg/models"
	"snsgrab/pkg/ratelimit"
)

// RefDownloader stores one direct-URL resource at dest
type RefDownloader interface {
	DownloadRef(ctx context.Context, ref models.MediaRef, dest string) bool
}

// VideoDownloader extracts the video of a page into dir
type VideoDownloader interface {
	Download(ctx context.Context, pageURL, dir string) (string, bool)
}

// Layout places media on disk
type Layout interface {
	Path(platform, subject string, item models.Item, ref models.MediaRef) string
	Dir(platform, subject string, kind models.MediaKind, ts time.Time) string
}

// DownloadJob is every media ref of one item
type DownloadJob struct {
	// Index is the item's position in discovery order
	Index int
	Item  models.Item
}

// DownloadResult is the outcome of a job. FailedRefs go to download_failed,
// FailedVideos to video_download_failed.
type DownloadResult struct {
	Job          DownloadJob
	FailedRefs   []models.MediaRef
	FailedVideos []models.MediaRef
	Downloaded   int
	// Stored are the refs written to disk. An extracted video carries the
	// name of the file the extractor wrote.
	Stored []models.MediaRef
	// Skipped is set when Before declined the job
	Skipped bool
	// Attempted is false when the job was never started because the run
	// was cancelled; all its refs are then reported as failed
	Attempted bool
	Duration  time.Duration
}

// OK reports whether every ref of the job was stored
func (r DownloadResult) OK() bool {
	return len(r.FailedRefs) == 0 && len(r.FailedVideos) == 0
}

// Config configures a WorkerPool
type Config struct {
	Workers  int
	Images   RefDownloader
	Videos   VideoDownloader
	Layout   Layout
	Platform string
	Subject  string
	// Limiter throttles every media request across workers; nil disables it
	Limiter ratelimit.Limiter
	Logger  logger.Logger
	// Before is called by the worker right before a job starts; returning
	// false skips the job. Optional.
	Before func(ctx context.Context, job DownloadJob) bool
	// OnResult is called from the collecting goroutine for every result
	OnResult func(DownloadResult)
}

// WorkerPool manages concurrent download workers
type WorkerPool struct {
	cfg         Config
	jobQueue    chan DownloadJob
	resultQueue chan DownloadResult
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	logger      logger.Logger
}

// NewWorkerPool creates a new download worker pool
func NewWorkerPool(cfg Config) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &WorkerPool{
		cfg:         cfg,
		jobQueue:    make(chan DownloadJob, cfg.Workers*2),
		resultQueue: make(chan DownloadResult, cfg.Workers),
		logger:      log.WithField("component", "downloader"),
	}
}

// Start launches the workers. Cancelling ctx stops them after their
// current job.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.ctx, wp.cancel = context.WithCancel(ctx)

	wp.logger.InfoWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": wp.cfg.Workers,
	})

	for i := 0; i < wp.cfg.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop closes the queue, waits for the workers and closes the results
func (wp *WorkerPool) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.cancel()

	wp.logger.Debug("Worker pool stopped")
}

// Submit adds a job to the queue
func (wp *WorkerPool) Submit(job DownloadJob) error {
	if err := wp.ctx.Err(); err != nil {
		return fmt.Errorf("worker pool is shutting down: %w", err)
	}
	select {
	case wp.jobQueue <- job:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shutting down: %w", wp.ctx.Err())
	}
}

// Results returns the result channel
func (wp *WorkerPool) Results() <-chan DownloadResult {
	return wp.resultQueue
}

// Run downloads every job and returns one result per job in Index order.
// When ctx is cancelled no new job is started; jobs left behind are
// returned unattempted.
func Run(ctx context.Context, cfg Config, jobs []DownloadJob) []DownloadResult {
	wp := NewWorkerPool(cfg)
	wp.Start(ctx)

	var (
		results []DownloadResult
		done    = make(chan struct{})
	)
	go func() {
		defer close(done)
		for r := range wp.Results() {
			if cfg.OnResult != nil {
				cfg.OnResult(r)
			}
			results = append(results, r)
		}
	}()

	submitted := 0
	for _, job := range jobs {
		if err := wp.Submit(job); err != nil {
			wp.logger.WarnWithFields("Stopped submitting downloads", map[string]interface{}{
				"submitted": submitted,
				"remaining": len(jobs) - submitted,
			})
			break
		}
		submitted++
	}
	wp.Stop()
	<-done

	finished := make(map[int]bool, len(results))
	for _, r := range results {
		finished[r.Job.Index] = true
	}
	for _, job := range jobs {
		if !finished[job.Index] {
			r := wp.unattempted(job)
			if cfg.OnResult != nil {
				cfg.OnResult(r)
			}
			results = append(results, r)
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Job.Index < results[j].Job.Index })
	return results
}

// worker is the main worker routine
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for job := range wp.jobQueue {
		if wp.ctx.Err() != nil {
			// drain so Submit never blocks; unstarted jobs are reported by Run
			continue
		}
		wp.resultQueue <- wp.processJob(job, id)
	}
}

// IsExtracted reports whether ref is handled by the video extractor rather
// than fetched directly
func IsExtracted(ref models.MediaRef) bool {
	return ref.Kind == models.MediaVideo && ref.Ext == ""
}

// processJob downloads every ref of one item
func (wp *WorkerPool) processJob(job DownloadJob, workerID int) DownloadResult {
	start := time.Now()
	result := DownloadResult{Job: job, Attempted: true}
	item := job.Item
	log := wp.logger.WithFields(map[string]interface{}{
		"worker_id": workerID,
		"id":        item.ID,
	})

	if wp.cfg.Before != nil && !wp.cfg.Before(wp.ctx, job) {
		result.Skipped = true
		result.Duration = time.Since(start)
		log.Debug("Job skipped")
		return result
	}

	for _, ref := range item.Media {
		if wp.ctx.Err() != nil {
			// the current ref finished its attempt; the rest are left for resume
			wp.fail(&result, ref)
			continue
		}
		if wp.cfg.Limiter != nil {
			if err := wp.cfg.Limiter.Wait(wp.ctx); err != nil {
				wp.fail(&result, ref)
				continue
			}
		}

		var ok bool
		stored := ref
		if IsExtracted(ref) {
			dir := wp.cfg.Layout.Dir(wp.cfg.Platform, wp.cfg.Subject, ref.Kind, item.Timestamp)
			var name string
			name, ok = wp.cfg.Videos.Download(wp.ctx, ref.URL, dir)
			stored = withFilename(ref, name)
		} else {
			dest := wp.cfg.Layout.Path(wp.cfg.Platform, wp.cfg.Subject, item, ref)
			ok = wp.cfg.Images.DownloadRef(wp.ctx, ref, dest)
		}

		if ok {
			result.Downloaded++
			result.Stored = append(result.Stored, stored)
			continue
		}
		wp.fail(&result, ref)
		log.WarnWithFields("Media download failed", map[string]interface{}{
			"url":  ref.URL,
			"kind": string(ref.Kind),
		})
	}

	result.Duration = time.Since(start)
	log.DebugWithFields("Worker completed job", map[string]interface{}{
		"downloaded": result.Downloaded,
		"failed":     len(result.FailedRefs) + len(result.FailedVideos),
		"duration":   result.Duration,
	})
	return result
}

// withFilename names ref after the file the extractor wrote
func withFilename(ref models.MediaRef, name string) models.MediaRef {
	name = filepath.Base(name)
	if name == "" || name == "." {
		return ref
	}
	ref.Ext = filepath.Ext(name)
	ref.Basename = strings.TrimSuffix(name, ref.Ext)
	return ref
}

func (wp *WorkerPool) fail(r *DownloadResult, ref models.MediaRef) {
	if IsExtracted(ref) {
		r.FailedVideos = append(r.FailedVideos, ref)
	} else {
		r.FailedRefs = append(r.FailedRefs, ref)
	}
}

func (wp *WorkerPool) unattempted(job DownloadJob) DownloadResult {
	r := DownloadResult{Job: job}
	for _, ref := range job.Item.Media {
		wp.fail(&r, ref)
	}
	return r
}
