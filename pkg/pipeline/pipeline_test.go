package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"
	"snsgrab/pkg/checkpoint"
	errs "snsgrab/pkg/errors"
	"snsgrab/pkg/harvest"
	"snsgrab/pkg/logger"
	"snsgrab/pkg/metadata"
	"snsgrab/pkg/models"
	"snsgrab/pkg/pipeline"
	"snsgrab/pkg/sink"
	"snsgrab/pkg/storage"
)

var _ = Describe("Orchestrator", func() {
	var (
		ctx       context.Context
		harvester *fakeHarvester
		resolver  *fakeResolver
		images    *fakeImages
		videos    *fakeVideos
		store     *checkpoint.Store
		records   *recordingSink
		layout    *storage.Layout
		opts      pipeline.Options
	)

	newOrchestrator := func(st pipeline.SnapshotStore) *pipeline.Orchestrator {
		return pipeline.New(pipeline.Deps{
			Harvester:  harvester,
			Resolver:   resolver,
			Downloader: images,
			Videos:     videos,
			Store:      st,
			Sink:       records,
			Layout:     layout,
			Logger:     logger.NewTestLogger(),
		}, opts)
	}

	fresh := func(outcomes ...harvest.Outcome) pipeline.RunSpec {
		harvester.outcomes["someone"] = outcomes
		return pipeline.RunSpec{
			Platform: "instagram",
			Subject:  "Some One",
			Queries:  []harvest.Query{{Account: "someone"}},
		}
	}

	saveSnapshot := func(b models.Buckets) string {
		key, err := store.Save(ctx, &checkpoint.Snapshot{Platform: "instagram", Subject: "Some One", Buckets: b})
		Expect(err).NotTo(HaveOccurred())
		return key
	}

	loadSnapshot := func(key string) *checkpoint.Snapshot {
		snap, err := store.Load(ctx, key)
		Expect(err).NotTo(HaveOccurred())
		return snap
	}

	BeforeEach(func() {
		ctx = context.Background()
		harvester = &fakeHarvester{outcomes: map[string][]harvest.Outcome{}}
		resolver = &fakeResolver{items: map[string]*models.Item{}}
		images = &fakeImages{fail: map[string]bool{}}
		videos = &fakeVideos{ok: true}
		records = &recordingSink{duplicates: map[string]bool{}}
		opts = pipeline.DefaultOptions()
		opts.Pause = 0

		bucket, err := blob.OpenBucket(ctx, "mem://")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(bucket.Close)
		store = checkpoint.New(bucket, nil)

		layout, err = storage.NewLayout(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("a fresh run", func() {
		It("buckets fetch and download failures and writes a snapshot", func() {
			bad := image("b", 1)
			images.fail[bad.URL] = true

			spec := fresh(
				ok(post("a", image("a", 0))),
				failed("x"),
				ok(post("b", image("b", 0), bad)),
				ok(post("c")),
			)
			sum, err := newOrchestrator(store).Run(ctx, spec)
			Expect(err).NotTo(HaveOccurred())

			Expect(sum.RunID).NotTo(BeEmpty())
			Expect(sum.States).To(Equal([]pipeline.State{
				pipeline.StateDiscovering,
				pipeline.StateDownloading,
				pipeline.StateCheckpointing,
				pipeline.StateDone,
			}))
			Expect(sum.Downloaded).To(Equal(2))
			Expect(sum.Buckets).To(Equal(map[string]int{
				"succeeded":             3,
				"fetch_failed":          1,
				"download_failed":       1,
				"video_download_failed": 0,
			}))
			Expect(sum.Snapshot).To(HavePrefix("instagram/Some One/"))

			snap := loadSnapshot(sum.Snapshot)
			Expect(models.IDs(snap.Buckets.Succeeded)).To(Equal([]string{"a", "b", "c"}))
			Expect(snap.Buckets.Succeeded[2].Order).To(Equal(2))
			Expect(snap.Buckets.FetchFailed).To(Equal([]string{"x"}))
			Expect(snap.Buckets.DownloadFailed).To(HaveLen(1))
			Expect(snap.Buckets.DownloadFailed[0].Media).To(Equal([]models.MediaRef{bad}))
			Expect(snap.Buckets.DownloadFailed[0].Text).To(Equal("post b"))

			Expect(records.ids()).To(ConsistOf("a", "b", "c"))
		})

		It("writes no snapshot when nothing needs resuming", func() {
			sum, err := newOrchestrator(store).Run(ctx, fresh(ok(post("a", image("a", 0)))))
			Expect(err).NotTo(HaveOccurred())
			Expect(sum.Snapshot).To(BeEmpty())
			Expect(sum.States).NotTo(ContainElement(pipeline.StateCheckpointing))

			keys, err := store.List(ctx, "instagram", "Some One")
			Expect(err).NotTo(HaveOccurred())
			Expect(keys).To(BeEmpty())
		})

		It("projects download failures in discovery order", func() {
			var outcomes []harvest.Outcome
			var want []string
			for _, id := range []string{"p1", "p2", "p3", "p4", "p5", "p6"} {
				ref := image(id, 0)
				images.fail[ref.URL] = true
				outcomes = append(outcomes, ok(post(id, ref)))
				want = append(want, id)
			}
			opts.Concurrency = 4

			sum, err := newOrchestrator(store).Run(ctx, fresh(outcomes...))
			Expect(err).NotTo(HaveOccurred())
			Expect(models.IDs(loadSnapshot(sum.Snapshot).Buckets.DownloadFailed)).To(Equal(want))
		})

		It("routes extractor videos to their own bucket", func() {
			videos.ok = false
			clip := models.MediaRef{URL: "https://twitter.com/u/status/9", Kind: models.MediaVideo, Basename: "9"}

			sum, err := newOrchestrator(store).Run(ctx, fresh(ok(post("9", clip))))
			Expect(err).NotTo(HaveOccurred())
			snap := loadSnapshot(sum.Snapshot)
			Expect(snap.Buckets.DownloadFailed).To(BeEmpty())
			Expect(models.IDs(snap.Buckets.VideoDownloadFailed)).To(Equal([]string{"9"}))
			Expect(videos.pages).To(Equal([]string{clip.URL}))

			rec := records.record("9")
			Expect(rec).NotTo(BeNil())
			Expect(rec.Media).To(Equal([]metadata.MediaEntry{{Type: "video", Filename: ""}}))
		})

		It("records an extracted video under the file the extractor wrote", func() {
			videos.ext = ".mp4"
			clip := models.MediaRef{URL: "https://twitter.com/u/status/9", Kind: models.MediaVideo, Basename: "9"}

			_, err := newOrchestrator(store).Run(ctx, fresh(ok(post("9", image("9", 0), clip))))
			Expect(err).NotTo(HaveOccurred())

			rec := records.record("9")
			Expect(rec).NotTo(BeNil())
			Expect(rec.Media).To(Equal([]metadata.MediaEntry{
				{Type: "image", Filename: "9-a.jpg"},
				{Type: "video", Filename: "9.mp4"},
			}))
		})

		It("discards items the stop predicate fires on", func() {
			until := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
			newer := post("new", image("new", 0))
			newer.Timestamp = until.AddDate(0, 1, 0)
			older := post("old", image("old", 0))
			older.Timestamp = until.AddDate(0, -1, 0)

			spec := fresh(ok(newer), ok(older))
			spec.Stop = func(item *models.Item) bool { return item.Timestamp.Before(until) }

			sum, err := newOrchestrator(store).Run(ctx, spec)
			Expect(err).NotTo(HaveOccurred())
			Expect(sum.Buckets["succeeded"]).To(Equal(1))
			Expect(images.downloaded()).To(Equal([]string{newer.Media[0].URL}))
			Expect(harvester.queries[0].Stop).NotTo(BeNil())
		})

		It("keeps an id fetched by a later query out of fetch_failed", func() {
			harvester.outcomes["later"] = []harvest.Outcome{ok(post("x"))}
			spec := fresh(failed("x"))
			spec.Queries = append(spec.Queries, harvest.Query{Account: "later"})

			sum, err := newOrchestrator(store).Run(ctx, spec)
			Expect(err).NotTo(HaveOccurred())
			Expect(sum.Buckets["fetch_failed"]).To(Equal(0))
			Expect(sum.Buckets["succeeded"]).To(Equal(1))
		})
	})

	Describe("duplicates reported by the sink", func() {
		var spec pipeline.RunSpec

		BeforeEach(func() {
			records.duplicates["a"] = true
			spec = fresh(ok(post("a", image("a", 0))), ok(post("b", image("b", 0))))
		})

		It("skips their downloads", func() {
			sum, err := newOrchestrator(store).Run(ctx, spec)
			Expect(err).NotTo(HaveOccurred())
			Expect(sum.Skipped).To(Equal(1))
			Expect(images.downloaded()).To(Equal([]string{image("b", 0).URL}))
			Expect(sum.Buckets["succeeded"]).To(Equal(2))
		})

		It("downloads them anyway when skipping is off", func() {
			opts.SkipOnDuplicate = false
			sum, err := newOrchestrator(store).Run(ctx, spec)
			Expect(err).NotTo(HaveOccurred())
			Expect(sum.Skipped).To(BeZero())
			Expect(images.downloaded()).To(HaveLen(2))
		})

		Context("with verify on disk", func() {
			BeforeEach(func() {
				opts.VerifyOnDisk = true
			})

			It("downloads a duplicate whose files are missing", func() {
				sum, err := newOrchestrator(store).Run(ctx, spec)
				Expect(err).NotTo(HaveOccurred())
				Expect(sum.Skipped).To(BeZero())
				Expect(images.downloaded()).To(ConsistOf(image("a", 0).URL, image("b", 0).URL))
			})

			It("skips a duplicate whose files are present", func() {
				item := *post("a", image("a", 0))
				path := layout.Path("instagram", "Some One", item, item.Media[0])
				Expect(os.MkdirAll(filepath.Dir(path), 0755)).To(Succeed())
				Expect(os.WriteFile(path, []byte("jpeg"), 0644)).To(Succeed())

				sum, err := newOrchestrator(store).Run(ctx, spec)
				Expect(err).NotTo(HaveOccurred())
				Expect(sum.Skipped).To(Equal(1))
				Expect(images.downloaded()).To(Equal([]string{image("b", 0).URL}))
			})
		})
	})

	It("downloads an item whose record was left behind without its media", func() {
		opts.VerifyOnDisk = true
		files := sink.NewFileSink(layout, "instagram", logger.NewTestLogger())
		leftover := *post("a", image("a", 0))
		Expect(files.InsertUnique(ctx, metadata.FromItem("Some One", leftover))).To(Succeed())

		sum, err := pipeline.New(pipeline.Deps{
			Harvester:  harvester,
			Downloader: images,
			Videos:     videos,
			Store:      store,
			Sink:       files,
			Layout:     layout,
			Logger:     logger.NewTestLogger(),
		}, opts).Run(ctx, fresh(ok(post("a", image("a", 0))), ok(post("b", image("b", 0)))))

		Expect(err).NotTo(HaveOccurred())
		Expect(sum.Skipped).To(BeZero())
		Expect(images.downloaded()).To(ConsistOf(image("a", 0).URL, image("b", 0).URL))
	})

	Describe("a resume run", func() {
		It("re-attempts only the first fetch failures up to the limit", func() {
			resolver.items["a"] = post("a")
			opts.FetchLimit = 2
			key := saveSnapshot(models.Buckets{FetchFailed: []string{"a", "b", "c", "d", "e"}})

			sum, err := newOrchestrator(store).Run(ctx, pipeline.RunSpec{Platform: "instagram", Subject: "Some One", ResumeFrom: key})
			Expect(err).NotTo(HaveOccurred())
			Expect(resolver.calls).To(Equal([]string{"a", "b"}))
			Expect(sum.States[0]).To(Equal(pipeline.StateResumeLoading))

			snap := loadSnapshot(sum.Snapshot)
			Expect(snap.Buckets.FetchFailed).To(Equal([]string{"c", "d", "e", "b"}))
			Expect(models.IDs(snap.Buckets.Succeeded)).To(Equal([]string{"a"}))
			Expect(harvester.queries).To(BeEmpty())
		})

		It("treats a resolver returning no item as a fetch failure", func() {
			resolver.items["a"] = nil
			key := saveSnapshot(models.Buckets{FetchFailed: []string{"a"}})

			sum, err := newOrchestrator(store).Run(ctx, pipeline.RunSpec{Platform: "instagram", Subject: "Some One", ResumeFrom: key})
			Expect(err).NotTo(HaveOccurred())
			Expect(loadSnapshot(sum.Snapshot).Buckets.FetchFailed).To(Equal([]string{"a"}))
		})

		It("retries prior download failures and carries succeeded items", func() {
			done := *post("done", image("done", 0))
			broken := *post("broken", image("broken", 0), image("broken", 1))
			key := saveSnapshot(models.Buckets{
				Succeeded:      []models.Item{done, broken},
				DownloadFailed: []models.Item{broken.WithMedia(broken.Media[1:])},
			})

			sum, err := newOrchestrator(store).Run(ctx, pipeline.RunSpec{Platform: "instagram", Subject: "Some One", ResumeFrom: key})
			Expect(err).NotTo(HaveOccurred())
			Expect(images.downloaded()).To(Equal([]string{image("broken", 1).URL}))
			Expect(sum.Downloaded).To(Equal(1))
			Expect(sum.Snapshot).To(BeEmpty())
			Expect(sum.Buckets["succeeded"]).To(Equal(2))
			Expect(records.ids()).To(BeEmpty())
		})

		It("does nothing for a snapshot with nothing left to resume", func() {
			key := saveSnapshot(models.Buckets{Succeeded: []models.Item{*post("a", image("a", 0))}})

			sum, err := newOrchestrator(store).Run(ctx, pipeline.RunSpec{Platform: "instagram", Subject: "Some One", ResumeFrom: key})
			Expect(err).NotTo(HaveOccurred())
			Expect(resolver.calls).To(BeEmpty())
			Expect(images.downloaded()).To(BeEmpty())
			Expect(sum.Snapshot).To(BeEmpty())

			keys, err := store.List(ctx, "instagram", "Some One")
			Expect(err).NotTo(HaveOccurred())
			Expect(keys).To(Equal([]string{key}))
		})

		It("aborts before discovery when the snapshot cannot be loaded", func() {
			sum, err := newOrchestrator(store).Run(ctx, pipeline.RunSpec{Platform: "instagram", Subject: "Some One", ResumeFrom: "instagram/nope.json"})
			Expect(errs.Is(err, errs.ErrorTypeSnapshotLoad)).To(BeTrue())
			Expect(sum.States).To(Equal([]pipeline.State{pipeline.StateResumeLoading, pipeline.StateDone}))
			Expect(resolver.calls).To(BeEmpty())
		})

		It("rejects a snapshot of another platform", func() {
			key := saveSnapshot(models.Buckets{FetchFailed: []string{"a"}})
			_, err := newOrchestrator(store).Run(ctx, pipeline.RunSpec{Platform: "twitter", Subject: "Some One", ResumeFrom: key})
			Expect(errs.Is(err, errs.ErrorTypeSnapshotLoad)).To(BeTrue())
		})
	})

	It("returns a snapshot write failure with the summary", func() {
		images.fail[image("a", 0).URL] = true
		sum, err := newOrchestrator(brokenStore{store}).Run(ctx, fresh(ok(post("a", image("a", 0)))))

		Expect(errs.Is(err, errs.ErrorTypeSnapshotWrite)).To(BeTrue())
		Expect(err).To(MatchError(ContainSubstring("disk full")))
		Expect(sum).NotTo(BeNil())
		Expect(sum.Snapshot).To(BeEmpty())
		Expect(sum.Buckets["download_failed"]).To(Equal(1))
	})

	It("keeps cancelled work resumable", func() {
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		harvester.afterEmit = func(n int) {
			if n == 1 {
				cancel()
			}
		}

		sum, err := newOrchestrator(store).Run(runCtx, fresh(
			ok(post("a", image("a", 0))),
			ok(post("b", image("b", 0))),
		))
		Expect(err).To(MatchError(context.Canceled))
		Expect(images.downloaded()).To(BeEmpty())
		Expect(records.ids()).To(BeEmpty())

		snap := loadSnapshot(sum.Snapshot)
		Expect(models.IDs(snap.Buckets.Succeeded)).To(Equal([]string{"a"}))
		Expect(models.IDs(snap.Buckets.DownloadFailed)).To(Equal([]string{"a"}))
	})

	It("rejects a run without work", func() {
		_, err := newOrchestrator(store).Run(ctx, pipeline.RunSpec{Platform: "instagram", Subject: "x"})
		Expect(errs.Is(err, errs.ErrorTypeInvalidInput)).To(BeTrue())
	})
})
