package harvest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	errs "snsgrab/pkg/errors"
	"snsgrab/pkg/logger"
	"snsgrab/pkg/models"
	"snsgrab/pkg/ratelimit"
	"snsgrab/pkg/retry"
	"snsgrab/pkg/ui"
)

// PageSource is a scrollable rendered page
type PageSource interface {
	Open(ctx context.Context, url string) error
	Render(ctx context.Context) (*goquery.Document, error)
	Scroll(ctx context.Context, y int) error
	ScrollExtent(ctx context.Context) (int, error)
	ViewportHeight(ctx context.Context) (int, error)
}

// LoadMorer clicks a "show more" control; it reports false when none is present
type LoadMorer interface {
	LoadMore(ctx context.Context) (bool, error)
}

// Resolver turns a candidate into a full item
type Resolver interface {
	// Candidate rebuilds a candidate from a bare identifier
	Candidate(id string) Candidate
	ResolveDetail(ctx context.Context, c Candidate) (*models.Item, error)
}

// Platform knows one site's query syntax and page structure
type Platform interface {
	Resolver
	Name() string
	ComposeQuery(q Query) (string, error)
	PageElements(doc *goquery.Document) []Candidate
	// TotalCount returns the number of items the page claims to hold, 0 if unknown
	TotalCount(doc *goquery.Document) int
}

// Candidate is an item seen on a listing page but not yet resolved
type Candidate struct {
	ID        string
	URL       string
	Timestamp time.Time
}

// Outcome is the result of resolving one candidate. A failed resolution is
// reported here, never as an error of the pass.
type Outcome struct {
	Candidate Candidate
	Item      *models.Item
	Err       error
}

// Failed reports whether the candidate could not be resolved
func (o Outcome) Failed() bool {
	return o.Item == nil
}

// StopFunc ends a pass once the current page is drained when it returns true
type StopFunc func(item *models.Item) bool

// Stop reasons
const (
	StopExhausted = "exhausted"
	StopPredicate = "predicate"
	StopTotal     = "total"
	StopCancelled = "cancelled"
	StopConsumer  = "consumer"
)

// Stats summarizes one pass
type Stats struct {
	Scrolls    int
	Seen       int
	Resolved   int
	Failed     int
	StopReason string
}

// Options tune a Harvester
type Options struct {
	// Pause is the minimum spacing between detail resolutions
	Pause time.Duration
	// Settle is waited after opening and after every scroll
	Settle   time.Duration
	Stop     StopFunc
	Logger   logger.Logger
	Reporter ui.Reporter
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = logger.NewNopLogger()
	}
	if o.Reporter == nil {
		o.Reporter = ui.Nop{}
	}
}

// Harvester drives a page source through infinite scroll for one platform
type Harvester struct {
	source   PageSource
	platform Platform
	opts     Options
	pacer    *ratelimit.Interval
}

// New creates a harvester; the source is owned by the caller
func New(source PageSource, platform Platform, opts Options) *Harvester {
	opts.defaults()
	return &Harvester{
		source:   source,
		platform: platform,
		opts:     opts,
		pacer:    ratelimit.NewInterval(opts.Pause),
	}
}

// Platform returns the platform the harvester was built for
func (h *Harvester) Platform() Platform {
	return h.platform
}

// Run performs one pass over the listing for q. Every newly seen candidate
// is resolved and handed to emit in page order; emit returning false ends
// the pass. The returned error is non-nil only for cancellation, an
// unusable query or a page source failure.
func (h *Harvester) Run(ctx context.Context, q Query, emit func(Outcome) bool) (Stats, error) {
	var stats Stats
	log := h.opts.Logger.WithField("query", q.String())
	stop := h.opts.Stop
	if q.Stop != nil {
		stop = q.Stop
	}

	url, err := h.platform.ComposeQuery(q)
	if err != nil {
		return stats, err
	}
	log.InfoWithFields("Opening listing", map[string]interface{}{"url": url})
	if err := h.source.Open(ctx, url); err != nil {
		return stats, pageSourceError(ctx, &stats, err, "open")
	}
	if err := retry.Wait(ctx, h.opts.Settle); err != nil {
		stats.StopReason = StopCancelled
		return stats, err
	}

	seen := make(map[string]struct{})
	var (
		lastExtent    int
		total         int
		y             int
		stopped       bool
		loadMoreTried bool
	)
	loadMorer, _ := h.source.(LoadMorer)
	if loadMorer == nil {
		loadMorer, _ = h.platform.(LoadMorer)
	}

	for {
		if err := ctx.Err(); err != nil {
			stats.StopReason = StopCancelled
			return stats, err
		}

		doc, err := h.source.Render(ctx)
		if err != nil {
			return stats, pageSourceError(ctx, &stats, err, "render")
		}

		// progress is new candidates or a taller page; the markup itself
		// changes between renders on live pages
		found := 0
		for _, cand := range h.platform.PageElements(doc) {
			if _, dup := seen[cand.ID]; dup || cand.ID == "" {
				continue
			}
			seen[cand.ID] = struct{}{}
			stats.Seen++
			found++

			out, err := h.resolve(ctx, cand)
			if err != nil {
				stats.StopReason = StopCancelled
				return stats, err
			}
			h.count(&stats, out)
			if !emit(out) {
				stats.StopReason = StopConsumer
				return stats, nil
			}
			if out.Item != nil && stop != nil && stop(out.Item) {
				stopped = true
			}
		}

		if stopped {
			stats.StopReason = StopPredicate
			log.InfoWithFields("Stop condition reached", map[string]interface{}{"seen": stats.Seen})
			return stats, nil
		}
		if total == 0 {
			total = h.platform.TotalCount(doc)
		}
		if total > 0 && len(seen) >= total {
			stats.StopReason = StopTotal
			log.InfoWithFields("All items seen", map[string]interface{}{"total": total})
			return stats, nil
		}

		extent, err := h.source.ScrollExtent(ctx)
		if err != nil {
			return stats, pageSourceError(ctx, &stats, err, "scroll extent")
		}
		viewport, err := h.source.ViewportHeight(ctx)
		if err != nil {
			return stats, pageSourceError(ctx, &stats, err, "viewport")
		}
		progressed := found > 0 || extent > lastExtent
		lastExtent = extent
		if progressed {
			loadMoreTried = false
		}

		if !progressed && y+viewport >= extent {
			if loadMorer == nil || loadMoreTried {
				stats.StopReason = StopExhausted
				log.InfoWithFields("Listing exhausted", map[string]interface{}{"seen": stats.Seen, "scrolls": stats.Scrolls})
				return stats, nil
			}
			loadMoreTried = true
			more, err := loadMorer.LoadMore(ctx)
			if err != nil {
				return stats, pageSourceError(ctx, &stats, err, "load more")
			}
			if !more {
				stats.StopReason = StopExhausted
				return stats, nil
			}
			log.Debug("Clicked load more")
		}

		if viewport <= 0 {
			viewport = 1
		}
		y += viewport
		if y > extent {
			y = extent
		}
		if err := h.source.Scroll(ctx, y); err != nil {
			return stats, pageSourceError(ctx, &stats, err, "scroll")
		}
		stats.Scrolls++
		if err := retry.Wait(ctx, h.opts.Settle); err != nil {
			stats.StopReason = StopCancelled
			return stats, err
		}
	}
}

// resolve paces and resolves one candidate; only cancellation is returned as an error
func (h *Harvester) resolve(ctx context.Context, cand Candidate) (Outcome, error) {
	return resolveOne(ctx, h.pacer, h.platform, cand, h.opts.Logger)
}

func (h *Harvester) count(stats *Stats, out Outcome) {
	if out.Failed() {
		stats.Failed++
	} else {
		stats.Resolved++
	}
	h.opts.Reporter.Advance(ui.StageDiscover, out.Candidate.ID, !out.Failed())
}

func resolveOne(ctx context.Context, pacer *ratelimit.Interval, r Resolver, cand Candidate, log logger.Logger) (Outcome, error) {
	if err := pacer.Wait(ctx); err != nil {
		return Outcome{}, err
	}
	item, err := r.ResolveDetail(ctx, cand)
	if ctx.Err() != nil {
		return Outcome{}, ctx.Err()
	}
	if err == nil && item == nil {
		err = errs.New(errs.ErrorTypeFetch, "resolver returned no item")
	}
	if err != nil {
		log.WithError(err).WarnWithFields("Detail fetch failed", map[string]interface{}{"id": cand.ID})
		return Outcome{Candidate: cand, Err: err}, nil
	}
	return Outcome{Candidate: cand, Item: item}, nil
}

// ResolveAll re-fetches known identifiers with the same pacing as a pass
func ResolveAll(ctx context.Context, r Resolver, ids []string, opts Options, emit func(Outcome) bool) (Stats, error) {
	opts.defaults()
	pacer := ratelimit.NewInterval(opts.Pause)

	var stats Stats
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			stats.StopReason = StopCancelled
			return stats, err
		}
		stats.Seen++
		out, err := resolveOne(ctx, pacer, r, r.Candidate(id), opts.Logger)
		if err != nil {
			stats.StopReason = StopCancelled
			return stats, err
		}
		if out.Failed() {
			stats.Failed++
		} else {
			stats.Resolved++
		}
		opts.Reporter.Advance(ui.StageDiscover, id, !out.Failed())
		if !emit(out) {
			stats.StopReason = StopConsumer
			return stats, nil
		}
	}
	stats.StopReason = StopExhausted
	return stats, nil
}

func pageSourceError(ctx context.Context, stats *Stats, err error, op string) error {
	if ctx.Err() != nil {
		stats.StopReason = StopCancelled
		return ctx.Err()
	}
	return errs.Wrap(errs.ErrorTypePageSource, err, op)
}

// Query selects what a pass harvests: a profile or a search
type Query struct {
	// Account is the profile handle for profile harvests
	Account string
	Search  Search
	// Since and Until bound a search by calendar date, both inclusive
	Since time.Time
	Until time.Time
	Media models.MediaKind
	// Stop overrides Options.Stop for this pass
	Stop StopFunc
}

// Search holds search filters
type Search struct {
	AllWords     string
	ExactWords   string
	IncludeWords []string
	ExcludeWords []string
	Hashtags     []string
	From         []string
	To           []string
	Mentions     []string
}

func (q Query) String() string {
	var parts []string
	if q.Account != "" {
		parts = append(parts, "@"+q.Account)
	}
	if q.Search.AllWords != "" {
		parts = append(parts, q.Search.AllWords)
	}
	if q.Search.ExactWords != "" {
		parts = append(parts, fmt.Sprintf("%q", q.Search.ExactWords))
	}
	for _, h := range q.Search.Hashtags {
		parts = append(parts, "#"+h)
	}
	for _, f := range q.Search.From {
		parts = append(parts, "from:"+f)
	}
	if !q.Since.IsZero() {
		parts = append(parts, "since:"+q.Since.Format("2006-01-02"))
	}
	if !q.Until.IsZero() {
		parts = append(parts, "until:"+q.Until.Format("2006-01-02"))
	}
	if q.Media != "" {
		parts = append(parts, string(q.Media))
	}
	return strings.Join(parts, " ")
}
