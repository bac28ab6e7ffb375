package harvest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errs "snsgrab/pkg/errors"
	"snsgrab/pkg/logger"
	"snsgrab/pkg/models"
	"snsgrab/pkg/ui"
)

const viewport = 100

// fakeSource reveals one batch of posts per scroll
type fakeSource struct {
	batches [][]string
	hidden  [][]string
	total   int
	loaded  int

	openErr   error
	renderErr error

	opened    string
	scrolls   []int
	loadMores int
	// renders is written into every render when set, like a live clock
	renders *int
}

func newFakeSource(batches ...[]string) *fakeSource {
	return &fakeSource{batches: batches, loaded: 1}
}

func (f *fakeSource) Open(ctx context.Context, url string) error {
	f.opened = url
	return f.openErr
}

func (f *fakeSource) Render(ctx context.Context) (*goquery.Document, error) {
	if f.renderErr != nil {
		return nil, f.renderErr
	}
	var b strings.Builder
	b.WriteString("<html><body>")
	if f.renders != nil {
		*f.renders++
		fmt.Fprintf(&b, `<time class="now">%d</time>`, *f.renders)
	}
	if f.total > 0 {
		fmt.Fprintf(&b, `<span class="total">%d</span>`, f.total)
	}
	for _, batch := range f.batches[:f.loaded] {
		for _, id := range batch {
			fmt.Fprintf(&b, `<a class="post" data-id="%s" href="/p/%s/">%s</a>`, id, id, id)
		}
	}
	b.WriteString("</body></html>")
	return goquery.NewDocumentFromReader(strings.NewReader(b.String()))
}

func (f *fakeSource) Scroll(ctx context.Context, y int) error {
	f.scrolls = append(f.scrolls, y)
	if f.loaded < len(f.batches) {
		f.loaded++
	}
	return nil
}

func (f *fakeSource) ScrollExtent(ctx context.Context) (int, error) {
	return f.loaded * viewport, nil
}

func (f *fakeSource) ViewportHeight(ctx context.Context) (int, error) {
	return viewport, nil
}

// loadMoreSource adds a "show more" control revealing hidden batches
type loadMoreSource struct {
	*fakeSource
}

func (s loadMoreSource) LoadMore(ctx context.Context) (bool, error) {
	s.loadMores++
	if len(s.hidden) == 0 {
		return false, nil
	}
	s.batches = append(s.batches, s.hidden[0])
	s.hidden = s.hidden[1:]
	return true, nil
}

type fakePlatform struct {
	mu        sync.Mutex
	failures  map[string]error
	nilItems  map[string]bool
	resolved  []string
	queryErr  error
	timestamp map[string]time.Time
}

func (p *fakePlatform) Name() string { return "fake" }

func (p *fakePlatform) ComposeQuery(q Query) (string, error) {
	if p.queryErr != nil {
		return "", p.queryErr
	}
	return "https://example.test/" + q.Account, nil
}

func (p *fakePlatform) PageElements(doc *goquery.Document) []Candidate {
	var out []Candidate
	doc.Find("a.post").Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("data-id")
		href, _ := s.Attr("href")
		out = append(out, Candidate{ID: id, URL: href})
	})
	return out
}

func (p *fakePlatform) TotalCount(doc *goquery.Document) int {
	n, _ := strconv.Atoi(doc.Find("span.total").Text())
	return n
}

func (p *fakePlatform) Candidate(id string) Candidate {
	return Candidate{ID: id, URL: "/p/" + id + "/"}
}

func (p *fakePlatform) ResolveDetail(ctx context.Context, c Candidate) (*models.Item, error) {
	p.mu.Lock()
	p.resolved = append(p.resolved, c.ID)
	p.mu.Unlock()
	if err := p.failures[c.ID]; err != nil {
		return nil, err
	}
	if p.nilItems[c.ID] {
		return nil, nil
	}
	return &models.Item{ID: c.ID, URL: c.URL, Timestamp: p.timestamp[c.ID]}, nil
}

func collect(outs *[]Outcome) func(Outcome) bool {
	return func(o Outcome) bool {
		*outs = append(*outs, o)
		return true
	}
}

func ids(outs []Outcome) []string {
	var out []string
	for _, o := range outs {
		out = append(out, o.Candidate.ID)
	}
	return out
}

func TestRunDeduplicatesAcrossRenders(t *testing.T) {
	src := newFakeSource([]string{"a", "b"}, []string{"b", "c"}, []string{"a", "d"})
	p := &fakePlatform{}
	h := New(src, p, Options{})

	var outs []Outcome
	stats, err := h.Run(context.Background(), Query{Account: "someone"}, collect(&outs))
	require.NoError(t, err)

	assert.Equal(t, "https://example.test/someone", src.opened)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(outs))
	assert.Equal(t, []string{"a", "b", "c", "d"}, p.resolved)
	assert.Equal(t, 4, stats.Seen)
	assert.Equal(t, 4, stats.Resolved)
	assert.Equal(t, StopExhausted, stats.StopReason)
	assert.Equal(t, []int{100, 200, 300}, src.scrolls)
}

func TestRunEndsWhenOnlyMarkupChanges(t *testing.T) {
	src := newFakeSource([]string{"a", "b"}, []string{"c"})
	renders := 0
	src.renders = &renders
	h := New(src, &fakePlatform{}, Options{})

	var outs []Outcome
	stats, err := h.Run(context.Background(), Query{}, collect(&outs))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(outs))
	assert.Equal(t, StopExhausted, stats.StopReason)
	assert.Equal(t, []int{100, 200}, src.scrolls)
	assert.Equal(t, 3, renders)
}

func TestRunReportsFailures(t *testing.T) {
	src := newFakeSource([]string{"a", "b", "c"})
	p := &fakePlatform{
		failures: map[string]error{"b": errors.New("detail request failed")},
		nilItems: map[string]bool{"c": true},
	}
	tl := logger.NewTestLogger()
	h := New(src, p, Options{Logger: tl})

	var outs []Outcome
	stats, err := h.Run(context.Background(), Query{}, collect(&outs))
	require.NoError(t, err)

	require.Len(t, outs, 3)
	assert.False(t, outs[0].Failed())
	assert.True(t, outs[1].Failed())
	assert.EqualError(t, outs[1].Err, "detail request failed")
	assert.True(t, outs[2].Failed())
	assert.True(t, errs.Is(outs[2].Err, errs.ErrorTypeFetch))
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 2, stats.Failed)
	assert.Len(t, tl.GetMessagesByLevel("WARN"), 2)
}

func TestRunSoftStopDrainsPage(t *testing.T) {
	src := newFakeSource([]string{"a", "b", "c"}, []string{"d"})
	p := &fakePlatform{}
	h := New(src, p, Options{
		Stop: func(item *models.Item) bool { return item.ID == "a" },
	})

	var outs []Outcome
	stats, err := h.Run(context.Background(), Query{}, collect(&outs))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(outs))
	assert.Equal(t, StopPredicate, stats.StopReason)
	assert.Empty(t, src.scrolls)
}

func TestRunQueryStopOverridesOptions(t *testing.T) {
	src := newFakeSource([]string{"a", "b"}, []string{"c"})
	h := New(src, &fakePlatform{}, Options{
		Stop: func(item *models.Item) bool { return true },
	})

	var outs []Outcome
	q := Query{Stop: func(item *models.Item) bool { return item.ID == "c" }}
	stats, err := h.Run(context.Background(), q, collect(&outs))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(outs))
	assert.Equal(t, StopPredicate, stats.StopReason)
}

func TestRunStopsAtTotal(t *testing.T) {
	src := newFakeSource([]string{"a"}, []string{"b"}, []string{"c"})
	src.total = 2
	h := New(src, &fakePlatform{}, Options{})

	var outs []Outcome
	stats, err := h.Run(context.Background(), Query{}, collect(&outs))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(outs))
	assert.Equal(t, StopTotal, stats.StopReason)
	assert.Equal(t, 1, stats.Scrolls)
}

func TestRunClicksLoadMore(t *testing.T) {
	src := newFakeSource([]string{"a"})
	src.hidden = [][]string{{"b"}}
	h := New(loadMoreSource{src}, &fakePlatform{}, Options{})

	var outs []Outcome
	stats, err := h.Run(context.Background(), Query{}, collect(&outs))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(outs))
	assert.Equal(t, 2, src.loadMores)
	assert.Equal(t, StopExhausted, stats.StopReason)
}

func TestRunConsumerStop(t *testing.T) {
	src := newFakeSource([]string{"a", "b"})
	h := New(src, &fakePlatform{}, Options{})

	var got []string
	stats, err := h.Run(context.Background(), Query{}, func(o Outcome) bool {
		got = append(got, o.Candidate.ID)
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got)
	assert.Equal(t, StopConsumer, stats.StopReason)
}

func TestRunCancellation(t *testing.T) {
	src := newFakeSource([]string{"a", "b"}, []string{"c"})
	p := &fakePlatform{}
	h := New(src, p, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var outs []Outcome
	stats, err := h.Run(ctx, Query{}, func(o Outcome) bool {
		outs = append(outs, o)
		cancel()
		return true
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StopCancelled, stats.StopReason)
	assert.Equal(t, []string{"a"}, ids(outs))
	assert.Equal(t, []string{"a"}, p.resolved)
}

func TestRunCancelledDuringSettle(t *testing.T) {
	src := newFakeSource([]string{"a"})
	h := New(src, &fakePlatform{}, Options{Settle: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	stats, err := h.Run(ctx, Query{}, func(Outcome) bool { return true })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StopCancelled, stats.StopReason)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRunPageSourceErrors(t *testing.T) {
	t.Run("open", func(t *testing.T) {
		src := newFakeSource([]string{"a"})
		src.openErr = errors.New("browser crashed")
		_, err := New(src, &fakePlatform{}, Options{}).Run(context.Background(), Query{}, func(Outcome) bool { return true })
		assert.True(t, errs.Is(err, errs.ErrorTypePageSource))
		assert.ErrorContains(t, err, "browser crashed")
	})

	t.Run("render", func(t *testing.T) {
		src := newFakeSource([]string{"a"})
		src.renderErr = errors.New("target closed")
		_, err := New(src, &fakePlatform{}, Options{}).Run(context.Background(), Query{}, func(Outcome) bool { return true })
		assert.True(t, errs.Is(err, errs.ErrorTypePageSource))
	})

	t.Run("query", func(t *testing.T) {
		p := &fakePlatform{queryErr: errs.New(errs.ErrorTypeInvalidInput, "empty query")}
		_, err := New(newFakeSource([]string{"a"}), p, Options{}).Run(context.Background(), Query{}, func(Outcome) bool { return true })
		assert.True(t, errs.Is(err, errs.ErrorTypeInvalidInput))
	})
}

func TestRunPacesResolutions(t *testing.T) {
	src := newFakeSource([]string{"a", "b", "c"})
	h := New(src, &fakePlatform{}, Options{Pause: 20 * time.Millisecond})

	start := time.Now()
	_, err := h.Run(context.Background(), Query{}, func(Outcome) bool { return true })
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

type countingReporter struct {
	ui.Nop
	mu     sync.Mutex
	ok     int
	failed int
}

func (r *countingReporter) Advance(stage ui.Stage, id string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.ok++
	} else {
		r.failed++
	}
}

func TestResolveAll(t *testing.T) {
	p := &fakePlatform{failures: map[string]error{"y": errors.New("gone")}}
	rep := &countingReporter{}

	var outs []Outcome
	stats, err := ResolveAll(context.Background(), p, []string{"x", "y", "z"}, Options{Reporter: rep}, collect(&outs))
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "z"}, ids(outs))
	assert.Equal(t, "/p/x/", outs[0].Candidate.URL)
	assert.True(t, outs[1].Failed())
	assert.Equal(t, 2, stats.Resolved)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 2, rep.ok)
	assert.Equal(t, 1, rep.failed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats, err = ResolveAll(ctx, p, []string{"x"}, Options{}, collect(&outs))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StopCancelled, stats.StopReason)
}

func TestQueryString(t *testing.T) {
	q := Query{
		Search: Search{AllWords: "cats", Hashtags: []string{"pets"}, From: []string{"bob"}},
		Since:  time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		Until:  time.Date(2021, 1, 31, 0, 0, 0, 0, time.UTC),
		Media:  models.MediaImage,
	}
	assert.Equal(t, "cats #pets from:bob since:2021-01-01 until:2021-01-31 image", q.String())
	assert.Equal(t, "@someone", Query{Account: "someone"}.String())
}
