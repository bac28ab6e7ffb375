package twitter

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"snsgrab/pkg/daterange"
	errs "snsgrab/pkg/errors"
	"snsgrab/pkg/harvest"
	"snsgrab/pkg/logger"
	"snsgrab/pkg/models"
)

// Name is the platform identifier used in paths, snapshots and stores
const Name = "twitter"

const (
	// BaseURL is the base URL for Twitter
	BaseURL   = "https://twitter.com"
	searchURL = BaseURL + "/search?q="
)

// Selectors on search results and tweet pages. Best effort.
const (
	articleSelector   = "article"
	statusLinkSel     = `a[href*="/status/"]`
	timeSelector      = "time[datetime]"
	tweetTextSelector = `div[data-testid="tweetText"], div.css-1dbjc4n.r-156q2ks`
	imageSelector     = `img[src*="/media/"]`
	videoSelector     = `div[data-testid="videoPlayer"], video, div.r-1p0dtai.r-1d2f490.r-u8s1d.r-zchlnj.r-ipm5af`
)

// Renderer loads a page in a separate tab and returns its document
type Renderer interface {
	RenderURL(ctx context.Context, url, waitSel string) (*goquery.Document, error)
}

// Platform harvests Twitter search results
type Platform struct {
	renderer Renderer
	log      logger.Logger
}

// NewPlatform creates the Twitter platform
func NewPlatform(renderer Renderer, log logger.Logger) *Platform {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Platform{renderer: renderer, log: log}
}

func (p *Platform) Name() string { return Name }

// ComposeQuery builds the search URL for q. q.Until is inclusive; the site's
// until: operator is exclusive, so the day after is sent.
func (p *Platform) ComposeQuery(q harvest.Query) (string, error) {
	if q.Media != models.MediaImage && q.Media != models.MediaVideo {
		return "", errs.New(errs.ErrorTypeInvalidInput, "media must be image or video")
	}

	s := q.Search
	var parts []string
	if w := strings.TrimSpace(s.AllWords); w != "" {
		for _, word := range strings.Fields(w) {
			parts = append(parts, escape(word))
		}
	}
	if s.ExactWords != "" {
		parts = append(parts, "%22"+escape(s.ExactWords)+"%22")
	}
	if len(s.IncludeWords) > 0 {
		parts = append(parts, group("", s.IncludeWords, ""))
	}
	for _, w := range s.ExcludeWords {
		parts = append(parts, "-"+escape(w))
	}
	if len(s.Hashtags) > 0 {
		parts = append(parts, group("%23", s.Hashtags, "#"))
	}
	if len(s.From) > 0 {
		parts = append(parts, group("from:", s.From, "@"))
	}
	if len(s.To) > 0 {
		parts = append(parts, group("to:", s.To, "@"))
	}
	if len(s.Mentions) > 0 {
		parts = append(parts, group("%40", s.Mentions, "@"))
	}
	if len(parts) == 0 {
		return "", errs.New(errs.ErrorTypeInvalidInput, "search query has no terms")
	}
	if !q.Since.IsZero() {
		parts = append(parts, "since:"+daterange.Date(q.Since).Format(daterange.Layout))
	}
	if !q.Until.IsZero() {
		parts = append(parts, "until:"+daterange.NextDay(q.Until).Format(daterange.Layout))
	}

	return searchURL + strings.Join(parts, "%20") + "&f=" + string(q.Media), nil
}

// group renders (op a OR op b), dropping trim from the front of each value
func group(op string, values []string, trim string) string {
	terms := make([]string, 0, len(values))
	for _, v := range values {
		if trim != "" {
			v = strings.TrimPrefix(v, trim)
		}
		if v == "" {
			continue
		}
		terms = append(terms, op+escape(v))
	}
	return "(" + strings.Join(terms, "%20OR%20") + ")"
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// PageElements returns the tweets of a search results page in page order
func (p *Platform) PageElements(doc *goquery.Document) []harvest.Candidate {
	var out []harvest.Candidate
	doc.Find(articleSelector).Each(func(_ int, article *goquery.Selection) {
		var href string
		article.Find(statusLinkSel).EachWithBreak(func(_ int, a *goquery.Selection) bool {
			h, _ := a.Attr("href")
			if StatusID(h) != "" {
				href = h
				return false
			}
			return true
		})
		if href == "" {
			return
		}
		cand := harvest.Candidate{ID: StatusID(href), URL: statusPath(href)}
		if dt, ok := article.Find(timeSelector).First().Attr("datetime"); ok {
			if ts, err := time.Parse(time.RFC3339, dt); err == nil {
				cand.Timestamp = ts
			}
		}
		out = append(out, cand)
	})
	return out
}

// TotalCount is unknown for search results
func (p *Platform) TotalCount(doc *goquery.Document) int { return 0 }

// Candidate rebuilds a candidate from a tweet id
func (p *Platform) Candidate(id string) harvest.Candidate {
	return harvest.Candidate{ID: id, URL: "/i/web/status/" + id}
}

// ResolveDetail renders the tweet page and extracts text and media
func (p *Platform) ResolveDetail(ctx context.Context, c harvest.Candidate) (*models.Item, error) {
	path := c.URL
	if path == "" {
		path = p.Candidate(c.ID).URL
	}
	doc, err := p.renderer.RenderURL(ctx, BaseURL+path, articleSelector)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeFetch, err, "failed to render tweet "+c.ID)
	}

	item := ParseTweet(doc, c.ID, path)
	if item.Timestamp.IsZero() {
		item.Timestamp = c.Timestamp
	}
	if item.Text == "" {
		p.log.DebugWithFields("Unable to read tweet text", map[string]interface{}{"id": c.ID})
	}
	return item, nil
}

// ParseTweet extracts an item from a rendered tweet page. Images take
// precedence; a tweet without images but with a video player gets one
// video ref pointing at the tweet page for the extractor.
func ParseTweet(doc *goquery.Document, id, path string) *models.Item {
	item := &models.Item{ID: id, URL: path}

	main := doc.Find(articleSelector).First()
	if main.Length() == 0 {
		main = doc.Selection
	}
	item.Text = strings.TrimSpace(main.Find(tweetTextSelector).First().Text())
	if dt, ok := main.Find(timeSelector).First().Attr("datetime"); ok {
		if ts, err := time.Parse(time.RFC3339, dt); err == nil {
			item.Timestamp = ts
		}
	}

	seen := make(map[string]bool)
	main.Find(imageSelector).Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		ref, ok := imageRef(src)
		if !ok || seen[ref.Basename] {
			return
		}
		seen[ref.Basename] = true
		item.Media = append(item.Media, ref)
	})

	if len(item.Media) == 0 && main.Find(videoSelector).Length() > 0 {
		item.Media = []models.MediaRef{{
			URL:      BaseURL + path,
			Kind:     models.MediaVideo,
			Basename: id,
		}}
	}
	return item
}

// imageRef turns a media src into a ref for the original-size image with
// the plain URL as fallback
func imageRef(src string) (models.MediaRef, bool) {
	if i := strings.Index(src, "?"); i >= 0 {
		src = src[:i]
	}
	src = strings.TrimSuffix(src, ".jpg")
	base := src[strings.LastIndex(src, "/")+1:]
	if base == "" || !strings.Contains(src, "/media/") {
		return models.MediaRef{}, false
	}
	plain := src + ".jpg"
	return models.MediaRef{
		URL:         plain + ":orig",
		FallbackURL: plain,
		Kind:        models.MediaImage,
		Basename:    base,
		Ext:         ".jpg",
	}, true
}

// StatusID returns the tweet id of a /<user>/status/<id> link, or ""
func StatusID(href string) string {
	i := strings.Index(href, "/status/")
	if i < 0 {
		return ""
	}
	rest := href[i+len("/status/"):]
	if j := strings.IndexAny(rest, "/?#"); j >= 0 {
		rest = rest[:j]
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return rest
}

// statusPath trims photo and analytics suffixes from a status link
func statusPath(href string) string {
	href = strings.TrimPrefix(href, BaseURL)
	i := strings.Index(href, "/status/")
	id := StatusID(href)
	return href[:i] + "/status/" + id
}
