package instagram

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	errs "snsgrab/pkg/errors"
	"snsgrab/pkg/harvest"
	"snsgrab/pkg/logger"
	"snsgrab/pkg/models"
)

// Name is the platform identifier used in paths, snapshots and stores
const Name = "instagram"

// Selectors on the profile page. Best effort; they follow the site's markup.
const (
	postLinkSelector    = `article a[href*="/p/"]`
	postCountSelector   = "span.g47SY"
	viewMoreSelector    = "div._7UhW9"
	descriptionSelector = `meta[name="description"]`
)

var postCountPattern = regexp.MustCompile(`([\d.,]+[kKmM]?)\s+[Pp]osts`)

// Clicker clicks an element of the current page
type Clicker interface {
	Click(ctx context.Context, sel string) (bool, error)
}

// PostFetcher resolves a permalink path into post media
type PostFetcher interface {
	FetchPost(ctx context.Context, postPath string) (*Media, error)
}

// Platform harvests an Instagram profile grid
type Platform struct {
	fetcher PostFetcher
	clicker Clicker
	log     logger.Logger
}

// NewPlatform creates the Instagram platform. clicker may be nil, in which
// case the "view more posts" control is never used.
func NewPlatform(fetcher PostFetcher, clicker Clicker, log logger.Logger) *Platform {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Platform{fetcher: fetcher, clicker: clicker, log: log}
}

func (p *Platform) Name() string { return Name }

// ComposeQuery returns the profile URL of q.Account
func (p *Platform) ComposeQuery(q harvest.Query) (string, error) {
	account := SanitizeUsername(q.Account)
	if !IsValidUsername(account) {
		return "", errs.New(errs.ErrorTypeInvalidInput, "invalid instagram account "+strconv.Quote(q.Account))
	}
	return GetUserProfileURL(account), nil
}

// PageElements returns the post links of the profile grid in page order
func (p *Platform) PageElements(doc *goquery.Document) []harvest.Candidate {
	var out []harvest.Candidate
	doc.Find(postLinkSelector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		code := ShortcodeFromPath(href)
		if code == "" {
			return
		}
		out = append(out, p.Candidate(code))
	})
	return out
}

// TotalCount reads the profile's post count, 0 when it cannot be found
func (p *Platform) TotalCount(doc *goquery.Document) int {
	if n := parseCount(doc.Find(postCountSelector).First().Text()); n > 0 {
		return n
	}
	desc, _ := doc.Find(descriptionSelector).Attr("content")
	if m := postCountPattern.FindStringSubmatch(desc); m != nil {
		return parseCount(m[1])
	}
	p.log.Debug("Unable to read post count")
	return 0
}

// LoadMore clicks the "view more posts" control at the end of the grid
func (p *Platform) LoadMore(ctx context.Context) (bool, error) {
	if p.clicker == nil {
		return false, nil
	}
	clicked, err := p.clicker.Click(ctx, viewMoreSelector)
	if clicked {
		p.log.Info(`"View more posts" clicked`)
	}
	return clicked, err
}

// Candidate rebuilds a candidate from a shortcode
func (p *Platform) Candidate(id string) harvest.Candidate {
	return harvest.Candidate{ID: id, URL: GetPostPath(id)}
}

// ResolveDetail fetches the post JSON and converts it to an item
func (p *Platform) ResolveDetail(ctx context.Context, c harvest.Candidate) (*models.Item, error) {
	path := c.URL
	if path == "" {
		path = GetPostPath(c.ID)
	}
	media, err := p.fetcher.FetchPost(ctx, path)
	if err != nil {
		return nil, err
	}
	item, err := ToItem(c.ID, path, media)
	if err != nil {
		return nil, err
	}
	if item.Text == "" {
		p.log.DebugWithFields("Post body not available", map[string]interface{}{"id": c.ID})
	}
	return item, nil
}

// ToItem converts post media into an item with one ref per image or video
func ToItem(id, postPath string, m *Media) (*models.Item, error) {
	if m == nil {
		return nil, errs.New(errs.ErrorTypeParsing, "missing post media")
	}
	if id == "" {
		id = m.Shortcode
	}

	item := &models.Item{
		ID:  id,
		URL: postPath,
	}
	if m.TakenAtTimestamp > 0 {
		item.Timestamp = time.Unix(m.TakenAtTimestamp, 0)
	}
	if m.Location != nil {
		item.Location = m.Location.Name
	}
	if len(m.Caption.Edges) > 0 {
		item.Text = m.Caption.Edges[0].Node.Text
	}

	switch m.Typename {
	case TypeImage, TypeVideo:
		item.Media = []models.MediaRef{mediaRef(*m)}
	case TypeSidecar:
		if m.Children == nil {
			return nil, errs.New(errs.ErrorTypeParsing, "sidecar post without children")
		}
		for _, edge := range m.Children.Edges {
			item.Media = append(item.Media, mediaRef(edge.Node))
		}
	default:
		return nil, errs.New(errs.ErrorTypeParsing, "unknown media type "+strconv.Quote(m.Typename))
	}
	return item, nil
}

func mediaRef(m Media) models.MediaRef {
	if m.Typename == TypeVideo || m.IsVideo {
		return models.MediaRef{URL: m.VideoURL, Kind: models.MediaVideo, Basename: m.Shortcode, Ext: ".mp4"}
	}
	return models.MediaRef{URL: m.DisplayURL, Kind: models.MediaImage, Basename: m.Shortcode, Ext: ".jpg"}
}

// StopBefore returns a stop predicate that fires on the first post older
// than until. A post with an unknown timestamp also stops the pass.
func StopBefore(until time.Time) harvest.StopFunc {
	if until.IsZero() {
		return nil
	}
	return func(item *models.Item) bool {
		return !item.HasTimestamp() || item.Timestamp.Before(until)
	}
}

// parseCount reads "1,234", "1.2k" or "3m"
func parseCount(s string) int {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0
	}
	mult := 1.0
	switch s[len(s)-1] {
	case 'k', 'K':
		mult, s = 1e3, s[:len(s)-1]
	case 'm', 'M':
		mult, s = 1e6, s[:len(s)-1]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int(f * mult)
}
