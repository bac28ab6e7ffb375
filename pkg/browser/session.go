package browser

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	errs "snsgrab/pkg/errors"
	"snsgrab/pkg/logger"
)

// Options configure a browser session
type Options struct {
	Headless    bool
	ExecPath    string
	UserAgent   string
	BlockImages bool
	// Timeout bounds each individual browser action
	Timeout time.Duration
	Logger  logger.Logger
}

// Cookie is a site session cookie to install before navigation
type Cookie struct {
	Name   string
	Value  string
	Domain string
	Path   string
}

// Session is a single headless Chrome tab used as a scrollable page source.
// It is not safe for concurrent use; harvesting is serialized on one session.
type Session struct {
	mu          sync.Mutex
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	opts        Options
	log         logger.Logger
}

// New starts a browser process and opens the primary tab
func New(opts Options) (*Session, error) {
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	} else if path := findChrome(); path != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(path))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.BlockImages {
		allocOpts = append(allocOpts, chromedp.Flag("blink-settings", "imagesEnabled=false"))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	log := opts.Logger.WithField("component", "browser")
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logger.Printf(log)),
		chromedp.WithErrorf(logger.Printf(log.WithField("chromedp", "error"))),
	)

	// the first Run starts the browser
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, errs.Wrap(errs.ErrorTypePageSource, err, "failed to start browser")
	}
	log.InfoWithFields("Browser started", map[string]interface{}{"headless": opts.Headless})

	return &Session{
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		opts:        opts,
		log:         log,
	}, nil
}

// Close shuts the browser down
func (s *Session) Close() error {
	s.tabCancel()
	s.allocCancel()
	return nil
}

// run executes actions on tab bounded by the session timeout and ctx
func (s *Session) run(ctx context.Context, tab context.Context, actions ...chromedp.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	runCtx, cancel := context.WithTimeout(tab, s.opts.Timeout)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Open navigates the primary tab and waits for the body
func (s *Session) Open(ctx context.Context, url string) error {
	s.log.DebugWithFields("Navigating", map[string]interface{}{"url": url})
	return s.run(ctx, s.tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// Render returns the current document of the primary tab
func (s *Session) Render(ctx context.Context) (*goquery.Document, error) {
	var html string
	if err := s.run(ctx, s.tabCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, err
	}
	return parse(html)
}

// Scroll moves the primary tab to vertical offset y
func (s *Session) Scroll(ctx context.Context, y int) error {
	return s.run(ctx, s.tabCtx, chromedp.Evaluate(fmt.Sprintf("window.scrollTo(0, %d);", y), nil))
}

const extentJS = `Math.max(
	document.body.scrollHeight, document.documentElement.scrollHeight,
	document.body.offsetHeight, document.documentElement.offsetHeight,
	document.body.clientHeight, document.documentElement.clientHeight)`

// ScrollExtent returns the full scrollable height of the page
func (s *Session) ScrollExtent(ctx context.Context) (int, error) {
	var h int
	err := s.run(ctx, s.tabCtx, chromedp.Evaluate(extentJS, &h))
	return h, err
}

// ViewportHeight returns the visible height of the page
func (s *Session) ViewportHeight(ctx context.Context) (int, error) {
	var h int
	err := s.run(ctx, s.tabCtx, chromedp.Evaluate("document.documentElement.clientHeight", &h))
	return h, err
}

// Click clicks the first element matching sel. It reports false when the
// element is absent.
func (s *Session) Click(ctx context.Context, sel string) (bool, error) {
	var nodes int
	err := s.run(ctx, s.tabCtx,
		chromedp.Evaluate(fmt.Sprintf("document.querySelectorAll(%q).length", sel), &nodes),
	)
	if err != nil || nodes == 0 {
		return false, err
	}
	if err := s.run(ctx, s.tabCtx, chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return false, err
	}
	return true, nil
}

// RenderURL loads url in a second tab, waits for waitSel and returns its
// document. The tab is closed afterwards.
func (s *Session) RenderURL(ctx context.Context, url, waitSel string) (*goquery.Document, error) {
	tab, cancel := chromedp.NewContext(s.tabCtx)
	defer cancel()

	if waitSel == "" {
		waitSel = "body"
	}
	var html string
	err := s.run(ctx, tab,
		chromedp.Navigate(url),
		chromedp.WaitReady(waitSel, chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, err
	}
	return parse(html)
}

// SetCookies installs session cookies in the browser
func (s *Session) SetCookies(ctx context.Context, cookies []Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	return s.run(ctx, s.tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			path := c.Path
			if path == "" {
				path = "/"
			}
			if err := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(path).
				WithSecure(true).
				Do(ctx); err != nil {
				return fmt.Errorf("failed to set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}))
}

func parse(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeParsing, err, "failed to parse rendered page")
	}
	return doc, nil
}

// findChrome returns the first Chrome-like executable on PATH, or ""
// to let chromedp use its own lookup
func findChrome() string {
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}
