package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"snsgrab/pkg/auth"
	"snsgrab/pkg/browser"
	"snsgrab/pkg/checkpoint"
	"snsgrab/pkg/config"
	errs "snsgrab/pkg/errors"
	"snsgrab/pkg/harvest"
	"snsgrab/pkg/logger"
	"snsgrab/pkg/media"
	"snsgrab/pkg/pipeline"
	"snsgrab/pkg/ratelimit"
	"snsgrab/pkg/sink"
	"snsgrab/pkg/storage"
	"snsgrab/pkg/ui"
	"snsgrab/pkg/ui/tui"
)

// Replaced in tests
var (
	openApp    = newApp
	runSubject = execute
	clock      = time.Now
)

// app holds what every harvest command shares for one platform
type app struct {
	cfg      *config.Config
	log      logger.Logger
	platform string
	layout   *storage.Layout
	store    *checkpoint.Store
	sink     sink.Sink
	creds    *auth.Manager
	session  *browser.Session
}

// collectFlags returns the flags the user set explicitly, keyed as
// config.MergeCommandLineFlags expects them
func collectFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	set := func(name string, get func() interface{}) {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			flags[name] = get()
		}
	}
	fs := cmd.Flags()
	set("headless", func() interface{} { v, _ := fs.GetBool("headless"); return v })
	set("pause", func() interface{} { v, _ := fs.GetDuration("pause"); return v })
	set("chrome-path", func() interface{} { v, _ := fs.GetString("chrome-path"); return v })
	set("output", func() interface{} { v, _ := fs.GetString("output"); return v })
	set("concurrent", func() interface{} { v, _ := fs.GetInt("concurrent"); return v })
	set("max-retries", func() interface{} { v, _ := fs.GetInt("max-retries"); return v })
	set("fetch-limit", func() interface{} { v, _ := fs.GetInt("fetch-limit"); return v })
	set("store", func() interface{} { v, _ := fs.GetString("store"); return v })
	set("mongo-uri", func() interface{} { v, _ := fs.GetString("mongo-uri"); return v })
	set("dsn", func() interface{} { v, _ := fs.GetString("dsn"); return v })
	set("skip-on-duplicate", func() interface{} { v, _ := fs.GetBool("skip-on-duplicate"); return v })
	set("verify-on-disk", func() interface{} { v, _ := fs.GetBool("verify-on-disk"); return v })
	return flags
}

// addBrowserFlags registers the flags of commands that drive a browser
func addBrowserFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("headless", true, "run the browser without a window")
	cmd.Flags().Duration("pause", 5*time.Second, "pause between post detail requests")
	cmd.Flags().String("chrome-path", "", "Chrome or Chromium executable (default: search PATH)")
}

// addRunFlags registers the flags shared by every harvest and resume command
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", "", "output directory for downloads (default: current directory)")
	cmd.Flags().Int("concurrent", 3, "number of concurrent downloads")
	cmd.Flags().Int("max-retries", 10, "retries per media URL")
	cmd.Flags().String("store", "", "record store: none, file, mongo or postgres (default: file)")
	cmd.Flags().String("mongo-uri", "", "MongoDB connection URI")
	cmd.Flags().String("dsn", "", "PostgreSQL DSN")
	cmd.Flags().Bool("skip-on-duplicate", true, "skip downloads of posts already in the store")
	cmd.Flags().Bool("verify-on-disk", true, "only skip a recorded post when its files exist")
	cmd.Flags().StringP("account", "a", "", "stored session to use (default: the newest for the platform)")
}

// newApp loads configuration and opens the stores for platform
func newApp(ctx context.Context, cmd *cobra.Command, platform string) (*app, error) {
	cfg, err := config.Load(configFile, collectFlags(cmd))
	if err != nil {
		return nil, err
	}

	if cfg.Logging.File == "" {
		if path, err := logger.DefaultLogFile(platform); err == nil {
			cfg.Logging.File = path
		}
	}
	var console io.Writer = os.Stderr
	if useTUI || (!verbose && logLevel == "") {
		// progress output owns the terminal; the log file keeps everything
		console = io.Discard
	}
	log, err := logger.NewWithWriter(&cfg.Logging, console)
	if err != nil {
		return nil, err
	}
	log.InfoWithFields("snsgrab starting", map[string]interface{}{
		"version":  version,
		"platform": platform,
		"command":  cmd.Name(),
	})

	layout, err := storage.NewLayout(cfg.Output.BaseDirectory)
	if err != nil {
		return nil, err
	}
	store, err := checkpoint.Open(ctx, cfg.Checkpoint.BucketURL, log)
	if err != nil {
		return nil, err
	}
	rec, err := sink.Open(ctx, cfg.Store, platform, layout, log)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		platform: platform,
		layout:   layout,
		store:    store,
		sink:     rec,
	}
	if dir, err := auth.ConfigDir(); err == nil {
		if m, err := auth.NewManager(dir); err == nil {
			a.creds = m
		} else {
			log.WithError(err).Warn("Credential stores unavailable")
		}
	}
	return a, nil
}

// Close releases the browser and the stores
func (a *app) Close() {
	if a.session != nil {
		a.session.Close()
	}
	if err := a.sink.Close(context.Background()); err != nil {
		a.log.WithError(err).Warn("Failed to close record store")
	}
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close snapshot store")
	}
}

// credentials returns the stored session for the platform, or nil when
// none is stored and account was not asked for explicitly
func (a *app) credentials(account string) (*auth.Session, error) {
	if a.creds == nil {
		return nil, nil
	}
	s, err := a.creds.RetrieveDefault(a.platform, account)
	if err != nil {
		if account == "" {
			a.log.Warn("No stored session, continuing logged out")
			return nil, nil
		}
		return nil, fmt.Errorf("session %s not found: %w", auth.Key(a.platform, account), err)
	}
	a.log.InfoWithFields("Using stored session", map[string]interface{}{"account": s.Account})
	return s, nil
}

// browser starts the shared browser session and installs creds
func (a *app) browser(ctx context.Context, creds *auth.Session) (*browser.Session, error) {
	if a.session != nil {
		return a.session, nil
	}
	ua := a.cfg.Browser.UserAgent
	if creds != nil && creds.UserAgent != "" {
		ua = creds.UserAgent
	}
	sess, err := browser.New(browser.Options{
		Headless:    a.cfg.Browser.Headless,
		ExecPath:    a.cfg.Browser.ExecPath,
		UserAgent:   ua,
		BlockImages: a.cfg.Browser.BlockImages,
		Timeout:     a.cfg.Browser.Timeout,
		Logger:      a.log,
	})
	if err != nil {
		return nil, err
	}
	if creds != nil {
		cookies := make([]browser.Cookie, 0, len(creds.Cookies))
		for _, c := range creds.HTTPCookies() {
			cookies = append(cookies, browser.Cookie{Name: c.Name, Value: c.Value, Domain: auth.CookieDomains[a.platform]})
		}
		if err := sess.SetCookies(ctx, cookies); err != nil {
			sess.Close()
			return nil, errs.Wrap(errs.ErrorTypeAuth, err, "failed to install session cookies")
		}
	}
	a.session = sess
	return sess, nil
}

// harvestOptions are the pass options for a reporter
func (a *app) harvestOptions(r ui.Reporter) harvest.Options {
	return harvest.Options{
		Pause:    a.cfg.Browser.Pause,
		Settle:   a.cfg.Browser.Settle,
		Logger:   a.log,
		Reporter: r,
	}
}

// downloadLimiter admits requests_per_minute media requests with bursts
// of burst_size; nil disables throttling
func downloadLimiter(cfg config.RateLimitConfig) ratelimit.Limiter {
	if cfg.RequestsPerMinute <= 0 {
		return nil
	}
	burst := cfg.BurstSize
	if burst <= 0 || burst > cfg.RequestsPerMinute {
		burst = cfg.RequestsPerMinute
	}
	return ratelimit.NewTokenBucket(burst, time.Minute*time.Duration(burst)/time.Duration(cfg.RequestsPerMinute))
}

// orchestrator wires the pipeline for this app
func (a *app) orchestrator(h pipeline.Harvester, r harvest.Resolver, rep ui.Reporter) *pipeline.Orchestrator {
	cfg := a.cfg
	downloads := media.NewDownloader(media.Options{
		Client:     &http.Client{Timeout: cfg.Download.Timeout},
		UserAgent:  cfg.Browser.UserAgent,
		MaxRetry:   cfg.Download.MaxRetries,
		RetryDelay: cfg.Download.RetryDelay,
		Logger:     a.log,
	})
	videos := media.NewVideoDownloader(
		media.NewCommandExtractor(cfg.Download.VideoTool),
		cfg.Download.VideoMaxRetries,
		cfg.Download.VideoRetryDelay,
		a.log,
	)

	return pipeline.New(pipeline.Deps{
		Harvester:  h,
		Resolver:   r,
		Downloader: downloads,
		Videos:     videos,
		Store:      a.store,
		Sink:       a.sink,
		Layout:     a.layout,
		Logger:     a.log,
		Reporter:   rep,
		Limiter:    downloadLimiter(cfg.RateLimit),
	}, pipeline.Options{
		Concurrency:     cfg.Download.ConcurrentDownloads,
		FetchLimit:      cfg.Resume.FetchLimit,
		SkipOnDuplicate: cfg.Store.SkipOnDuplicate,
		VerifyOnDisk:    cfg.Store.VerifyOnDisk,
		Pause:           cfg.Browser.Pause,
	})
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// execute runs one subject with the reporter chosen by the global flags.
// build receives that reporter and returns the orchestrator to run.
func execute(ctx context.Context, subject string, build func(ui.Reporter) (*pipeline.Orchestrator, error), spec pipeline.RunSpec) (*pipeline.Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		rep      ui.Reporter
		terminal *tui.TUI
		uiDone   chan error
	)
	switch {
	case useTUI:
		terminal = tui.NewTUI(subject, cancel)
		uiDone = make(chan error, 1)
		go func() { uiDone <- terminal.Run() }()
		rep = terminal
	case quiet:
		rep = ui.Nop{}
	default:
		ui.PrintInfo("Subject", subject)
		rep = ui.NewConsole(os.Stdout, verbose)
	}
	if notifications {
		rep = ui.WithNotifications(rep, ui.DefaultSender())
	}

	orch, err := build(rep)
	if err != nil {
		if terminal != nil {
			terminal.Stop()
			<-uiDone
		}
		return nil, err
	}
	sum, err := orch.Run(ctx, spec)

	if terminal != nil {
		// the result stays on screen until the user quits
		if uiErr := <-uiDone; uiErr != nil && err == nil {
			err = uiErr
		}
	}
	report(sum, err)
	return sum, err
}

// report prints the outcome of a run outside the TUI
func report(sum *pipeline.Summary, err error) {
	if errs.Is(err, errs.ErrorTypeSnapshotWrite) {
		ui.PrintSnapshotFailure(err)
	}
	if sum == nil {
		return
	}
	if sum.Snapshot != "" {
		ui.PrintWarning("Some items need another pass, resume with snapshot", sum.Snapshot)
	} else if err == nil {
		ui.PrintSuccess(fmt.Sprintf("%s complete: %d files downloaded, %d already recorded", sum.Subject, sum.Downloaded, sum.Skipped))
	}
}
