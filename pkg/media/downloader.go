package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/corpix/uarand"
	errs "snsgrab/pkg/errors"
	"snsgrab/pkg/logger"
	"snsgrab/pkg/models"
	"snsgrab/pkg/ratelimit"
	"snsgrab/pkg/retry"
)

// ChunkSize is the streaming buffer size for response bodies
const ChunkSize = 8192

// Options configures a Downloader
type Options struct {
	Client     *http.Client
	UserAgent  string // empty picks a random browser user agent per request
	MaxRetry   int    // retries after the first attempt, used by DownloadRef
	RetryDelay time.Duration
	Limiter    ratelimit.Limiter
	Logger     logger.Logger
}

// Downloader fetches single binary resources with byte-range resume
type Downloader struct {
	client     *http.Client
	userAgent  string
	maxRetry   int
	retryDelay time.Duration
	limiter    ratelimit.Limiter
	log        logger.Logger
}

// NewDownloader creates a downloader
func NewDownloader(opts Options) *Downloader {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Downloader{
		client:     client,
		userAgent:  opts.UserAgent,
		maxRetry:   opts.MaxRetry,
		retryDelay: opts.RetryDelay,
		limiter:    opts.Limiter,
		log:        log,
	}
}

// Download stores url at dest, resuming from whatever is already on disk.
// It retries transport failures and retryable statuses up to maxRetry times
// and reports whether dest now holds the complete resource.
func (d *Downloader) Download(ctx context.Context, url, dest string, maxRetry int) bool {
	log := d.log.WithFields(map[string]interface{}{"url": url, "dest": dest})

	err := retry.Do(ctx, func(ctx context.Context) error {
		return d.fetch(ctx, url, dest)
	}, retry.Fixed(maxRetry, d.retryDelay, log))

	if err != nil {
		log.WithError(err).Warn("Download failed")
		return false
	}
	return true
}

// DownloadRef downloads ref.URL and, when that fails, ref.FallbackURL with
// a fresh budget. Partial bytes from the first source are discarded before
// the fallback starts.
func (d *Downloader) DownloadRef(ctx context.Context, ref models.MediaRef, dest string) bool {
	if d.Download(ctx, ref.URL, dest, d.maxRetry) {
		return true
	}
	if ref.FallbackURL == "" || ref.FallbackURL == ref.URL || ctx.Err() != nil {
		return false
	}

	d.log.WithField("fallback", ref.FallbackURL).Info("Trying fallback url")
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		d.log.WithError(err).Warn("Could not discard partial download")
		return false
	}
	return d.Download(ctx, ref.FallbackURL, dest, d.maxRetry)
}

// fetch performs one attempt
func (d *Downloader) fetch(ctx context.Context, url, dest string) error {
	var offset int64
	if info, err := os.Stat(dest); err == nil && info.Mode().IsRegular() {
		offset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return retry.Permanent(errs.Wrap(errs.ErrorTypeInvalidInput, err, "bad media url"))
	}
	req.Header.Set("User-Agent", d.agent())
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeNetwork, err, "request failed")
	}
	defer resp.Body.Close()

	var flags int
	switch {
	case offset > 0 && resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		return nil
	case offset > 0 && resp.ContentLength == 0 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent:
		// the server ignored the range; start over
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	default:
		statusErr := errs.FromStatus(resp.StatusCode, http.StatusText(resp.StatusCode))
		if !errs.IsRetryableStatusCode(resp.StatusCode) {
			return retry.Permanent(statusErr)
		}
		return statusErr
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return retry.Permanent(fmt.Errorf("failed to create directory: %w", err))
	}
	f, err := os.OpenFile(dest, flags, 0644)
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to open %s: %w", dest, err))
	}

	written, copyErr := copyChunks(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		return errs.Wrap(errs.ErrorTypeNetwork, copyErr, fmt.Sprintf("body interrupted after %d bytes", written))
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close %s: %w", dest, closeErr)
	}

	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			if err := os.Chtimes(dest, t, t); err != nil {
				d.log.WithError(err).Debug("Could not set file times")
			}
		}
	}
	return nil
}

func (d *Downloader) agent() string {
	if d.userAgent != "" {
		return d.userAgent
	}
	return uarand.GetRandom()
}

func copyChunks(w io.Writer, r io.Reader) (int64, error) {
	buf := make([]byte, ChunkSize)
	var total int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			total += int64(m)
			if werr != nil {
				return total, werr
			}
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// Ext guesses a file extension from a media URL, ignoring query strings
func Ext(rawURL, fallback string) string {
	path := rawURL
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if i := strings.LastIndex(path, ":"); i > strings.LastIndex(path, "/") {
		path = path[:i]
	}
	if ext := filepath.Ext(path); ext != "" && len(ext) <= 5 {
		return strings.ToLower(ext)
	}
	return fallback
}
