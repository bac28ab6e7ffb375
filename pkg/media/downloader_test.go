package media

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"snsgrab/pkg/logger"
	"snsgrab/pkg/models"
)

var modTime = time.Date(2021, 4, 5, 6, 7, 8, 0, time.UTC)

type contentServer struct {
	*httptest.Server
	hits    atomic.Int32
	ranges  []string
	content []byte
}

func newContentServer(t *testing.T, content []byte) *contentServer {
	cs := &contentServer{content: content}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.hits.Add(1)
		cs.ranges = append(cs.ranges, r.Header.Get("Range"))
		http.ServeContent(w, r, "media.jpg", modTime, bytes.NewReader(cs.content))
	}))
	t.Cleanup(cs.Close)
	return cs
}

func newTestDownloader(maxRetry int) *Downloader {
	return NewDownloader(Options{
		MaxRetry:   maxRetry,
		RetryDelay: time.Millisecond,
		UserAgent:  "snsgrab-test",
		Logger:     logger.NewNopLogger(),
	})
}

func payload(n int) []byte {
	return bytes.Repeat([]byte("0123456789abcdef"), n/16+1)[:n]
}

func TestDownloadFresh(t *testing.T) {
	content := payload(3*ChunkSize + 17)
	srv := newContentServer(t, content)
	dest := filepath.Join(t.TempDir(), "a", "b", "file.jpg")

	ok := newTestDownloader(3).Download(context.Background(), srv.URL, dest, 3)
	require.True(t, ok)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, []string{""}, srv.ranges)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(modTime), "mtime %v", info.ModTime())
}

func TestDownloadResumesFromPartialFile(t *testing.T) {
	content := payload(20000)
	srv := newContentServer(t, content)
	dest := filepath.Join(t.TempDir(), "file.jpg")
	require.NoError(t, os.WriteFile(dest, content[:5000], 0644))

	ok := newTestDownloader(3).Download(context.Background(), srv.URL, dest, 3)
	require.True(t, ok)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, []string{"bytes=5000-"}, srv.ranges)
}

func TestDownloadAlreadyComplete(t *testing.T) {
	content := payload(1000)
	srv := newContentServer(t, content)
	dest := filepath.Join(t.TempDir(), "file.jpg")
	require.NoError(t, os.WriteFile(dest, content, 0644))

	ok := newTestDownloader(3).Download(context.Background(), srv.URL, dest, 3)
	require.True(t, ok)

	got, _ := os.ReadFile(dest)
	assert.Equal(t, content, got)
	assert.EqualValues(t, 1, srv.hits.Load())
}

func TestDownloadServerIgnoresRange(t *testing.T) {
	content := payload(4000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(content)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "file.jpg")
	require.NoError(t, os.WriteFile(dest, []byte("stale-prefix"), 0644))

	ok := newTestDownloader(0).Download(context.Background(), srv.URL, dest, 0)
	require.True(t, ok)

	got, _ := os.ReadFile(dest)
	assert.Equal(t, content, got)
}

func TestDownloadZeroContentLengthMeansComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusPartialContent)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "file.jpg")
	require.NoError(t, os.WriteFile(dest, []byte("done"), 0644))

	assert.True(t, newTestDownloader(0).Download(context.Background(), srv.URL, dest, 0))
	got, _ := os.ReadFile(dest)
	assert.Equal(t, "done", string(got))
}

func TestDownloadRetryBudget(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "file.jpg")
	ok := newTestDownloader(3).Download(context.Background(), srv.URL, dest, 3)

	assert.False(t, ok)
	assert.EqualValues(t, 4, hits.Load(), "one attempt plus three retries")
}

func TestDownloadTransientFailureRecovers(t *testing.T) {
	content := payload(100)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(content)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "file.jpg")
	assert.True(t, newTestDownloader(5).Download(context.Background(), srv.URL, dest, 5))
	assert.EqualValues(t, 3, hits.Load())
}

func TestDownloadNonRetryableStatus(t *testing.T) {
	for _, code := range []int{http.StatusForbidden, http.StatusNotFound, http.StatusGone} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(code)
			}))
			defer srv.Close()

			dest := filepath.Join(t.TempDir(), "file.jpg")
			assert.False(t, newTestDownloader(10).Download(context.Background(), srv.URL, dest, 10))
			assert.EqualValues(t, 1, hits.Load())
		})
	}
}

func TestDownloadCancelled(t *testing.T) {
	srv := newContentServer(t, payload(10))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dest := filepath.Join(t.TempDir(), "file.jpg")
	assert.False(t, newTestDownloader(3).Download(ctx, srv.URL, dest, 3))
	assert.EqualValues(t, 0, srv.hits.Load())
}

func TestDownloadUserAgent(t *testing.T) {
	var agents []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents = append(agents, r.UserAgent())
		w.Write([]byte("x"))
	}))
	defer srv.Close()
	dir := t.TempDir()

	newTestDownloader(0).Download(context.Background(), srv.URL, filepath.Join(dir, "1"), 0)
	NewDownloader(Options{}).Download(context.Background(), srv.URL, filepath.Join(dir, "2"), 0)

	require.Len(t, agents, 2)
	assert.Equal(t, "snsgrab-test", agents[0])
	assert.NotEmpty(t, agents[1])
	assert.NotContains(t, agents[1], "Go-http-client")
}

func TestDownloadRefFallback(t *testing.T) {
	fallback := newContentServer(t, []byte("plain image"))
	var primaryHits atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryHits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer primary.Close()

	dest := filepath.Join(t.TempDir(), "file.jpg")
	ref := models.MediaRef{URL: primary.URL + "/img.jpg:orig", FallbackURL: fallback.URL, Kind: models.MediaImage}

	ok := newTestDownloader(2).DownloadRef(context.Background(), ref, dest)
	require.True(t, ok)
	assert.EqualValues(t, 3, primaryHits.Load())
	assert.EqualValues(t, 1, fallback.hits.Load())

	got, _ := os.ReadFile(dest)
	assert.Equal(t, "plain image", string(got))
}

func TestDownloadRefWithoutFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	ref := models.MediaRef{URL: srv.URL, Kind: models.MediaImage}
	assert.False(t, newTestDownloader(1).DownloadRef(context.Background(), ref, filepath.Join(t.TempDir(), "f")))
}

func TestExt(t *testing.T) {
	tests := map[string]string{
		"https://pbs.twimg.com/media/abc.jpg:orig":        ".jpg",
		"https://cdn.example.com/v/t51/123_n.mp4?_nc_ht=1": ".mp4",
		"https://cdn.example.com/v/t51/noext":              ".bin",
		"https://cdn.example.com/a.PNG#frag":               ".png",
	}
	for in, want := range tests {
		assert.Equal(t, want, Ext(in, ".bin"), in)
	}
}
