package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(id string, refs ...MediaRef) Item {
	return Item{ID: id, URL: "/p/" + id + "/", Timestamp: time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC), Media: refs}
}

func TestWithMediaIsCopyOnWrite(t *testing.T) {
	refs := []MediaRef{
		{URL: "https://cdn/a.jpg", Kind: MediaImage, Basename: "a", Ext: ".jpg"},
		{URL: "https://cdn/b.jpg", Kind: MediaImage, Basename: "b", Ext: ".jpg"},
	}
	orig := item("x1", refs...)

	proj := orig.WithMedia(refs[1:])
	proj.Media[0].Basename = "changed"

	assert.Len(t, orig.Media, 2)
	assert.Equal(t, "b", orig.Media[1].Basename)
	assert.Equal(t, orig.ID, proj.ID)
	assert.Equal(t, orig.Timestamp, proj.Timestamp)
	assert.Equal(t, "b.jpg", refs[1].Filename())
}

func TestParseMediaKind(t *testing.T) {
	k, err := ParseMediaKind("video")
	require.NoError(t, err)
	assert.Equal(t, MediaVideo, k)

	_, err = ParseMediaKind("gif")
	assert.Error(t, err)
}

func TestBucketsEmptyAndNeedsResume(t *testing.T) {
	var b Buckets
	assert.True(t, b.Empty())
	assert.False(t, b.NeedsResume())

	b.Succeeded = []Item{item("a")}
	assert.False(t, b.Empty())
	assert.False(t, b.NeedsResume())

	b.FetchFailed = []string{"b"}
	assert.True(t, b.NeedsResume())

	assert.Equal(t, map[string]int{
		"succeeded":             1,
		"fetch_failed":          1,
		"download_failed":       0,
		"video_download_failed": 0,
	}, b.Counts())
}

func TestBucketsValidate(t *testing.T) {
	tests := []struct {
		name    string
		buckets Buckets
		wantErr string
	}{
		{
			name: "valid",
			buckets: Buckets{
				Succeeded:      []Item{item("a"), item("b")},
				FetchFailed:    []string{"c"},
				DownloadFailed: []Item{item("b")},
			},
		},
		{
			name:    "fetched and failed",
			buckets: Buckets{Succeeded: []Item{item("a")}, FetchFailed: []string{"a"}},
			wantErr: "both succeeded and fetch_failed",
		},
		{
			name:    "download failure outside succeeded",
			buckets: Buckets{DownloadFailed: []Item{item("z")}},
			wantErr: "download_failed: id z is not in succeeded",
		},
		{
			name:    "duplicate video failure",
			buckets: Buckets{Succeeded: []Item{item("a")}, VideoDownloadFailed: []Item{item("a"), item("a")}},
			wantErr: "video_download_failed: duplicate id a",
		},
		{
			name:    "duplicate fetch failure",
			buckets: Buckets{FetchFailed: []string{"q", "q"}},
			wantErr: "fetch_failed: duplicate id q",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.buckets.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestNormalize(t *testing.T) {
	var b Buckets
	b.Normalize()
	assert.NotNil(t, b.Succeeded)
	assert.NotNil(t, b.FetchFailed)
	assert.NotNil(t, b.DownloadFailed)
	assert.NotNil(t, b.VideoDownloadFailed)
	assert.Equal(t, "video_download_failed", KindVideoDownloadFailed.String())
	assert.Equal(t, []string{"a", "b"}, IDs([]Item{item("a"), item("b")}))
}
