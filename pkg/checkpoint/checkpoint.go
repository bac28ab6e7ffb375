package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
	errs "snsgrab/pkg/errors"
	"snsgrab/pkg/logger"
	"snsgrab/pkg/models"
)

// Version is the snapshot format written by this package
const Version = 1

const stampLayout = "20060102150405"

// Snapshot is the bucketed state of one subject at the end of a pass
type Snapshot struct {
	Version   int            `json:"version"`
	Platform  string         `json:"platform"`
	Subject   string         `json:"subject"`
	CreatedAt time.Time      `json:"created_at"`
	Buckets   models.Buckets `json:"buckets"`
}

// Store keeps snapshots in a blob bucket under <platform>/<subject>/
type Store struct {
	bucket *blob.Bucket
	log    logger.Logger
	now    func() time.Time
}

// Open opens the bucket at url, or the per-user data directory when url is empty
func Open(ctx context.Context, url string, log logger.Logger) (*Store, error) {
	var (
		bucket *blob.Bucket
		err    error
	)
	if url == "" {
		dir, derr := DataDir()
		if derr != nil {
			return nil, fmt.Errorf("failed to get data directory: %w", derr)
		}
		bucket, err = fileblob.OpenBucket(dir, &fileblob.Options{CreateDir: true})
	} else {
		bucket, err = blob.OpenBucket(ctx, url)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot bucket: %w", err)
	}
	return New(bucket, log), nil
}

// New wraps an already opened bucket
func New(bucket *blob.Bucket, log logger.Logger) *Store {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Store{bucket: bucket, log: log, now: time.Now}
}

// Close releases the bucket
func (s *Store) Close() error {
	return s.bucket.Close()
}

// Key returns <platform>/<subject>/<subject>_<YYYYMMDDHHMMSS>.json
func Key(platform, subject string, t time.Time) string {
	name := safeName(subject)
	return fmt.Sprintf("%s/%s/%s_%s.json", platform, name, name, t.Format(stampLayout))
}

// Save writes snap under a new key and returns it. Existing snapshots are
// never overwritten; a clashing key gets a numeric suffix.
func (s *Store) Save(ctx context.Context, snap *Snapshot) (string, error) {
	if snap.Platform == "" || snap.Subject == "" {
		return "", errs.New(errs.ErrorTypeSnapshotWrite, "snapshot needs a platform and a subject")
	}
	if snap.Version == 0 {
		snap.Version = Version
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = s.now()
	}
	snap.Buckets.Normalize()
	if err := snap.Buckets.Validate(); err != nil {
		return "", errs.Wrap(errs.ErrorTypeSnapshotWrite, err, "refusing to write inconsistent buckets")
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", errs.Wrap(errs.ErrorTypeSnapshotWrite, err, "failed to encode snapshot")
	}

	key, err := s.freeKey(ctx, Key(snap.Platform, snap.Subject, snap.CreatedAt))
	if err != nil {
		return "", errs.Wrap(errs.ErrorTypeSnapshotWrite, err, "failed to probe snapshot key")
	}

	if err := s.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{ContentType: "application/json"}); err != nil {
		return "", errs.Wrap(errs.ErrorTypeSnapshotWrite, err, key)
	}

	s.log.InfoWithFields("Snapshot saved", map[string]interface{}{
		"key":                   key,
		"succeeded":             len(snap.Buckets.Succeeded),
		"fetch_failed":          len(snap.Buckets.FetchFailed),
		"download_failed":       len(snap.Buckets.DownloadFailed),
		"video_download_failed": len(snap.Buckets.VideoDownloadFailed),
	})
	return key, nil
}

func (s *Store) freeKey(ctx context.Context, key string) (string, error) {
	base := strings.TrimSuffix(key, ".json")
	candidate := key
	for n := 1; ; n++ {
		exists, err := s.bucket.Exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d.json", base, n)
	}
}

// Load reads a snapshot by bucket key or, when ref names an existing file,
// from the filesystem
func (s *Store) Load(ctx context.Context, ref string) (*Snapshot, error) {
	var (
		data []byte
		err  error
	)
	if info, statErr := os.Stat(ref); statErr == nil && info.Mode().IsRegular() {
		data, err = os.ReadFile(ref)
	} else {
		data, err = s.bucket.ReadAll(ctx, ref)
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, errs.Wrap(errs.ErrorTypeSnapshotLoad, err, fmt.Sprintf("snapshot %s not found", ref))
		}
	}
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeSnapshotLoad, err, ref)
	}

	snap, err := decode(data)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeSnapshotLoad, err, ref)
	}

	s.log.InfoWithFields("Snapshot loaded", map[string]interface{}{
		"ref":        ref,
		"created_at": snap.CreatedAt,
		"counts":     snap.Buckets.Counts(),
	})
	return snap, nil
}

func decode(data []byte) (*Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var snap Snapshot
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Version != Version {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	snap.Buckets.Normalize()
	if err := snap.Buckets.Validate(); err != nil {
		return nil, fmt.Errorf("invalid buckets: %w", err)
	}
	return &snap, nil
}

// List returns the snapshot keys of a subject, oldest first
func (s *Store) List(ctx context.Context, platform, subject string) ([]string, error) {
	name := safeName(subject)
	prefix := fmt.Sprintf("%s/%s/%s_", platform, name, name)

	var keys []string
	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list snapshots: %w", err)
		}
		if obj.IsDir || !strings.HasSuffix(obj.Key, ".json") {
			continue
		}
		if _, _, ok := parseKey(obj.Key, prefix); ok {
			keys = append(keys, obj.Key)
		}
	}

	sort.Slice(keys, func(i, j int) bool {
		ti, ni, _ := parseKey(keys[i], prefix)
		tj, nj, _ := parseKey(keys[j], prefix)
		if ti != tj {
			return ti < tj
		}
		return ni < nj
	})
	return keys, nil
}

// Latest returns the newest snapshot key of a subject
func (s *Store) Latest(ctx context.Context, platform, subject string) (string, error) {
	keys, err := s.List(ctx, platform, subject)
	if err != nil {
		return "", errs.Wrap(errs.ErrorTypeSnapshotLoad, err, "")
	}
	if len(keys) == 0 {
		return "", errs.New(errs.ErrorTypeSnapshotLoad,
			fmt.Sprintf("no snapshots for %s/%s", platform, subject))
	}
	return keys[len(keys)-1], nil
}

// parseKey splits "<prefix><stamp>[-n].json" into its stamp and suffix
func parseKey(key, prefix string) (string, int, bool) {
	rest := strings.TrimSuffix(strings.TrimPrefix(key, prefix), ".json")
	stamp, suffix, hasSuffix := strings.Cut(rest, "-")
	if len(stamp) != len(stampLayout) {
		return "", 0, false
	}
	if _, err := time.Parse(stampLayout, stamp); err != nil {
		return "", 0, false
	}
	n := 0
	if hasSuffix {
		var err error
		if n, err = strconv.Atoi(suffix); err != nil {
			return "", 0, false
		}
	}
	return stamp, n, true
}

func safeName(subject string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(subject)
}

// DataDir returns the per-user directory that holds snapshots
func DataDir() (string, error) {
	var dataDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataDir = filepath.Join(home, "Library", "Application Support", "snsgrab")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		dataDir = filepath.Join(appData, "snsgrab")
	default:
		if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
			dataDir = filepath.Join(xdgDataHome, "snsgrab")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dataDir = filepath.Join(home, ".local", "share", "snsgrab")
		}
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dataDir, nil
}
