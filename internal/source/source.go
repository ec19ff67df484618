// Package source builds asset sets at startup from a source URL.
//
// Supported sources:
//   - builtin: (or empty) - the site compiled into the binary
//   - file:///path/to/dir, s3://bucket, mem:// - a blob bucket, optionally scoped with ?prefix=
//   - file:///path/to/site.zip (or .tar, .tar.gz, .tgz, .tar.bz2, .tar.xz) - an archive, with
//     ?strip=dir or ?strip=auto to remove a leading directory
//   - sqlite:///path/to/assets.db, postgres://... - the assets table of a database
//
// A plain filesystem path is treated as a file:// URL.
package source

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/git-pkgs/embedserve/internal/archive"
	"github.com/git-pkgs/embedserve/internal/asset"
	"github.com/git-pkgs/embedserve/internal/database"
	"github.com/git-pkgs/embedserve/internal/metrics"
	"github.com/git-pkgs/embedserve/internal/storage"
)

var ErrUnsupported = errors.New("unsupported source")

// Source kinds reported by Describe.
const (
	KindBuiltin  = "builtin"
	KindBucket   = "bucket"
	KindArchive  = "archive"
	KindDatabase = "database"
)

const builtinScheme = "builtin:"

//go:embed builtin
var builtinFS embed.FS

// Options controls how a source is loaded.
type Options struct {
	// MaxSize limits the total asset size in bytes. Zero means unlimited.
	MaxSize int64
	Logger  *slog.Logger
}

// Describe returns the kind of loader rawURL selects, or "" if none does.
func Describe(rawURL string) string {
	rawURL = Normalize(rawURL)
	switch {
	case rawURL == builtinScheme:
		return KindBuiltin
	case database.IsURL(rawURL):
		return KindDatabase
	case strings.HasPrefix(rawURL, "file://"):
		if archive.IsArchive(urlPath(rawURL)) {
			return KindArchive
		}
		return KindBucket
	case strings.HasPrefix(rawURL, "s3://"), strings.HasPrefix(rawURL, "mem://"):
		return KindBucket
	default:
		return ""
	}
}

// Normalize maps an empty source to builtin: and a bare path to a file:// URL.
func Normalize(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" || rawURL == "builtin" {
		return builtinScheme
	}
	if rawURL == builtinScheme || strings.Contains(rawURL, "://") {
		return rawURL
	}
	abs, err := filepath.Abs(rawURL)
	if err != nil {
		return "file://" + filepath.ToSlash(rawURL)
	}
	return "file://" + filepath.ToSlash(abs)
}

// Redact hides credentials in rawURL for logging.
func Redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Redacted()
}

// Load builds an asset set from rawURL.
func Load(ctx context.Context, rawURL string, opts Options) (*asset.Set, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rawURL = Normalize(rawURL)
	kind := Describe(rawURL)
	start := time.Now()

	var set *asset.Set
	var err error
	switch kind {
	case KindBuiltin:
		set, err = loadBuiltin(opts.MaxSize)
	case KindBucket:
		set, err = loadBucket(ctx, rawURL, opts.MaxSize)
	case KindArchive:
		set, err = loadArchive(rawURL, opts.MaxSize)
	case KindDatabase:
		set, err = loadDatabase(rawURL, opts.MaxSize)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, Redact(rawURL))
	}

	if err != nil {
		metrics.RecordSourceError(kind)
		return nil, fmt.Errorf("loading %s source %s: %w", kind, Redact(rawURL), err)
	}

	elapsed := time.Since(start)
	metrics.RecordSourceLoad(kind, elapsed)
	logger.Info("loaded assets",
		"source", Redact(rawURL),
		"kind", kind,
		"count", set.Len(),
		"bytes", set.TotalSize(),
		"duration", elapsed)

	return set, nil
}

// Builtin returns the site compiled into the binary.
func Builtin() (*asset.Set, error) {
	return loadBuiltin(0)
}

func loadBuiltin(maxSize int64) (*asset.Set, error) {
	sub, err := fs.Sub(builtinFS, "builtin")
	if err != nil {
		return nil, err
	}
	return asset.FromFS(sub, maxSize)
}

func loadBucket(ctx context.Context, rawURL string, maxSize int64) (*asset.Set, error) {
	b, err := storage.OpenExistingBucket(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = b.Close() }()

	return storage.LoadSet(ctx, b, maxSize)
}

func loadArchive(rawURL string, maxSize int64) (*asset.Set, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing URL: %w", err)
	}
	path := urlPath(rawURL)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}

	r, err := archive.Open(path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	strip := u.Query().Get("strip")
	if strip == "auto" {
		files, err := r.List()
		if err != nil {
			return nil, fmt.Errorf("listing archive: %w", err)
		}
		strip = archive.CommonRoot(files)
	}

	return archive.LoadSet(archive.WithPrefix(r, strip), maxSize)
}

func loadDatabase(rawURL string, maxSize int64) (*asset.Set, error) {
	db, err := database.OpenURL(rawURL, false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	return db.LoadSet(maxSize)
}

// urlPath returns the filesystem path of a file:// URL without its query.
func urlPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.TrimPrefix(rawURL, "file://")
	}
	if u.Host != "" && u.Host != "localhost" {
		return u.Host + u.Path
	}
	return u.Path
}
