// Package archive reads bundled asset archives in memory.
//
// Supported formats:
//   - ZIP (.zip)
//   - TAR (.tar, .tar.gz, .tgz, .tar.bz2, .tar.xz)
//
// A bundle is typically the output directory of a frontend build packed into a
// single file, so it can be shipped next to the binary and loaded at startup
// without unpacking it to disk.
package archive

import (
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/git-pkgs/embedserve/internal/asset"
)

// FileInfo represents metadata about a file in an archive.
type FileInfo struct {
	Path    string    // Full path within archive
	Size    int64     // Uncompressed size in bytes
	ModTime time.Time // Modification time
	IsDir   bool      // Whether this is a directory
}

// Reader provides access to the files of an archive.
type Reader interface {
	// List returns all entries in the archive.
	List() ([]FileInfo, error)

	// Extract reads a specific file from the archive.
	Extract(filePath string) (io.ReadCloser, error)

	// Close releases resources associated with the reader.
	Close() error
}

// IsArchive reports whether filename has a supported archive extension.
func IsArchive(filename string) bool {
	return detectFormat(filename) != ""
}

// Open creates an archive reader for the given content.
// The filename is used to detect the archive format.
// The content reader will be read entirely into memory.
func Open(filename string, content io.Reader) (Reader, error) {
	switch format := detectFormat(filename); format {
	case "zip":
		return openZip(content)
	case "tar":
		return openTar(content, "")
	case "tar.gz", "tgz":
		return openTar(content, "gzip")
	case "tar.bz2":
		return openTar(content, "bzip2")
	case "tar.xz":
		return openTar(content, "xz")
	default:
		return nil, fmt.Errorf("unsupported archive format: %s", filename)
	}
}

// OpenWithPrefix opens an archive and strips the given prefix from all paths.
// Build tools often wrap their output in a directory such as "dist/".
func OpenWithPrefix(filename string, content io.Reader, stripPrefix string) (Reader, error) {
	reader, err := Open(filename, content)
	if err != nil {
		return nil, err
	}

	return WithPrefix(reader, stripPrefix), nil
}

// WithPrefix wraps r so that only entries under prefix are visible, with the
// prefix removed from their paths. An empty prefix returns r unchanged.
func WithPrefix(r Reader, prefix string) Reader {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return r
	}
	return &prefixStripper{
		reader: r,
		prefix: prefix + "/",
	}
}

// CommonRoot returns the single top level directory that contains every file,
// or "" if files live at the archive root or under several directories.
func CommonRoot(files []FileInfo) string {
	root := ""
	for _, f := range files {
		p := strings.TrimPrefix(f.Path, "./")
		if f.IsDir {
			continue
		}
		idx := strings.Index(p, "/")
		if idx < 0 {
			return ""
		}
		top := p[:idx]
		if root == "" {
			root = top
		} else if root != top {
			return ""
		}
	}
	return root
}

// LoadSet extracts every file of r into a new asset set.
func LoadSet(r Reader, maxSize int64) (*asset.Set, error) {
	files, err := r.List()
	if err != nil {
		return nil, fmt.Errorf("listing archive: %w", err)
	}

	b := asset.NewBuilder(maxSize)
	for _, f := range files {
		if f.IsDir {
			continue
		}

		rc, err := r.Extract(f.Path)
		if err != nil {
			return nil, fmt.Errorf("extracting %s: %w", f.Path, err)
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f.Path, err)
		}

		if err := b.Add(strings.TrimPrefix(f.Path, "./"), data); err != nil {
			return nil, err
		}
	}

	return b.Build(), nil
}

// detectFormat determines archive format from filename extension.
func detectFormat(filename string) string {
	filename = strings.ToLower(filename)

	// Check for compound extensions first
	if strings.HasSuffix(filename, ".tar.gz") {
		return "tar.gz"
	}
	if strings.HasSuffix(filename, ".tar.bz2") {
		return "tar.bz2"
	}
	if strings.HasSuffix(filename, ".tar.xz") {
		return "tar.xz"
	}

	switch path.Ext(filename) {
	case ".zip":
		return "zip"
	case ".tar":
		return "tar"
	case ".tgz":
		return "tgz"
	default:
		return ""
	}
}
