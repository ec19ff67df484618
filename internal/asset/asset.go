// Package asset provides the immutable in-memory asset set served by the embed handler.
//
// An asset set is built once at startup from some source (a directory, a bucket,
// an archive or a database) and never changes afterwards. Every entry carries a
// SHA-256 digest computed when the entry is created, so request handling never
// hashes content.
package asset

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strings"
)

var (
	ErrInvalidPath = errors.New("invalid asset path")
	ErrDuplicate   = errors.New("duplicate asset path")
	ErrTooLarge    = errors.New("asset set exceeds size limit")
	ErrBuilt       = errors.New("asset set already built")
)

// Source looks up assets by their exact relative path.
type Source interface {
	Get(path string) (*Entry, bool)
}

// Entry is a single servable file. Its content is only reachable through
// read-only accessors, so it always matches the digest.
type Entry struct {
	Path string

	data   []byte
	digest [sha256.Size]byte
	etag   string
}

// NewEntry creates an entry and computes its digest. The caller must not
// modify data afterwards.
func NewEntry(path string, data []byte) *Entry {
	digest := sha256.Sum256(data)
	return &Entry{
		Path:   path,
		data:   data,
		digest: digest,
		etag:   hex.EncodeToString(digest[:]),
	}
}

// Digest returns the SHA-256 digest of the entry content.
func (e *Entry) Digest() [sha256.Size]byte {
	return e.digest
}

// ETag returns the lowercase hex encoding of the digest.
func (e *Entry) ETag() string {
	return e.etag
}

// Size returns the content length in bytes.
func (e *Entry) Size() int64 {
	return int64(len(e.data))
}

// Bytes returns a copy of the content.
func (e *Entry) Bytes() []byte {
	return bytes.Clone(e.data)
}

// NewReader returns a reader over the content.
func (e *Entry) NewReader() *bytes.Reader {
	return bytes.NewReader(e.data)
}

// WriteTo writes the content to w.
func (e *Entry) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(e.data)
	return int64(n), err
}

// Set is an immutable map of assets keyed by path.
type Set struct {
	entries map[string]*Entry
	size    int64
}

// NewSet builds a Set from already created entries.
func NewSet(entries ...*Entry) (*Set, error) {
	b := NewBuilder(0)
	for _, e := range entries {
		if err := b.AddEntry(e); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}

// Get returns the entry stored under path.
func (s *Set) Get(path string) (*Entry, bool) {
	if s == nil {
		return nil, false
	}
	e, ok := s.entries[path]
	return e, ok
}

// Len returns the number of assets.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// TotalSize returns the combined content size of all assets.
func (s *Set) TotalSize() int64 {
	if s == nil {
		return 0
	}
	return s.size
}

// Paths returns all asset paths in lexical order.
func (s *Set) Paths() []string {
	if s == nil {
		return nil
	}
	paths := make([]string, 0, len(s.entries))
	for p := range s.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Entries returns all entries ordered by path.
func (s *Set) Entries() []*Entry {
	paths := s.Paths()
	entries := make([]*Entry, len(paths))
	for i, p := range paths {
		entries[i] = s.entries[p]
	}
	return entries
}

// Builder accumulates entries for a Set. It is not safe for concurrent use.
type Builder struct {
	entries map[string]*Entry
	size    int64
	maxSize int64
	built   bool
}

// NewBuilder returns a builder that rejects sets larger than maxSize bytes.
// A maxSize of zero or less means unlimited.
func NewBuilder(maxSize int64) *Builder {
	return &Builder{
		entries: make(map[string]*Entry),
		maxSize: maxSize,
	}
}

// Add normalizes path, hashes data and stores the entry.
func (b *Builder) Add(path string, data []byte) error {
	key, err := CleanPath(path)
	if err != nil {
		return err
	}
	return b.AddEntry(NewEntry(key, data))
}

// AddEntry stores an existing entry. The entry path must already be clean.
func (b *Builder) AddEntry(e *Entry) error {
	if b.built {
		return ErrBuilt
	}
	if key, err := CleanPath(e.Path); err != nil {
		return err
	} else if key != e.Path {
		return fmt.Errorf("%w: %q is not normalized", ErrInvalidPath, e.Path)
	}
	if _, exists := b.entries[e.Path]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, e.Path)
	}
	if b.maxSize > 0 && b.size+e.Size() > b.maxSize {
		return fmt.Errorf("%w: adding %s would exceed %d bytes", ErrTooLarge, e.Path, b.maxSize)
	}
	b.entries[e.Path] = e
	b.size += e.Size()
	return nil
}

// Len returns the number of entries added so far.
func (b *Builder) Len() int {
	return len(b.entries)
}

// Build freezes the builder into a Set.
func (b *Builder) Build() *Set {
	b.built = true
	return &Set{entries: b.entries, size: b.size}
}

// CleanPath converts a file path into an asset key: forward slashes, no
// leading slash. Keys with a trailing slash or dot segments are rejected.
func CleanPath(path string) (string, error) {
	key := strings.ReplaceAll(path, "\\", "/")
	key = strings.TrimPrefix(key, "/")
	if key == "" || strings.HasSuffix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return key, nil
}

// FromFS walks fsys and loads every regular file into a new Set.
func FromFS(fsys fs.FS, maxSize int64) (*Set, error) {
	b := NewBuilder(maxSize)
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		return b.Add(path, data)
	})
	if err != nil {
		return nil, err
	}
	return b.Build(), nil
}
