// Package storage provides bucket access for loading asset sets and for
// importing them into a bucket.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/git-pkgs/embedserve/internal/asset"
)

// loadConcurrency bounds parallel object reads in LoadSet.
const loadConcurrency = 8

var (
	ErrNotFound = errors.New("object not found")
)

// Object describes a stored object.
type Object struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Storage defines the operations the asset loaders and the import command need
// from a backend.
type Storage interface {
	// Store writes content from r to the given key.
	// Returns the number of bytes written and the SHA256 hash of the content.
	Store(ctx context.Context, key string, r io.Reader) (size int64, hash string, err error)

	// Open returns a reader for the content at key.
	// The caller must close the reader when done.
	// Returns ErrNotFound if the key does not exist.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists returns true if content exists at key.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the content at key.
	// Returns nil if the key does not exist.
	Delete(ctx context.Context, key string) error

	// Size returns the size in bytes of content at key.
	// Returns ErrNotFound if the key does not exist.
	Size(ctx context.Context, key string) (int64, error)

	// List returns every object in the bucket ordered by key.
	List(ctx context.Context) ([]Object, error)

	// UsedSpace returns the total bytes used by all stored content.
	UsedSpace(ctx context.Context) (int64, error)
}

// HashingReader wraps a reader and computes SHA256 hash as content is read.
type HashingReader struct {
	r    io.Reader
	hash []byte
	h    hash.Hash
	size int64
	done bool
}

func NewHashingReader(r io.Reader) *HashingReader {
	h := sha256.New()
	return &HashingReader{
		r: io.TeeReader(r, h),
		h: h,
	}
}

func (hr *HashingReader) Read(p []byte) (n int, err error) {
	n, err = hr.r.Read(p)
	hr.size += int64(n)
	if err == io.EOF {
		hr.done = true
		hr.hash = hr.h.Sum(nil)
	}
	return
}

func (hr *HashingReader) Sum() string {
	if !hr.done {
		hr.hash = hr.h.Sum(nil)
		hr.done = true
	}
	return hex.EncodeToString(hr.hash)
}

func (hr *HashingReader) Size() int64 {
	return hr.size
}

// ImportResult reports what Import changed.
type ImportResult struct {
	Written   int
	Unchanged int
}

// LoadSet reads every object in s into a new asset set. Objects are read
// concurrently; the listed sizes are checked against maxSize before any
// content is fetched.
func LoadSet(ctx context.Context, s Storage, maxSize int64) (*asset.Set, error) {
	objects, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	if maxSize > 0 {
		var total int64
		for _, obj := range objects {
			total += obj.Size
		}
		if total > maxSize {
			return nil, fmt.Errorf("%w: bucket holds %d bytes, limit %d", asset.ErrTooLarge, total, maxSize)
		}
	}

	contents := make([][]byte, len(objects))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for i, obj := range objects {
		g.Go(func() error {
			data, err := readObject(gctx, s, obj.Key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", obj.Key, err)
			}
			contents[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	builder := asset.NewBuilder(maxSize)
	for i, obj := range objects {
		if err := builder.Add(obj.Key, contents[i]); err != nil {
			return nil, err
		}
	}
	return builder.Build(), nil
}

func readObject(ctx context.Context, s Storage, key string) ([]byte, error) {
	r, err := s.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

// Import writes every entry of set into s and verifies the stored hash
// against the entry digest. Objects that already hold the entry's content are
// not rewritten.
func Import(ctx context.Context, s Storage, set *asset.Set) (ImportResult, error) {
	var res ImportResult
	for _, e := range set.Entries() {
		same, err := unchanged(ctx, s, e)
		if err != nil {
			return res, fmt.Errorf("checking %s: %w", e.Path, err)
		}
		if same {
			res.Unchanged++
			continue
		}

		_, sum, err := s.Store(ctx, e.Path, e.NewReader())
		if err != nil {
			return res, fmt.Errorf("storing %s: %w", e.Path, err)
		}
		if sum != e.ETag() {
			return res, fmt.Errorf("storing %s: hash %s does not match %s", e.Path, sum, e.ETag())
		}
		res.Written++
	}
	return res, nil
}

// unchanged reports whether the object at e.Path already holds e's content.
func unchanged(ctx context.Context, s Storage, e *asset.Entry) (bool, error) {
	exists, err := s.Exists(ctx, e.Path)
	if err != nil || !exists {
		return false, err
	}

	size, err := s.Size(ctx, e.Path)
	if err != nil {
		return false, err
	}
	if size != e.Size() {
		return false, nil
	}

	r, err := s.Open(ctx, e.Path)
	if err != nil {
		return false, err
	}
	defer func() { _ = r.Close() }()

	hr := NewHashingReader(r)
	if _, err := io.Copy(io.Discard, hr); err != nil {
		return false, err
	}
	return hr.Sum() == e.ETag(), nil
}

// Prune deletes objects whose keys are not in set and returns how many were
// removed.
func Prune(ctx context.Context, s Storage, set *asset.Set) (int, error) {
	objects, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, obj := range objects {
		if _, ok := set.Get(obj.Key); ok {
			continue
		}
		if err := s.Delete(ctx, obj.Key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
