package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

var _ Storage = (*Blob)(nil)

// Blob implements Storage using gocloud.dev/blob.
// Supports local filesystem (file://), S3 (s3://) and in-memory (mem://) URLs.
type Blob struct {
	bucket *blob.Bucket
	url    string
}

// OpenBucket opens a blob bucket for writing.
//
// Supported URL schemes:
//   - file:///path/to/dir - Local filesystem storage
//   - s3://bucket-name - Amazon S3 (uses AWS_* environment variables)
//   - s3://bucket-name?region=us-east-1&endpoint=http://localhost:9000 - S3-compatible (MinIO, etc.)
//   - mem:// - In-memory bucket, useful in tests
//
// The prefix query parameter scopes every key to a sub path of the bucket.
// For local filesystem, the directory is created if it doesn't exist.
func OpenBucket(ctx context.Context, urlStr string) (*Blob, error) {
	return openBucket(ctx, urlStr, true)
}

// OpenExistingBucket opens a blob bucket for reading. Unlike OpenBucket, a
// missing local directory is an error.
func OpenExistingBucket(ctx context.Context, urlStr string) (*Blob, error) {
	return openBucket(ctx, urlStr, false)
}

func openBucket(ctx context.Context, urlStr string, create bool) (*Blob, error) {
	if strings.HasPrefix(urlStr, "file://") {
		resolved, err := resolveFileURL(urlStr, create)
		if err != nil {
			return nil, err
		}
		urlStr = resolved
	}

	bucket, err := blob.OpenBucket(ctx, urlStr)
	if err != nil {
		return nil, fmt.Errorf("opening bucket: %w", err)
	}

	return &Blob{bucket: bucket, url: urlStr}, nil
}

// resolveFileURL rewrites a file:// URL to the absolute path fileblob requires,
// keeping its query.
func resolveFileURL(urlStr string, create bool) (string, error) {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return "", fmt.Errorf("parsing URL: %w", err)
	}

	path := parsed.Path
	if path == "" {
		path = parsed.Opaque
	}
	if parsed.Host != "" && parsed.Host != "localhost" {
		// file://relative/dir parses "relative" as the host.
		path = parsed.Host + path
	}

	if create {
		if err := os.MkdirAll(path, 0755); err != nil {
			return "", fmt.Errorf("creating directory: %w", err)
		}
	} else {
		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("opening directory: %w", err)
		}
		if !info.IsDir() {
			return "", fmt.Errorf("opening directory: %s is not a directory", path)
		}
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	resolved := "file://" + filepath.ToSlash(absPath)
	if parsed.RawQuery != "" {
		resolved += "?" + parsed.RawQuery
	}
	return resolved, nil
}

func (b *Blob) Store(ctx context.Context, key string, r io.Reader) (int64, string, error) {
	hr := NewHashingReader(r)

	w, err := b.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return 0, "", fmt.Errorf("creating writer: %w", err)
	}

	if _, err := io.Copy(w, hr); err != nil {
		_ = w.Close()
		return 0, "", fmt.Errorf("writing content: %w", err)
	}

	if err := w.Close(); err != nil {
		return 0, "", fmt.Errorf("closing writer: %w", err)
	}

	return hr.Size(), hr.Sum(), nil
}

func (b *Blob) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := b.bucket.NewReader(ctx, key, nil)
	if err != nil {
		if isNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening reader: %w", err)
	}
	return r, nil
}

func (b *Blob) Exists(ctx context.Context, key string) (bool, error) {
	exists, err := b.bucket.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("checking existence: %w", err)
	}
	return exists, nil
}

func (b *Blob) Delete(ctx context.Context, key string) error {
	err := b.bucket.Delete(ctx, key)
	if err != nil && !isNotExist(err) {
		return fmt.Errorf("deleting object: %w", err)
	}
	return nil
}

func (b *Blob) Size(ctx context.Context, key string) (int64, error) {
	attrs, err := b.bucket.Attributes(ctx, key)
	if err != nil {
		if isNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("getting attributes: %w", err)
	}
	return attrs.Size, nil
}

func (b *Blob) List(ctx context.Context) ([]Object, error) {
	var objects []Object

	iter := b.bucket.List(nil)
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing objects: %w", err)
		}
		if obj.IsDir {
			continue
		}
		objects = append(objects, Object{Key: obj.Key, Size: obj.Size, ModTime: obj.ModTime})
	}

	return objects, nil
}

func (b *Blob) UsedSpace(ctx context.Context) (int64, error) {
	objects, err := b.List(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, obj := range objects {
		total += obj.Size
	}
	return total, nil
}

func (b *Blob) Close() error {
	return b.bucket.Close()
}

func (b *Blob) URL() string {
	return b.url
}

func isNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
