// Package serve provides the HTTP handler that serves an immutable asset set
// under a URL prefix.
//
// An Embed is configured with builder methods that return modified copies, so
// a configured value can be shared freely between goroutines:
//
//	set, _ := asset.FromFS(os.DirFS("dist"), 0)
//	e := serve.New("/static", set).
//		IndexFile("index.html").
//		Fallback(serve.FallbackFunc(func(w http.ResponseWriter, r *http.Request) {
//			http.Error(w, "no such asset", http.StatusNotFound)
//		}))
//	e.Register(router)
//
// Requests are answered in one pass: 405 for anything but GET, 304 when
// If-None-Match equals the asset digest, 200 with the asset otherwise, and the
// fallback when no asset matches the path.
package serve

import (
	"log/slog"
	"strings"

	"github.com/git-pkgs/embedserve/internal/asset"
)

// Embed serves assets from a Source. The zero value is not usable; use New.
type Embed struct {
	mountPath   string
	strictSlash bool
	indexFile   string
	fallback    FallbackHandler
	source      asset.Source
	logger      *slog.Logger
}

// New creates an Embed serving src at mountPath.
//
// Trailing slashes are removed from mountPath, so "/" and "" both mount at
// the root, and a missing leading slash is added, so "static" mounts at
// "/static". When mounted at the root, every path not claimed by a more
// specific route reaches this handler.
func New(mountPath string, src asset.Source) Embed {
	return Embed{
		mountPath: normalizeMountPath(mountPath),
		fallback:  DefaultFallback{},
		source:    src,
		logger:    slog.Default(),
	}
}

func normalizeMountPath(p string) string {
	p = strings.TrimRight(p, "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// StrictSlash sets whether a trailing slash is significant. Defaults to false.
//
// When true, asset "dir/file" cannot be reached as "/dir/file/".
func (e Embed) StrictSlash(strict bool) Embed {
	e.strictSlash = strict
	return e
}

// IndexFile sets the asset served for requests to the mount root.
// By default there is no index file and the root falls through to the fallback.
func (e Embed) IndexFile(path string) Embed {
	e.indexFile = strings.Trim(path, "/")
	return e
}

// Fallback replaces the handler used when no asset matches. A nil handler
// restores the default 404 response.
func (e Embed) Fallback(h FallbackHandler) Embed {
	if h == nil {
		h = DefaultFallback{}
	}
	e.fallback = h
	return e
}

// Logger sets the logger used for debug output.
func (e Embed) Logger(logger *slog.Logger) Embed {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
	return e
}

// MountPath returns the normalized mount prefix.
func (e Embed) MountPath() string {
	return e.mountPath
}

// IsRoot reports whether the handler is mounted at the application root.
func (e Embed) IsRoot() bool {
	return e.mountPath == ""
}

// IsStrictSlash reports whether trailing slashes are significant.
func (e Embed) IsStrictSlash() bool {
	return e.strictSlash
}

// IndexPath returns the configured index file, if any.
func (e Embed) IndexPath() (string, bool) {
	return e.indexFile, e.indexFile != ""
}

// Source returns the asset source being served.
func (e Embed) Source() asset.Source {
	return e.source
}
