package serve

import (
	"net/http"
	"strings"

	"github.com/git-pkgs/embedserve/internal/asset"
)

// FallbackHandler is called when no asset matches the request path.
//
// Implementations must be safe for concurrent use and should always write a
// response. Panics are not recovered here; the host server is expected to
// convert them into a 500.
type FallbackHandler interface {
	ServeFallback(w http.ResponseWriter, r *http.Request)
}

// FallbackFunc adapts an ordinary function to FallbackHandler.
type FallbackFunc func(w http.ResponseWriter, r *http.Request)

// ServeFallback calls f(w, r).
func (f FallbackFunc) ServeFallback(w http.ResponseWriter, r *http.Request) {
	f(w, r)
}

// Handler adapts an http.Handler to FallbackHandler.
func Handler(h http.Handler) FallbackHandler {
	return FallbackFunc(h.ServeHTTP)
}

// DefaultFallback responds 404 regardless of the request.
type DefaultFallback struct{}

const notFoundBody = "404 Not Found"

// ServeFallback writes a plain text 404 response.
func (DefaultFallback) ServeFallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(notFoundBody))
}

// StatusFallback responds with a fixed status code and plain text body.
func StatusFallback(status int, body string) FallbackHandler {
	return FallbackFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

// IndexFallback serves the asset at indexPath for every unmatched request,
// which is what single page applications with client side routing expect.
// Conditional requests are honoured. If the index asset does not exist the
// default 404 is returned.
func IndexFallback(src asset.Source, indexPath string) FallbackHandler {
	indexPath = strings.Trim(indexPath, "/")
	return FallbackFunc(func(w http.ResponseWriter, r *http.Request) {
		var entry *asset.Entry
		var ok bool
		if src != nil && indexPath != "" {
			entry, ok = src.Get(indexPath)
		}
		if !ok {
			DefaultFallback{}.ServeFallback(w, r)
			return
		}
		_, _ = writeEntry(w, r, entry)
	})
}
