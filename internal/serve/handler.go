package serve

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/git-pkgs/embedserve/internal/asset"
	"github.com/git-pkgs/embedserve/internal/metrics"
)

// ServeHTTP answers a single asset request.
func (e Embed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if !strings.EqualFold(r.Method, http.MethodGet) {
		w.WriteHeader(http.StatusMethodNotAllowed)
		metrics.RecordRequest(e.mountPath, metrics.OutcomeMethodNotAllowed, time.Since(start))
		return
	}

	path := e.resolve(r.URL.Path)

	entry, ok := e.lookup(path)
	if !ok {
		e.logger.Debug("no matching asset, using fallback",
			"mount", e.mountPath, "path", r.URL.Path, "key", path)
		e.fallback.ServeFallback(w, r)
		metrics.RecordRequest(e.mountPath, metrics.OutcomeFallback, time.Since(start))
		return
	}

	outcome, n := writeEntry(w, r, entry)
	metrics.RecordBytes(e.mountPath, n)
	metrics.RecordRequest(e.mountPath, outcome, time.Since(start))
}

// resolve maps a request path to an asset key.
func (e Embed) resolve(urlPath string) string {
	path := e.stripMount(urlPath)
	path = strings.TrimPrefix(path, "/")
	if !e.strictSlash {
		path = strings.TrimSuffix(path, "/")
	}
	if path == "" {
		path = e.indexFile
	}
	return path
}

// stripMount removes the mount prefix when the router passed the full path.
// Paths already relative to the mount are returned unchanged.
func (e Embed) stripMount(urlPath string) string {
	if e.mountPath == "" {
		return urlPath
	}
	if urlPath == e.mountPath {
		return ""
	}
	if strings.HasPrefix(urlPath, e.mountPath+"/") {
		return urlPath[len(e.mountPath):]
	}
	return urlPath
}

func (e Embed) lookup(path string) (*asset.Entry, bool) {
	if e.source == nil {
		return nil, false
	}
	return e.source.Get(path)
}

// writeEntry writes entry as a 200 response, or 304 if the client already has
// it. The validator is compared by exact string equality. It returns the
// outcome and the number of body bytes written.
func writeEntry(w http.ResponseWriter, r *http.Request, entry *asset.Entry) (string, int) {
	etag := entry.ETag()

	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return metrics.OutcomeNotModified, 0
	}

	h := w.Header()
	h.Set("Content-Type", ContentType(entry.Path))
	h.Set("ETag", etag)
	h.Set("Content-Length", strconv.FormatInt(entry.Size(), 10))
	w.WriteHeader(http.StatusOK)

	n, _ := entry.WriteTo(w)
	return metrics.OutcomeOK, int(n)
}
