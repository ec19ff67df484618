package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/git-pkgs/embedserve/internal/asset"
	"github.com/git-pkgs/embedserve/internal/config"
	"github.com/git-pkgs/embedserve/internal/serve"
)

const (
	siteIndex = "<!doctype html><title>app</title>"
	siteCSS   = "body { margin: 0; }"
)

type testServer struct {
	server  *Server
	handler http.Handler
}

func newTestServer(t *testing.T, modify func(*config.Config, string)) *testServer {
	t.Helper()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "index.html"), siteIndex)
	writeFile(t, filepath.Join(dir, "assets", "index.css"), siteCSS)

	cfg := config.Default()
	cfg.Mounts = []config.MountConfig{
		{Prefix: "/", Source: dir, IndexFile: "index.html"},
		{Prefix: "/builtin", Source: "builtin:", IndexFile: "index.html"},
	}
	if modify != nil {
		modify(cfg, dir)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid test config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(cfg, logger)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	return &testServer{server: s, handler: s.Handler()}
}

func (ts *testServer) get(t *testing.T, path string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.get(t, "/health")
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("expected body 'ok', got %q", rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header should be set")
	}
}

func TestRootMount(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		path   string
		status int
		body   string
		ctype  string
	}{
		{"/", http.StatusOK, siteIndex, "text/html; charset=utf-8"},
		{"/index.html", http.StatusOK, siteIndex, "text/html; charset=utf-8"},
		{"/assets/index.css", http.StatusOK, siteCSS, "text/css; charset=utf-8"},
		{"/assets/index.css/", http.StatusOK, siteCSS, "text/css; charset=utf-8"},
		{"/assets/index.js", http.StatusNotFound, "404 Not Found", "text/plain; charset=utf-8"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := ts.get(t, tt.path)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if rec.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.body)
			}
			if got := rec.Header().Get("Content-Type"); got != tt.ctype {
				t.Errorf("Content-Type = %q, want %q", got, tt.ctype)
			}
		})
	}
}

func TestConditionalGet(t *testing.T) {
	ts := newTestServer(t, nil)

	first := ts.get(t, "/assets/index.css")
	etag := first.Header().Get("ETag")
	if etag == "" {
		t.Fatal("ETag header missing")
	}

	rec := ts.get(t, "/assets/index.css", "If-None-Match", etag)
	if rec.Code != http.StatusNotModified {
		t.Errorf("status = %d, want 304", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("304 body = %q, want empty", rec.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodHead} {
		req := httptest.NewRequest(method, "/builtin/index.html", nil)
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s status = %d, want 405", method, rec.Code)
		}
	}
}

func TestSubPathMount(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, path := range []string{"/builtin", "/builtin/", "/builtin/style.css"} {
		if rec := ts.get(t, path); rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, rec.Code)
		}
	}

	// The root mount does not see paths claimed by the /builtin mount.
	if rec := ts.get(t, "/builtin/assets/index.css"); rec.Code != http.StatusNotFound {
		t.Errorf("GET /builtin/assets/index.css status = %d, want 404", rec.Code)
	}
}

func TestIndexFallbackMount(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config, _ string) {
		c.Mounts[0].Fallback.Mode = config.FallbackIndex
	})

	rec := ts.get(t, "/app/settings/profile")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != siteIndex {
		t.Errorf("body = %q, want index", rec.Body.String())
	}
}

func TestStatusFallbackMount(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config, _ string) {
		c.Mounts[0].Fallback = config.FallbackConfig{Mode: config.FallbackStatus, Status: http.StatusGone, Body: "gone"}
	})

	rec := ts.get(t, "/missing")
	if rec.Code != http.StatusGone || rec.Body.String() != "gone" {
		t.Errorf("got %d %q, want 410 gone", rec.Code, rec.Body.String())
	}
}

func TestStrictSlashMount(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config, _ string) {
		c.Mounts[0].StrictSlash = true
	})

	if rec := ts.get(t, "/assets/index.css/"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestManifestEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.get(t, "/_manifest")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var resp ManifestResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Mounts) != 2 {
		t.Fatalf("expected 2 mounts, got %d", len(resp.Mounts))
	}

	root := resp.Mounts[0]
	if root.Prefix != "/" || root.Kind != "bucket" || root.AssetCount != 2 {
		t.Errorf("root mount = %+v", root)
	}
	if root.TotalSize != int64(len(siteIndex)+len(siteCSS)) {
		t.Errorf("root TotalSize = %d", root.TotalSize)
	}
	if len(root.Assets) != 2 || root.Assets[0].Path != "assets/index.css" {
		t.Fatalf("root assets = %+v", root.Assets)
	}
	css := root.Assets[0]
	if css.ETag != asset.NewEntry("assets/index.css", []byte(siteCSS)).ETag() {
		t.Errorf("css etag = %s", css.ETag)
	}
	if css.ContentType != "text/css; charset=utf-8" {
		t.Errorf("css content type = %s", css.ContentType)
	}

	if resp.Mounts[1].Prefix != "/builtin" || resp.Mounts[1].Kind != "builtin" {
		t.Errorf("builtin mount = %+v", resp.Mounts[1])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	_ = ts.get(t, "/assets/index.css")

	rec := ts.get(t, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"embedserve_requests_total", "embedserve_loaded_assets"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestMetricsDisabled(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config, _ string) {
		c.Metrics.Enabled = false
		c.Mounts = c.Mounts[1:]
	})

	if rec := ts.get(t, "/metrics"); rec.Code == http.StatusOK && strings.Contains(rec.Body.String(), "embedserve_") {
		t.Error("metrics endpoint should not be registered")
	}
}

func TestFallbackPanicRecovered(t *testing.T) {
	ts := newTestServer(t, nil)

	set, err := asset.NewSet()
	if err != nil {
		t.Fatal(err)
	}
	ts.server.mounts = append(ts.server.mounts, mount{
		cfg: config.MountConfig{Prefix: "/boom"},
		set: set,
		embed: serve.New("/boom", set).Fallback(serve.FallbackFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("fallback failed")
		})),
	})
	ts.handler = ts.server.Handler()

	rec := ts.get(t, "/boom/anything")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestNewFailsForBadSource(t *testing.T) {
	cfg := config.Default()
	cfg.Mounts = []config.MountConfig{{Prefix: "/", Source: "ftp://example.com/site"}}

	_, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		t.Fatal("New should fail for an unsupported source")
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1024 * 1024, "1.0 MB"},
	}

	for _, tt := range tests {
		if got := formatSize(tt.in); got != tt.want {
			t.Errorf("formatSize(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
