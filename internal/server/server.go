// Package server provides the HTTP server and router for the asset server.
//
// Every configured mount serves one asset set under its prefix. In addition
// the server registers:
//   - /health    - Health check endpoint
//   - /metrics   - Prometheus metrics (path configurable, can be disabled)
//   - /_manifest - Loaded asset sets (JSON)
//
// Routes are matched by specificity, so a mount at the root never shadows
// these endpoints or other mounts.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/git-pkgs/embedserve/internal/asset"
	"github.com/git-pkgs/embedserve/internal/config"
	"github.com/git-pkgs/embedserve/internal/metrics"
	"github.com/git-pkgs/embedserve/internal/serve"
	"github.com/git-pkgs/embedserve/internal/source"
)

// Server is the main asset server.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	mounts []mount
	http   *http.Server
}

// mount is a loaded asset set and the handler serving it.
type mount struct {
	cfg   config.MountConfig
	set   *asset.Set
	embed serve.Embed
}

// New loads every configured mount and returns a server ready to start.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger}

	ctx := context.Background()
	for _, mc := range cfg.Mounts {
		set, err := source.Load(ctx, mc.Source, source.Options{
			MaxSize: mc.MaxSizeBytes(),
			Logger:  logger.With("mount", mountName(mc)),
		})
		if err != nil {
			return nil, fmt.Errorf("mount %s: %w", mountName(mc), err)
		}
		s.addMount(mc, set)
	}

	return s, nil
}

// addMount configures the handler for an already loaded set.
func (s *Server) addMount(mc config.MountConfig, set *asset.Set) {
	e := serve.New(mc.Prefix, set).
		StrictSlash(mc.StrictSlash).
		IndexFile(mc.IndexFile).
		Fallback(fallbackFor(mc, set)).
		Logger(s.logger.With("mount", mountName(mc)))

	if index, ok := e.IndexPath(); ok {
		if _, found := set.Get(index); !found {
			s.logger.Warn("index file not found in asset set",
				"mount", mountName(mc), "index_file", index)
		}
	}

	metrics.UpdateAssetSet(e.MountPath(), set.Len(), set.TotalSize())
	s.mounts = append(s.mounts, mount{cfg: mc, set: set, embed: e})
}

func fallbackFor(mc config.MountConfig, set *asset.Set) serve.FallbackHandler {
	switch mc.Fallback.Mode {
	case config.FallbackIndex:
		return serve.IndexFallback(set, mc.IndexFile)
	case config.FallbackStatus:
		return serve.StatusFallback(mc.Fallback.Status, mc.Fallback.Body)
	default:
		return nil
	}
}

func mountName(mc config.MountConfig) string {
	if p := mc.NormalizedPrefix(); p != "" {
		return p
	}
	return "/"
}

// Handler builds the router with all middleware, endpoints and mounts.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(s.LoggerMiddleware)
	if s.cfg.Metrics.Enabled {
		r.Use(metrics.Middleware(s.cfg.Metrics.Path))
	}
	r.Use(middleware.Recoverer)

	r.Get(config.HealthPath, s.handleHealth)
	r.Get(config.ManifestPath, s.handleManifest)
	if s.cfg.Metrics.Enabled {
		r.Handle(s.cfg.Metrics.Path, metrics.Handler())
	}

	for _, m := range s.mounts {
		m.embed.Register(r)
	}

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute, // Large assets on slow clients need time
		IdleTimeout:       60 * time.Second,
	}

	for _, m := range s.mounts {
		s.logger.Info("mounted assets",
			"mount", mountName(m.cfg),
			"source", source.Redact(m.cfg.Source),
			"assets", m.set.Len(),
			"bytes", m.set.TotalSize())
	}
	s.logger.Info("starting server", "listen", s.cfg.Listen)

	return s.http.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "ok")
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
