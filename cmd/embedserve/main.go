// Command embedserve serves immutable asset sets over HTTP.
//
// Each asset set is loaded once at startup from a directory, bucket, archive,
// database or the site compiled into the binary, and served from memory with
// ETag validation.
//
// Usage:
//
//	embedserve [command] [flags]
//
// Commands:
//
//	serve    Start the server (default if no command given)
//	list     Print the assets a source would serve
//	import   Copy the assets of a source into a bucket or database
//
// Serve Flags:
//
//	-config string
//	      Path to configuration file (YAML or JSON)
//	-listen string
//	      Address to listen on (default ":8080")
//	-mount string
//	      URL prefix of the first mount (default "/")
//	-source string
//	      Source URL of the first mount (default "builtin:")
//	-index string
//	      Index file of the first mount (default "index.html")
//	-strict-slash
//	      Treat a trailing slash as significant on the first mount
//	-max-size string
//	      Size limit of the first mount (e.g. 256MB)
//	-log-level string
//	      Log level: debug, info, warn, error (default "info")
//	-log-format string
//	      Log format: text, json (default "text")
//
// List Flags:
//
//	-source string
//	      Source URL (required)
//	-json
//	      Output as JSON
//	-max-size string
//	      Size limit (e.g. 256MB)
//
// Import Flags:
//
//	-from string
//	      Source URL to read (required)
//	-to string
//	      Bucket or database URL to write (required)
//	-prune
//	      Delete assets at the destination that are not in the source
//
// Global Flags:
//
//	-version
//	      Print version and exit
//
// Environment Variables:
//
//	EMBEDSERVE_LISTEN        - Listen address
//	EMBEDSERVE_SOURCE        - Source URL of the first mount
//	EMBEDSERVE_MOUNT_PREFIX  - URL prefix of the first mount
//	EMBEDSERVE_INDEX_FILE    - Index file of the first mount
//	EMBEDSERVE_STRICT_SLASH  - Strict slash on the first mount
//	EMBEDSERVE_MAX_SIZE      - Size limit of the first mount
//	EMBEDSERVE_LOG_LEVEL     - Log level
//	EMBEDSERVE_LOG_FORMAT    - Log format
//	EMBEDSERVE_METRICS_PATH  - Prometheus endpoint path
//
// Example:
//
//	# Serve the built-in site
//	embedserve
//
//	# Serve a frontend build with client side routing
//	embedserve serve -config embedserve.yaml
//
//	# Serve a release bundle
//	embedserve serve -source "file:///srv/site.tar.gz?strip=auto"
//
//	# Publish a build to S3 and list what will be served
//	embedserve import -from ./dist -to "s3://assets?region=eu-west-1" -prune
//	embedserve list -source "s3://assets?region=eu-west-1"
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/git-pkgs/embedserve/internal/asset"
	"github.com/git-pkgs/embedserve/internal/config"
	"github.com/git-pkgs/embedserve/internal/database"
	"github.com/git-pkgs/embedserve/internal/serve"
	"github.com/git-pkgs/embedserve/internal/server"
	"github.com/git-pkgs/embedserve/internal/source"
	"github.com/git-pkgs/embedserve/internal/storage"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Commit is set at build time.
	Commit = "unknown"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			os.Args = append(os.Args[:1], os.Args[2:]...)
			runServe()
			return
		case "list":
			os.Args = append(os.Args[:1], os.Args[2:]...)
			runList()
			return
		case "import":
			os.Args = append(os.Args[:1], os.Args[2:]...)
			runImport()
			return
		case "-version", "--version":
			fmt.Printf("embedserve %s (%s)\n", Version, Commit)
			os.Exit(0)
		case "-h", "-help", "--help":
			printUsage()
			os.Exit(0)
		}
	}

	// Default to serve
	runServe()
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `embedserve - Immutable asset server

Usage: embedserve [command] [flags]

Commands:
  serve    Start the server (default)
  list     Print the assets a source would serve
  import   Copy the assets of a source into a bucket or database

Run 'embedserve <command> -help' for more information on a command.

Global Flags:
  -version   Print version and exit
  -help      Show this help message
`)
}

func runServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file (YAML or JSON)")
	listen := fs.String("listen", "", "Address to listen on")
	mountPrefix := fs.String("mount", "", "URL prefix of the first mount")
	sourceURL := fs.String("source", "", "Source URL of the first mount")
	indexFile := fs.String("index", "", "Index file of the first mount")
	strictSlash := fs.Bool("strict-slash", false, "Treat a trailing slash as significant on the first mount")
	maxSize := fs.String("max-size", "", "Size limit of the first mount (e.g. 256MB)")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error")
	logFormat := fs.String("log-format", "", "Log format: text, json")
	version := fs.Bool("version", false, "Print version and exit")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "embedserve - Immutable asset server\n\n")
		fmt.Fprintf(os.Stderr, "Usage: embedserve serve [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  EMBEDSERVE_LISTEN        Listen address\n")
		fmt.Fprintf(os.Stderr, "  EMBEDSERVE_SOURCE        Source URL of the first mount\n")
		fmt.Fprintf(os.Stderr, "  EMBEDSERVE_MOUNT_PREFIX  URL prefix of the first mount\n")
		fmt.Fprintf(os.Stderr, "  EMBEDSERVE_INDEX_FILE    Index file of the first mount\n")
		fmt.Fprintf(os.Stderr, "  EMBEDSERVE_STRICT_SLASH  Strict slash on the first mount\n")
		fmt.Fprintf(os.Stderr, "  EMBEDSERVE_MAX_SIZE      Size limit of the first mount\n")
		fmt.Fprintf(os.Stderr, "  EMBEDSERVE_LOG_LEVEL     Log level\n")
		fmt.Fprintf(os.Stderr, "  EMBEDSERVE_LOG_FORMAT    Log format\n")
		fmt.Fprintf(os.Stderr, "  EMBEDSERVE_METRICS_PATH  Prometheus endpoint path\n")
	}

	_ = fs.Parse(os.Args[1:])

	if *version {
		fmt.Printf("embedserve %s (%s)\n", Version, Commit)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	// Apply environment variables
	cfg.LoadFromEnv()

	// Apply command line flags (highest priority)
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	m := &cfg.Mounts[0]
	if *mountPrefix != "" {
		m.Prefix = *mountPrefix
	}
	if *sourceURL != "" {
		m.Source = *sourceURL
	}
	if *indexFile != "" {
		m.IndexFile = *indexFile
	}
	if *maxSize != "" {
		m.MaxSize = *maxSize
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "strict-slash" {
			m.StrictSlash = *strictSlash
		}
	})

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	// Create and start server
	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	// Handle shutdown signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown or error
	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

func runList() {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	sourceURL := fs.String("source", "", "Source URL (required)")
	asJSON := fs.Bool("json", false, "Output as JSON")
	maxSize := fs.String("max-size", "", "Size limit (e.g. 256MB)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "embedserve - Print the assets a source would serve\n\n")
		fmt.Fprintf(os.Stderr, "Usage: embedserve list -source URL [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	_ = fs.Parse(os.Args[1:])

	if *sourceURL == "" {
		*sourceURL = os.Getenv("EMBEDSERVE_SOURCE")
	}
	if *sourceURL == "" {
		fs.Usage()
		os.Exit(2)
	}

	limit, err := config.ParseSize(*maxSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid max-size: %v\n", err)
		os.Exit(1)
	}

	set, err := source.Load(context.Background(), *sourceURL, source.Options{
		MaxSize: limit,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading source: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		outputJSON(os.Stdout, set)
	} else {
		outputText(os.Stdout, set)
	}
}

type jsonOutput struct {
	Count     int         `json:"count"`
	TotalSize int64       `json:"total_size_bytes"`
	Assets    []jsonAsset `json:"assets"`
}

type jsonAsset struct {
	Path        string `json:"path"`
	Size        int64  `json:"size_bytes"`
	ETag        string `json:"etag"`
	ContentType string `json:"content_type"`
}

func outputJSON(w io.Writer, set *asset.Set) {
	out := jsonOutput{
		Count:     set.Len(),
		TotalSize: set.TotalSize(),
		Assets:    make([]jsonAsset, 0, set.Len()),
	}

	for _, e := range set.Entries() {
		out.Assets = append(out.Assets, jsonAsset{
			Path:        e.Path,
			Size:        e.Size(),
			ETag:        e.ETag(),
			ContentType: serve.ContentType(e.Path),
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}

func outputText(w io.Writer, set *asset.Set) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, e := range set.Entries() {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Path, formatSize(e.Size()), e.ETag()[:12])
	}
	_ = tw.Flush()
	_, _ = fmt.Fprintf(w, "\n%d assets, %s\n", set.Len(), formatSize(set.TotalSize()))
}

func runImport() {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	from := fs.String("from", "", "Source URL to read (required)")
	to := fs.String("to", "", "Bucket or database URL to write (required)")
	prune := fs.Bool("prune", false, "Delete assets at the destination that are not in the source")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn, error")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "embedserve - Copy the assets of a source into a bucket or database\n\n")
		fmt.Fprintf(os.Stderr, "Usage: embedserve import -from URL -to URL [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Destinations:\n")
		fmt.Fprintf(os.Stderr, "  file:///dir, s3://bucket    blob bucket\n")
		fmt.Fprintf(os.Stderr, "  sqlite:///file.db           SQLite database (created if missing)\n")
		fmt.Fprintf(os.Stderr, "  postgres://...              PostgreSQL database\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	_ = fs.Parse(os.Args[1:])

	if *from == "" || *to == "" {
		fs.Usage()
		os.Exit(2)
	}

	logger := setupLogger(*logLevel, "text")
	ctx := context.Background()

	set, err := source.Load(ctx, *from, source.Options{Logger: logger})
	if err != nil {
		logger.Error("failed to load source", "error", err)
		os.Exit(1)
	}

	summary, err := importSet(ctx, set, *to, *prune)
	if err != nil {
		logger.Error("import failed", "to", source.Redact(*to), "error", err)
		os.Exit(1)
	}

	logger.Info("import complete",
		"to", source.Redact(*to),
		"assets", set.Len(),
		"written", summary.written,
		"unchanged", summary.unchanged,
		"pruned", summary.pruned,
		"stored", formatSize(summary.storedBytes))
}

// importSummary reports what an import changed at the destination.
type importSummary struct {
	written     int
	unchanged   int
	pruned      int
	storedBytes int64
}

// importSet writes set to the bucket or database at dest. Assets the
// destination already holds unchanged are not rewritten.
func importSet(ctx context.Context, set *asset.Set, dest string, prune bool) (importSummary, error) {
	if database.IsURL(dest) {
		return importDatabase(set, dest, prune)
	}
	return importBucket(ctx, set, dest, prune)
}

func importDatabase(set *asset.Set, dest string, prune bool) (importSummary, error) {
	var summary importSummary

	db, err := database.OpenURL(dest, true)
	if err != nil {
		return summary, err
	}
	defer func() { _ = db.Close() }()

	res, err := db.ImportSet(set)
	if err != nil {
		return summary, err
	}
	summary.written, summary.unchanged = res.Written, res.Unchanged

	if prune {
		if summary.pruned, err = db.PruneAssets(set); err != nil {
			return summary, err
		}
	}

	stats, err := db.GetAssetStats()
	if err != nil {
		return summary, err
	}
	summary.storedBytes = stats.TotalSize
	return summary, nil
}

func importBucket(ctx context.Context, set *asset.Set, dest string, prune bool) (importSummary, error) {
	var summary importSummary

	b, err := storage.OpenBucket(ctx, source.Normalize(dest))
	if err != nil {
		return summary, err
	}
	defer func() { _ = b.Close() }()

	res, err := storage.Import(ctx, b, set)
	if err != nil {
		return summary, err
	}
	summary.written, summary.unchanged = res.Written, res.Unchanged

	if prune {
		if summary.pruned, err = storage.Prune(ctx, b, set); err != nil {
			return summary, err
		}
	}

	if summary.storedBytes, err = b.UsedSpace(ctx); err != nil {
		return summary, err
	}
	return summary, nil
}

func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/TB)
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.Default(), nil
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(level),
	}

	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
