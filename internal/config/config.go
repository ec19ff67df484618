// Package config provides configuration loading and validation for the asset server.
//
// Configuration can be provided via:
//   - Command line flags (highest priority)
//   - Environment variables (EMBEDSERVE_ prefix)
//   - Configuration file (YAML or JSON)
//
// Mounts:
//
// Each mount serves one asset set under a URL prefix. The set is loaded once at
// startup from its source URL:
//
//	mounts:
//	  - prefix: /
//	    source: "file:///var/www/dist"
//	    index_file: index.html
//	  - prefix: /docs
//	    source: "file:///srv/docs.tar.gz?strip=auto"
//	    fallback:
//	      mode: index
//	    index_file: index.html
//	  - prefix: /static
//	    source: "s3://assets?region=eu-west-1&prefix=static/"
//	    max_size: 512MB
//
// Sources may also be sqlite:// and postgres:// databases populated with the
// import command, or builtin: for the site compiled into the binary.
//
// For S3, configure credentials via AWS environment variables:
//
//	AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, AWS_REGION
//
// See config.example.yaml in the repository root for a complete example.
package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Fallback modes.
const (
	FallbackNotFound = "notfound"
	FallbackIndex    = "index"
	FallbackStatus   = "status"
)

// Routes registered by the server itself. Mounts may not shadow them.
const (
	HealthPath   = "/health"
	ManifestPath = "/_manifest"
)

// Config holds all configuration for the asset server.
type Config struct {
	// Listen is the address to listen on (e.g., ":8080", "127.0.0.1:8080").
	Listen string `json:"listen" yaml:"listen"`

	// Log configures logging.
	Log LogConfig `json:"log" yaml:"log"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// Mounts lists the asset sets to serve.
	Mounts []MountConfig `json:"mounts" yaml:"mounts"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `json:"format" yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// MountConfig configures one served asset set.
type MountConfig struct {
	// Prefix is the URL path the assets are served under. "/" or empty mounts
	// at the root.
	Prefix string `json:"prefix" yaml:"prefix"`

	// Source is the URL the asset set is loaded from.
	Source string `json:"source" yaml:"source"`

	// IndexFile is served for requests to the mount root. Empty means none.
	IndexFile string `json:"index_file" yaml:"index_file"`

	// StrictSlash makes a trailing slash significant.
	StrictSlash bool `json:"strict_slash" yaml:"strict_slash"`

	// MaxSize limits the total size of the loaded set (e.g., "256MB").
	// Empty or "0" means unlimited.
	MaxSize string `json:"max_size" yaml:"max_size"`

	// Fallback configures the response for paths with no asset.
	Fallback FallbackConfig `json:"fallback" yaml:"fallback"`
}

// FallbackConfig selects the response for unmatched paths.
type FallbackConfig struct {
	// Mode is "notfound" (default), "index" (serve the index file, for
	// single page applications) or "status" (fixed status and body).
	Mode string `json:"mode" yaml:"mode"`

	// Status is the response code for "status" mode.
	Status int `json:"status" yaml:"status"`

	// Body is the response body for "status" mode.
	Body string `json:"body" yaml:"body"`
}

// MaxSizeBytes returns the parsed MaxSize. Call Validate first.
func (m MountConfig) MaxSizeBytes() int64 {
	n, _ := ParseSize(m.MaxSize)
	return n
}

// NormalizedPrefix returns Prefix without trailing slashes; the root is "".
func (m MountConfig) NormalizedPrefix() string {
	return strings.TrimRight(m.Prefix, "/")
}

// defaultMount serves the built-in site at the root.
func defaultMount() MountConfig {
	return MountConfig{
		Prefix:    "/",
		Source:    "builtin:",
		IndexFile: "index.html",
	}
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Mounts: []MountConfig{defaultMount()},
	}
}

// Load reads configuration from a file (YAML or JSON).
// Mounts listed in the file replace the default mount.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	cfg.Mounts = nil

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		// Try YAML first, then JSON
		if err := yaml.Unmarshal(data, cfg); err != nil {
			cfg = Default()
			cfg.Mounts = nil
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config (tried YAML and JSON): %w", err)
			}
		}
	}

	if len(cfg.Mounts) == 0 {
		cfg.Mounts = []MountConfig{defaultMount()}
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to a Config.
// Environment variables use the EMBEDSERVE_ prefix:
//   - EMBEDSERVE_LISTEN
//   - EMBEDSERVE_LOG_LEVEL
//   - EMBEDSERVE_LOG_FORMAT
//   - EMBEDSERVE_METRICS_ENABLED
//   - EMBEDSERVE_METRICS_PATH
//
// The mount variables apply to the first mount:
//   - EMBEDSERVE_MOUNT_PREFIX
//   - EMBEDSERVE_SOURCE
//   - EMBEDSERVE_INDEX_FILE
//   - EMBEDSERVE_STRICT_SLASH
//   - EMBEDSERVE_MAX_SIZE
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("EMBEDSERVE_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("EMBEDSERVE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("EMBEDSERVE_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("EMBEDSERVE_METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Metrics.Enabled = b
		}
	}
	if v := os.Getenv("EMBEDSERVE_METRICS_PATH"); v != "" {
		c.Metrics.Path = v
	}

	if len(c.Mounts) == 0 {
		c.Mounts = []MountConfig{defaultMount()}
	}
	m := &c.Mounts[0]
	if v := os.Getenv("EMBEDSERVE_MOUNT_PREFIX"); v != "" {
		m.Prefix = v
	}
	if v := os.Getenv("EMBEDSERVE_SOURCE"); v != "" {
		m.Source = v
	}
	if v := os.Getenv("EMBEDSERVE_INDEX_FILE"); v != "" {
		m.IndexFile = v
	}
	if v := os.Getenv("EMBEDSERVE_STRICT_SLASH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			m.StrictSlash = b
		}
	}
	if v := os.Getenv("EMBEDSERVE_MAX_SIZE"); v != "" {
		m.MaxSize = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}

	// Validate log level
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
		// OK
	default:
		return fmt.Errorf("invalid log level %q (must be debug, info, warn, or error)", c.Log.Level)
	}

	// Validate log format
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
		// OK
	default:
		return fmt.Errorf("invalid log format %q (must be text or json)", c.Log.Format)
	}

	reserved := map[string]string{
		HealthPath:   "health endpoint",
		ManifestPath: "manifest endpoint",
	}
	if c.Metrics.Enabled {
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path)
		}
		reserved[strings.TrimRight(c.Metrics.Path, "/")] = "metrics endpoint"
	}

	if len(c.Mounts) == 0 {
		return fmt.Errorf("at least one mount is required")
	}

	seen := make(map[string]int)
	for i, m := range c.Mounts {
		if err := m.validate(); err != nil {
			return fmt.Errorf("mounts[%d]: %w", i, err)
		}
		prefix := m.NormalizedPrefix()
		if j, dup := seen[prefix]; dup {
			return fmt.Errorf("mounts[%d]: prefix %q already used by mounts[%d]", i, m.Prefix, j)
		}
		if what, taken := reserved[prefix]; taken {
			return fmt.Errorf("mounts[%d]: prefix %q conflicts with the %s", i, m.Prefix, what)
		}
		seen[prefix] = i
	}

	return nil
}

func (m MountConfig) validate() error {
	if m.Prefix != "" && !strings.HasPrefix(m.Prefix, "/") {
		return fmt.Errorf("prefix %q must start with /", m.Prefix)
	}
	if strings.ContainsAny(m.Prefix, "{}*") {
		return fmt.Errorf("prefix %q must not contain route pattern characters", m.Prefix)
	}

	if m.MaxSize != "" {
		if _, err := ParseSize(m.MaxSize); err != nil {
			return fmt.Errorf("invalid max_size: %w", err)
		}
	}

	switch m.Fallback.Mode {
	case "", FallbackNotFound:
		// OK
	case FallbackIndex:
		if strings.Trim(m.IndexFile, "/") == "" {
			return fmt.Errorf("fallback mode %q requires index_file", FallbackIndex)
		}
	case FallbackStatus:
		if m.Fallback.Status < 100 || m.Fallback.Status > 599 || http.StatusText(m.Fallback.Status) == "" {
			return fmt.Errorf("fallback status %d is not a valid HTTP status", m.Fallback.Status)
		}
	default:
		return fmt.Errorf("invalid fallback mode %q (must be notfound, index, or status)", m.Fallback.Mode)
	}

	return nil
}

// ParseSize parses a human-readable size string (e.g., "10GB", "500MB").
// Returns the size in bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" || s == "0" {
		return 0, nil
	}

	// Check suffixes in order of length (longest first) to avoid partial matches
	suffixes := []struct {
		suffix string
		mult   int64
	}{
		{"TB", 1024 * 1024 * 1024 * 1024},
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"T", 1024 * 1024 * 1024 * 1024},
		{"G", 1024 * 1024 * 1024},
		{"M", 1024 * 1024},
		{"K", 1024},
		{"B", 1},
	}

	for _, s2 := range suffixes {
		if strings.HasSuffix(s, s2.suffix) {
			numStr := strings.TrimSuffix(s, s2.suffix)
			num, err := strconv.ParseFloat(numStr, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q", numStr)
			}
			return int64(num * float64(s2.mult)), nil
		}
	}

	// Try parsing as plain number (bytes)
	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return num, nil
}
