package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config configures the offline daemon. Every field is read from an OFFLINE_* environment
// variable (DATABASE_URL excepted, matching the API service).
type Config struct {
	ListenAddr string `env:"OFFLINE_LISTEN_ADDR" envDefault:"127.0.0.1:8787"`

	// CachePrefix and CacheVersion name the stores ("<prefix>-<role>-<version>").
	// Bump CacheVersion on deploy to start from a clean slate.
	CachePrefix  string `env:"OFFLINE_CACHE_PREFIX" envDefault:"waypoint"`
	CacheVersion string `env:"OFFLINE_CACHE_VERSION" envDefault:"v1"`

	// AppOrigin is the application's own origin; manifest paths resolve against it.
	AppOrigin        string   `env:"OFFLINE_APP_ORIGIN" envDefault:"http://localhost:5173"`
	PrecacheManifest []string `env:"OFFLINE_PRECACHE_MANIFEST" envSeparator:"," envDefault:"/index.html,/manifest.json"`
	OfflineDocument  string   `env:"OFFLINE_DOCUMENT" envDefault:"/index.html"`

	TileCap    int `env:"OFFLINE_TILE_CAP" envDefault:"500"`
	TileMargin int `env:"OFFLINE_TILE_MARGIN" envDefault:"10"`

	DedupTimeout        time.Duration `env:"OFFLINE_DEDUP_TIMEOUT" envDefault:"30s"`
	MaxBodyBytes        int64         `env:"OFFLINE_MAX_BODY_BYTES" envDefault:"33554432"`
	PrefetchConcurrency int           `env:"OFFLINE_PREFETCH_CONCURRENCY" envDefault:"6"`

	StorageBackend string `env:"OFFLINE_STORAGE_BACKEND" envDefault:"memory"`
	SQLitePath     string `env:"OFFLINE_SQLITE_PATH" envDefault:"offline-cache.db"`
	DatabaseURL    string `env:"DATABASE_URL"`

	LogLevel     string `env:"OFFLINE_LOG_LEVEL" envDefault:"info"`
	OTELEndpoint string `env:"OFFLINE_OTEL_ENDPOINT"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c Config) Validate() error {
	if strings.TrimSpace(c.CachePrefix) == "" || strings.Contains(c.CachePrefix, " ") {
		return fmt.Errorf("OFFLINE_CACHE_PREFIX must be a non-empty token")
	}
	if strings.TrimSpace(c.CacheVersion) == "" {
		return fmt.Errorf("OFFLINE_CACHE_VERSION must be non-empty")
	}
	if _, err := c.Origin(); err != nil {
		return err
	}
	if c.TileCap <= 0 {
		return fmt.Errorf("OFFLINE_TILE_CAP must be positive (got %d)", c.TileCap)
	}
	if c.TileMargin < 0 {
		return fmt.Errorf("OFFLINE_TILE_MARGIN must not be negative (got %d)", c.TileMargin)
	}
	if c.DedupTimeout <= 0 {
		return fmt.Errorf("OFFLINE_DEDUP_TIMEOUT must be positive (got %s)", c.DedupTimeout)
	}
	if c.PrefetchConcurrency <= 0 {
		return fmt.Errorf("OFFLINE_PREFETCH_CONCURRENCY must be positive (got %d)", c.PrefetchConcurrency)
	}
	switch c.StorageBackend {
	case BackendMemory:
	case BackendSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("OFFLINE_SQLITE_PATH is required for the sqlite backend")
		}
	case BackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("OFFLINE_STORAGE_BACKEND must be memory|sqlite|postgres (got %q)", c.StorageBackend)
	}
	return nil
}

// Origin parses AppOrigin.
func (c Config) Origin() (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(c.AppOrigin))
	if err != nil {
		return nil, fmt.Errorf("OFFLINE_APP_ORIGIN: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("OFFLINE_APP_ORIGIN must be an absolute http(s) origin (got %q)", c.AppOrigin)
	}
	return u, nil
}

// Manifest returns the trimmed, non-empty precache manifest entries.
func (c Config) Manifest() []string {
	out := make([]string, 0, len(c.PrecacheManifest))
	for _, p := range c.PrecacheManifest {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
