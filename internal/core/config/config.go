// Package config provides configuration management for the MTGJSON SDK tools.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// CDN endpoints. Dataset files live at {BaseURL}/{relative_path}.
const (
	DefaultBaseURL = "https://mtgjson.com/api/v5"
	DefaultMetaURL = "https://mtgjson.com/api/v5/Meta.json"
)

// Config holds configuration for the cache, the CDN and the optional servers.
type Config struct {
	CacheDir string
	Offline  bool
	Timeout  time.Duration

	BaseURL string
	MetaURL string

	Host     string
	GRPCPort int
	HTTPPort int
	// APIKeys guard both servers; empty leaves them open.
	APIKeys []string

	Datadog    bool
	JobName    string
	FlushEvery time.Duration
	Tags       []string
}

// Default returns configuration with default values.
func Default() *Config {
	return &Config{
		CacheDir:   "",
		Offline:    false,
		Timeout:    120 * time.Second,
		BaseURL:    DefaultBaseURL,
		MetaURL:    DefaultMetaURL,
		Host:       "127.0.0.1",
		GRPCPort:   50051,
		HTTPPort:   8080,
		Datadog:    false,
		JobName:    "mtgjson",
		FlushEvery: 60 * time.Second,
	}
}

// DefaultCacheDir returns the platform cache directory for the SDK
// (e.g. ~/.cache/mtgjson-sdk on Linux), or a relative fallback when the
// platform has none.
func DefaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, "mtgjson-sdk")
	}
	return ".mtgjson-sdk-cache"
}

// ResolvedCacheDir returns CacheDir, or the platform default when unset.
func (c *Config) ResolvedCacheDir() string {
	if c.CacheDir != "" {
		return c.CacheDir
	}
	return DefaultCacheDir()
}
