// Package config loads server configuration from an optional YAML file
// with sane defaults, validated before use.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all settings for the server and the ingestion pipeline.
type Config struct {
	Port int    `yaml:"port" validate:"gte=1,lte=65535"`
	Env  string `yaml:"env" validate:"oneof=development test production"`

	Cache struct {
		// Dir is where derived stores live, one directory per fingerprint.
		Dir string `yaml:"dir" validate:"required"`
	} `yaml:"cache"`

	Ingest struct {
		// StreamArchiveMB: archives above this size stream stop_times.
		StreamArchiveMB int64 `yaml:"stream_archive_mb" validate:"gt=0"`
		// MaxMemberMB: members above this extracted size are never held in memory.
		MaxMemberMB int64 `yaml:"max_member_mb" validate:"gt=0"`
		// WatchSource reloads the feed when the archive changes on disk.
		WatchSource bool `yaml:"watch_source"`
	} `yaml:"ingest"`

	Query struct {
		Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
	} `yaml:"query"`
}

// Default returns the built-in configuration.
func Default() Config {
	var cfg Config
	cfg.Port = 4000
	cfg.Env = "development"
	cfg.Cache.Dir = defaultCacheDir()
	cfg.Ingest.StreamArchiveMB = 100
	cfg.Ingest.MaxMemberMB = 200
	cfg.Query.Timeout = 10 * time.Second
	return cfg
}

func defaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "transitlens")
}

// Load reads the YAML file at path over the defaults. An empty path keeps
// the defaults. The result is validated either way.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration's struct tags.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
