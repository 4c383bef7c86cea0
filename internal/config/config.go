// Package config loads settings from TOML files, an optional .env file and
// environment variables, in increasing order of priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	IncomingRoot string `koanf:"incoming_root"` // watched download directory
	LibraryRoot  string `koanf:"library_root"`  // published tree
	DataDir      string `koanf:"data_dir"`      // database and artwork cache

	Gemini GeminiConfig `koanf:"gemini"`
	Scan   ScanConfig   `koanf:"scan"`
	Server ServerConfig `koanf:"server"`
	Genre  GenreConfig  `koanf:"genre"`
	Log    LogConfig    `koanf:"log"`
}

// GeminiConfig configures the inference backend. An empty key disables inference.
type GeminiConfig struct {
	APIKey         string `koanf:"api_key"`
	Model          string `koanf:"model"`
	TimeoutSeconds int    `koanf:"timeout_seconds"`
}

// ScanConfig configures discovery.
type ScanConfig struct {
	IntervalSeconds int   `koanf:"interval_seconds"`
	Workers         int   `koanf:"workers"`
	Watch           *bool `koanf:"watch"` // filesystem notifications (default: true)
}

type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// GenreConfig holds the rules applied to user-chosen genres.
type GenreConfig struct {
	Placeholders []string `koanf:"placeholders"`
	MaxLength    int      `koanf:"max_length"`
}

type LogConfig struct {
	Level      string `koanf:"level"`
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days"`
	Compress   bool   `koanf:"compress"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		IncomingRoot: "/incoming",
		LibraryRoot:  "/music",
		DataDir:      "/data",
		Gemini: GeminiConfig{
			Model:          "gemini-2.0-flash-lite",
			TimeoutSeconds: 30,
		},
		Scan: ScanConfig{
			IntervalSeconds: 30,
			Workers:         4,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8090,
		},
		Genre: GenreConfig{
			Placeholders: []string{"other", "أخرى…"},
			MaxLength:    200,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads the config files, then .env, then the environment. Extra
// paths are read after the default locations and must exist.
func Load(extra ...string) (*Config, error) {
	for _, p := range extra {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
	}
	// A missing .env is fine; it never overrides variables already set.
	_ = godotenv.Load()
	return loadFrom(append(getConfigPaths(), extra...), os.LookupEnv)
}

func loadFrom(paths []string, lookup func(string) (string, bool)) (*Config, error) {
	k := koanf.New(".")

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	cfg := Default()
	// Decoding merges into existing slices, so lists start empty.
	placeholders := cfg.Genre.Placeholders
	cfg.Genre.Placeholders = nil
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}
	if cfg.Genre.Placeholders == nil {
		cfg.Genre.Placeholders = placeholders
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}

	for _, p := range []*string{&cfg.IncomingRoot, &cfg.LibraryRoot, &cfg.DataDir, &cfg.Log.File} {
		abs, err := absPath(expandPath(*p))
		if err != nil {
			return nil, err
		}
		*p = abs
	}

	return cfg, nil
}

// absPath makes path absolute so root comparisons and stored paths do not
// depend on the working directory. Empty stays empty.
func absPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return abs, nil
}

// within reports whether path lies strictly inside dir.
func within(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("INCOMING_ROOT", &cfg.IncomingRoot)
	str("LIBRARY_ROOT", &cfg.LibraryRoot)
	str("DATA_DIR", &cfg.DataDir)
	str("GEMINI_API_KEY", &cfg.Gemini.APIKey)
	str("GEMINI_MODEL", &cfg.Gemini.Model)
	str("HOST", &cfg.Server.Host)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FILE", &cfg.Log.File)

	return errors.Join(
		num("SCAN_INTERVAL_SECONDS", &cfg.Scan.IntervalSeconds),
		num("PORT", &cfg.Server.Port),
	)
}

func getConfigPaths() []string {
	paths := []string{}

	// 1. ~/.config/shelf/config.toml
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "shelf", "config.toml"))
	}

	// 2. ./config.toml (pwd, highest priority)
	paths = append(paths, "config.toml")

	return paths
}

func expandPath(path string) string {
	if path != "" && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// Validate reports settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.IncomingRoot == "" {
		errs = append(errs, errors.New("incoming_root is required"))
	}
	if c.LibraryRoot == "" {
		errs = append(errs, errors.New("library_root is required"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.IncomingRoot != "" && filepath.Clean(c.IncomingRoot) == filepath.Clean(c.LibraryRoot) {
		errs = append(errs, fmt.Errorf("incoming_root and library_root are the same directory: %s", c.IncomingRoot))
	}
	// The library scan would index unprocessed downloads.
	if c.IncomingRoot != "" && c.LibraryRoot != "" && within(c.IncomingRoot, c.LibraryRoot) {
		errs = append(errs, fmt.Errorf("incoming_root %s is inside library_root %s", c.IncomingRoot, c.LibraryRoot))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Server.Port))
	}
	if c.Scan.IntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("scan interval must be positive, got %d", c.Scan.IntervalSeconds))
	}
	return errors.Join(errs...)
}

// DBPath is the SQLite database location.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "shelf.db")
}

// ArtworkDir is the artwork cache directory.
func (c *Config) ArtworkDir() string {
	return filepath.Join(c.DataDir, "artwork")
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + strconv.Itoa(c.Server.Port)
}

// ScanInterval returns the discovery interval.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Scan.IntervalSeconds) * time.Second
}

// InferenceTimeout returns the bound on one inference call.
func (c *Config) InferenceTimeout() time.Duration {
	if c.Gemini.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Gemini.TimeoutSeconds) * time.Second
}

// WatchEnabled reports whether discovery listens for filesystem notifications.
func (c *Config) WatchEnabled() bool {
	return c.Scan.Watch == nil || *c.Scan.Watch
}

// HasInference returns true if an inference backend is configured.
func (c *Config) HasInference() bool {
	return c.Gemini.APIKey != ""
}
