// Package config holds the engine-level configuration keys of spec.md §6.
// Loading these from a TOML file and binding them to CLI flags are treated
// as external concerns (spec.md §1 Non-goals); this package only defines
// the struct, sane defaults, JSON (de)serialisation for the daemon's own
// settings file, and the globalSpeedLimit string parser.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// QueueConfig mirrors the "queue.*" keys of spec.md §6.
type QueueConfig struct {
	MaxConcurrentDownloads int  `json:"max_concurrent_downloads"`
	MaxConnectionsPerHost  int  `json:"max_connections_per_host"`
	AutoStart              bool `json:"auto_start"`
}

// Config is the full set of engine configuration keys.
type Config struct {
	MaxConnections           int         `json:"max_connections"`
	RetryCount               int         `json:"retry_count"`
	RetryDelayMs             int         `json:"retry_delay_ms"`
	ProgressUpdateIntervalMs int         `json:"progress_update_interval_ms"`
	SegmentSaveIntervalMs    int         `json:"segment_save_interval_ms"`
	BufferSize               int         `json:"buffer_size"`
	Queue                    QueueConfig `json:"queue"`
	GlobalSpeedLimit         string      `json:"global_speed_limit"`
	UserAgent                string      `json:"user_agent"`
}

// Default returns the engine's built-in defaults, following the teacher's
// (surge-downloader-surge / teal33t-Surge) numbers where spec.md doesn't
// pin an exact value.
func Default() Config {
	return Config{
		MaxConnections:           4,
		RetryCount:               5,
		RetryDelayMs:             1000,
		ProgressUpdateIntervalMs: 200,
		SegmentSaveIntervalMs:    5000,
		BufferSize:               32 * 1024,
		Queue: QueueConfig{
			MaxConcurrentDownloads: 3,
			MaxConnectionsPerHost:  4,
			AutoStart:              true,
		},
		GlobalSpeedLimit: "unlimited",
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) " +
			"Chrome/120.0.0.0 Safari/537.36",
	}
}

// Load reads a JSON settings file, falling back to Default() for any field
// the file doesn't set when the file is absent entirely.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as indented JSON, creating the parent directory.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// SurgeDir returns the per-user state directory (~/.surge), creating it
// does not happen here; call EnsureDirs first. Honors $SURGE_HOME for
// tests and alternate install layouts.
func SurgeDir() string {
	if dir := os.Getenv("SURGE_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".surge")
}

// EnsureDirs creates the state directory tree used for the instance lock,
// port file, settings file and sqlite database.
func EnsureDirs() error {
	return os.MkdirAll(SurgeDir(), 0755)
}

// SettingsPath is the default location Load/Save use from the CLI.
func SettingsPath() string {
	return filepath.Join(SurgeDir(), "settings.json")
}

// StorePath is the default sqlite database location.
func StorePath() string {
	return filepath.Join(SurgeDir(), "surge.db")
}

// ParseSpeedLimit parses "unlimited", "<num>k", "<num>m" or a raw byte
// count into bytes/sec. "unlimited" (and "") yield 0, meaning unlimited.
func ParseSpeedLimit(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "unlimited" {
		return 0, nil
	}
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "k"):
		mult = 1024
		s = strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "m"):
		mult = 1024 * 1024
		s = strings.TrimSuffix(s, "m")
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid speed limit %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("config: negative speed limit %q", s)
	}
	return n * mult, nil
}
