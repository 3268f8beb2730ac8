// Package config loads prise.yaml: the socket path override, script
// path, default PTY size, frame clamp, and scrollback budget. Loaded
// once by the CLI layer and passed down as a plain struct — no global
// singleton here, so the core packages stay testable without it
// (spec.md §0 Ambient Stack).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FrameInterval wraps a YAML duration string ("8ms") the way the
// teacher's PathList wraps a flexible sequence shape: a small type with
// its own UnmarshalYAML rather than a second parallel field.
type FrameInterval time.Duration

func (f *FrameInterval) UnmarshalYAML(value *yaml.Node) error {
	if value.Value == "" {
		*f = 0
		return nil
	}
	d, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("config: invalid frame interval %q: %w", value.Value, err)
	}
	*f = FrameInterval(d)
	return nil
}

func (f FrameInterval) MarshalYAML() (any, error) {
	return time.Duration(f).String(), nil
}

// Duration returns the parsed time.Duration, or def when unset.
func (f FrameInterval) Duration(def time.Duration) time.Duration {
	if f == 0 {
		return def
	}
	return time.Duration(f)
}

// Config is the fully-resolved prise.yaml shape.
type Config struct {
	SocketPath       string        `yaml:"socket_path,omitempty"`
	ScriptPath       string        `yaml:"script_path,omitempty"`
	DefaultCols      uint16        `yaml:"default_cols,omitempty"`
	DefaultRows      uint16        `yaml:"default_rows,omitempty"`
	MinFrameInterval FrameInterval `yaml:"min_frame_interval,omitempty"`
	ScrollbackLines  int           `yaml:"scrollback_lines,omitempty"`
	LogLevel         string        `yaml:"log_level,omitempty"`
	LogFile          string        `yaml:"log_file,omitempty"`
}

const (
	defaultCols            = 80
	defaultRows            = 24
	defaultScrollbackLines = 2000
)

// Defaults returns the built-in config used when no prise.yaml exists.
func Defaults() *Config {
	return &Config{
		DefaultCols:     defaultCols,
		DefaultRows:     defaultRows,
		ScrollbackLines: defaultScrollbackLines,
		LogLevel:        "info",
	}
}

// Load reads prise.yaml from path. A missing file is not an error: it
// returns Defaults(). Present fields override the defaults; absent
// ones keep the default (a config stanza needn't repeat every key).
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.DefaultCols == 0 {
		cfg.DefaultCols = defaultCols
	}
	if cfg.DefaultRows == 0 {
		cfg.DefaultRows = defaultRows
	}
	if cfg.ScrollbackLines == 0 {
		cfg.ScrollbackLines = defaultScrollbackLines
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

// ResolveSocketPath returns the configured socket path, or the
// spec-mandated default `/tmp/prise-<uid>.sock`, honoring
// XDG_RUNTIME_DIR as an alternative socket parent when set and the
// config doesn't override it (spec.md §6 Transport).
func (c *Config) ResolveSocketPath() string {
	if c.SocketPath != "" {
		return c.SocketPath
	}
	name := fmt.Sprintf("prise-%d.sock", os.Getuid())
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, name)
	}
	return filepath.Join("/tmp", name)
}
