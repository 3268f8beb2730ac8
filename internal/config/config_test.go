package config

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultCols != defaultCols || cfg.DefaultRows != defaultRows {
		t.Errorf("expected built-in pty size, got %dx%d", cfg.DefaultCols, cfg.DefaultRows)
	}
	if cfg.ScrollbackLines != defaultScrollbackLines {
		t.Errorf("expected default scrollback, got %d", cfg.ScrollbackLines)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prise.yaml")
	yaml := "socket_path: /tmp/custom.sock\nscript_path: ~/.prise/script.lua\ndefault_cols: 120\nmin_frame_interval: 16ms\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SocketPath != "/tmp/custom.sock" {
		t.Errorf("SocketPath = %q", cfg.SocketPath)
	}
	if cfg.DefaultCols != 120 {
		t.Errorf("DefaultCols = %d", cfg.DefaultCols)
	}
	if cfg.DefaultRows != defaultRows {
		t.Errorf("DefaultRows should keep default, got %d", cfg.DefaultRows)
	}
	if cfg.MinFrameInterval.Duration(0) != 16*time.Millisecond {
		t.Errorf("MinFrameInterval = %v", cfg.MinFrameInterval.Duration(0))
	}
}

func TestResolveSocketPathPrefersExplicitOverride(t *testing.T) {
	cfg := &Config{SocketPath: "/custom/path.sock"}
	if got := cfg.ResolveSocketPath(); got != "/custom/path.sock" {
		t.Errorf("ResolveSocketPath = %q", got)
	}
}

func TestResolveSocketPathHonorsXDGRuntimeDir(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	cfg := &Config{}
	got := cfg.ResolveSocketPath()
	want := filepath.Join("/run/user/1000", "prise-"+strconv.Itoa(os.Getuid())+".sock")
	if got != want {
		t.Errorf("ResolveSocketPath = %q, want %q", got, want)
	}
}
