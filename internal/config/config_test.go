package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StorePath != DefaultStorePath() {
		t.Fatalf("store path = %q", cfg.StorePath)
	}
	if cfg.Theme != "tokyo" || cfg.LogLevel != "info" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.Shell != "" || cfg.EventsURL != "" {
		t.Fatalf("unexpected non-empty defaults: %+v", cfg)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("  ")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Theme != "tokyo" {
		t.Fatalf("theme = %q", cfg.Theme)
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	in := &Config{
		StorePath: "/var/lib/beam/beam.db",
		Shell:     "claude",
		BufferCap: 256 * 1024,
		Theme:     "gruvbox",
		EventsURL: "nats://127.0.0.1:4222",
		LogLevel:  "debug",
	}
	if err := in.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	out, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if *out != *in {
		t.Fatalf("roundtrip mismatch\n got %+v\nwant %+v", out, in)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("config file mode = %v", info.Mode().Perm())
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("shell: aider\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Shell != "aider" {
		t.Fatalf("shell = %q", cfg.Shell)
	}
	if cfg.StorePath != DefaultStorePath() || cfg.Theme != "tokyo" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadMalformedFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("shell: [unterminated\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	got, err := expandPath("~/x/y")
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if got != filepath.Join(home, "x", "y") {
		t.Fatalf("expanded = %q", got)
	}

	got, err = expandPath("/abs/path")
	if err != nil || got != "/abs/path" {
		t.Fatalf("absolute path mangled: %q %v", got, err)
	}

	cwd, _ := os.Getwd()
	got, err = expandPath("rel/path")
	if err != nil || got != filepath.Join(cwd, "rel", "path") {
		t.Fatalf("relative path = %q %v", got, err)
	}
}
