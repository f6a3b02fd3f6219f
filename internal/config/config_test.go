package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TFMV/synowatch/internal/index"
	"github.com/TFMV/synowatch/internal/tree"
)

const sampleConfig = `
loglevel: debug
logfile: /var/log/synowatch.log
backend: fsnotify
rate: 2.5
journal: /var/lib/synowatch/journal.db
status_addr: 127.0.0.1:9102
paths:
  - path: /volume1/music
    events: [created, removed]
    exclude_prefixes: ["@", "."]
    exclude_exts: [tmp, part]
  - path: /volume1/photo/
    exclude: ["Thumbs.db"]
    exclude_paths: ["/volume1/photo/*/private"]
`

func loadString(t *testing.T, content string) (*Config, error) {
	t.Helper()
	file := filepath.Join(t.TempDir(), "synowatch.yaml")
	if err := os.WriteFile(file, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	v := NewViper()
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig failed: %v", err)
	}
	return Load(v)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Paths) != 3 || cfg.Paths[0].Path != "/volume1/music" {
		t.Errorf("Unexpected default paths: %+v", cfg.Paths)
	}
	if cfg.Command != index.DefaultCommand || cfg.LogLevel != "INFO" || cfg.Backend != DefaultBackend() {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}

	roots, err := cfg.Roots()
	if err != nil {
		t.Fatalf("Roots failed: %v", err)
	}
	if roots[0].Mask != tree.DefaultMask {
		t.Errorf("Expected default mask, got %s", roots[0].Mask)
	}
	if roots[0].Filter.Allowed("@eaDir", "/volume1/music", true) {
		t.Error("Default filter should reject @eaDir")
	}
}

func TestLoadFile(t *testing.T) {
	cfg, err := loadString(t, sampleConfig)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Backend != BackendFsnotify || cfg.Rate != 2.5 {
		t.Errorf("Unexpected settings: %+v", cfg)
	}
	if cfg.StatusAddr != "127.0.0.1:9102" || cfg.Journal != "/var/lib/synowatch/journal.db" {
		t.Errorf("Unexpected settings: %+v", cfg)
	}
	if len(cfg.Paths) != 2 {
		t.Fatalf("Expected 2 paths, got %+v", cfg.Paths)
	}

	roots, err := cfg.Roots()
	if err != nil {
		t.Fatalf("Roots failed: %v", err)
	}
	if roots[0].Mask != tree.OpCreate|tree.OpDelete {
		t.Errorf("Unexpected mask %s", roots[0].Mask)
	}
	if roots[0].Filter.Allowed("movie.part", "/volume1/music", false) {
		t.Error("Configured extension should be excluded")
	}
	if roots[1].Path != "/volume1/photo" {
		t.Errorf("Expected cleaned path, got %q", roots[1].Path)
	}
	if roots[1].Mask != tree.DefaultMask {
		t.Errorf("Path without events should use the default mask, got %s", roots[1].Mask)
	}
	if roots[1].Filter.Allowed("private", "/volume1/photo/2024", true) {
		t.Error("Configured path pattern should be excluded")
	}
	if roots[1].Filter.Allowed(".hidden", "/volume1/photo", false) {
		t.Error("Path without prefixes should exclude hidden entries by default")
	}
}

func TestLoadPathGetsDefaultFilter(t *testing.T) {
	cfg, err := loadString(t, `
paths:
  - path: /volume1/music
  - path: /volume1/video
    exclude_prefixes: []
    exclude_exts: []
`)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	roots, err := cfg.Roots()
	if err != nil {
		t.Fatalf("Roots failed: %v", err)
	}

	music := roots[0].Filter
	for _, name := range []string{"@eaDir", ".hidden"} {
		if music.Allowed(name, "/volume1/music", true) {
			t.Errorf("Default filter should reject %q", name)
		}
	}
	if music.Allowed("x.tmp", "/volume1/music", false) {
		t.Error("Default filter should reject x.tmp")
	}
	if !music.Allowed("album", "/volume1/music", true) {
		t.Error("Default filter should allow album")
	}

	video := roots[1].Filter
	if !video.Allowed(".hidden", "/volume1/video", false) || !video.Allowed("x.tmp", "/volume1/video", false) {
		t.Error("Explicit empty lists should disable the default excludes")
	}
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("SYNOWATCH_LOGLEVEL", "WARNING")
	t.Setenv("SYNOWATCH_DRY_RUN", "true")
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogLevel != "WARNING" || !cfg.DryRun {
		t.Errorf("Environment not applied: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"no paths", func(c *Config) { c.Paths = nil }, "no paths"},
		{"relative path", func(c *Config) { c.Paths[0].Path = "volume1/music" }, "not absolute"},
		{"duplicate path", func(c *Config) { c.Paths[1].Path = "/volume1/music/" }, "twice"},
		{"unknown event", func(c *Config) { c.Paths[0].Events = []string{"chmod"} }, "unknown event"},
		{"bad pattern", func(c *Config) { c.Paths[0].Exclude = []string{"[a-"} }, "invalid exclude"},
		{"unknown backend", func(c *Config) { c.Backend = "kqueue" }, "unknown backend"},
		{"empty command", func(c *Config) { c.Command = " " }, "empty index command"},
		{"negative rate", func(c *Config) { c.Rate = -1 }, "invalid rate"},
		{"bad level", func(c *Config) { c.LogLevel = "chatty" }, "unknown log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
	cfg := Default()
	cfg.Paths = nil
	if err := cfg.Validate(); !errors.Is(err, ErrNoPaths) {
		t.Errorf("Expected ErrNoPaths, got %v", err)
	}
}

func TestMarshalLoadsBack(t *testing.T) {
	cfg := Default()
	cfg.LogFile = "/var/log/synowatch.log"
	cfg.Paths = []Path{DefaultPath("/volume1/video")}

	out, err := Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !bytes.Contains(out, []byte("path: /volume1/video")) {
		t.Errorf("Unexpected YAML:\n%s", out)
	}

	loaded, err := loadString(t, string(out))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.LogFile != cfg.LogFile || len(loaded.Paths) != 1 || loaded.Paths[0].Path != "/volume1/video" {
		t.Errorf("Loaded %+v, want %+v", loaded, cfg)
	}
}

func TestFind(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	file := filepath.Join(home, ".synowatch.yaml")
	if err := os.WriteFile(file, []byte("loglevel: INFO\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if got := Find(); got != file {
		t.Errorf("Find() = %q, want %q", got, file)
	}
}
