// Package config loads the synowatch configuration through viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/TFMV/synowatch/internal/index"
	"github.com/TFMV/synowatch/internal/logging"
	"github.com/TFMV/synowatch/internal/tree"
)

// ErrNoPaths is returned when no directory is configured for watching.
var ErrNoPaths = errors.New("no paths to watch")

// Backends.
const (
	BackendInotify  = "inotify"
	BackendFsnotify = "fsnotify"
)

// Path configures one watched directory tree.
type Path struct {
	Path            string   `mapstructure:"path" yaml:"path"`
	Events          []string `mapstructure:"events" yaml:"events,omitempty"`
	ExcludePrefixes []string `mapstructure:"exclude_prefixes" yaml:"exclude_prefixes"`
	ExcludeExts     []string `mapstructure:"exclude_exts" yaml:"exclude_exts"`
	Exclude         []string `mapstructure:"exclude" yaml:"exclude,omitempty"`
	ExcludePaths    []string `mapstructure:"exclude_paths" yaml:"exclude_paths,omitempty"`
}

// Config is the complete configuration.
type Config struct {
	LogFile    string  `mapstructure:"logfile" yaml:"logfile,omitempty"`
	LogLevel   string  `mapstructure:"loglevel" yaml:"loglevel"`
	PidFile    string  `mapstructure:"pidfile" yaml:"pidfile,omitempty"`
	Backend    string  `mapstructure:"backend" yaml:"backend"`
	Command    string  `mapstructure:"command" yaml:"command"`
	DryRun     bool    `mapstructure:"dry_run" yaml:"dry_run,omitempty"`
	Rate       float64 `mapstructure:"rate" yaml:"rate,omitempty"`
	Journal    string  `mapstructure:"journal" yaml:"journal,omitempty"`
	StatusAddr string  `mapstructure:"status_addr" yaml:"status_addr,omitempty"`
	Paths      []Path  `mapstructure:"paths" yaml:"paths"`
}

// DefaultEvents are the event kinds reported for a path without an events
// list.
var DefaultEvents = []string{"created", "removed", "modified", "renamed"}

// DefaultPidFile is where the init script keeps the pid.
const DefaultPidFile = "/var/run/synowatch.pid"

// DefaultBackend returns inotify on Linux and fsnotify elsewhere.
func DefaultBackend() string {
	if runtime.GOOS == "linux" {
		return BackendInotify
	}
	return BackendFsnotify
}

// DefaultPath returns the configuration of dir with the default events and
// filter.
func DefaultPath(dir string) Path {
	f := tree.DefaultFilterOptions()
	return Path{
		Path:            dir,
		Events:          append([]string(nil), DefaultEvents...),
		ExcludePrefixes: f.ExcludePrefixes,
		ExcludeExts:     f.ExcludeExts,
	}
}

// DefaultPaths are the media shares of a DiskStation.
func DefaultPaths() []Path {
	return []Path{
		DefaultPath("/volume1/music"),
		DefaultPath("/volume1/photo"),
		DefaultPath("/volume1/video"),
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "INFO",
		Backend:  DefaultBackend(),
		Command:  index.DefaultCommand,
		Paths:    DefaultPaths(),
	}
}

// SetDefaults registers the scalar defaults with v, so environment
// variables are picked up for them.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("logfile", d.LogFile)
	v.SetDefault("loglevel", d.LogLevel)
	v.SetDefault("pidfile", d.PidFile)
	v.SetDefault("backend", d.Backend)
	v.SetDefault("command", d.Command)
	v.SetDefault("dry_run", d.DryRun)
	v.SetDefault("rate", d.Rate)
	v.SetDefault("journal", d.Journal)
	v.SetDefault("status_addr", d.StatusAddr)
}

// Load decodes and validates the configuration held by v. Without a paths
// list the default media shares are watched. Events and exclude settings
// missing from a path get the defaults.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.Paths) == 0 && !v.IsSet("paths") {
		cfg.Paths = DefaultPaths()
	}
	defaults := tree.DefaultFilterOptions()
	for i := range cfg.Paths {
		p := &cfg.Paths[i]
		// An explicit empty list opts out of the default.
		if p.Events == nil {
			p.Events = append([]string(nil), DefaultEvents...)
		}
		if p.ExcludePrefixes == nil {
			p.ExcludePrefixes = append([]string(nil), defaults.ExcludePrefixes...)
		}
		if p.ExcludeExts == nil {
			p.ExcludeExts = append([]string(nil), defaults.ExcludeExts...)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if len(c.Paths) == 0 {
		return ErrNoPaths
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.Backend {
	case BackendInotify, BackendFsnotify:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if _, err := index.ParseCommand(c.Command); err != nil {
		return err
	}
	if c.Rate < 0 {
		return fmt.Errorf("invalid rate %v", c.Rate)
	}

	seen := make(map[string]bool)
	for _, p := range c.Paths {
		if !filepath.IsAbs(p.Path) {
			return fmt.Errorf("path %q is not absolute", p.Path)
		}
		clean := filepath.Clean(p.Path)
		if seen[clean] {
			return fmt.Errorf("path %q configured twice", p.Path)
		}
		seen[clean] = true
		if _, err := p.Root(); err != nil {
			return err
		}
	}
	return nil
}

// Root converts the path configuration to a tree root.
func (p Path) Root() (tree.Root, error) {
	mask, err := tree.MaskOf(p.Events)
	if err != nil {
		return tree.Root{}, fmt.Errorf("path %q: %w", p.Path, err)
	}
	filter, err := tree.NewFilter(tree.FilterOptions{
		ExcludePrefixes: p.ExcludePrefixes,
		ExcludeExts:     p.ExcludeExts,
		Exclude:         p.Exclude,
		ExcludePaths:    p.ExcludePaths,
	})
	if err != nil {
		return tree.Root{}, fmt.Errorf("path %q: %w", p.Path, err)
	}
	return tree.Root{Path: filepath.Clean(p.Path), Mask: mask, Filter: filter}, nil
}

// Roots converts every configured path to a tree root.
func (c *Config) Roots() ([]tree.Root, error) {
	roots := make([]tree.Root, 0, len(c.Paths))
	for _, p := range c.Paths {
		r, err := p.Root()
		if err != nil {
			return nil, err
		}
		roots = append(roots, r)
	}
	return roots, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return out, nil
}

// Files lists the configuration files looked at when none is given, in order
// of preference.
func Files() []string {
	var files []string
	if home, err := os.UserHomeDir(); err == nil {
		files = append(files, filepath.Join(home, ".synowatch.yaml"))
	}
	return append(files, "/etc/synowatch.yaml")
}

// Find returns the first existing file of Files, or "".
func Find() string {
	for _, f := range Files() {
		if fi, err := os.Stat(f); err == nil && !fi.IsDir() {
			return f
		}
	}
	return ""
}

// EnvPrefix is the prefix of environment variables overriding settings, as
// in SYNOWATCH_LOGLEVEL=DEBUG.
const EnvPrefix = "SYNOWATCH"

// NewViper returns a viper instance with defaults and environment binding
// set up.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}
