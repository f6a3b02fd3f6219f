package tree

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"golang.org/x/text/unicode/norm"
)

// FilterOptions defines which entries are excluded from watching and
// reporting.
type FilterOptions struct {
	ExcludePrefixes []string // Name prefixes to reject (e.g. "." and "@")
	ExcludeExts     []string // File extensions to reject, without the dot
	Exclude         []string // Glob patterns matched against the entry name
	ExcludePaths    []string // Glob patterns matched against the full path
}

// Filter decides whether an entry is watched and reported. A Filter is
// immutable once built and is shared by every node of the subtree it was
// installed with. A nil *Filter allows everything.
type Filter struct {
	prefixes     []string
	exts         map[string]struct{}
	exclude      []glob.Glob
	excludePaths []glob.Glob
	opts         FilterOptions
}

// NewFilter compiles opts into a Filter.
func NewFilter(opts FilterOptions) (*Filter, error) {
	f := &Filter{
		exts: make(map[string]struct{}, len(opts.ExcludeExts)),
		opts: opts,
	}
	for _, p := range opts.ExcludePrefixes {
		if p != "" {
			f.prefixes = append(f.prefixes, norm.NFC.String(p))
		}
	}
	for _, ext := range opts.ExcludeExts {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			f.exts[ext] = struct{}{}
		}
	}
	for _, p := range opts.Exclude {
		g, err := glob.Compile(norm.NFC.String(p))
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		f.exclude = append(f.exclude, g)
	}
	for _, p := range opts.ExcludePaths {
		g, err := glob.Compile(norm.NFC.String(p), filepath.Separator)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude path pattern %q: %w", p, err)
		}
		f.excludePaths = append(f.excludePaths, g)
	}
	return f, nil
}

// DefaultFilterOptions rejects hidden entries, Synology metadata folders such
// as @eaDir and temporary files.
func DefaultFilterOptions() FilterOptions {
	return FilterOptions{
		ExcludePrefixes: []string{".", "@"},
		ExcludeExts:     []string{"tmp"},
	}
}

// DefaultFilter returns a Filter built from DefaultFilterOptions.
func DefaultFilter() *Filter {
	f, _ := NewFilter(DefaultFilterOptions())
	return f
}

// Options returns the options the filter was built from.
func (f *Filter) Options() FilterOptions {
	if f == nil {
		return FilterOptions{}
	}
	return f.opts
}

// Allowed reports whether the entry name inside parentPath should be watched
// (directories) or reported. It decides on names only and never touches the
// filesystem, so it is safe for entries that no longer exist.
func (f *Filter) Allowed(name, parentPath string, isDir bool) bool {
	if f == nil || name == "" {
		return true
	}
	name = norm.NFC.String(name)

	for _, p := range f.prefixes {
		if strings.HasPrefix(name, p) {
			return false
		}
	}

	// Extensions only apply to files.
	if !isDir && len(f.exts) > 0 {
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
		if _, ok := f.exts[ext]; ok && ext != "" {
			return false
		}
	}

	for _, g := range f.exclude {
		if g.Match(name) {
			return false
		}
	}

	if len(f.excludePaths) > 0 {
		full := norm.NFC.String(filepath.Join(parentPath, name))
		for _, g := range f.excludePaths {
			if g.Match(full) {
				return false
			}
		}
	}
	return true
}
