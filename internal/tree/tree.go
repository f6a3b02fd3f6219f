// Package tree maintains recursive directory watches on top of a per-directory
// notification backend such as inotify.
//
// A Tree installs one low-level watch per directory below each configured
// root, keeps a table from watch handle to position in the hierarchy, follows
// directories as they are created, deleted, renamed or moved, and turns the
// raw backend events into path-qualified events.
//
// Basic usage:
//
//	backend, err := tree.NewInotify()
//	if err != nil {
//		return err
//	}
//	t, err := tree.Open(backend, []tree.Root{{Path: "/volume1/music", Mask: tree.DefaultMask, Filter: tree.DefaultFilter()}})
//	if err != nil {
//		return err
//	}
//	defer t.Close()
//	for {
//		events, err := t.Read()
//		if err != nil {
//			return err
//		}
//		for _, ev := range events {
//			fmt.Println(ev)
//		}
//	}
//
// A Tree is not safe for concurrent use. Close may be called from another
// goroutine to unblock Read.
package tree

import (
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
)

// Root configures one watched subtree.
type Root struct {
	Path   string
	Mask   Op
	Filter *Filter
}

// Option configures a Tree.
type Option func(*Tree)

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tree) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// Tree is the recursive watch manager.
type Tree struct {
	backend Backend
	logger  *zap.Logger
	table   *table
	corr    *correlator
	// pending holds handles whose watch is gone but whose entry must live
	// until the next Translate call.
	pending map[Handle]struct{}
}

// New creates an empty Tree on top of backend.
func New(backend Backend, opts ...Option) *Tree {
	t := &Tree{
		backend: backend,
		logger:  zap.NewNop(),
		table:   newTable(),
		corr:    newCorrelator(backend.Correlates()),
		pending: make(map[Handle]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Open creates a Tree and installs every root. A root that cannot be watched
// is logged and skipped; Open only fails when the watch limit is reached or
// when no root at all could be installed.
func Open(backend Backend, roots []Root, opts ...Option) (*Tree, error) {
	t := New(backend, opts...)
	var errs []error
	installed := 0
	for _, r := range roots {
		_, err := t.AddRoot(r.Path, r.Mask, r.Filter)
		if errors.Is(err, ErrWatchLimitExceeded) {
			return nil, err
		}
		if err != nil {
			t.logger.Warn("cannot watch root", zap.String("path", r.Path), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		installed++
	}
	if installed == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	t.logger.Info("watch tree ready",
		zap.Int("roots", installed),
		zap.Int("watches", t.table.len()))
	return t, nil
}

// AddRoot recursively watches path. The mask selects which kinds are
// reported; the filter is used for every entry below path.
func (t *Tree) AddRoot(path string, mask Op, filter *Filter) (Handle, error) {
	path = filepath.Clean(path)
	h, err := t.install(path, path, mask, filter, NoHandle)
	if err != nil {
		return NoHandle, fmt.Errorf("watch root %q: %w", path, err)
	}
	return h, nil
}

// Read blocks for the next batch of backend events and translates it.
func (t *Tree) Read() ([]Event, error) {
	raw, err := t.backend.Read()
	if err != nil {
		return nil, err
	}
	return t.Translate(raw)
}

// Remove stops watching h and every directory below it. Removing a handle
// that is unknown or already removed is a no-op.
func (t *Tree) Remove(h Handle) error {
	return t.remove(h)
}

// Path returns the full path of the directory watched by h.
func (t *Tree) Path(h Handle) (string, bool) {
	return t.table.path(h)
}

// Lookup returns the handle watching the directory at path.
func (t *Tree) Lookup(path string) (Handle, bool) {
	return t.table.lookup(path)
}

// Len returns the number of table entries, including entries pending cleanup.
func (t *Tree) Len() int {
	return t.table.len()
}

// Paths returns the sorted paths of all watched directories.
func (t *Tree) Paths() []string {
	return t.table.paths()
}

// Close closes the backend.
func (t *Tree) Close() error {
	return t.backend.Close()
}
