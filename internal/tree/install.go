package tree

import (
	"errors"
	"path/filepath"

	"github.com/karrick/godirwalk"
	"go.uber.org/zap"
)

// install watches path and, unless the watch already existed, every allowed
// directory below it. name is the node name to record: the full path for
// roots, the entry name otherwise.
//
// Only ErrWatchLimitExceeded should stop the caller; any other error means the
// directory was skipped and has already been logged.
func (t *Tree) install(path, name string, mask Op, filter *Filter, parent Handle) (Handle, error) {
	h, err := t.backend.Add(path, mask|bookkeeping)
	if err != nil {
		switch {
		case errors.Is(err, ErrWatchLimitExceeded):
			t.logger.Error("cannot add watch, limit reached", zap.String("path", path), zap.Error(err))
		case errors.Is(err, ErrPathVanished):
			t.logger.Debug("cannot add watch, path not found", zap.String("path", path))
		default:
			t.logger.Warn("cannot add watch", zap.String("path", path), zap.Error(err))
		}
		return NoHandle, err
	}

	// A handle that is pending cleanup was reused by the backend for a new
	// directory; its old entry is stale.
	if _, stale := t.pending[h]; stale {
		t.table.drop(h)
		delete(t.pending, h)
	}

	if _, ok := t.table.get(h); ok {
		// The directory was watched already (for instance it was moved back
		// into place); only its position changes and its subtree is intact.
		t.table.relink(h, name, parent)
		t.logger.Debug("updated watch", zap.Int("handle", int(h)), zap.String("path", path))
		return h, nil
	}

	t.table.add(h, name, parent, mask, filter)
	t.logger.Debug("added watch", zap.Int("handle", int(h)), zap.String("path", path))

	dirents, err := godirwalk.ReadDirents(path, nil)
	if err != nil {
		// Removed or replaced since the watch was added; the backend reports
		// the removal on its own.
		t.logger.Debug("cannot list directory", zap.String("path", path), zap.Error(err))
		return h, nil
	}
	for _, de := range dirents {
		// Symlinks are not followed.
		if !de.IsDir() {
			continue
		}
		if !filter.Allowed(de.Name(), path, true) {
			continue
		}
		_, err := t.install(filepath.Join(path, de.Name()), de.Name(), mask, filter, h)
		if errors.Is(err, ErrWatchLimitExceeded) {
			return h, err
		}
	}
	return h, nil
}
