package tree

import (
	"errors"
	"path/filepath"

	"go.uber.org/zap"
)

// Translate applies one batch of raw events to the table and returns the
// resolved events, in order. The only error returned is
// ErrWatchLimitExceeded; events translated before it are returned with it.
func (t *Tree) Translate(raw []RawEvent) ([]Event, error) {
	t.drain()

	var out []Event
	for _, ev := range raw {
		if ev.Op.Has(OpOverflow) {
			t.logger.Warn("event queue overflowed, some events were lost")
			continue
		}

		n, ok := t.table.get(ev.Handle)
		if !ok {
			// Should not happen; hand it on as is.
			t.logger.Debug("event for unknown watch", zap.Stringer("event", ev))
			if kind, ok := kindOf(ev.Op); ok && ev.Name != "" {
				out = append(out, Event{Path: ev.Name, IsDir: ev.Op.Has(OpIsDir), Kind: kind})
			}
			continue
		}

		if ev.Op.Has(OpIgnored) {
			// Earlier events of this batch may still need the entry.
			t.pending[ev.Handle] = struct{}{}
			t.logger.Debug("enlisted watch info for clean-up", zap.Int("handle", int(ev.Handle)))
			continue
		}

		if ev.Name == "" {
			if n.parent == NoHandle && ev.Op.Has(OpDeleteSelf|OpMoveSelf) {
				t.logger.Warn("watched root went away", zap.String("path", n.name), zap.Stringer("op", ev.Op))
			}
			continue
		}

		dir, resolved := t.table.path(ev.Handle)
		if !resolved {
			t.logger.Warn("cannot resolve full path of watch", zap.Int("handle", int(ev.Handle)), zap.String("path", dir))
		}
		isDir := ev.Op.Has(OpIsDir)
		allowed := n.filter.Allowed(ev.Name, dir, isDir)

		op := ev.Op
		if isDir {
			switch {
			case op.Has(OpCreate | OpMovedTo):
				moved, err := t.arrive(n, ev, dir, resolved, allowed)
				if err != nil {
					return out, err
				}
				if moved && op.Has(OpCreate) {
					op = op&^OpCreate | OpMovedTo
				}
			case op.Has(OpMovedFrom):
				t.depart(n, ev)
			case op.Has(OpDelete):
				t.deleted(n, ev)
			}
		}

		if !allowed {
			continue
		}
		kind, ok := kindOf(op)
		if !ok || kind.Op()&n.mask == 0 {
			continue
		}
		out = append(out, Event{Path: filepath.Join(dir, ev.Name), IsDir: isDir, Kind: kind})
	}

	for _, h := range t.corr.finish() {
		if p, ok := t.table.path(h); ok {
			t.logger.Debug("directory moved out of watched tree", zap.String("path", p))
		}
		if err := t.remove(h); err != nil {
			t.logger.Warn("cannot remove watches", zap.Int("handle", int(h)), zap.Error(err))
		}
	}
	return out, nil
}

// arrive handles a directory that appeared in n, either by a move that can be
// correlated with a departure or as a new directory. It reports whether the
// arrival was matched to a departure.
func (t *Tree) arrive(n *node, ev RawEvent, dir string, resolved, allowed bool) (bool, error) {
	if !allowed {
		// A pending departure stays unmatched and ends as a move-out.
		return false, nil
	}

	moved := false
	if ev.Op.Has(OpMovedTo) || !t.corr.cookies {
		if d, ok := t.corr.arrive(ev.Cookie, n.handle); ok {
			moved = true
			if t.live(d.handle) {
				t.table.relink(d.handle, ev.Name, n.handle)
				t.logger.Debug("moved watch",
					zap.Int("handle", int(d.handle)),
					zap.String("from", d.name),
					zap.String("to", filepath.Join(dir, ev.Name)))
				return true, nil
			}
			// The backend dropped the watches of the moved directory; it
			// has to be scanned again at its new place.
		}
	}

	parent, name := n.handle, ev.Name
	if !resolved {
		t.logger.Warn("installing directory without parent", zap.String("path", filepath.Join(dir, ev.Name)))
		parent, name = NoHandle, filepath.Join(dir, ev.Name)
	}
	_, err := t.install(filepath.Join(dir, ev.Name), name, n.mask, n.filter, parent)
	if errors.Is(err, ErrWatchLimitExceeded) {
		return moved, err
	}
	return moved, nil
}

// live reports whether h has an entry whose watch is still registered.
func (t *Tree) live(h Handle) bool {
	if _, ok := t.table.get(h); !ok {
		return false
	}
	_, gone := t.pending[h]
	return !gone
}

// depart detaches the child directory that moved away from n.
func (t *Tree) depart(n *node, ev RawEvent) {
	c, ok := t.table.child(n.handle, ev.Name)
	if !ok {
		return
	}
	t.table.detach(c)
	t.corr.depart(ev.Cookie, departure{handle: c, parent: n.handle, name: ev.Name})
}

// deleted tears down the child directory deleted from n. A deletion can never
// be matched by an arrival.
func (t *Tree) deleted(n *node, ev RawEvent) {
	c, ok := t.table.child(n.handle, ev.Name)
	if !ok {
		return
	}
	t.table.detach(c)
	if err := t.remove(c); err != nil {
		t.logger.Warn("cannot remove watches", zap.Int("handle", int(c)), zap.Error(err))
	}
}
