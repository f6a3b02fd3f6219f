package tree

import (
	"errors"

	"go.uber.org/zap"
)

// remove unregisters the watches of h and of all directories below it,
// children first. Table entries are dropped later, once the backend has
// reported OpIgnored for each handle.
func (t *Tree) remove(h Handle) error {
	n, ok := t.table.get(h)
	if !ok {
		return nil
	}

	var errs []error
	for _, c := range n.children {
		if err := t.remove(c); err != nil {
			errs = append(errs, err)
		}
	}

	err := t.backend.Remove(h)
	switch {
	case errors.Is(err, ErrInvalidHandle):
		// No OpIgnored will follow for it.
		t.pending[h] = struct{}{}
		t.logger.Debug("cannot remove watch, handle does not exist", zap.Int("handle", int(h)))
	case err != nil:
		errs = append(errs, err)
	default:
		t.logger.Debug("removed watch", zap.Int("handle", int(h)))
	}
	return errors.Join(errs...)
}

// drain drops the entries of watches invalidated during the previous cycle.
func (t *Tree) drain() {
	for h := range t.pending {
		t.table.drop(h)
		delete(t.pending, h)
		t.logger.Debug("dropped watch info", zap.Int("handle", int(h)))
	}
}
