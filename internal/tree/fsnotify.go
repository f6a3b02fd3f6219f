package tree

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultLatency is how long Fsnotify keeps collecting events after the first
// one of a batch.
const DefaultLatency = 50 * time.Millisecond

const maxFsnotifyBatch = 4096

// Fsnotify is a portable Backend built on fsnotify. It has no move cookies,
// so Correlates reports false and the tree pairs moves by guessing.
//
// fsnotify drops its watch when a watched directory is renamed. Fsnotify
// therefore reports the watches of a renamed directory and everything below
// it as invalidated, and the tree scans the directory again where it arrives.
//
// fsnotify has no close-after-write event, so every Write is reported as
// OpCloseWrite, once per file and batch. A file written over a longer time,
// such as a large copy, yields a ModifiedContent event in each batch that saw
// a write, not one event when the writer is done.
type Fsnotify struct {
	watcher *fsnotify.Watcher
	latency time.Duration

	mu       sync.Mutex
	next     Handle
	byPath   map[string]Handle
	byHandle map[Handle]string
	// queued holds OpIgnored events for watches removed through Remove.
	queued []RawEvent

	done      chan struct{}
	closeOnce sync.Once
}

// NewFsnotify creates an fsnotify based backend.
func NewFsnotify() (*Fsnotify, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("error creating watcher: %w", err)
	}
	return &Fsnotify{
		watcher:  watcher,
		latency:  DefaultLatency,
		next:     1,
		byPath:   make(map[string]Handle),
		byHandle: make(map[Handle]string),
		done:     make(chan struct{}),
	}, nil
}

// SetLatency changes the batching window. Zero returns every event as soon
// as it is read.
func (w *Fsnotify) SetLatency(d time.Duration) {
	w.latency = d
}

// Add watches the directory at path. The mask is not passed on: fsnotify
// always reports everything and the tree filters by mask.
func (w *Fsnotify) Add(path string, _ Op) (Handle, error) {
	path = filepath.Clean(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	if h, ok := w.byPath[path]; ok {
		return h, nil
	}

	fi, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NoHandle, fmt.Errorf("add watch %q: %w", path, ErrPathVanished)
		}
		return NoHandle, fmt.Errorf("add watch %q: %w", path, err)
	}
	if !fi.IsDir() {
		return NoHandle, fmt.Errorf("add watch %q: not a directory: %w", path, ErrPathVanished)
	}

	if err := w.watcher.Add(path); err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return NoHandle, fmt.Errorf("add watch %q: %w", path, ErrPathVanished)
		case errors.Is(err, syscall.ENOSPC), errors.Is(err, syscall.EMFILE):
			return NoHandle, fmt.Errorf("add watch %q: %w", path, ErrWatchLimitExceeded)
		}
		return NoHandle, fmt.Errorf("add watch %q: %w", path, err)
	}

	h := w.next
	w.next++
	w.byPath[path] = h
	w.byHandle[h] = path
	return h, nil
}

// Remove stops watching h. The matching OpIgnored event is delivered by the
// next Read.
func (w *Fsnotify) Remove(h Handle) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	path, ok := w.byHandle[h]
	if !ok {
		return fmt.Errorf("remove watch %d: %w", h, ErrInvalidHandle)
	}
	w.forget(h, path)
	w.queued = append(w.queued, RawEvent{Handle: h, Op: OpIgnored})

	if err := w.watcher.Remove(path); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		return fmt.Errorf("remove watch %q: %w", path, err)
	}
	return nil
}

// Correlates reports false: fsnotify does not expose rename cookies.
func (w *Fsnotify) Correlates() bool { return false }

// Read blocks for the first event and then collects whatever else arrives
// within the latency window.
func (w *Fsnotify) Read() ([]RawEvent, error) {
	b := &fsBatch{gone: make(map[string]struct{}), written: make(map[string]struct{})}

	w.mu.Lock()
	b.events, w.queued = w.queued, nil
	w.mu.Unlock()

	for len(b.events) == 0 {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil, ErrClosed
			}
			w.convert(b, ev)
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return nil, ErrClosed
			}
			b.overflow()
		case <-w.done:
			return nil, ErrClosed
		}
	}

	if w.latency <= 0 {
		return b.events, nil
	}
	timer := time.NewTimer(w.latency)
	defer timer.Stop()
	for len(b.events) < maxFsnotifyBatch {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return b.events, nil
			}
			w.convert(b, ev)
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return b.events, nil
			}
			b.overflow()
		case <-timer.C:
			return b.events, nil
		case <-w.done:
			return b.events, nil
		}
	}
	return b.events, nil
}

// Close stops the watcher. A blocked Read returns ErrClosed.
func (w *Fsnotify) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}

// fsBatch is the batch being assembled by one Read call.
type fsBatch struct {
	events []RawEvent
	// gone holds watched directories that left during this batch; fsnotify
	// reports them both from the parent and from their own watch.
	gone map[string]struct{}
	// written holds files already reported as written in this batch.
	written map[string]struct{}
}

// overflow records a watcher error. Besides ErrEventOverflow, anything
// fsnotify reports means events may be missing.
func (b *fsBatch) overflow() {
	b.events = append(b.events, RawEvent{Handle: NoHandle, Op: OpOverflow})
}

// convert maps one fsnotify event to raw events relative to the watch of its
// parent directory.
func (w *Fsnotify) convert(b *fsBatch, ev fsnotify.Event) {
	if ev.Name == "" {
		return
	}
	path := filepath.Clean(ev.Name)
	if _, ok := b.gone[path]; ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	self, watched := w.byPath[path]
	parent, hasParent := w.byPath[filepath.Dir(path)]
	name := filepath.Base(path)
	if !ev.Has(fsnotify.Write) {
		delete(b.written, path)
	}

	switch {
	case ev.Has(fsnotify.Create):
		if !hasParent {
			return
		}
		op := OpCreate
		if fi, err := os.Lstat(path); err == nil && fi.IsDir() {
			op |= OpIsDir
		}
		b.events = append(b.events, RawEvent{Handle: parent, Op: op, Name: name})

	case ev.Has(fsnotify.Write):
		if !hasParent || watched {
			return
		}
		if _, ok := b.written[path]; ok {
			return
		}
		b.written[path] = struct{}{}
		b.events = append(b.events, RawEvent{Handle: parent, Op: OpCloseWrite, Name: name})

	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		op, selfOp := OpDelete, OpDeleteSelf
		if ev.Has(fsnotify.Rename) {
			op, selfOp = OpMovedFrom, OpMoveSelf
		}
		if !watched {
			if hasParent {
				b.events = append(b.events, RawEvent{Handle: parent, Op: op, Name: name})
			}
			return
		}
		if hasParent {
			b.events = append(b.events, RawEvent{Handle: parent, Op: op | OpIsDir, Name: name})
		} else {
			b.events = append(b.events, RawEvent{Handle: self, Op: selfOp})
		}
		b.gone[path] = struct{}{}
		b.events = append(b.events, w.invalidate(path)...)
	}
}

// invalidate forgets the watch of path and of every directory below it and
// returns their OpIgnored events. Callers hold mu.
func (w *Fsnotify) invalidate(path string) []RawEvent {
	var out []RawEvent
	prefix := path + string(filepath.Separator)
	for p, h := range w.byPath {
		if p != path && !strings.HasPrefix(p, prefix) {
			continue
		}
		w.forget(h, p)
		w.watcher.Remove(p) //nolint:errcheck
		out = append(out, RawEvent{Handle: h, Op: OpIgnored})
	}
	return out
}

func (w *Fsnotify) forget(h Handle, path string) {
	delete(w.byPath, path)
	delete(w.byHandle, h)
}
