package tree

import "errors"

// Handle identifies a low-level watch. Values are assigned by the backend and
// may be reused once a watch has been invalidated.
type Handle int

// NoHandle marks the absence of a parent.
const NoHandle Handle = -1

var (
	// ErrWatchLimitExceeded is returned when the backend refuses to create
	// another watch. No further directories can be followed.
	ErrWatchLimitExceeded = errors.New("watch limit exceeded")
	// ErrPathVanished is returned when a path disappeared before it could be
	// watched.
	ErrPathVanished = errors.New("path vanished")
	// ErrInvalidHandle is returned when removing a watch the backend no
	// longer knows about.
	ErrInvalidHandle = errors.New("invalid watch handle")
	// ErrClosed is returned by Read once the backend has been closed.
	ErrClosed = errors.New("watch backend closed")
)

// Backend is a per-directory notification facility.
//
// Every watch that is removed, or invalidated by the system, must eventually
// be reported exactly once by an event carrying OpIgnored for its handle.
type Backend interface {
	// Add watches a single directory. Adding a directory that is already
	// watched returns the existing handle.
	Add(path string, mask Op) (Handle, error)
	// Remove stops watching h.
	Remove(h Handle) error
	// Read blocks until at least one event is available and returns the
	// batch of events read.
	Read() ([]RawEvent, error)
	// Correlates reports whether MovedFrom/MovedTo events carry cookies.
	Correlates() bool
	// Close releases the backend and unblocks a pending Read. It may be
	// called from any goroutine.
	Close() error
}
