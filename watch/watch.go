package watch

import (
	"context"
	"errors"
	"runtime"

	"go.uber.org/zap"

	internal "github.com/TFMV/synowatch/internal/tree"
)

// Re-export the types from the internal package
type (
	// Tree keeps one watch per directory below its roots.
	Tree = internal.Tree

	// Root configures one watched subtree.
	Root = internal.Root

	// Event is a path-qualified change below a root.
	Event = internal.Event

	// Kind classifies an Event.
	Kind = internal.Kind

	// Op is a set of low-level event flags.
	Op = internal.Op

	// Filter decides which entries are watched and reported.
	Filter = internal.Filter

	// FilterOptions configures a Filter.
	FilterOptions = internal.FilterOptions

	// Backend is the per-directory notification mechanism below a Tree.
	Backend = internal.Backend

	// Option configures a Tree.
	Option = internal.Option
)

// Event kinds
const (
	Created         = internal.Created
	Removed         = internal.Removed
	ModifiedContent = internal.ModifiedContent
	RenamedInto     = internal.RenamedInto
	RenamedFrom     = internal.RenamedFrom
)

// Masks
const (
	OpCreate     = internal.OpCreate
	OpDelete     = internal.OpDelete
	OpCloseWrite = internal.OpCloseWrite
	OpMovedFrom  = internal.OpMovedFrom
	OpMovedTo    = internal.OpMovedTo
	DefaultMask  = internal.DefaultMask
)

// Errors
var (
	ErrWatchLimitExceeded = internal.ErrWatchLimitExceeded
	ErrClosed             = internal.ErrClosed
)

// Handler is called for every event. Returning an error stops Watch.
type Handler func(ev Event) error

// NewFilter compiles filter options.
func NewFilter(opts FilterOptions) (*Filter, error) {
	return internal.NewFilter(opts)
}

// DefaultFilter rejects hidden entries, Synology metadata directories and
// temporary files.
func DefaultFilter() *Filter {
	return internal.DefaultFilter()
}

// MaskOf converts kind names such as "created" or "renamed" to a mask.
func MaskOf(kinds []string) (Op, error) {
	return internal.MaskOf(kinds)
}

// WithLogger sets the logger of a Tree.
func WithLogger(logger *zap.Logger) Option {
	return internal.WithLogger(logger)
}

// NewBackend returns the inotify backend on Linux and the fsnotify backend
// elsewhere.
func NewBackend() (Backend, error) {
	if runtime.GOOS == "linux" {
		return internal.NewInotify()
	}
	return internal.NewFsnotify()
}

// Open installs watches for roots on backend.
func Open(backend Backend, roots []Root, opts ...Option) (*Tree, error) {
	return internal.Open(backend, roots, opts...)
}

// Watch watches roots on backend and calls handler for every event until ctx
// is done or handler fails. The backend is closed when Watch returns.
func Watch(ctx context.Context, backend Backend, roots []Root, handler Handler, opts ...Option) error {
	t, err := internal.Open(backend, roots, opts...)
	if err != nil {
		backend.Close()
		return err
	}

	stop := context.AfterFunc(ctx, func() { t.Close() })
	defer stop()
	defer t.Close()

	for {
		events, err := t.Read()
		for _, ev := range events {
			if herr := handler(ev); herr != nil {
				return herr
			}
		}
		if errors.Is(err, internal.ErrClosed) && ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
