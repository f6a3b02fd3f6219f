package tree

import (
	"fmt"
	"strings"
)

// Op is a set of low-level event flags as reported by a Backend.
type Op uint32

// Low-level event flags. They mirror the inotify flags the tree cares about but
// are backend neutral.
const (
	OpCreate     Op = 1 << iota // entry created in the watched directory
	OpDelete                    // entry deleted from the watched directory
	OpCloseWrite                // file opened for writing was closed
	OpMovedFrom                 // entry renamed away from the watched directory
	OpMovedTo                   // entry renamed into the watched directory
	OpMoveSelf                  // the watched directory itself was moved
	OpDeleteSelf                // the watched directory itself was deleted
	OpIgnored                   // the watch was invalidated and will not report again
	OpIsDir                     // the subject of the event is a directory
	OpOverflow                  // the backend dropped events
)

// DefaultMask selects every kind of activity that maps to a public Kind.
const DefaultMask = OpCreate | OpDelete | OpCloseWrite | OpMovedFrom | OpMovedTo

// bookkeeping is always added to the registered mask; the tree cannot follow
// directory creation and renames without it.
const bookkeeping = OpCreate | OpMovedFrom | OpMovedTo

var opNames = []struct {
	op   Op
	name string
}{
	{OpCreate, "CREATE"},
	{OpDelete, "DELETE"},
	{OpCloseWrite, "CLOSE_WRITE"},
	{OpMovedFrom, "MOVED_FROM"},
	{OpMovedTo, "MOVED_TO"},
	{OpMoveSelf, "MOVE_SELF"},
	{OpDeleteSelf, "DELETE_SELF"},
	{OpIgnored, "IGNORED"},
	{OpIsDir, "ISDIR"},
	{OpOverflow, "Q_OVERFLOW"},
}

// Has reports whether o contains any of the flags in x.
func (o Op) Has(x Op) bool { return o&x != 0 }

func (o Op) String() string {
	var parts []string
	for _, n := range opNames {
		if o&n.op != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, "|")
}

// Kind is the public classification of an event.
type Kind int

const (
	Created Kind = iota + 1
	Removed
	ModifiedContent
	RenamedInto
	RenamedFrom
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Removed:
		return "removed"
	case ModifiedContent:
		return "modified"
	case RenamedInto:
		return "renamed-into"
	case RenamedFrom:
		return "renamed-from"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Op returns the low-level flag that produces k.
func (k Kind) Op() Op {
	switch k {
	case Created:
		return OpCreate
	case Removed:
		return OpDelete
	case ModifiedContent:
		return OpCloseWrite
	case RenamedInto:
		return OpMovedTo
	case RenamedFrom:
		return OpMovedFrom
	}
	return 0
}

// kindOf maps raw flags to a public kind. Creation wins over a close-write
// reported in the same event, matching the order the kernel produces them.
func kindOf(o Op) (Kind, bool) {
	switch {
	case o&OpCreate != 0:
		return Created, true
	case o&OpMovedTo != 0:
		return RenamedInto, true
	case o&OpCloseWrite != 0:
		return ModifiedContent, true
	case o&OpDelete != 0:
		return Removed, true
	case o&OpMovedFrom != 0:
		return RenamedFrom, true
	}
	return 0, false
}

// ParseKind parses a kind name as used in configuration files. "renamed"
// selects both rename directions.
func ParseKind(s string) (Op, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "created", "create":
		return OpCreate, nil
	case "removed", "remove", "delete", "deleted":
		return OpDelete, nil
	case "modified", "modify", "write":
		return OpCloseWrite, nil
	case "renamed-into", "moved-to":
		return OpMovedTo, nil
	case "renamed-from", "moved-from":
		return OpMovedFrom, nil
	case "renamed", "rename", "moved":
		return OpMovedFrom | OpMovedTo, nil
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// MaskOf builds a mask from kind names. An empty list selects DefaultMask.
func MaskOf(kinds []string) (Op, error) {
	if len(kinds) == 0 {
		return DefaultMask, nil
	}
	var mask Op
	for _, k := range kinds {
		op, err := ParseKind(k)
		if err != nil {
			return 0, err
		}
		mask |= op
	}
	return mask, nil
}

// RawEvent is a single event as produced by a Backend.
type RawEvent struct {
	Handle Handle
	Op     Op
	// Cookie correlates MovedFrom/MovedTo pairs. Zero when absent.
	Cookie uint32
	// Name is relative to the watched directory; empty for events about the
	// directory itself.
	Name string
}

func (e RawEvent) String() string {
	return fmt.Sprintf("wd=%d op=%s cookie=%d name=%q", e.Handle, e.Op, e.Cookie, e.Name)
}

// Event is a resolved, filtered event delivered to the caller.
type Event struct {
	Path  string
	IsDir bool
	Kind  Kind
}

func (e Event) String() string {
	if e.IsDir {
		return fmt.Sprintf("%s dir %s", e.Kind, e.Path)
	}
	return fmt.Sprintf("%s %s", e.Kind, e.Path)
}
