// Package index turns tree events into media index updates. By default every
// change is handed to Synology's synoindex tool.
package index

import (
	"fmt"

	"github.com/TFMV/synowatch/internal/tree"
)

// Arguments understood by synoindex.
const (
	ArgAddDir     = "-A"
	ArgAddFile    = "-a"
	ArgRemoveDir  = "-D"
	ArgRemoveFile = "-d"
)

// Action is one index update.
type Action struct {
	Arg   string
	Path  string
	IsDir bool
	Kind  tree.Kind
}

func (a Action) String() string {
	return fmt.Sprintf("%s %s", a.Arg, a.Path)
}

// ActionFor maps an event to its index update.
func ActionFor(ev tree.Event) (Action, bool) {
	a := Action{Path: ev.Path, IsDir: ev.IsDir, Kind: ev.Kind}
	switch ev.Kind {
	case tree.Created, tree.RenamedInto:
		a.Arg = ArgAddFile
		if ev.IsDir {
			a.Arg = ArgAddDir
		}
	case tree.Removed, tree.RenamedFrom:
		a.Arg = ArgRemoveFile
		if ev.IsDir {
			a.Arg = ArgRemoveDir
		}
	case tree.ModifiedContent:
		a.Arg = ArgAddFile
	default:
		return Action{}, false
	}
	return a, true
}

// Plan maps a batch of events to index updates. A file that is added and
// then written within the batch is indexed once, by the later update, and
// repeated identical updates are dropped.
func Plan(events []tree.Event) []Action {
	var out []Action
	last := make(map[string]int)
	for _, ev := range events {
		a, ok := ActionFor(ev)
		if !ok {
			continue
		}
		if i, seen := last[a.Path]; seen && !a.IsDir && a.Arg == ArgAddFile && out[i].Arg == ArgAddFile {
			out[i].Arg = "" // superseded
		}
		if n := len(out); n > 0 && out[n-1] == a {
			continue
		}
		last[a.Path] = len(out)
		out = append(out, a)
	}

	planned := out[:0]
	for _, a := range out {
		if a.Arg != "" {
			planned = append(planned, a)
		}
	}
	return planned
}
