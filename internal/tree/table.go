package tree

import (
	"path/filepath"
	"sort"
	"strings"
)

// node is one watched directory. Parent and children are handles into the
// owning table, never pointers, so the table is the single owner of all nodes.
type node struct {
	handle   Handle
	name     string // full path for roots, entry name otherwise
	parent   Handle
	children map[string]Handle
	mask     Op
	filter   *Filter
}

// table mirrors the watched directory hierarchy, keyed by watch handle.
type table struct {
	nodes map[Handle]*node
}

func newTable() *table {
	return &table{nodes: make(map[Handle]*node)}
}

func (t *table) get(h Handle) (*node, bool) {
	n, ok := t.nodes[h]
	return n, ok
}

func (t *table) len() int { return len(t.nodes) }

// add creates a node and links it below parent. parent may be NoHandle.
func (t *table) add(h Handle, name string, parent Handle, mask Op, filter *Filter) *node {
	n := &node{
		handle:   h,
		name:     name,
		parent:   parent,
		children: make(map[string]Handle),
		mask:     mask,
		filter:   filter,
	}
	t.nodes[h] = n
	if p, ok := t.nodes[parent]; ok {
		p.children[name] = h
	}
	return n
}

// relink moves h below parent under name.
func (t *table) relink(h Handle, name string, parent Handle) {
	n, ok := t.nodes[h]
	if !ok {
		return
	}
	t.detach(h)
	n.name = name
	n.parent = parent
	if p, ok := t.nodes[parent]; ok {
		p.children[name] = h
	}
}

// detach removes h from its parent's children. The node keeps its parent
// handle so paths below it still resolve to where it used to be.
func (t *table) detach(h Handle) {
	n, ok := t.nodes[h]
	if !ok {
		return
	}
	if p, ok := t.nodes[n.parent]; ok && p.children[n.name] == h {
		delete(p.children, n.name)
	}
}

// drop deletes the entry for h.
func (t *table) drop(h Handle) {
	t.detach(h)
	delete(t.nodes, h)
}

// child returns the handle of the child directory name below h.
func (t *table) child(h Handle, name string) (Handle, bool) {
	n, ok := t.nodes[h]
	if !ok {
		return NoHandle, false
	}
	c, ok := n.children[name]
	if !ok {
		return NoHandle, false
	}
	if _, live := t.nodes[c]; !live {
		return NoHandle, false
	}
	return c, true
}

// path reconstructs the full path of h by walking up to its root. ok is false
// when h is unknown or its parent chain is broken; the returned path then
// holds whatever part could be resolved.
func (t *table) path(h Handle) (string, bool) {
	n, ok := t.nodes[h]
	if !ok {
		return "", false
	}
	parts := []string{n.name}
	for steps := 0; n.parent != NoHandle; steps++ {
		if steps > len(t.nodes) {
			// A cycle means the table is corrupt.
			return filepath.Join(reverse(parts)...), false
		}
		p, ok := t.nodes[n.parent]
		if !ok {
			return filepath.Join(reverse(parts)...), false
		}
		parts = append(parts, p.name)
		n = p
	}
	return filepath.Join(reverse(parts)...), true
}

// lookup finds the handle of the watched directory at path.
func (t *table) lookup(path string) (Handle, bool) {
	path = filepath.Clean(path)
	for h, n := range t.nodes {
		if n.parent != NoHandle {
			continue
		}
		root := filepath.Clean(n.name)
		if path == root {
			return h, true
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		cur := h
		found := true
		for _, part := range strings.Split(rel, string(filepath.Separator)) {
			next, ok := t.child(cur, part)
			if !ok {
				found = false
				break
			}
			cur = next
		}
		if found {
			return cur, true
		}
	}
	return NoHandle, false
}

// paths returns the full path of every resolvable node, sorted.
func (t *table) paths() []string {
	out := make([]string, 0, len(t.nodes))
	for h := range t.nodes {
		if p, ok := t.path(h); ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func reverse(parts []string) []string {
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return parts
}
