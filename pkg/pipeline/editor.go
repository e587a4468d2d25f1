package pipeline

import "fmt"

// Path addresses a node in the tree as the sequence of child indexes
// from the root. The empty path is the root itself.
type Path []int

// Editor owns one pipeline tree across an editing session. Every edit
// rebuilds only the root-to-target path and snapshots the previous
// root for undo; a failed edit leaves the current tree untouched.
//
// The editor exposes no root deletion: the root group is replaced only
// by loading another document via Reset.
type Editor struct {
	root    Node
	catalog Catalog
	undo    []Node
	redo    []Node
}

// NewEditor starts an editing session. A nil root begins with an empty
// sequential group, the default shape for a fresh pipeline.
func NewEditor(root Node, cat Catalog) *Editor {
	if root == nil {
		root = &Sequential{Name: "Main Sequence", Children: []Node{}}
	}

	return &Editor{root: root, catalog: cat}
}

// Root returns the current tree. Callers must treat it as immutable.
func (e *Editor) Root() Node { return e.root }

// Reset replaces the tree with a freshly loaded one and clears the
// edit history.
func (e *Editor) Reset(root Node) {
	e.root = root
	e.undo = nil
	e.redo = nil
}

// InsertChild appends child under the group at path.
func (e *Editor) InsertChild(path Path, child Node) error {
	return e.apply(path, func(n Node) (Node, error) {
		return InsertChild(n, child)
	})
}

// ReplaceChildAt swaps the index-th child of the group at path.
func (e *Editor) ReplaceChildAt(path Path, index int, child Node) error {
	return e.apply(path, func(n Node) (Node, error) {
		return ReplaceChildAt(n, index, child)
	})
}

// DeleteChildAt removes the index-th child of the group at path.
func (e *Editor) DeleteChildAt(path Path, index int) error {
	return e.apply(path, func(n Node) (Node, error) {
		return DeleteChildAt(n, index)
	})
}

// SetField updates one scalar field of the node at path.
func (e *Editor) SetField(path Path, field Field, value string) error {
	return e.apply(path, func(n Node) (Node, error) {
		return SetField(n, field, value)
	})
}

// Retype switches the node at path to another kind. Children of a
// group retyped to a Job are retained out-of-band and restored when
// the node is retyped back to a group.
func (e *Editor) Retype(path Path, kind Kind) error {
	return e.apply(path, func(n Node) (Node, error) {
		return Retype(n, kind, e.catalog)
	})
}

// Undo restores the tree from before the most recent edit. Returns
// false when there is nothing to undo.
func (e *Editor) Undo() bool {
	if len(e.undo) == 0 {
		return false
	}

	e.redo = append(e.redo, e.root)
	e.root = e.undo[len(e.undo)-1]
	e.undo = e.undo[:len(e.undo)-1]

	return true
}

// Redo reapplies the most recently undone edit.
func (e *Editor) Redo() bool {
	if len(e.redo) == 0 {
		return false
	}

	e.undo = append(e.undo, e.root)
	e.root = e.redo[len(e.redo)-1]
	e.redo = e.redo[:len(e.redo)-1]

	return true
}

// NodeAt resolves the node at path in the current tree.
func (e *Editor) NodeAt(path Path) (Node, error) {
	return nodeAt(e.root, path)
}

func (e *Editor) apply(path Path, edit func(Node) (Node, error)) error {
	next, err := updateAt(e.root, path, edit)
	if err != nil {
		return err
	}

	e.undo = append(e.undo, e.root)
	e.redo = nil
	e.root = next

	return nil
}

func nodeAt(n Node, path Path) (Node, error) {
	for depth, i := range path {
		cs := children(n)
		if i < 0 || i >= len(cs) {
			return nil, fmt.Errorf("path step %d (index %d): %w", depth, i, ErrIndexOutOfRange)
		}

		n = cs[i]
	}

	return n, nil
}

// updateAt rebuilds the path from n down to the target, applying edit
// to the target node. Untouched siblings are shared between the old
// and new trees.
func updateAt(n Node, path Path, edit func(Node) (Node, error)) (Node, error) {
	if len(path) == 0 {
		return edit(n)
	}

	i := path[0]

	cs := children(n)
	if n.Kind() == KindJob {
		return nil, fmt.Errorf("descend into job node: %w", ErrInvalidOperation)
	}

	if i < 0 || i >= len(cs) {
		return nil, fmt.Errorf("path index %d of %d children: %w", i, len(cs), ErrIndexOutOfRange)
	}

	updated, err := updateAt(cs[i], path[1:], edit)
	if err != nil {
		return nil, err
	}

	next := make([]Node, len(cs))
	copy(next, cs)
	next[i] = updated

	return withChildren(n, next), nil
}
