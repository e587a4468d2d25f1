package pipeline

import "fmt"

// Catalog supplies the script templates and resource profiles a new
// Job node can default to. Implementations come from outside the
// model, typically the server configuration.
type Catalog interface {
	Scripts() []string
	Profiles() []string
}

// Field names a mutable scalar attribute of a node for SetField.
type Field string

const (
	FieldName    Field = "name"
	FieldScript  Field = "script"
	FieldProfile Field = "profile"
)

// All structural operations are pure: they return a new node and leave
// every input untouched, so a failed edit never leaves a partially
// mutated tree and callers can keep old roots for undo.

// InsertChild returns a copy of parent with child appended. Fails with
// ErrInvalidOperation when parent is a Job leaf.
func InsertChild(parent, child Node) (Node, error) {
	cs := children(parent)
	if parent.Kind() == KindJob {
		return nil, fmt.Errorf("insert child under %s node: %w", parent.Kind(), ErrInvalidOperation)
	}

	next := make([]Node, 0, len(cs)+1)
	next = append(next, cs...)
	next = append(next, child)

	return withChildren(parent, next), nil
}

// ReplaceChildAt returns a copy of parent with the child at index
// replaced. Fails with ErrIndexOutOfRange when index is not within
// the current child list, and with ErrInvalidOperation on a Job.
func ReplaceChildAt(parent Node, index int, child Node) (Node, error) {
	cs := children(parent)
	if parent.Kind() == KindJob {
		return nil, fmt.Errorf("replace child under %s node: %w", parent.Kind(), ErrInvalidOperation)
	}

	if index < 0 || index >= len(cs) {
		return nil, fmt.Errorf("replace child %d of %d: %w", index, len(cs), ErrIndexOutOfRange)
	}

	next := make([]Node, len(cs))
	copy(next, cs)
	next[index] = child

	return withChildren(parent, next), nil
}

// DeleteChildAt returns a copy of parent with the child at index
// removed. Same failure modes as ReplaceChildAt.
func DeleteChildAt(parent Node, index int) (Node, error) {
	cs := children(parent)
	if parent.Kind() == KindJob {
		return nil, fmt.Errorf("delete child under %s node: %w", parent.Kind(), ErrInvalidOperation)
	}

	if index < 0 || index >= len(cs) {
		return nil, fmt.Errorf("delete child %d of %d: %w", index, len(cs), ErrIndexOutOfRange)
	}

	next := make([]Node, 0, len(cs)-1)
	next = append(next, cs[:index]...)
	next = append(next, cs[index+1:]...)

	return withChildren(parent, next), nil
}

// SetField returns a shallow copy of n with one scalar field updated.
// Fails with ErrInvalidOperation when the field does not exist on the
// node's kind (script/profile are Job-only, name is group-only).
func SetField(n Node, field Field, value string) (Node, error) {
	switch t := n.(type) {
	case *Job:
		c := *t

		switch field {
		case FieldScript:
			c.Script = value
		case FieldProfile:
			c.Profile = value
		default:
			return nil, fmt.Errorf("set %q on job node: %w", field, ErrInvalidOperation)
		}

		return &c, nil
	case *Sequential:
		if field != FieldName {
			return nil, fmt.Errorf("set %q on sequential node: %w", field, ErrInvalidOperation)
		}

		c := *t
		c.Name = value

		return &c, nil
	case *Parallel:
		if field != FieldName {
			return nil, fmt.Errorf("set %q on parallel node: %w", field, ErrInvalidOperation)
		}

		c := *t
		c.Name = value

		return &c, nil
	}

	return nil, fmt.Errorf("set %q: %w", field, ErrInvalidOperation)
}

// Retype returns a node of the requested kind derived from n.
//
// Group-to-group conversion carries name and children over verbatim,
// so flipping a group between sequential and parallel is lossless.
// Converting a group to a Job stashes the group's children on the new
// leaf; converting that Job back to a group restores them. A brand-new
// Job takes the first script and profile from the catalog, or empty
// strings when the catalog has none.
func Retype(n Node, kind Kind, cat Catalog) (Node, error) {
	if n.Kind() == kind {
		return n, nil
	}

	switch kind {
	case KindJob:
		j := &Job{prevChildren: children(n), prevName: groupName(n)}
		j.Script, j.Profile = defaultJob(cat)

		return j, nil
	case KindSequential, KindParallel:
		name := groupName(n)

		cs := children(n)
		if j, ok := n.(*Job); ok {
			cs = j.prevChildren
			name = j.prevName
		}

		if name == "" {
			name = "New " + titleKind(kind)
		}

		if cs == nil {
			cs = []Node{}
		}

		if kind == KindSequential {
			return &Sequential{Name: name, Children: cs}, nil
		}

		return &Parallel{Name: name, Children: cs}, nil
	}

	return nil, fmt.Errorf("retype to %q: %w", kind, ErrInvalidOperation)
}

func defaultJob(cat Catalog) (script, profile string) {
	if cat == nil {
		return "", ""
	}

	if s := cat.Scripts(); len(s) > 0 {
		script = s[0]
	}

	if p := cat.Profiles(); len(p) > 0 {
		profile = p[0]
	}

	return script, profile
}

func groupName(n Node) string {
	switch g := n.(type) {
	case *Sequential:
		return g.Name
	case *Parallel:
		return g.Name
	}

	return ""
}

func titleKind(k Kind) string {
	switch k {
	case KindSequential:
		return "Sequential"
	case KindParallel:
		return "Parallel"
	case KindJob:
		return "Job"
	}

	return string(k)
}
