// Package pipeline implements the editable job-pipeline tree and its
// persisted wire form. A pipeline is a recursive composition of jobs
// into sequential or parallel groups, edited as an immutable tree and
// stored as a JSON document keyed by pipeline name.
package pipeline

import "fmt"

// Kind discriminates the three node variants. The values double as the
// wire discriminant in the persisted document.
type Kind string

const (
	KindJob        Kind = "job"
	KindSequential Kind = "sequential"
	KindParallel   Kind = "parallel"
)

// Node is one element of a pipeline tree: a Job leaf or a
// Sequential/Parallel group. The set of implementations is closed.
type Node interface {
	Kind() Kind

	// sealed prevents implementations outside this package so that
	// switches over the concrete types stay exhaustive.
	sealed()
}

// Compile-time variant checks.
var (
	_ Node = (*Job)(nil)
	_ Node = (*Sequential)(nil)
	_ Node = (*Parallel)(nil)
)

// Job is a leaf node: one schedulable unit referencing a script
// template and a resource profile.
type Job struct {
	Script  string
	Profile string

	// RuntimeID is assigned by the job runner once the pipeline has
	// been scheduled. Never set by the editor.
	RuntimeID string

	// SlurmJobID is the scheduler-side job identifier, set only after
	// dispatch. Never set by the editor.
	SlurmJobID string

	// prevChildren and prevName retain the shape of a group node that
	// was retyped into a Job, so retyping it back restores it. They
	// are editor-only state and never reach the persisted form.
	prevChildren []Node
	prevName     string
}

func (*Job) Kind() Kind { return KindJob }
func (*Job) sealed()    {}

// Sequential is a group whose children run one after another.
// Child order is execution order.
type Sequential struct {
	Name     string
	Children []Node
}

func (*Sequential) Kind() Kind { return KindSequential }
func (*Sequential) sealed()    {}

// Parallel is a group whose children run concurrently. Child order
// carries no execution meaning but is preserved for stable display.
type Parallel struct {
	Name     string
	Children []Node
}

func (*Parallel) Kind() Kind { return KindParallel }
func (*Parallel) sealed()    {}

// Pipeline wraps a named tree. Pipelines are identified by name for
// storage purposes.
type Pipeline struct {
	Name string
	Root Node

	// RunJobID is the job-runner identifier of the run this document
	// was dispatched as, nil for never-dispatched definitions.
	RunJobID *string
}

// children returns the child slice of a group node, or nil for a Job.
func children(n Node) []Node {
	switch g := n.(type) {
	case *Sequential:
		return g.Children
	case *Parallel:
		return g.Children
	case *Job:
		return nil
	}

	return nil
}

// withChildren returns a copy of a group node carrying the given child
// slice. Calling it on a Job is a programming error.
func withChildren(n Node, cs []Node) Node {
	switch g := n.(type) {
	case *Sequential:
		c := *g
		c.Children = cs

		return &c
	case *Parallel:
		c := *g
		c.Children = cs

		return &c
	}

	panic(fmt.Sprintf("withChildren on %T", n))
}

// Equal reports semantic equality of two trees: same variant, same
// fields, and recursively equal children. Editor-only state (retained
// children of retyped nodes) is ignored.
func Equal(a, b Node) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	switch an := a.(type) {
	case *Job:
		bn, ok := b.(*Job)

		return ok &&
			an.Script == bn.Script &&
			an.Profile == bn.Profile &&
			an.RuntimeID == bn.RuntimeID &&
			an.SlurmJobID == bn.SlurmJobID
	case *Sequential:
		bn, ok := b.(*Sequential)

		return ok && an.Name == bn.Name && equalChildren(an.Children, bn.Children)
	case *Parallel:
		bn, ok := b.(*Parallel)

		return ok && an.Name == bn.Name && equalChildren(an.Children, bn.Children)
	}

	return false
}

func equalChildren(a, b []Node) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}

	return true
}
