package pipeline

import (
	"encoding/json"
	"fmt"
)

// DocumentNode is the persisted wire form of a single tree node. The
// shape is a contract with the job runner backend:
//
//	{"type":"job","script":...,"profile":...}
//	{"type":"sequential","name":...,"jobs":[...]}
//	{"type":"parallel","name":...,"jobs":[...]}
//
// Job nodes additionally carry job_id/slurm_jobid once dispatched.
type DocumentNode struct {
	Type    string
	Script  string
	Profile string
	JobID   string
	SlurmID string
	Name    string

	// Jobs is nil for job nodes and for documents that omitted the
	// child list; group documents always carry it, possibly empty.
	Jobs []DocumentNode

	// hasJobs distinguishes an absent "jobs" key from an empty list
	// when decoding, so validation can reject the former.
	hasJobs bool
}

type jobDoc struct {
	Type    string `json:"type"`
	Script  string `json:"script"`
	Profile string `json:"profile"`
	JobID   string `json:"job_id,omitempty"`
	SlurmID string `json:"slurm_jobid,omitempty"`
}

type groupDoc struct {
	Type string         `json:"type"`
	Name string         `json:"name"`
	Jobs []DocumentNode `json:"jobs"`
}

// MarshalJSON emits the variant-specific wire shape. Group nodes
// always include their "jobs" key, even when empty.
func (d DocumentNode) MarshalJSON() ([]byte, error) {
	if d.Type == string(KindJob) {
		return json.Marshal(jobDoc{
			Type:    d.Type,
			Script:  d.Script,
			Profile: d.Profile,
			JobID:   d.JobID,
			SlurmID: d.SlurmID,
		})
	}

	jobs := d.Jobs
	if jobs == nil {
		jobs = []DocumentNode{}
	}

	return json.Marshal(groupDoc{Type: d.Type, Name: d.Name, Jobs: jobs})
}

// UnmarshalJSON decodes loosely: unknown discriminants and missing
// child lists survive decoding and are rejected by FromPersisted, so a
// load failure reports the malformed node rather than a JSON error.
func (d *DocumentNode) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type    string          `json:"type"`
		Script  string          `json:"script"`
		Profile string          `json:"profile"`
		JobID   string          `json:"job_id"`
		SlurmID string          `json:"slurm_jobid"`
		Name    string          `json:"name"`
		Jobs    *[]DocumentNode `json:"jobs"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	d.Type = raw.Type
	d.Script = raw.Script
	d.Profile = raw.Profile
	d.JobID = raw.JobID
	d.SlurmID = raw.SlurmID
	d.Name = raw.Name

	if raw.Jobs != nil {
		d.hasJobs = true

		d.Jobs = *raw.Jobs
		if d.Jobs == nil {
			d.Jobs = []DocumentNode{}
		}
	}

	return nil
}

// ToPersisted converts an editable tree into its persisted document
// form. Editor-only state (children retained on a retyped Job) is
// dropped; the conversion shares nothing with the input tree.
func ToPersisted(n Node) DocumentNode {
	switch t := n.(type) {
	case *Job:
		return DocumentNode{
			Type:    string(KindJob),
			Script:  t.Script,
			Profile: t.Profile,
			JobID:   t.RuntimeID,
			SlurmID: t.SlurmJobID,
		}
	case *Sequential:
		return DocumentNode{
			Type:    string(KindSequential),
			Name:    t.Name,
			Jobs:    persistChildren(t.Children),
			hasJobs: true,
		}
	case *Parallel:
		return DocumentNode{
			Type:    string(KindParallel),
			Name:    t.Name,
			Jobs:    persistChildren(t.Children),
			hasJobs: true,
		}
	}

	panic(fmt.Sprintf("ToPersisted: unknown node %T", n))
}

func persistChildren(cs []Node) []DocumentNode {
	out := make([]DocumentNode, len(cs))
	for i, c := range cs {
		out[i] = ToPersisted(c)
	}

	return out
}

// FromPersisted reconstructs the editable tree from a persisted
// document. The whole load fails with ErrMalformedPipeline when any
// node has an unknown discriminant or a group node lacks its child
// list; no partially built tree is returned. A group with a missing
// name gets an "Unnamed <kind>" placeholder.
func FromPersisted(d DocumentNode) (Node, error) {
	switch Kind(d.Type) {
	case KindJob:
		return &Job{
			Script:     d.Script,
			Profile:    d.Profile,
			RuntimeID:  d.JobID,
			SlurmJobID: d.SlurmID,
		}, nil
	case KindSequential, KindParallel:
		if !d.hasJobs && d.Jobs == nil {
			return nil, fmt.Errorf("%s node %q missing jobs list: %w", d.Type, d.Name, ErrMalformedPipeline)
		}

		cs := make([]Node, len(d.Jobs))

		for i, cd := range d.Jobs {
			c, err := FromPersisted(cd)
			if err != nil {
				return nil, err
			}

			cs[i] = c
		}

		name := d.Name
		if name == "" {
			name = "Unnamed " + titleKind(Kind(d.Type))
		}

		if Kind(d.Type) == KindSequential {
			return &Sequential{Name: name, Children: cs}, nil
		}

		return &Parallel{Name: name, Children: cs}, nil
	}

	return nil, fmt.Errorf("unknown node type %q: %w", d.Type, ErrMalformedPipeline)
}

type pipelineDoc struct {
	Type       string        `json:"type"`
	Name       string        `json:"name"`
	Definition *DocumentNode `json:"definition"`
	JobID      *string       `json:"job_id"`
}

// MarshalJSON emits the full persisted pipeline document:
// {"type":"pipeline","name":...,"definition":...,"job_id":...}.
// job_id is an explicit null for never-dispatched pipelines.
func (p *Pipeline) MarshalJSON() ([]byte, error) {
	doc := ToPersisted(p.Root)

	return json.Marshal(pipelineDoc{
		Type:       "pipeline",
		Name:       p.Name,
		Definition: &doc,
		JobID:      p.RunJobID,
	})
}

// UnmarshalJSON loads a persisted pipeline document, rejecting the
// whole document with ErrMalformedPipeline on a wrong top-level type
// or a missing definition.
func (p *Pipeline) UnmarshalJSON(data []byte) error {
	var doc pipelineDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	if doc.Type != "pipeline" {
		return fmt.Errorf("document type %q is not a pipeline: %w", doc.Type, ErrMalformedPipeline)
	}

	if doc.Definition == nil {
		return fmt.Errorf("pipeline %q has no definition: %w", doc.Name, ErrMalformedPipeline)
	}

	root, err := FromPersisted(*doc.Definition)
	if err != nil {
		return err
	}

	p.Name = doc.Name
	p.Root = root
	p.RunJobID = doc.JobID

	return nil
}
