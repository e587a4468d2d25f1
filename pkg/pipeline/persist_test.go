package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineMarshal_WireShape(t *testing.T) {
	p := &Pipeline{
		Name: "p1",
		Root: &Sequential{
			Name: "Main Sequence",
			Children: []Node{
				&Job{Script: "train.sh", Profile: "gpu-small"},
				&Job{Script: "eval.sh", Profile: "cpu"},
			},
		},
	}

	data, err := json.Marshal(p)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"type": "pipeline",
		"name": "p1",
		"definition": {
			"type": "sequential",
			"name": "Main Sequence",
			"jobs": [
				{"type": "job", "script": "train.sh", "profile": "gpu-small"},
				{"type": "job", "script": "eval.sh", "profile": "cpu"}
			]
		},
		"job_id": null
	}`, string(data))
}

func TestPipelineRoundTrip(t *testing.T) {
	jid := "jr-42"

	trees := map[string]*Pipeline{
		"single job": {
			Name: "solo",
			Root: &Sequential{Name: "Main Sequence", Children: []Node{
				&Job{Script: "run.sh", Profile: "cpu"},
			}},
		},
		"nested groups": {
			Name: "standard",
			Root: &Sequential{Name: "Main Sequence", Children: []Node{
				&Job{Script: "pin.sh", Profile: "pin"},
				&Job{Script: "install.sh", Profile: "install"},
				&Parallel{Name: "sweep", Children: []Node{
					&Job{Script: "run.sh", Profile: "A100"},
					&Job{Script: "run.sh", Profile: "H100"},
					&Sequential{Name: "post", Children: []Node{
						&Job{Script: "report.sh", Profile: "cpu"},
					}},
				}},
			}},
		},
		"dispatched": {
			Name:     "live",
			RunJobID: &jid,
			Root: &Sequential{Name: "Main Sequence", Children: []Node{
				&Job{Script: "run.sh", Profile: "cpu", RuntimeID: "j1", SlurmJobID: "991234"},
			}},
		},
		"empty groups": {
			Name: "hollow",
			Root: &Parallel{Name: "outer", Children: []Node{
				&Sequential{Name: "inner", Children: []Node{}},
			}},
		},
	}

	for name, p := range trees {
		t.Run(name, func(t *testing.T) {
			data, err := json.Marshal(p)
			require.NoError(t, err)

			var back Pipeline
			require.NoError(t, json.Unmarshal(data, &back))

			assert.Equal(t, p.Name, back.Name)
			assert.Equal(t, p.RunJobID, back.RunJobID)
			assert.True(t, Equal(p.Root, back.Root), "round-tripped tree differs")
		})
	}
}

func TestToPersisted_DropsRetainedChildren(t *testing.T) {
	seq := &Sequential{Name: "stages", Children: []Node{
		&Job{Script: "a.sh", Profile: "cpu"},
	}}

	asJob, err := Retype(seq, KindJob, staticCatalog{scripts: []string{"x.sh"}, profiles: []string{"cpu"}})
	require.NoError(t, err)

	doc := ToPersisted(asJob)

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"job","script":"x.sh","profile":"cpu"}`, string(data))
}

func TestMarshal_Idempotent(t *testing.T) {
	p := &Pipeline{
		Name: "p1",
		Root: &Sequential{Name: "Main Sequence", Children: []Node{
			&Job{Script: "train.sh", Profile: "gpu-small"},
		}},
	}

	first, err := json.Marshal(p)
	require.NoError(t, err)

	var back Pipeline
	require.NoError(t, json.Unmarshal(first, &back))

	second, err := json.Marshal(&back)
	require.NoError(t, err)

	assert.JSONEq(t, string(first), string(second))
}

func TestFromPersisted_UnknownType(t *testing.T) {
	var p Pipeline

	err := json.Unmarshal([]byte(`{
		"type": "pipeline",
		"name": "broken",
		"definition": {"type": "conditional", "name": "if", "jobs": []},
		"job_id": null
	}`), &p)
	require.ErrorIs(t, err, ErrMalformedPipeline)
}

func TestFromPersisted_MissingJobsList(t *testing.T) {
	var p Pipeline

	err := json.Unmarshal([]byte(`{
		"type": "pipeline",
		"name": "broken",
		"definition": {"type": "sequential", "name": "s"},
		"job_id": null
	}`), &p)
	require.ErrorIs(t, err, ErrMalformedPipeline)
}

func TestFromPersisted_DefaultsMissingGroupName(t *testing.T) {
	var p Pipeline

	require.NoError(t, json.Unmarshal([]byte(`{
		"type": "pipeline",
		"name": "p",
		"definition": {"type": "parallel", "jobs": []},
		"job_id": null
	}`), &p))

	assert.Equal(t, "Unnamed Parallel", p.Root.(*Parallel).Name)
}

func TestUnmarshal_WrongTopLevelType(t *testing.T) {
	var p Pipeline

	err := json.Unmarshal([]byte(`{"type":"job","script":"a.sh","profile":"cpu"}`), &p)
	require.ErrorIs(t, err, ErrMalformedPipeline)
}

func TestUnmarshal_MissingDefinition(t *testing.T) {
	var p Pipeline

	err := json.Unmarshal([]byte(`{"type":"pipeline","name":"p","job_id":null}`), &p)
	require.ErrorIs(t, err, ErrMalformedPipeline)
}
