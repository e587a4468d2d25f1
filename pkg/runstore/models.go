package runstore

import (
	"encoding/json"
	"time"
)

// PipelineRun is one indexed pipeline execution record. Runs are
// created by the external job runner; this row mirrors the run
// document it drops into storage.
type PipelineRun struct {
	ID       uint   `gorm:"primaryKey" json:"-"`
	RunID    string `gorm:"not null;uniqueIndex" json:"id"`
	Pipeline string `gorm:"index" json:"pipeline"`
	Status   string `json:"status"`

	// Terminal is derived from Status at upsert time and drives
	// re-indexing: non-terminal runs are scanned again.
	Terminal bool `gorm:"index" json:"terminal"`

	CreatedAt  int64 `json:"created_at"`
	FinishedAt int64 `json:"finished_at,omitempty"`

	// JobsJSON is the ordered list of per-job statuses serialized as
	// JSON, one entry per dispatched leaf job.
	JobsJSON string `gorm:"type:text" json:"-"`

	IndexedAt   time.Time  `json:"indexed_at"`
	ReindexedAt *time.Time `json:"reindexed_at,omitempty"`
}

// JobStatus is the per-job entry inside a run record.
type JobStatus struct {
	JobID      string `json:"job_id"`
	SlurmJobID string `json:"slurm_jobid,omitempty"`
	Script     string `json:"script"`
	Profile    string `json:"profile"`
	Status     string `json:"status"`
}

// Jobs decodes the serialized per-job status list.
func (r *PipelineRun) Jobs() ([]JobStatus, error) {
	if r.JobsJSON == "" {
		return nil, nil
	}

	var jobs []JobStatus
	if err := json.Unmarshal([]byte(r.JobsJSON), &jobs); err != nil {
		return nil, err
	}

	return jobs, nil
}

// SetJobs serializes the per-job status list.
func (r *PipelineRun) SetJobs(jobs []JobStatus) error {
	data, err := json.Marshal(jobs)
	if err != nil {
		return err
	}

	r.JobsJSON = string(data)

	return nil
}
