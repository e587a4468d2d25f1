package benchstream

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// defaultFreshnessWindow bounds how long after its last event a job is
// still reported as active.
const defaultFreshnessWindow = 30 * time.Second

// BenchmarkStats is the accumulator for one (job, benchmark tag) pair.
// Counters only ever increase; config and meta are last-write-wins.
type BenchmarkStats struct {
	Tag string `json:"tag"`

	Start  uint64 `json:"start"`
	Data   uint64 `json:"data"`
	Stop   uint64 `json:"stop"`
	Error  uint64 `json:"error"`
	End    uint64 `json:"end"`
	Line   uint64 `json:"line"`
	Stdout uint64 `json:"stdout"`
	Stderr uint64 `json:"stderr"`

	Config json.RawMessage `json:"config,omitempty"`
	Meta   json.RawMessage `json:"meta,omitempty"`
}

// Progress is the fraction of started iterations that have ended,
// zero before anything started.
func (s *BenchmarkStats) Progress() float64 {
	if s.Start == 0 {
		return 0
	}

	return float64(s.End) / float64(s.Start)
}

// Complete reports whether every started iteration has ended.
func (s *BenchmarkStats) Complete() bool {
	return s.Start > 0 && s.End >= s.Start
}

// HasErrors reports whether any error event was observed.
func (s *BenchmarkStats) HasErrors() bool {
	return s.Error > 0
}

// JobSnapshot is a point-in-time copy of one job's accumulators,
// benchmarks listed in first-seen order.
type JobSnapshot struct {
	JobID        string           `json:"job_id"`
	LastActivity time.Time        `json:"last_activity"`
	Active       bool             `json:"active"`
	Benchmarks   []BenchmarkStats `json:"benchmarks"`
}

// Sink receives aggregator notifications. Implementations must not
// call back into the aggregator.
type Sink interface {
	// BenchmarkUpdated fires after every folded event with the owning
	// job's snapshot and the accumulator the event touched.
	BenchmarkUpdated(job JobSnapshot, touched BenchmarkStats)

	// RunMetaDiscovered fires once, on the first meta event seen
	// across the whole stream.
	RunMetaDiscovered(meta json.RawMessage)
}

type jobState struct {
	stats        map[string]*BenchmarkStats
	tagOrder     []string
	lastActivity time.Time
}

// Aggregator folds benchmark events into per-(job, tag) accumulators.
// Safe for concurrent use; folds for the same accumulator are
// serialized because config/meta overwrites do not commute.
type Aggregator struct {
	log  logrus.FieldLogger
	sink Sink

	mu       sync.Mutex
	jobs     map[string]*jobState
	jobOrder []string
	metaSeen bool

	freshness time.Duration
	now       func() time.Time
}

// New creates an aggregator. sink may be nil when no live consumer is
// attached yet.
func New(log logrus.FieldLogger, sink Sink) *Aggregator {
	return &Aggregator{
		log:       log.WithField("component", "benchstream"),
		sink:      sink,
		jobs:      make(map[string]*jobState),
		freshness: defaultFreshnessWindow,
		now:       time.Now,
	}
}

// Fold applies one event to the matching accumulator, creating it on
// first reference. Events with an unrecognized kind are dropped
// without touching any state, which keeps the aggregator forward
// compatible with new event kinds.
func (a *Aggregator) Fold(ev Event) {
	kind := ev.Data.Event

	switch kind {
	case EventConfig, EventMeta, EventStart, EventData,
		EventStop, EventLine, EventError, EventEnd:
	default:
		a.log.WithFields(logrus.Fields{
			"job":   ev.JobID,
			"event": string(kind),
		}).Debug("Ignoring unknown benchmark event kind")

		return
	}

	a.mu.Lock()

	job := a.jobs[ev.JobID]
	if job == nil {
		job = &jobState{stats: make(map[string]*BenchmarkStats)}
		a.jobs[ev.JobID] = job
		a.jobOrder = append(a.jobOrder, ev.JobID)
	}

	stats := job.stats[ev.Data.Tag]
	if stats == nil {
		stats = &BenchmarkStats{Tag: ev.Data.Tag}
		job.stats[ev.Data.Tag] = stats
		job.tagOrder = append(job.tagOrder, ev.Data.Tag)
	}

	job.lastActivity = a.now()

	var firstMeta bool

	switch kind {
	case EventConfig:
		stats.Config = ev.Data.Data
	case EventMeta:
		stats.Meta = ev.Data.Data
		firstMeta = !a.metaSeen
		a.metaSeen = true
	case EventStart:
		stats.Start++
	case EventData:
		stats.Data++
	case EventStop:
		stats.Stop++
	case EventLine:
		stats.Line++

		switch ev.Data.Pipe {
		case PipeStdout:
			stats.Stdout++
		case PipeStderr:
			stats.Stderr++
		}
	case EventError:
		stats.Error++
	case EventEnd:
		stats.End++
	}

	snapshot := a.snapshotLocked(ev.JobID, job)
	touched := *stats

	a.mu.Unlock()

	if a.sink != nil {
		if firstMeta {
			a.sink.RunMetaDiscovered(ev.Data.Data)
		}

		a.sink.BenchmarkUpdated(snapshot, touched)
	}
}

// Job returns a snapshot of one job's accumulators.
func (a *Aggregator) Job(jobID string) (JobSnapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	job, ok := a.jobs[jobID]
	if !ok {
		return JobSnapshot{}, false
	}

	return a.snapshotLocked(jobID, job), true
}

// Benchmark returns a copy of one accumulator.
func (a *Aggregator) Benchmark(jobID, tag string) (BenchmarkStats, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	job, ok := a.jobs[jobID]
	if !ok {
		return BenchmarkStats{}, false
	}

	stats, ok := job.stats[tag]
	if !ok {
		return BenchmarkStats{}, false
	}

	return *stats, true
}

// Jobs returns snapshots of every observed job in first-seen order.
func (a *Aggregator) Jobs() []JobSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]JobSnapshot, 0, len(a.jobOrder))
	for _, id := range a.jobOrder {
		out = append(out, a.snapshotLocked(id, a.jobs[id]))
	}

	return out
}

func (a *Aggregator) snapshotLocked(jobID string, job *jobState) JobSnapshot {
	snap := JobSnapshot{
		JobID:        jobID,
		LastActivity: job.lastActivity,
		Active:       a.now().Sub(job.lastActivity) < a.freshness,
		Benchmarks:   make([]BenchmarkStats, 0, len(job.tagOrder)),
	}

	for _, tag := range job.tagOrder {
		snap.Benchmarks = append(snap.Benchmarks, *job.stats[tag])
	}

	return snap
}
