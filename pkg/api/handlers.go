package api

import (
	"bufio"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/milaops/jobrunner/pkg/benchstream"
	"github.com/milaops/jobrunner/pkg/jobstatus"
	"github.com/milaops/jobrunner/pkg/pipeline"
	"github.com/milaops/jobrunner/pkg/runstore"
)

const (
	// maxPipelineBytes bounds the size of an uploaded pipeline document.
	maxPipelineBytes = 1 << 20

	// maxEventLineBytes bounds a single NDJSON event line.
	maxEventLineBytes = 1 << 20
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSystem returns host-level resource information for the
// dashboard's system panel.
func (s *server) handleSystem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := map[string]any{
		"go_version": runtime.Version(),
		"num_cpu":    runtime.NumCPU(),
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		resp["hostname"] = info.Hostname
		resp["os"] = info.OS
		resp["platform"] = info.Platform
		resp["uptime_seconds"] = info.Uptime
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		resp["memory"] = map[string]any{
			"total":        vm.Total,
			"available":    vm.Available,
			"used_percent": vm.UsedPercent,
		}
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		resp["load"] = map[string]any{
			"load1":  avg.Load1,
			"load5":  avg.Load5,
			"load15": avg.Load15,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCatalog returns the script templates and resource profiles the
// pipeline editor offers for new job nodes.
func (s *server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	scripts := s.cfg.Catalog.Scripts
	if scripts == nil {
		scripts = []string{}
	}

	profiles := s.cfg.Catalog.Profiles
	if profiles == nil {
		profiles = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"scripts":  scripts,
		"profiles": profiles,
	})
}

// --- Pipeline handlers ---

// handleListPipelines returns the names of all stored pipelines.
func (s *server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.ListPipelines(r.Context())
	if err != nil {
		s.log.WithError(err).Warn("Failed to list pipelines")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing pipelines"})

		return
	}

	if names == nil {
		names = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"pipelines": names})
}

// handleGetPipeline returns one stored pipeline document verbatim.
func (s *server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	data, err := s.store.GetPipeline(r.Context(), name)
	if err != nil {
		s.log.WithError(err).WithField("pipeline", name).
			Warn("Failed to read pipeline")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"reading pipeline"})

		return
	}

	if data == nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"pipeline not found"})

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handlePutPipeline validates and stores a pipeline document. The
// document is decoded and re-encoded so only well-formed pipelines are
// persisted, in canonical shape.
func (s *server) handlePutPipeline(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var p pipeline.Pipeline
	if err := json.NewDecoder(
		http.MaxBytesReader(w, r.Body, maxPipelineBytes),
	).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"malformed pipeline: " + err.Error()})

		return
	}

	// The URL is authoritative for the name.
	p.Name = name

	data, err := json.Marshal(&p)
	if err != nil {
		s.log.WithError(err).WithField("pipeline", name).
			Warn("Failed to encode pipeline")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"encoding pipeline"})

		return
	}

	if err := s.store.PutPipeline(r.Context(), name, data); err != nil {
		s.log.WithError(err).WithField("pipeline", name).
			Warn("Failed to store pipeline")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"storing pipeline"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"name": name})
}

// handleDeletePipeline removes a stored pipeline document. Deleting a
// missing pipeline succeeds.
func (s *server) handleDeletePipeline(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := s.store.DeletePipeline(r.Context(), name); err != nil {
		s.log.WithError(err).WithField("pipeline", name).
			Warn("Failed to delete pipeline")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"deleting pipeline"})

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Run handlers ---

// runResponse is an indexed run with its job statuses decoded.
type runResponse struct {
	runstore.PipelineRun
	Jobs []runstore.JobStatus `json:"jobs"`
}

func newRunResponse(run runstore.PipelineRun) runResponse {
	jobs, err := run.Jobs()
	if err != nil || jobs == nil {
		jobs = []runstore.JobStatus{}
	}

	return runResponse{PipelineRun: run, Jobs: jobs}
}

// handleListRuns returns indexed runs, optionally filtered by
// pipeline name via the "pipeline" query parameter.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	var (
		runs []runstore.PipelineRun
		err  error
	)

	if p := r.URL.Query().Get("pipeline"); p != "" {
		runs, err = s.runs.ListRunsForPipeline(r.Context(), p)
	} else {
		runs, err = s.runs.ListRuns(r.Context())
	}

	if err != nil {
		s.log.WithError(err).Warn("Failed to list runs")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing runs"})

		return
	}

	resp := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, newRunResponse(run))
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": resp})
}

// handleGetRun returns one indexed run by its run ID.
func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.runs.GetRun(r.Context(), id)
	if err != nil {
		s.log.WithError(err).WithField("run_id", id).
			Warn("Failed to read run")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"reading run"})

		return
	}

	if run == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{"run not found"})

		return
	}

	writeJSON(w, http.StatusOK, newRunResponse(*run))
}

// --- Job handlers ---

// handleListJobs returns a snapshot of every job seen on the event
// stream.
func (s *server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs": s.aggregator.Jobs(),
	})
}

// statusResponse is the live scheduler status of one tracked job.
type statusResponse struct {
	jobstatus.Update

	// NextPollSeconds counts down to the next scheduler fetch; zero
	// once the job is terminal.
	NextPollSeconds float64 `json:"next_poll_seconds"`
}

// handleJobStatus returns the tracked scheduler status for a job,
// starting a tracker on first request.
func (s *server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if s.fetcher == nil {
		writeJSON(w, http.StatusServiceUnavailable,
			errorResponse{"scheduler is not configured"})

		return
	}

	id := chi.URLParam(r, "id")
	tr := s.trackerFor(id)

	update := tr.LastUpdate()
	if update.JobID == "" {
		// The tracker was just created and has not completed its first
		// poll yet.
		update = jobstatus.Update{
			JobID:   id,
			Status:  "UNKNOWN",
			State:   jobstatus.StateUnknown,
			Elapsed: "Unknown",
		}
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Update:          update,
		NextPollSeconds: tr.Countdown().Round(time.Second).Seconds(),
	})
}

// handleJobBenchmarks returns all benchmark accumulators for a job.
func (s *server) handleJobBenchmarks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, ok := s.aggregator.Job(id)
	if !ok {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"no benchmark data for job"})

		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// handleJobBenchmark returns the accumulator for one benchmark tag.
func (s *server) handleJobBenchmark(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tag := chi.URLParam(r, "tag")

	stats, ok := s.aggregator.Benchmark(id, tag)
	if !ok {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"no benchmark data for tag"})

		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// --- Event ingest ---

// handleEvents ingests a batch of benchmark events posted by the job
// runner as newline-delimited JSON. Undecodable lines are counted and
// skipped; the rest of the batch is still folded.
func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 64*1024), maxEventLineBytes)

	var accepted, rejected int

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		ev, err := benchstream.ParseEvent(line)
		if err != nil || ev.JobID == "" {
			rejected++

			continue
		}

		s.aggregator.Fold(ev)
		accepted++
	}

	if err := scanner.Err(); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"reading event stream: " + err.Error()})

		return
	}

	if rejected > 0 {
		s.log.WithField("rejected", rejected).
			Warn("Dropped undecodable benchmark events")
	}

	writeJSON(w, http.StatusAccepted, map[string]int{
		"accepted": accepted,
		"rejected": rejected,
	})
}
