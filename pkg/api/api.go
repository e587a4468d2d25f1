// Package api exposes the jobrunnerd HTTP API: pipeline documents,
// indexed runs, live job status, streamed benchmark counters, and the
// event ingest endpoint the job runner posts to.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/milaops/jobrunner/pkg/benchstream"
	"github.com/milaops/jobrunner/pkg/config"
	"github.com/milaops/jobrunner/pkg/indexer"
	"github.com/milaops/jobrunner/pkg/jobstatus"
	"github.com/milaops/jobrunner/pkg/runstore"
	"github.com/milaops/jobrunner/pkg/scheduler"
	"github.com/milaops/jobrunner/pkg/storage"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.Config
	store      storage.Store
	runs       runstore.Store
	indexer    indexer.Indexer
	aggregator *benchstream.Aggregator
	fetcher    jobstatus.Fetcher
	httpServer *http.Server

	trackerCtx    context.Context
	trackerCancel context.CancelFunc
	trackersMu    sync.Mutex
	trackers      map[string]*jobstatus.Tracker

	wg   sync.WaitGroup
	done chan struct{}
}

// NewServer creates a new API server.
func NewServer(log logrus.FieldLogger, cfg *config.Config) Server {
	return &server{
		log:      log.WithField("component", "api"),
		cfg:      cfg,
		trackers: make(map[string]*jobstatus.Tracker),
		done:     make(chan struct{}),
	}
}

// Start initializes storage, the run store, the aggregator, and the
// background indexer, then starts the HTTP server.
func (s *server) Start(ctx context.Context) error {
	store, err := storage.New(&s.cfg.Storage)
	if err != nil {
		return fmt.Errorf("creating storage: %w", err)
	}

	s.store = store

	s.runs = runstore.NewStore(s.log, &s.cfg.Database)
	if err := s.runs.Start(ctx); err != nil {
		return fmt.Errorf("starting run store: %w", err)
	}

	s.aggregator = benchstream.New(s.log, s)

	if s.cfg.Scheduler.BaseURL != "" {
		s.fetcher = scheduler.NewClient(s.log, s.cfg.Scheduler.BaseURL)
	}

	// Trackers are created lazily per job; they outlive individual
	// requests, so they run on a server-scoped context.
	s.trackerCtx, s.trackerCancel = context.WithCancel(context.Background())

	// Prepare the indexer before building the router, but do NOT start
	// it yet: the HTTP server must be listening first.
	if s.cfg.Indexing.Enabled {
		s.indexer = indexer.NewIndexer(
			s.log,
			s.runs,
			s.store,
			s.cfg.Indexing.IntervalDuration(),
			s.cfg.Indexing.Concurrency,
		)
	}

	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Server.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	// Start the background indexer AFTER the API is listening so that
	// the server is reachable while the first (potentially slow) pass
	// runs.
	if s.indexer != nil {
		if err := s.indexer.Start(ctx); err != nil {
			return fmt.Errorf("starting indexer: %w", err)
		}
	}

	return nil
}

// Stop gracefully shuts down the HTTP server, stops all job trackers,
// and closes the backing services.
func (s *server) Stop() error {
	close(s.done)

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.trackerCancel != nil {
		s.trackerCancel()
	}

	s.trackersMu.Lock()
	trackers := make([]*jobstatus.Tracker, 0, len(s.trackers))

	for _, tr := range s.trackers {
		trackers = append(trackers, tr)
	}
	s.trackersMu.Unlock()

	for _, tr := range trackers {
		tr.Stop()
	}

	if s.indexer != nil {
		if err := s.indexer.Stop(); err != nil {
			s.log.WithError(err).Warn("Indexer stop error")
		}
	}

	if s.runs != nil {
		if err := s.runs.Stop(); err != nil {
			return fmt.Errorf("stopping run store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}

// trackerFor returns the status tracker for a job, creating and
// starting one on first use.
func (s *server) trackerFor(jobID string) *jobstatus.Tracker {
	s.trackersMu.Lock()
	defer s.trackersMu.Unlock()

	if tr, ok := s.trackers[jobID]; ok {
		return tr
	}

	tr := jobstatus.NewTracker(
		s.log,
		s.fetcher,
		s,
		jobID,
		s.cfg.Scheduler.PollPeriodDuration(),
		s.cfg.Scheduler.FinalRefreshDelayDuration(),
	)

	s.trackers[jobID] = tr
	tr.Start(s.trackerCtx)

	return tr
}

// BenchmarkUpdated implements benchstream.Sink.
func (s *server) BenchmarkUpdated(job benchstream.JobSnapshot, stats benchstream.BenchmarkStats) {
	s.log.WithField("job", job.JobID).
		WithField("tag", stats.Tag).
		WithField("end", stats.End).
		Debug("Benchmark updated")
}

// RunMetaDiscovered implements benchstream.Sink. The aggregator calls
// it at most once, on the first meta event of the stream.
func (s *server) RunMetaDiscovered(meta json.RawMessage) {
	s.log.WithField("bytes", len(meta)).Info("Run metadata discovered")
}

// StatusUpdated implements jobstatus.Listener.
func (s *server) StatusUpdated(update jobstatus.Update) {
	entry := s.log.WithField("job", update.JobID).
		WithField("status", update.Status)

	if update.FetchErr != nil {
		entry.WithError(update.FetchErr).Warn("Job status fetch failed")

		return
	}

	entry.Debug("Job status updated")
}

// FinalRefresh implements jobstatus.Listener. A job just reached a
// terminal status, so its run document is about to stop changing;
// trigger an immediate indexing pass to pick up the final state.
func (s *server) FinalRefresh(jobID string) {
	s.log.WithField("job", jobID).Info("Job finished, refreshing index")

	if s.indexer != nil {
		s.indexer.RefreshNow()
	}
}
