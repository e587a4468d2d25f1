// Package indexer is a background service that periodically scans
// storage for run documents dropped off by the external job runner
// and upserts them into the run store.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/milaops/jobrunner/pkg/runstore"
	"github.com/milaops/jobrunner/pkg/storage"
)

const (
	// runFileName is the run document the job runner writes into each
	// run directory.
	runFileName = "run.json"

	// defaultConcurrency is the number of runs indexed in parallel
	// when no explicit concurrency value is configured.
	defaultConcurrency = 4
)

// Indexer scans storage and keeps the run store up to date.
type Indexer interface {
	Start(ctx context.Context) error
	Stop() error

	// RefreshNow requests an out-of-band indexing pass, used when a
	// tracked job reaches a terminal status and its run record should
	// be re-read without waiting for the next tick. Non-blocking; a
	// request is dropped when a pass is already pending.
	RefreshNow()
}

// Compile-time interface check.
var _ Indexer = (*indexer)(nil)

type indexer struct {
	log         logrus.FieldLogger
	store       runstore.Store
	reader      storage.Store
	interval    time.Duration
	concurrency int
	refresh     chan struct{}
	done        chan struct{}
	wg          sync.WaitGroup
	dbMu        sync.Mutex // serializes DB writes to avoid SQLite contention
}

// NewIndexer creates a new background indexer.
func NewIndexer(
	log logrus.FieldLogger,
	store runstore.Store,
	reader storage.Store,
	interval time.Duration,
	concurrency int,
) Indexer {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	return &indexer{
		log:         log.WithField("component", "indexer"),
		store:       store,
		reader:      reader,
		interval:    interval,
		concurrency: concurrency,
		refresh:     make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Start launches a background goroutine that runs an immediate
// indexing pass and then ticks at the configured interval. The first
// pass is asynchronous so the caller is not blocked.
func (idx *indexer) Start(ctx context.Context) error {
	idx.log.WithFields(logrus.Fields{
		"interval":    idx.interval.String(),
		"concurrency": idx.concurrency,
	}).Info("Starting indexer")

	idx.wg.Add(1)

	go func() {
		defer idx.wg.Done()

		idx.runPass(ctx)

		ticker := time.NewTicker(idx.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				idx.runPass(ctx)
			case <-idx.refresh:
				idx.runPass(ctx)
			case <-idx.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// RefreshNow schedules an extra indexing pass.
func (idx *indexer) RefreshNow() {
	select {
	case idx.refresh <- struct{}{}:
	default:
	}
}

// Stop signals the indexer goroutine to stop and waits for it.
func (idx *indexer) Stop() error {
	close(idx.done)
	idx.wg.Wait()

	idx.log.Info("Indexer stopped")

	return nil
}

// runPass executes one incremental indexing pass: new runs are
// indexed, already-indexed runs are rescanned only while their status
// is non-terminal.
func (idx *indexer) runPass(ctx context.Context) {
	start := time.Now()

	storageIDs, err := idx.reader.ListRunIDs(ctx)
	if err != nil {
		idx.log.WithError(err).Warn("Listing storage run IDs failed")

		return
	}

	indexed, err := idx.store.ListRuns(ctx)
	if err != nil {
		idx.log.WithError(err).Warn("Listing indexed runs failed")

		return
	}

	incompleteIDs, err := idx.store.ListIncompleteRunIDs(ctx)
	if err != nil {
		idx.log.WithError(err).Warn("Listing incomplete run IDs failed")

		return
	}

	indexedSet := make(map[string]struct{}, len(indexed))
	for _, run := range indexed {
		indexedSet[run.RunID] = struct{}{}
	}

	incompleteSet := make(map[string]struct{}, len(incompleteIDs))
	for _, id := range incompleteIDs {
		incompleteSet[id] = struct{}{}
	}

	var tasks []string

	for _, id := range storageIDs {
		_, alreadyIndexed := indexedSet[id]
		_, isIncomplete := incompleteSet[id]

		if alreadyIndexed && !isIncomplete {
			continue
		}

		tasks = append(tasks, id)
	}

	idx.log.WithFields(logrus.Fields{
		"storage_runs":    len(storageIDs),
		"indexed_runs":    len(indexed),
		"incomplete_runs": len(incompleteIDs),
		"to_index":        len(tasks),
	}).Info("Indexing pass started")

	if len(tasks) == 0 {
		return
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(idx.concurrency)

	var count atomic.Int64

	for _, runID := range tasks {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			case <-idx.done:
				return nil
			default:
			}

			if err := idx.indexRun(gCtx, runID); err != nil {
				idx.log.WithError(err).
					WithField("run_id", runID).
					Warn("Failed to index run")

				return nil //nolint:nilerr // log and continue
			}

			count.Add(1)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		idx.log.WithError(err).Warn("Indexing pass aborted")

		return
	}

	idx.log.WithFields(logrus.Fields{
		"indexed":  count.Load(),
		"duration": time.Since(start).Round(time.Millisecond).String(),
	}).Info("Indexing pass completed")
}

// indexRun reads one run document from storage and upserts it.
func (idx *indexer) indexRun(ctx context.Context, runID string) error {
	data, err := idx.reader.GetRunFile(ctx, runID, runFileName)
	if err != nil {
		return fmt.Errorf("reading run document: %w", err)
	}

	if data == nil {
		// The runner has created the directory but not yet written the
		// document; pick it up on a later pass.
		return nil
	}

	var doc struct {
		ID         string               `json:"id"`
		Pipeline   string               `json:"pipeline"`
		Status     string               `json:"status"`
		CreatedAt  int64                `json:"created_at"`
		FinishedAt int64                `json:"finished_at"`
		Jobs       []runstore.JobStatus `json:"jobs"`
	}

	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decoding run document: %w", err)
	}

	now := time.Now()

	run := &runstore.PipelineRun{
		RunID:      runID,
		Pipeline:   doc.Pipeline,
		Status:     doc.Status,
		CreatedAt:  doc.CreatedAt,
		FinishedAt: doc.FinishedAt,
		IndexedAt:  now,
	}

	if err := run.SetJobs(doc.Jobs); err != nil {
		return fmt.Errorf("encoding job statuses: %w", err)
	}

	if existing, err := idx.store.GetRun(ctx, runID); err == nil && existing != nil {
		run.IndexedAt = existing.IndexedAt
		run.ReindexedAt = &now
	}

	idx.dbMu.Lock()
	defer idx.dbMu.Unlock()

	return idx.store.UpsertRun(ctx, run)
}
