package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/milaops/jobrunner/pkg/config"
	"github.com/milaops/jobrunner/pkg/runstore"
	"github.com/milaops/jobrunner/pkg/storage"
)

func writeRunDoc(t *testing.T, dir, runID, doc string) {
	t.Helper()

	runDir := filepath.Join(dir, "runs", runID)
	require.NoError(t, os.MkdirAll(runDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "run.json"), []byte(doc), 0o644))
}

func setup(t *testing.T) (*indexer, runstore.Store, string) {
	t.Helper()

	dir := t.TempDir()
	reader := storage.NewLocalStore(&config.LocalStorageConfig{Enabled: true, Dir: dir})

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	store := runstore.NewStore(log, &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, store.Start(context.Background()))
	t.Cleanup(func() { _ = store.Stop() })

	idx := NewIndexer(log, store, reader, time.Hour, 2).(*indexer)

	return idx, store, dir
}

func TestRunPass_IndexesNewRuns(t *testing.T) {
	idx, store, dir := setup(t)
	ctx := context.Background()

	writeRunDoc(t, dir, "run-1", `{
		"id": "run-1",
		"pipeline": "standard",
		"status": "RUNNING",
		"created_at": 1760000000,
		"jobs": [
			{"job_id": "j1", "script": "pin.sh", "profile": "cpu", "status": "COMPLETED"},
			{"job_id": "j2", "script": "run.sh", "profile": "A100", "status": "RUNNING"}
		]
	}`)

	idx.runPass(ctx)

	run, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "standard", run.Pipeline)
	assert.False(t, run.Terminal)
	assert.Nil(t, run.ReindexedAt)

	jobs, err := run.Jobs()
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestRunPass_ReindexesIncompleteOnly(t *testing.T) {
	idx, store, dir := setup(t)
	ctx := context.Background()

	writeRunDoc(t, dir, "live", `{"id":"live","pipeline":"p","status":"RUNNING","created_at":1,"jobs":[]}`)
	writeRunDoc(t, dir, "done", `{"id":"done","pipeline":"p","status":"COMPLETED","created_at":1,"jobs":[]}`)

	idx.runPass(ctx)

	// The live run finishes; the done run's document never changes.
	writeRunDoc(t, dir, "live", `{"id":"live","pipeline":"p","status":"COMPLETED","created_at":1,"finished_at":2,"jobs":[]}`)

	idx.runPass(ctx)

	live, err := store.GetRun(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", live.Status)
	assert.True(t, live.Terminal)
	require.NotNil(t, live.ReindexedAt, "incomplete run should have been rescanned")

	done, err := store.GetRun(ctx, "done")
	require.NoError(t, err)
	assert.Nil(t, done.ReindexedAt, "terminal run should not be rescanned")
}

func TestRunPass_SkipsDirWithoutDocument(t *testing.T) {
	idx, store, dir := setup(t)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "runs", "partial"), 0o755))

	idx.runPass(ctx)

	run, err := store.GetRun(ctx, "partial")
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestRunPass_ToleratesBadDocument(t *testing.T) {
	idx, store, dir := setup(t)
	ctx := context.Background()

	writeRunDoc(t, dir, "bad", `{broken`)
	writeRunDoc(t, dir, "good", `{"id":"good","pipeline":"p","status":"PENDING","created_at":1,"jobs":[]}`)

	idx.runPass(ctx)

	run, err := store.GetRun(ctx, "good")
	require.NoError(t, err)
	require.NotNil(t, run, "one bad document must not stop the pass")
}
