package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/milaops/jobrunner/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T) (Store, string) {
	t.Helper()

	dir := t.TempDir()

	return NewLocalStore(&config.LocalStorageConfig{Enabled: true, Dir: dir}), dir
}

func TestLocalStore_PipelineLifecycle(t *testing.T) {
	s, _ := newLocal(t)
	ctx := context.Background()

	names, err := s.ListPipelines(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	doc := []byte(`{"type":"pipeline","name":"p1","definition":{"type":"sequential","name":"s","jobs":[]},"job_id":null}`)
	require.NoError(t, s.PutPipeline(ctx, "p1", doc))
	require.NoError(t, s.PutPipeline(ctx, "a-pipeline", doc))

	names, err = s.ListPipelines(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a-pipeline", "p1"}, names)

	data, err := s.GetPipeline(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, doc, data)

	require.NoError(t, s.DeletePipeline(ctx, "p1"))

	data, err = s.GetPipeline(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, data)

	// Deleting again is not an error.
	require.NoError(t, s.DeletePipeline(ctx, "p1"))
}

func TestLocalStore_GetPipelineMissing(t *testing.T) {
	s, _ := newLocal(t)

	data, err := s.GetPipeline(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestLocalStore_PipelineNameCannotEscape(t *testing.T) {
	s, dir := newLocal(t)
	ctx := context.Background()

	require.NoError(t, s.PutPipeline(ctx, "../../etc/evil", []byte("{}")))

	_, err := os.Stat(filepath.Join(dir, "pipelines", "evil.json"))
	assert.NoError(t, err, "document should be flattened into the pipelines dir")
}

func TestLocalStore_Runs(t *testing.T) {
	s, dir := newLocal(t)
	ctx := context.Background()

	ids, err := s.ListRunIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	runDir := filepath.Join(dir, "runs", "run-001")
	require.NoError(t, os.MkdirAll(runDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "run.json"), []byte(`{"id":"run-001"}`), 0o644))

	ids, err = s.ListRunIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-001"}, ids)

	data, err := s.GetRunFile(ctx, "run-001", "run.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"run-001"}`, string(data))

	data, err = s.GetRunFile(ctx, "run-001", "missing.json")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestNew_BackendSelection(t *testing.T) {
	s, err := New(&config.StorageConfig{
		Local: &config.LocalStorageConfig{Enabled: true, Dir: t.TempDir()},
	})
	require.NoError(t, err)
	assert.IsType(t, &localStore{}, s)

	s, err = New(&config.StorageConfig{
		S3: &config.S3StorageConfig{Enabled: true, Bucket: "b"},
	})
	require.NoError(t, err)
	assert.IsType(t, &s3Store{}, s)

	_, err = New(&config.StorageConfig{})
	require.Error(t, err)
}
