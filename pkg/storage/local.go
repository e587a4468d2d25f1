package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/milaops/jobrunner/pkg/config"
)

// Compile-time interface check.
var _ Store = (*localStore)(nil)

type localStore struct {
	dir string
}

// NewLocalStore creates a Store backed by a local directory, with
// pipeline documents under pipelines/ and run data under runs/.
func NewLocalStore(cfg *config.LocalStorageConfig) Store {
	return &localStore{dir: cfg.Dir}
}

// pipelinePath maps a pipeline name to its document file. Names are
// flattened to a single path element so a crafted name cannot escape
// the pipelines directory.
func (s *localStore) pipelinePath(name string) string {
	return filepath.Join(s.dir, "pipelines", filepath.Base(name)+".json")
}

// ListPipelines returns the stored pipeline names sorted.
func (s *localStore) ListPipelines(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "pipelines"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading pipelines directory: %w", err)
	}

	names := make([]string, 0, len(entries))

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}

		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}

	sort.Strings(names)

	return names, nil
}

// GetPipeline reads {dir}/pipelines/{name}.json.
// Returns (nil, nil) when the file does not exist.
func (s *localStore) GetPipeline(_ context.Context, name string) ([]byte, error) {
	p := s.pipelinePath(name)

	data, err := os.ReadFile(p) //nolint:gosec // trusted path from config
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading pipeline %s: %w", p, err)
	}

	return data, nil
}

// PutPipeline writes {dir}/pipelines/{name}.json.
func (s *localStore) PutPipeline(_ context.Context, name string, data []byte) error {
	p := s.pipelinePath(name)

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("creating pipelines directory: %w", err)
	}

	if err := os.WriteFile(p, data, 0o644); err != nil { //nolint:gosec // documents are not secrets
		return fmt.Errorf("writing pipeline %s: %w", p, err)
	}

	return nil
}

// DeletePipeline removes {dir}/pipelines/{name}.json.
func (s *localStore) DeletePipeline(_ context.Context, name string) error {
	p := s.pipelinePath(name)

	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting pipeline %s: %w", p, err)
	}

	return nil
}

// ListRunIDs returns run directory names under {dir}/runs/.
func (s *localStore) ListRunIDs(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "runs"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading runs directory: %w", err)
	}

	ids := make([]string, 0, len(entries))

	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}

	return ids, nil
}

// GetRunFile reads a file from {dir}/runs/{runID}/{filename}.
// Returns (nil, nil) when the file does not exist.
func (s *localStore) GetRunFile(_ context.Context, runID, filename string) ([]byte, error) {
	p := filepath.Join(s.dir, "runs", filepath.Base(runID), filepath.Base(filename))

	data, err := os.ReadFile(p) //nolint:gosec // trusted path from config
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading run file %s: %w", p, err)
	}

	return data, nil
}
