// Package storage persists pipeline documents and exposes the run
// documents dropped off by the external job runner, on either the
// local filesystem or S3-compatible object storage.
package storage

import (
	"context"
	"fmt"

	"github.com/milaops/jobrunner/pkg/config"
)

// Store provides access to persisted pipeline definitions (read/write,
// keyed by pipeline name) and to run documents (read-only; the job
// runner writes them).
type Store interface {
	// ListPipelines returns the names of all stored pipelines.
	ListPipelines(ctx context.Context) ([]string, error)

	// GetPipeline reads one pipeline document.
	// Returns (nil, nil) when no pipeline with that name exists.
	GetPipeline(ctx context.Context, name string) ([]byte, error)

	// PutPipeline writes one pipeline document, replacing any
	// previous version.
	PutPipeline(ctx context.Context, name string, data []byte) error

	// DeletePipeline removes one pipeline document. Deleting a
	// missing pipeline is not an error.
	DeletePipeline(ctx context.Context, name string) error

	// ListRunIDs returns the IDs of all run directories.
	ListRunIDs(ctx context.Context) ([]string, error)

	// GetRunFile reads a file from a specific run directory.
	// Returns (nil, nil) when the file does not exist.
	GetRunFile(ctx context.Context, runID, filename string) ([]byte, error)
}

// New creates the Store selected by the configuration.
func New(cfg *config.StorageConfig) (Store, error) {
	switch {
	case cfg.S3 != nil && cfg.S3.Enabled:
		return NewS3Store(cfg.S3), nil
	case cfg.Local != nil && cfg.Local.Enabled:
		return NewLocalStore(cfg.Local), nil
	}

	return nil, fmt.Errorf("no storage backend enabled")
}
