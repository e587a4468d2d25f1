// Package runstore persists indexed pipeline run records in a
// relational database.
package runstore

import (
	"context"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/milaops/jobrunner/pkg/config"
	"github.com/milaops/jobrunner/pkg/jobstatus"
)

// Store provides persistence for indexed pipeline runs.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	UpsertRun(ctx context.Context, run *PipelineRun) error
	GetRun(ctx context.Context, runID string) (*PipelineRun, error)
	ListRuns(ctx context.Context) ([]PipelineRun, error)
	ListRunsForPipeline(ctx context.Context, pipeline string) ([]PipelineRun, error)
	ListIncompleteRunIDs(ctx context.Context) ([]string, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a run Store backed by the configured database
// driver.
func NewStore(log logrus.FieldLogger, cfg *config.DatabaseConfig) Store {
	return &store{
		log: log.WithField("component", "runstore"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening run database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(&PipelineRun{}); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Run database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// UpsertRun inserts or updates a run record keyed by run_id. The
// Terminal flag is derived from the run's status.
func (s *store) UpsertRun(ctx context.Context, run *PipelineRun) error {
	run.Terminal = jobstatus.Classify(run.Status) == jobstatus.StateTerminal

	result := s.db.WithContext(ctx).
		Where("run_id = ?", run.RunID).
		Assign(run).
		FirstOrCreate(run)
	if result.Error != nil {
		return fmt.Errorf("upserting run: %w", result.Error)
	}

	return nil
}

// GetRun returns one run record, or nil when it is not indexed.
func (s *store) GetRun(ctx context.Context, runID string) (*PipelineRun, error) {
	var run PipelineRun

	err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}

		return nil, fmt.Errorf("getting run %q: %w", runID, err)
	}

	return &run, nil
}

// ListRuns returns all indexed runs, most recent first.
func (s *store) ListRuns(ctx context.Context) ([]PipelineRun, error) {
	var runs []PipelineRun
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return runs, nil
}

// ListRunsForPipeline returns the runs of one pipeline, most recent
// first.
func (s *store) ListRunsForPipeline(ctx context.Context, pipeline string) ([]PipelineRun, error) {
	var runs []PipelineRun
	if err := s.db.WithContext(ctx).
		Where("pipeline = ?", pipeline).
		Order("created_at DESC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs for pipeline %q: %w", pipeline, err)
	}

	return runs, nil
}

// ListIncompleteRunIDs returns the IDs of runs whose status is not
// yet terminal, so the indexer can scan them again.
func (s *store) ListIncompleteRunIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&PipelineRun{}).
		Where("terminal = ?", false).
		Pluck("run_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("listing incomplete run ids: %w", err)
	}

	return ids, nil
}
