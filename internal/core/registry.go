package core

import (
	"context"
	"log/slog"
	"sync"

	"txn-features/internal/database"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PipelineRegistry hands out runtime preprocessors by pipeline run id, loading
// and restoring runs from the database on first use.
type PipelineRegistry struct {
	db *gorm.DB

	mu        sync.Mutex
	pipelines map[uuid.UUID]*UnifiedPreprocessor
}

func NewPipelineRegistry(db *gorm.DB) *PipelineRegistry {
	return &PipelineRegistry{db: db, pipelines: make(map[uuid.UUID]*UnifiedPreprocessor)}
}

// Register makes an already established preprocessor available under runId.
func (r *PipelineRegistry) Register(runId uuid.UUID, u *UnifiedPreprocessor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipelines[runId] = u
}

func (r *PipelineRegistry) Get(ctx context.Context, runId uuid.UUID) (*UnifiedPreprocessor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.pipelines[runId]; ok {
		return u, nil
	}

	run, err := database.GetPipelineRun(ctx, r.db, runId)
	if err != nil {
		return nil, err
	}

	u, err := RestorePipeline(run)
	if err != nil {
		return nil, err
	}

	slog.Info("restored pipeline run", "run_id", runId, "features", run.Features)
	r.pipelines[runId] = u
	return u, nil
}
