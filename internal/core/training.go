package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"txn-features/internal/database"
	"txn-features/internal/frame"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TrainPipeline runs Preprocess on u and records the run, including the
// resulting pipeline state, in the database. A failed run is recorded as
// failed together with its error.
func TrainPipeline(ctx context.Context, db *gorm.DB, u *UnifiedPreprocessor, name, syntheticPath, referencePath string, shuffle bool) (*database.PipelineRun, *frame.Table, error) {
	run, err := database.CreatePipelineRun(ctx, db, name, syntheticPath, referencePath, shuffle)
	if err != nil {
		return nil, nil, err
	}

	slog.Info("starting pipeline run", "run_id", run.Id, "name", name, "synthetic", syntheticPath, "reference", referencePath, "shuffle", shuffle)

	table, err := u.Preprocess(ctx, syntheticPath, referencePath, shuffle)
	if err != nil {
		database.FailPipelineRun(ctx, db, run.Id, err)
		return nil, nil, fmt.Errorf("error preprocessing datasets: %w", err)
	}

	state, err := u.State()
	if err != nil {
		database.FailPipelineRun(ctx, db, run.Id, err)
		return nil, nil, err
	}

	data, err := json.Marshal(state)
	if err != nil {
		database.FailPipelineRun(ctx, db, run.Id, err)
		return nil, nil, fmt.Errorf("error serializing pipeline state: %w", err)
	}

	if err := database.CompletePipelineRun(ctx, db, run.Id, state.Rows, len(state.Contract), datatypes.JSON(data)); err != nil {
		return nil, nil, err
	}

	run, err = database.GetPipelineRun(ctx, db, run.Id)
	if err != nil {
		return nil, nil, err
	}

	slog.Info("pipeline run completed", "run_id", run.Id, "rows", state.Rows, "features", len(state.Contract))
	return run, table, nil
}

// RestorePipeline rebuilds a runtime-ready preprocessor from a completed run.
func RestorePipeline(run *database.PipelineRun) (*UnifiedPreprocessor, error) {
	if run.Status != database.RunCompleted {
		return nil, fmt.Errorf("pipeline run %s has status %s: %w", run.Id, run.Status, ErrContractNotEstablished)
	}

	var state PipelineState
	if err := json.Unmarshal(run.State, &state); err != nil {
		return nil, fmt.Errorf("error parsing state of pipeline run %s: %w", run.Id, err)
	}

	u := NewUnifiedPreprocessor(nil)
	if err := u.Restore(state); err != nil {
		return nil, fmt.Errorf("error restoring pipeline run %s: %w", run.Id, err)
	}
	return u, nil
}
