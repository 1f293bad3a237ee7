package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrRunNotFound = errors.New("pipeline run not found")

func CreatePipelineRun(ctx context.Context, db *gorm.DB, name, syntheticSource, referenceSource string, shuffle bool) (*PipelineRun, error) {
	run := PipelineRun{
		Id:              uuid.New(),
		Name:            name,
		Status:          RunRunning,
		SyntheticSource: syntheticSource,
		ReferenceSource: referenceSource,
		Shuffle:         shuffle,
		CreationTime:    time.Now().UTC(),
	}

	if err := db.WithContext(ctx).Create(&run).Error; err != nil {
		return nil, fmt.Errorf("error creating pipeline run: %w", err)
	}
	return &run, nil
}

// CompletePipelineRun stores the serialized pipeline state and marks the run
// completed.
func CompletePipelineRun(ctx context.Context, db *gorm.DB, runId uuid.UUID, rows, features int, state datatypes.JSON) error {
	updates := map[string]any{
		"status":          RunCompleted,
		"rows":            rows,
		"features":        features,
		"state":           state,
		"completion_time": time.Now().UTC(),
	}

	if err := db.WithContext(ctx).Model(&PipelineRun{Id: runId}).Updates(updates).Error; err != nil {
		slog.Error("error completing pipeline run", "run_id", runId, "error", err)
		return fmt.Errorf("error completing pipeline run: %w", err)
	}
	return nil
}

func SetPipelineRunOutput(ctx context.Context, db *gorm.DB, runId uuid.UUID, bucket, key string) error {
	updates := map[string]any{
		"output_bucket": sql.NullString{String: bucket, Valid: true},
		"output_key":    sql.NullString{String: key, Valid: true},
	}

	if err := db.WithContext(ctx).Model(&PipelineRun{Id: runId}).Updates(updates).Error; err != nil {
		return fmt.Errorf("error saving pipeline run output: %w", err)
	}
	return nil
}

// FailPipelineRun marks the run failed and records the cause.
func FailPipelineRun(ctx context.Context, db *gorm.DB, runId uuid.UUID, cause error) {
	updates := map[string]any{"status": RunFailed, "completion_time": time.Now().UTC()}
	if err := db.WithContext(ctx).Model(&PipelineRun{Id: runId}).Updates(updates).Error; err != nil {
		slog.Error("error updating pipeline run status", "run_id", runId, "error", err)
	}

	runError := PipelineRunError{
		RunId:     runId,
		ErrorId:   uuid.New(),
		Error:     cause.Error(),
		Timestamp: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(&runError).Error; err != nil {
		slog.Error("error saving pipeline run error", "run_id", runId, "error", err)
	}
}

func GetPipelineRun(ctx context.Context, db *gorm.DB, runId uuid.UUID) (*PipelineRun, error) {
	var run PipelineRun
	if err := db.WithContext(ctx).Preload("Errors").First(&run, "id = ?", runId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("error loading pipeline run: %w", err)
	}
	return &run, nil
}

// LatestCompletedRun returns the most recently created completed run.
func LatestCompletedRun(ctx context.Context, db *gorm.DB) (*PipelineRun, error) {
	var run PipelineRun
	err := db.WithContext(ctx).
		Where("status = ?", RunCompleted).
		Order("creation_time DESC").
		First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("error loading latest pipeline run: %w", err)
	}
	return &run, nil
}

func UpdateFeatureJobStatus(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	switch status {
	case JobRunning:
		updates["start_time"] = time.Now().UTC()
	case JobCompleted, JobFailed:
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&FeatureJob{Id: jobId}).Updates(updates).Error; err != nil {
		slog.Error("error updating feature job status", "job_id", jobId, "status", status, "error", err)
		return err
	}
	return nil
}

// StartFeatureJob marks the job running and clears the counters and errors of
// any earlier attempt.
func StartFeatureJob(ctx context.Context, db *gorm.DB, jobId uuid.UUID) error {
	return db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		if err := txn.Delete(&FeatureJobError{}, "job_id = ?", jobId).Error; err != nil {
			return fmt.Errorf("error clearing feature job errors: %w", err)
		}

		updates := map[string]any{
			"status":               JobRunning,
			"start_time":           time.Now().UTC(),
			"completion_time":      nil,
			"succeeded_file_count": 0,
			"failed_file_count":    0,
			"row_count":            0,
		}
		if err := txn.Model(&FeatureJob{Id: jobId}).Updates(updates).Error; err != nil {
			return fmt.Errorf("error starting feature job: %w", err)
		}
		return nil
	})
}

// RecordFeatureFile adds the outcome of one featurized file to the job
// counters.
func RecordFeatureFile(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, rows int, failed bool) error {
	updates := map[string]any{}
	if failed {
		updates["failed_file_count"] = gorm.Expr("failed_file_count + ?", 1)
	} else {
		updates["succeeded_file_count"] = gorm.Expr("succeeded_file_count + ?", 1)
		updates["row_count"] = gorm.Expr("row_count + ?", rows)
	}

	if err := txn.WithContext(ctx).Model(&FeatureJob{Id: jobId}).Updates(updates).Error; err != nil {
		return fmt.Errorf("error updating feature job counts: %w", err)
	}
	return nil
}

func SaveFeatureJobError(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, object, errorMessage string) {
	jobError := FeatureJobError{
		JobId:     jobId,
		ErrorId:   uuid.New(),
		Object:    object,
		Error:     errorMessage,
		Timestamp: time.Now().UTC(),
	}

	if err := txn.WithContext(ctx).Create(&jobError).Error; err != nil {
		slog.Error("error saving feature job error", "job_id", jobId, "error", err)
	}
}
