package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"

	"txn-features/internal/core/utils"
	"txn-features/internal/database"
	"txn-features/internal/frame"
	"txn-features/internal/messaging"
	"txn-features/internal/source"
	"txn-features/internal/storage"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const FeatureFileSuffix = ".features.csv"

type TaskProcessor struct {
	db        *gorm.DB
	storage   storage.ObjectStore
	publisher messaging.Publisher
	receiver  messaging.Receiver

	pipelines   *PipelineRegistry
	jobLocks    *utils.KeyedMutex
	concurrency int

	done     chan struct{}
	stopOnce sync.Once
}

func NewTaskProcessor(db *gorm.DB, storage storage.ObjectStore, publisher messaging.Publisher, receiver messaging.Receiver, pipelines *PipelineRegistry, concurrency int) *TaskProcessor {
	return &TaskProcessor{
		db:          db,
		storage:     storage,
		publisher:   publisher,
		receiver:    receiver,
		pipelines:   pipelines,
		jobLocks:    utils.NewKeyedMutex(),
		concurrency: max(1, concurrency),
		done:        make(chan struct{}),
	}
}

func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor", "concurrency", proc.concurrency)

	tasks := proc.receiver.Tasks()
	for {
		select {
		case task, ok := <-tasks:
			if !ok {
				return
			}
			proc.ProcessTask(task)
		case <-proc.done:
			return
		}
	}
}

// Stop closes the queue connections and makes Start return once the task in
// progress, if any, is finished.
func (proc *TaskProcessor) Stop() {
	proc.stopOnce.Do(func() {
		slog.Info("stopping task processor")

		close(proc.done)
		if proc.publisher != nil {
			proc.publisher.Close()
		}
		proc.receiver.Close()
	})
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	var err error
	switch task.Type() {
	case messaging.FeaturizeQueue:
		var payload messaging.FeaturizeTaskPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling featurize task", "error", err)
			if err := task.Reject(); err != nil {
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processFeaturizeTask(ctx, payload)

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err != nil {
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
	} else {
		slog.Info("successfully processed task", "queue", task.Type())
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "error", err)
		}
	}
}

// FeatureOutputPrefix is where the outputs of a feature job are written.
func FeatureOutputPrefix(destPrefix string, jobId uuid.UUID) string {
	return path.Join(destPrefix, jobId.String())
}

// FeatureOutputKey maps a source object key to the key of its feature file.
func FeatureOutputKey(destPrefix string, jobId uuid.UUID, sourceKey string) string {
	return path.Join(FeatureOutputPrefix(destPrefix, jobId), strings.TrimSuffix(sourceKey, path.Ext(sourceKey))+FeatureFileSuffix)
}

type featurizedObject struct {
	key  string
	rows int
}

func (proc *TaskProcessor) processFeaturizeTask(ctx context.Context, payload messaging.FeaturizeTaskPayload) error {
	jobId := payload.JobId

	proc.jobLocks.Lock(jobId.String())
	defer proc.jobLocks.Unlock(jobId.String())

	var job database.FeatureJob
	if err := proc.db.WithContext(ctx).First(&job, "id = ?", jobId).Error; err != nil {
		slog.Error("error fetching feature job", "job_id", jobId, "error", err)
		return fmt.Errorf("error getting feature job: %w", err)
	}

	if job.Status == database.JobCompleted {
		slog.Info("feature job already completed, skipping", "job_id", jobId)
		return nil
	}

	slog.Info("processing feature job", "job_id", jobId, "run_id", job.RunId)
	if err := database.StartFeatureJob(ctx, proc.db, jobId); err != nil {
		return err
	}

	if err := proc.runFeatureJob(ctx, job); err != nil {
		database.SaveFeatureJobError(ctx, proc.db, jobId, "", err.Error())
		if err := database.UpdateFeatureJobStatus(ctx, proc.db, jobId, database.JobFailed); err != nil {
			slog.Error("error marking feature job failed", "job_id", jobId, "error", err)
		}
		return err
	}

	return database.UpdateFeatureJobStatus(ctx, proc.db, jobId, database.JobCompleted)
}

func (proc *TaskProcessor) runFeatureJob(ctx context.Context, job database.FeatureJob) error {
	pipeline, err := proc.pipelines.Get(ctx, job.RunId)
	if err != nil {
		return fmt.Errorf("error loading pipeline run %s: %w", job.RunId, err)
	}

	var keys []string
	if err := json.Unmarshal(job.SourceKeys, &keys); err != nil {
		return fmt.Errorf("error parsing source keys: %w", err)
	}

	var filter Filter
	if job.RowFilter.Valid && job.RowFilter.String != "" {
		filter, err = ParseQuery(job.RowFilter.String)
		if err != nil {
			return err
		}
	}

	if err := proc.storage.CreateBucket(ctx, job.DestBucket); err != nil {
		return fmt.Errorf("error creating destination bucket: %w", err)
	}

	// Clear outputs left behind by a previous attempt of this job.
	if err := proc.storage.DeleteObjects(ctx, job.DestBucket, FeatureOutputPrefix(job.DestPrefix, job.Id)+"/"); err != nil {
		return fmt.Errorf("error clearing previous outputs: %w", err)
	}

	src := source.NewObjectStoreSource(proc.storage, job.SourceBucket)

	queue := make(chan string, len(keys))
	for _, key := range keys {
		queue <- key
	}
	close(queue)

	completed := make(chan utils.CompletedTask[featurizedObject], len(keys))

	worker := func(key string) (featurizedObject, error) {
		rows, err := proc.featurizeObject(ctx, pipeline, filter, src, job, key)
		return featurizedObject{key: key, rows: rows}, err
	}

	utils.RunInPool(worker, queue, completed, proc.concurrency)

	failed := 0
	var firstErr error
	for result := range completed {
		if result.Error != nil {
			failed++
			firstErr = errors.Join(firstErr, result.Error)
			slog.Error("error featurizing object", "job_id", job.Id, "object", result.Result.key, "error", result.Error)
			database.SaveFeatureJobError(ctx, proc.db, job.Id, result.Result.key, result.Error.Error())
		}

		if err := database.RecordFeatureFile(ctx, proc.db, job.Id, result.Result.rows, result.Error != nil); err != nil {
			slog.Error("error recording featurized object", "job_id", job.Id, "object", result.Result.key, "error", err)
		}
	}

	if len(keys) > 0 && failed == len(keys) {
		return fmt.Errorf("all %d objects failed: %w", failed, firstErr)
	}

	slog.Info("feature job finished", "job_id", job.Id, "objects", len(keys), "failed", failed)
	return nil
}

func (proc *TaskProcessor) featurizeObject(ctx context.Context, pipeline *UnifiedPreprocessor, filter Filter, src source.Source, job database.FeatureJob, key string) (int, error) {
	table, err := src.Load(ctx, key)
	if err != nil {
		return 0, err
	}

	features, err := pipeline.PreprocessRuntime(table)
	if err != nil {
		return 0, fmt.Errorf("error preprocessing %s: %w", key, err)
	}

	features, err = ApplyFilter(filter, features)
	if err != nil {
		return 0, fmt.Errorf("error filtering %s: %w", key, err)
	}

	var buf bytes.Buffer
	if err := frame.WriteCSV(&buf, features); err != nil {
		return 0, fmt.Errorf("error encoding features for %s: %w", key, err)
	}

	outputKey := FeatureOutputKey(job.DestPrefix, job.Id, key)
	if err := proc.storage.PutObject(ctx, job.DestBucket, outputKey, &buf); err != nil {
		return 0, fmt.Errorf("error writing features for %s: %w", key, err)
	}

	slog.Info("featurized object", "job_id", job.Id, "object", key, "output", outputKey, "rows", features.Rows())
	return features.Rows(), nil
}
