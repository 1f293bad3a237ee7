package core

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"txn-features/internal/database"
	"txn-features/internal/frame"
	"txn-features/internal/messaging"
	"txn-features/internal/source"
	"txn-features/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	sourceBucket = "transactions"
	destBucket   = "features"
)

const batchCSV = `timestamp,customer_id,amount,category
2024-03-04 10:00:00,1,42.5,groceries
2024-03-04 10:30:00,1,-3,travel
2024-03-04 11:00:00,9,7,crypto
`

func createDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	// Every new connection would open a separate in-memory database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.GetMigrator(db).Migrate())
	return db
}

func trainedRun(t *testing.T, db *gorm.DB) (*database.PipelineRun, *UnifiedPreprocessor) {
	u := NewUnifiedPreprocessor(testSource(t))
	run, table, err := TrainPipeline(context.Background(), db, u, "test-run", syntheticPath, referencePath, true)
	require.NoError(t, err)
	assert.Equal(t, 7, table.Rows())
	return run, u
}

func createFeatureJob(t *testing.T, db *gorm.DB, runId uuid.UUID, keys ...string) database.FeatureJob {
	sourceKeys, err := json.Marshal(keys)
	require.NoError(t, err)

	job := database.FeatureJob{
		Id:             uuid.New(),
		RunId:          runId,
		Status:         database.JobQueued,
		SourceBucket:   sourceBucket,
		SourceKeys:     datatypes.JSON(sourceKeys),
		DestBucket:     destBucket,
		DestPrefix:     "out",
		TotalFileCount: len(keys),
		CreationTime:   time.Now().UTC(),
	}
	require.NoError(t, db.Create(&job).Error)
	return job
}

func TestTrainPipeline(t *testing.T) {
	db := createDB(t)
	run, u := trainedRun(t, db)

	assert.Equal(t, database.RunCompleted, run.Status)
	assert.Equal(t, 7, run.Rows)
	assert.Equal(t, 10, run.Features)

	restored, err := RestorePipeline(run)
	require.NoError(t, err)

	expected, err := u.Contract()
	require.NoError(t, err)
	actual, err := restored.Contract()
	require.NoError(t, err)
	assert.Equal(t, expected, actual)
}

func TestTrainPipelineFailure(t *testing.T) {
	db := createDB(t)

	u := NewUnifiedPreprocessor(memorySource{})
	_, _, err := TrainPipeline(context.Background(), db, u, "broken", syntheticPath, referencePath, false)
	require.Error(t, err)

	var runs []database.PipelineRun
	require.NoError(t, db.Preload("Errors").Find(&runs).Error)
	require.Len(t, runs, 1)
	assert.Equal(t, database.RunFailed, runs[0].Status)
	assert.Len(t, runs[0].Errors, 1)

	_, err = RestorePipeline(&runs[0])
	assert.ErrorIs(t, err, ErrContractNotEstablished)
}

func TestFeaturizeTask(t *testing.T) {
	db := createDB(t)
	run, u := trainedRun(t, db)

	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.PutObject(context.Background(), sourceBucket, "batch/day1.csv", strings.NewReader(batchCSV)))

	job := createFeatureJob(t, db, run.Id, "batch/day1.csv", "batch/missing.csv")

	queue := messaging.NewInMemoryQueue()
	// A fresh registry forces the processor to restore the run from the database.
	proc := NewTaskProcessor(db, store, queue, queue, NewPipelineRegistry(db), 2)

	require.NoError(t, queue.PublishFeaturizeTask(context.Background(), messaging.FeaturizeTaskPayload{JobId: job.Id}))
	proc.ProcessTask(<-queue.Tasks())

	var loaded database.FeatureJob
	require.NoError(t, db.Preload("Errors").First(&loaded, "id = ?", job.Id).Error)
	assert.Equal(t, database.JobCompleted, loaded.Status)
	assert.Equal(t, 1, loaded.SucceededFileCount)
	assert.Equal(t, 1, loaded.FailedFileCount)
	assert.Equal(t, int64(3), loaded.RowCount)
	require.Len(t, loaded.Errors, 1)
	assert.Equal(t, "batch/missing.csv", loaded.Errors[0].Object)

	outputKey := FeatureOutputKey("out", job.Id, "batch/day1.csv")
	assert.Equal(t, "out/"+job.Id.String()+"/batch/day1.features.csv", outputKey)

	obj, err := store.GetObject(context.Background(), destBucket, outputKey)
	require.NoError(t, err)
	defer obj.Close()

	data, err := io.ReadAll(obj)
	require.NoError(t, err)

	features, err := frame.ReadCSV(bytes.NewReader(data))
	require.NoError(t, err)

	contract, err := u.Contract()
	require.NoError(t, err)
	assert.Equal(t, contract, features.Names())
	assert.Equal(t, 3, features.Rows())
	assert.False(t, features.Has("cat_crypto"))

	hours, _ := features.Column(HourOfDayColumn)
	assert.Equal(t, []float64{10, 10, 11}, hours.Floats)
	since, _ := features.Column(TimeSinceLastColumn)
	assert.Equal(t, []float64{0, 1800, 0}, since.Floats)
}

func TestFeaturizeTaskWithFilter(t *testing.T) {
	db := createDB(t)
	run, _ := trainedRun(t, db)

	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.PutObject(context.Background(), sourceBucket, "day1.csv", strings.NewReader(batchCSV)))

	job := createFeatureJob(t, db, run.Id, "day1.csv")
	require.NoError(t, db.Model(&job).Update("row_filter", "hour_of_day > 10 OR time_since_last > 0").Error)

	queue := messaging.NewInMemoryQueue()
	proc := NewTaskProcessor(db, store, queue, queue, NewPipelineRegistry(db), 1)
	require.NoError(t, proc.processFeaturizeTask(context.Background(), messaging.FeaturizeTaskPayload{JobId: job.Id}))

	var loaded database.FeatureJob
	require.NoError(t, db.First(&loaded, "id = ?", job.Id).Error)
	assert.Equal(t, database.JobCompleted, loaded.Status)
	assert.Equal(t, int64(2), loaded.RowCount)

	obj, err := store.GetObject(context.Background(), destBucket, FeatureOutputKey("out", job.Id, "day1.csv"))
	require.NoError(t, err)
	defer obj.Close()

	features, err := frame.ReadCSV(obj)
	require.NoError(t, err)
	hours, _ := features.Column(HourOfDayColumn)
	assert.Equal(t, []float64{10, 11}, hours.Floats)
}

func TestFeaturizeTaskInvalidFilter(t *testing.T) {
	db := createDB(t)
	run, _ := trainedRun(t, db)

	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)

	job := createFeatureJob(t, db, run.Id, "day1.csv")
	require.NoError(t, db.Model(&job).Update("row_filter", "amount >").Error)

	queue := messaging.NewInMemoryQueue()
	proc := NewTaskProcessor(db, store, queue, queue, NewPipelineRegistry(db), 1)

	err = proc.processFeaturizeTask(context.Background(), messaging.FeaturizeTaskPayload{JobId: job.Id})
	require.ErrorIs(t, err, ErrInvalidFilter)

	var loaded database.FeatureJob
	require.NoError(t, db.First(&loaded, "id = ?", job.Id).Error)
	assert.Equal(t, database.JobFailed, loaded.Status)
}

func TestFeaturizeTaskAllObjectsFail(t *testing.T) {
	db := createDB(t)
	run, _ := trainedRun(t, db)

	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)

	job := createFeatureJob(t, db, run.Id, "missing.csv")

	queue := messaging.NewInMemoryQueue()
	proc := NewTaskProcessor(db, store, queue, queue, NewPipelineRegistry(db), 1)

	err = proc.processFeaturizeTask(context.Background(), messaging.FeaturizeTaskPayload{JobId: job.Id})
	require.ErrorIs(t, err, source.ErrSourceNotFound)

	var loaded database.FeatureJob
	require.NoError(t, db.First(&loaded, "id = ?", job.Id).Error)
	assert.Equal(t, database.JobFailed, loaded.Status)
	assert.Equal(t, 1, loaded.FailedFileCount)
	assert.True(t, loaded.CompletionTime.Valid)
}

func TestFeaturizeTaskRunNotCompleted(t *testing.T) {
	db := createDB(t)

	run, err := database.CreatePipelineRun(context.Background(), db, "pending", syntheticPath, referencePath, false)
	require.NoError(t, err)

	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)

	job := createFeatureJob(t, db, run.Id, "batch.csv")

	queue := messaging.NewInMemoryQueue()
	proc := NewTaskProcessor(db, store, queue, queue, NewPipelineRegistry(db), 1)

	err = proc.processFeaturizeTask(context.Background(), messaging.FeaturizeTaskPayload{JobId: job.Id})
	assert.ErrorIs(t, err, ErrContractNotEstablished)

	var loaded database.FeatureJob
	require.NoError(t, db.Preload("Errors").First(&loaded, "id = ?", job.Id).Error)
	assert.Equal(t, database.JobFailed, loaded.Status)
	assert.Len(t, loaded.Errors, 1)
}

func TestProcessTaskRejectsUnknownTasks(t *testing.T) {
	db := createDB(t)
	queue := messaging.NewInMemoryQueue()
	proc := NewTaskProcessor(db, nil, queue, queue, NewPipelineRegistry(db), 1)

	task := &recordingTask{queue: "unknown_queue"}
	proc.ProcessTask(task)
	assert.True(t, task.rejected)

	task = &recordingTask{queue: messaging.FeaturizeQueue, payload: []byte("not json")}
	proc.ProcessTask(task)
	assert.True(t, task.rejected)

	task = &recordingTask{queue: messaging.FeaturizeQueue, payload: []byte(`{"JobId":"` + uuid.NewString() + `"}`)}
	proc.ProcessTask(task)
	assert.True(t, task.nacked)
}

type recordingTask struct {
	queue   string
	payload []byte

	acked, nacked, rejected bool
}

func (t *recordingTask) Type() string    { return t.queue }
func (t *recordingTask) Payload() []byte { return t.payload }
func (t *recordingTask) Ack() error      { t.acked = true; return nil }
func (t *recordingTask) Nack() error     { t.nacked = true; return nil }
func (t *recordingTask) Reject() error   { t.rejected = true; return nil }

func TestTaskProcessorStartStop(t *testing.T) {
	db := createDB(t)
	run, _ := trainedRun(t, db)

	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.PutObject(context.Background(), sourceBucket, "day1.csv", strings.NewReader(batchCSV)))

	job := createFeatureJob(t, db, run.Id, "day1.csv")

	queue := messaging.NewInMemoryQueue()
	proc := NewTaskProcessor(db, store, queue, queue, NewPipelineRegistry(db), 1)

	stopped := make(chan struct{})
	go func() {
		proc.Start()
		close(stopped)
	}()

	require.NoError(t, queue.PublishFeaturizeTask(context.Background(), messaging.FeaturizeTaskPayload{JobId: job.Id}))

	require.Eventually(t, func() bool {
		var loaded database.FeatureJob
		return db.First(&loaded, "id = ?", job.Id).Error == nil && loaded.Status == database.JobCompleted
	}, 5*time.Second, 10*time.Millisecond)

	proc.Stop()
	proc.Stop()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("task processor did not stop")
	}

	assert.ErrorIs(t, queue.PublishFeaturizeTask(context.Background(), messaging.FeaturizeTaskPayload{JobId: job.Id}), messaging.ErrQueueClosed)
}
