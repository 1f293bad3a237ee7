package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	backend "txn-features/internal/api"
	"txn-features/internal/core"
	"txn-features/internal/database"
	"txn-features/internal/messaging"
	"txn-features/internal/source"
	"txn-features/internal/storage"
	"txn-features/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const syntheticCSV = `timestamp,customer_id,amount,category,anomaly
2024-03-04 10:00:00,1,10,groceries,0
2024-03-04 12:30:00,1,-3,travel,1
2024-03-05 08:00:00,2,25,groceries,0
`

const referenceCSV = `Time,V1,Amount,Class
0,1,5,0
3600,2,-1,0
7200,3,15,1
`

var expectedColumns = []string{
	"Amount", "V1", "amount", "cat_groceries", "cat_travel", "customer_id",
	"day_of_week", "hour_of_day", "time_since_last", "timestamp",
}

func createDB(t *testing.T, create ...any) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	// Every new connection would open a separate in-memory database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.GetMigrator(db).Migrate())

	for _, c := range create {
		require.NoError(t, db.Create(c).Error)
	}

	return db
}

func trainRun(t *testing.T, db *gorm.DB) *database.PipelineRun {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "synthetic.csv"), []byte(syntheticCSV), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "reference.csv"), []byte(referenceCSV), 0o644))

	u := core.NewUnifiedPreprocessor(source.NewFileSource(dir))
	run, _, err := core.TrainPipeline(context.Background(), db, u, "api-test", "synthetic.csv", "reference.csv", false)
	require.NoError(t, err)
	return run
}

type testEnv struct {
	db     *gorm.DB
	store  *storage.LocalObjectStore
	queue  *messaging.InMemoryQueue
	router chi.Router
	run    *database.PipelineRun
}

func newTestEnv(t *testing.T, trained bool) *testEnv {
	db := createDB(t)

	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)

	env := &testEnv{db: db, store: store, queue: messaging.NewInMemoryQueue(), router: chi.NewRouter()}

	runId := uuid.Nil
	if trained {
		env.run = trainRun(t, db)
		runId = env.run.Id
	}

	service := backend.NewBackendService(db, store, env.queue, core.NewPipelineRegistry(db), runId)
	service.AddRoutes(env.router)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "received response: "+rec.Body.String())
	return out
}

func value(t *testing.T, table api.FeatureTable, row int, column string) any {
	idx := slices.Index(table.Columns, column)
	require.GreaterOrEqual(t, idx, 0, "missing column %s", column)
	return table.Rows[row][idx]
}

func ptr[T any](v T) *T {
	return &v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNoContract(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/metadata", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(t, http.MethodPost, "/features", api.Transaction{Amount: ptr(12.0)})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(t, http.MethodPost, "/jobs", api.CreateJobRequest{SourceBucket: "in", SourceKeys: []string{"a.csv"}, DestBucket: "out"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetadata(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodGet, "/metadata", nil)
	require.Equal(t, http.StatusOK, rec.Code, "received response: "+rec.Body.String())

	metadata := decode[api.Metadata](t, rec)
	assert.Equal(t, api.Metadata{
		RunId:    env.run.Id,
		Name:     "api-test",
		Datasets: []string{core.SyntheticDataset, core.ReferenceDataset},
		Columns:  expectedColumns,
		Features: len(expectedColumns),
		Rows:     6,
	}, metadata)
}

func TestFeaturize(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodPost, "/features", api.Transaction{
		Timestamp:  ptr("2024-03-06 09:15:00"),
		CustomerId: ptr(int64(1)),
		Amount:     ptr(12.0),
		Category:   ptr("crypto"),
	})
	require.Equal(t, http.StatusOK, rec.Code, "received response: "+rec.Body.String())

	table := decode[api.FeatureTable](t, rec)
	assert.Equal(t, env.run.Id, table.RunId)
	assert.Equal(t, expectedColumns, table.Columns)
	require.Len(t, table.Rows, 1)

	assert.Equal(t, 9.0, value(t, table, 0, core.HourOfDayColumn))
	assert.Equal(t, 2.0, value(t, table, 0, core.DayOfWeekColumn))
	assert.Equal(t, 0.0, value(t, table, 0, "cat_groceries"))
	assert.Equal(t, 0.0, value(t, table, 0, "V1"))
	assert.Equal(t, "2024-03-06T09:15:00Z", value(t, table, 0, core.TimestampColumn))
	assert.NotContains(t, table.Columns, "cat_crypto")
}

func TestFeaturizeWithoutOptionalFields(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodPost, "/features", api.Transaction{Amount: ptr(12.0)})
	require.Equal(t, http.StatusOK, rec.Code, "received response: "+rec.Body.String())

	table := decode[api.FeatureTable](t, rec)
	assert.Equal(t, expectedColumns, table.Columns)
	require.Len(t, table.Rows, 1)

	assert.Nil(t, value(t, table, 0, core.TimestampColumn))
	assert.Equal(t, 0.0, value(t, table, 0, "cat_travel"))
	assert.Equal(t, 0.0, value(t, table, 0, core.HourOfDayColumn))
}

func TestFeaturizeBatch(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodPost, "/features/batch", api.BatchRequest{Records: []api.Transaction{
		{Timestamp: ptr("2024-03-04 10:00:00"), CustomerId: ptr(int64(7)), Amount: ptr(5.0), Category: ptr("travel")},
		{Timestamp: ptr("2024-03-04 10:45:00"), CustomerId: ptr(int64(7)), Amount: ptr(-2.0)},
		{ReferenceAmount: ptr(3.0), Status: ptr(1)},
	}})
	require.Equal(t, http.StatusOK, rec.Code, "received response: "+rec.Body.String())

	table := decode[api.FeatureTable](t, rec)
	assert.Equal(t, expectedColumns, table.Columns)
	require.Len(t, table.Rows, 3)

	assert.Equal(t, 1.0, value(t, table, 0, "cat_travel"))
	assert.Equal(t, 0.0, value(t, table, 1, "cat_travel"))
	assert.Equal(t, 2700.0, value(t, table, 1, core.TimeSinceLastColumn))
	assert.Nil(t, value(t, table, 2, core.TimestampColumn))
	assert.NotContains(t, table.Columns, core.StatusColumn)
}

func TestFeaturizeBadRequests(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodPost, "/features", "not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decode[api.ErrorResponse](t, rec)
	assert.Equal(t, http.StatusBadRequest, body.Status)
	assert.Contains(t, body.Error, "unable to parse request body")

	rec = env.do(t, http.MethodPost, "/features/batch", api.BatchRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	huge := `{"records": [` + strings.Repeat(`{"amount": 1.0},`, 1<<20) + `{"amount": 1.0}]}`
	rec = env.do(t, http.MethodPost, "/features/batch", huge)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRuns(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodGet, "/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	runs := decode[[]api.PipelineRun](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, env.run.Id, runs[0].Id)
	assert.Equal(t, database.RunCompleted, runs[0].Status)
	assert.Equal(t, len(expectedColumns), runs[0].Features)

	rec = env.do(t, http.MethodGet, "/runs/"+env.run.Id.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	run := decode[api.PipelineRun](t, rec)
	assert.Equal(t, "synthetic.csv", run.SyntheticSource)
	assert.NotNil(t, run.CompletionTime)

	rec = env.do(t, http.MethodGet, "/runs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/runs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFeatureJobWorkflow(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	batch := "timestamp,customer_id,amount,category\n2024-03-04 10:00:00,1,42.5,groceries\n2024-03-04 11:00:00,1,8,travel\n"
	require.NoError(t, env.store.PutObject(ctx, "transactions", "day1/a.csv", strings.NewReader(batch)))
	require.NoError(t, env.store.PutObject(ctx, "transactions", "day1/readme.txt", strings.NewReader("ignored")))

	var created api.CreateJobResponse
	t.Run("CreateJob", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/jobs", api.CreateJobRequest{
			SourceBucket: "transactions",
			SourcePrefix: "day1/",
			DestBucket:   "features",
			DestPrefix:   "/exports/",
		})
		require.Equal(t, http.StatusOK, rec.Code, "received response: "+rec.Body.String())

		created = decode[api.CreateJobResponse](t, rec)
		assert.NotEqual(t, uuid.Nil, created.JobId)
		assert.Equal(t, 1, created.FileCount)
	})

	t.Run("GetQueuedJob", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/jobs/"+created.JobId.String(), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		job := decode[api.FeatureJob](t, rec)
		assert.Equal(t, database.JobQueued, job.Status)
		assert.Equal(t, []string{"day1/a.csv"}, job.SourceKeys)
		assert.Equal(t, "exports", job.DestPrefix)
		assert.Equal(t, env.run.Id, job.RunId)

		rec = env.do(t, http.MethodDelete, "/jobs/"+created.JobId.String(), nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("ProcessJob", func(t *testing.T) {
		proc := core.NewTaskProcessor(env.db, env.store, env.queue, env.queue, core.NewPipelineRegistry(env.db), 2)

		select {
		case task := <-env.queue.Tasks():
			proc.ProcessTask(task)
		case <-time.After(time.Second):
			t.Fatal("no featurize task was published")
		}

		rec := env.do(t, http.MethodGet, "/jobs/"+created.JobId.String(), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		job := decode[api.FeatureJob](t, rec)
		assert.Equal(t, database.JobCompleted, job.Status)
		assert.Equal(t, 1, job.SucceededFileCount)
		assert.Equal(t, int64(2), job.RowCount)
		assert.NotNil(t, job.CompletionTime)

		objects, err := env.store.ListObjects(ctx, "features", "")
		require.NoError(t, err)
		require.Len(t, objects, 1)
		assert.Equal(t, core.FeatureOutputKey("exports", created.JobId, "day1/a.csv"), objects[0].Name)
	})

	t.Run("ListJobs", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/jobs?status=completed", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode[[]api.FeatureJob](t, rec), 1)

		rec = env.do(t, http.MethodGet, "/jobs?status=FAILED", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, decode[[]api.FeatureJob](t, rec))

		rec = env.do(t, http.MethodGet, "/jobs?run_id="+env.run.Id.String()+"&limit=5", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode[[]api.FeatureJob](t, rec), 1)

		rec = env.do(t, http.MethodGet, "/jobs?run_id=bad", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("DeleteJob", func(t *testing.T) {
		rec := env.do(t, http.MethodDelete, "/jobs/"+created.JobId.String(), nil)
		require.Equal(t, http.StatusOK, rec.Code, "received response: "+rec.Body.String())

		rec = env.do(t, http.MethodGet, "/jobs/"+created.JobId.String(), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		objects, err := env.store.ListObjects(ctx, "features", "")
		require.NoError(t, err)
		assert.Empty(t, objects)
	})
}

func TestCreateJobValidation(t *testing.T) {
	env := newTestEnv(t, true)

	tests := []struct {
		name string
		req  api.CreateJobRequest
		code int
	}{
		{
			name: "missing buckets",
			req:  api.CreateJobRequest{SourceKeys: []string{"a.csv"}},
			code: http.StatusUnprocessableEntity,
		},
		{
			name: "invalid prefix",
			req:  api.CreateJobRequest{SourceBucket: "in", SourceKeys: []string{"a.csv"}, DestBucket: "out", DestPrefix: "../escape"},
			code: http.StatusUnprocessableEntity,
		},
		{
			name: "no objects",
			req:  api.CreateJobRequest{SourceBucket: "in", SourcePrefix: "nothing/", DestBucket: "out"},
			code: http.StatusUnprocessableEntity,
		},
		{
			name: "malformed filter",
			req:  api.CreateJobRequest{SourceBucket: "in", SourceKeys: []string{"a.csv"}, DestBucket: "out", Filter: "amount >"},
			code: http.StatusUnprocessableEntity,
		},
		{
			name: "filter on unknown column",
			req:  api.CreateJobRequest{SourceBucket: "in", SourceKeys: []string{"a.csv"}, DestBucket: "out", Filter: "merchant = \"acme\""},
			code: http.StatusUnprocessableEntity,
		},
		{
			name: "filter comparing timestamp to a non date",
			req:  api.CreateJobRequest{SourceBucket: "in", SourceKeys: []string{"a.csv"}, DestBucket: "out", Filter: "timestamp < \"soon\""},
			code: http.StatusUnprocessableEntity,
		},
		{
			name: "filter comparing indicator to a string",
			req:  api.CreateJobRequest{SourceBucket: "in", SourceKeys: []string{"a.csv"}, DestBucket: "out", Filter: "cat_travel = \"yes\""},
			code: http.StatusUnprocessableEntity,
		},
		{
			name: "unknown run",
			req:  api.CreateJobRequest{RunId: ptr(uuid.New()), SourceBucket: "in", SourceKeys: []string{"a.csv"}, DestBucket: "out"},
			code: http.StatusNotFound,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/jobs", tc.req)
			assert.Equal(t, tc.code, rec.Code, "received response: "+rec.Body.String())
		})
	}

	rec := env.do(t, http.MethodGet, "/jobs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
