package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"txn-features/internal/core"
	"txn-features/internal/database"
	"txn-features/internal/messaging"
	"txn-features/internal/storage"
	"txn-features/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultJobListLimit = 100

type BackendService struct {
	db        *gorm.DB
	storage   storage.ObjectStore
	publisher messaging.Publisher
	pipelines *core.PipelineRegistry

	// runId is the pipeline run served by the feature endpoints. uuid.Nil
	// means no contract is established yet.
	runId uuid.UUID
}

func NewBackendService(db *gorm.DB, storage storage.ObjectStore, pub messaging.Publisher, pipelines *core.PipelineRegistry, runId uuid.UUID) *BackendService {
	return &BackendService{db: db, storage: storage, publisher: pub, pipelines: pipelines, runId: runId}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Get("/metadata", RestHandler(s.GetMetadata))

	r.Route("/features", func(r chi.Router) {
		r.Post("/", RestHandler(s.Featurize))
		r.Post("/batch", RestHandler(s.FeaturizeBatch))
	})

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", RestHandler(s.ListRuns))
		r.Get("/{run_id}", RestHandler(s.GetRun))
	})

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", RestHandler(s.CreateJob))
		r.Get("/", RestHandler(s.ListJobs))
		r.Get("/{job_id}", RestHandler(s.GetJob))
		r.Delete("/{job_id}", RestHandler(s.DeleteJob))
	})
}

func (s *BackendService) pipeline(ctx context.Context) (*core.UnifiedPreprocessor, error) {
	if s.runId == uuid.Nil {
		return nil, CodedError(http.StatusServiceUnavailable, core.ErrContractNotEstablished)
	}

	u, err := s.pipelines.Get(ctx, s.runId)
	if err != nil {
		slog.Error("error loading pipeline", "run_id", s.runId, "error", err)
		return nil, pipelineError(err)
	}
	return u, nil
}

func (s *BackendService) GetMetadata(r *http.Request) (any, error) {
	ctx := r.Context()

	u, err := s.pipeline(ctx)
	if err != nil {
		return nil, err
	}

	run, err := database.GetPipelineRun(ctx, s.db, s.runId)
	if err != nil {
		return nil, pipelineError(err)
	}

	contract, err := u.Contract()
	if err != nil {
		return nil, pipelineError(err)
	}

	return api.Metadata{
		RunId:    run.Id,
		Name:     run.Name,
		Datasets: u.Datasets(),
		Columns:  contract,
		Features: len(contract),
		Rows:     run.Rows,
	}, nil
}

func (s *BackendService) Featurize(r *http.Request) (any, error) {
	req, err := ParseRequest[api.Transaction](r)
	if err != nil {
		return nil, err
	}

	u, err := s.pipeline(r.Context())
	if err != nil {
		return nil, err
	}

	features, err := u.PreprocessRecords(transactionRecords([]api.Transaction{req}))
	if err != nil {
		return nil, pipelineError(err)
	}

	return convertFeatureTable(s.runId, features), nil
}

func (s *BackendService) FeaturizeBatch(r *http.Request) (any, error) {
	req, err := ParseRequest[api.BatchRequest](r)
	if err != nil {
		return nil, err
	}

	if len(req.Records) == 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "no records provided")
	}

	u, err := s.pipeline(r.Context())
	if err != nil {
		return nil, err
	}

	features, err := u.PreprocessRecords(transactionRecords(req.Records))
	if err != nil {
		return nil, pipelineError(err)
	}

	slog.Info("featurized batch", "run_id", s.runId, "records", len(req.Records))
	return convertFeatureTable(s.runId, features), nil
}

func (s *BackendService) ListRuns(r *http.Request) (any, error) {
	var runs []database.PipelineRun
	if err := s.db.WithContext(r.Context()).Preload("Errors").Order("creation_time DESC").Find(&runs).Error; err != nil {
		slog.Error("error listing pipeline runs", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving pipeline runs")
	}
	return convertRuns(runs), nil
}

func (s *BackendService) GetRun(r *http.Request) (any, error) {
	runId, err := URLParamUUID(r, "run_id")
	if err != nil {
		return nil, err
	}

	run, err := database.GetPipelineRun(r.Context(), s.db, runId)
	if err != nil {
		return nil, pipelineError(err)
	}
	return convertRun(*run), nil
}

func (s *BackendService) CreateJob(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreateJobRequest](r)
	if err != nil {
		return nil, err
	}

	if req.SourceBucket == "" || req.DestBucket == "" {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "missing required fields: SourceBucket, DestBucket")
	}

	destPrefix := strings.Trim(req.DestPrefix, "/")
	if err := validatePrefix(destPrefix); err != nil {
		return nil, err
	}

	query := strings.TrimSpace(req.Filter)
	var filter core.Filter
	if query != "" {
		filter, err = core.ParseQuery(query)
		if err != nil {
			return nil, CodedError(http.StatusUnprocessableEntity, err)
		}
	}

	ctx := r.Context()

	runId := s.runId
	if req.RunId != nil {
		runId = *req.RunId
	}
	if runId == uuid.Nil {
		return nil, CodedError(http.StatusServiceUnavailable, core.ErrContractNotEstablished)
	}

	run, err := database.GetPipelineRun(ctx, s.db, runId)
	if err != nil {
		return nil, pipelineError(err)
	}
	if run.Status != database.RunCompleted {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "pipeline run is not ready: pipeline run has status: %s", run.Status)
	}

	if filter != nil {
		pipeline, err := s.pipelines.Get(ctx, runId)
		if err != nil {
			return nil, pipelineError(err)
		}
		schema, err := pipeline.Schema()
		if err != nil {
			return nil, pipelineError(err)
		}
		if err := core.CheckFilter(filter, schema); err != nil {
			return nil, CodedError(http.StatusUnprocessableEntity, err)
		}
	}

	keys := req.SourceKeys
	if len(keys) == 0 {
		keys, err = s.listSourceKeys(ctx, req.SourceBucket, req.SourcePrefix)
		if err != nil {
			return nil, err
		}
	}
	if len(keys) == 0 {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "no source objects found in %s", req.SourceBucket)
	}

	sourceKeys, err := json.Marshal(keys)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error serializing source keys: %v", err)
	}

	job := database.FeatureJob{
		Id:             uuid.New(),
		RunId:          runId,
		Status:         database.JobQueued,
		SourceBucket:   req.SourceBucket,
		SourceKeys:     datatypes.JSON(sourceKeys),
		DestBucket:     req.DestBucket,
		DestPrefix:     destPrefix,
		RowFilter:      sql.NullString{String: query, Valid: query != ""},
		TotalFileCount: len(keys),
		CreationTime:   time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		slog.Error("error creating feature job", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create feature job entry")
	}

	if err := s.publisher.PublishFeaturizeTask(ctx, messaging.FeaturizeTaskPayload{JobId: job.Id}); err != nil {
		slog.Error("error publishing featurize task", "job_id", job.Id, "error", err)
		database.SaveFeatureJobError(ctx, s.db, job.Id, "", "failed to queue featurize task")
		if err := database.UpdateFeatureJobStatus(ctx, s.db, job.Id, database.JobFailed); err != nil {
			slog.Error("error marking feature job failed", "job_id", job.Id, "error", err)
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue featurize task")
	}

	slog.Info("submitted feature job", "job_id", job.Id, "run_id", runId, "files", len(keys))
	return api.CreateJobResponse{JobId: job.Id, FileCount: len(keys)}, nil
}

// listSourceKeys returns the CSV objects under prefix, skipping feature files
// written by earlier jobs.
func (s *BackendService) listSourceKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	objects, err := s.storage.ListObjects(ctx, bucket, prefix)
	if err != nil {
		slog.Error("error listing source objects", "bucket", bucket, "prefix", prefix, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to list objects in source bucket")
	}

	var keys []string
	for _, obj := range objects {
		if strings.HasSuffix(obj.Name, ".csv") && !strings.HasSuffix(obj.Name, core.FeatureFileSuffix) {
			keys = append(keys, obj.Name)
		}
	}
	return keys, nil
}

func (s *BackendService) getJob(ctx context.Context, jobId uuid.UUID) (database.FeatureJob, error) {
	var job database.FeatureJob
	if err := s.db.WithContext(ctx).Preload("Errors").First(&job, "id = ?", jobId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return job, CodedErrorf(http.StatusNotFound, "feature job not found")
		}
		slog.Error("error getting feature job", "job_id", jobId, "error", err)
		return job, CodedErrorf(http.StatusInternalServerError, "error retrieving feature job record")
	}
	return job, nil
}

func (s *BackendService) GetJob(r *http.Request) (any, error) {
	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		return nil, err
	}

	job, err := s.getJob(r.Context(), jobId)
	if err != nil {
		return nil, err
	}
	return convertJob(job), nil
}

func (s *BackendService) ListJobs(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.ListJobsParams](r)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(r.Context()).Preload("Errors").Order("creation_time DESC")
	if params.Status != "" {
		query = query.Where("status = ?", strings.ToUpper(params.Status))
	}
	if params.RunId != "" {
		runId, err := uuid.Parse(params.RunId)
		if err != nil {
			return nil, CodedErrorf(http.StatusBadRequest, "invalid run_id query param: %v", err)
		}
		query = query.Where("run_id = ?", runId)
	}

	limit := params.Limit
	if limit <= 0 {
		limit = defaultJobListLimit
	}

	var jobs []database.FeatureJob
	if err := query.Limit(limit).Find(&jobs).Error; err != nil {
		slog.Error("error listing feature jobs", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving feature jobs")
	}
	return convertJobs(jobs), nil
}

// DeleteJob removes a finished job together with the feature files it wrote.
func (s *BackendService) DeleteJob(r *http.Request) (any, error) {
	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	job, err := s.getJob(ctx, jobId)
	if err != nil {
		return nil, err
	}

	if job.Status == database.JobQueued || job.Status == database.JobRunning {
		return nil, CodedErrorf(http.StatusConflict, "feature job has status %s and cannot be deleted", job.Status)
	}

	if err := s.storage.DeleteObjects(ctx, job.DestBucket, core.FeatureOutputPrefix(job.DestPrefix, job.Id)+"/"); err != nil {
		slog.Error("error deleting feature job outputs", "job_id", jobId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to delete feature job outputs")
	}

	err = s.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		if err := txn.Delete(&database.FeatureJobError{}, "job_id = ?", jobId).Error; err != nil {
			return err
		}
		return txn.Delete(&database.FeatureJob{}, "id = ?", jobId).Error
	})
	if err != nil {
		slog.Error("error deleting feature job", "job_id", jobId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to delete feature job")
	}

	slog.Info("deleted feature job", "job_id", jobId)
	return nil, nil
}
