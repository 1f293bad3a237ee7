package api

import (
	"time"

	"github.com/google/uuid"
)

// Transaction is a single runtime transaction. Every field is optional; fields
// that are absent are zero filled when projected onto the training schema.
// The two amount fields follow the naming of the two training datasets.
type Transaction struct {
	Timestamp       *string  `json:"timestamp,omitempty"`
	CustomerId      *int64   `json:"customer_id,omitempty"`
	Amount          *float64 `json:"amount,omitempty"`
	ReferenceAmount *float64 `json:"Amount,omitempty"`
	Category        *string  `json:"category,omitempty"`
	Status          *int     `json:"status,omitempty"`
}

type BatchRequest struct {
	Records []Transaction `json:"records"`
}

// FeatureTable is a preprocessed table in training schema order. Missing
// values are null and timestamps are RFC 3339 strings.
type FeatureTable struct {
	RunId   uuid.UUID `json:"run_id"`
	Columns []string  `json:"columns"`
	Rows    [][]any   `json:"rows"`
}

type Metadata struct {
	RunId    uuid.UUID `json:"run_id"`
	Name     string    `json:"name"`
	Datasets []string  `json:"datasets"`
	Columns  []string  `json:"columns"`
	Features int       `json:"features"`
	Rows     int       `json:"rows"`
}

type PipelineRun struct {
	Id              uuid.UUID
	Name            string
	Status          string
	SyntheticSource string
	ReferenceSource string
	Shuffle         bool
	Rows            int
	Features        int

	OutputBucket string `json:"OutputBucket,omitempty"`
	OutputKey    string `json:"OutputKey,omitempty"`

	CreationTime   time.Time
	CompletionTime *time.Time `json:"CompletionTime,omitempty"`

	Errors []string `json:"Errors,omitempty"`
}

type CreateJobRequest struct {
	// RunId defaults to the pipeline run the service is serving.
	RunId *uuid.UUID

	SourceBucket string
	// Either SourceKeys or SourcePrefix selects the objects to featurize.
	SourceKeys   []string
	SourcePrefix string

	DestBucket string
	DestPrefix string

	// Filter keeps only the featurized rows matching the query, for example
	// `amount > 0.5 AND NOT time_since_last IS MISSING`.
	Filter string
}

type CreateJobResponse struct {
	JobId     uuid.UUID
	FileCount int
}

type JobError struct {
	Object string `json:"Object,omitempty"`
	Error  string
}

type FeatureJob struct {
	Id    uuid.UUID
	RunId uuid.UUID

	Status string

	SourceBucket string
	SourceKeys   []string
	DestBucket   string
	DestPrefix   string
	Filter       string

	SucceededFileCount int
	FailedFileCount    int
	TotalFileCount     int
	RowCount           int64

	CreationTime   time.Time
	StartTime      *time.Time `json:"StartTime,omitempty"`
	CompletionTime *time.Time `json:"CompletionTime,omitempty"`

	Errors []JobError `json:"Errors,omitempty"`
}

type ListJobsParams struct {
	Status string `schema:"status"`
	RunId  string `schema:"run_id"`
	Limit  int    `schema:"limit"`
}

// ErrorResponse is the body of every non 200 response.
type ErrorResponse struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
}
