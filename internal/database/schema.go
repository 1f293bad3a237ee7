package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RunRunning   string = "RUNNING"
	RunCompleted string = "COMPLETED"
	RunFailed    string = "FAILED"
)

// PipelineRun records one training-time preprocessing run. State holds the
// serialized contract and scaler parameters once the run completes.
type PipelineRun struct {
	Id   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name string

	Status string `gorm:"size:20;not null"`

	SyntheticSource string
	ReferenceSource string
	Shuffle         bool

	Rows     int `gorm:"default:0"`
	Features int `gorm:"default:0"`
	State    datatypes.JSON

	OutputBucket sql.NullString
	OutputKey    sql.NullString

	CreationTime   time.Time
	CompletionTime sql.NullTime

	Errors []PipelineRunError `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`
}

type PipelineRunError struct {
	RunId     uuid.UUID `gorm:"type:uuid;primaryKey"`
	ErrorId   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Error     string
	Timestamp time.Time
}

const (
	JobQueued    string = "QUEUED"
	JobRunning   string = "RUNNING"
	JobCompleted string = "COMPLETED"
	JobFailed    string = "FAILED"
)

// FeatureJob featurizes a batch of transaction files with the runtime path of
// a completed pipeline run.
type FeatureJob struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	RunId uuid.UUID    `gorm:"type:uuid"`
	Run   *PipelineRun `gorm:"foreignKey:RunId"`

	Status string `gorm:"size:20;not null"`

	SourceBucket string
	SourceKeys   datatypes.JSON
	DestBucket   string
	DestPrefix   string

	// RowFilter is an optional filter query applied to each featurized file.
	RowFilter sql.NullString

	SucceededFileCount int   `gorm:"default:0"`
	FailedFileCount    int   `gorm:"default:0"`
	TotalFileCount     int   `gorm:"default:0"`
	RowCount           int64 `gorm:"default:0"`

	CreationTime   time.Time
	StartTime      sql.NullTime
	CompletionTime sql.NullTime

	Errors []FeatureJobError `gorm:"foreignKey:JobId;constraint:OnDelete:CASCADE"`
}

type FeatureJobError struct {
	JobId     uuid.UUID `gorm:"type:uuid;primaryKey"`
	ErrorId   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Object    string
	Error     string
	Timestamp time.Time
}
