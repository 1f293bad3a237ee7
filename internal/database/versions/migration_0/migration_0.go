package migration_0

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

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
}

type PipelineRunError struct {
	RunId     uuid.UUID `gorm:"type:uuid;primaryKey"`
	ErrorId   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Error     string
	Timestamp time.Time
}

type FeatureJob struct {
	Id    uuid.UUID `gorm:"type:uuid;primaryKey"`
	RunId uuid.UUID `gorm:"type:uuid"`

	Status string `gorm:"size:20;not null"`

	SourceBucket string
	SourceKeys   datatypes.JSON
	DestBucket   string
	DestPrefix   string

	SucceededFileCount int `gorm:"default:0"`
	FailedFileCount    int `gorm:"default:0"`
	TotalFileCount     int `gorm:"default:0"`

	CreationTime   time.Time
	StartTime      sql.NullTime
	CompletionTime sql.NullTime
}

type FeatureJobError struct {
	JobId     uuid.UUID `gorm:"type:uuid;primaryKey"`
	ErrorId   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Object    string
	Error     string
	Timestamp time.Time
}

func Migration(db *gorm.DB) error {
	return db.AutoMigrate(&PipelineRun{}, &PipelineRunError{}, &FeatureJob{}, &FeatureJobError{})
}
