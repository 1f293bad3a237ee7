package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"txn-features/internal/database"
	"txn-features/internal/frame"
	"txn-features/internal/storage"

	"github.com/google/uuid"
	"gopkg.in/yaml.v2"
	"gorm.io/gorm"
)

const (
	UnifiedTableFile = "unified.csv"
	ManifestFile     = "manifest.yaml"
)

// Manifest describes the artifacts of a completed pipeline run. It carries
// the full pipeline state so a run can be restored from the object store
// alone.
type Manifest struct {
	RunId           uuid.UUID     `yaml:"run_id"`
	Name            string        `yaml:"name"`
	CreatedAt       time.Time     `yaml:"created_at"`
	SyntheticSource string        `yaml:"synthetic_source"`
	ReferenceSource string        `yaml:"reference_source"`
	Shuffle         bool          `yaml:"shuffle"`
	Table           string        `yaml:"table"`
	State           PipelineState `yaml:"state"`
}

func RunArtifactKey(runId uuid.UUID, file string) string {
	return path.Join(runId.String(), file)
}

// ExportPipelineRun writes the unified table and the run manifest to bucket
// and records the table location on the run.
func ExportPipelineRun(ctx context.Context, db *gorm.DB, store storage.ObjectStore, bucket string, run *database.PipelineRun, table *frame.Table) (Manifest, error) {
	var state PipelineState
	if err := json.Unmarshal(run.State, &state); err != nil {
		return Manifest{}, fmt.Errorf("error parsing state of pipeline run %s: %w", run.Id, err)
	}

	tableKey := RunArtifactKey(run.Id, UnifiedTableFile)

	var buf bytes.Buffer
	if err := frame.WriteCSV(&buf, table); err != nil {
		return Manifest{}, fmt.Errorf("error encoding unified table: %w", err)
	}
	if err := store.PutObject(ctx, bucket, tableKey, &buf); err != nil {
		return Manifest{}, fmt.Errorf("error writing unified table: %w", err)
	}

	manifest := Manifest{
		RunId:           run.Id,
		Name:            run.Name,
		CreatedAt:       run.CreationTime,
		SyntheticSource: run.SyntheticSource,
		ReferenceSource: run.ReferenceSource,
		Shuffle:         run.Shuffle,
		Table:           tableKey,
		State:           state,
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return Manifest{}, fmt.Errorf("error encoding manifest: %w", err)
	}
	if err := store.PutObject(ctx, bucket, RunArtifactKey(run.Id, ManifestFile), bytes.NewReader(data)); err != nil {
		return Manifest{}, fmt.Errorf("error writing manifest: %w", err)
	}

	if err := database.SetPipelineRunOutput(ctx, db, run.Id, bucket, tableKey); err != nil {
		return Manifest{}, err
	}

	slog.Info("exported pipeline run", "run_id", run.Id, "bucket", bucket, "table", tableKey, "rows", table.Rows())
	return manifest, nil
}

func ParseManifest(data []byte) (Manifest, error) {
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("error parsing manifest: %w", err)
	}
	return manifest, nil
}
