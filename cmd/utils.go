package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"

	"txn-features/internal/core"
	"txn-features/internal/database"
	"txn-features/internal/frame"
	"txn-features/internal/source"
	"txn-features/internal/storage"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// StorageConfig selects the object store: "local" keeps objects under
// LocalDir, "s3" talks to S3 or an S3 compatible endpoint.
type StorageConfig struct {
	Backend  string `env:"STORAGE_BACKEND" envDefault:"local"`
	LocalDir string `env:"STORAGE_DIR" envDefault:"./storage"`
	S3       storage.S3ClientConfig
}

func CreateObjectStore(cfg StorageConfig) storage.ObjectStore {
	switch cfg.Backend {
	case "local":
		store, err := storage.NewLocalObjectStore(cfg.LocalDir)
		if err != nil {
			log.Fatalf("failed to create local object store: %v", err)
		}
		return store
	case "s3":
		store, err := storage.NewS3ObjectStore(cfg.S3)
		if err != nil {
			log.Fatalf("failed to create s3 object store: %v", err)
		}
		return store
	default:
		log.Fatalf("invalid STORAGE_BACKEND '%s': must be either 'local' or 's3'", cfg.Backend)
		return nil
	}
}

// PipelineConfig names the two training datasets. s3://bucket/key paths are
// read from the object store. Other paths are tried literally first and then
// relative to DataDir.
type PipelineConfig struct {
	Name            string `env:"RUN_NAME" envDefault:"unified"`
	DataDir         string `env:"DATA_DIR" envDefault:"./data"`
	SyntheticSource string `env:"SYNTHETIC_SOURCE" envDefault:"synthetic_transactions.csv"`
	ReferenceSource string `env:"REFERENCE_SOURCE" envDefault:"creditcard.csv"`
	Shuffle         bool   `env:"SHUFFLE" envDefault:"true"`
	OutputBucket    string `env:"PIPELINE_BUCKET" envDefault:"pipelines"`
}

// TrainAndExport runs the training-time preprocessing, records the run and
// exports its artifacts to the store.
func TrainAndExport(ctx context.Context, db *gorm.DB, store storage.ObjectStore, cfg PipelineConfig) (*database.PipelineRun, *core.UnifiedPreprocessor, *frame.Table, error) {
	u := core.NewUnifiedPreprocessor(source.NewRoutingSource(source.NewFileSource(cfg.DataDir), store))

	run, table, err := core.TrainPipeline(ctx, db, u, cfg.Name, cfg.SyntheticSource, cfg.ReferenceSource, cfg.Shuffle)
	if err != nil {
		return nil, nil, nil, err
	}

	if err := store.CreateBucket(ctx, cfg.OutputBucket); err != nil {
		return nil, nil, nil, fmt.Errorf("error creating pipeline bucket: %w", err)
	}

	if _, err := core.ExportPipelineRun(ctx, db, store, cfg.OutputBucket, run, table); err != nil {
		return nil, nil, nil, err
	}

	return run, u, table, nil
}

// EstablishPipeline registers the pipeline run the service should serve. With
// train set the datasets are preprocessed now, otherwise the most recent
// completed run is restored. uuid.Nil is returned when there is nothing to
// serve yet.
func EstablishPipeline(ctx context.Context, db *gorm.DB, store storage.ObjectStore, registry *core.PipelineRegistry, cfg PipelineConfig, train bool) uuid.UUID {
	if train {
		run, u, _, err := TrainAndExport(ctx, db, store, cfg)
		if err != nil {
			log.Fatalf("error training pipeline: %v", err)
		}
		registry.Register(run.Id, u)
		return run.Id
	}

	run, err := database.LatestCompletedRun(ctx, db)
	if err != nil {
		if errors.Is(err, database.ErrRunNotFound) {
			slog.Warn("no completed pipeline run found, feature endpoints are unavailable until one is trained")
			return uuid.Nil
		}
		log.Fatalf("error loading latest pipeline run: %v", err)
	}

	if _, err := registry.Get(ctx, run.Id); err != nil {
		log.Fatalf("error restoring pipeline run %s: %v", run.Id, err)
	}

	slog.Info("serving pipeline run", "run_id", run.Id, "name", run.Name, "features", run.Features)
	return run.Id
}
