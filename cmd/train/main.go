package main

import (
	"context"
	"log"
	"log/slog"

	"txn-features/cmd"
	"txn-features/internal/core"
	"txn-features/internal/database"
	"txn-features/internal/source"

	"github.com/caarlos0/env/v11"
	"github.com/schollz/progressbar/v3"
)

type TrainConfig struct {
	DatabaseURL string `env:"DATABASE_URL" envDefault:"./txn-features/db/txn-features.db"`
	Storage     cmd.StorageConfig
	Pipeline    cmd.PipelineConfig
}

func main() {
	cmd.LoadEnvFile()

	var cfg TrainConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store := cmd.CreateObjectStore(cfg.Storage)

	ctx := context.Background()

	bar := progressbar.NewOptions(3,
		progressbar.OptionSetDescription("⏳ preprocessing datasets"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)

	u := core.NewUnifiedPreprocessor(source.NewFileSource(cfg.Pipeline.DataDir))
	run, table, err := core.TrainPipeline(ctx, db, u, cfg.Pipeline.Name, cfg.Pipeline.SyntheticSource, cfg.Pipeline.ReferenceSource, cfg.Pipeline.Shuffle)
	if err != nil {
		log.Fatalf("error preprocessing datasets: %v", err)
	}
	_ = bar.Add(1)

	bar.Describe("⏳ creating pipeline bucket")
	if err := store.CreateBucket(ctx, cfg.Pipeline.OutputBucket); err != nil {
		log.Fatalf("error creating pipeline bucket: %v", err)
	}
	_ = bar.Add(1)

	bar.Describe("⏳ exporting artifacts")
	manifest, err := core.ExportPipelineRun(ctx, db, store, cfg.Pipeline.OutputBucket, run, table)
	if err != nil {
		log.Fatalf("error exporting pipeline run: %v", err)
	}
	_ = bar.Finish()

	slog.Info("pipeline run complete",
		"run_id", run.Id,
		"rows", table.Rows(),
		"features", len(manifest.State.Contract),
		"bucket", cfg.Pipeline.OutputBucket,
		"table", manifest.Table,
	)
}
