package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"txn-features/cmd"
	"txn-features/internal/api"
	"txn-features/internal/core"
	"txn-features/internal/database"
	"txn-features/internal/messaging"
	"txn-features/internal/storage"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"
)

type Config struct {
	Root              string `env:"ROOT" envDefault:"./txn-features"`
	Port              int    `env:"PORT" envDefault:"3001"`
	WorkerConcurrency int    `env:"CONCURRENCY" envDefault:"4"`
	TrainOnStartup    bool   `env:"TRAIN_ON_STARTUP" envDefault:"true"`
	Pipeline          cmd.PipelineConfig
}

func createDatabase(root string) *gorm.DB {
	db, err := database.NewDatabase(filepath.Join(root, "db", "txn-features.db"))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	return db
}

// createQueue requeues jobs that were accepted but never picked up before the
// previous shutdown.
func createQueue(db *gorm.DB) *messaging.InMemoryQueue {
	var jobs []database.FeatureJob
	if err := db.Where("status IN ?", []string{database.JobQueued, database.JobRunning}).Find(&jobs).Error; err != nil {
		log.Fatalf("Failed to fetch feature jobs from database: %v", err)
	}

	queue := messaging.NewInMemoryQueue()

	for _, job := range jobs {
		if err := queue.PublishFeaturizeTask(context.Background(), messaging.FeaturizeTaskPayload{JobId: job.Id}); err != nil {
			log.Fatalf("Failed to publish featurize task: %v", err)
		}
	}

	if len(jobs) > 0 {
		slog.Info("requeued unfinished feature jobs", "count", len(jobs))
	}

	return queue
}

func createServer(service *api.BackendService, port int) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api/v1", func(r chi.Router) {
		service.AddRoutes(r)
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

func main() {
	cmd.LoadEnvFile()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating root directory: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(cfg.Root, "backend.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(f, os.Stderr))

	slog.Info("starting backend", "root", cfg.Root, "port", cfg.Port, "data_dir", cfg.Pipeline.DataDir)

	db := createDatabase(cfg.Root)

	store, err := storage.NewLocalObjectStore(filepath.Join(cfg.Root, "storage"))
	if err != nil {
		log.Fatalf("failed to create storage: %v", err)
	}

	registry := core.NewPipelineRegistry(db)
	runId := cmd.EstablishPipeline(context.Background(), db, store, registry, cfg.Pipeline, cfg.TrainOnStartup)

	queue := createQueue(db)

	worker := core.NewTaskProcessor(db, store, queue, queue, registry, cfg.WorkerConcurrency)

	server := createServer(api.NewBackendService(db, store, queue, registry, runId), cfg.Port)

	slog.Info("starting worker")
	go worker.Start()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}

		slog.Info("shutting down worker")
		worker.Stop()
	}()

	slog.Info("server started", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	slog.Info("server stopped")
}
