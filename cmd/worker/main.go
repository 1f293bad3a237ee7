package main

import (
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"txn-features/cmd"
	"txn-features/internal/core"
	"txn-features/internal/database"
	"txn-features/internal/messaging"

	"github.com/caarlos0/env/v11"
)

type WorkerConfig struct {
	DatabaseURL       string `env:"DATABASE_URL,notEmpty,required"`
	WorkerConcurrency int    `env:"CONCURRENCY" envDefault:"4"`
	RabbitMQ          messaging.RabbitMQConfig
	Storage           cmd.StorageConfig
}

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store := cmd.CreateObjectStore(cfg.Storage)

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQ)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	worker := core.NewTaskProcessor(db, store, nil, receiver, core.NewPipelineRegistry(db), cfg.WorkerConcurrency)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		slog.Info("shutdown signal received, stopping worker")
		worker.Stop()
	}()

	log.Println("Worker started. Waiting for tasks. Press Ctrl+C to exit.")
	worker.Start()

	log.Println("Worker process stopped.")
}
