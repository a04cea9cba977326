// Package main provides the FloatChat ingestion worker.
//
// The worker consumes ingestion jobs from Kafka and runs each one through
// the pipeline: stage from object storage, validate, parse, clean, write to
// PostGIS, summarize metadata, and index embeddings. A background sweeper
// fails jobs stuck running or pending beyond their staleness thresholds.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/floatchat-io/floatchat/internal/config"
	"github.com/floatchat-io/floatchat/internal/ingest"
	"github.com/floatchat-io/floatchat/internal/llm"
	"github.com/floatchat-io/floatchat/internal/objectstore"
	"github.com/floatchat-io/floatchat/internal/search"
	"github.com/floatchat-io/floatchat/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "floatchat-worker"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	logger.Info("Starting FloatChat ingestion worker",
		slog.String("service", name),
		slog.String("version", version),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storageConfig := storage.LoadConfig()
	if err := storageConfig.Validate(); err != nil {
		logger.Error("Invalid storage configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	db, err := storage.Connect(ctx, storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = db.Close()
	}()

	logger.Info("Database connection established",
		slog.String("database_url", storage.MaskDatabaseURL(storageConfig.DatabaseURL())),
		slog.Int("insert_batch_size", storageConfig.InsertBatchSize),
	)

	objectConfig := objectstore.LoadConfig()

	objects, err := objectstore.NewClient(ctx, objectConfig, logger)
	if err != nil {
		logger.Error("Failed to create object store client", slog.String("error", err.Error()))

		_ = db.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	brokerConfig := ingest.LoadBrokerConfig()
	dispatcher := ingest.NewKafkaDispatcher(brokerConfig, logger)

	defer func() {
		_ = dispatcher.Close()
	}()

	jobStore := storage.NewJobStore(db, logger)
	datasetStore := storage.NewDatasetStore(db, logger)
	writer := storage.NewProfileWriter(db, storageConfig, logger)

	// The metadata summarizer is optional: a missing LLM key falls back to
	// the deterministic summary template.
	var summarizer ingest.Summarizer

	provider, err := llm.NewProvider(llm.LoadConfig())
	if err != nil {
		logger.Warn("LLM provider unavailable - dataset summaries use the fallback template",
			slog.String("error", err.Error()))

		summarizer = ingest.NewLLMSummarizer(nil, logger)
	} else {
		summarizer = ingest.NewLLMSummarizer(provider, logger)
	}

	// Embedding indexing is optional as well.
	var indexer ingest.Indexer

	embedder, err := search.NewEmbedder(search.LoadEmbedderConfig())
	switch {
	case errors.Is(err, search.ErrEmbedderDisabled):
		logger.Info("Embedding indexing disabled - EMBEDDING_PROVIDER not set")
	case err != nil:
		logger.Warn("Embedder unavailable - embedding indexing disabled", slog.String("error", err.Error()))
	default:
		indexer = search.NewIndexer(storage.NewEmbeddingStore(db, logger), embedder, logger)
	}

	if seedPath := config.GetEnvStr("REGION_SEED_FILE", ""); seedPath != "" {
		regions := storage.NewRegionStore(db, logger)

		inserted, err := regions.SeedRegions(ctx, seedPath)
		if err != nil {
			logger.Error("Failed to seed ocean regions",
				slog.String("path", seedPath), slog.String("error", err.Error()))
			os.Exit(1)
		}

		logger.Info("Ocean region seeding complete",
			slog.String("path", seedPath), slog.Int("inserted", inserted))
	}

	pipeline := ingest.NewPipeline(ingest.PipelineDeps{
		Jobs:       jobStore,
		Datasets:   datasetStore,
		Writer:     writer,
		Objects:    objects,
		Dispatcher: dispatcher,
		Summarizer: summarizer,
		Indexer:    indexer,
	}, logger)

	sweeper, err := ingest.NewSweeper(jobStore, logger)
	if err != nil {
		logger.Error("Failed to create sweeper", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := sweeper.Start(ctx); err != nil {
		logger.Error("Failed to start sweeper", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = sweeper.Stop()
	}()

	consumer := ingest.NewConsumer(brokerConfig, pipeline, jobStore, logger)

	defer func() {
		_ = consumer.Close()
	}()

	logger.Info("Worker ready",
		slog.String("topic", brokerConfig.Topic),
		slog.String("group", brokerConfig.GroupID),
		slog.Any("brokers", brokerConfig.Brokers),
	)

	if err := consumer.Run(ctx); err != nil {
		logger.Error("Consumer stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("FloatChat ingestion worker stopped")
}
