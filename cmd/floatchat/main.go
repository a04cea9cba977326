// Package main provides the FloatChat API service.
//
// The API server accepts NetCDF uploads, dispatches ingestion jobs to the
// worker over Kafka, and serves the natural-language query and chat surface.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"log/slog"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/floatchat-io/floatchat/internal/api"
	"github.com/floatchat-io/floatchat/internal/api/middleware"
	"github.com/floatchat-io/floatchat/internal/config"
	"github.com/floatchat-io/floatchat/internal/ingest"
	"github.com/floatchat-io/floatchat/internal/llm"
	"github.com/floatchat-io/floatchat/internal/objectstore"
	"github.com/floatchat-io/floatchat/internal/query"
	"github.com/floatchat-io/floatchat/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "floatchat"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting FloatChat API service",
		slog.String("service", name),
		slog.String("version", version),
	)

	logger.Info("Loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.Int64("max_upload_size_bytes", serverConfig.MaxUploadSizeBytes),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	middlewareConfig := middleware.LoadConfig()
	rateLimiter := middleware.NewInMemoryRateLimiter(middlewareConfig)

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", middlewareConfig.GlobalRPS),
		slog.Int("global_burst", middlewareConfig.GlobalBurst),
		slog.Int("client_rps", middlewareConfig.ClientRPS),
		slog.Int("client_burst", middlewareConfig.ClientBurst),
	)

	ctx := context.Background()

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

	roDB, err := storage.ConnectReadonly(ctx, storageConfig)
	if err != nil {
		logger.Error("Failed to connect to read-only database", slog.String("error", err.Error()))

		_ = db.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	defer func() {
		_ = roDB.Close()
	}()

	logger.Info("Database connections established",
		slog.String("database_url", storage.MaskDatabaseURL(storageConfig.DatabaseURL())),
		slog.Int("max_open_conns", storageConfig.MaxOpenConns),
	)

	objectConfig := objectstore.LoadConfig()

	objects, err := objectstore.NewClient(ctx, objectConfig, logger)
	if err != nil {
		logger.Error("Failed to create object store client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	brokerConfig := ingest.LoadBrokerConfig()
	dispatcher := ingest.NewKafkaDispatcher(brokerConfig, logger)

	defer func() {
		_ = dispatcher.Close()
	}()

	logger.Info("Job dispatcher initialized",
		slog.String("topic", brokerConfig.Topic),
		slog.Any("brokers", brokerConfig.Brokers),
	)

	llmConfig := llm.LoadConfig()

	provider, err := llm.NewProvider(llmConfig)
	if err != nil {
		logger.Error("Failed to create LLM provider", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("LLM provider initialized", slog.String("provider", provider.Name()))

	redisClient := newRedisClient(logger)

	jobStore := storage.NewJobStore(db, logger)
	datasetStore := storage.NewDatasetStore(db, logger)
	chatStore := storage.NewChatStore(db, logger)

	deps := api.Deps{
		Jobs:          jobStore,
		Datasets:      datasetStore,
		Objects:       objects,
		Dispatcher:    dispatcher,
		Generator:     query.NewPipeline(provider, logger),
		Executor:      query.NewExecutor(roDB, logger),
		Conversations: query.NewContextStore(redisClient, logger),
		Chat:          chatStore,
		Suggestions:   query.NewSuggester(datasetStore, provider, redisClient, logger),
		GeneratorFor: func(providerName, model string) (api.SQLGenerator, error) {
			overrideConfig := llm.LoadConfig()
			overrideConfig.Provider = providerName
			if model != "" {
				overrideConfig.Model = model
			}

			override, err := llm.NewProvider(overrideConfig)
			if err != nil {
				return nil, err
			}

			return query.NewPipeline(override, logger), nil
		},
		BenchmarkProviders: benchmarkProviders(llmConfig, logger),
		HealthChecks:       healthChecks(db, redisClient, objects),
		RateLimiter:        rateLimiter,
	}

	server := api.NewServer(serverConfig, deps)

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info("FloatChat API service stopped")
}

// newRedisClient connects to REDIS_URL. Redis is optional: conversation
// context and suggestion caching degrade gracefully without it, so a missing
// or malformed URL logs a warning and returns nil.
func newRedisClient(logger *slog.Logger) *redis.Client {
	url := config.GetEnvStr("REDIS_URL", "")
	if url == "" {
		logger.Warn("REDIS_URL not set - conversation context and suggestion caching disabled")

		return nil
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		logger.Warn("Invalid REDIS_URL - conversation context and suggestion caching disabled",
			slog.String("error", err.Error()))

		return nil
	}

	return redis.NewClient(opts)
}

// benchmarkProviders builds one provider per configured API key for the
// benchmark endpoint. Providers that fail to construct are skipped.
func benchmarkProviders(base *llm.Config, logger *slog.Logger) []llm.Provider {
	candidates := map[string]string{
		llm.ProviderAnthropic: base.AnthropicAPIKey,
		llm.ProviderGemini:    base.GeminiAPIKey,
		llm.ProviderOpenAI:    base.OpenAIAPIKey,
		llm.ProviderDeepSeek:  base.DeepSeekAPIKey,
		llm.ProviderQwen:      base.QwenAPIKey,
	}

	providers := make([]llm.Provider, 0, len(candidates))

	for providerName, apiKey := range candidates {
		if apiKey == "" {
			continue
		}

		cfg := *base
		cfg.Provider = providerName
		cfg.Model = ""

		provider, err := llm.NewProvider(&cfg)
		if err != nil {
			logger.Warn("Skipping benchmark provider",
				slog.String("provider", providerName), slog.String("error", err.Error()))

			continue
		}

		providers = append(providers, provider)
	}

	return providers
}

func healthChecks(db *sql.DB, redisClient *redis.Client, objects *objectstore.Client) map[string]api.HealthCheck {
	checks := map[string]api.HealthCheck{
		"database": db.PingContext,
		"object_store": func(ctx context.Context) error {
			return objects.Health(ctx)
		},
	}

	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}

	return checks
}
