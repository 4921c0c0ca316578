package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/etlplatform/internal/adapters/github"
	"github.com/ternarybob/etlplatform/internal/adapters/jira"
	"github.com/ternarybob/etlplatform/internal/api"
	"github.com/ternarybob/etlplatform/internal/common"
	"github.com/ternarybob/etlplatform/internal/embeddings"
	"github.com/ternarybob/etlplatform/internal/httpclient"
	"github.com/ternarybob/etlplatform/internal/interfaces"
	"github.com/ternarybob/etlplatform/internal/models"
	"github.com/ternarybob/etlplatform/internal/orchestrator"
	"github.com/ternarybob/etlplatform/internal/progress"
	"github.com/ternarybob/etlplatform/internal/queue"
	"github.com/ternarybob/etlplatform/internal/services/cache"
	"github.com/ternarybob/etlplatform/internal/services/kv"
	"github.com/ternarybob/etlplatform/internal/storage/sqlite"
	"github.com/ternarybob/etlplatform/internal/vectorstore"
	"github.com/ternarybob/etlplatform/internal/workers/embed"
	extractworker "github.com/ternarybob/etlplatform/internal/workers/extract"
	"github.com/ternarybob/etlplatform/internal/workers/transform"
)

// configPaths is a custom flag type that allows multiple -config flags.
type configPaths []string

func (c *configPaths) String() string { return fmt.Sprintf("%v", *c) }
func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

func main() {
	common.InstallCrashHandler("./logs")
	defer common.RecoverWithCrashFile()

	var configFiles configPaths
	flag.Var(&configFiles, "config", "configuration file path (repeatable, later files override earlier ones)")
	flag.Var(&configFiles, "c", "configuration file path (shorthand)")
	showVersion := flag.Bool("version", false, "print version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("etl-server version %s\n", common.GetVersion())
		os.Exit(0)
	}

	if len(configFiles) == 0 {
		if _, err := os.Stat("etl.toml"); err == nil {
			configFiles = append(configFiles, "etl.toml")
		}
	}

	config, err := common.LoadFromFiles(nil, configFiles...)
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := common.SetupLogger(config)
	common.PrintBanner(config, logger)

	db, err := sqlite.Open(config.Storage.SQLite.Path, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open sqlite database")
	}
	defer db.Close()

	kvStorage := sqlite.NewKVStorage(db, logger)
	// Reload config now that the KV store exists, so {key} references in
	// the file(s) already read resolve against durable secrets.
	if reloaded, err := common.LoadFromFiles(kvStorage, configFiles...); err != nil {
		logger.Warn().Err(err).Msg("failed to reload configuration with KV substitution, keeping first pass")
	} else {
		config = reloaded
	}

	tenantStorage := sqlite.NewTenantStorage(db, logger)
	integrationStorage := sqlite.NewIntegrationStorage(db, logger)
	integrationCache := cache.NewIntegrationCache(integrationStorage, 5*time.Minute, logger)
	rawStore := sqlite.NewRawStore(db, logger)
	targetStore := sqlite.NewTargetStore(db, logger)
	registry := sqlite.NewRegistry(db, logger)
	discoveryCatalog := sqlite.NewDiscoveryCatalog(db, logger)

	broker, err := queue.NewBroker(config.Storage.Badger.Path, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open queue broker")
	}
	defer broker.Close()

	vectors, err := vectorstore.NewStore(config.Storage.Badger.Path+"-vectors", logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open vector store")
	}
	defer vectors.Close()

	embeddingProvider := buildEmbeddingProvider(config, logger)

	adapters := map[models.SourceType]interfaces.SourceAdapter{
		models.SourceTypeJira:   jira.NewAdapter(logger),
		models.SourceTypeGitHub: github.NewAdapter(logger),
	}

	progressChannel := progress.NewChannel(logger)
	progressHandler := progress.NewHandler(progressChannel, logger)

	orchestratorConfig := orchestrator.Config{
		TickInterval:     common.ParseDuration(config.Orchestrator.TickInterval, 30*time.Second),
		RunawayThreshold: common.ParseDuration(config.Orchestrator.RunawayThreshold, time.Hour),
		MaxReceiveCount:  config.Queue.MaxReceive,
		BatchSize:        config.Queue.DefaultBatchSize,
	}
	orch := orchestrator.New(registry, broker, integrationCache, adapters, progressChannel, orchestratorConfig, logger)
	orch.Start(context.Background())
	defer orch.Stop()

	startWorkerPools(config, broker, rawStore, targetStore, registry, integrationCache, adapters, discoveryCatalog, embeddingProvider, vectors, progressChannel, logger)

	kvService := kv.NewService(kvStorage, nil, logger)
	server := api.NewServer(tenantStorage, integrationCache, registry, rawStore, broker, orch, progressHandler, kvService, logger)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port),
		Handler: server,
	}

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("control API listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("control API failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	common.PrintShutdownBanner(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("control API shutdown failed")
	}
	common.Stop()
}

func buildEmbeddingProvider(config *common.Config, logger arbor.ILogger) interfaces.EmbeddingProvider {
	switch config.Embedding.Provider {
	case "http":
		client := httpclient.NewDefaultHTTPClient(httpclient.DefaultTimeout)
		return embeddings.NewHTTPProvider(client, config.Embedding.Endpoint, config.Embedding.APIKey, config.Embedding.Dimension, logger)
	default:
		return embeddings.NewOfflineProvider(config.Embedding.Dimension)
	}
}

func startWorkerPools(
	config *common.Config,
	broker interfaces.QueueBroker,
	rawStore interfaces.RawStore,
	targetStore interfaces.TargetStore,
	registry interfaces.JobRegistry,
	integrations interfaces.IntegrationStorage,
	adapters map[models.SourceType]interfaces.SourceAdapter,
	catalog interfaces.DiscoveryCatalog,
	embeddingProvider interfaces.EmbeddingProvider,
	vectors interfaces.VectorStore,
	progressChannel interfaces.ProgressChannel,
	logger arbor.ILogger,
) {
	ctx := context.Background()

	extractVisibility := int64(common.ParseDuration(config.Queue.VisibilityTimeoutExtract, 10*time.Minute).Seconds())
	otherVisibility := int64(common.ParseDuration(config.Queue.VisibilityTimeoutOther, 2*time.Minute).Seconds())

	extractPool := extractworker.New(broker, rawStore, registry, integrations, adapters, catalog, progressChannel, extractworker.Config{
		Concurrency:       config.Queue.ExtractConcurrency,
		VisibilityTimeout: extractVisibility,
		BatchSize:         config.Queue.DefaultBatchSize,
		QueueHWM:          config.Queue.ExtractQueueHWM,
		QueueLWM:          config.Queue.ExtractQueueLWM,
		MaxReceiveCount:   config.Queue.MaxReceive,
	}, logger)
	for i := 0; i < config.Queue.ExtractConcurrency; i++ {
		common.SafeGoWithContext(ctx, logger, fmt.Sprintf("extract-worker-%d", i), func() { extractPool.Run(ctx) })
	}

	transformPool := transform.New(broker, rawStore, targetStore, registry, integrations, progressChannel, transform.Config{
		Concurrency:       config.Queue.TransformConcurrency,
		VisibilityTimeout: otherVisibility,
		BatchSize:         config.Queue.DefaultBatchSize,
		MaxReceiveCount:   config.Queue.MaxReceive,
	}, logger)
	for i := 0; i < config.Queue.TransformConcurrency; i++ {
		common.SafeGoWithContext(ctx, logger, fmt.Sprintf("transform-worker-%d", i), func() { transformPool.Run(ctx) })
	}

	embedPool := embed.New(broker, embeddingProvider, vectors, registry, progressChannel, embed.Config{
		Concurrency:       config.Queue.EmbedConcurrency,
		VisibilityTimeout: otherVisibility,
		BatchSize:         config.Queue.DefaultBatchSize,
		Collection:        "default",
	}, logger)
	for i := 0; i < config.Queue.EmbedConcurrency; i++ {
		common.SafeGoWithContext(ctx, logger, fmt.Sprintf("embed-worker-%d", i), func() { embedPool.Run(ctx) })
	}
}
