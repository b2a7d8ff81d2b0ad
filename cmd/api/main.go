package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/ragmind/backend/internal/agent"
	"github.com/ragmind/backend/internal/api/handlers"
	"github.com/ragmind/backend/internal/cache/redis"
	"github.com/ragmind/backend/internal/chunkindex"
	"github.com/ragmind/backend/internal/evaluation"
	"github.com/ragmind/backend/internal/ingestion"
	"github.com/ragmind/backend/internal/learning"
	"github.com/ragmind/backend/internal/llm"
	"github.com/ragmind/backend/internal/metrics"
	"github.com/ragmind/backend/internal/middleware/ratelimit"
	"github.com/ragmind/backend/internal/middleware/security"
	"github.com/ragmind/backend/internal/middleware/validation"
	"github.com/ragmind/backend/internal/retrieval"
	"github.com/ragmind/backend/internal/router"
	"github.com/ragmind/backend/internal/search/azure"
	"github.com/ragmind/backend/internal/storage/sqlite"
	"github.com/ragmind/backend/internal/vector"
	"github.com/ragmind/backend/internal/vector/memory"
	"github.com/ragmind/backend/internal/vector/milvus"
	"github.com/ragmind/backend/pkg/config"
	appLogger "github.com/ragmind/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	log := appLogger.GetLogger()
	appLogger.Info("Starting RAGMind API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	llmClient := llm.NewClient(llm.ClientConfig{
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
	}, log)

	indexer := chunkindex.NewIndexer(chunkindex.ChunkerConfig{
		ChunkSize:         cfg.Chunking.ChunkSize,
		ChunkOverlap:      cfg.Chunking.Overlap,
		SentencesPerChunk: cfg.Chunking.Sentences,
		SectionThreshold:  2000,
	}, llmClient, cfg.LLM.EmbeddingDim, log)

	var vectorStore vector.Store
	if cfg.Milvus.Enabled {
		milvusClient, err := milvus.NewClient(cfg.Milvus.Endpoint, cfg.Milvus.CollectionName, cfg.Milvus.VectorDim, log)
		if err != nil {
			appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
		}
		defer milvusClient.Close()

		if err := milvusClient.EnsureCollection(context.Background()); err != nil {
			appLogger.Fatal("Failed to ensure collection", zap.Error(err))
		}
		vectorStore = milvusClient
	} else {
		vectorStore = memory.NewStore()
		appLogger.Info("Using in-memory vector store")
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, continuing without chunk cache", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
			indexer.SetEmbeddingCache(redisClient)
		}
	}

	processorOpts := []ingestion.Option{
		ingestion.WithVectorStore(vectorStore),
		ingestion.WithDatabase(sqliteClient),
	}
	if redisClient != nil {
		processorOpts = append(processorOpts, ingestion.WithCache(redisClient))
	}
	processor := ingestion.NewProcessor(indexer, log, processorOpts...)
	if err := processor.Restore(context.Background()); err != nil {
		appLogger.Warn("Corpus restore failed", zap.Error(err))
	}

	tracker := learning.NewTracker(sqliteClient, log)

	queryRouter := router.NewRouter(llmClient, tracker, log)

	executorOpts := []retrieval.ExecutorOption{
		retrieval.WithVectorStore(vectorStore),
		retrieval.WithChunkSource(processor),
		retrieval.WithQueryExpander(routerExpander{queryRouter}),
	}
	if cfg.Azure.Enabled {
		searchClient := azure.NewClient(azure.Config{
			Endpoint:   cfg.Azure.Endpoint,
			IndexName:  cfg.Azure.IndexName,
			APIKey:     cfg.Azure.APIKey,
			APIVersion: cfg.Azure.APIVersion,
			Timeout:    time.Duration(cfg.Azure.TimeoutSec) * time.Second,
		}, log)
		executorOpts = append(executorOpts,
			retrieval.WithRemoteSearcher(searchClient),
			retrieval.WithRemoteTimeout(time.Duration(cfg.Azure.TimeoutSec)*time.Second),
		)
	}
	executor := retrieval.NewExecutor(indexer, log, executorOpts...)

	evaluator := evaluation.NewEvaluator(llmClient, log)
	generator := agent.NewLLMGenerator(llmClient, log)

	orchestrator := agent.NewOrchestrator(queryRouter, executor, evaluator, generator, processor, agent.Config{
		MaxIterations:       cfg.Agent.MaxIterations,
		ConfidenceThreshold: cfg.Agent.ConfidenceThreshold,
		EnableCriticism:     cfg.Agent.EnableCriticism,
		EnableAutoRetry:     cfg.Agent.EnableAutoRetry,
		TopK:                cfg.Agent.TopK,
		HistoryWindow:       cfg.Agent.HistoryWindow,
	}, log)
	orchestrator.SetTracker(tracker)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(security.New(security.Config{}))
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Session-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	limiter := ratelimit.New(ratelimit.Config{Logger: log})
	defer limiter.Stop()

	queryHandler := handlers.NewQueryHandler(orchestrator, tracker, sqliteClient)
	if redisClient != nil {
		queryHandler.SetResponseCache(redisClient)
	}
	documentHandler := handlers.NewDocumentHandler(processor)
	wsHandler := handlers.NewWebSocketHandler(orchestrator)

	api := app.Group("/api/v1")
	api.Use(validation.New(validation.Config{
		MaxDocumentSize: cfg.Server.BodyLimit,
		Logger:          log,
	}))
	api.Use(limiter.Middleware())

	api.Post("/query", queryHandler.HandleQuery)
	api.Get("/query/history", queryHandler.GetHistory)
	api.Post("/feedback", queryHandler.HandleFeedback)
	api.Get("/learning/insights", queryHandler.GetInsights)
	api.Get("/learning/metrics", queryHandler.GetStrategyMetrics)

	api.Post("/documents", documentHandler.AddDocument)
	api.Get("/documents", documentHandler.ListDocuments)
	api.Delete("/documents/:id", documentHandler.DeleteDocument)

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/query", websocket.New(wsHandler.HandleConnection))

	// Liveness endpoints stay outside the rate-limited API group.
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}

// routerExpander adapts the router's query expansion for the retrieval
// executor's fusion strategy.
type routerExpander struct {
	r *router.Router
}

func (x routerExpander) ExpandQuery(ctx context.Context, query string) []string {
	return x.r.ExpandQuery(ctx, query)
}

var (
	_ agent.DocumentSource      = (*ingestion.Processor)(nil)
	_ retrieval.ChunkSource     = (*ingestion.Processor)(nil)
	_ router.StrategyAdvisor    = (*learning.Tracker)(nil)
	_ handlers.QueryAgent       = (*agent.Orchestrator)(nil)
	_ handlers.ResponseCache    = (*redis.Client)(nil)
	_ chunkindex.EmbeddingCache = (*redis.Client)(nil)
)
