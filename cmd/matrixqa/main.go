// matrixqa orchestrates document ingestion, hybrid search indexing, and
// question-answering across a tenant's matrices: it runs the durable
// workflow engine, the QA worker pool, and a minimal HTTP health surface.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/matrixqa/engine/pkg/agentjob"
	"github.com/matrixqa/engine/pkg/aiprovider"
	"github.com/matrixqa/engine/pkg/answer"
	"github.com/matrixqa/engine/pkg/blobstore"
	"github.com/matrixqa/engine/pkg/broker"
	"github.com/matrixqa/engine/pkg/cellstrategy"
	"github.com/matrixqa/engine/pkg/chunking"
	"github.com/matrixqa/engine/pkg/config"
	"github.com/matrixqa/engine/pkg/database"
	"github.com/matrixqa/engine/pkg/dedup"
	"github.com/matrixqa/engine/pkg/extraction"
	"github.com/matrixqa/engine/pkg/lock"
	"github.com/matrixqa/engine/pkg/models"
	"github.com/matrixqa/engine/pkg/qaworker"
	"github.com/matrixqa/engine/pkg/quota"
	"github.com/matrixqa/engine/pkg/reprocess"
	"github.com/matrixqa/engine/pkg/search"
	"github.com/matrixqa/engine/pkg/template"
	"github.com/matrixqa/engine/pkg/version"
	"github.com/matrixqa/engine/pkg/workflow"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	log.Printf("Starting %s", version.Full())

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := database.NewClient(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbClient.Close()
	pool := dbClient.Pool
	log.Println("connected to PostgreSQL and ran migrations")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Lock.Addr(),
		Password: cfg.Lock.Password,
		DB:       cfg.Lock.DB,
	})
	defer redisClient.Close()
	locker := lock.NewRedisLocker(redisClient)

	brokerClient, err := broker.NewAMQPClient(cfg.Broker.URL)
	if err != nil {
		log.Fatalf("Failed to connect to broker: %v", err)
	}
	defer brokerClient.Close()

	store, err := blobstore.NewS3Store(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize object storage: %v", err)
	}

	keywordIndex := search.NewBleveKeywordIndex(cfg.Search.BleveIndexDir)
	vectorIndex := search.NewPostgresVectorIndex(pool)
	embedder, err := search.NewONNXEmbedder(cfg.Search.EmbeddingModelPath, cfg.Search.EmbeddingDimensions, cfg.Search.EmbeddingMaxTokens)
	if err != nil {
		log.Printf("warning: embedding model unavailable, hybrid search disabled, /search will answer 503: %v", err)
	}
	var hybridIndex *search.HybridIndex
	if embedder != nil {
		hybridIndex = search.NewHybridIndex(keywordIndex, vectorIndex, embedder, cfg.Search.RRFK)
	}

	quotaService := quota.New(pool)
	answerService := answer.New(pool)
	aiClient, err := aiprovider.NewGRPCClient(cfg.AIProvider.Addr)
	if err != nil {
		log.Fatalf("Failed to connect to AI provider: %v", err)
	}
	defer aiClient.Close()

	cellReader := cellstrategy.NewPostgresReader(pool, store)
	templateResolver := template.New(template.NewPostgresVariableStore(pool))
	templateSync := template.NewSyncService(pool)
	dedupService := dedup.New(store, dedup.NewPostgresDocumentIndex(pool))
	reprocessService := reprocess.New(pool, brokerClient)

	engine := workflow.New(pool)

	docExtraction := workflow.NewDocumentExtractionWorkflow(engine, pool, extraction.New(store), store, brokerClient)

	chunker := chunking.New()
	chunkIndexer := chunking.NewIndexer(
		adaptKeywordIndexer(keywordIndex),
		chunking.NewVectorIndexer(embedFunc(embedder), vectorIndex.Index),
	)
	chunkingIndexing := workflow.NewChunkingIndexingWorkflow(engine, pool, store, chunker, chunkIndexer, quotaService)

	agentQA := workflow.NewAgentQAWorkflow(engine, pool, cellReader, aiClient, answerService)

	agentRunner, err := agentjob.NewGRPCRunner(getEnv("AGENT_JOB_RUNNER_ADDR", "localhost:50052"))
	if err != nil {
		log.Fatalf("Failed to connect to agent job runner: %v", err)
	}
	defer agentRunner.Close()
	manifestReader := agentjob.NewManifestReader(store)
	workflowExecution := workflow.NewWorkflowExecutionWorkflow(engine, pool, agentRunner, agentRunner, manifestReader, agentRunner)

	cleanup := workflow.NewCleanupService(pool, workflow.DefaultCleanupConfig())
	cleanup.Start(ctx)
	defer cleanup.Stop()

	worker := qaworker.NewWorker(pool, locker, cellReader, aiClient, agentQA, answerService, templateResolver)
	workerPool := qaworker.NewPool(worker, brokerClient, workerPoolSize())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return workerPool.Run(ctx) })
	g.Go(func() error { return consumeDocumentIndexing(ctx, brokerClient, chunkingIndexing) })

	srvComponents := &server{
		pool:              pool,
		store:             store,
		dedup:             dedupService,
		docExtraction:     docExtraction,
		workflowExecution: workflowExecution,
		hybridIndex:       hybridIndex,
		templateSync:      templateSync,
		reprocess:         reprocessService,
	}
	router := gin.Default()
	srvComponents.registerRoutes(router)

	httpPort := getEnv("HTTP_PORT", "8080")
	srv := &http.Server{Addr: ":" + httpPort, Handler: router}
	g.Go(func() error {
		log.Printf("HTTP server listening on :%s", httpPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("shutting down: %v", err)
	}
}

// workerPoolSize returns how many concurrent qa_worker consumers to run.
func workerPoolSize() int {
	return 4
}

// adaptKeywordIndexer narrows *search.BleveKeywordIndex to the
// chunking.KeywordIndexer shape.
func adaptKeywordIndexer(idx *search.BleveKeywordIndex) chunking.KeywordIndexer {
	return idx
}

// embedFunc adapts an optional *search.ONNXEmbedder to the plain function
// chunking.NewVectorIndexer expects, so a missing embedding model degrades
// chunk indexing's vector side (not the workflow) to an explicit error.
func embedFunc(embedder *search.ONNXEmbedder) func(context.Context, string) ([]float32, error) {
	if embedder == nil {
		return func(context.Context, string) ([]float32, error) {
			return nil, errors.New("embedding model unavailable")
		}
	}
	return embedder.Embed
}

// consumeDocumentIndexing relays completed document extractions into the
// chunking/indexing workflow (§6.1's document_indexing queue).
func consumeDocumentIndexing(ctx context.Context, consumer broker.Consumer, w *workflow.ChunkingIndexingWorkflow) error {
	return consumer.Consume(ctx, broker.QueueDocumentIndexing, func(d broker.Delivery) error {
		var msg models.DocumentIndexingMessage
		if err := json.Unmarshal(d.Body, &msg); err != nil {
			slog.Error("document_indexing: malformed message, routing to dlq", "error", err)
			return d.Nack(false)
		}
		if err := w.Start(ctx, workflow.ChunkingIndexingInput{DocumentID: msg.DocumentID, CompanyID: msg.CompanyID}); err != nil {
			slog.Error("document_indexing: chunking/indexing failed", "document_id", msg.DocumentID, "error", err)
		}
		return d.Ack()
	})
}

func healthHandler(pool interface {
	Ping(ctx context.Context) error
}) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		if err := pool.Ping(reqCtx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": version.Full()})
	}
}
