// Package bootstrap wires configuration into a fully constructed application
// graph shared by the api and worker binaries.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/dkorsak/docqa/internal/config"
	"github.com/dkorsak/docqa/internal/core/domain"
	"github.com/dkorsak/docqa/internal/core/ports"
	"github.com/dkorsak/docqa/internal/core/usecase"
	"github.com/dkorsak/docqa/internal/infrastructure/cache/redis"
	"github.com/dkorsak/docqa/internal/infrastructure/chunking"
	"github.com/dkorsak/docqa/internal/infrastructure/index"
	"github.com/dkorsak/docqa/internal/infrastructure/llm/ollama"
	"github.com/dkorsak/docqa/internal/infrastructure/queue/nats"
	"github.com/dkorsak/docqa/internal/infrastructure/repository/postgres"
	"github.com/dkorsak/docqa/internal/infrastructure/resilience"
	"github.com/dkorsak/docqa/internal/infrastructure/vector/qdrant"
	"github.com/dkorsak/docqa/internal/observability/metrics"
)

type App struct {
	Config config.Config

	Queue         ports.MessageQueue
	Documents     ports.DocumentRepository
	Conversations ports.ConversationStore
	Indexer       *usecase.IndexUseCase
	Answers       *usecase.AnswerUseCase
	Metrics       *metrics.HTTPServerMetrics

	closeFn func()
}

// New builds the application graph for one binary. The service name becomes
// the metrics label, so api and worker stay distinguishable on one dashboard.
func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	runner := resilience.NewRunner(resilience.DefaultPolicy())

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	docs := postgres.NewDocumentRepository(db)
	if err := docs.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	conversations := postgres.NewConversationRepository(db)

	queue, err := nats.New(cfg.NATSURL, nats.Options{Runner: runner})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	llm := ollama.New(cfg.OllamaURL, cfg.OllamaChatModel, cfg.OllamaEmbedModel, runner)
	embedCache := redis.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	// The registry always serves lexical search; the vector side is either
	// the same registry or a remote qdrant collection.
	registry := index.NewRegistry()
	var writer ports.IndexWriter = registry
	var vectors ports.VectorSearcher = registry
	if cfg.VectorBackend == "qdrant" {
		remote := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection)
		// Vectors land first: a remote failure leaves the batch entirely
		// unindexed instead of lexical-only under a shared chunk id.
		writer = &fanoutWriter{targets: []ports.IndexWriter{remote, registry}}
		vectors = remote
	}

	serverMetrics := metrics.NewHTTPServerMetrics(service)
	recorder := serverMetrics.QueryRecorder(service)

	splitter := chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	indexer := usecase.NewIndexUseCase(splitter, llm, writer, docs, conversations, queue, recorder)

	transformer := usecase.NewQueryTransformer(llm, cfg.TransformTimeout, recorder.TransformFallback)
	retriever := usecase.NewHybridRetriever(llm, embedCache, vectors, registry, recorder, usecase.RetrieverConfig{
		VectorWeight:   cfg.RetrievalVectorWeight,
		LexicalWeight:  cfg.RetrievalLexicalWeight,
		TopK:           cfg.RetrievalTopK,
		BackendTimeout: cfg.RetrievalBackendTimeout,
		CacheTTL:       cfg.EmbeddingCacheTTL,
	})
	assembler := usecase.NewContextAssembler(usecase.AssemblerConfig{
		CharBudget:    cfg.ContextCharBudget,
		ExcerptLength: cfg.ExcerptLength,
	})
	answers := usecase.NewAnswerUseCase(transformer, retriever, assembler, llm, conversations, recorder, usecase.AnswerLimits{
		HistoryTurns: cfg.HistoryTurns,
		MaxTokens:    cfg.AnswerMaxTokens,
		QueryTimeout: cfg.QueryTimeout,
	})

	return &App{
		Config:        cfg,
		Queue:         queue,
		Documents:     docs,
		Conversations: conversations,
		Indexer:       indexer,
		Answers:       answers,
		Metrics:       serverMetrics,

		closeFn: func() {
			queue.Close()
			_ = embedCache.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// fanoutWriter keeps the in-process lexical index and the remote vector
// store on the same batch: every write lands in both or the batch fails.
// Targets are written in order and the first failure stops the fan-out.
type fanoutWriter struct {
	targets []ports.IndexWriter
}

func (w *fanoutWriter) AddChunks(ctx context.Context, sessionID string, chunks []domain.Chunk, embeddings [][]float32) error {
	for _, t := range w.targets {
		if err := t.AddChunks(ctx, sessionID, chunks, embeddings); err != nil {
			return err
		}
	}
	return nil
}

func (w *fanoutWriter) Clear(ctx context.Context, sessionID string) error {
	for _, t := range w.targets {
		if err := t.Clear(ctx, sessionID); err != nil {
			return err
		}
	}
	return nil
}
