package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/iammorganparry/clive/apps/casegen/internal/api"
	"github.com/iammorganparry/clive/apps/casegen/internal/config"
	"github.com/iammorganparry/clive/apps/casegen/internal/corpus"
	"github.com/iammorganparry/clive/apps/casegen/internal/embedding"
	"github.com/iammorganparry/clive/apps/casegen/internal/inference"
	"github.com/iammorganparry/clive/apps/casegen/internal/pipeline"
	"github.com/iammorganparry/clive/apps/casegen/internal/routing"
	"github.com/iammorganparry/clive/apps/casegen/internal/search"
	"github.com/iammorganparry/clive/apps/casegen/internal/sessions"
	"github.com/iammorganparry/clive/apps/casegen/internal/stages"
	"github.com/iammorganparry/clive/apps/casegen/internal/store"
	"github.com/iammorganparry/clive/apps/casegen/internal/vectorstore"
)

// App holds the wired service graph shared by the commands.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	DB       *store.DB
	Sessions sessions.Store
	Backend  inference.Backend
	Qdrant   *vectorstore.QdrantClient
	Provider *search.HybridProvider
	Corpus   *corpus.Service
	Router   *routing.Router

	closers []func() error
}

// NewApp opens the stores and builds every service from cfg.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger}
	if err := app.init(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) init(ctx context.Context) error {
	cfg, logger := a.Config, a.Logger

	// SQLite holds the corpus regardless of the session backend
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	// Sessions
	switch cfg.StorageBackend {
	case "memory":
		a.Sessions = sessions.NewMemoryStore()
	case "firestore":
		fs, err := sessions.NewFirestoreStore(ctx, cfg.GCPProject)
		if err != nil {
			return err
		}
		a.Sessions = fs
		a.closers = append(a.closers, fs.Close)
	default:
		a.Sessions = sessions.NewSQLiteStore(db)
	}

	// Inference
	switch cfg.InferenceBackend {
	case "gemini":
		g, err := inference.NewGemini(ctx, cfg.GCPProject, cfg.GCPLocation, cfg.GeminiModel, logger)
		if err != nil {
			return err
		}
		a.Backend = g
	case "mock":
		a.Backend = inference.NewMock()
	default:
		a.Backend = inference.NewOllama(cfg.OllamaBaseURL, cfg.GenerationModel, logger)
	}

	// Retrieval
	docs := store.NewDocumentStore(db)
	bm25 := store.NewBM25Store(db)
	var (
		embedder *embedding.CachedEmbedder
		collMgr  *vectorstore.CollectionManager
	)
	if cfg.VectorEnabled {
		ollama := embedding.NewOllamaClient(cfg.OllamaBaseURL, cfg.EmbeddingModel)
		cache := store.NewEmbeddingCacheStore(db)
		if n, err := cache.PruneOtherModels(cfg.EmbeddingModel); err != nil {
			logger.Warn("embedding cache prune failed", "error", err)
		} else if n > 0 {
			logger.Info("pruned stale embeddings", "count", n, "model", cfg.EmbeddingModel)
		}
		embedder = embedding.NewCachedEmbedder(ollama, cache, cfg.EmbeddingModel, cfg.EmbeddingDim, logger)
		a.Qdrant = vectorstore.NewQdrantClient(cfg.QdrantURL, cfg.EmbeddingDim)
		collMgr = vectorstore.NewCollectionManager(a.Qdrant)

		if err := a.Qdrant.HealthCheck(ctx); err != nil {
			logger.Warn("qdrant not available at startup, will retry on first use", "error", err)
		}
	}

	searchCfg := search.Config{
		VectorWeight: cfg.VectorWeight,
		BM25Weight:   cfg.BM25Weight,
		MinRelevance: cfg.MinRelevance,
		DefaultTopK:  cfg.RetrievalTopK,
	}
	if embedder != nil {
		a.Provider = search.NewHybridProvider(docs, bm25, embedder, a.Qdrant, searchCfg, logger)
		a.Corpus = corpus.NewService(docs, embedder, a.Qdrant, collMgr, cfg.CorpusDirs, logger)
	} else {
		a.Provider = search.NewHybridProvider(docs, bm25, nil, nil, searchCfg, logger)
		a.Corpus = corpus.NewService(docs, nil, nil, nil, cfg.CorpusDirs, logger)
	}

	// Flows and routing
	flows := pipeline.DefaultFlows()
	var classifier routing.Classifier = routing.DefaultClassifier()
	if cfg.FlowsFile != "" {
		ff, err := pipeline.LoadFlowsFile(cfg.FlowsFile)
		if err != nil {
			return err
		}
		if flows, err = ff.Apply(flows); err != nil {
			return err
		}
		if len(ff.Routing.Markers) > 0 || len(ff.Routing.Patterns) > 0 {
			markers, patterns := ff.Routing.Markers, ff.Routing.Patterns
			if len(markers) == 0 {
				markers = routing.DefaultMarkers
			}
			if len(patterns) == 0 {
				patterns = routing.DefaultPatterns
			}
			kc, err := routing.NewKeywordClassifier(markers, patterns)
			if err != nil {
				return err
			}
			classifier = kc
		}
		logger.Info("loaded flows file", "path", cfg.FlowsFile)
	}

	orch := pipeline.NewOrchestrator(stages.All(stages.Deps{
		Backend:  a.Backend,
		Provider: a.Provider,
		TopK:     cfg.RetrievalTopK,
		Logger:   logger,
	}), pipeline.Options{StageTimeout: cfg.StageTimeout, Logger: logger})

	a.Router = routing.New(a.Sessions, orch, routing.Options{
		Flows:      flows,
		Classifier: classifier,
		Locker:     sessions.NewLocker(sessions.BusyPolicy(cfg.SessionBusyPolicy)),
		Logger:     logger,
	})
	return nil
}

// InferencePinger returns the backend's health check, or nil when the
// backend has none.
func (a *App) InferencePinger() api.Pinger {
	if p, ok := a.Backend.(api.Pinger); ok {
		return p
	}
	return nil
}

// QdrantPinger returns nil when vector search is disabled.
func (a *App) QdrantPinger() api.Pinger {
	if a.Qdrant == nil {
		return nil
	}
	return a.Qdrant
}

// Close releases everything in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
