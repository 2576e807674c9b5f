package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/iammorganparry/clive/apps/casegen/internal/corpus"
	"github.com/iammorganparry/clive/apps/casegen/internal/routing"
	"github.com/iammorganparry/clive/apps/casegen/internal/search"
	"github.com/iammorganparry/clive/apps/casegen/internal/sessions"
	"github.com/iammorganparry/clive/apps/casegen/internal/store"
)

// NewRouter creates the Chi router with all routes and middleware.
func NewRouter(
	db *store.DB,
	dispatcher *routing.Router,
	sessStore sessions.Store,
	corpusSvc *corpus.Service,
	provider *search.HybridProvider,
	inference Pinger,
	qdrant Pinger,
	apiKey string,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (runs on ALL routes including /health)
	r.Use(CORS)
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	// Handlers
	healthH := NewHealthHandler(db, inference, qdrant)
	dispatchH := NewDispatchHandler(dispatcher, logger)
	sessionH := NewSessionHandler(sessStore, dispatcher)

	// Unauthenticated routes
	r.Get("/health", healthH.Health)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(apiKey))

		r.Post("/dispatch", dispatchH.Dispatch)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessionH.Create)
			r.Get("/", sessionH.List)
			r.Get("/{id}", sessionH.Get)
			r.Post("/{id}/clear", sessionH.Clear)
		})

		if corpusSvc != nil && provider != nil {
			corpusH := NewCorpusHandler(corpusSvc, provider)
			r.Route("/corpus", func(r chi.Router) {
				r.Post("/documents", corpusH.Ingest)
				r.Post("/search", corpusH.Search)
				r.Post("/sync", corpusH.Sync)
			})
		}
	})

	return r
}
