package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/alphaledger/internal/api"
	"github.com/cloo-solutions/alphaledger/internal/api/handlers"
	"github.com/cloo-solutions/alphaledger/internal/api/middleware"
	"github.com/cloo-solutions/alphaledger/internal/domain"
	"github.com/cloo-solutions/alphaledger/internal/logger"
)

type RouterConfig struct {
	APIToken           string
	Logger             *logger.Logger
	SourceHandler      *handlers.SourceHandler
	SearchHandler      *handlers.SearchHandler
	AssumptionHandler  *handlers.AssumptionHandler
	AttributionHandler *handlers.AttributionHandler
	Authority          domain.AuthorityTable

	// MaxRequestBytes caps ordinary request bodies; MaxDocumentBytes caps
	// the routes that accept whole document texts.
	MaxRequestBytes  int64
	MaxDocumentBytes int64
}

const (
	defaultMaxRequestBytes  int64 = 1 << 20
	defaultMaxDocumentBytes int64 = 20 << 20
)

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = defaultMaxRequestBytes
	}
	if cfg.MaxDocumentBytes <= 0 {
		cfg.MaxDocumentBytes = defaultMaxDocumentBytes
	}
	documentBody := middleware.BodyLimit(cfg.MaxDocumentBytes)

	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog(log))
	r.Use(middleware.BodyLimit(cfg.MaxRequestBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.TokenAuth(cfg.APIToken))

		r.Get("/authority-weights", handlers.AuthorityWeights(cfg.Authority))

		r.Route("/sources", func(r chi.Router) {
			r.With(documentBody).Post("/", cfg.SourceHandler.Ingest)
			r.Get("/", cfg.SourceHandler.List)
			r.Post("/reindex", cfg.SourceHandler.Reindex)
			r.Get("/{id}", cfg.SourceHandler.Get)
			r.Get("/{id}/archive", cfg.SourceHandler.Archive)
			r.Get("/{id}/chunks", cfg.SourceHandler.Chunks)
			r.Post("/{id}/index", cfg.SourceHandler.Index)
			r.Post("/{id}/assumptions", cfg.SourceHandler.ExtractAssumptions)
		})

		r.Route("/search", func(r chi.Router) {
			r.Post("/", cfg.SearchHandler.Search)
			r.Post("/context", cfg.SearchHandler.SearchWithContext)
			r.Post("/compare", cfg.SearchHandler.Compare)
		})

		r.Route("/assumptions", func(r chi.Router) {
			r.Get("/", cfg.AssumptionHandler.List)
			r.With(documentBody).Post("/extract", cfg.AssumptionHandler.Extract)
			r.Post("/validation-runs", cfg.AssumptionHandler.RunValidation)
			r.Get("/accuracy", cfg.AssumptionHandler.Accuracy)
			r.Get("/accuracy/trend", cfg.AssumptionHandler.Trend)
			r.Get("/{id}", cfg.AssumptionHandler.Get)
			r.Delete("/{id}", cfg.AssumptionHandler.Delete)
			r.Post("/{id}/validate", cfg.AssumptionHandler.Validate)
		})

		r.Route("/attributions", func(r chi.Router) {
			r.Post("/", cfg.AttributionHandler.Decompose)
			r.Post("/batch", cfg.AttributionHandler.BatchDecompose)
			r.Get("/", cfg.AttributionHandler.List)
			r.Get("/{id}", cfg.AttributionHandler.Get)
			r.Patch("/{id}", cfg.AttributionHandler.Update)
			r.Delete("/{id}", cfg.AttributionHandler.Delete)
		})
	})

	return r
}
