package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"framegrab/internal/database"
	"framegrab/internal/generator"
	"framegrab/internal/indexer"
	"framegrab/internal/media"
	"framegrab/internal/memory"
	"framegrab/internal/screenshots"
	"framegrab/internal/syncer"
)

// Handlers serves the HTTP API.
type Handlers struct {
	db        *database.Database
	indexer   *indexer.Indexer
	generator *generator.Generator
	syncer    *syncer.Engine
	store     *screenshots.Store
	resizer   *media.Resizer
	memory    MemoryReporter
}

// MemoryReporter exposes heap pressure. *memory.Monitor implements it.
type MemoryReporter interface {
	Usage() memory.Usage
}

// SetMemoryReporter adds heap usage to the health response.
func (h *Handlers) SetMemoryReporter(m MemoryReporter) {
	h.memory = m
}

// New creates the API handlers.
func New(db *database.Database, idx *indexer.Indexer, gen *generator.Generator, sync *syncer.Engine, store *screenshots.Store, resizer *media.Resizer) *Handlers {
	return &Handlers{
		db:        db,
		indexer:   idx,
		generator: gen,
		syncer:    sync,
		store:     store,
		resizer:   resizer,
	}
}

// RegisterRoutes adds every API and health route to r.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/livez", h.LivenessCheck).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods(http.MethodGet)
	r.HandleFunc("/version", h.GetVersion).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stats", h.GetStats).Methods(http.MethodGet)
	api.HandleFunc("/scan", h.TriggerScan).Methods(http.MethodPost)
	api.HandleFunc("/scan/progress", h.GetScanProgress).Methods(http.MethodGet)

	api.HandleFunc("/movies", h.ListMovies).Methods(http.MethodGet)
	api.HandleFunc("/movies/{id:[0-9]+}", h.GetMovie).Methods(http.MethodGet)
	api.HandleFunc("/movies/{id:[0-9]+}/representative", h.GetRepresentative).Methods(http.MethodGet)

	api.HandleFunc("/movies/{id:[0-9]+}/screenshots", h.ListScreenshots).Methods(http.MethodGet)
	api.HandleFunc("/movies/{id:[0-9]+}/screenshots", h.GenerateScreenshots).Methods(http.MethodPost)
	api.HandleFunc("/movies/{id:[0-9]+}/screenshots/generation", h.CancelGeneration).Methods(http.MethodDelete)
	api.HandleFunc("/movies/{id:[0-9]+}/screenshots/progress", h.GetGenerationProgress).Methods(http.MethodGet)
	api.HandleFunc("/movies/{id:[0-9]+}/screenshots/sync", h.SyncScreenshots).Methods(http.MethodPost)

	api.HandleFunc("/screenshots/{id:[0-9]+}/image", h.GetScreenshotImage).Methods(http.MethodGet, http.MethodHead)
}
