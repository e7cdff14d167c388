package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/serene416/friend/internal/api/ingestion"
	"github.com/serene416/friend/internal/api/recommendation"
)

// Config contains dependencies needed for the router setup
type Config struct {
	RecommendationHandler recommendation.Handler
	IngestionHandler      ingestion.Handler
	AllowedOrigins        []string
}

// SetupRouter initializes and configures the application routes.
// Server-wide middleware (request id, logging, recovery) is applied by the
// caller before mounting this router.
func SetupRouter(cfg *Config) chi.Router {
	r := chi.NewRouter()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/recommendations/midpoint-hotplaces", cfg.RecommendationHandler.GetMidpointHotplacesHandler)
	})

	// Called by other backend services only; not exposed through the public gateway.
	r.Route("/internal/ingestion", func(r chi.Router) {
		r.Post("/jobs", cfg.IngestionHandler.CreateJobHandler)
		r.Get("/jobs/{jobID}", cfg.IngestionHandler.GetJobHandler)
	})

	return r
}
