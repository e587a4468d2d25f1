package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system", s.handleSystem)
		r.Get("/catalog", s.handleCatalog)

		// Pipeline documents. Mutations require admin credentials when
		// the admin account is configured.
		r.Route("/pipelines", func(r chi.Router) {
			r.Get("/", s.handleListPipelines)
			r.Get("/{name}", s.handleGetPipeline)

			r.Group(func(r chi.Router) {
				if s.cfg.Server.Admin.Enabled {
					r.Use(s.requireAdmin)
				}

				r.Put("/{name}", s.handlePutPipeline)
				r.Delete("/{name}", s.handleDeletePipeline)
			})
		})

		// Indexed runs.
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Get("/{id}", s.handleGetRun)
		})

		// Live job data: scheduler status and streamed benchmark
		// counters.
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Get("/{id}/status", s.handleJobStatus)
			r.Get("/{id}/benchmarks", s.handleJobBenchmarks)
			r.Get("/{id}/benchmarks/{tag}", s.handleJobBenchmark)
		})

		// Event ingest, posted by the job runner as NDJSON.
		r.Group(func(r chi.Router) {
			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.RequestsPerMinute,
				))
			}

			r.Post("/events", s.handleEvents)
		})
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the server
// config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.Server.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Reflect the requesting origin so credentials work from any
		// origin.
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
