package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig holds settings for the API router.
type RouterConfig struct {
	// BackendAPIKey is the key that must be provided in X-API-Key or Authorization: Bearer <key>.
	// If empty, auth middleware is skipped (development mode).
	BackendAPIKey string

	// CorsAllowedOrigins is a comma-separated list of allowed origins.
	// If empty, defaults to "*" (development mode).
	CorsAllowedOrigins string

	// OutputDir is served read-only under /output/.
	OutputDir string
}

// ParseOrigins splits a comma-separated origin list, defaulting to "*".
func ParseOrigins(list string) []string {
	var origins []string
	for _, o := range strings.Split(list, ",") {
		if s := strings.TrimSpace(o); s != "" {
			origins = append(origins, s)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CorsAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)

	if cfg.OutputDir != "" {
		r.Handle("/output/*", http.StripPrefix("/output/", http.FileServer(http.Dir(cfg.OutputDir))))
	}

	r.Route("/v1", func(r chi.Router) {
		if cfg.BackendAPIKey != "" {
			r.Use(APIKeyAuth(cfg.BackendAPIKey))
		}

		// Batches
		r.Post("/batches/preview", h.PreviewBatch)
		r.Post("/batches/render", h.RenderBatch)
		r.Get("/batches/{id}", h.GetBatch)
		r.Post("/batches/{id}/confirm", h.ConfirmBatch)
		r.Get("/batches/{id}/events", h.StreamBatch)
		r.Get("/batches/{id}/download", h.DownloadBatch)

		// Display catalogs for the front-end
		r.Get("/festivals", h.GetFestival)
		r.Get("/festivals/{id}", h.GetFestival)
		r.Get("/themes", h.ListThemes)
	})

	return r
}
