package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/catalog-indexer/internal/service"
	"github.com/utafrali/catalog-indexer/pkg/health"
	"github.com/utafrali/catalog-indexer/pkg/middleware"
)

// NewRouter creates a chi router with the operations routes registered.
func NewRouter(
	catalogService *service.CatalogService,
	healthHandler *health.Handler,
	pprofCIDRs []string,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Tracing("catalog-indexer"))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("catalog-indexer"))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})
	middleware.RegisterPprof(r, pprofCIDRs, logger)

	catalogHandler := NewCatalogHandler(catalogService, logger)

	r.Route("/api/v1/catalogs/{key}", func(r chi.Router) {
		r.Get("/", catalogHandler.Status)
		r.Get("/failures", catalogHandler.Failures)
		r.Post("/sync", catalogHandler.Sync)
		r.Delete("/checkpoint", catalogHandler.ClearCheckpoint)
	})

	return r
}
