package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/V4T54L/hb-acquire/internal/adapter/api/handler"
	"github.com/V4T54L/hb-acquire/internal/adapter/api/middleware"
)

// NewAdminRouter creates and configures the admin HTTP router: metrics, health
// and status.
func NewAdminRouter(status handler.StatusProvider, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	logger = logger.With("component", "admin_api")
	adminHandler := handler.NewAdminHandler(status, logger)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging(logger))

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", adminHandler.HealthCheck)
	r.Get("/status", adminHandler.Status)

	return r
}
