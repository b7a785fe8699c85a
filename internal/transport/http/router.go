package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fitgate/internal/guest/resolver"
	"fitgate/internal/platform/metrics"
	"fitgate/internal/ratelimit"
	"fitgate/pkg/platform/middleware/admin"
	"fitgate/pkg/platform/middleware/metadata"
)

// NewRouter wires all public endpoints. The per-IP limiter sits ahead of
// identity resolution so floods are shed before touching the store.
func NewRouter(
	h *Handler,
	res *resolver.Resolver,
	ipLimiter *ratelimit.Middleware,
	httpMetrics *metrics.Metrics,
	adminToken string,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(httpMetrics.Middleware)
	r.Use(metadata.ClientMetadata)

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		if ipLimiter != nil {
			api.Use(ipLimiter.PerIP)
		}
		api.Use(ResolveIdentity(res))
		api.Post("/reviews", h.handleSubmitReview)
		api.Get("/quota", h.handleQuota)
	})

	r.Route("/admin/identities/{key}", func(ar chi.Router) {
		ar.Use(admin.RequireAdminToken(adminToken, logger))
		ar.Get("/", h.handleGetIdentity)
		ar.Get("/audit", h.handleListAudit)
		ar.Post("/reset-usage", h.handleResetUsage)
		ar.Post("/reset-risk", h.handleResetRisk)
		ar.Post("/block", h.handleSetBlocked)
	})

	return r
}
