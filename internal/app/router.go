package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ssmspro2025/tms-sub000/internal/fees"
	financehttp "github.com/ssmspro2025/tms-sub000/internal/finance/http"
	"github.com/ssmspro2025/tms-sub000/internal/observability"
	"github.com/ssmspro2025/tms-sub000/internal/rbac"
	"github.com/ssmspro2025/tms-sub000/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	RBACMiddleware rbac.Middleware
	FinanceHandler *financehttp.Handler
	FeesHandler    *fees.Handler
	JobHandler     *jobs.Handler
	Metrics        *observability.Metrics
	Ready          func(r *http.Request) error
}

// NewRouter constructs the chi.Router with the service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if params.Ready != nil {
			if err := params.Ready(r); err != nil {
				params.Logger.Warn("readiness check failed", slog.Any("error", err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	limit := 0
	if params.Config != nil {
		limit = params.Config.RateLimitPerMinute
	}
	r.Route("/api", func(api chi.Router) {
		api.Use(params.RBACMiddleware.Resolve)
		api.Use(APIRateLimit(limit))
		if params.FinanceHandler != nil {
			api.Route("/finance", params.FinanceHandler.MountRoutes)
		}
		if params.FeesHandler != nil {
			api.Route("/fees", params.FeesHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			api.With(params.RBACMiddleware.RequireAny(rbac.CapInvoicesGenerate)).Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
