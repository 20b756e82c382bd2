package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/masterdata/internal/config"
	"github.com/pitabwire/masterdata/internal/export"
	"github.com/pitabwire/masterdata/internal/form"
	"github.com/pitabwire/masterdata/internal/observability"
	"github.com/pitabwire/masterdata/internal/openapi"
	"github.com/pitabwire/masterdata/internal/session"
	"github.com/pitabwire/masterdata/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Authenticate func(http.Handler) http.Handler
	Provider     model.RecordsProvider
	Sessions     *session.Manager
	Forms        *form.Controller
	Exports      *export.Runner
	API          *openapi.Index
	Metrics      *observability.Metrics
	// MetricsHandler serves the Prometheus registry; nil disables /metrics.
	MetricsHandler http.Handler
	Readiness      observability.ReadinessChecks
	Logger         *zap.Logger
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, metrics and the API document
// bypass authentication.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(Recovery(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	r.Get("/ui/health", observability.HandleHealth())
	r.Get("/ui/ready", observability.HandleReady(deps.Readiness))
	if deps.MetricsHandler != nil {
		path := deps.Config.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, deps.MetricsHandler)
	}
	if deps.API != nil {
		r.Method(http.MethodGet, "/api/openapi.json", deps.API)
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContextMiddleware(deps.Config.Identity.ClaimPaths))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))
		r.Use(deps.Metrics.MetricsMiddleware)

		r.Get("/api/entities", handleListEntities(deps.Provider))

		r.Route("/api/views", func(r chi.Router) {
			r.Post("/", handleCreateView(deps.Sessions, deps.API))
			r.Route("/{viewId}", func(r chi.Router) {
				r.Get("/", handleGetView(deps.Sessions))
				r.Delete("/", handleDeleteView(deps.Sessions))
				r.Put("/entity", handleTransition(deps.Sessions, selectEntity(deps.API)))
				r.Put("/params", handleTransition(deps.Sessions, setParams(deps.API)))
				r.Post("/reveal", handleTransition(deps.Sessions, reveal))
				r.Put("/page", handleTransition(deps.Sessions, changePage(deps.API)))
				r.Put("/page-size", handleTransition(deps.Sessions, changePageSize(deps.API)))
				r.Put("/sort", handleTransition(deps.Sessions, changeSort(deps.API)))
				r.Get("/export/{format}", handleExport(deps.Sessions, deps.Exports))
			})
		})

		r.Route("/api/forms/{entity}", func(r chi.Router) {
			r.Get("/", handleGetForm(deps.Forms))
			r.Post("/records", handleCreateRecord(deps.Forms, deps.API))
			r.Put("/records/{id}", handleUpdateRecord(deps.Forms, deps.API))
			r.Delete("/records/{id}", handleDeleteRecord(deps.Forms))
		})
	})

	return r
}
