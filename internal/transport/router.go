package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/crudadmin/internal/config"
	"github.com/pitabwire/crudadmin/internal/crud"
	"github.com/pitabwire/crudadmin/internal/observability"
	"github.com/pitabwire/crudadmin/internal/session"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Dispatcher   *crud.Dispatcher
	Admins       AdminLister
	Flashes      session.FlashBag
	Metrics      *observability.Metrics
	Readiness    observability.ReadinessChecks
	Authenticate func(http.Handler) http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness and metrics bypass authentication.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := deps.Config

	r := chi.NewRouter()
	r.Use(Recovery(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(CORS(cfg.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	r.Handle("/metrics", observability.Handler())

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}
	out := responseWriter{logger: logger, metrics: deps.Metrics}
	action := func(name string) http.HandlerFunc {
		return handleAction(deps.Dispatcher, out, name)
	}

	r.Route("/admin", func(r chi.Router) {
		r.Use(Session(cfg.Session))
		r.Use(auth)
		r.Use(BuildRequestContextMiddleware(cfg.Identity.ClaimPaths, logger))
		r.Use(RateLimit(cfg.Server.RateLimit))
		r.Use(HandlerTimeout(cfg.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Get("/", handleDashboard(deps.Admins))
		r.Get("/flashes", handleFlashes(deps.Flashes))

		r.Route("/{code}", func(r chi.Router) {
			mountCollection(r, action)
			r.Route("/{id}", func(r chi.Router) {
				mountObject(r, action)
				r.Route("/{childCode}", func(r chi.Router) {
					mountCollection(r, action)
					r.Route("/{childId}", func(r chi.Router) {
						mountObject(r, action)
					})
				})
			})
		})
	})

	return r
}

// mountCollection registers the routes that act on an admin's collection.
func mountCollection(r chi.Router, action func(string) http.HandlerFunc) {
	r.Get("/list", action(crud.ActionList))
	r.Get("/create", action(crud.ActionCreate))
	r.Post("/create", action(crud.ActionCreate))
	// Non-POST batch requests are rejected by the dispatcher with a 404.
	r.HandleFunc("/batch", action(crud.ActionBatch))
	r.Get("/export", action(crud.ActionExport))
}

// mountObject registers the routes that act on one object.
func mountObject(r chi.Router, action func(string) http.HandlerFunc) {
	r.Get("/edit", action(crud.ActionEdit))
	r.Post("/edit", action(crud.ActionEdit))
	r.Get("/delete", action(crud.ActionDelete))
	r.Post("/delete", action(crud.ActionDelete))
	r.Delete("/delete", action(crud.ActionDelete))
	r.Get("/show", action(crud.ActionShow))
	r.Get("/history", action(crud.ActionHistory))
	r.Get("/history/{revision}/view", action(crud.ActionHistoryViewRevision))
	r.Get("/history/{base}/{compare}/compare", action(crud.ActionHistoryCompareRevisions))
	r.Get("/acl", action(crud.ActionACL))
	r.Post("/acl", action(crud.ActionACL))
}
