// Package api exposes the secure session and storage core over a local HTTP
// facade: session lifecycle, encrypted key-value access, and CSRF token
// issuance, with anti-forgery enforcement on mutating routes.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/vueni/strongbox/csrf"
	"github.com/vueni/strongbox/securestore"
	"github.com/vueni/strongbox/session"
)

// API holds the dependencies needed by the HTTP handlers.
type API struct {
	store    *securestore.Store
	sessions *session.Manager
	tokens   *csrf.Issuer
	logger   *slog.Logger
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for request handling.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger.With("component", "api")
	}
}

// New creates a new API instance.
func New(store *securestore.Store, sessions *session.Manager, tokens *csrf.Issuer, opts ...Option) *API {
	a := &API{
		store:    store,
		sessions: sessions,
		tokens:   tokens,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("component", "api")
	}
	return a
}

// Router returns a chi.Router with all routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(SecurityHeaders)
	r.Use(a.ActivitySignal)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Post("/session", a.CreateSession)
	r.Get("/session", a.CurrentSession)
	r.Get("/csrf", a.IssueCSRFToken)

	r.Group(func(r chi.Router) {
		r.Use(a.CSRFMiddleware)
		r.Post("/session/activity", a.UpdateActivity)
		r.Post("/session/extend", a.ExtendSession)
		r.Delete("/session", a.EndSession)
		r.Put("/store/{key}", a.PutItem)
		r.Delete("/store/{key}", a.DeleteItem)
	})
	r.Get("/store/{key}", a.GetItem)

	return r
}
