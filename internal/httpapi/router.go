package httpapi

import (
	"net/http"
	"time"

	"github.com/bengobox/oauth2-provider/internal/httpapi/handlers"
	"github.com/bengobox/oauth2-provider/internal/httpapi/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterDeps defines router construction dependencies.
type RouterDeps struct {
	Health         http.HandlerFunc
	MetricsHandler http.Handler
	Sessions       *middleware.Sessions
	Bearer         *middleware.Auth
	Auth           *handlers.AuthHandler
	Clients        *handlers.ClientHandler
	OAuth          *handlers.OAuthHandler
	API            *handlers.APIHandler
	Metadata       *handlers.MetadataHandler
	AllowedOrigins []string
}

// NewRouter wires HTTP routes.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	// Credentials stay off: cross-origin callers authenticate with bearer
	// or client credentials, never the session cookie.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	if deps.Health != nil {
		r.Get("/healthz", deps.Health)
	}
	if deps.MetricsHandler != nil {
		r.Method("GET", "/metrics", deps.MetricsHandler)
	}
	r.Get("/.well-known/oauth-authorization-server", deps.Metadata.Serve)

	r.Group(func(r chi.Router) {
		r.Use(deps.Sessions.Load)
		r.Get("/", deps.Auth.Home)
		r.Get("/login", deps.Auth.LoginPage)
		r.Post("/login", deps.Auth.Login)
		r.Post("/register", deps.Auth.Register)
		r.Get("/logout", deps.Auth.Logout)
		r.Get("/google/login", deps.Auth.GoogleLogin)
		r.Get("/google/authorize", deps.Auth.GoogleAuthorize)
		r.With(deps.Sessions.RequireUser).Post("/clients", deps.Clients.Create)
		r.Get("/oauth/authorize", deps.OAuth.Authorize)
		r.Post("/oauth/authorize", deps.OAuth.Authorize)
	})

	r.Post("/oauth/token", deps.OAuth.Token)
	r.Post("/oauth/revoke", deps.OAuth.Revoke)

	r.Route("/api", func(r chi.Router) {
		r.Use(deps.Bearer.RequireAuth)
		r.With(deps.Bearer.RequireScope("profile")).Get("/me", deps.API.Me)
		r.Get("/data", deps.API.Data)
	})

	return r
}
