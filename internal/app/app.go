package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bengobox/oauth2-provider/internal/audit"
	"github.com/bengobox/oauth2-provider/internal/cache"
	"github.com/bengobox/oauth2-provider/internal/config"
	"github.com/bengobox/oauth2-provider/internal/database"
	"github.com/bengobox/oauth2-provider/internal/httpapi"
	"github.com/bengobox/oauth2-provider/internal/httpapi/handlers"
	httpmiddleware "github.com/bengobox/oauth2-provider/internal/httpapi/middleware"
	"github.com/bengobox/oauth2-provider/internal/httpapi/views"
	"github.com/bengobox/oauth2-provider/internal/metrics"
	"github.com/bengobox/oauth2-provider/internal/password"
	googleprovider "github.com/bengobox/oauth2-provider/internal/providers/google"
	"github.com/bengobox/oauth2-provider/internal/services/auth"
	"github.com/bengobox/oauth2-provider/internal/services/oauth"
	"github.com/bengobox/oauth2-provider/internal/session"
	"github.com/bengobox/oauth2-provider/internal/store"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App wires core dependencies and exposes server lifecycle controls.
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	db         *sqlx.DB
	redis      *redis.Client
	httpServer *http.Server
}

// New constructs the application.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if cfg.Database.RunMigrations {
		if err := database.RunMigrations(ctx, db, cfg.Database.Driver); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	a := &App{cfg: cfg, logger: logger, db: db}

	var sessions session.Store
	switch cfg.Session.Backend {
	case config.SessionBackendRedis:
		a.redis, err = cache.New(ctx, cfg.Redis)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		sessions = session.NewRedisStore(a.redis, cfg.Redis.Namespace)
	default:
		sessions = session.NewMemoryStore()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	st := store.New(db)
	auditor := audit.New(db, logger)
	hasher := password.NewHasher(cfg.Security)

	googleProvider, err := googleprovider.New(cfg.Providers.Google)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	authDeps := auth.Dependencies{
		Users:    st.Users,
		Sessions: sessions,
		Hasher:   hasher,
		Config:   cfg,
		Auditor:  auditor,
		Metrics:  m,
		Logger:   logger,
	}
	guardDeps := oauth.GuardDependencies{
		Local:   &oauth.LocalTokenStrategy{Tokens: st.Tokens, Users: st.Users},
		Metrics: m,
		Logger:  logger,
	}
	// A nil *Provider must not end up inside a non-nil interface.
	if googleProvider != nil {
		authDeps.Google = googleProvider
		guardDeps.Federated = &oauth.FederatedTokenStrategy{
			Verifier: googleprovider.NewIDTokenVerifier(ctx, cfg.Providers.Google.ClientID, cfg.Providers.Google.Timeout),
			Users:    st.Users,
		}
		logger.Info("google federated login enabled")
	}

	authService := auth.New(authDeps)
	oauthService := oauth.New(oauth.Dependencies{
		Store:   st,
		Config:  cfg.Token,
		Auditor: auditor,
		Metrics: m,
		Logger:  logger,
	})
	guard := oauth.NewGuard(guardDeps)

	renderer, err := views.New(logger)
	if err != nil {
		a.closeResources()
		return nil, err
	}
	sessionMiddleware := httpmiddleware.NewSessions(authService, httpmiddleware.CookieConfig{
		Name:   cfg.Session.CookieName,
		Secure: cfg.Session.CookieSecure,
		TTL:    cfg.Session.TTL,
	}, logger)

	router := httpapi.NewRouter(httpapi.RouterDeps{
		Health:         handlers.NewHealthHandler(db, logger).Health,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Sessions:       sessionMiddleware,
		Bearer:         httpmiddleware.NewAuth(guard),
		Auth:           handlers.NewAuthHandler(authService, st.Clients, sessionMiddleware, renderer, logger),
		Clients:        handlers.NewClientHandler(oauthService, renderer, logger),
		OAuth:          handlers.NewOAuthHandler(oauthService, sessionMiddleware, renderer, logger),
		API:            handlers.NewAPIHandler(),
		Metadata:       handlers.NewMetadataHandler(cfg.App.BaseURL, cfg.Token.DefaultScopes),
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:           router,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}
	return a, nil
}

// Handler exposes the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the HTTP server with TLS if certificates are configured.
func (a *App) Run() error {
	if a.cfg.HTTP.TLSCertFile != "" && a.cfg.HTTP.TLSKeyFile != "" {
		a.logger.Info("starting HTTPS server",
			zap.String("cert", a.cfg.HTTP.TLSCertFile),
			zap.String("key", a.cfg.HTTP.TLSKeyFile),
			zap.String("addr", a.httpServer.Addr),
		)
		return a.httpServer.ListenAndServeTLS(a.cfg.HTTP.TLSCertFile, a.cfg.HTTP.TLSKeyFile)
	}
	a.logger.Info("starting HTTP server", zap.String("addr", a.httpServer.Addr))
	return a.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server and closes resources.
func (a *App) Shutdown(ctx context.Context) error {
	shutdownErr := a.httpServer.Shutdown(ctx)
	if err := a.closeResources(); err != nil && shutdownErr == nil {
		shutdownErr = err
	}
	return shutdownErr
}

func (a *App) closeResources() error {
	var firstErr error
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close database", zap.Error(err))
		firstErr = err
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis client", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
