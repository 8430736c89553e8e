package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	httpapi "github.com/aussiebroadwan/authgate/internal/authgate/http"
	"github.com/aussiebroadwan/authgate/internal/authgate/idp"
	"github.com/aussiebroadwan/authgate/internal/authgate/metrics"
	"github.com/aussiebroadwan/authgate/internal/authgate/service"
	"github.com/aussiebroadwan/authgate/pkg/jwtx"
	"github.com/aussiebroadwan/authgate/pkg/otelx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"

	ServiceName = "authgate"
)

// Application holds the service and its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	provider *idp.Client
	keys     *jwtx.ProviderKeys
	registry *prometheus.Registry
	metrics  *metrics.Collector

	userService *service.UserService

	server *http.Server
	router *httpapi.Router

	shutdownTracing func(context.Context) error

	mu   sync.Mutex
	addr net.Addr
}

// New connects to the identity provider and builds the HTTP server. It
// fails when the admin session cannot be established.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Application, error) {
	app := &Application{
		cfg:             cfg,
		logger:          logger,
		shutdownTracing: func(context.Context) error { return nil },
	}

	shutdown, err := otelx.Setup(ctx, otelx.Config{
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: ServiceName,
		Version:     BuildVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	app.shutdownTracing = shutdown

	app.initMetrics()

	if err := app.initProvider(ctx); err != nil {
		_ = app.shutdownTracing(ctx)
		return nil, err
	}

	if err := app.initKeys(ctx); err != nil {
		_ = app.shutdownTracing(ctx)
		return nil, err
	}
	app.initServices()
	app.initHTTP()

	return app, nil
}

// Handler is the root HTTP handler, middleware included.
func (app *Application) Handler() http.Handler {
	return app.server.Handler
}

// Addr is the address the server listens on once Run has started, nil
// before.
func (app *Application) Addr() net.Addr {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.addr
}

// Run serves HTTP until ctx is cancelled or the server fails, then shuts
// down.
func (app *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", app.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", app.server.Addr, err)
	}
	app.mu.Lock()
	app.addr = ln.Addr()
	app.mu.Unlock()

	app.logger.Info("authgate starting",
		"addr", ln.Addr().String(),
		"version", BuildVersion,
		"realm", app.cfg.IDPRealm,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.Serve(ln)
	}()

	var runErr error
	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		app.logger.Info("shutdown requested", "cause", context.Cause(ctx))
	}

	if err := app.Shutdown(); err != nil && runErr == nil {
		runErr = fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return runErr
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down authgate...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	var errs []error
	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
		errs = append(errs, err)
	}

	// Stop the background key refresh
	app.keys.Close()

	// Flush pending spans
	if err := app.shutdownTracing(ctx); err != nil {
		app.logger.Error("tracing shutdown failed", "error", err)
		errs = append(errs, err)
	}

	app.logger.Info("authgate stopped")
	return errors.Join(errs...)
}

func (app *Application) initMetrics() {
	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = metrics.NewCollector(app.registry)
}

// initProvider opens the admin session.
func (app *Application) initProvider(ctx context.Context) error {
	provider, err := idp.New(ctx, app.cfg.IDP(),
		idp.WithLogger(app.logger),
		idp.WithObserver(app.metrics),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to identity provider: %w", err)
	}
	app.provider = provider
	return nil
}

// initKeys loads the provider's signing keys and keeps them refreshed in
// the background. A failed first fetch is not fatal: the first unknown kid
// triggers a refetch and /readyz reports degraded until keys are loaded.
func (app *Application) initKeys(ctx context.Context) error {
	keys, err := jwtx.NewProviderKeys(app.provider.JWKSURL(), jwtx.KeysOptions{
		HTTPClient:      app.provider.HTTPClient(),
		RefreshInterval: app.cfg.JWKSRefreshInterval,
		Logger:          app.logger,
		OnRefresh:       app.metrics.RecordJWKSRefresh,
	})
	if err != nil {
		return fmt.Errorf("failed to set up provider keys: %w", err)
	}
	app.keys = keys

	if n := keys.Count(ctx); n > 0 {
		app.logger.Info("jwks loaded", "url", keys.URL(), "keys", n)
	} else {
		app.logger.Warn("initial jwks fetch failed, keys will be fetched on demand", "url", keys.URL())
	}
	return nil
}

func (app *Application) initServices() {
	app.userService = &service.UserService{
		Provider:    app.provider,
		DefaultRole: app.cfg.DefaultRole,
	}
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	verifier := jwtx.NewProviderVerifier(app.keys, jwtx.VerifyOptions{
		Issuer: app.provider.Issuer(),
		Leeway: jwtx.DefaultLeeway,
	})

	router := httpapi.NewRouter(app.keys, verifier, BuildVersion, app.logger)

	// Wire services to router
	router.UserService = app.userService
	router.Provider = app.provider
	router.Limits = app.cfg.RateLimits()
	router.ClientIP = app.cfg.ClientIP()
	router.Metrics = app.metrics
	router.Gatherer = app.registry
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(app.cfg.Port)),
		Handler:           otelhttp.NewHandler(router, ServiceName),
		ReadHeaderTimeout: 3 * time.Second,
	}
}
