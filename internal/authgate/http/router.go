package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/authgate/internal/authgate/metrics"
	"github.com/aussiebroadwan/authgate/internal/authgate/service"
	"github.com/aussiebroadwan/authgate/pkg/httpx"
	"github.com/aussiebroadwan/authgate/pkg/jwtx"
	"github.com/aussiebroadwan/authgate/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"

	_ "github.com/aussiebroadwan/authgate/api/authgate" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Realm roles allowed to read their own profile.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// Pinger reports whether the identity provider can be reached with the
// admin session.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KeyStatus reports whether the provider's signing keys are loaded.
type KeyStatus interface {
	Ready(ctx context.Context) bool
}

// RateLimits are the three profiles the routes are limited with.
type RateLimits struct {
	Strict   httpx.RateLimitConfig
	Moderate httpx.RateLimitConfig
	Lenient  httpx.RateLimitConfig
}

// DefaultRateLimits returns the httpx profiles unchanged.
func DefaultRateLimits() RateLimits {
	return RateLimits{
		Strict:   httpx.StrictLimit,
		Moderate: httpx.ModerateLimit,
		Lenient:  httpx.LenientLimit,
	}
}

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keys         KeyStatus
	verifier     jwtx.Verifier
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	UserService *service.UserService
	Provider    Pinger
	Limits      RateLimits

	// ClientIP attributes requests to client addresses for rate limiting.
	// nil ignores forwarding headers.
	ClientIP *httpx.ClientIP

	// Metrics and Gatherer are optional; /metrics is only mounted when
	// Gatherer is set.
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer
}

func NewRouter(
	keys KeyStatus,
	verifier jwtx.Verifier,
	buildVersion string,
	logger *slog.Logger,
) *Router {
	return &Router{
		Mux:          http.NewServeMux(),
		keys:         keys,
		verifier:     verifier,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		Limits:       DefaultRateLimits(),
	}
}

// ApplyRoutes mounts every route. Set the exported fields first.
func (r *Router) ApplyRoutes() {
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}
	if r.Metrics != nil {
		// Innermost, it reads the pattern the mux matched.
		r.middlewares = append(r.middlewares, r.Metrics.Middleware)
	}

	limiter := httpx.NewRateLimiter(r.ClientIP)
	r.registerAuth(limiter)
	r.registerSystem(limiter)

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			authgate API
//	@version		0.1.0
//	@description	Registration, login and profile endpoints in front of a Keycloak realm.
//	@description
//	@description				Access tokens are issued by the identity provider and verified against its JWKS.
//
//	@contact.name				AussieBroadWAN Team
//	@contact.url				https://github.com/aussiebroadwan/authgate
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Provider access token. Format: "Bearer {token}".
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAuth(limiter *httpx.RateLimiter) {
	// POST /register - strict rate limit by IP (account creation)
	registerHandler := &RegisterHandler{UserService: r.UserService}
	r.Mux.Handle("POST /api/auth/register",
		httpx.Chain(registerHandler,
			limiter.ByIP(r.Limits.Strict),
		),
	)

	// POST /login - strict rate limit by IP (password guessing)
	loginHandler := &LoginHandler{UserService: r.UserService}
	r.Mux.Handle("POST /api/auth/login",
		httpx.Chain(loginHandler,
			limiter.ByIP(r.Limits.Strict),
		),
	)

	// POST /resend-verification-email - moderate, by IP + username so one
	// address cannot be flooded with mail
	resendHandler := &ResendVerificationHandler{UserService: r.UserService}
	r.Mux.Handle("POST /api/auth/resend-verification-email",
		httpx.Chain(resendHandler,
			limiter.ByIPAndQuery(r.Limits.Moderate, "username"),
		),
	)

	// GET /me - authenticated, lenient rate limit by user
	meHandler := &MeHandler{UserService: r.UserService}
	r.Mux.Handle("GET /api/auth/me",
		httpx.Chain(meHandler,
			httpx.AuthnMiddleware(r.verifier),
			httpx.RequireAnyRole(RoleUser, RoleAdmin),
			limiter.ByPrincipal(r.Limits.Lenient),
		),
	)
}

func (r *Router) registerSystem(limiter *httpx.RateLimiter) {
	// Health check endpoints - lenient rate limits (monitoring systems may poll frequently)
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			limiter.ByIP(r.Limits.Lenient),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.Provider, r.keys),
			limiter.ByIP(r.Limits.Lenient),
		),
	)

	if r.Gatherer != nil {
		r.Mux.Handle("GET /metrics", metrics.Handler(r.Gatherer))
	}
}
