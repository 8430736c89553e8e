package app

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	httpapi "github.com/aussiebroadwan/authgate/internal/authgate/http"
	"github.com/aussiebroadwan/authgate/internal/authgate/idp"
	"github.com/aussiebroadwan/authgate/pkg/httpx"
	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Identity provider (required unless noted)
	IDPServerURL                string        `env:"IDP_SERVER_URL,required,notEmpty"`
	IDPRealm                    string        `env:"IDP_REALM,required,notEmpty"`
	IDPClientID                 string        `env:"IDP_CLIENT_ID,required,notEmpty"`
	IDPClientSecret             string        `env:"IDP_CLIENT_SECRET,required,notEmpty"`
	IDPAdminUsername            string        `env:"IDP_ADMIN_USERNAME,required,notEmpty"`
	IDPAdminPassword            string        `env:"IDP_ADMIN_PASSWORD,required,notEmpty"`
	IDPAdminRealm               string        `env:"IDP_ADMIN_REALM"                 envDefault:"master"`
	IDPAdminClientID            string        `env:"IDP_ADMIN_CLIENT_ID"             envDefault:"admin-cli"`
	IDPIssuer                   string        `env:"IDP_ISSUER"` // default {server}/realms/{realm}
	IDPTimeout                  time.Duration `env:"IDP_TIMEOUT"                     envDefault:"10s"`
	IDPRequireEmailVerification bool          `env:"IDP_REQUIRE_EMAIL_VERIFICATION"  envDefault:"false"`
	JWKSRefreshInterval         time.Duration `env:"IDP_JWKS_REFRESH_INTERVAL"       envDefault:"15m"`

	DefaultRole string `env:"DEFAULT_ROLE" envDefault:"USER"`

	Env                 string        `env:"ENV"                   envDefault:"dev"`
	LogLevel            string        `env:"LOG_LEVEL"             envDefault:"info"`
	LogFormat           string        `env:"LOG_FORMAT"            envDefault:"json"`
	Port                int           `env:"PORT"                  envDefault:"8080"`
	ShutdownGracePeriod time.Duration `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"10s"`

	// Proxies whose X-Forwarded-For and X-Real-IP are believed, as CIDRs or
	// single addresses. Empty trusts none.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	// OTLP/HTTP collector, tracing is off when empty
	OTelEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	RateLimitStrict   RateLimitEnv `envPrefix:"RATELIMIT_STRICT_"`
	RateLimitModerate RateLimitEnv `envPrefix:"RATELIMIT_MODERATE_"`
	RateLimitLenient  RateLimitEnv `envPrefix:"RATELIMIT_LENIENT_"`
}

// RateLimitEnv overrides one rate limit profile. Zero keeps the default.
type RateLimitEnv struct {
	Requests  int `env:"REQUESTS"`
	WindowSec int `env:"WINDOW_SEC"`
	Burst     int `env:"BURST"`
}

// LoadConfig reads the configuration from the environment. Every problem
// is reported, not just the first.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values env tags cannot express.
func (c Config) Validate() error {
	var errs []error
	if u, err := url.Parse(c.IDPServerURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("IDP_SERVER_URL must be an absolute URL, got %q", c.IDPServerURL))
	}
	if c.IDPTimeout <= 0 {
		errs = append(errs, errors.New("IDP_TIMEOUT must be positive"))
	}
	if c.JWKSRefreshInterval <= 0 {
		errs = append(errs, errors.New("IDP_JWKS_REFRESH_INTERVAL must be positive"))
	}
	if _, err := httpx.ParseTrustedProxies(c.TrustedProxies); err != nil {
		errs = append(errs, fmt.Errorf("TRUSTED_PROXIES: %w", err))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}
	for name, rl := range map[string]RateLimitEnv{
		"STRICT":   c.RateLimitStrict,
		"MODERATE": c.RateLimitModerate,
		"LENIENT":  c.RateLimitLenient,
	} {
		if rl.Requests < 0 || rl.WindowSec < 0 || rl.Burst < 0 {
			errs = append(errs, fmt.Errorf("RATELIMIT_%s_* must not be negative", name))
		}
	}
	return errors.Join(errs...)
}

// IDP returns the identity provider client settings.
func (c Config) IDP() idp.Config {
	return idp.Config{
		ServerURL:                c.IDPServerURL,
		Realm:                    c.IDPRealm,
		ClientID:                 c.IDPClientID,
		ClientSecret:             c.IDPClientSecret,
		AdminRealm:               c.IDPAdminRealm,
		AdminClientID:            c.IDPAdminClientID,
		AdminUsername:            c.IDPAdminUsername,
		AdminPassword:            c.IDPAdminPassword,
		Issuer:                   c.IDPIssuer,
		Timeout:                  c.IDPTimeout,
		RequireEmailVerification: c.IDPRequireEmailVerification,
	}
}

// ClientIP resolves client addresses behind TRUSTED_PROXIES. Invalid
// entries were rejected by Validate and are skipped here.
func (c Config) ClientIP() *httpx.ClientIP {
	prefixes, _ := httpx.ParseTrustedProxies(c.TrustedProxies)
	return httpx.NewClientIP(prefixes)
}

// RateLimits applies the overrides to the default profiles.
func (c Config) RateLimits() httpapi.RateLimits {
	rl := httpapi.DefaultRateLimits()
	rl.Strict = rl.Strict.Override(c.RateLimitStrict.Requests, c.RateLimitStrict.WindowSec, c.RateLimitStrict.Burst)
	rl.Moderate = rl.Moderate.Override(c.RateLimitModerate.Requests, c.RateLimitModerate.WindowSec, c.RateLimitModerate.Burst)
	rl.Lenient = rl.Lenient.Override(c.RateLimitLenient.Requests, c.RateLimitLenient.WindowSec, c.RateLimitLenient.Burst)
	return rl
}
