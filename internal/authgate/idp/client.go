// Package idp talks to the identity provider's administrative REST API
// (Keycloak compatible) through gocloak. Admin calls carry a bearer token
// obtained with the configured admin credential and cached by
// golang.org/x/oauth2 until it expires.
package idp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Nerzal/gocloak/v13"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

// DefaultTimeout bounds every call to the provider.
const DefaultTimeout = 10 * time.Second

// Config holds the provider connection settings.
type Config struct {
	ServerURL    string
	Realm        string
	ClientID     string
	ClientSecret string

	// Admin credential, resolved against AdminRealm with AdminClientID
	AdminRealm    string
	AdminClientID string
	AdminUsername string
	AdminPassword string

	// Issuer overrides {ServerURL}/realms/{Realm}, for deployments where the
	// provider's public URL differs from the one we reach it on.
	Issuer string

	Timeout time.Duration

	// RequireEmailVerification creates users unverified with a pending
	// VERIFY_EMAIL action.
	RequireEmailVerification bool
}

// Validate reports missing required settings.
func (c Config) Validate() error {
	var errs []error
	for name, v := range map[string]string{
		"server url":     c.ServerURL,
		"realm":          c.Realm,
		"client id":      c.ClientID,
		"client secret":  c.ClientSecret,
		"admin username": c.AdminUsername,
		"admin password": c.AdminPassword,
	} {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("idp: %s is required", name))
		}
	}
	if c.ServerURL != "" {
		if u, err := url.Parse(c.ServerURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("idp: server url %q is not an absolute URL", c.ServerURL))
		}
	}
	return errors.Join(errs...)
}

// Observer receives one call per provider operation. outcome is "ok" or a
// short error class.
type Observer interface {
	ObserveProviderCall(op, outcome string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveProviderCall(string, string, time.Duration) {}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used outside of request scope.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithObserver records provider call metrics.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithTransport replaces the round tripper under every provider call. The
// default is http.DefaultTransport wrapped by otelhttp.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.transport = rt }
}

// Client is the administrative session with the provider. It is safe for
// concurrent use and is meant to be created once at startup.
type Client struct {
	cfg       Config
	baseURL   string
	logger    *slog.Logger
	observer  Observer
	transport http.RoundTripper

	gc    *gocloak.GoCloak
	plain *http.Client // public realm endpoints, shared with the key cache
	token oauth2.TokenSource
}

// New creates the admin session and obtains a first admin token, so a bad
// admin credential fails startup.
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.AdminRealm == "" {
		cfg.AdminRealm = "master"
	}
	if cfg.AdminClientID == "" {
		cfg.AdminClientID = "admin-cli"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	c := &Client{
		cfg:      cfg,
		baseURL:  strings.TrimSuffix(cfg.ServerURL, "/"),
		logger:   slog.Default(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		c.transport = otelhttp.NewTransport(http.DefaultTransport)
	}

	c.plain = &http.Client{Transport: c.transport, Timeout: cfg.Timeout}
	c.gc = gocloak.NewClient(c.baseURL)
	c.gc.RestyClient().
		SetTransport(c.transport).
		SetTimeout(cfg.Timeout)

	c.token = oauth2.ReuseTokenSource(nil, &adminTokenSource{
		gc:       c.gc,
		realm:    cfg.AdminRealm,
		clientID: cfg.AdminClientID,
		username: cfg.AdminUsername,
		password: cfg.AdminPassword,
		timeout:  cfg.Timeout,
	})

	if _, err := c.token.Token(); err != nil {
		return nil, fmt.Errorf("idp: admin login against realm %q failed: %w", cfg.AdminRealm, err)
	}

	c.logger.InfoContext(ctx, "identity provider session established",
		slog.String("server", c.baseURL),
		slog.String("realm", cfg.Realm),
		slog.String("admin_realm", cfg.AdminRealm),
	)
	return c, nil
}

// adminTokenSource runs the admin password grant. Wrapped in a
// ReuseTokenSource it is only called when the cached token has expired.
type adminTokenSource struct {
	gc                 *gocloak.GoCloak
	realm, clientID    string
	username, password string
	timeout            time.Duration
}

func (s *adminTokenSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	jwt, err := s.gc.Login(ctx, s.clientID, "", s.realm, s.username, s.password)
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{AccessToken: jwt.AccessToken, TokenType: jwt.TokenType}
	if jwt.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(jwt.ExpiresIn) * time.Second)
	}
	return tok, nil
}

// adminToken returns the current admin access token, logging in again
// when the cached one has expired.
func (c *Client) adminToken() (string, error) {
	tok, err := c.token.Token()
	if err != nil {
		return "", providerErr("admin token", err)
	}
	return tok.AccessToken, nil
}

// Issuer is the iss claim of tokens issued for the realm.
func (c *Client) Issuer() string {
	if c.cfg.Issuer != "" {
		return strings.TrimSuffix(c.cfg.Issuer, "/")
	}
	return c.realmURL(c.cfg.Realm)
}

// JWKSURL is the realm's certs endpoint.
func (c *Client) JWKSURL() string {
	return c.realmURL(c.cfg.Realm) + "/protocol/openid-connect/certs"
}

// HTTPClient returns the instrumented client used for public realm
// endpoints. The signing key cache shares it.
func (c *Client) HTTPClient() *http.Client {
	return c.plain
}

// Ping checks that the admin session holds a valid token and that the realm
// answers.
func (c *Client) Ping(ctx context.Context) (err error) {
	defer c.observe("ping", time.Now(), &err)

	if _, err := c.adminToken(); err != nil {
		return err
	}
	if _, err := c.gc.GetIssuer(ctx, c.cfg.Realm); err != nil {
		return apiError("ping", err)
	}
	return nil
}

func (c *Client) realmURL(realm string) string {
	return c.baseURL + "/realms/" + url.PathEscape(realm)
}

// apiError converts a gocloak failure. An answer from the provider becomes
// a StatusError, a transport failure keeps its cause.
func apiError(op string, err error) error {
	var ae *gocloak.APIError
	if errors.As(err, &ae) && ae.Code != 0 {
		return &StatusError{Op: op, StatusCode: ae.Code, Body: ae.Message}
	}
	return providerErr(op, err)
}

// statusOf is the HTTP status behind a gocloak failure, 0 when the request
// never got an answer.
func statusOf(err error) int {
	var ae *gocloak.APIError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return 0
}

// observe reports the outcome of op to the Observer. It is deferred with a
// pointer to the named error result.
func (c *Client) observe(op string, start time.Time, errp *error) {
	c.observer.ObserveProviderCall(op, outcome(*errp), time.Since(start))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrAlreadyVerified):
		return "already_verified"
	case errors.Is(err, ErrClientConfiguration):
		return "client_configuration"
	default:
		return "error"
	}
}
