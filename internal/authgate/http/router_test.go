package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/authgate/internal/authgate/idp"
	"github.com/aussiebroadwan/authgate/internal/authgate/idp/idptest"
	"github.com/aussiebroadwan/authgate/internal/authgate/metrics"
	"github.com/aussiebroadwan/authgate/internal/authgate/service"
	"github.com/aussiebroadwan/authgate/pkg/authsdk"
	"github.com/aussiebroadwan/authgate/pkg/httpx"
	"github.com/aussiebroadwan/authgate/pkg/jwtx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type harness struct {
	fake   *idptest.Server
	srv    *httptest.Server
	sdk    *authsdk.SDKClient
	reg    *prometheus.Registry
	router *Router
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	fake := idptest.New(t)
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	client, err := idp.New(ctx, fake.Config(), idp.WithLogger(logger), idp.WithObserver(collector))
	require.NoError(t, err)

	keys, err := jwtx.NewProviderKeys(client.JWKSURL(), jwtx.KeysOptions{
		HTTPClient: client.HTTPClient(),
		Logger:     logger,
	})
	require.NoError(t, err)
	t.Cleanup(keys.Close)
	require.True(t, keys.Ready(ctx))
	verifier := jwtx.NewProviderVerifier(keys, jwtx.VerifyOptions{
		Issuer: client.Issuer(),
		Leeway: jwtx.DefaultLeeway,
	})

	generous := httpx.RateLimitConfig{RequestsPerWindow: 1000, Window: time.Minute, Burst: 1000}

	r := NewRouter(keys, verifier, "test", logger)
	r.UserService = &service.UserService{Provider: client}
	r.Provider = client
	r.Metrics = collector
	r.Gatherer = reg
	r.Limits = RateLimits{Strict: generous, Moderate: generous, Lenient: generous}
	r.ApplyRoutes()

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &harness{
		fake:   fake,
		srv:    srv,
		sdk:    authsdk.NewSDKClient(srv.URL),
		reg:    reg,
		router: r,
	}
}

func (h *harness) post(t *testing.T, path, contentType, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(h.srv.URL+path, contentType, strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *harness) get(t *testing.T, path, bearer string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, h.srv.URL+path, nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) authsdk.ErrorResponse {
	t.Helper()
	var body authsdk.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func john123() authsdk.RegisterRequest {
	return authsdk.RegisterRequest{
		Username:    "john123",
		Email:       "john@example.com",
		Password:    "correct-horse",
		FirstName:   "John",
		LastName:    "Doe",
		DateOfBirth: "1990-04-01T00:00:00Z",
	}
}

func TestRegisterLoginMe(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	user, err := h.sdk.Register(ctx, john123())
	require.NoError(t, err)
	require.NotEmpty(t, user.ID)
	require.Equal(t, "john123", user.Username)
	require.Equal(t, []string{"USER"}, user.Roles)
	require.Equal(t, []string{"USER"}, h.fake.Roles("john123"))

	session, err := h.sdk.Login(ctx, "john123", "correct-horse")
	require.NoError(t, err)
	require.NotEmpty(t, session.Token())
	require.Equal(t, user.ID, session.Auth().ID)
	require.Equal(t, []string{"USER"}, session.Auth().Roles)

	me, err := session.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, user.ID, me.ID)
	require.Equal(t, "john@example.com", me.Email)
	require.Equal(t, "1990-04-01T00:00:00Z", me.DateOfBirth)
	require.Equal(t, []string{"USER"}, me.Roles)

	// Registering the same name again is a conflict.
	_, err = h.sdk.Register(ctx, john123())
	require.True(t, authsdk.IsCode(err, authsdk.ErrorCodeUsernameTaken), "got %v", err)
	var apiErr *authsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusConflict, apiErr.StatusCode)
	require.Equal(t, 1, h.fake.Calls("create"))
}

func TestRegisterValidation(t *testing.T) {
	h := newHarness(t)

	t.Run("malformed body", func(t *testing.T) {
		resp := h.post(t, "/api/auth/register", "application/json", `{"username":`)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Equal(t, authsdk.ErrorCodeInvalidRequest, decodeError(t, resp).Error)
	})

	t.Run("field errors", func(t *testing.T) {
		resp := h.post(t, "/api/auth/register", "application/json",
			`{"username":"john 123","email":"nope","password":"short","dateOfBirth":"2999-01-01T00:00:00Z"}`)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		body := decodeError(t, resp)
		require.Equal(t, authsdk.ErrorCodeValidationFailed, body.Error)
		require.Contains(t, body.Fields, "username")
		require.Contains(t, body.Fields, "email")
		require.Contains(t, body.Fields, "password")
		require.Contains(t, body.Fields, "firstName")
		require.Contains(t, body.Fields, "lastName")
		require.Contains(t, body.Fields, "dateOfBirth")
		require.Zero(t, h.fake.Calls("create"))
	})
}

func TestLoginFailuresAreUniform(t *testing.T) {
	h := newHarness(t)
	h.fake.AddUser("alice", "correct-horse", "USER")

	cases := []struct {
		name     string
		username string
		password string
		down     bool
	}{
		{"wrong password", "alice", "wrong", false},
		{"unknown user", "ghost", "whatever", false},
		{"provider down", "alice", "correct-horse", true},
		{"empty password", "alice", "", false},
	}

	var bodies []string
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h.fake.SetDown(tc.down)
			defer h.fake.SetDown(false)

			payload, err := json.Marshal(authsdk.LoginRequest{Username: tc.username, Password: tc.password})
			require.NoError(t, err)
			resp := h.post(t, "/api/auth/login", "application/json", string(payload))
			require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

			raw, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			bodies = append(bodies, string(raw))
		})
	}

	for _, b := range bodies[1:] {
		require.Equal(t, bodies[0], b)
	}
}

func TestMe(t *testing.T) {
	h := newHarness(t)
	h.fake.AddUser("alice", "correct-horse", "USER")
	h.fake.AddUser("guest", "correct-horse", "GUEST")

	t.Run("no token", func(t *testing.T) {
		resp := h.get(t, "/api/auth/me", "")
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Contains(t, resp.Header.Get("WWW-Authenticate"), "Bearer")
	})

	t.Run("garbage token", func(t *testing.T) {
		resp := h.get(t, "/api/auth/me", "not-a-jwt")
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("missing role", func(t *testing.T) {
		resp := h.get(t, "/api/auth/me", h.fake.IssueToken("guest", "GUEST"))
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		require.Equal(t, authsdk.ErrorCodeInsufficientRole, decodeError(t, resp).Error)
	})

	t.Run("admin role", func(t *testing.T) {
		h.fake.AddUser("root", "correct-horse", "ADMIN")
		me, err := h.sdk.NewSession(h.fake.IssueToken("root", "ADMIN")).Me(context.Background())
		require.NoError(t, err)
		require.Equal(t, "root", me.Username)
		require.Equal(t, "1990-01-02T03:04:05Z", me.DateOfBirth)
		require.Equal(t, []string{"ADMIN"}, me.Roles)
	})

	t.Run("user deleted after token was issued", func(t *testing.T) {
		resp := h.get(t, "/api/auth/me", h.fake.IssueToken("vanished", "USER"))
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		require.Equal(t, authsdk.ErrorCodeUserNotFound, decodeError(t, resp).Error)
	})

	t.Run("provider down", func(t *testing.T) {
		token := h.fake.IssueToken("alice", "USER")
		h.fake.SetDown(true)
		defer h.fake.SetDown(false)

		resp := h.get(t, "/api/auth/me", token)
		require.Equal(t, http.StatusBadGateway, resp.StatusCode)
		require.Equal(t, authsdk.ErrorCodeUpstreamError, decodeError(t, resp).Error)
	})
}

func TestResendVerificationEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fake.AddUser("pending", "correct-horse", "USER")
	h.fake.SetEmailVerified("pending", false)
	h.fake.AddUser("done", "correct-horse", "USER")

	msg, err := h.sdk.ResendVerificationEmail(ctx, "pending")
	require.NoError(t, err)
	require.Equal(t, "Verification email sent successfully", msg)
	require.Equal(t, 1, h.fake.Calls("execute_actions"))

	_, err = h.sdk.ResendVerificationEmail(ctx, "done")
	require.True(t, authsdk.IsCode(err, authsdk.ErrorCodeVerificationFailed))
	require.ErrorContains(t, err, "Failed to send verification email: email already verified")
	require.Equal(t, 1, h.fake.Calls("execute_actions"))

	_, err = h.sdk.ResendVerificationEmail(ctx, "ghost")
	require.ErrorContains(t, err, "Failed to send verification email: user not found")

	resp := h.post(t, "/api/auth/resend-verification-email", "", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "Failed to send verification email: username is required", string(raw))
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	live, err := h.sdk.GetLiveness(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", live.Status)
	require.Equal(t, "test", live.Version)

	ready, err := h.sdk.GetReadiness(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", ready.Status)
	require.Equal(t, "ok", ready.Checks.IdentityProvider)
	require.Equal(t, "ok", ready.Checks.Keys)

	h.fake.SetDown(true)
	resp := h.get(t, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var body authsdk.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "degraded", body.Status)
	require.NotEqual(t, "ok", body.Checks.IdentityProvider)
	require.Equal(t, "ok", body.Checks.Keys)
}

type keyStatus bool

func (k keyStatus) Ready(context.Context) bool { return bool(k) }

func TestReadyzWithoutKeys(t *testing.T) {
	for name, keys := range map[string]KeyStatus{"empty": keyStatus(false), "nil": nil} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ReadyzHandler(time.Now(), "test", nil, keys).
				ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			require.Equal(t, http.StatusServiceUnavailable, rec.Code)
			require.Contains(t, rec.Body.String(), "no keys loaded")
		})
	}
}

func TestMetricsExposeRoutes(t *testing.T) {
	h := newHarness(t)

	h.get(t, "/livez", "")
	h.get(t, "/api/auth/me", "")
	h.post(t, "/api/auth/login", "application/json", `{"username":"ghost","password":"whatever"}`)

	resp := h.get(t, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	body := string(raw)
	require.Contains(t, body, `authgate_http_requests_total{method="GET",route="GET /livez",status="200"} 1`)
	require.Contains(t, body, `authgate_http_requests_total{method="GET",route="GET /api/auth/me",status="401"} 1`)
	require.Contains(t, body, `authgate_idp_calls_total{op="password_grant",outcome="invalid_credentials"} 1`)
}

func TestRateLimitedLogin(t *testing.T) {
	h := newHarness(t)
	h.router.Limits.Strict = httpx.RateLimitConfig{RequestsPerWindow: 1, Window: time.Minute, Burst: 1}
	h.router.Mux = http.NewServeMux()
	h.router.ApplyRoutes()

	body := `{"username":"a","password":"b"}`
	require.Equal(t, http.StatusUnauthorized, h.post(t, "/api/auth/login", "application/json", body).StatusCode)

	resp := h.post(t, "/api/auth/login", "application/json", body)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, authsdk.ErrorCodeRateLimitExceeded, decodeError(t, resp).Error)
}

func (h *harness) loginFrom(t *testing.T, forwardedFor string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/api/auth/login",
		strings.NewReader(`{"username":"a","password":"b"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", forwardedFor)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestLoginLimitNotBypassedByForwardedFor(t *testing.T) {
	h := newHarness(t)
	h.router.Limits.Strict = httpx.RateLimitConfig{RequestsPerWindow: 2, Window: time.Minute, Burst: 2}
	h.router.Mux = http.NewServeMux()
	h.router.ApplyRoutes()

	var codes []int
	for _, xff := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3", "4.4.4.4", "5.5.5.5", "6.6.6.6"} {
		codes = append(codes, h.loginFrom(t, xff))
	}
	require.Equal(t, []int{401, 401, 429, 429, 429, 429}, codes)
}

func TestLoginLimitPerClientBehindTrustedProxy(t *testing.T) {
	h := newHarness(t)
	prefixes, err := httpx.ParseTrustedProxies([]string{"127.0.0.1", "::1"})
	require.NoError(t, err)
	h.router.ClientIP = httpx.NewClientIP(prefixes)
	h.router.Limits.Strict = httpx.RateLimitConfig{RequestsPerWindow: 1, Window: time.Minute, Burst: 1}
	h.router.Mux = http.NewServeMux()
	h.router.ApplyRoutes()

	require.Equal(t, http.StatusUnauthorized, h.loginFrom(t, "198.51.100.1"))
	require.Equal(t, http.StatusUnauthorized, h.loginFrom(t, "198.51.100.2"))
	require.Equal(t, http.StatusTooManyRequests, h.loginFrom(t, "198.51.100.1"))
	require.Equal(t, http.StatusTooManyRequests, h.loginFrom(t, "9.9.9.9, 198.51.100.1"))
}
