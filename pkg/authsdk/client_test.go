package authsdk_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aussiebroadwan/authgate/pkg/authsdk"
	"github.com/aussiebroadwan/authgate/pkg/httpx"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *authsdk.SDKClient {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/register", func(w http.ResponseWriter, r *http.Request) {
		var req authsdk.RegisterRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		switch req.Username {
		case "taken":
			authsdk.ErrUsernameTaken.WriteError(w)
		case "":
			authsdk.NewValidationError(map[string]string{"username": "is required"}).WriteError(w)
		default:
			httpx.WriteJSON(w, http.StatusOK, authsdk.UserResponse{
				ID:       "5d1c3a52-9e0f-4c3e-8f7e-0a6b4b1f2c3d",
				Username: req.Username,
				Email:    req.Email,
				Roles:    []string{"USER"},
			})
		}
	})
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req authsdk.LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Password != "correct-horse" {
			authsdk.ErrInvalidCredentials.WriteError(w)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, authsdk.AuthResponse{
			Token:    "access-token",
			ID:       "5d1c3a52-9e0f-4c3e-8f7e-0a6b4b1f2c3d",
			Username: req.Username,
			Roles:    []string{"USER"},
		})
	})
	mux.HandleFunc("GET /api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-token" {
			authsdk.ErrInvalidToken.WriteError(w)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, authsdk.UserResponse{Username: "john123", Roles: []string{"USER"}})
	})
	mux.HandleFunc("POST /api/auth/resend-verification-email", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("username") == "verified user" {
			httpx.WriteText(w, http.StatusBadRequest, "Failed to send verification email: email already verified")
			return
		}
		httpx.WriteText(w, http.StatusOK, "Verification email sent successfully")
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusServiceUnavailable, authsdk.HealthResponse{
			Status: "degraded",
			Checks: &authsdk.HealthChecks{IdentityProvider: "error: down", Keys: "ok"},
		})
	})
	mux.HandleFunc("GET /livez", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, authsdk.HealthResponse{Status: "ok", Version: "test"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := authsdk.NewSDKClient(srv.URL + "/")
	client.HTTPClient = srv.Client()
	return client
}

func TestRegister(t *testing.T) {
	client := newTestServer(t)
	ctx := t.Context()

	t.Run("success", func(t *testing.T) {
		user, err := client.Register(ctx, authsdk.RegisterRequest{Username: "john123", Email: "john@example.com"})
		require.NoError(t, err)
		require.Equal(t, "john123", user.Username)
		require.Equal(t, []string{"USER"}, user.Roles)
	})

	t.Run("username taken", func(t *testing.T) {
		_, err := client.Register(ctx, authsdk.RegisterRequest{Username: "taken"})
		require.True(t, authsdk.IsCode(err, authsdk.ErrorCodeUsernameTaken))

		var apiErr *authsdk.APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusConflict, apiErr.StatusCode)
	})

	t.Run("validation fields are surfaced", func(t *testing.T) {
		_, err := client.Register(ctx, authsdk.RegisterRequest{})

		var apiErr *authsdk.APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, authsdk.ErrorCodeValidationFailed, apiErr.Code)
		require.Equal(t, "is required", apiErr.Fields["username"])
	})
}

func TestLoginAndMe(t *testing.T) {
	client := newTestServer(t)
	ctx := t.Context()

	_, err := client.Login(ctx, "john123", "wrong")
	require.True(t, authsdk.IsCode(err, authsdk.ErrorCodeInvalidCredentials))

	session, err := client.Login(ctx, "john123", "correct-horse")
	require.NoError(t, err)
	require.Equal(t, "access-token", session.Token())
	require.Equal(t, "john123", session.Auth().Username)

	me, err := session.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, "john123", me.Username)

	_, err = client.NewSession("bogus").Me(ctx)
	require.True(t, authsdk.IsCode(err, authsdk.ErrorCodeInvalidToken))
}

func TestResendVerificationEmail(t *testing.T) {
	client := newTestServer(t)
	ctx := t.Context()

	msg, err := client.ResendVerificationEmail(ctx, "john123")
	require.NoError(t, err)
	require.Equal(t, "Verification email sent successfully", msg)

	_, err = client.ResendVerificationEmail(ctx, "verified user")
	var apiErr *authsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, authsdk.ErrorCodeVerificationFailed, apiErr.Code)
	require.Contains(t, apiErr.Description, "already verified")
}

func TestHealth(t *testing.T) {
	client := newTestServer(t)

	live, err := client.GetLiveness(t.Context())
	require.NoError(t, err)
	require.Equal(t, "ok", live.Status)

	_, err = client.GetReadiness(t.Context())
	var apiErr *authsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
}
