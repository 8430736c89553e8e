//go:build e2e

package authgate_test

import (
	"net/http"
	"testing"

	"github.com/aussiebroadwan/authgate/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestRegisterLoginMe walks the main flow against a real Keycloak.
func TestRegisterLoginMe(t *testing.T) {
	client := setupAuthgate(t)
	ctx := t.Context()
	username := uniqueUsername("john")

	user, err := client.Register(ctx, registerRequest(username))
	require.NoError(t, err)
	require.NotEmpty(t, user.ID)
	require.Equal(t, []string{"USER"}, user.Roles)

	session, err := client.Login(ctx, username, "correct-horse-battery")
	require.NoError(t, err)
	require.NotEmpty(t, session.Token())
	require.Equal(t, user.ID, session.Auth().ID)
	require.Contains(t, session.Auth().Roles, "USER")

	me, err := session.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, user.ID, me.ID)
	require.Equal(t, username+"@example.com", me.Email)
	require.Equal(t, "1990-04-01T00:00:00Z", me.DateOfBirth)

	t.Logf("registered and logged in %s (%s)", username, user.ID)
}

// TestRegisterDuplicate registers the same username twice.
func TestRegisterDuplicate(t *testing.T) {
	client := setupAuthgate(t)
	ctx := t.Context()
	username := uniqueUsername("dup")

	_, err := client.Register(ctx, registerRequest(username))
	require.NoError(t, err)

	_, err = client.Register(ctx, registerRequest(username))
	assertAPIError(t, err, http.StatusConflict, authsdk.ErrorCodeUsernameTaken)
}

// TestRegisterWithRoles grants the requested roles instead of the default.
func TestRegisterWithRoles(t *testing.T) {
	client := setupAuthgate(t)
	ctx := t.Context()
	username := uniqueUsername("admin")

	req := registerRequest(username)
	req.Roles = []string{"ADMIN", "USER"}
	_, err := client.Register(ctx, req)
	require.NoError(t, err)

	session, err := client.Login(ctx, username, "correct-horse-battery")
	require.NoError(t, err)
	require.Subset(t, session.Auth().Roles, []string{"ADMIN", "USER"})
}

// TestLoginFailures are indistinguishable to the caller.
func TestLoginFailures(t *testing.T) {
	client := setupAuthgate(t)
	ctx := t.Context()
	username := uniqueUsername("login")

	_, err := client.Register(ctx, registerRequest(username))
	require.NoError(t, err)

	_, wrongPassword := client.Login(ctx, username, "wrong-password")
	assertAPIError(t, wrongPassword, http.StatusUnauthorized, authsdk.ErrorCodeInvalidCredentials)

	_, unknownUser := client.Login(ctx, uniqueUsername("ghost"), "whatever")
	assertAPIError(t, unknownUser, http.StatusUnauthorized, authsdk.ErrorCodeInvalidCredentials)

	require.Equal(t, wrongPassword.Error(), unknownUser.Error())
}

// TestMeRequiresToken rejects anonymous and forged requests.
func TestMeRequiresToken(t *testing.T) {
	client := setupAuthgate(t)

	_, err := client.NewSession("").Me(t.Context())
	assertAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeInvalidToken)

	_, err = client.NewSession("eyJhbGciOiJub25lIn0.e30.").Me(t.Context())
	assertAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeInvalidToken)
}

// TestResendVerificationEmail covers the answers that need no mail server.
func TestResendVerificationEmail(t *testing.T) {
	client := setupAuthgate(t)
	ctx := t.Context()

	_, err := client.ResendVerificationEmail(ctx, uniqueUsername("ghost"))
	assertAPIError(t, err, http.StatusBadRequest, authsdk.ErrorCodeVerificationFailed)
	require.ErrorContains(t, err, "user not found")
}

// TestHealthEndpoints checks liveness and readiness against Keycloak.
func TestHealthEndpoints(t *testing.T) {
	client := setupAuthgate(t)

	live, err := client.GetLiveness(t.Context())
	assertHealthy(t, live, err)

	ready, err := client.GetReadiness(t.Context())
	assertHealthy(t, ready, err)
	require.Equal(t, "ok", ready.Checks.IdentityProvider)
	require.Equal(t, "ok", ready.Checks.Keys)
}
