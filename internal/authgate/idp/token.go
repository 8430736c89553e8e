package idp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Nerzal/gocloak/v13"
	"github.com/aussiebroadwan/authgate/pkg/slogx"
)

// GetAccessToken runs the password grant for a user against the
// application realm and returns the access token.
func (c *Client) GetAccessToken(ctx context.Context, username, password string) (token string, err error) {
	defer c.observe("password_grant", time.Now(), &err)

	jwt, err := c.gc.Login(ctx, c.cfg.ClientID, c.cfg.ClientSecret, c.cfg.Realm, username, password)
	if err != nil {
		return "", c.grantError(ctx, username, err)
	}
	return jwt.AccessToken, nil
}

// grantError sorts a failed password grant into bad user credentials, a
// misconfigured client and everything else.
func (c *Client) grantError(ctx context.Context, username string, err error) error {
	log := slogx.FromContext(ctx)

	var ae *gocloak.APIError
	if !errors.As(err, &ae) || ae.Code == 0 {
		log.Error("password grant failed", slog.String("username", username), slog.Any("error", err))
		return providerErr("password grant", err)
	}

	code := oauthErrorCode(ae.Message)
	switch status := ae.Code; {
	case code == "invalid_client" || code == "unauthorized_client":
		log.Error("password grant rejected the client; check the client id and secret",
			slog.String("client_id", c.cfg.ClientID),
			slog.String("error_code", code),
		)
		return ErrClientConfiguration

	case status == http.StatusUnauthorized,
		status == http.StatusBadRequest && code == "invalid_grant":
		log.Info("invalid credentials", slog.String("username", username))
		return ErrInvalidCredentials

	case status == http.StatusBadRequest:
		log.Error("password grant returned 400; check that direct access grants are enabled and the client secret is correct",
			slog.String("client_id", c.cfg.ClientID),
			slog.String("error", ae.Message),
		)
		return ErrClientConfiguration

	default:
		log.Error("password grant failed",
			slog.String("username", username),
			slog.Int("http_status", status),
		)
		return &StatusError{Op: "password grant", StatusCode: status, Body: ae.Message}
	}
}

// oauthErrorCode extracts the OAuth error code from a gocloak message,
// which reads "<status>: <error>: <description>".
func oauthErrorCode(msg string) string {
	_, rest, ok := strings.Cut(msg, ": ")
	if !ok {
		return ""
	}
	code, _, _ := strings.Cut(rest, ":")
	return strings.TrimSpace(code)
}
