package authsdk

import (
	"context"
	"net/http"
)

// Session is a logged in user. The provider's tokens are short lived and
// authgate has no refresh endpoint, so an expired Session answers
// ErrorCodeInvalidToken and the caller logs in again.
type Session struct {
	client *SDKClient
	auth   AuthResponse
}

// NewSession wraps an access token obtained elsewhere.
func (c *SDKClient) NewSession(token string) *Session {
	return &Session{client: c, auth: AuthResponse{Token: token}}
}

// Token returns the bearer token.
func (s *Session) Token() string { return s.auth.Token }

// Auth returns the login response the session was created from. It is
// zero apart from Token for sessions built with NewSession.
func (s *Session) Auth() AuthResponse { return s.auth }

// Me returns the authenticated user.
func (s *Session) Me(ctx context.Context) (*UserResponse, error) {
	resp, err := s.client.doRequest(ctx, http.MethodGet, "/api/auth/me", s.auth.Token, nil)
	if err != nil {
		return nil, err
	}

	var user UserResponse
	if err := decodeJSON(resp, &user, http.StatusOK); err != nil {
		return nil, err
	}
	return &user, nil
}
