package authsdk

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SDKClient is a client for the authgate service. It performs the
// unauthenticated calls and creates Sessions from a login.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewSDKClient creates a new authgate client.
func NewSDKClient(baseURL string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Register creates an account.
func (c *SDKClient) Register(ctx context.Context, req RegisterRequest) (*UserResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/auth/register", "", req)
	if err != nil {
		return nil, err
	}

	var user UserResponse
	if err := decodeJSON(resp, &user, http.StatusOK); err != nil {
		return nil, err
	}
	return &user, nil
}

// Login exchanges a username and password for a Session.
func (c *SDKClient) Login(ctx context.Context, username, password string) (*Session, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/auth/login", "", LoginRequest{
		Username: username,
		Password: password,
	})
	if err != nil {
		return nil, err
	}

	var auth AuthResponse
	if err := decodeJSON(resp, &auth, http.StatusOK); err != nil {
		return nil, err
	}
	if auth.Token == "" {
		return nil, errors.New("authsdk: login response has no token")
	}

	return &Session{client: c, auth: auth}, nil
}

// ResendVerificationEmail asks the provider to email the user a fresh
// verification link and returns the service's confirmation message.
// Failures come back as *APIError with ErrorCodeVerificationFailed and the
// service's message as Description.
func (c *SDKClient) ResendVerificationEmail(ctx context.Context, username string) (string, error) {
	path := "/api/auth/resend-verification-email?username=" + url.QueryEscape(username)
	resp, err := c.doRequest(ctx, http.MethodPost, path, "", nil)
	if err != nil {
		return "", err
	}

	msg, err := readText(resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
			apiErr.Code = ErrorCodeVerificationFailed
		}
		return "", err
	}
	return msg, nil
}
