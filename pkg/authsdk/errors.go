package authsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/authgate/pkg/httpx"
)

const (
	ErrorCodeInvalidRequest     = "invalid_request"
	ErrorCodeValidationFailed   = "validation_failed"
	ErrorCodeUsernameTaken      = "username_taken"
	ErrorCodeInvalidCredentials = "invalid_credentials"
	ErrorCodeUserNotFound       = "user_not_found"
	ErrorCodeInvalidToken       = "invalid_token"
	ErrorCodeInsufficientRole   = "insufficient_role"
	ErrorCodeRateLimitExceeded  = "rate_limit_exceeded"
	ErrorCodeUpstreamError      = "upstream_error"
	ErrorCodeServerError        = "server_error"

	// ErrorCodeVerificationFailed is synthesised by the SDK for the plain
	// text failures of the resend verification endpoint.
	ErrorCodeVerificationFailed = "verification_failed"
)

// APIError is an error answer from authgate. Handlers write it with
// WriteError and the SDK returns it for every non-2xx response.
type APIError struct {
	StatusCode  int               `json:"-"`
	Code        string            `json:"error"`
	Description string            `json:"error_description"`
	Fields      map[string]string `json:"fields,omitempty"`
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// WriteError writes e as the JSON error body.
func (e *APIError) WriteError(w http.ResponseWriter) {
	httpx.WriteJSON(w, e.StatusCode, ErrorResponse{
		Error:            e.Code,
		ErrorDescription: e.Description,
		Fields:           e.Fields,
	})
}

var (
	ErrInvalidRequest = &APIError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidRequest,
		Description: "the request body is malformed",
	}

	// ErrInvalidCredentials is deliberately the only login failure, whatever
	// went wrong.
	ErrInvalidCredentials = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidCredentials,
		Description: "invalid username or password",
	}

	ErrUsernameTaken = &APIError{
		StatusCode:  http.StatusConflict,
		Code:        ErrorCodeUsernameTaken,
		Description: "username is already taken",
	}

	ErrUserNotFound = &APIError{
		StatusCode:  http.StatusNotFound,
		Code:        ErrorCodeUserNotFound,
		Description: "user not found",
	}

	ErrInvalidToken = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidToken,
		Description: "the access token is missing, invalid or expired",
	}

	ErrUpstream = &APIError{
		StatusCode:  http.StatusBadGateway,
		Code:        ErrorCodeUpstreamError,
		Description: "the identity provider is unavailable",
	}

	ErrServerError = &APIError{
		StatusCode:  http.StatusInternalServerError,
		Code:        ErrorCodeServerError,
		Description: "internal server error",
	}
)

// NewValidationError builds the 400 answer for a request that failed field
// validation.
func NewValidationError(fields map[string]string) *APIError {
	return &APIError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeValidationFailed,
		Description: "request validation failed",
		Fields:      fields,
	}
}

// IsCode reports whether err is an *APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// parseErrorResponse turns a non-2xx response into an *APIError.
func parseErrorResponse(resp *http.Response, body []byte) error {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return &APIError{
			StatusCode:  resp.StatusCode,
			Code:        errResp.Error,
			Description: errResp.ErrorDescription,
			Fields:      errResp.Fields,
		}
	}

	// Plain text bodies (resend verification) or an empty body
	desc := strings.TrimSpace(string(body))
	if desc == "" {
		desc = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return &APIError{
		StatusCode:  resp.StatusCode,
		Code:        ErrorCodeServerError,
		Description: desc,
	}
}
