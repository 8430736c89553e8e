package authsdk

// ErrorResponse is the JSON error body returned by every JSON endpoint.
type ErrorResponse struct {
	// Error is the machine readable code (e.g. "username_taken")
	Error string `json:"error"`

	// ErrorDescription is a human-readable description of the error
	ErrorDescription string `json:"error_description,omitempty"`

	// Fields holds per-field messages for validation_failed
	Fields map[string]string `json:"fields,omitempty"`
}

// RegisterRequest is the body of POST /api/auth/register.
type RegisterRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`

	// DateOfBirth is an RFC 3339 timestamp in the past
	DateOfBirth string `json:"dateOfBirth"`

	// Roles defaults to the service's default role when empty
	Roles []string `json:"roles,omitempty"`
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// UserResponse describes an account and its realm roles.
type UserResponse struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	FirstName   string   `json:"firstName"`
	LastName    string   `json:"lastName"`
	DateOfBirth string   `json:"dateOfBirth"`
	Roles       []string `json:"roles"`
}

// AuthResponse is returned by a successful login.
type AuthResponse struct {
	// Token is the provider issued access token, sent back as a bearer token
	Token    string   `json:"token"`
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
}

// HealthResponse represents the response structure for health check endpoints.
// Used by both /livez and /readyz endpoints (readyz includes additional Checks field).
type HealthResponse struct {
	// Status is "ok" or "degraded"
	Status string `json:"status"`

	// Uptime is the service uptime duration as a string (e.g., "1h23m45s")
	Uptime string `json:"uptime,omitempty"`

	// Version is the service version string
	Version string `json:"version,omitempty"`

	// Checks is only set by /readyz
	Checks *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks reports on the dependencies /readyz looks at.
type HealthChecks struct {
	// IdentityProvider is "ok" when an admin token can be obtained
	IdentityProvider string `json:"identity_provider"`

	// Keys is "ok" once the provider's signing keys are loaded
	Keys string `json:"keys"`
}
