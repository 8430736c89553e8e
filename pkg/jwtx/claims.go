package jwtx

import (
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the access-token claims the identity provider puts in the
// tokens it issues for our realm. We only read them, we never sign them.
type Claims struct {
	jwt.RegisteredClaims

	// PreferredUsername is the login name. Subject is the provider's opaque
	// user id, so this is what we resolve users by when it is present.
	PreferredUsername string `json:"preferred_username,omitempty"`

	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`

	// Space delimited, "openid profile email"
	Scope string `json:"scope,omitempty"`

	// Client the token was issued to
	AuthorizedParty string `json:"azp,omitempty"`

	RealmAccess RealmAccess `json:"realm_access,omitempty"`
}

// RealmAccess holds the realm level role names granted to the user.
type RealmAccess struct {
	Roles []string `json:"roles,omitempty"`
}

// Principal returns the name we identify the caller by: preferred_username
// when present, otherwise the subject.
func (c *Claims) Principal() string {
	if name := strings.TrimSpace(c.PreferredUsername); name != "" {
		return name
	}
	return c.Subject
}

// HasAnyRole reports whether at least one of roles is granted.
func (c *Claims) HasAnyRole(roles ...string) bool {
	for _, r := range roles {
		if slices.Contains(c.RealmAccess.Roles, r) {
			return true
		}
	}
	return false
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}

	if strings.TrimSuffix(c.Issuer, "/") != strings.TrimSuffix(expected, "/") {
		return ErrIssuer
	}

	return nil
}

// ValidateAudience checks if at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil // nothing to enforce
	}

	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}

	return ErrAudience
}

// ValidateExpiryWithLeeway adds a small grace period for clock skew between
// us and the provider.
func (c *Claims) ValidateExpiryWithLeeway(leeway time.Duration) error {
	now := time.Now().UTC()

	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}

	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}

	return nil
}
