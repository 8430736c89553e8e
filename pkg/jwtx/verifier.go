package jwtx

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates a JWT and gives you back the claims if it's legit.
type Verifier interface {
	Verify(token string) (Claims, error)
}

// KeyResolver finds the verification key for a parsed token, in the shape
// of jwt.Keyfunc.
type KeyResolver interface {
	Keyfunc(t *jwt.Token) (any, error)
}

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrAlgMismatch = errors.New("jwtx: algorithm mismatch")
	ErrUnknownKID  = errors.New("jwtx: unknown kid")
	ErrInvalidSig  = errors.New("jwtx: invalid signature")

	ErrIssuer      = errors.New("jwtx: issuer mismatch")
	ErrAudience    = errors.New("jwtx: audience mismatch")
	ErrExpired     = errors.New("jwtx: token expired")
	ErrNotYetValid = errors.New("jwtx: token not yet valid")
)

// DefaultLeeway absorbs small clock differences with the provider.
const DefaultLeeway = 30 * time.Second

// VerifyOptions captures what a token must satisfy.
type VerifyOptions struct {
	// Issuer the token must have (claims.iss). Empty means "don't care".
	Issuer string

	// Audience values the token must contain (claims.aud). Empty means
	// "don't care", which is the usual case since the provider sets aud to
	// "account" unless a mapper is configured.
	Audience []string

	// Leeway allows small clock skew when validating exp/nbf/iat.
	Leeway time.Duration
}

// ProviderVerifier verifies RS256 and ES256 tokens against keys published
// by the identity provider.
type ProviderVerifier struct {
	keys KeyResolver
	opts VerifyOptions
}

// NewProviderVerifier creates a verifier backed by keys.
func NewProviderVerifier(keys KeyResolver, opts VerifyOptions) *ProviderVerifier {
	return &ProviderVerifier{keys: keys, opts: opts}
}

// Verify validates the JWT string and returns its parsed Claims.
func (v *ProviderVerifier) Verify(tokenStr string) (Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg(), jwt.SigningMethodES256.Alg()}),
		jwt.WithLeeway(v.opts.Leeway),
	)

	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, v.keyFunc)
	if err != nil {
		return Claims{}, classify(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Claims{}, ErrMalformed
	}

	if err := claims.ValidateIssuer(v.opts.Issuer); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateAudience(v.opts.Audience); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateExpiryWithLeeway(v.opts.Leeway); err != nil {
		return Claims{}, err
	}

	return *claims, nil
}

func (v *ProviderVerifier) keyFunc(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("%w: missing kid", ErrUnknownKID)
	}

	pub, err := v.keys.Keyfunc(t)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrUnknownKID, kid, err)
	}

	// Key type has to match what the header claims
	switch t.Method.Alg() {
	case jwt.SigningMethodRS256.Alg():
		if k, ok := pub.(*rsa.PublicKey); ok {
			return k, nil
		}
	case jwt.SigningMethodES256.Alg():
		if k, ok := pub.(*ecdsa.PublicKey); ok {
			return k, nil
		}
	}
	return nil, ErrAlgMismatch
}

// classify maps parser errors onto our sentinels so callers can log them
// without caring which library produced them.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrUnknownKID), errors.Is(err, ErrAlgMismatch):
		return err
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return ErrNotYetValid
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrInvalidSig
	default:
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
}
