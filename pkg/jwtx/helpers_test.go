package jwtx_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/aussiebroadwan/authgate/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testIssuer = "http://idp.local/realms/app"

type rsaKey struct {
	kid  string
	priv *rsa.PrivateKey
}

func newRSAKey(t *testing.T, kid string) rsaKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return rsaKey{kid: kid, priv: priv}
}

func (k rsaKey) jwk(t *testing.T) jwkset.JWK {
	return publicJWK(t, &k.priv.PublicKey, k.kid, jwkset.UseSig, jwkset.AlgRS256)
}

func (k rsaKey) sign(t *testing.T, claims jwtx.Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = k.kid
	s, err := tok.SignedString(k.priv)
	require.NoError(t, err)
	return s
}

type ecKey struct {
	kid  string
	priv *ecdsa.PrivateKey
}

func newECKey(t *testing.T, kid string) ecKey {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return ecKey{kid: kid, priv: priv}
}

func (k ecKey) jwk(t *testing.T) jwkset.JWK {
	return publicJWK(t, &k.priv.PublicKey, k.kid, jwkset.UseSig, jwkset.AlgES256)
}

func (k ecKey) sign(t *testing.T, claims jwtx.Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["kid"] = k.kid
	s, err := tok.SignedString(k.priv)
	require.NoError(t, err)
	return s
}

func publicJWK(t *testing.T, pub any, kid string, use jwkset.USE, alg jwkset.ALG) jwkset.JWK {
	t.Helper()
	j, err := jwkset.NewJWKFromKey(pub, jwkset.JWKOptions{
		Metadata: jwkset.JWKMetadataOptions{KID: kid, USE: use, ALG: alg},
	})
	require.NoError(t, err)
	return j
}

// jwksServer serves a key set the way the provider's certs endpoint does.
type jwksServer struct {
	mu   sync.Mutex
	raw  []byte
	fail bool
	hits atomic.Int32
	srv  *httptest.Server
}

func newJWKSServer(t *testing.T, keys ...jwkset.JWK) *jwksServer {
	t.Helper()
	s := &jwksServer{}
	s.rotate(t, keys...)
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.fail {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(s.raw)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *jwksServer) rotate(t *testing.T, keys ...jwkset.JWK) {
	t.Helper()
	ctx := context.Background()
	set := jwkset.NewMemoryStorage()
	for _, k := range keys {
		require.NoError(t, set.KeyWrite(ctx, k))
	}
	raw, err := set.JSONPublic(ctx)
	require.NoError(t, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = raw
}

func (s *jwksServer) setFailing(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func newProviderKeys(t *testing.T, srv *jwksServer, opts jwtx.KeysOptions) *jwtx.ProviderKeys {
	t.Helper()
	if opts.HTTPClient == nil {
		opts.HTTPClient = srv.srv.Client()
	}
	keys, err := jwtx.NewProviderKeys(srv.srv.URL, opts)
	require.NoError(t, err)
	t.Cleanup(keys.Close)
	return keys
}

func validClaims(username string) jwtx.Claims {
	now := time.Now().UTC()
	return jwtx.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   "0b7e3c1e-5c39-4c1b-a0d5-2f3b1e9c8d77",
			Audience:  jwt.ClaimStrings{"account"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		},
		PreferredUsername: username,
		RealmAccess:       jwtx.RealmAccess{Roles: []string{"USER"}},
	}
}
