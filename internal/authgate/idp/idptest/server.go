// Package idptest runs an in-process stand-in for the identity provider's
// token, certs and admin user endpoints. Tokens it issues are real RS256
// JWTs signed with a key published on its certs endpoint.
package idptest

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/authgate/internal/authgate/idp"
	"github.com/MicahParks/jwkset"
	"github.com/aussiebroadwan/authgate/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	Realm         = "app"
	AdminRealm    = "master"
	AdminClientID = "admin-cli"
	AdminUsername = "admin"
	AdminPassword = "admin-pass"
	ClientID      = "authgate"
	ClientSecret  = "authgate-secret"
	KeyID         = "idptest-rs256"

	// encKeyID is published next to the signing key, as the provider does.
	encKeyID = "idptest-enc"
)

type user struct {
	rep      map[string]any
	id       string
	username string
	password string
	verified bool
	roles    []string
}

// Server is the fake provider. The zero value is not usable, call New.
type Server struct {
	*httptest.Server

	key   *rsa.PrivateKey
	certs jwkset.Storage

	mu          sync.Mutex
	users       map[string]*user // by id
	roles       map[string]bool
	adminTokens map[string]bool
	down        bool
	calls       map[string]int
}

// New starts a Server with the USER and ADMIN realm roles defined. It is
// closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("idptest: generate key: %v", err)
	}

	certs, err := publishKeys(&key.PublicKey)
	if err != nil {
		t.Fatalf("idptest: %v", err)
	}

	s := &Server{
		key:         key,
		certs:       certs,
		users:       make(map[string]*user),
		roles:       map[string]bool{"USER": true, "ADMIN": true},
		adminTokens: make(map[string]bool),
		calls:       make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /realms/{realm}/protocol/openid-connect/token", s.handleToken)
	mux.HandleFunc("GET /realms/{realm}/protocol/openid-connect/certs", s.handleCerts)
	mux.HandleFunc("GET /realms/{realm}/.well-known/openid-configuration", s.handleDiscovery)
	mux.HandleFunc("GET /realms/{realm}", s.handleRealm)

	admin := http.NewServeMux()
	admin.HandleFunc("GET /admin/realms/{realm}/users", s.handleSearch)
	admin.HandleFunc("POST /admin/realms/{realm}/users", s.handleCreate)
	admin.HandleFunc("PUT /admin/realms/{realm}/users/{id}/reset-password", s.handleResetPassword)
	admin.HandleFunc("GET /admin/realms/{realm}/roles/{name}", s.handleGetRole)
	admin.HandleFunc("POST /admin/realms/{realm}/users/{id}/role-mappings/realm", s.handleAddRoles)
	admin.HandleFunc("GET /admin/realms/{realm}/users/{id}/role-mappings/realm", s.handleListRoles)
	admin.HandleFunc("PUT /admin/realms/{realm}/users/{id}/execute-actions-email", s.handleExecuteActions)
	mux.Handle("/admin/realms/"+Realm+"/", s.requireAdmin(admin))

	s.Server = httptest.NewServer(s.unlessDown(mux))
	t.Cleanup(s.Close)
	return s
}

// Config returns an idp.Config pointing at s.
func (s *Server) Config() idp.Config {
	return idp.Config{
		ServerURL:     s.URL,
		Realm:         Realm,
		ClientID:      ClientID,
		ClientSecret:  ClientSecret,
		AdminRealm:    AdminRealm,
		AdminClientID: AdminClientID,
		AdminUsername: AdminUsername,
		AdminPassword: AdminPassword,
		Timeout:       5 * time.Second,
	}
}

// Issuer is the iss claim of user tokens.
func (s *Server) Issuer() string { return s.URL + "/realms/" + Realm }

// SetDown makes every endpoint answer 503.
func (s *Server) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// SetEmailVerified flips a user's verification flag.
func (s *Server) SetEmailVerified(username string, verified bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u := s.findLocked(username); u != nil {
		u.verified = verified
	}
}

// AddUser seeds a user directly, bypassing the admin API.
func (s *Server) AddUser(username, password string, roles ...string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.users[id] = &user{
		id:       id,
		username: strings.ToLower(username),
		password: password,
		verified: true,
		roles:    roles,
		rep: map[string]any{
			"username":   strings.ToLower(username),
			"email":      username + "@example.com",
			"firstName":  "Test",
			"lastName":   "User",
			"enabled":    true,
			"attributes": map[string][]string{"dateOfBirth": {"1990-01-02T03:04:05Z"}},
		},
	}
	return id
}

// Roles returns the realm roles granted to username.
func (s *Server) Roles(username string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u := s.findLocked(username); u != nil {
		return append([]string(nil), u.roles...)
	}
	return nil
}

// Calls returns how often an operation was served. Operations are named
// after the handler: "token", "search", "create", "reset_password",
// "get_role", "add_roles", "list_roles", "execute_actions".
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// IssueToken signs a user token directly.
func (s *Server) IssueToken(username string, roles ...string) string {
	now := time.Now()
	claims := jwtx.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Issuer(),
			Subject:   uuid.NewString(),
			Audience:  jwt.ClaimStrings{"account"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		},
		PreferredUsername: strings.ToLower(username),
		AuthorizedParty:   ClientID,
		Scope:             "openid profile email",
		RealmAccess:       jwtx.RealmAccess{Roles: roles},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = KeyID
	raw, err := tok.SignedString(s.key)
	if err != nil {
		panic(fmt.Sprintf("idptest: sign token: %v", err))
	}
	return raw
}

// publishKeys builds the certs document: the RS256 signing key and an
// encryption key that verifiers must ignore.
func publishKeys(pub *rsa.PublicKey) (jwkset.Storage, error) {
	ctx := context.Background()
	store := jwkset.NewMemoryStorage()
	for _, k := range []struct {
		kid string
		use jwkset.USE
		alg jwkset.ALG
	}{
		{KeyID, jwkset.UseSig, jwkset.AlgRS256},
		{encKeyID, jwkset.UseEnc, jwkset.AlgRSAOAEP},
	} {
		jwk, err := jwkset.NewJWKFromKey(pub, jwkset.JWKOptions{
			Metadata: jwkset.JWKMetadataOptions{KID: k.kid, USE: k.use, ALG: k.alg},
		})
		if err != nil {
			return nil, fmt.Errorf("jwk %s: %w", k.kid, err)
		}
		if err := store.KeyWrite(ctx, jwk); err != nil {
			return nil, fmt.Errorf("store jwk %s: %w", k.kid, err)
		}
	}
	return store, nil
}

func (s *Server) findLocked(username string) *user {
	for _, u := range s.users {
		if strings.EqualFold(u.username, username) {
			return u
		}
	}
	return nil
}

func (s *Server) count(op string) {
	s.mu.Lock()
	s.calls[op]++
	s.mu.Unlock()
}

func (s *Server) unlessDown(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		down := s.down
		s.mu.Unlock()
		if down {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		ok := s.adminTokens[tok]
		s.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "HTTP 401 Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func oauthError(w http.ResponseWriter, code int, errCode, desc string) {
	writeJSON(w, code, map[string]string{"error": errCode, "error_description": desc})
}
