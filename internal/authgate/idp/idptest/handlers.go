package idptest

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"
)

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	s.count("token")
	if err := r.ParseForm(); err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_request", "bad form")
		return
	}
	if r.PostForm.Get("grant_type") != "password" {
		oauthError(w, http.StatusBadRequest, "unsupported_grant_type", "only password is supported")
		return
	}

	realm := r.PathValue("realm")
	username, password := r.PostForm.Get("username"), r.PostForm.Get("password")
	clientID, clientSecret, ok := r.BasicAuth()
	if !ok {
		clientID, clientSecret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}

	switch realm {
	case AdminRealm:
		if clientID != AdminClientID {
			oauthError(w, http.StatusUnauthorized, "invalid_client", "Invalid client or Invalid client credentials")
			return
		}
		if username != AdminUsername || password != AdminPassword {
			oauthError(w, http.StatusUnauthorized, "invalid_grant", "Invalid user credentials")
			return
		}
		tok := "admin-" + uuid.NewString()
		s.mu.Lock()
		s.adminTokens[tok] = true
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": tok,
			"token_type":   "Bearer",
			"expires_in":   60,
		})

	case Realm:
		if clientID != ClientID || clientSecret != ClientSecret {
			oauthError(w, http.StatusUnauthorized, "unauthorized_client", "Invalid client or Invalid client credentials")
			return
		}
		s.mu.Lock()
		u := s.findLocked(username)
		var roles []string
		ok := u != nil && u.password != "" && u.password == password
		if ok {
			roles = append(roles, u.roles...)
		}
		s.mu.Unlock()
		if !ok {
			oauthError(w, http.StatusUnauthorized, "invalid_grant", "Invalid user credentials")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": s.IssueToken(username, roles...),
			"token_type":   "Bearer",
			"expires_in":   300,
		})

	default:
		oauthError(w, http.StatusNotFound, "invalid_request", "Realm does not exist")
	}
}

func (s *Server) handleCerts(w http.ResponseWriter, r *http.Request) {
	raw, err := s.certs.JSONPublic(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}

func (s *Server) handleRealm(w http.ResponseWriter, r *http.Request) {
	realm := r.PathValue("realm")
	if realm != Realm && realm != AdminRealm {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Realm does not exist"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"realm":             realm,
		"token-service":     s.URL + "/realms/" + realm + "/protocol/openid-connect",
		"account-service":   s.URL + "/realms/" + realm + "/account",
		"tokens-not-before": 0,
	})
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	realm := r.PathValue("realm")
	writeJSON(w, http.StatusOK, map[string]string{
		"issuer":   s.URL + "/realms/" + realm,
		"jwks_uri": s.URL + "/realms/" + realm + "/protocol/openid-connect/certs",
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	s.count("search")
	name := r.URL.Query().Get("username")

	s.mu.Lock()
	defer s.mu.Unlock()
	out := []map[string]any{}
	for _, u := range s.users {
		if strings.EqualFold(u.username, name) {
			out = append(out, s.representationLocked(u))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) representationLocked(u *user) map[string]any {
	rep := make(map[string]any, len(u.rep)+3)
	for k, v := range u.rep {
		rep[k] = v
	}
	rep["id"] = u.id
	rep["username"] = u.username
	rep["emailVerified"] = u.verified
	rep["createdTimestamp"] = int64(1700000000000)
	return rep
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	s.count("create")
	var rep map[string]any
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"errorMessage": "bad json"})
		return
	}
	username, _ := rep["username"].(string)
	verified, _ := rep["emailVerified"].(bool)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findLocked(username) != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"errorMessage": "User exists with same username"})
		return
	}

	id := uuid.NewString()
	s.users[id] = &user{
		id:       id,
		username: strings.ToLower(username),
		verified: verified,
		rep:      rep,
	}
	w.Header().Set("Location", s.URL+"/admin/realms/"+Realm+"/users/"+id)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	s.count("reset_password")
	var cred struct {
		Type      string `json:"type"`
		Value     string `json:"value"`
		Temporary bool   `json:"temporary"`
	}
	if err := json.NewDecoder(r.Body).Decode(&cred); err != nil || cred.Type != "password" || cred.Temporary {
		writeJSON(w, http.StatusBadRequest, map[string]string{"errorMessage": "bad credential"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[r.PathValue("id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}
	u.password = cred.Value
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetRole(w http.ResponseWriter, r *http.Request) {
	s.count("get_role")
	name := r.PathValue("name")

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.roles[name] {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Could not find role"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": "role-" + name, "name": name, "composite": false, "clientRole": false})
}

func (s *Server) handleAddRoles(w http.ResponseWriter, r *http.Request) {
	s.count("add_roles")
	var reps []struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&reps); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"errorMessage": "bad json"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[r.PathValue("id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}
	for _, rep := range reps {
		if !slices.Contains(u.roles, rep.Name) {
			u.roles = append(u.roles, rep.Name)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	s.count("list_roles")

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[r.PathValue("id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}
	out := make([]map[string]any, 0, len(u.roles))
	for _, name := range u.roles {
		out = append(out, map[string]any{"id": "role-" + name, "name": name})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleExecuteActions(w http.ResponseWriter, r *http.Request) {
	s.count("execute_actions")
	var actions []string
	if err := json.NewDecoder(r.Body).Decode(&actions); err != nil || !slices.Contains(actions, "VERIFY_EMAIL") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"errorMessage": "bad actions"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[r.PathValue("id")]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
