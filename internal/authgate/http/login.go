package http

import (
	"net/http"

	"github.com/aussiebroadwan/authgate/internal/authgate/service"
	"github.com/aussiebroadwan/authgate/pkg/authsdk"
	"github.com/aussiebroadwan/authgate/pkg/httpx"
	"github.com/aussiebroadwan/authgate/pkg/slogx"
)

type LoginHandler struct {
	UserService *service.UserService
}

// ServeHTTP godoc
//
//	@Summary		Login Endpoint
//	@Description	Exchanges a username and password for a provider access token.
//	@Description	Every failure answers the same invalid_credentials error.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.LoginRequest	true	"username, password"
//	@Success		200		{object}	authsdk.AuthResponse	"token, id, username, email, roles"
//	@Failure		400		{object}	authsdk.ErrorResponse	"invalid_request"
//	@Failure		401		{object}	authsdk.ErrorResponse	"invalid_credentials"
//	@Failure		429		{object}	authsdk.ErrorResponse	"rate_limit_exceeded"
//	@Router			/api/auth/login [post].
func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req authsdk.LoginRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest, err.Error())
		return
	}
	if req.Username == "" || req.Password == "" {
		slogx.FromContext(ctx).Debug("login: missing credentials")
		authsdk.ErrInvalidCredentials.WriteError(w)
		return
	}

	resp, err := h.UserService.Login(ctx, req)
	if err != nil {
		authsdk.ErrInvalidCredentials.WriteError(w)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, resp)
}
