package http

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/authgate/internal/authgate/service"
	"github.com/aussiebroadwan/authgate/pkg/authsdk"
	"github.com/aussiebroadwan/authgate/pkg/httpx"
	"github.com/aussiebroadwan/authgate/pkg/slogx"
)

type RegisterHandler struct {
	UserService *service.UserService
}

// ServeHTTP godoc
//
//	@Summary		Register Endpoint
//	@Description	Creates an account in the identity provider with a password credential and realm roles.
//	@Description	When no roles are given the default role is granted.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.RegisterRequest	true	"username, email, password, firstName, lastName, dateOfBirth, roles"
//	@Success		200		{object}	authsdk.UserResponse	"the created account"
//	@Failure		400		{object}	authsdk.ErrorResponse	"invalid_request or validation_failed with fields"
//	@Failure		409		{object}	authsdk.ErrorResponse	"username_taken"
//	@Failure		429		{object}	authsdk.ErrorResponse	"rate_limit_exceeded"
//	@Failure		502		{object}	authsdk.ErrorResponse	"upstream_error"
//	@Failure		500		{object}	authsdk.ErrorResponse	"server_error"
//	@Router			/api/auth/register [post].
func (h *RegisterHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req authsdk.RegisterRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		log.Debug("register: bad body", "err", err)
		httpx.WriteError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest, err.Error())
		return
	}

	if fields := validateRegister(req, time.Now()); len(fields) > 0 {
		authsdk.NewValidationError(fields).WriteError(w)
		return
	}

	user, err := h.UserService.Register(ctx, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, user)
}
