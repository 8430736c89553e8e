package http

import (
	"net/http"

	"github.com/aussiebroadwan/authgate/internal/authgate/service"
	"github.com/aussiebroadwan/authgate/pkg/httpx"
)

type MeHandler struct {
	UserService *service.UserService
}

// ServeHTTP returns the profile of the token's owner.
//
//	@Summary		Current user
//	@Description	Returns the account behind the bearer token. Requires the USER or ADMIN realm role.
//	@Tags			Auth
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.UserResponse	"id, username, email, firstName, lastName, dateOfBirth, roles"
//	@Failure		401	{object}	authsdk.ErrorResponse	"invalid_token"
//	@Failure		403	{object}	authsdk.ErrorResponse	"insufficient_role"
//	@Failure		404	{object}	authsdk.ErrorResponse	"user_not_found"
//	@Failure		502	{object}	authsdk.ErrorResponse	"upstream_error"
//	@Router			/api/auth/me [get].
func (h *MeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, err := h.UserService.GetCurrentUser(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, user)
}
