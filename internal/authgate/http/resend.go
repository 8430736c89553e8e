package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/authgate/internal/authgate/service"
	"github.com/aussiebroadwan/authgate/pkg/httpx"
)

const resendSuccessMessage = "Verification email sent successfully"

type ResendVerificationHandler struct {
	UserService *service.UserService
}

// ServeHTTP godoc
//
//	@Summary		Resend Verification Email
//	@Description	Asks the identity provider to mail the user a new verification link.
//	@Description	Answers in plain text, also on failure.
//	@Tags			Auth
//	@Produce		plain
//	@Param			username	query		string	true	"Username to send the mail to"
//	@Success		200			{string}	string	"Verification email sent successfully"
//	@Failure		400			{string}	string	"Failed to send verification email: <reason>"
//	@Failure		429			{object}	authsdk.ErrorResponse	"rate_limit_exceeded"
//	@Router			/api/auth/resend-verification-email [post].
func (h *ResendVerificationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		writeResendFailure(w, "username is required")
		return
	}

	if err := h.UserService.ResendVerificationEmail(r.Context(), username); err != nil {
		writeResendFailure(w, resendReason(err))
		return
	}

	httpx.WriteText(w, http.StatusOK, resendSuccessMessage)
}

func writeResendFailure(w http.ResponseWriter, reason string) {
	httpx.WriteText(w, http.StatusBadRequest, "Failed to send verification email: "+reason)
}

// resendReason keeps provider detail out of the answer.
func resendReason(err error) string {
	for _, known := range []error{
		service.ErrUserNotFound,
		service.ErrAlreadyVerified,
		service.ErrProviderUnavailable,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "internal error"
}
