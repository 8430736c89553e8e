package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/authgate/internal/authgate/service"
	"github.com/aussiebroadwan/authgate/pkg/authsdk"
	"github.com/aussiebroadwan/authgate/pkg/slogx"
)

// writeServiceError maps a service error onto the JSON error answer.
// Unknown errors are logged and answered without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrUsernameTaken):
		authsdk.ErrUsernameTaken.WriteError(w)
	case errors.Is(err, service.ErrInvalidCredentials):
		authsdk.ErrInvalidCredentials.WriteError(w)
	case errors.Is(err, service.ErrUserNotFound):
		authsdk.ErrUserNotFound.WriteError(w)
	case errors.Is(err, service.ErrUnauthenticated):
		authsdk.ErrInvalidToken.WriteError(w)
	case errors.Is(err, service.ErrProviderUnavailable):
		authsdk.ErrUpstream.WriteError(w)
	default:
		slogx.FromContext(r.Context()).Error("unhandled service error", "err", err)
		authsdk.ErrServerError.WriteError(w)
	}
}
