package httpx

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/authgate/pkg/jwtx"
)

// RequireAnyRole lets the request through when the verified token grants at
// least one of the realm roles. It must run after AuthnMiddleware.
func RequireAnyRole(roles ...string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := jwtx.FromContext(r.Context())
			if !ok {
				writeBearerError(w, "missing bearer token")
				return
			}

			if !claims.HasAnyRole(roles...) {
				w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope"`)
				WriteError(w, http.StatusForbidden, "insufficient_role",
					"requires one of: "+strings.Join(roles, ", "))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
