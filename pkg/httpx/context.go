package httpx

import (
	"context"

	"github.com/aussiebroadwan/authgate/pkg/jwtx"
)

// PrincipalFromContext returns the authenticated caller's name, or "" when
// the request carries no verified token.
func PrincipalFromContext(ctx context.Context) string {
	claims, ok := jwtx.FromContext(ctx)
	if !ok {
		return ""
	}
	return claims.Principal()
}
