package http

import (
	"context"
	"net/http"
	"time"

	"github.com/aussiebroadwan/authgate/pkg/authsdk"
	"github.com/aussiebroadwan/authgate/pkg/httpx"
	"github.com/aussiebroadwan/authgate/pkg/slogx"
)

const readyzPingTimeout = 3 * time.Second

// ReadyzHandler godoc
//
//	@Summary		Readiness Check Endpoint
//	@Description	Readiness endpoint returning service health status and checks for critical dependencies
//	@Description	Checks that an admin session with the identity provider can be established and that its signing keys are loaded
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	authsdk.HealthResponse	"status, uptime, version, checks"
//	@Failure		503	{object}	authsdk.HealthResponse	"status, uptime, version, checks - service not ready"
//	@Router			/readyz [get].
func ReadyzHandler(
	startTime time.Time,
	version string,
	provider Pinger,
	keys KeyStatus,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &authsdk.HealthChecks{
			IdentityProvider: "ok",
			Keys:             "ok",
		}
		overallStatus := "ok"
		statusCode := http.StatusOK

		// Check the admin session and realm discovery
		if provider != nil {
			ctx, cancel := context.WithTimeout(r.Context(), readyzPingTimeout)
			err := provider.Ping(ctx)
			cancel()
			if err != nil {
				slogx.FromContext(r.Context()).Warn("identity provider not ready", "err", err)
				checks.IdentityProvider = "error: unreachable"
				overallStatus = "degraded"
				statusCode = http.StatusServiceUnavailable
			}
		}

		// Tokens cannot be verified until the provider's keys are loaded
		if keys == nil || !keys.Ready(r.Context()) {
			checks.Keys = "error: no keys loaded"
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		httpx.WriteJSON(w, statusCode, authsdk.HealthResponse{
			Status:  overallStatus,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		})
	}
}
