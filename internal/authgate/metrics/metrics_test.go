package metrics_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/authgate/internal/authgate/idp"
	"github.com/aussiebroadwan/authgate/internal/authgate/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

var _ idp.Observer = (*metrics.Collector)(nil)

func TestObserveProviderCall(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.ObserveProviderCall("create_user", "ok", 20*time.Millisecond)
	c.ObserveProviderCall("create_user", "already_exists", 5*time.Millisecond)
	c.ObserveProviderCall("create_user", "ok", 30*time.Millisecond)

	expected := `
# HELP authgate_idp_calls_total Identity provider operations, by operation and outcome.
# TYPE authgate_idp_calls_total counter
authgate_idp_calls_total{op="create_user",outcome="already_exists"} 1
authgate_idp_calls_total{op="create_user",outcome="ok"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "authgate_idp_calls_total"))
	require.Equal(t, 1, testutil.CollectAndCount(reg, "authgate_idp_call_duration_seconds"))
}

func TestRecordJWKSRefresh(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.RecordJWKSRefresh(nil)
	c.RecordJWKSRefresh(errors.New("boom"))
	c.RecordJWKSRefresh(nil)

	expected := `
# HELP authgate_jwks_refresh_total Signing key refreshes, by result.
# TYPE authgate_jwks_refresh_total counter
authgate_jwks_refresh_total{result="error"} 1
authgate_jwks_refresh_total{result="ok"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "authgate_jwks_refresh_total"))
}

func TestMiddlewareLabelsByPattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	h := c.Middleware(mux)

	for range 2 {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/auth/login", nil))
	}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	expected := `
# HELP authgate_http_requests_total HTTP requests served, by method, route and status.
# TYPE authgate_http_requests_total counter
authgate_http_requests_total{method="GET",route="unmatched",status="404"} 1
authgate_http_requests_total{method="POST",route="POST /api/auth/login",status="401"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "authgate_http_requests_total"))

	inflight := `
# HELP authgate_http_inflight_requests HTTP requests currently being served.
# TYPE authgate_http_inflight_requests gauge
authgate_http_inflight_requests 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(inflight), "authgate_http_inflight_requests"))
}

func TestHandlerServesExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)
	c.ObserveProviderCall("ping", "ok", time.Millisecond)

	rec := httptest.NewRecorder()
	metrics.Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `authgate_idp_calls_total{op="ping",outcome="ok"} 1`)
}
