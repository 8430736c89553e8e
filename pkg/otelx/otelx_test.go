package otelx_test

import (
	"context"
	"testing"

	"github.com/aussiebroadwan/authgate/pkg/otelx"
	"github.com/stretchr/testify/require"
)

func TestSetupNoopWithoutEndpoint(t *testing.T) {
	shutdown, err := otelx.Setup(context.Background(), otelx.Config{ServiceName: "authgate"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, shutdown(ctx))
}

func TestSetupWithEndpoint(t *testing.T) {
	// Non-routable, nothing is exported before shutdown.
	shutdown, err := otelx.Setup(context.Background(), otelx.Config{
		Endpoint:    "http://192.0.2.1:4318",
		ServiceName: "authgate",
		Version:     "test",
	})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
