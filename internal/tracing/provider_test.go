package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/domainscout/internal/config"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracingConfig{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetupWithEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracingConfig{Endpoint: "http://127.0.0.1:4318"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
