package tracing

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoEndpointDisablesTracing(t *testing.T) {
	// restored after the test
	t.Setenv(envCollectorEndpoint, "")
	t.Setenv(envAgentHost, "")
	require.NoError(t, os.Unsetenv(envCollectorEndpoint))
	require.NoError(t, os.Unsetenv(envAgentHost))

	require.Nil(t, jaegerOptsFromEnv())
	tp := SetupJaegerTracing("dataspace-test")
	require.Nil(t, tp)
	require.NoError(t, ShutdownFunc(tp)(context.Background()))
}

func TestEndpointFromEnv(t *testing.T) {
	t.Setenv(envCollectorEndpoint, "http://127.0.0.1:14268/api/traces")
	require.NotNil(t, jaegerOptsFromEnv())

	tp := SetupJaegerTracing("dataspace-test")
	require.NotNil(t, tp)
	require.NoError(t, ShutdownFunc(tp)(context.Background()))
}
