package tracing

import (
	"context"
	"net"
	"os"

	logging "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/otel/bridge/opencensus"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.7.0"
	"go.uber.org/zap"
)

var log = logging.Logger("tracing")

const (
	// environment variable names
	envCollectorEndpoint = "DATASPACE_JAEGER_COLLECTOR_ENDPOINT"
	envAgentHost         = "DATASPACE_JAEGER_AGENT_HOST"
	envAgentPort         = "DATASPACE_JAEGER_AGENT_PORT"
	envJaegerUser        = "DATASPACE_JAEGER_USERNAME"
	envJaegerCred        = "DATASPACE_JAEGER_PASSWORD"

	defaultAgentPort = "6831"
)

// When sending directly to the collector, agent options are ignored.
// The collector endpoint is an HTTP or HTTPs URL.
// The agent endpoint is a thrift/udp protocol and should be given
// as a string like "hostname:port". The agent can also be configured
// with separate host and port variables.
func jaegerOptsFromEnv() jaeger.EndpointOption {
	if e, ok := os.LookupEnv(envCollectorEndpoint); ok {
		options := []jaeger.CollectorEndpointOption{jaeger.WithEndpoint(e)}
		if u, ok := os.LookupEnv(envJaegerUser); ok {
			if p, ok := os.LookupEnv(envJaegerCred); ok {
				options = append(options, jaeger.WithUsername(u), jaeger.WithPassword(p))
			} else {
				log.Warn("jaeger username supplied with no password. authentication will not be used.")
			}
		}
		log.Infof("jaeger traces will be sent to collector %s", e)
		return jaeger.WithCollectorEndpoint(options...)
	}

	if e, ok := os.LookupEnv(envAgentHost); ok {
		options := []jaeger.AgentEndpointOption{jaeger.WithAgentHost(e), jaeger.WithLogger(zap.NewStdLog(log.Desugar()))}
		port := defaultAgentPort
		if p, ok := os.LookupEnv(envAgentPort); ok {
			options = append(options, jaeger.WithAgentPort(p))
			port = p
		}
		log.Infof("jaeger traces will be sent to agent %s", net.JoinHostPort(e, port))
		return jaeger.WithAgentEndpoint(options...)
	}
	return nil
}

// SetupJaegerTracing exports the opencensus spans of the negotiation engine
// to jaeger. It returns nil when no jaeger endpoint is configured.
func SetupJaegerTracing(serviceName string) *tracesdk.TracerProvider {
	jaegerEndpoint := jaegerOptsFromEnv()
	if jaegerEndpoint == nil {
		return nil
	}
	je, err := jaeger.New(jaegerEndpoint)
	if err != nil {
		log.Errorw("failed to create the jaeger exporter", "error", err)
		return nil
	}
	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(je),
		tracesdk.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		)),
		tracesdk.WithSampler(tracesdk.AlwaysSample()),
	)
	opencensus.InstallTraceBridge(opencensus.WithTracerProvider(tp))
	return tp
}

// ShutdownFunc flushes pending spans of tp; it does nothing for a nil tp
func ShutdownFunc(tp *tracesdk.TracerProvider) func(context.Context) error {
	return func(ctx context.Context) error {
		if tp == nil {
			return nil
		}
		return tp.Shutdown(ctx)
	}
}
