package observability

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/ferdnandolima/llm-sql-skeleton/internal/config"
)

func TestResolveProtocol(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", protocolGRPC},
		{"grpc", protocolGRPC},
		{" GRPC ", protocolGRPC},
		{"http", protocolHTTP},
		{"http/protobuf", protocolHTTP},
	}
	for _, tt := range tests {
		got, err := resolveProtocol(tt.in)
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got)
	}

	_, err := resolveProtocol("udp")
	require.Error(t, err)
}

func TestHasURLScheme(t *testing.T) {
	require.True(t, hasURLScheme("http://collector:4318"))
	require.True(t, hasURLScheme("https://collector:4318/v1/traces"))
	require.False(t, hasURLScheme("collector:4318"))
}

func TestSamplerFor(t *testing.T) {
	require.Equal(t, sdktrace.NeverSample().Description(), samplerFor(0).Description())
	require.Equal(t, sdktrace.NeverSample().Description(), samplerFor(-1).Description())
	require.Equal(t, sdktrace.AlwaysSample().Description(), samplerFor(1).Description())
	require.Equal(t, sdktrace.AlwaysSample().Description(), samplerFor(2).Description())
	require.Equal(t,
		sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.25)).Description(),
		samplerFor(0.25).Description(),
	)
}

func TestClientTLSRequiresFullKeypair(t *testing.T) {
	_, err := clientTLS(config.OTLPConfig{TLSClientCertFile: "client.pem"})
	require.Error(t, err)

	_, err = clientTLS(config.OTLPConfig{TLSCertFile: "/does/not/exist.pem"})
	require.Error(t, err)

	tc, err := clientTLS(config.OTLPConfig{})
	require.NoError(t, err)
	require.NotNil(t, tc)
}

func TestInitMeterProvider(t *testing.T) {
	mp, err := InitMeterProvider(config.ObservabilityConfig{
		ServiceName:    "llm-sql-skeleton",
		ServiceVersion: "test",
		Environment:    "test",
	})
	require.NoError(t, err)
	require.NotNil(t, mp.Exporter())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, mp.Shutdown(context.Background(), logger))
}
