package observability

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMeterProvider_ServesEngineMetrics(t *testing.T) {
	mp, err := InitMeterProvider(Config{
		ServiceName:    "rowgraph-test",
		ServiceVersion: "1.0.0",
		Environment:    "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mp.Shutdown(context.Background(), discardLogger()) })

	metrics, err := InitMaterializeMetrics()
	require.NoError(t, err)
	metrics.RecordQuery(context.Background(), "authorById", 3*time.Millisecond, false)
	metrics.RecordCursorFetch(context.Background(), "authorById")

	rec := httptest.NewRecorder()
	mp.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "rowgraph_queries")
	assert.Contains(t, body, "rowgraph_cursor_fetches")
	assert.Contains(t, body, `statement="authorById"`)
	assert.Contains(t, body, "go_goroutines", "runtime collectors share the registry")
}

func TestResolveExporter(t *testing.T) {
	s, err := resolveExporter(OTLPExporterConfig{
		Endpoint:         "https://collector:4318/v1/traces",
		Protocol:         "http/protobuf",
		Compression:      "gzip",
		RetryEnabled:     true,
		RetryMaxAttempts: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, otlpProtocolHTTP, s.protocol)
	assert.True(t, s.urlForm)
	assert.True(t, s.gzip)
	assert.True(t, s.retry)
	require.NotNil(t, s.tls)
	assert.Len(t, s.traceHTTPOptions(), 4)

	s, err = resolveExporter(OTLPExporterConfig{Endpoint: "localhost:4317", Insecure: true})
	require.NoError(t, err)
	assert.Equal(t, otlpProtocolGRPC, s.protocol)
	assert.Nil(t, s.tls)
	assert.False(t, s.urlForm)
	assert.Len(t, s.logGRPCOptions(), 2)

	_, err = resolveExporter(OTLPExporterConfig{Protocol: "udp"})
	assert.Error(t, err)
}

func TestInitTracerProvider(t *testing.T) {
	tp, err := InitTracerProvider(context.Background(), Config{
		ServiceName:      "rowgraph-test",
		TraceSampleRatio: 1,
		OTLPConfig:       OTLPExporterConfig{Endpoint: "127.0.0.1:4317", Insecure: true},
	})
	require.NoError(t, err)
	assert.NoError(t, ShutdownAll(context.Background(), discardLogger(), tp))
}

type recordingShutdowner struct {
	name  string
	order *[]string
	err   error
}

func (r recordingShutdowner) Shutdown(context.Context, *slog.Logger) error {
	*r.order = append(*r.order, r.name)
	return r.err
}

func TestShutdownAll_ReverseOrder(t *testing.T) {
	var order []string
	var nilTracer *TracerProvider
	err := ShutdownAll(context.Background(), discardLogger(),
		recordingShutdowner{name: "meter", order: &order},
		nilTracer,
		recordingShutdowner{name: "logger", order: &order, err: assert.AnError},
	)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, []string{"logger", "meter"}, order)
}

func TestBuildTLSConfig_FileNotFound(t *testing.T) {
	// Missing CA file should surface a clear error.
	_, err := buildTLSConfig(OTLPExporterConfig{
		TLSCertFile: "/nonexistent/ca.pem",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read OTLP TLS CA file")
}

func TestBuildTLSConfig_InvalidCertFormat(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/ca.pem"

	// Write a non-PEM payload to trigger parse failure.
	require.NoError(t, os.WriteFile(path, []byte("not-a-cert"), 0600))

	_, err := buildTLSConfig(OTLPExporterConfig{
		TLSCertFile: path,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse OTLP TLS CA file")
}

func TestBuildTLSConfig_MissingClientKeyPair(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/client.crt"

	// Only set the cert path to ensure missing key is rejected.
	require.NoError(t, os.WriteFile(path, []byte("not-a-cert"), 0600))

	_, err := buildTLSConfig(OTLPExporterConfig{
		TLSClientCertFile: path,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OTLP TLS client cert and key must both be set")
}

func TestTraceSamplerForRatio_Boundaries(t *testing.T) {
	never := traceSamplerForRatio(0)
	always := traceSamplerForRatio(1)

	decisionNever := never.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{1},
		Name:          "test",
	}).Decision
	assert.Equal(t, sdktrace.Drop, decisionNever)

	decisionAlways := always.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{2},
		Name:          "test",
	}).Decision
	assert.Equal(t, sdktrace.RecordAndSample, decisionAlways)
}

func TestTraceSamplerForRatio_ParentAwareMidRange(t *testing.T) {
	sampler := traceSamplerForRatio(0.5)

	parentSampled := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{3},
		SpanID:     trace.SpanID{1},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	}))
	decisionSampledParent := sampler.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: parentSampled,
		TraceID:       trace.TraceID{4},
		Name:          "child",
	}).Decision
	assert.Equal(t, sdktrace.RecordAndSample, decisionSampledParent)

	parentNotSampled := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{5},
		SpanID:  trace.SpanID{2},
		Remote:  true,
	}))
	decisionUnsampledParent := sampler.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: parentNotSampled,
		TraceID:       trace.TraceID{6},
		Name:          "child",
	}).Decision
	assert.Equal(t, sdktrace.Drop, decisionUnsampledParent)
}
