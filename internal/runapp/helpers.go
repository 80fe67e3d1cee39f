package runapp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"rowgraph/internal/config"
	"rowgraph/internal/dbconn"
	"rowgraph/internal/logging"
	"rowgraph/internal/mapping"
	"rowgraph/internal/meta"
	"rowgraph/internal/observability"
)

// InitLogger builds the process logger on stderr and, when log export is
// enabled, the OTLP logger provider behind it. Results own stdout.
func InitLogger(ctx context.Context, cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: os.Stderr,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.GetLogsConfig()
	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", logsConfig.Endpoint),
		slog.String("otlp_protocol", logsConfig.Protocol),
		slog.Bool("insecure", logsConfig.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(ctx, otelConfig(cfg, logsConfig))
	if err != nil {
		return nil, nil, err
	}

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)
	return logger, loggerProvider, nil
}

func otelConfig(cfg *config.Config, otlp config.OTLPConfig) observability.Config {
	return observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		OTLPConfig: observability.OTLPExporterConfig{
			Endpoint:          otlp.Endpoint,
			Protocol:          otlp.Protocol,
			Insecure:          otlp.Insecure,
			TLSCertFile:       otlp.TLSCertFile,
			TLSClientCertFile: otlp.TLSClientCertFile,
			TLSClientKeyFile:  otlp.TLSClientKeyFile,
			Headers:           otlp.Headers,
			Timeout:           otlp.Timeout,
			Compression:       otlp.Compression,
			RetryEnabled:      otlp.RetryEnabled,
			RetryMaxAttempts:  otlp.RetryMaxAttempts,
		},
	}
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, *observability.MaterializeMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil
	}

	logger.Info("initializing OpenTelemetry metrics",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
	)
	meterProvider, err := observability.InitMeterProvider(otelConfig(cfg, cfg.Observability.GetMetricsConfig()))
	if err != nil {
		return nil, nil, err
	}

	metrics, err := observability.InitMaterializeMetrics()
	if err != nil {
		_ = meterProvider.Shutdown(context.Background(), logger.Logger)
		return nil, nil, err
	}
	return meterProvider, metrics, nil
}

func initTracing(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.GetTracesConfig()
	logger.Info("initializing OpenTelemetry tracing",
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.String("otlp_protocol", tracesConfig.Protocol),
		slog.Float64("sample_ratio", cfg.Observability.TraceSampleRatio),
	)
	return observability.InitTracerProvider(ctx, otelConfig(cfg, tracesConfig))
}

func instrumentation(cfg *config.Config) dbconn.Instrumentation {
	return dbconn.Instrumentation{
		Metrics:      cfg.Observability.MetricsEnabled,
		Tracing:      cfg.Observability.TracingEnabled,
		SQLCommenter: cfg.Observability.SQLCommenterEnabled,
	}
}

func loadMappings(path string, logger *logging.Logger) (*mapping.Registry, error) {
	reg := mapping.NewRegistry()
	if err := mapping.NewLoader(meta.Default(), nil).LoadFile(path, reg); err != nil {
		return nil, err
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	logger.Info("loaded mapping definitions",
		slog.String("file", path),
		slog.Int("statements", len(reg.StatementIDs())),
	)
	return reg, nil
}

// listenMetrics binds addr and serves the meter provider's registry at
// /metrics until the returned server is shut down.
func listenMetrics(addr string, mp *observability.MeterProvider, logger *logging.Logger) (*http.Server, net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", mp.Handler())
	srv := &http.Server{
		Handler:           otelhttp.NewHandler(accessLog(logger)(mux), "metrics"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv, ln, nil
}

// buildParam turns the run section into a statement parameter. Params wins
// over Param. Numeric text becomes int64 or float64. Empty text and text
// with a leading zero stay strings.
func buildParam(run config.RunConfig) any {
	if len(run.Params) > 0 {
		m := make(map[string]any, len(run.Params))
		for k, v := range run.Params {
			m[k] = paramValue(v)
		}
		return m
	}
	if run.Param != "" {
		return paramValue(run.Param)
	}
	return nil
}

func paramValue(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	if len(s) > 1 && s[0] == '0' && s[1] != '.' {
		return s
	}
	if !strings.ContainsAny(s[:1], "0123456789+-.") {
		return s
	}
	if !strings.ContainsAny(s, ".eE") {
		if i, err := cast.ToInt64E(s); err == nil {
			return i
		}
	}
	if f, err := cast.ToFloat64E(s); err == nil {
		return f
	}
	return s
}
