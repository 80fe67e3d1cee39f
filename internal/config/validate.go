package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"rowgraph/internal/executor"
	"rowgraph/internal/materialize"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) fail(field, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Hint: hint})
}

func (r *ValidationResult) warn(field, message, hint string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: message, Hint: hint})
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}
	c.Database.validate(result)
	c.Engine.validate(result)
	c.Observability.validate(result)
	c.Mappings.validate(result)
	c.Run.validate(result)
	return result
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	switch d.driver() {
	case DriverMySQL, DriverPostgres, DriverSQLServer:
		if d.ConnectionString == "" && (d.Port < 0 || d.Port > 65535) {
			result.fail("database.port", fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port), "")
		}
		if d.ConnectionString == "" && strings.TrimSpace(d.Host) == "" {
			result.fail("database.host", "host is required when dsn is not set", "set database.host or database.dsn")
		}
	case DriverSQLite:
		if d.ConnectionString == "" && strings.TrimSpace(d.Database) == "" {
			result.fail("database.database", "sqlite needs a database file path", "use :memory: for an in-memory database")
		}
		if d.TLS.Mode != "" && d.TLS.Mode != "off" {
			result.warn("database.tls.mode", "TLS settings are ignored for sqlite", "")
		}
	default:
		result.fail("database.driver", fmt.Sprintf("unsupported driver %q", d.Driver), "valid values are: mysql, postgres, sqlserver, sqlite")
	}

	d.TLS.validate(result)

	if d.Pool.MaxOpen < 0 {
		result.fail("database.pool.max_open", "max_open cannot be negative", "")
	}
	if d.Pool.MaxIdle < 0 {
		result.fail("database.pool.max_idle", "max_idle cannot be negative", "")
	}
	if d.Pool.MaxIdle > d.Pool.MaxOpen && d.Pool.MaxOpen > 0 {
		result.warn("database.pool.max_idle", "max_idle is greater than max_open", "idle connections will be limited to max_open")
	}

	if d.ConnectionTimeout < 0 {
		result.fail("database.connection_timeout", "connection_timeout cannot be negative", "")
	}
	if d.ConnectionRetryInterval < 0 {
		result.fail("database.connection_retry_interval", "connection_retry_interval cannot be negative", "")
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval == 0 {
		result.fail("database.connection_retry_interval",
			"connection_retry_interval must be greater than 0 when connection_timeout is set",
			"set a retry interval such as 2s, or set connection_timeout to 0 to disable retries")
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval > d.ConnectionTimeout {
		result.warn("database.connection_retry_interval", "connection_retry_interval is greater than connection_timeout", "only one connection attempt will be made")
	}
}

func (t *DatabaseTLSConfig) validate(result *ValidationResult) {
	switch t.Mode {
	case "", "off", "skip-verify", "verify-ca", "verify-full":
	default:
		result.fail("database.tls.mode", fmt.Sprintf("invalid TLS mode %q", t.Mode), "valid values are: off, skip-verify, verify-ca, verify-full")
	}

	if (t.Mode == "verify-ca" || t.Mode == "verify-full") && t.resolveCAFile() == "" {
		result.fail("database.tls.ca_file", "CA file is required for verify-ca and verify-full modes", "set ca_file or ca_file_env to specify the CA certificate")
	}
	if (t.resolveCertFile() == "") != (t.resolveKeyFile() == "") {
		result.fail("database.tls.cert_file", "both cert_file and key_file must be specified for client certificate authentication", "provide both cert_file and key_file, or neither")
	}
	if t.Mode == "skip-verify" {
		result.warn("database.tls.mode", "skip-verify mode does not verify server certificates", "use verify-ca or verify-full in production")
	}
}

func (e *EngineConfig) validate(result *ValidationResult) {
	if _, err := materialize.ParseAutoMappingBehavior(e.AutoMappingBehavior); err != nil {
		result.fail("engine.auto_mapping_behavior", err.Error(), "")
	}
	unknown, err := materialize.ParseUnknownColumnBehavior(e.UnknownColumnBehavior)
	if err != nil {
		result.fail("engine.unknown_column_behavior", err.Error(), "")
	}
	if _, err := executor.ParseLocalCacheScope(e.LocalCacheScope); err != nil {
		result.fail("engine.local_cache_scope", err.Error(), "")
	}
	if unknown != materialize.UnknownColumnNone && strings.EqualFold(strings.TrimSpace(e.AutoMappingBehavior), "none") {
		result.warn("engine.unknown_column_behavior", "unknown columns are only reported while automapping", "set auto_mapping_behavior to partial or full")
	}
}

func (m *MappingsConfig) validate(result *ValidationResult) {
	if strings.TrimSpace(m.File) == "" {
		result.fail("mappings.file", "mapping definition file is required", "")
	}
}

func (r *RunConfig) validate(result *ValidationResult) {
	if r.Offset < 0 {
		result.fail("run.offset", "offset cannot be negative", "")
	}
	if r.Limit < 0 {
		result.fail("run.limit", "limit cannot be negative", "use 0 for no limit")
	}
	if r.Timeout < 0 {
		result.fail("run.timeout", "timeout cannot be negative", "")
	}
	switch r.Output {
	case OutputSpew, OutputJSON:
	default:
		result.fail("run.output", fmt.Sprintf("invalid output format %q", r.Output), "valid values are: spew, json")
	}
	if r.Param != "" && len(r.Params) > 0 {
		result.warn("run.param", "param is ignored when params is set", "")
	}
	if r.MetricsListen != "" {
		if _, _, err := net.SplitHostPort(r.MetricsListen); err != nil {
			result.fail("run.metrics_listen", fmt.Sprintf("invalid listen address %q", r.MetricsListen), "use host:port or :port")
		}
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	switch o.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		result.fail("observability.logging.level", fmt.Sprintf("invalid log level %q", o.Logging.Level), "valid values are: debug, info, warn, error")
	}
	switch o.Logging.Format {
	case "json", "text":
	default:
		result.fail("observability.logging.format", fmt.Sprintf("invalid log format %q", o.Logging.Format), "valid values are: json, text")
	}
	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.fail("observability.trace_sample_ratio", fmt.Sprintf("trace_sample_ratio %v is outside 0.0-1.0", o.TraceSampleRatio), "")
	}

	o.OTLP.validate("observability.otlp", result)
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
	if o.Metrics != nil {
		o.Metrics.validate("observability.metrics", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	switch o.Protocol {
	case "", "grpc":
	case "http/protobuf":
		if !validOTLPEndpoint(o.Endpoint) {
			result.fail(prefix+".endpoint", fmt.Sprintf("invalid OTLP endpoint %q for http/protobuf", o.Endpoint), "use host:port or a full URL")
		}
	default:
		result.fail(prefix+".protocol", fmt.Sprintf("invalid OTLP protocol %q", o.Protocol), "valid values are: grpc, http/protobuf")
	}

	switch o.Compression {
	case "", "none", "gzip":
	default:
		result.fail(prefix+".compression", fmt.Sprintf("invalid OTLP compression %q", o.Compression), "valid values are: none, gzip")
	}

	if o.RetryMaxAttempts < 0 {
		result.fail(prefix+".retry_max_attempts", "retry_max_attempts cannot be negative", "")
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
