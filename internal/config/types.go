package config

import (
	"time"
)

// Config holds the application configuration.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Engine        EngineConfig        `mapstructure:"engine"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Mappings      MappingsConfig      `mapstructure:"mappings"`
	Run           RunConfig           `mapstructure:"run"`
}

// Supported database drivers.
const (
	DriverMySQL     = "mysql"
	DriverPostgres  = "postgres"
	DriverSQLServer = "sqlserver"
	DriverSQLite    = "sqlite"
)

// PoolConfig holds connection pool parameters.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// DatabaseTLSConfig holds TLS/SSL configuration for database connections.
// Supports both server verification and client certificate authentication (mTLS).
type DatabaseTLSConfig struct {
	// Mode controls TLS behavior:
	//   - "off": No TLS (plaintext connection)
	//   - "skip-verify": TLS without server certificate verification (insecure)
	//   - "verify-ca": TLS with CA verification but no hostname check
	//   - "verify-full": TLS with full verification including hostname
	Mode string `mapstructure:"mode"`

	CAFile string `mapstructure:"ca_file"`
	// CAFileEnv names an environment variable holding the CA file path.
	CAFileEnv string `mapstructure:"ca_file_env"`

	CertFile    string `mapstructure:"cert_file"`
	CertFileEnv string `mapstructure:"cert_file_env"`

	KeyFile    string `mapstructure:"key_file"`
	KeyFileEnv string `mapstructure:"key_file_env"`

	// ServerName overrides the server name used for TLS verification.
	ServerName string `mapstructure:"server_name"`
}

// SessionConfig prepares every pooled connection before a statement runs on it.
type SessionConfig struct {
	// Schema is selected on the connection (USE, search_path) when set.
	Schema string   `mapstructure:"schema"`
	Init   []string `mapstructure:"init"`
	Reset  []string `mapstructure:"reset"`
}

// DatabaseConfig holds database connection parameters.
type DatabaseConfig struct {
	// Driver is one of mysql, postgres, sqlserver or sqlite.
	Driver string `mapstructure:"driver"`

	// ConnectionString is a complete driver-specific data source name.
	// When set, it overrides the discrete connection fields.
	ConnectionString string `mapstructure:"dsn"`
	// ConnectionStringFile is a path to a file containing the DSN.
	// Supports "@-" to read from stdin.
	ConnectionStringFile string `mapstructure:"dsn_file"`

	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	PasswordFile   string `mapstructure:"password_file"`
	PasswordPrompt bool   `mapstructure:"password_prompt"`
	// Database is the database name, or the file path for sqlite.
	Database string `mapstructure:"database"`

	TLS     DatabaseTLSConfig `mapstructure:"tls"`
	Pool    PoolConfig        `mapstructure:"pool"`
	Session SessionConfig     `mapstructure:"session"`

	// ConnectionTimeout is the max time to wait for the database on startup.
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	// ConnectionRetryInterval is the initial interval between connection retries.
	ConnectionRetryInterval time.Duration `mapstructure:"connection_retry_interval"`
}

// EngineConfig holds the materialization switches.
type EngineConfig struct {
	// AutoMappingBehavior is none, partial or full.
	AutoMappingBehavior string `mapstructure:"auto_mapping_behavior"`
	// UnknownColumnBehavior is none, warning or failing.
	UnknownColumnBehavior     string `mapstructure:"unknown_column_behavior"`
	ReturnInstanceForEmptyRow bool   `mapstructure:"return_instance_for_empty_row"`
	CallSettersOnNulls        bool   `mapstructure:"call_setters_on_nulls"`
	MapUnderscoreToCamelCase  bool   `mapstructure:"map_underscore_to_camel_case"`
	SafeRowBoundsEnabled      bool   `mapstructure:"safe_row_bounds_enabled"`
	SafeResultHandlerEnabled  bool   `mapstructure:"safe_result_handler_enabled"`
	LazyLoadingEnabled        bool   `mapstructure:"lazy_loading_enabled"`
	// LocalCacheScope is session or statement.
	LocalCacheScope string `mapstructure:"local_cache_scope"`
}

// MappingsConfig points at the mapping definition file.
type MappingsConfig struct {
	File string `mapstructure:"file"`
}

// Output formats for the run command.
const (
	OutputSpew = "spew"
	OutputJSON = "json"
)

// RunConfig selects the statement the command line tool runs.
type RunConfig struct {
	Statement string `mapstructure:"statement"`
	// Param is a single scalar parameter. Params builds a map parameter and
	// wins when both are set.
	Param   string            `mapstructure:"param"`
	Params  map[string]string `mapstructure:"params"`
	Offset  int               `mapstructure:"offset"`
	Limit   int               `mapstructure:"limit"`
	Cursor  bool              `mapstructure:"cursor"`
	Output  string            `mapstructure:"output"`
	Timeout time.Duration     `mapstructure:"timeout"`
	// MetricsListen serves /metrics while the statement runs when set.
	MetricsListen string `mapstructure:"metrics_listen"`
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`           // debug, info, warn, error
	Format         string `mapstructure:"format"`          // json, text
	ExportsEnabled bool   `mapstructure:"exports_enabled"` // Enable OTLP log export
}

// ObservabilityConfig holds observability parameters.
type ObservabilityConfig struct {
	ServiceName         string        `mapstructure:"service_name"`
	ServiceVersion      string        `mapstructure:"service_version"`
	Environment         string        `mapstructure:"environment"`
	MetricsEnabled      bool          `mapstructure:"metrics_enabled"`
	TracingEnabled      bool          `mapstructure:"tracing_enabled"`
	TraceSampleRatio    float64       `mapstructure:"trace_sample_ratio"`
	SQLCommenterEnabled bool          `mapstructure:"sqlcommenter_enabled"`
	Logging             LoggingConfig `mapstructure:"logging"`

	// OTLP holds the defaults shared by every signal.
	OTLP OTLPConfig `mapstructure:"otlp"`

	Traces  *OTLPConfig `mapstructure:"traces,omitempty"`
	Logs    *OTLPConfig `mapstructure:"logs,omitempty"`
	Metrics *OTLPConfig `mapstructure:"metrics,omitempty"`
}

// OTLPConfig holds OTLP exporter configuration
type OTLPConfig struct {
	Endpoint          string            `mapstructure:"endpoint"`
	Protocol          string            `mapstructure:"protocol"` // "grpc", "http/protobuf"
	Insecure          bool              `mapstructure:"insecure"`
	TLSCertFile       string            `mapstructure:"tls_cert_file"`
	TLSClientCertFile string            `mapstructure:"tls_client_cert_file"`
	TLSClientKeyFile  string            `mapstructure:"tls_client_key_file"`
	Headers           map[string]string `mapstructure:"headers"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Compression       string            `mapstructure:"compression"` // "none", "gzip"
	RetryEnabled      bool              `mapstructure:"retry_enabled"`
	RetryMaxAttempts  int               `mapstructure:"retry_max_attempts"`
}

// GetTracesConfig returns the effective OTLP config for traces
func (c *ObservabilityConfig) GetTracesConfig() OTLPConfig {
	return c.signal(c.Traces)
}

// GetLogsConfig returns the effective OTLP config for logs
func (c *ObservabilityConfig) GetLogsConfig() OTLPConfig {
	return c.signal(c.Logs)
}

// GetMetricsConfig returns the effective OTLP config for metrics
func (c *ObservabilityConfig) GetMetricsConfig() OTLPConfig {
	return c.signal(c.Metrics)
}

func (c *ObservabilityConfig) signal(override *OTLPConfig) OTLPConfig {
	if override == nil {
		return c.OTLP
	}
	return mergeOTLPConfigs(c.OTLP, *override)
}

// mergeOTLPConfigs lays the non-zero fields of override over base. Insecure
// always comes from the override since false cannot be told apart from unset.
func mergeOTLPConfigs(base OTLPConfig, override OTLPConfig) OTLPConfig {
	result := base
	result.Insecure = override.Insecure

	for _, f := range []struct {
		dst *string
		src string
	}{
		{&result.Endpoint, override.Endpoint},
		{&result.Protocol, override.Protocol},
		{&result.TLSCertFile, override.TLSCertFile},
		{&result.TLSClientCertFile, override.TLSClientCertFile},
		{&result.TLSClientKeyFile, override.TLSClientKeyFile},
		{&result.Compression, override.Compression},
	} {
		if f.src != "" {
			*f.dst = f.src
		}
	}

	if override.Headers != nil {
		result.Headers = make(map[string]string, len(base.Headers)+len(override.Headers))
		for k, v := range base.Headers {
			result.Headers[k] = v
		}
		for k, v := range override.Headers {
			result.Headers[k] = v
		}
	}
	if override.Timeout != 0 {
		result.Timeout = override.Timeout
	}
	if override.RetryMaxAttempts != 0 {
		result.RetryEnabled = override.RetryEnabled
		result.RetryMaxAttempts = override.RetryMaxAttempts
	}
	return result
}
