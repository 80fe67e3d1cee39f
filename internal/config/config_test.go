package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rowgraph/internal/executor"
	"rowgraph/internal/materialize"
	"rowgraph/internal/sqlutil"
)

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "mysql discrete fields",
			config: DatabaseConfig{
				Host:     "localhost",
				Port:     4000,
				User:     "root",
				Password: "password",
				Database: "test",
			},
			expected: "root:password@tcp(localhost:4000)/test?parseTime=true&loc=UTC",
		},
		{
			name: "mysql default port",
			config: DatabaseConfig{
				Driver:   DriverMySQL,
				Host:     "db.example.com",
				User:     "admin",
				Password: "p@ss:w0rd!",
				Database: "mydb",
			},
			expected: "admin:p@ss:w0rd!@tcp(db.example.com:3306)/mydb?parseTime=true&loc=UTC",
		},
		{
			name: "mysql verifying TLS uses the registered config",
			config: DatabaseConfig{
				Host:     "localhost",
				Port:     3306,
				User:     "root",
				Database: "test",
				TLS:      DatabaseTLSConfig{Mode: "verify-ca", CAFile: "/ca.pem"},
			},
			expected: "root:@tcp(localhost:3306)/test?parseTime=true&loc=UTC&tls=rowgraph-custom",
		},
		{
			name:     "mysql connection string gains time parameters",
			config:   DatabaseConfig{ConnectionString: "u:p@tcp(h:1)/db"},
			expected: "u:p@tcp(h:1)/db?parseTime=true&loc=UTC",
		},
		{
			name: "postgres",
			config: DatabaseConfig{
				Driver:   DriverPostgres,
				Host:     "db",
				User:     "root",
				Password: "pw",
				Database: "app",
				TLS:      DatabaseTLSConfig{Mode: "off"},
			},
			expected: "postgres://root:pw@db:5432/app?sslmode=disable",
		},
		{
			name: "sqlserver",
			config: DatabaseConfig{
				Driver:   DriverSQLServer,
				Host:     "db",
				User:     "sa",
				Password: "pw",
				Database: "app",
				TLS:      DatabaseTLSConfig{Mode: "off"},
			},
			expected: "sqlserver://sa:pw@db:1433?database=app&encrypt=disable",
		},
		{
			name:     "sqlite",
			config:   DatabaseConfig{Driver: DriverSQLite, Database: ":memory:"},
			expected: ":memory:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

func TestDatabaseConfig_DriverName(t *testing.T) {
	tests := []struct {
		driver  string
		name    string
		dialect sqlutil.Dialect
	}{
		{"", "mysql", sqlutil.MySQL},
		{"MySQL", "mysql", sqlutil.MySQL},
		{"postgres", "pgx", sqlutil.Postgres},
		{"sqlserver", "sqlserver", sqlutil.SQLServer},
		{"sqlite", "sqlite", sqlutil.SQLite},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			d := DatabaseConfig{Driver: tt.driver}
			assert.Equal(t, tt.name, d.DriverName())
			assert.Equal(t, tt.dialect, d.Dialect())
		})
	}
}

func TestDatabaseConfig_RegisterTLS(t *testing.T) {
	d := DatabaseConfig{Driver: DriverPostgres, TLS: DatabaseTLSConfig{Mode: "verify-full"}}
	assert.NoError(t, d.RegisterTLS(), "non-mysql drivers take TLS from the DSN")

	d = DatabaseConfig{TLS: DatabaseTLSConfig{Mode: "verify-ca", CAFile: "/does/not/exist.pem"}}
	err := d.RegisterTLS()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read CA file")
}

func TestEngineConfig_Settings(t *testing.T) {
	e := EngineConfig{
		AutoMappingBehavior:      "full",
		UnknownColumnBehavior:    "warning",
		MapUnderscoreToCamelCase: true,
		LazyLoadingEnabled:       true,
		LocalCacheScope:          "statement",
	}
	s, err := e.Settings()
	require.NoError(t, err)
	assert.Equal(t, materialize.AutoMappingFull, s.AutoMappingBehavior)
	assert.Equal(t, materialize.UnknownColumnWarning, s.UnknownColumnBehavior)
	assert.True(t, s.MapUnderscoreToCamelCase)
	assert.True(t, s.LazyLoadingEnabled)

	scope, err := e.CacheScope()
	require.NoError(t, err)
	assert.Equal(t, executor.ScopeStatement, scope)

	e.AutoMappingBehavior = "sometimes"
	_, err = e.Settings()
	assert.Error(t, err)
}

func TestObservabilityConfig_SignalOverrides(t *testing.T) {
	o := ObservabilityConfig{
		OTLP: OTLPConfig{
			Endpoint: "collector:4317",
			Protocol: "grpc",
			Headers:  map[string]string{"a": "1"},
			Timeout:  10 * time.Second,
		},
		Traces: &OTLPConfig{
			Endpoint: "traces:4318",
			Protocol: "http/protobuf",
			Insecure: true,
			Headers:  map[string]string{"b": "2"},
		},
	}

	traces := o.GetTracesConfig()
	assert.Equal(t, "traces:4318", traces.Endpoint)
	assert.Equal(t, "http/protobuf", traces.Protocol)
	assert.True(t, traces.Insecure)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, traces.Headers)
	assert.Equal(t, 10*time.Second, traces.Timeout)

	assert.Equal(t, o.OTLP, o.GetLogsConfig())
	assert.Equal(t, o.OTLP, o.GetMetricsConfig())
}

func TestConfig_Validate(t *testing.T) {
	validConfig := func() *Config {
		return &Config{
			Database: DatabaseConfig{
				Driver:   DriverMySQL,
				Host:     "localhost",
				Port:     4000,
				User:     "root",
				Database: "test",
				TLS:      DatabaseTLSConfig{Mode: "off"},
				Pool:     PoolConfig{MaxOpen: 10, MaxIdle: 2},
			},
			Engine: EngineConfig{
				AutoMappingBehavior:   "partial",
				UnknownColumnBehavior: "none",
				LocalCacheScope:       "session",
			},
			Mappings: MappingsConfig{File: "mappings.yaml"},
			Run:      RunConfig{Output: OutputSpew},
			Observability: ObservabilityConfig{
				Logging: LoggingConfig{Level: "info", Format: "json"},
				OTLP:    OTLPConfig{Protocol: "grpc", Compression: "gzip"},
			},
		}
	}

	t.Run("valid config passes validation", func(t *testing.T) {
		result := validConfig().Validate()
		assert.False(t, result.HasErrors())
		assert.Empty(t, result.Errors)
		assert.Empty(t, result.Error())
	})

	errorCases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"database port high", func(c *Config) { c.Database.Port = 70000 }, "database.port"},
		{"missing host", func(c *Config) { c.Database.Host = "" }, "database.host"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }, "database.driver"},
		{"sqlite without path", func(c *Config) { c.Database.Driver = DriverSQLite; c.Database.Database = "" }, "database.database"},
		{"invalid TLS mode", func(c *Config) { c.Database.TLS.Mode = "invalid" }, "database.tls.mode"},
		{"verify-ca without CA", func(c *Config) { c.Database.TLS.Mode = "verify-ca" }, "database.tls.ca_file"},
		{"cert without key", func(c *Config) { c.Database.TLS.CertFile = "/cert.pem" }, "database.tls.cert_file"},
		{"negative pool", func(c *Config) { c.Database.Pool.MaxOpen = -1 }, "database.pool.max_open"},
		{"timeout without retry interval", func(c *Config) { c.Database.ConnectionTimeout = time.Second }, "database.connection_retry_interval"},
		{"auto mapping behavior", func(c *Config) { c.Engine.AutoMappingBehavior = "some" }, "engine.auto_mapping_behavior"},
		{"unknown column behavior", func(c *Config) { c.Engine.UnknownColumnBehavior = "explode" }, "engine.unknown_column_behavior"},
		{"cache scope", func(c *Config) { c.Engine.LocalCacheScope = "global" }, "engine.local_cache_scope"},
		{"missing mapping file", func(c *Config) { c.Mappings.File = " " }, "mappings.file"},
		{"negative offset", func(c *Config) { c.Run.Offset = -1 }, "run.offset"},
		{"negative limit", func(c *Config) { c.Run.Limit = -5 }, "run.limit"},
		{"output format", func(c *Config) { c.Run.Output = "xml" }, "run.output"},
		{"metrics listen", func(c *Config) { c.Run.MetricsListen = "9090" }, "run.metrics_listen"},
		{"log level", func(c *Config) { c.Observability.Logging.Level = "invalid" }, "observability.logging.level"},
		{"log format", func(c *Config) { c.Observability.Logging.Format = "xml" }, "observability.logging.format"},
		{"sample ratio", func(c *Config) { c.Observability.TraceSampleRatio = 1.5 }, "observability.trace_sample_ratio"},
		{"OTLP protocol", func(c *Config) { c.Observability.OTLP.Protocol = "http" }, "observability.otlp.protocol"},
		{"OTLP http endpoint", func(c *Config) {
			c.Observability.OTLP.Protocol = "http/protobuf"
			c.Observability.OTLP.Endpoint = "not a host"
		}, "observability.otlp.endpoint"},
		{"OTLP compression", func(c *Config) { c.Observability.OTLP.Compression = "zstd" }, "observability.otlp.compression"},
		{"traces override", func(c *Config) { c.Observability.Traces = &OTLPConfig{Protocol: "udp"} }, "observability.traces.protocol"},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			result := cfg.Validate()
			assert.True(t, result.HasErrors())
			assert.Contains(t, result.Error(), tc.field)
		})
	}

	t.Run("valid TLS modes", func(t *testing.T) {
		for _, mode := range []string{"", "off", "skip-verify", "verify-ca", "verify-full"} {
			cfg := validConfig()
			if mode == "verify-ca" || mode == "verify-full" {
				cfg.Database.TLS.CAFile = "/path/to/ca.pem"
			}
			cfg.Database.TLS.Mode = mode
			assert.False(t, cfg.Validate().HasErrors(), "TLS mode %q should be valid", mode)
		}
	})

	t.Run("CA file from env", func(t *testing.T) {
		t.Setenv("ROWGRAPH_TEST_CA", "/from/env.pem")
		cfg := validConfig()
		cfg.Database.TLS.Mode = "verify-full"
		cfg.Database.TLS.CAFileEnv = "ROWGRAPH_TEST_CA"
		assert.False(t, cfg.Validate().HasErrors())
	})

	warningCases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"skip-verify", func(c *Config) { c.Database.TLS.Mode = "skip-verify" }, "database.tls.mode"},
		{"idle above open", func(c *Config) { c.Database.Pool.MaxIdle = 20 }, "database.pool.max_idle"},
		{"unknown columns without automapping", func(c *Config) {
			c.Engine.AutoMappingBehavior = "none"
			c.Engine.UnknownColumnBehavior = "failing"
		}, "engine.unknown_column_behavior"},
		{"param with params", func(c *Config) {
			c.Run.Param = "1"
			c.Run.Params = map[string]string{"id": "1"}
		}, "run.param"},
	}
	for _, tc := range warningCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			result := cfg.Validate()
			assert.False(t, result.HasErrors())
			require.Len(t, result.Warnings, 1)
			assert.Equal(t, tc.field, result.Warnings[0].Field)
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	assert.Equal(t, "database.port: out of range", ValidationError{Field: "database.port", Message: "out of range"}.Error())
	assert.Equal(t, "run.output: bad (hint: use json)", ValidationError{Field: "run.output", Message: "bad", Hint: "use json"}.Error())
}
