package config

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"syscall"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// EnvPrefix prefixes every environment variable, e.g. ROWGRAPH_DATABASE_HOST.
const EnvPrefix = "ROWGRAPH"

// Load loads configuration from multiple sources with the following precedence:
// 1. Explicit overrides (v.Set) – used only for secrets read from files or a prompt
// 2. Command line flags
// 3. Environment variables
// 4. Config file
// 5. Default values
//
// A first positional argument names the statement to run when run.statement
// is not set.
func Load(args []string) (*Config, error) {
	fs := NewFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return FromFlags(fs)
}

// FromFlags loads configuration using an already parsed flag set built by
// NewFlagSet.
func FromFlags(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	cfgPath, _ := fs.GetString("config")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("rowgraph")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/rowgraph/")
		v.AddConfigPath("$HOME/.rowgraph")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if cfgPath != "" {
			return nil, fmt.Errorf("failed to read config file %q: %w", cfgPath, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Canonical keys are dot + snake_case; env vars replace the dots.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	bindChangedFlagsToViper(fs, v)
	if v.GetString("run.statement") == "" && fs.NArg() > 0 {
		v.Set("run.statement", fs.Arg(0))
	}

	if err := validateSingleStdinFileSource(v); err != nil {
		return nil, err
	}
	if v.GetString("database.dsn") == "" && v.GetString("database.dsn_file") != "" {
		dsn, err := readSecretFile(v.GetString("database.dsn_file"))
		if err != nil {
			return nil, fmt.Errorf("failed to read database DSN file: %w", err)
		}
		v.Set("database.dsn", dsn)
	}
	if v.GetString("database.password") == "" && v.GetString("database.password_file") != "" {
		pwd, err := readSecretFile(v.GetString("database.password_file"))
		if err != nil {
			return nil, fmt.Errorf("failed to read database password file: %w", err)
		}
		v.Set("database.password", pwd)
	}
	if v.GetString("database.password") == "" && v.GetBool("database.password_prompt") {
		pwd, err := promptPassword()
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		v.Set("database.password", pwd)
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.UnmarshalExact(
		&cfg,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				stringToStringSliceHookFunc(","),
			),
		),
	); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// bindChangedFlagsToViper copies only explicitly-set flags into Viper,
// preserving precedence: flags > env > file > defaults.
func bindChangedFlagsToViper(fs *pflag.FlagSet, v *viper.Viper) {
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "version" {
			return
		}

		switch f.Value.Type() {
		case "string":
			val, _ := fs.GetString(f.Name)
			v.Set(f.Name, val)
		case "int":
			val, _ := fs.GetInt(f.Name)
			v.Set(f.Name, val)
		case "bool":
			val, _ := fs.GetBool(f.Name)
			v.Set(f.Name, val)
		case "float64":
			val, _ := fs.GetFloat64(f.Name)
			v.Set(f.Name, val)
		case "duration":
			val, _ := fs.GetDuration(f.Name)
			v.Set(f.Name, val)
		case "stringSlice":
			val, _ := fs.GetStringSlice(f.Name)
			v.Set(f.Name, val)
		case "stringToString":
			val, _ := fs.GetStringToString(f.Name)
			v.Set(f.Name, val)
		default:
			v.Set(f.Name, f.Value.String())
		}
	})
}

// NewFlagSet defines every command line flag using canonical snake_case keys.
func NewFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("rowgraph", pflag.ContinueOnError)

	fs.String("database.driver", "", "Database driver (mysql, postgres, sqlserver, sqlite)")
	fs.String("database.dsn", "", "Complete driver-specific DSN")
	fs.String("database.dsn_file", "", "Path to file containing database DSN (use @- for stdin)")
	fs.String("database.host", "", "Database host")
	fs.Int("database.port", 0, "Database port (0 = driver default)")
	fs.String("database.user", "", "Database user")
	fs.String("database.password", "", "Database password")
	fs.String("database.password_file", "", "Path to file containing database password (use @- for stdin)")
	fs.Bool("database.password_prompt", false, "Prompt for database password securely")
	fs.String("database.database", "", "Database name (file path for sqlite)")

	fs.String("database.tls.mode", "", "TLS mode (off, skip-verify, verify-ca, verify-full)")
	fs.String("database.tls.ca_file", "", "Path to CA certificate for server verification")
	fs.String("database.tls.ca_file_env", "", "Env var containing CA certificate path")
	fs.String("database.tls.cert_file", "", "Path to client certificate for mTLS")
	fs.String("database.tls.cert_file_env", "", "Env var containing client certificate path")
	fs.String("database.tls.key_file", "", "Path to client private key for mTLS")
	fs.String("database.tls.key_file_env", "", "Env var containing client key path")
	fs.String("database.tls.server_name", "", "Override TLS server name for verification")

	fs.Int("database.pool.max_open", 0, "Maximum open database connections")
	fs.Int("database.pool.max_idle", 0, "Maximum idle connections in pool")
	fs.Duration("database.pool.max_lifetime", 0, "Connection max lifetime (e.g. 5m, 30s)")
	fs.Duration("database.connection_timeout", 0, "Max time to wait for database on startup (0 = fail immediately)")
	fs.Duration("database.connection_retry_interval", 0, "Initial interval between connection retries")
	fs.String("database.session.schema", "", "Schema selected on each connection before a statement")
	fs.StringSlice("database.session.init", nil, "Statements run on each connection before a statement")
	fs.StringSlice("database.session.reset", nil, "Statements run before a connection returns to the pool")

	fs.String("engine.auto_mapping_behavior", "", "Automapping of unmapped columns (none, partial, full)")
	fs.String("engine.unknown_column_behavior", "", "Automapped columns with no property (none, warning, failing)")
	fs.Bool("engine.return_instance_for_empty_row", false, "Return an empty object for rows whose columns are all null")
	fs.Bool("engine.call_setters_on_nulls", false, "Assign nil for null columns")
	fs.Bool("engine.map_underscore_to_camel_case", false, "Match snake_case columns to CamelCase properties")
	fs.Bool("engine.safe_row_bounds_enabled", false, "Reject row bounds on statements with nested mappings")
	fs.Bool("engine.safe_result_handler_enabled", false, "Reject custom sinks on unordered statements with nested mappings")
	fs.Bool("engine.lazy_loading_enabled", false, "Defer every nested query until first access")
	fs.String("engine.local_cache_scope", "", "Local cache scope (session, statement)")

	fs.String("mappings.file", "", "Path to the YAML mapping definitions")

	fs.String("run.statement", "", "Statement id to run")
	fs.String("run.param", "", "Scalar statement parameter")
	fs.StringToString("run.params", nil, "Map statement parameters (key=value, comma-separated or repeated)")
	fs.Int("run.offset", 0, "Number of objects to skip")
	fs.Int("run.limit", 0, "Maximum number of objects (0 = no limit)")
	fs.Bool("run.cursor", false, "Stream objects through a cursor")
	fs.String("run.output", "", "Output format (spew, json)")
	fs.Duration("run.timeout", 0, "Timeout for the whole run (0 = none)")
	fs.String("run.metrics_listen", "", "Address to serve /metrics on while running (e.g. :9090)")

	fs.String("observability.service_name", "", "Service name for observability")
	fs.String("observability.service_version", "", "Service version for observability")
	fs.String("observability.environment", "", "Environment name (dev, staging, prod)")
	fs.Bool("observability.metrics_enabled", false, "Enable metrics collection")
	fs.Bool("observability.tracing_enabled", false, "Enable distributed tracing")
	fs.Float64("observability.trace_sample_ratio", 0, "Trace sampling ratio from 0.0 to 1.0")
	fs.Bool("observability.sqlcommenter_enabled", false, "Inject trace context into SQL queries")

	fs.String("observability.logging.level", "", "Log level (debug, info, warn, error)")
	fs.String("observability.logging.format", "", "Log format (json, text)")
	fs.Bool("observability.logging.exports_enabled", false, "Enable OTLP log export")

	fs.String("observability.otlp.endpoint", "", "OTLP endpoint for all signals (e.g., localhost:4317)")
	fs.String("observability.otlp.protocol", "", "OTLP protocol for all signals (grpc, http/protobuf)")
	fs.Bool("observability.otlp.insecure", false, "Use insecure connection (no TLS)")
	fs.String("observability.otlp.tls_cert_file", "", "Path to TLS certificate file for server verification")
	fs.String("observability.otlp.tls_client_cert_file", "", "Path to client certificate file for mTLS")
	fs.String("observability.otlp.tls_client_key_file", "", "Path to client key file for mTLS")
	fs.Duration("observability.otlp.timeout", 0, "OTLP export timeout")
	fs.String("observability.otlp.compression", "", "OTLP compression (none, gzip)")
	fs.Bool("observability.otlp.retry_enabled", false, "Enable retry on transient errors")
	fs.Int("observability.otlp.retry_max_attempts", 0, "Maximum retry attempts")

	fs.String("observability.traces.endpoint", "", "OTLP endpoint for traces only")
	fs.String("observability.traces.protocol", "", "OTLP protocol for traces (grpc, http/protobuf)")
	fs.Bool("observability.traces.insecure", false, "Use insecure connection for traces")
	fs.Duration("observability.traces.timeout", 0, "Timeout for trace exports")

	fs.String("observability.logs.endpoint", "", "OTLP endpoint for logs only")
	fs.String("observability.logs.protocol", "", "OTLP protocol for logs (grpc, http/protobuf)")
	fs.Bool("observability.logs.insecure", false, "Use insecure connection for logs")
	fs.Duration("observability.logs.timeout", 0, "Timeout for log exports")

	fs.StringP("config", "c", "", "Config file path")
	fs.Bool("version", false, "Print version and exit")
	return fs
}

// setDefaults sets default values (lowest precedence).
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", DriverMySQL)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.dsn_file", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.user", "rowgraph")
	v.SetDefault("database.password", "")
	v.SetDefault("database.password_file", "")
	v.SetDefault("database.password_prompt", false)
	v.SetDefault("database.database", "")

	v.SetDefault("database.tls.mode", "")
	v.SetDefault("database.tls.ca_file", "")
	v.SetDefault("database.tls.ca_file_env", "")
	v.SetDefault("database.tls.cert_file", "")
	v.SetDefault("database.tls.cert_file_env", "")
	v.SetDefault("database.tls.key_file", "")
	v.SetDefault("database.tls.key_file_env", "")
	v.SetDefault("database.tls.server_name", "")

	v.SetDefault("database.pool.max_open", 10)
	v.SetDefault("database.pool.max_idle", 2)
	v.SetDefault("database.pool.max_lifetime", 5*time.Minute)
	v.SetDefault("database.connection_timeout", 30*time.Second)
	v.SetDefault("database.connection_retry_interval", 2*time.Second)
	v.SetDefault("database.session.schema", "")
	v.SetDefault("database.session.init", []string{})
	v.SetDefault("database.session.reset", []string{})

	v.SetDefault("engine.auto_mapping_behavior", "partial")
	v.SetDefault("engine.unknown_column_behavior", "none")
	v.SetDefault("engine.return_instance_for_empty_row", false)
	v.SetDefault("engine.call_setters_on_nulls", false)
	v.SetDefault("engine.map_underscore_to_camel_case", false)
	v.SetDefault("engine.safe_row_bounds_enabled", false)
	v.SetDefault("engine.safe_result_handler_enabled", true)
	v.SetDefault("engine.lazy_loading_enabled", false)
	v.SetDefault("engine.local_cache_scope", "session")

	v.SetDefault("mappings.file", "mappings.yaml")

	v.SetDefault("run.statement", "")
	v.SetDefault("run.param", "")
	v.SetDefault("run.params", map[string]string{})
	v.SetDefault("run.offset", 0)
	v.SetDefault("run.limit", 0)
	v.SetDefault("run.cursor", false)
	v.SetDefault("run.output", OutputSpew)
	v.SetDefault("run.timeout", time.Duration(0))
	v.SetDefault("run.metrics_listen", "")

	v.SetDefault("observability.service_name", "rowgraph")
	v.SetDefault("observability.service_version", "")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.tracing_enabled", false)
	v.SetDefault("observability.trace_sample_ratio", 1.0)
	v.SetDefault("observability.sqlcommenter_enabled", true)

	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "text")
	v.SetDefault("observability.logging.exports_enabled", false)

	v.SetDefault("observability.otlp.endpoint", "localhost:4317")
	v.SetDefault("observability.otlp.protocol", "grpc")
	v.SetDefault("observability.otlp.insecure", false)
	v.SetDefault("observability.otlp.tls_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_key_file", "")
	v.SetDefault("observability.otlp.timeout", 10*time.Second)
	v.SetDefault("observability.otlp.compression", "gzip")
	v.SetDefault("observability.otlp.retry_enabled", true)
	v.SetDefault("observability.otlp.retry_max_attempts", 3)
}

// promptPassword prompts the user for a password without echoing to terminal.
func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Enter database password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(bytePassword), nil
}

// readSecretFile reads a trimmed secret from path, or from stdin for "@-".
func readSecretFile(path string) (string, error) {
	var data []byte
	var err error

	if path == "@-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

var stdinBackedKeys = []string{
	"database.dsn_file",
	"database.password_file",
}

func validateSingleStdinFileSource(v *viper.Viper) error {
	var configured []string
	for _, key := range stdinBackedKeys {
		if strings.TrimSpace(v.GetString(key)) == "@-" {
			configured = append(configured, key)
		}
	}
	if len(configured) > 1 {
		return fmt.Errorf(
			"multiple stdin-backed file settings use @- (%s); only one @- source is allowed",
			strings.Join(configured, ", "),
		)
	}
	return nil
}

func stringToStringSliceHookFunc(sep string) mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]string{}) {
			return data, nil
		}

		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return []string{}, nil
		}

		parts := strings.Split(raw, sep)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
}
