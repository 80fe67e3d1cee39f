package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"rowgraph/internal/sqlutil"
)

// tlsConfigName is the name used to register custom TLS configs with the MySQL driver.
const tlsConfigName = "rowgraph-custom"

// DriverName returns the database/sql driver name registered for Driver.
func (d *DatabaseConfig) DriverName() string {
	switch d.driver() {
	case DriverPostgres:
		return "pgx"
	case DriverSQLServer:
		return "sqlserver"
	case DriverSQLite:
		return "sqlite"
	}
	return "mysql"
}

// Dialect returns the SQL dialect of Driver.
func (d *DatabaseConfig) Dialect() sqlutil.Dialect {
	return sqlutil.DialectForDriver(d.DriverName())
}

func (d *DatabaseConfig) driver() string {
	driver := strings.ToLower(strings.TrimSpace(d.Driver))
	if driver == "" {
		return DriverMySQL
	}
	return driver
}

// DefaultPort returns the conventional port of Driver, or 0 for sqlite.
func (d *DatabaseConfig) DefaultPort() int {
	switch d.driver() {
	case DriverPostgres:
		return 5432
	case DriverSQLServer:
		return 1433
	case DriverSQLite:
		return 0
	}
	return 3306
}

func (d *DatabaseConfig) address() string {
	port := d.Port
	if port == 0 {
		port = d.DefaultPort()
	}
	return net.JoinHostPort(d.Host, strconv.Itoa(port))
}

// DSN returns the data source name for Driver. ConnectionString is used as is
// apart from the MySQL time parameters and the TLS parameter.
func (d *DatabaseConfig) DSN() string {
	switch d.driver() {
	case DriverPostgres:
		if d.ConnectionString != "" {
			return d.ConnectionString
		}
		return d.postgresDSN()
	case DriverSQLServer:
		if d.ConnectionString != "" {
			return d.ConnectionString
		}
		return d.sqlServerDSN()
	case DriverSQLite:
		if d.ConnectionString != "" {
			return d.ConnectionString
		}
		return d.Database
	}
	return d.mysqlDSN()
}

func (d *DatabaseConfig) mysqlDSN() string {
	var dsn string
	if d.ConnectionString != "" {
		dsn = d.ConnectionString
		if !strings.Contains(dsn, "parseTime") {
			if strings.Contains(dsn, "?") {
				dsn += "&parseTime=true"
			} else {
				dsn += "?parseTime=true"
			}
		}
		if !strings.Contains(dsn, "loc=") {
			dsn += "&loc=UTC"
		}
	} else {
		dsn = fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true&loc=UTC",
			d.User, d.Password, d.address(), d.Database)
	}

	if param := d.mysqlTLSParam(); param != "" && !strings.Contains(dsn, "tls=") {
		dsn += "&tls=" + param
	}
	return dsn
}

func (d *DatabaseConfig) postgresDSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   d.address(),
		Path:   "/" + d.Database,
	}
	q := url.Values{}
	switch d.TLS.Mode {
	case "off":
		q.Set("sslmode", "disable")
	case "skip-verify":
		q.Set("sslmode", "require")
	case "verify-ca", "verify-full":
		q.Set("sslmode", d.TLS.Mode)
	}
	if ca := d.TLS.resolveCAFile(); ca != "" {
		q.Set("sslrootcert", ca)
	}
	if cert := d.TLS.resolveCertFile(); cert != "" {
		q.Set("sslcert", cert)
	}
	if key := d.TLS.resolveKeyFile(); key != "" {
		q.Set("sslkey", key)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (d *DatabaseConfig) sqlServerDSN() string {
	u := url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(d.User, d.Password),
		Host:   d.address(),
	}
	q := url.Values{}
	if d.Database != "" {
		q.Set("database", d.Database)
	}
	switch d.TLS.Mode {
	case "off":
		q.Set("encrypt", "disable")
	case "skip-verify":
		q.Set("encrypt", "true")
		q.Set("TrustServerCertificate", "true")
	case "verify-ca", "verify-full":
		q.Set("encrypt", "true")
		if ca := d.TLS.resolveCAFile(); ca != "" {
			q.Set("certificate", ca)
		}
		if d.TLS.Mode == "verify-full" && d.TLS.ServerName != "" {
			q.Set("hostNameInCertificate", d.TLS.ServerName)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// mysqlTLSParam returns the tls DSN parameter, naming the registered config
// for the verifying modes.
func (d *DatabaseConfig) mysqlTLSParam() string {
	switch d.TLS.Mode {
	case "":
		return ""
	case "off":
		return "false"
	case "skip-verify":
		return "skip-verify"
	case "verify-ca", "verify-full":
		return tlsConfigName
	}
	return d.TLS.Mode
}

// RegisterTLS registers a custom TLS configuration with the MySQL driver.
// It must run before the connection opens. Other drivers read their TLS
// settings from the DSN, so it does nothing for them.
func (d *DatabaseConfig) RegisterTLS() error {
	if d.driver() != DriverMySQL {
		return nil
	}
	if d.TLS.Mode != "verify-ca" && d.TLS.Mode != "verify-full" {
		return nil
	}

	tlsCfg, err := d.buildTLSConfig()
	if err != nil {
		return fmt.Errorf("failed to build TLS config: %w", err)
	}
	if err := mysql.RegisterTLSConfig(tlsConfigName, tlsCfg); err != nil {
		return fmt.Errorf("failed to register TLS config: %w", err)
	}
	return nil
}

func (d *DatabaseConfig) buildTLSConfig() (*tls.Config, error) {
	tlsCfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	caFile := d.TLS.resolveCAFile()
	certFile := d.TLS.resolveCertFile()
	keyFile := d.TLS.resolveKeyFile()

	if caFile != "" {
		caCert, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file %q: %w", caFile, err)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate from %q", caFile)
		}
		tlsCfg.RootCAs = certPool
	}

	switch {
	case certFile != "" && keyFile != "":
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	case certFile != "" || keyFile != "":
		return nil, fmt.Errorf("both cert_file and key_file must be specified for client certificate authentication")
	}

	if d.TLS.Mode == "verify-full" && d.TLS.ServerName != "" {
		tlsCfg.ServerName = d.TLS.ServerName
	}
	return tlsCfg, nil
}

func fromEnv(envName, fallback string) string {
	if envName != "" {
		if path := os.Getenv(envName); path != "" {
			return path
		}
	}
	return fallback
}

func (t *DatabaseTLSConfig) resolveCAFile() string   { return fromEnv(t.CAFileEnv, t.CAFile) }
func (t *DatabaseTLSConfig) resolveCertFile() string { return fromEnv(t.CertFileEnv, t.CertFile) }
func (t *DatabaseTLSConfig) resolveKeyFile() string  { return fromEnv(t.KeyFileEnv, t.KeyFile) }
