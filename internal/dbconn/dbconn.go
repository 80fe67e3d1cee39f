// Package dbconn opens the configured database through database/sql, with
// optional OpenTelemetry instrumentation, and waits for it to answer.
package dbconn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/XSAM/otelsql"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	// Drivers selectable through database.driver.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"

	"rowgraph/internal/config"
	"rowgraph/internal/dbexec"
	"rowgraph/internal/logging"
	"rowgraph/internal/sqlutil"
)

const maxRetryInterval = 30 * time.Second

// Instrumentation selects what otelsql records.
type Instrumentation struct {
	Metrics      bool
	Tracing      bool
	SQLCommenter bool
}

// Connection is an open pool plus the executor statements run through.
type Connection struct {
	DB      *sql.DB
	Dialect sqlutil.Dialect
	Exec    dbexec.QueryExecutor

	stats interface{ Unregister() error }
}

// Open opens, configures and pings the database. The pool is closed again
// when the database never becomes available.
func Open(ctx context.Context, cfg config.DatabaseConfig, inst Instrumentation, logger *logging.Logger) (*Connection, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if err := cfg.RegisterTLS(); err != nil {
		return nil, fmt.Errorf("failed to register database TLS config: %w", err)
	}

	conn := &Connection{Dialect: cfg.Dialect()}
	db, stats, err := open(cfg, inst, logger)
	if err != nil {
		return nil, err
	}
	conn.DB, conn.stats = db, stats

	db.SetMaxOpenConns(cfg.Pool.MaxOpen)
	db.SetMaxIdleConns(cfg.Pool.MaxIdle)
	db.SetConnMaxLifetime(cfg.Pool.MaxLifetime)

	if err := waitForDatabase(ctx, cfg, logger, db); err != nil {
		return nil, errors.Join(err, conn.Close())
	}

	conn.Exec = executorFor(cfg, db, conn.Dialect)
	logger.Info("connected to database",
		slog.String("driver", cfg.DriverName()),
		slog.String("dialect", conn.Dialect.String()),
		slog.Bool("dsn_present", cfg.ConnectionString != ""),
		slog.Int("pool_max_open", cfg.Pool.MaxOpen),
		slog.Int("pool_max_idle", cfg.Pool.MaxIdle),
		slog.Duration("pool_max_lifetime", cfg.Pool.MaxLifetime),
	)
	return conn, nil
}

// Close unregisters the pool metrics and closes the pool.
func (c *Connection) Close() error {
	var errs []error
	if c.stats != nil {
		errs = append(errs, c.stats.Unregister())
		c.stats = nil
	}
	if c.DB != nil {
		errs = append(errs, c.DB.Close())
	}
	return errors.Join(errs...)
}

func dbSystem(d sqlutil.Dialect) attribute.KeyValue {
	switch d {
	case sqlutil.Postgres:
		return semconv.DBSystemKey.String("postgresql")
	case sqlutil.SQLServer:
		return semconv.DBSystemKey.String("mssql")
	case sqlutil.SQLite:
		return semconv.DBSystemKey.String("sqlite")
	}
	return semconv.DBSystemMySQL
}

func open(cfg config.DatabaseConfig, inst Instrumentation, logger *logging.Logger) (*sql.DB, interface{ Unregister() error }, error) {
	driver, dsn := cfg.DriverName(), cfg.DSN()
	if !inst.Metrics && !inst.Tracing {
		db, err := sql.Open(driver, dsn)
		return db, nil, err
	}

	system := dbSystem(cfg.Dialect())
	opts := []otelsql.Option{otelsql.WithAttributes(system)}
	if inst.Tracing {
		opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}))
	}
	switch {
	case inst.SQLCommenter && inst.Tracing:
		opts = append(opts, otelsql.WithSQLCommenter(true))
		logger.Info("SQLCommenter enabled - trace context will be injected into SQL queries")
	case inst.SQLCommenter:
		logger.Warn("SQLCommenter requires tracing to be enabled - skipping SQLCommenter")
	}

	db, err := otelsql.Open(driver, dsn, opts...)
	if err != nil {
		return nil, nil, err
	}

	var stats interface{ Unregister() error }
	if inst.Metrics {
		reg, err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(system))
		if err != nil {
			logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
		} else {
			stats = reg
		}
	}
	logger.Info("database instrumentation enabled",
		slog.Bool("metrics", inst.Metrics),
		slog.Bool("tracing", inst.Tracing),
		slog.Bool("sqlcommenter", inst.SQLCommenter && inst.Tracing),
	)
	return db, stats, nil
}

// executorFor pins statements to a prepared connection when the session
// section asks for a schema or init/reset statements.
func executorFor(cfg config.DatabaseConfig, db *sql.DB, dialect sqlutil.Dialect) dbexec.QueryExecutor {
	s := cfg.Session
	if s.Schema == "" && len(s.Init) == 0 && len(s.Reset) == 0 {
		return dbexec.NewPoolExecutor(db)
	}
	return dbexec.NewSessionExecutor(dbexec.SessionExecutorConfig{
		DB:      db,
		Dialect: dialect,
		Schema:  s.Schema,
		Init:    s.Init,
		Reset:   s.Reset,
	})
}

// waitForDatabase pings until the database answers. A zero timeout pings once.
// The retry interval doubles after every failure, capped at thirty seconds.
func waitForDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *logging.Logger, db *sql.DB) error {
	timeout := cfg.ConnectionTimeout
	interval := cfg.ConnectionRetryInterval

	if timeout == 0 {
		return db.PingContext(ctx)
	}

	deadline := time.Now().Add(timeout)
	for attempt := 1; ; attempt++ {
		err := db.PingContext(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("database connection established", slog.Int("attempts", attempt))
			}
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("database not available after %v: %w", timeout, err)
		}

		logger.Warn("database not ready, retrying...",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		interval = min(interval*2, maxRetryInterval)
	}
}
