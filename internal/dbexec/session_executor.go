package dbexec

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"rowgraph/internal/sqlutil"
)

// SessionExecutor runs every statement on a dedicated connection that is first
// switched to the configured schema and given the init statements. Reset
// statements run before the connection goes back to the pool.
type SessionExecutor struct {
	db      *sql.DB
	dialect sqlutil.Dialect
	schema  string
	init    []string
	reset   []string
}

// SessionExecutorConfig controls connection preparation.
type SessionExecutorConfig struct {
	DB      *sql.DB
	Dialect sqlutil.Dialect
	Schema  string
	Init    []string
	Reset   []string
}

// NewSessionExecutor creates an executor that prepares a connection per statement.
func NewSessionExecutor(cfg SessionExecutorConfig) *SessionExecutor {
	return &SessionExecutor{
		db:      cfg.DB,
		dialect: cfg.Dialect,
		schema:  cfg.Schema,
		init:    append([]string(nil), cfg.Init...),
		reset:   append([]string(nil), cfg.Reset...),
	}
}

func (e *SessionExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	conn, cleanup, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		cleanup()
		return nil, err
	}

	return &sessionRows{
		Rows:    rows,
		cleanup: cleanup,
	}, nil
}

func (e *SessionExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	conn, cleanup, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return conn.ExecContext(ctx, query, args...)
}

func (e *SessionExecutor) acquire(ctx context.Context) (*sql.Conn, func(), error) {
	if e.db == nil {
		return nil, nil, sql.ErrConnDone
	}
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	cleanup := func() {
		for _, stmt := range e.reset {
			_, _ = conn.ExecContext(context.Background(), stmt)
		}
		_ = conn.Close()
	}

	if err := e.useSchema(ctx, conn); err != nil {
		cleanup()
		return nil, nil, err
	}
	for _, stmt := range e.init {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to prepare connection with %q: %w", stmt, err)
		}
	}
	return conn, cleanup, nil
}

func (e *SessionExecutor) useSchema(ctx context.Context, conn *sql.Conn) error {
	if e.schema == "" {
		return nil
	}
	var useSQL string
	switch e.dialect {
	case sqlutil.Postgres:
		useSQL = fmt.Sprintf("SET search_path TO %s", e.dialect.QuoteIdentifier(e.schema))
	case sqlutil.SQLite:
		// SQLite has no per-connection schema switch; attached databases are addressed by name.
		return nil
	default:
		useSQL = fmt.Sprintf("USE %s", e.dialect.QuoteIdentifier(e.schema))
	}
	if _, err := conn.ExecContext(ctx, useSQL); err != nil {
		return fmt.Errorf("failed to select schema %s: %w", e.schema, err)
	}
	return nil
}

type sessionRows struct {
	*sql.Rows
	cleanup func()
	once    sync.Once
}

func (r *sessionRows) Close() error {
	defer r.once.Do(r.cleanup)
	return r.Rows.Close()
}
