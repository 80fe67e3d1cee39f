// Package dbexec is the seam between statement execution and database/sql.
// PoolExecutor hands each query to the connection pool; SessionExecutor pins
// a connection and runs per-connection setup on it first.
package dbexec

import (
	"context"
	"database/sql"
)

// Rows is the subset of *sql.Rows the row source reads from, so wrappers can
// release a pinned connection when the rows close.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
	Columns() ([]string, error)
	ColumnTypes() ([]*sql.ColumnType, error)
	NextResultSet() bool
}

// QueryExecutor runs the SQL produced for a mapped statement.
type QueryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PoolExecutor runs every statement on whichever pooled connection is free.
type PoolExecutor struct {
	db *sql.DB
}

// NewPoolExecutor wraps db. A nil db fails every call with sql.ErrConnDone.
func NewPoolExecutor(db *sql.DB) *PoolExecutor {
	return &PoolExecutor{db: db}
}

func (e *PoolExecutor) pool() (*sql.DB, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	return e.db, nil
}

func (e *PoolExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	db, err := e.pool()
	if err != nil {
		return nil, err
	}
	return db.QueryContext(ctx, query, args...)
}

func (e *PoolExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	db, err := e.pool()
	if err != nil {
		return nil, err
	}
	return db.ExecContext(ctx, query, args...)
}
