package rowsource

import (
	"context"
	"fmt"
	"sync"

	"rowgraph/internal/dbexec"
)

// SQL adapts database rows to a Source. Values are scanned into untyped
// destinations so the driver's native representation reaches the type handlers.
type SQL struct {
	rows    dbexec.Rows
	columns []Column
	values  []any
	dest    []any
	closed  bool
	once    sync.Once
}

// FromRows wraps rows positioned on their first result set.
func FromRows(rows dbexec.Rows) (*SQL, error) {
	s := &SQL{rows: rows}
	if err := s.loadColumns(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQL) loadColumns() error {
	names, err := s.rows.Columns()
	if err != nil {
		return fmt.Errorf("failed to read columns: %w", err)
	}
	cols := make([]Column, len(names))
	for i, name := range names {
		cols[i] = Column{Name: name}
	}
	// Some drivers cannot report types for every statement; names are enough to map rows.
	if types, err := s.rows.ColumnTypes(); err == nil && len(types) == len(cols) {
		for i, ct := range types {
			if ct != nil {
				cols[i].TypeName = ct.DatabaseTypeName()
			}
		}
	}
	s.columns = cols
	s.values = make([]any, len(cols))
	s.dest = make([]any, len(cols))
	for i := range s.values {
		s.dest[i] = &s.values[i]
	}
	return nil
}

func (s *SQL) Columns() []Column {
	return s.columns
}

func (s *SQL) Next(ctx context.Context) (bool, error) {
	if s.closed {
		return false, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !s.rows.Next() {
		return false, s.rows.Err()
	}
	for i := range s.values {
		s.values[i] = nil
	}
	if err := s.rows.Scan(s.dest...); err != nil {
		return false, fmt.Errorf("failed to scan row: %w", err)
	}
	return true, nil
}

func (s *SQL) Value(i int) any {
	if i < 0 || i >= len(s.values) {
		return nil
	}
	return s.values[i]
}

// NextResultSet advances to the next result set and reloads its columns.
func (s *SQL) NextResultSet(ctx context.Context) (bool, error) {
	if s.closed {
		return false, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !s.rows.NextResultSet() {
		return false, s.rows.Err()
	}
	if err := s.loadColumns(); err != nil {
		return false, err
	}
	return true, nil
}

// Close releases the rows once; later calls return nil.
func (s *SQL) Close() error {
	var err error
	s.once.Do(func() {
		s.closed = true
		err = s.rows.Close()
	})
	return err
}

func (s *SQL) Closed() bool {
	return s.closed
}
