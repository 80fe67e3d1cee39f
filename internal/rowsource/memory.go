package rowsource

import (
	"context"
	"fmt"
)

// Table is one in-memory result set.
type Table struct {
	Columns []Column
	Rows    [][]any
}

// NewTable builds a result set whose columns have no type names.
func NewTable(columns []string, rows ...[]any) Table {
	cols := make([]Column, len(columns))
	for i, name := range columns {
		cols[i] = Column{Name: name}
	}
	return Table{Columns: cols, Rows: rows}
}

// Memory is a scrollable, multi-result-set Source over in-memory tables.
type Memory struct {
	tables []Table
	table  int
	row    int
	closed bool
	closes int
}

// NewMemory returns a source positioned before the first row of the first table.
func NewMemory(tables ...Table) *Memory {
	return &Memory{tables: tables, row: -1}
}

func (m *Memory) current() *Table {
	if m.table >= len(m.tables) {
		return nil
	}
	return &m.tables[m.table]
}

func (m *Memory) Columns() []Column {
	if t := m.current(); t != nil {
		return t.Columns
	}
	return nil
}

func (m *Memory) Next(ctx context.Context) (bool, error) {
	if m.closed {
		return false, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	t := m.current()
	if t == nil {
		return false, nil
	}
	if m.row+1 >= len(t.Rows) {
		m.row = len(t.Rows)
		return false, nil
	}
	m.row++
	return true, nil
}

func (m *Memory) Value(i int) any {
	t := m.current()
	if t == nil || m.row < 0 || m.row >= len(t.Rows) {
		return nil
	}
	row := t.Rows[m.row]
	if i < 0 || i >= len(row) {
		return nil
	}
	return row[i]
}

// Absolute positions before row n of the current table.
func (m *Memory) Absolute(_ context.Context, n int) (bool, error) {
	if m.closed {
		return false, ErrClosed
	}
	t := m.current()
	if t == nil {
		return false, nil
	}
	if n < 0 {
		return false, fmt.Errorf("invalid row position %d", n)
	}
	if n >= len(t.Rows) {
		m.row = len(t.Rows)
		return false, nil
	}
	m.row = n - 1
	return true, nil
}

func (m *Memory) NextResultSet(context.Context) (bool, error) {
	if m.closed {
		return false, ErrClosed
	}
	if m.table >= len(m.tables) {
		return false, nil
	}
	m.table++
	m.row = -1
	return m.table < len(m.tables), nil
}

func (m *Memory) Close() error {
	m.closes++
	m.closed = true
	return nil
}

func (m *Memory) Closed() bool {
	return m.closed
}

// CloseCount reports how many times Close was called.
func (m *Memory) CloseCount() int {
	return m.closes
}

type forwardOnly struct {
	Source
}

// ForwardOnly hides any positioning or result-set capabilities of src.
func ForwardOnly(src Source) Source {
	return forwardOnly{Source: src}
}
