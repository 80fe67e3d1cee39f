// Package rowsource abstracts the tabular input of the materializer: a forward
// cursor over rows with column names, column type names and raw values.
package rowsource

import (
	"context"
	"errors"
)

// Column describes one column of the current result set.
type Column struct {
	Name     string
	TypeName string
}

// Source is a forward-only row cursor. Value reads the current row after a
// successful Next. Close must be safe to call more than once.
type Source interface {
	Columns() []Column
	Next(ctx context.Context) (bool, error)
	Value(i int) any
	Close() error
	Closed() bool
}

// Positioner is implemented by scrollable sources.
type Positioner interface {
	// Absolute positions the cursor before row n (zero based) so that the next
	// call to Next reads row n. It reports false when n is past the end.
	Absolute(ctx context.Context, n int) (bool, error)
}

// Multi is implemented by sources carrying several result sets.
type Multi interface {
	NextResultSet(ctx context.Context) (bool, error)
}

// ErrClosed is returned when reading from a closed source.
var ErrClosed = errors.New("row source is closed")

// Names returns the column names in order.
func Names(cols []Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}
